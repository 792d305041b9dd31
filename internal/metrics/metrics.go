// Package metrics exports frame timings to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame collects per-frame measurements. It satisfies frame.Observer.
type Frame struct {
	Frames      prometheus.Counter
	Recreations prometheus.Counter
	FrameTime   prometheus.Histogram
	FenceWait   prometheus.Histogram
	Bodies      prometheus.Gauge
	Speed       prometheus.Gauge
}

// frameBuckets span 0.25ms to about 1s.
var frameBuckets = prometheus.ExponentialBuckets(0.00025, 2, 13)

// NewFrame creates the collectors and registers them with reg.
func NewFrame(reg prometheus.Registerer) (*Frame, error) {
	f := &Frame{
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orrery_frames_total",
			Help: "Number of presented frames",
		}),
		Recreations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orrery_swapchain_recreations_total",
			Help: "Number of swapchain recreations",
		}),
		FrameTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orrery_frame_duration_seconds",
			Help:    "Time from the start of a frame to its present",
			Buckets: frameBuckets,
		}),
		FenceWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orrery_fence_wait_seconds",
			Help:    "Time spent waiting for the slot and compute fences",
			Buckets: frameBuckets,
		}),
		Bodies: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orrery_bodies",
			Help: "Number of body records advanced every frame",
		}),
		Speed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orrery_simulation_speed",
			Help: "Simulation speed multiplier",
		}),
	}
	for _, c := range []prometheus.Collector{f.Frames, f.Recreations, f.FrameTime, f.FenceWait, f.Bodies, f.Speed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Frame) FenceWaited(d time.Duration) { f.FenceWait.Observe(d.Seconds()) }

func (f *Frame) FramePresented(d time.Duration) {
	f.Frames.Inc()
	f.FrameTime.Observe(d.Seconds())
}

func (f *Frame) SwapchainRecreated() { f.Recreations.Inc() }

// NewServer returns a server exposing g on /metrics.
func NewServer(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}
