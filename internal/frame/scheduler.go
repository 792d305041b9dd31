// Package frame drives one frame at a time across the graphics and
// compute queues.
//
// Each iteration waits for the slot's fence and the compute fence,
// acquires an image, submits the render pass, which draws the body state
// the previous advance pass produced, then submits the advance pass,
// which waits for the render pass and signals the semaphore the next
// render pass waits on. The body buffer changes queue family twice per
// frame through the release/acquire pairs recorded in the command buffers.
package frame

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"orrery/internal/gpu"
)

// ErrFatal wraps errors after which the loop must stop: fence timeouts,
// a lost device, or a broken ownership protocol.
var ErrFatal = errors.New("frame: fatal")

// DefaultFenceTimeout bounds every fence wait.
const DefaultFenceTimeout = 10 * time.Second

// State is the position of the scheduler inside a frame.
type State int

const (
	Idle State = iota
	ImageAcquirePending
	GraphicsSubmitted
	ComputeSubmitted
	Presented
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ImageAcquirePending:
		return "image-acquire-pending"
	case GraphicsSubmitted:
		return "graphics-submitted"
	case ComputeSubmitted:
		return "compute-submitted"
	case Presented:
		return "presented"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Source writes the host data of a frame once the image is known and its
// previous use has completed: camera block, compute parameters, overlay.
type Source interface {
	Prepare(image uint32) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(image uint32) error

func (f SourceFunc) Prepare(image uint32) error { return f(image) }

// Observer receives frame timings.
type Observer interface {
	FenceWaited(d time.Duration)
	FramePresented(d time.Duration)
	SwapchainRecreated()
}

type nopObserver struct{}

func (nopObserver) FenceWaited(time.Duration)    {}
func (nopObserver) FramePresented(time.Duration) {}
func (nopObserver) SwapchainRecreated()          {}

// Options configure a Scheduler.
type Options struct {
	// Slots is the number of frames in flight. Zero means one per
	// swapchain image.
	Slots        int
	FenceTimeout time.Duration
	Logger       *zap.Logger
	Observer     Observer
	// Recreate rebuilds the swapchain and re-records the render passes.
	// The device is idle when it runs.
	Recreate func() error
}

// Scheduler runs frames. It is not safe for concurrent use.
type Scheduler struct {
	dev    gpu.Device
	src    Source
	cmds   *Commands
	owner  *gpu.Ownership
	opts   Options
	log    *zap.Logger
	obs    Observer
	state  State
	slot   int
	frames uint64

	imageAcquired  []gpu.Semaphore
	renderComplete []gpu.Semaphore
	inFlight       []gpu.Fence
	imagesInFlight []gpu.Fence
	graphicsDone   gpu.Semaphore
	computeDone    gpu.Semaphore
	computeFence   gpu.Fence

	recreateRequested bool
}

// NewScheduler creates the synchronization objects and arms the compute
// semaphore with an empty compute submission, so the first render pass
// has a signal to wait on. cmds must already be recorded and owner must
// reflect the state left by BodyBuffer.Handoff.
func NewScheduler(dev gpu.Device, src Source, cmds *Commands, owner *gpu.Ownership, opts Options) (*Scheduler, error) {
	if opts.Slots <= 0 {
		opts.Slots = dev.ImageCount()
	}
	if opts.FenceTimeout <= 0 {
		opts.FenceTimeout = DefaultFenceTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if len(cmds.Graphics) < dev.ImageCount() || cmds.Compute.Buffer == 0 {
		return nil, errors.New("frame: command buffers are not recorded")
	}
	s := &Scheduler{
		dev:            dev,
		src:            src,
		cmds:           cmds,
		owner:          owner,
		opts:           opts,
		log:            opts.Logger,
		obs:            opts.Observer,
		imageAcquired:  make([]gpu.Semaphore, opts.Slots),
		renderComplete: make([]gpu.Semaphore, opts.Slots),
		inFlight:       make([]gpu.Fence, opts.Slots),
		imagesInFlight: make([]gpu.Fence, dev.ImageCount()),
	}
	var err error
	for i := 0; i < opts.Slots; i++ {
		if s.imageAcquired[i], err = dev.NewSemaphore(); err != nil {
			return nil, fmt.Errorf("create image acquired semaphore %d: %w", i, err)
		}
		if s.renderComplete[i], err = dev.NewSemaphore(); err != nil {
			return nil, fmt.Errorf("create render complete semaphore %d: %w", i, err)
		}
		if s.inFlight[i], err = dev.NewFence(true); err != nil {
			return nil, fmt.Errorf("create in-flight fence %d: %w", i, err)
		}
	}
	if s.graphicsDone, err = dev.NewSemaphore(); err != nil {
		return nil, fmt.Errorf("create graphics semaphore: %w", err)
	}
	if s.computeDone, err = dev.NewSemaphore(); err != nil {
		return nil, fmt.Errorf("create compute semaphore: %w", err)
	}
	if s.computeFence, err = dev.NewFence(true); err != nil {
		return nil, fmt.Errorf("create compute fence: %w", err)
	}
	if err := dev.Submit(gpu.Compute, gpu.Batch{Signal: []gpu.Semaphore{s.computeDone}}, gpu.NoFence); err != nil {
		return nil, fmt.Errorf("arm compute semaphore: %w", err)
	}
	s.log.Debug("scheduler ready",
		zap.Int("slots", opts.Slots),
		zap.Int("images", dev.ImageCount()),
		zap.Bool("shared_family", dev.Families().Shared()))
	return s, nil
}

// State returns where the scheduler is inside the current frame.
func (s *Scheduler) State() State { return s.state }

// Slot returns the slot the next frame uses.
func (s *Scheduler) Slot() int { return s.slot }

// Frames returns the number of presented frames.
func (s *Scheduler) Frames() uint64 { return s.frames }

// RequestRecreate asks for a swapchain rebuild after the next present,
// for example when the window was resized.
func (s *Scheduler) RequestRecreate() { s.recreateRequested = true }

// Frame runs one iteration. Errors wrapping ErrFatal end the loop,
// including a failing frame source; other errors come from the recreate
// hook.
func (s *Scheduler) Frame() error {
	start := time.Now()
	s.state = Idle
	slot := s.slot

	waitStart := time.Now()
	if err := s.dev.WaitFences([]gpu.Fence{s.inFlight[slot], s.computeFence}, s.opts.FenceTimeout); err != nil {
		return fatal("wait for slot %d: %w", slot, err)
	}
	s.obs.FenceWaited(time.Since(waitStart))

	s.state = ImageAcquirePending
	image, err := s.dev.AcquireNextImage(s.imageAcquired[slot], s.opts.FenceTimeout)
	suboptimal := false
	switch {
	case errors.Is(err, gpu.ErrOutOfDate):
		s.log.Debug("swapchain out of date on acquire")
		s.state = Idle
		return s.recreate()
	case errors.Is(err, gpu.ErrSuboptimal):
		suboptimal = true
	case err != nil:
		return fatal("acquire image: %w", err)
	}
	if int(image) >= len(s.imagesInFlight) || int(image) >= len(s.cmds.Graphics) {
		return fatal("acquired image %d of %d: %w", image, len(s.imagesInFlight), gpu.ErrOutOfDate)
	}

	if f := s.imagesInFlight[image]; f != gpu.NoFence && f != s.inFlight[slot] {
		if err := s.dev.WaitFences([]gpu.Fence{f}, s.opts.FenceTimeout); err != nil {
			return fatal("wait for image %d: %w", image, err)
		}
	}
	if err := s.src.Prepare(image); err != nil {
		// Consume the acquire signal; the slot semaphore must be unsignaled
		// before its next acquire.
		drain := gpu.Batch{Wait: []gpu.Wait{{Semaphore: s.imageAcquired[slot], Stage: gpu.StageColorAttachmentOutput}}}
		if serr := s.dev.Submit(gpu.Graphics, drain, gpu.NoFence); serr != nil {
			s.log.Warn("drain acquire semaphore", zap.Int("slot", slot), zap.Error(serr))
		}
		s.state = Idle
		return fatal("prepare image %d: %w", image, err)
	}
	s.imagesInFlight[image] = s.inFlight[slot]
	if err := s.dev.ResetFences(s.inFlight[slot], s.computeFence); err != nil {
		return fatal("reset fences: %w", err)
	}

	render := s.cmds.Graphics[image]
	if err := s.submit(gpu.Graphics, gpu.Batch{
		Wait: []gpu.Wait{
			{Semaphore: s.computeDone, Stage: gpu.StageVertexInput},
			{Semaphore: s.imageAcquired[slot], Stage: gpu.StageColorAttachmentOutput},
		},
		CommandBuffers: []gpu.CommandBuffer{render.Buffer},
		Signal:         []gpu.Semaphore{s.graphicsDone, s.renderComplete[slot]},
	}, s.inFlight[slot], render.Ops); err != nil {
		return err
	}
	s.state = GraphicsSubmitted

	advance := s.cmds.Compute
	if err := s.submit(gpu.Compute, gpu.Batch{
		Wait:           []gpu.Wait{{Semaphore: s.graphicsDone, Stage: gpu.StageComputeShader}},
		CommandBuffers: []gpu.CommandBuffer{advance.Buffer},
		Signal:         []gpu.Semaphore{s.computeDone},
	}, s.computeFence, advance.Ops); err != nil {
		return err
	}
	s.state = ComputeSubmitted

	err = s.dev.Present(image, s.renderComplete[slot])
	s.slot = (slot + 1) % len(s.inFlight)
	s.frames++
	s.state = Presented
	s.obs.FramePresented(time.Since(start))
	switch {
	case errors.Is(err, gpu.ErrOutOfDate), errors.Is(err, gpu.ErrSuboptimal):
		return s.recreate()
	case err != nil:
		return fatal("present image %d: %w", image, err)
	case suboptimal || s.recreateRequested:
		return s.recreate()
	}
	return nil
}

func (s *Scheduler) submit(q gpu.QueueKind, b gpu.Batch, fence gpu.Fence, ops []gpu.OwnershipOp) error {
	if s.owner != nil {
		if err := s.owner.ApplyAll(ops); err != nil {
			return fatal("%s submit: %w", q, err)
		}
	}
	if err := s.dev.Submit(q, b, fence); err != nil {
		return fatal("%s submit: %w", q, err)
	}
	return nil
}

func (s *Scheduler) recreate() error {
	s.recreateRequested = false
	if err := s.dev.WaitIdle(); err != nil {
		return fatal("wait idle before recreate: %w", err)
	}
	if s.opts.Recreate != nil {
		if err := s.opts.Recreate(); err != nil {
			return fmt.Errorf("recreate swapchain: %w", err)
		}
	}
	n := s.dev.ImageCount()
	if len(s.cmds.Graphics) < n {
		return fmt.Errorf("recreate swapchain: %d render passes recorded for %d images", len(s.cmds.Graphics), n)
	}
	s.imagesInFlight = make([]gpu.Fence, n)
	s.obs.SwapchainRecreated()
	s.log.Info("swapchain recreated", zap.Int("images", n))
	return nil
}

// Close waits until the device has finished all submitted work.
func (s *Scheduler) Close() error {
	return s.dev.WaitIdle()
}

func fatal(format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrFatal, fmt.Errorf(format, args...))
}
