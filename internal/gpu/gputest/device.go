// Package gputest provides a simulated gpu.Device. Work executes when it
// is submitted, in host submission order, and completes on a virtual
// clock after a fixed latency per queue. The device checks ownership
// transfers, semaphore and fence usage, and command buffer reuse, and
// collects every problem in Violations instead of failing fast.
package gputest

import (
	"fmt"
	"time"

	"orrery/internal/gpu"
)

// Options configure a Device.
type Options struct {
	Families gpu.Families
	Images   int
	// Latency is how long each submission occupies its queue.
	Latency time.Duration
	Limits  gpu.Limits
}

// Barrier is one executed buffer barrier.
type Barrier struct {
	Queue   gpu.QueueKind
	Barrier gpu.BufferBarrier
	// Kind is meaningful only when Transfer is set.
	Kind     gpu.OpKind
	Transfer bool
}

// Submission is one accepted queue submission.
type Submission struct {
	Queue          gpu.QueueKind
	CommandBuffers []gpu.CommandBuffer
	Fence          gpu.Fence
	Start, Done    time.Duration
}

type fence struct {
	signaled bool
	pending  bool
	done     time.Duration
}

type semaphore struct {
	signaled bool
	at       time.Duration
}

type commandBuffer struct {
	queue    gpu.QueueKind
	cmds     []command
	recorded bool
	done     time.Duration
}

type buffer struct {
	usage gpu.BufferUsage
	data  []byte
	owner *gpu.Ownership
}

// Device is a simulated gpu.Device. It is not safe for concurrent use.
type Device struct {
	opts Options

	now       time.Duration
	busy      map[gpu.QueueKind]time.Duration
	next      uint64
	nextImage uint32

	fences   map[gpu.Fence]*fence
	sems     map[gpu.Semaphore]*semaphore
	buffers  map[gpu.Buffer]*buffer
	commands map[gpu.CommandBuffer]*commandBuffer

	failAcquire int
	failPresent int

	// OnDispatch runs for every executed dispatch.
	OnDispatch func(groups uint32)

	Barriers    []Barrier
	Submissions []Submission
	Violations  []string
	Dispatches  int
	BodyDraws   int
	Presents    int
	// Blocked counts fence waits that had to advance the clock.
	Blocked int
}

var _ gpu.Device = (*Device)(nil)

// New returns a simulated device.
func New(opts Options) *Device {
	if opts.Images <= 0 {
		opts.Images = 3
	}
	if opts.Limits.MaxComputeWorkGroupCount == 0 {
		opts.Limits.MaxComputeWorkGroupCount = 65535
	}
	if opts.Limits.MaxComputeWorkGroupSize == 0 {
		opts.Limits.MaxComputeWorkGroupSize = 1024
	}
	return &Device{
		opts:     opts,
		busy:     make(map[gpu.QueueKind]time.Duration),
		fences:   make(map[gpu.Fence]*fence),
		sems:     make(map[gpu.Semaphore]*semaphore),
		buffers:  make(map[gpu.Buffer]*buffer),
		commands: make(map[gpu.CommandBuffer]*commandBuffer),
	}
}

// Now returns the virtual clock.
func (d *Device) Now() time.Duration { return d.now }

// FailAcquire makes the next n acquires report an out-of-date swapchain.
func (d *Device) FailAcquire(n int) { d.failAcquire = n }

// FailPresent makes the next n presents report an out-of-date swapchain.
func (d *Device) FailPresent(n int) { d.failPresent = n }

// SetImages changes the image count, as a swapchain recreation would.
func (d *Device) SetImages(n int) {
	d.opts.Images = n
	d.nextImage = 0
}

// BufferData returns the contents a buffer was created with.
func (d *Device) BufferData(b gpu.Buffer) []byte {
	if buf, ok := d.buffers[b]; ok {
		return buf.data
	}
	return nil
}

// Owner returns the family that owns b and whether a transfer is pending.
func (d *Device) Owner(b gpu.Buffer) (gpu.Family, bool) {
	buf, ok := d.buffers[b]
	if !ok {
		return 0, false
	}
	return buf.owner.Owner(), buf.owner.InTransit()
}

// Transfers returns the executed barriers that move ownership.
func (d *Device) Transfers() []Barrier {
	var out []Barrier
	for _, b := range d.Barriers {
		if b.Transfer {
			out = append(out, b)
		}
	}
	return out
}

func (d *Device) violate(format string, args ...any) {
	d.Violations = append(d.Violations, fmt.Sprintf("t=%v: ", d.now)+fmt.Sprintf(format, args...))
}

func (d *Device) id() uint64 {
	d.next++
	return d.next
}

func (d *Device) Families() gpu.Families { return d.opts.Families }
func (d *Device) Limits() gpu.Limits     { return d.opts.Limits }
func (d *Device) ImageCount() int        { return d.opts.Images }

func (d *Device) NewFence(signaled bool) (gpu.Fence, error) {
	f := gpu.Fence(d.id())
	d.fences[f] = &fence{signaled: signaled}
	return f, nil
}

func (d *Device) NewSemaphore() (gpu.Semaphore, error) {
	s := gpu.Semaphore(d.id())
	d.sems[s] = &semaphore{}
	return s, nil
}

// NewBuffer creates a buffer owned by the graphics family, which is
// where uploads run.
func (d *Device) NewBuffer(usage gpu.BufferUsage, data []byte) (gpu.Buffer, error) {
	b := gpu.Buffer(d.id())
	d.buffers[b] = &buffer{
		usage: usage,
		data:  append([]byte(nil), data...),
		owner: gpu.NewOwnership(b, d.opts.Families.Graphics),
	}
	return b, nil
}

func (d *Device) NewCommandBuffer(q gpu.QueueKind) (gpu.CommandBuffer, error) {
	cb := gpu.CommandBuffer(d.id())
	d.commands[cb] = &commandBuffer{queue: q}
	return cb, nil
}

func (d *Device) settle() {
	for _, f := range d.fences {
		if f.pending && f.done <= d.now {
			f.pending = false
			f.signaled = true
		}
	}
}

func (d *Device) WaitFences(fences []gpu.Fence, timeout time.Duration) error {
	for _, h := range fences {
		f, ok := d.fences[h]
		if !ok {
			d.violate("wait on unknown fence %d", h)
			return gpu.ErrDeviceLost
		}
		if f.signaled {
			continue
		}
		if !f.pending {
			return gpu.ErrTimeout
		}
		if f.done-d.now > timeout {
			return gpu.ErrTimeout
		}
		if f.done > d.now {
			d.now = f.done
			d.Blocked++
		}
		d.settle()
	}
	return nil
}

func (d *Device) ResetFences(fences ...gpu.Fence) error {
	d.settle()
	for _, h := range fences {
		f, ok := d.fences[h]
		if !ok {
			d.violate("reset of unknown fence %d", h)
			continue
		}
		if f.pending {
			d.violate("reset of fence %d still in flight", h)
		}
		*f = fence{}
	}
	return nil
}

func (d *Device) AcquireNextImage(signal gpu.Semaphore, timeout time.Duration) (uint32, error) {
	if d.failAcquire > 0 {
		d.failAcquire--
		return 0, gpu.ErrOutOfDate
	}
	s, ok := d.sems[signal]
	if !ok {
		d.violate("acquire signals unknown semaphore %d", signal)
		return 0, gpu.ErrDeviceLost
	}
	if s.signaled {
		d.violate("acquire signals semaphore %d that is already signaled", signal)
	}
	s.signaled, s.at = true, d.now
	img := d.nextImage
	d.nextImage = (d.nextImage + 1) % uint32(d.opts.Images)
	return img, nil
}

func (d *Device) Submit(q gpu.QueueKind, b gpu.Batch, fh gpu.Fence) error {
	d.settle()
	start := d.now
	if busy := d.busy[q]; busy > start {
		start = busy
	}
	for _, w := range b.Wait {
		s, ok := d.sems[w.Semaphore]
		if !ok || !s.signaled {
			d.violate("%s submit waits on semaphore %d that nothing signals", q, w.Semaphore)
			continue
		}
		if s.at > start {
			start = s.at
		}
		s.signaled = false
	}
	done := start + d.opts.Latency

	for _, h := range b.CommandBuffers {
		cb, ok := d.commands[h]
		if !ok || !cb.recorded {
			d.violate("%s submit of unrecorded command buffer %d", q, h)
			continue
		}
		if cb.queue != q {
			d.violate("command buffer %d recorded for %s submitted to %s", h, cb.queue, q)
		}
		if cb.done > d.now {
			d.violate("command buffer %d resubmitted while in flight until %v", h, cb.done)
		}
		d.execute(q, cb.cmds)
		cb.done = done
	}
	d.busy[q] = done

	for _, h := range b.Signal {
		s, ok := d.sems[h]
		if !ok {
			d.violate("%s submit signals unknown semaphore %d", q, h)
			continue
		}
		if s.signaled {
			d.violate("%s submit signals semaphore %d that is already signaled", q, h)
		}
		s.signaled, s.at = true, done
	}

	if fh != gpu.NoFence {
		f, ok := d.fences[fh]
		switch {
		case !ok:
			d.violate("%s submit with unknown fence %d", q, fh)
		case f.signaled || f.pending:
			d.violate("%s submit with fence %d that was not reset", q, fh)
		default:
			f.pending, f.done = true, done
		}
	}

	d.Submissions = append(d.Submissions, Submission{
		Queue:          q,
		CommandBuffers: append([]gpu.CommandBuffer(nil), b.CommandBuffers...),
		Fence:          fh,
		Start:          start,
		Done:           done,
	})
	return nil
}

func (d *Device) Present(image uint32, wait gpu.Semaphore) error {
	s, ok := d.sems[wait]
	if !ok || !s.signaled {
		d.violate("present of image %d waits on semaphore %d that nothing signals", image, wait)
	} else {
		s.signaled = false
	}
	d.Presents++
	if d.failPresent > 0 {
		d.failPresent--
		return gpu.ErrOutOfDate
	}
	return nil
}

func (d *Device) WaitIdle() error {
	for _, busy := range d.busy {
		if busy > d.now {
			d.now = busy
		}
	}
	d.settle()
	return nil
}

func (d *Device) OneShot(q gpu.QueueKind, record func(gpu.BarrierRecorder)) error {
	r := &recorder{}
	record(r)
	start := d.now
	if busy := d.busy[q]; busy > start {
		start = busy
	}
	d.execute(q, r.cmds)
	d.now = start + d.opts.Latency
	d.busy[q] = d.now
	d.settle()
	return nil
}

func (d *Device) RecordCompute(h gpu.CommandBuffer, record func(gpu.ComputeRecorder)) error {
	cb, err := d.beginRecording(h, gpu.Compute)
	if err != nil {
		return err
	}
	r := &recorder{}
	record(r)
	cb.cmds, cb.recorded = r.cmds, true
	return nil
}

func (d *Device) RecordGraphics(h gpu.CommandBuffer, image uint32, record func(gpu.GraphicsRecorder)) error {
	cb, err := d.beginRecording(h, gpu.Graphics)
	if err != nil {
		return err
	}
	if int(image) >= d.opts.Images {
		return fmt.Errorf("record image %d: only %d images", image, d.opts.Images)
	}
	r := &recorder{}
	record(r)
	cb.cmds, cb.recorded = r.cmds, true
	return nil
}

func (d *Device) beginRecording(h gpu.CommandBuffer, q gpu.QueueKind) (*commandBuffer, error) {
	cb, ok := d.commands[h]
	if !ok {
		return nil, fmt.Errorf("record unknown command buffer %d", h)
	}
	if cb.queue != q {
		return nil, fmt.Errorf("command buffer %d belongs to %s, not %s", h, cb.queue, q)
	}
	if cb.done > d.now {
		d.violate("command buffer %d re-recorded while in flight until %v", h, cb.done)
	}
	return cb, nil
}
