// Package gpu describes the device surface the frame scheduler and the
// render/compute stages are written against. The Vulkan backend lives in
// internal/vk; gputest provides a simulated device for tests.
package gpu

import (
	"errors"
	"time"
)

// Handles name objects owned by a Device. The zero value is never a
// valid object.
type (
	Buffer        uint64
	Fence         uint64
	Semaphore     uint64
	CommandBuffer uint64
)

// NoFence submits without a fence.
const NoFence Fence = 0

// Family is a queue family index.
type Family uint32

// QueueKind selects one of the queues a Device exposes.
type QueueKind int

const (
	Graphics QueueKind = iota
	Compute
	TransferQueue
	Present
)

func (k QueueKind) String() string {
	switch k {
	case Graphics:
		return "graphics"
	case Compute:
		return "compute"
	case TransferQueue:
		return "transfer"
	case Present:
		return "present"
	}
	return "unknown"
}

// Families holds the queue family chosen for each queue kind.
type Families struct {
	Graphics Family
	Compute  Family
	Transfer Family
	Present  Family
}

// Of returns the family of the given queue kind.
func (f Families) Of(k QueueKind) Family {
	switch k {
	case Compute:
		return f.Compute
	case TransferQueue:
		return f.Transfer
	case Present:
		return f.Present
	}
	return f.Graphics
}

// Shared reports whether graphics and compute run on the same family,
// in which case no ownership transfer is ever recorded.
func (f Families) Shared() bool { return f.Graphics == f.Compute }

// Limits are the device limits the application sizes itself by.
type Limits struct {
	MaxComputeWorkGroupCount uint32
	MaxComputeWorkGroupSize  uint32
}

// Access is a memory access mask.
type Access uint32

const (
	AccessVertexAttributeRead Access = 1 << iota
	AccessShaderRead
	AccessShaderWrite
	AccessTransferWrite
	AccessUniformRead

	AccessNone Access = 0
)

// Stage is a pipeline stage mask.
type Stage uint32

const (
	StageTopOfPipe Stage = 1 << iota
	StageVertexInput
	StageComputeShader
	StageTransfer
	StageColorAttachmentOutput
	StageBottomOfPipe
)

// BufferUsage tells NewBuffer how a buffer will be bound.
type BufferUsage uint32

const (
	UsageVertex BufferUsage = 1 << iota
	UsageStorage
	UsageUniform
)

// DrawRange is a contiguous vertex range drawn as one primitive strip.
type DrawRange struct {
	First uint32
	Count uint32
}

var (
	// ErrOutOfDate is returned by AcquireNextImage and Present when the
	// swapchain no longer matches the surface.
	ErrOutOfDate = errors.New("gpu: swapchain out of date")
	// ErrSuboptimal is returned when presentation still works but the
	// swapchain should be recreated.
	ErrSuboptimal = errors.New("gpu: swapchain suboptimal")
	// ErrTimeout is returned when a wait exceeds its timeout.
	ErrTimeout = errors.New("gpu: wait timed out")
	// ErrDeviceLost is returned once the device is unusable.
	ErrDeviceLost = errors.New("gpu: device lost")
)

// Wait is a semaphore wait at a destination stage.
type Wait struct {
	Semaphore Semaphore
	Stage     Stage
}

// Batch is one queue submission.
type Batch struct {
	Wait           []Wait
	CommandBuffers []CommandBuffer
	Signal         []Semaphore
}

// BarrierRecorder records buffer memory barriers.
type BarrierRecorder interface {
	BufferBarrier(b BufferBarrier)
}

// ComputeRecorder records the advance pass.
type ComputeRecorder interface {
	BarrierRecorder
	BindAdvance(bodies Buffer)
	Dispatch(groups uint32)
}

// GraphicsRecorder records the render pass for one swapchain image.
type GraphicsRecorder interface {
	BarrierRecorder
	BeginRenderPass()
	DrawSky()
	DrawBodies(instances Buffer, count uint32)
	DrawOrbits(points Buffer, ranges []DrawRange)
	DrawOverlay()
	EndRenderPass()
}

// Device is the queue, synchronization and recording surface of a GPU.
type Device interface {
	Families() Families
	Limits() Limits
	// ImageCount is the number of presentable images.
	ImageCount() int

	NewFence(signaled bool) (Fence, error)
	NewSemaphore() (Semaphore, error)
	NewBuffer(usage BufferUsage, data []byte) (Buffer, error)
	NewCommandBuffer(q QueueKind) (CommandBuffer, error)

	RecordCompute(cb CommandBuffer, record func(ComputeRecorder)) error
	RecordGraphics(cb CommandBuffer, image uint32, record func(GraphicsRecorder)) error
	// OneShot records and submits a throwaway command buffer on q and
	// waits for it to finish.
	OneShot(q QueueKind, record func(BarrierRecorder)) error

	WaitFences(fences []Fence, timeout time.Duration) error
	ResetFences(fences ...Fence) error
	AcquireNextImage(signal Semaphore, timeout time.Duration) (uint32, error)
	Submit(q QueueKind, b Batch, fence Fence) error
	Present(image uint32, wait Semaphore) error
	WaitIdle() error
}
