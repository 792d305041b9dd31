package frame

import (
	"fmt"

	"orrery/internal/gpu"
	"orrery/internal/sim"
)

// BodyBuffer is the device copy of the body records. It is created once,
// alternates between the graphics and compute families every frame, and
// is destroyed with the device.
type BodyBuffer struct {
	Buffer gpu.Buffer
	Count  int
	Size   uint64

	fams      gpu.Families
	ownership *gpu.Ownership
}

// NewBodyBuffer uploads bodies into a vertex and storage buffer. The
// upload runs on the graphics queue, which owns the buffer afterwards.
func NewBodyBuffer(dev gpu.Device, bodies []sim.Body) (*BodyBuffer, error) {
	if len(bodies) == 0 || len(bodies)%sim.WorkGroupSize != 0 {
		return nil, fmt.Errorf("body buffer: %d records is not a positive multiple of %d", len(bodies), sim.WorkGroupSize)
	}
	if groups := sim.Groups(len(bodies)); groups > dev.Limits().MaxComputeWorkGroupCount {
		return nil, fmt.Errorf("body buffer: %d work groups exceed the device limit %d", groups, dev.Limits().MaxComputeWorkGroupCount)
	}
	data := sim.Bytes(bodies)
	buf, err := dev.NewBuffer(gpu.UsageVertex|gpu.UsageStorage, data)
	if err != nil {
		return nil, fmt.Errorf("create body buffer: %w", err)
	}
	fams := dev.Families()
	return &BodyBuffer{
		Buffer:    buf,
		Count:     len(bodies),
		Size:      uint64(len(data)),
		fams:      fams,
		ownership: gpu.NewOwnership(buf, fams.Graphics),
	}, nil
}

// Ownership is the host-side view of which family owns the buffer.
func (b *BodyBuffer) Ownership() *gpu.Ownership { return b.ownership }

// Groups is the dispatch size of the advance pass.
func (b *BodyBuffer) Groups() uint32 { return sim.Groups(b.Count) }

// ToCompute is the transfer from the render stage to the advance stage.
func (b *BodyBuffer) ToCompute() gpu.Transfer {
	return gpu.GraphicsToCompute(b.Buffer, b.Size, b.fams)
}

// ToGraphics is the transfer from the advance stage to the render stage.
func (b *BodyBuffer) ToGraphics() gpu.Transfer {
	return gpu.ComputeToGraphics(b.Buffer, b.Size, b.fams)
}

// Handoff leaves the buffer released from compute to graphics, the state
// every frame's render pass expects. Graphics releases the fresh upload to
// compute, then compute acquires it and releases it back. Nothing happens
// when both stages share a family.
func (b *BodyBuffer) Handoff(dev gpu.Device) error {
	if b.fams.Shared() {
		return nil
	}
	var ops []gpu.OwnershipOp
	if err := dev.OneShot(gpu.Graphics, func(rec gpu.BarrierRecorder) {
		ops = gpu.Release(rec, b.ToCompute())
	}); err != nil {
		return fmt.Errorf("release body buffer to compute: %w", err)
	}
	if err := b.ownership.ApplyAll(ops); err != nil {
		return err
	}
	if err := dev.OneShot(gpu.Compute, func(rec gpu.BarrierRecorder) {
		ops = gpu.Acquire(rec, b.ToCompute())
		ops = append(ops, gpu.Release(rec, b.ToGraphics())...)
	}); err != nil {
		return fmt.Errorf("return body buffer to graphics: %w", err)
	}
	return b.ownership.ApplyAll(ops)
}
