package frame

import (
	"fmt"

	"orrery/internal/gpu"
)

// Scene is everything the render pass draws.
type Scene struct {
	Bodies      *BodyBuffer
	Orbits      gpu.Buffer
	OrbitRanges []gpu.DrawRange
	Overlay     bool
}

// RecordAdvance records the advance pass: acquire the body buffer from
// graphics, dispatch one invocation per record, release it back.
func RecordAdvance(rec gpu.ComputeRecorder, bodies *BodyBuffer) []gpu.OwnershipOp {
	ops := gpu.Acquire(rec, bodies.ToCompute())
	rec.BindAdvance(bodies.Buffer)
	rec.Dispatch(bodies.Groups())
	return append(ops, gpu.Release(rec, bodies.ToGraphics())...)
}

// RecordRender records the render pass for one image: acquire the body
// buffer from compute, draw sky, bodies, orbit traces and overlay, then
// release the buffer to compute.
func RecordRender(rec gpu.GraphicsRecorder, s Scene) []gpu.OwnershipOp {
	ops := gpu.Acquire(rec, s.Bodies.ToGraphics())
	rec.BeginRenderPass()
	rec.DrawSky()
	rec.DrawBodies(s.Bodies.Buffer, uint32(s.Bodies.Count))
	if len(s.OrbitRanges) > 0 {
		rec.DrawOrbits(s.Orbits, s.OrbitRanges)
	}
	if s.Overlay {
		rec.DrawOverlay()
	}
	rec.EndRenderPass()
	return append(ops, gpu.Release(rec, s.Bodies.ToCompute())...)
}

// Recorded is a pre-recorded command buffer and the ownership operations
// it performs when executed.
type Recorded struct {
	Buffer gpu.CommandBuffer
	Ops    []gpu.OwnershipOp
}

// Commands are the command buffers replayed every frame: one render pass
// per swapchain image and a single advance pass.
type Commands struct {
	Graphics []Recorded
	Compute  Recorded
}

// Record records every command buffer, allocating them on first use.
func (c *Commands) Record(dev gpu.Device, s Scene) error {
	if c.Compute.Buffer == 0 {
		cb, err := dev.NewCommandBuffer(gpu.Compute)
		if err != nil {
			return fmt.Errorf("allocate compute command buffer: %w", err)
		}
		c.Compute.Buffer = cb
	}
	var ops []gpu.OwnershipOp
	if err := dev.RecordCompute(c.Compute.Buffer, func(rec gpu.ComputeRecorder) {
		ops = RecordAdvance(rec, s.Bodies)
	}); err != nil {
		return fmt.Errorf("record advance pass: %w", err)
	}
	c.Compute.Ops = ops
	return c.RecordGraphics(dev, s)
}

// RecordGraphics re-records the render passes, for example after the
// swapchain was recreated with a different image count.
func (c *Commands) RecordGraphics(dev gpu.Device, s Scene) error {
	n := dev.ImageCount()
	for len(c.Graphics) < n {
		cb, err := dev.NewCommandBuffer(gpu.Graphics)
		if err != nil {
			return fmt.Errorf("allocate graphics command buffer %d: %w", len(c.Graphics), err)
		}
		c.Graphics = append(c.Graphics, Recorded{Buffer: cb})
	}
	for i := 0; i < n; i++ {
		var ops []gpu.OwnershipOp
		if err := dev.RecordGraphics(c.Graphics[i].Buffer, uint32(i), func(rec gpu.GraphicsRecorder) {
			ops = RecordRender(rec, s)
		}); err != nil {
			return fmt.Errorf("record render pass %d: %w", i, err)
		}
		c.Graphics[i].Ops = ops
	}
	return nil
}
