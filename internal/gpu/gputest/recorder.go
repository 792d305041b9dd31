package gputest

import "orrery/internal/gpu"

type opcode int

const (
	opBarrier opcode = iota
	opBindAdvance
	opDispatch
	opBeginRenderPass
	opDrawSky
	opDrawBodies
	opDrawOrbits
	opDrawOverlay
	opEndRenderPass
)

type command struct {
	op      opcode
	barrier gpu.BufferBarrier
	buffer  gpu.Buffer
	count   uint32
	ranges  []gpu.DrawRange
}

type recorder struct {
	cmds []command
}

func (r *recorder) BufferBarrier(b gpu.BufferBarrier) {
	r.cmds = append(r.cmds, command{op: opBarrier, barrier: b})
}

func (r *recorder) BindAdvance(bodies gpu.Buffer) {
	r.cmds = append(r.cmds, command{op: opBindAdvance, buffer: bodies})
}

func (r *recorder) Dispatch(groups uint32) {
	r.cmds = append(r.cmds, command{op: opDispatch, count: groups})
}

func (r *recorder) BeginRenderPass() { r.cmds = append(r.cmds, command{op: opBeginRenderPass}) }
func (r *recorder) DrawSky()         { r.cmds = append(r.cmds, command{op: opDrawSky}) }
func (r *recorder) DrawOverlay()     { r.cmds = append(r.cmds, command{op: opDrawOverlay}) }
func (r *recorder) EndRenderPass()   { r.cmds = append(r.cmds, command{op: opEndRenderPass}) }

func (r *recorder) DrawBodies(instances gpu.Buffer, count uint32) {
	r.cmds = append(r.cmds, command{op: opDrawBodies, buffer: instances, count: count})
}

func (r *recorder) DrawOrbits(points gpu.Buffer, ranges []gpu.DrawRange) {
	r.cmds = append(r.cmds, command{op: opDrawOrbits, buffer: points, ranges: ranges})
}

func (d *Device) execute(q gpu.QueueKind, cmds []command) {
	family := d.opts.Families.Of(q)
	var bound gpu.Buffer
	inPass := false
	for _, c := range cmds {
		switch c.op {
		case opBarrier:
			d.executeBarrier(q, family, c.barrier)
		case opBindAdvance:
			bound = c.buffer
		case opDispatch:
			if q != gpu.Compute {
				d.violate("dispatch on %s queue", q)
			}
			d.requireUsable(bound, family, "dispatch")
			d.Dispatches++
			if d.OnDispatch != nil {
				d.OnDispatch(c.count)
			}
		case opBeginRenderPass:
			if inPass {
				d.violate("nested render pass")
			}
			inPass = true
		case opEndRenderPass:
			if !inPass {
				d.violate("end of render pass that was not begun")
			}
			inPass = false
		case opDrawSky, opDrawOverlay:
			if !inPass {
				d.violate("draw outside render pass")
			}
		case opDrawBodies:
			if !inPass {
				d.violate("draw outside render pass")
			}
			d.requireUsable(c.buffer, family, "instanced draw")
			d.BodyDraws++
		case opDrawOrbits:
			if !inPass {
				d.violate("draw outside render pass")
			}
			d.requireUsable(c.buffer, family, "orbit draw")
		}
	}
	if inPass {
		d.violate("render pass left open")
	}
}

func (d *Device) requireUsable(h gpu.Buffer, family gpu.Family, what string) {
	buf, ok := d.buffers[h]
	if !ok {
		d.violate("%s reads unknown buffer %d", what, h)
		return
	}
	if !buf.owner.Usable(family) {
		d.violate("%s on family %d but buffer %d is owned by %d (in transit %v)",
			what, family, h, buf.owner.Owner(), buf.owner.InTransit())
	}
}

func (d *Device) executeBarrier(q gpu.QueueKind, family gpu.Family, b gpu.BufferBarrier) {
	rec := Barrier{Queue: q, Barrier: b}
	if b.SrcFamily == b.DstFamily {
		d.Barriers = append(d.Barriers, rec)
		return
	}
	rec.Transfer = true
	buf, ok := d.buffers[b.Buffer]
	if !ok {
		d.violate("barrier on unknown buffer %d", b.Buffer)
		return
	}
	if b.Offset != 0 || b.Size != uint64(len(buf.data)) {
		d.violate("transfer of buffer %d covers [%d,+%d), not the whole buffer", b.Buffer, b.Offset, b.Size)
	}
	op := gpu.OwnershipOp{Buffer: b.Buffer, From: b.SrcFamily, To: b.DstFamily}
	switch family {
	case b.SrcFamily:
		op.Kind = gpu.OpRelease
		if b.DstAccess != gpu.AccessNone {
			d.violate("release of buffer %d carries destination access %d", b.Buffer, b.DstAccess)
		}
	case b.DstFamily:
		op.Kind = gpu.OpAcquire
		if b.SrcAccess != gpu.AccessNone {
			d.violate("acquire of buffer %d carries source access %d", b.Buffer, b.SrcAccess)
		}
	default:
		d.violate("transfer %d->%d executed on family %d", b.SrcFamily, b.DstFamily, family)
		return
	}
	rec.Kind = op.Kind
	d.Barriers = append(d.Barriers, rec)
	if err := buf.owner.Apply(op); err != nil {
		d.violate("%v", err)
	}
}
