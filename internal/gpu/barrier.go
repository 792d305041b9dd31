package gpu

// BufferBarrier is a buffer memory barrier. When SrcFamily differs from
// DstFamily it is one half of a queue family ownership transfer.
type BufferBarrier struct {
	Buffer    Buffer
	Offset    uint64
	Size      uint64
	SrcAccess Access
	DstAccess Access
	SrcFamily Family
	DstFamily Family
	SrcStage  Stage
	DstStage  Stage
}

// Transfer describes moving a whole buffer from one queue family to
// another. The producer side records the release half, the consumer
// side the acquire half, and both carry identical families and range.
type Transfer struct {
	Buffer    Buffer
	Size      uint64
	From      Family
	To        Family
	SrcAccess Access
	DstAccess Access
	SrcStage  Stage
	DstStage  Stage
}

// Needed reports whether any barrier is recorded for t.
func (t Transfer) Needed() bool { return t.From != t.To }

// ReleaseBarrier is the barrier recorded on the producing family.
func (t Transfer) ReleaseBarrier() BufferBarrier {
	return BufferBarrier{
		Buffer:    t.Buffer,
		Size:      t.Size,
		SrcAccess: t.SrcAccess,
		DstAccess: AccessNone,
		SrcFamily: t.From,
		DstFamily: t.To,
		SrcStage:  t.SrcStage,
		DstStage:  t.DstStage,
	}
}

// AcquireBarrier is the barrier recorded on the consuming family.
func (t Transfer) AcquireBarrier() BufferBarrier {
	return BufferBarrier{
		Buffer:    t.Buffer,
		Size:      t.Size,
		SrcAccess: AccessNone,
		DstAccess: t.DstAccess,
		SrcFamily: t.From,
		DstFamily: t.To,
		SrcStage:  t.SrcStage,
		DstStage:  t.DstStage,
	}
}

// Release records the release half of t and returns the ownership
// operation it implies. Nothing is recorded when both sides share a family.
func Release(rec BarrierRecorder, t Transfer) []OwnershipOp {
	if !t.Needed() {
		return nil
	}
	rec.BufferBarrier(t.ReleaseBarrier())
	return []OwnershipOp{{Kind: OpRelease, Buffer: t.Buffer, From: t.From, To: t.To}}
}

// Acquire records the acquire half of t.
func Acquire(rec BarrierRecorder, t Transfer) []OwnershipOp {
	if !t.Needed() {
		return nil
	}
	rec.BufferBarrier(t.AcquireBarrier())
	return []OwnershipOp{{Kind: OpAcquire, Buffer: t.Buffer, From: t.From, To: t.To}}
}

// GraphicsToCompute is the transfer the render stage releases and the
// advance stage acquires.
func GraphicsToCompute(buf Buffer, size uint64, f Families) Transfer {
	return Transfer{
		Buffer:    buf,
		Size:      size,
		From:      f.Graphics,
		To:        f.Compute,
		SrcAccess: AccessVertexAttributeRead,
		DstAccess: AccessShaderWrite,
		SrcStage:  StageVertexInput,
		DstStage:  StageComputeShader,
	}
}

// ComputeToGraphics is the transfer the advance stage releases and the
// render stage acquires.
func ComputeToGraphics(buf Buffer, size uint64, f Families) Transfer {
	return Transfer{
		Buffer:    buf,
		Size:      size,
		From:      f.Compute,
		To:        f.Graphics,
		SrcAccess: AccessShaderWrite,
		DstAccess: AccessVertexAttributeRead,
		SrcStage:  StageComputeShader,
		DstStage:  StageVertexInput,
	}
}
