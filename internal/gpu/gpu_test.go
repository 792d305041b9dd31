package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type barrierLog []BufferBarrier

func (l *barrierLog) BufferBarrier(b BufferBarrier) { *l = append(*l, b) }

func TestTransferHalvesMatch(t *testing.T) {
	fams := Families{Graphics: 0, Compute: 1}
	var log barrierLog
	tr := GraphicsToCompute(7, 4096, fams)

	rel := Release(&log, tr)
	acq := Acquire(&log, tr)

	require.Len(t, log, 2)
	release, acquire := log[0], log[1]
	assert.Equal(t, release.Buffer, acquire.Buffer)
	assert.Equal(t, release.Offset, acquire.Offset)
	assert.Equal(t, release.Size, acquire.Size)
	assert.Equal(t, release.SrcFamily, acquire.SrcFamily)
	assert.Equal(t, release.DstFamily, acquire.DstFamily)
	assert.Equal(t, AccessVertexAttributeRead, release.SrcAccess)
	assert.Equal(t, AccessNone, release.DstAccess)
	assert.Equal(t, AccessNone, acquire.SrcAccess)
	assert.Equal(t, AccessShaderWrite, acquire.DstAccess)
	assert.Equal(t, StageVertexInput, acquire.SrcStage)
	assert.Equal(t, StageComputeShader, acquire.DstStage)

	assert.Equal(t, []OwnershipOp{{Kind: OpRelease, Buffer: 7, From: 0, To: 1}}, rel)
	assert.Equal(t, []OwnershipOp{{Kind: OpAcquire, Buffer: 7, From: 0, To: 1}}, acq)
}

func TestTransferSameFamilyRecordsNothing(t *testing.T) {
	var log barrierLog
	tr := ComputeToGraphics(3, 128, Families{})

	assert.False(t, tr.Needed())
	assert.Nil(t, Release(&log, tr))
	assert.Nil(t, Acquire(&log, tr))
	assert.Empty(t, log)
}

func TestOwnershipRoundTrip(t *testing.T) {
	fams := Families{Graphics: 0, Compute: 2}
	o := NewOwnership(1, fams.Graphics)
	var log barrierLog

	require.NoError(t, o.ApplyAll(Release(&log, GraphicsToCompute(1, 64, fams))))
	assert.True(t, o.InTransit())
	assert.False(t, o.Usable(fams.Compute))

	require.NoError(t, o.ApplyAll(Acquire(&log, GraphicsToCompute(1, 64, fams))))
	assert.Equal(t, fams.Compute, o.Owner())
	assert.True(t, o.Usable(fams.Compute))
}

func TestOwnershipViolations(t *testing.T) {
	tests := []struct {
		name string
		ops  []OwnershipOp
	}{
		{
			name: "acquire without release",
			ops:  []OwnershipOp{{Kind: OpAcquire, Buffer: 1, From: 0, To: 1}},
		},
		{
			name: "release by non-owner",
			ops:  []OwnershipOp{{Kind: OpRelease, Buffer: 1, From: 1, To: 0}},
		},
		{
			name: "double release",
			ops: []OwnershipOp{
				{Kind: OpRelease, Buffer: 1, From: 0, To: 1},
				{Kind: OpRelease, Buffer: 1, From: 0, To: 1},
			},
		},
		{
			name: "mismatched acquire",
			ops: []OwnershipOp{
				{Kind: OpRelease, Buffer: 1, From: 0, To: 1},
				{Kind: OpAcquire, Buffer: 1, From: 0, To: 2},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOwnership(1, 0)
			assert.ErrorIs(t, o.ApplyAll(tt.ops), ErrOwnership)
		})
	}
}

func TestOwnershipIgnoresOtherBuffers(t *testing.T) {
	o := NewOwnership(1, 0)
	require.NoError(t, o.Apply(OwnershipOp{Kind: OpAcquire, Buffer: 9, From: 3, To: 4}))
	assert.False(t, o.InTransit())
}

func TestArenaDestroysInReverse(t *testing.T) {
	var order []string
	a := NewArena()
	a.Register("device", func() { order = append(order, "device") })
	pool := a.Register("pool", func() { order = append(order, "pool") })
	child := a.Child()
	child.Register("framebuffer", func() { order = append(order, "framebuffer") })
	child.Register("view", func() { order = append(order, "view") })
	a.Register("fence", func() { order = append(order, "fence") })

	name, ok := Lookup[string](a, pool)
	require.True(t, ok)
	assert.Equal(t, "pool", name)

	a.DestroyAll()
	assert.Equal(t, []string{"view", "framebuffer", "fence", "pool", "device"}, order)
	_, ok = Lookup[string](a, pool)
	assert.False(t, ok)
	assert.Zero(t, a.Len())
}

func TestArenaReleaseAndChildReuse(t *testing.T) {
	destroyed := 0
	a := NewArena()
	child := a.Child()
	id := child.Register(42, func() { destroyed++ })

	v, ok := Lookup[int](a, id)
	require.True(t, ok)
	assert.Equal(t, 42, v)
	_, ok = Lookup[string](a, id)
	assert.False(t, ok)

	child.Release(id)
	assert.Equal(t, 1, destroyed)
	child.DestroyAll()
	assert.Equal(t, 1, destroyed)

	child.Register(43, func() { destroyed++ })
	child.DestroyAll()
	assert.Equal(t, 2, destroyed)
}

func TestSelectFamilies(t *testing.T) {
	t.Run("dedicated compute and transfer", func(t *testing.T) {
		caps := []FamilyCaps{
			{Graphics: true, Compute: true, Transfer: true, Present: true},
			{Compute: true, Transfer: true},
			{Transfer: true},
		}
		f, err := SelectFamilies(caps)
		require.NoError(t, err)
		assert.Equal(t, Families{Graphics: 0, Compute: 1, Transfer: 2, Present: 0}, f)
		assert.False(t, f.Shared())
		assert.Equal(t, []Family{0, 1, 2}, f.Unique())
	})
	t.Run("single universal family", func(t *testing.T) {
		f, err := SelectFamilies([]FamilyCaps{{Graphics: true, Compute: true, Transfer: true, Present: true}})
		require.NoError(t, err)
		assert.True(t, f.Shared())
		assert.Equal(t, []Family{0}, f.Unique())
	})
	t.Run("no present", func(t *testing.T) {
		_, err := SelectFamilies([]FamilyCaps{{Graphics: true, Compute: true}})
		assert.Error(t, err)
	})
}

func TestQueueKindFamilies(t *testing.T) {
	f := Families{Graphics: 0, Compute: 1, Transfer: 2, Present: 3}
	cases := []struct {
		kind   QueueKind
		name   string
		family Family
	}{
		{Graphics, "graphics", 0},
		{Compute, "compute", 1},
		{TransferQueue, "transfer", 2},
		{Present, "present", 3},
	}
	for _, c := range cases {
		assert.Equal(t, c.name, c.kind.String())
		assert.Equal(t, c.family, f.Of(c.kind), c.name)
	}
	assert.Equal(t, "unknown", QueueKind(42).String())
}
