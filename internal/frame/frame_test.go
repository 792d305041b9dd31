package frame

import (
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orrery/internal/gpu"
	"orrery/internal/gpu/gputest"
	"orrery/internal/sim"
)

var (
	split  = gpu.Families{Graphics: 0, Compute: 1, Transfer: 2, Present: 0}
	shared = gpu.Families{Graphics: 0, Compute: 0, Transfer: 0, Present: 0}
)

// padded returns the sun and planets followed by inert records up to one
// work group.
func padded(t *testing.T) []sim.Body {
	t.Helper()
	bodies, err := sim.Spawn(sim.SpawnOptions{Count: 256, Rand: sim.NewRand(3)})
	require.NoError(t, err)
	bodies = bodies[:1+len(sim.Planets)]
	for len(bodies) < sim.WorkGroupSize {
		bodies = append(bodies, sim.Body{Offset: mgl32.Vec4{0, 0, 0, sim.NoParent}})
	}
	return bodies
}

type rig struct {
	dev    *gputest.Device
	bodies *BodyBuffer
	scene  Scene
	cmds   *Commands
	sched  *Scheduler
	images []uint32
}

func newRig(t *testing.T, opts gputest.Options, sopts Options) *rig {
	t.Helper()
	r := &rig{dev: gputest.New(opts)}
	var err error
	r.bodies, err = NewBodyBuffer(r.dev, padded(t))
	require.NoError(t, err)
	require.NoError(t, r.bodies.Handoff(r.dev))

	orbits, err := r.dev.NewBuffer(gpu.UsageVertex, make([]byte, 64))
	require.NoError(t, err)
	r.scene = Scene{
		Bodies:      r.bodies,
		Orbits:      orbits,
		OrbitRanges: []gpu.DrawRange{{First: 0, Count: 8}},
		Overlay:     true,
	}
	r.cmds = &Commands{}
	require.NoError(t, r.cmds.Record(r.dev, r.scene))

	src := SourceFunc(func(image uint32) error {
		r.images = append(r.images, image)
		return nil
	})
	r.sched, err = NewScheduler(r.dev, src, r.cmds, r.bodies.Ownership(), sopts)
	require.NoError(t, err)
	return r
}

func (r *rig) run(t *testing.T, frames int) {
	t.Helper()
	for i := 0; i < frames; i++ {
		require.NoError(t, r.sched.Frame(), "frame %d", i)
	}
}

func TestRecordAdvanceBarriers(t *testing.T) {
	dev := gputest.New(gputest.Options{Families: split})
	bodies, err := NewBodyBuffer(dev, padded(t))
	require.NoError(t, err)

	cb, err := dev.NewCommandBuffer(gpu.Compute)
	require.NoError(t, err)
	var ops []gpu.OwnershipOp
	require.NoError(t, dev.RecordCompute(cb, func(rec gpu.ComputeRecorder) {
		ops = RecordAdvance(rec, bodies)
	}))
	require.Len(t, ops, 2)
	assert.Equal(t, gpu.OwnershipOp{Kind: gpu.OpAcquire, Buffer: bodies.Buffer, From: 0, To: 1}, ops[0])
	assert.Equal(t, gpu.OwnershipOp{Kind: gpu.OpRelease, Buffer: bodies.Buffer, From: 1, To: 0}, ops[1])
}

func TestBarriersAlternate(t *testing.T) {
	r := newRig(t, gputest.Options{Families: split, Latency: time.Millisecond}, Options{})
	handoff := len(r.dev.Transfers())
	assert.Equal(t, 3, handoff)

	r.run(t, 12)
	assert.Empty(t, r.dev.Violations)

	transfers := r.dev.Transfers()
	require.Len(t, transfers, handoff+12*4)
	// Each acquire completes the release executed just before it on the
	// other queue, with the same families and range. The last release
	// waits for the next frame.
	for i := 0; i+1 < len(transfers); i += 2 {
		release, acquire := transfers[i], transfers[i+1]
		assert.Equal(t, gpu.OpRelease, release.Kind, "transfer %d", i)
		assert.Equal(t, gpu.OpAcquire, acquire.Kind, "transfer %d", i+1)
		assert.NotEqual(t, release.Queue, acquire.Queue)
		assert.Equal(t, release.Barrier.SrcFamily, acquire.Barrier.SrcFamily)
		assert.Equal(t, release.Barrier.DstFamily, acquire.Barrier.DstFamily)
		assert.Equal(t, release.Barrier.Offset, acquire.Barrier.Offset)
		assert.Equal(t, release.Barrier.Size, acquire.Barrier.Size)
		assert.Equal(t, gpu.AccessNone, release.Barrier.DstAccess)
		assert.Equal(t, gpu.AccessNone, acquire.Barrier.SrcAccess)
	}
	assert.Equal(t, gpu.OpRelease, transfers[len(transfers)-1].Kind)

	owner, inTransit := r.dev.Owner(r.bodies.Buffer)
	assert.Equal(t, split.Compute, owner)
	assert.True(t, inTransit)
	assert.Equal(t, owner, r.bodies.Ownership().Owner())
	assert.Equal(t, inTransit, r.bodies.Ownership().InTransit())
}

func TestSharedFamilyRecordsNoTransfers(t *testing.T) {
	r := newRig(t, gputest.Options{Families: shared}, Options{})
	r.run(t, 6)

	assert.Empty(t, r.dev.Violations)
	assert.Empty(t, r.dev.Transfers())
	assert.Empty(t, r.cmds.Compute.Ops)
	owner, inTransit := r.dev.Owner(r.bodies.Buffer)
	assert.Equal(t, shared.Graphics, owner)
	assert.False(t, inTransit)
}

func TestSubmissionOrder(t *testing.T) {
	r := newRig(t, gputest.Options{Families: split, Images: 3, Latency: 2 * time.Millisecond}, Options{})
	r.run(t, 20)
	require.Empty(t, r.dev.Violations)
	assert.Positive(t, r.dev.Blocked)
	assert.Equal(t, 20, r.dev.Presents)
	assert.Equal(t, 20, r.dev.Dispatches)
	assert.Equal(t, 20, r.dev.BodyDraws)

	// The first submission arms the compute semaphore.
	subs := r.dev.Submissions
	require.Len(t, subs, 1+2*20)
	assert.Equal(t, gpu.Compute, subs[0].Queue)
	assert.Empty(t, subs[0].CommandBuffers)

	prevCompute := subs[0]
	for i := 1; i < len(subs); i += 2 {
		render, advance := subs[i], subs[i+1]
		require.Equal(t, gpu.Graphics, render.Queue)
		require.Equal(t, gpu.Compute, advance.Queue)
		assert.GreaterOrEqual(t, render.Start, prevCompute.Done, "render %d reads the previous advance", i)
		assert.GreaterOrEqual(t, advance.Start, render.Done, "advance %d waits for the render", i)
		prevCompute = advance
	}
	assert.Equal(t, []uint32{0, 1, 2, 0, 1}, r.images[:5])
	assert.Equal(t, Presented, r.sched.State())
	assert.Equal(t, uint64(20), r.sched.Frames())
}

func TestFramesMatchHostAdvance(t *testing.T) {
	host := padded(t)
	initial := append([]sim.Body(nil), host...)
	params := sim.DefaultParams(len(host))
	params.DeltaTime = 1.0 / 60

	r := newRig(t, gputest.Options{Families: split, Latency: time.Millisecond}, Options{})
	r.dev.OnDispatch = func(groups uint32) {
		assert.Equal(t, uint32(1), groups)
		sim.Advance(host, params)
	}
	r.run(t, 60)
	require.Empty(t, r.dev.Violations)

	assert.Equal(t, mgl32.Vec3{}, host[0].Position.Vec3())
	for i, p := range sim.Planets {
		assert.InDelta(t, p.Spin, host[i+1].Rotation[1], 1e-4, p.Name)
		assert.InDelta(t, p.Distance, host[i+1].Position.Vec3().Len(), 0.05, p.Name)
	}
	for i := 1 + len(sim.Planets); i < len(host); i++ {
		assert.Equal(t, initial[i], host[i])
	}
}

func TestRecreateOnOutOfDate(t *testing.T) {
	var r *rig
	recreated := 0
	recreate := func() error {
		recreated++
		r.dev.SetImages(2)
		return r.cmds.RecordGraphics(r.dev, r.scene)
	}
	r = newRig(t, gputest.Options{Families: split, Latency: time.Millisecond}, Options{Recreate: recreate})
	r.run(t, 2)

	r.dev.FailAcquire(1)
	require.NoError(t, r.sched.Frame())
	assert.Equal(t, 1, recreated)
	assert.Equal(t, 2, r.dev.Presents)
	assert.Equal(t, Idle, r.sched.State())

	r.run(t, 4)
	r.dev.FailPresent(1)
	require.NoError(t, r.sched.Frame())
	assert.Equal(t, 2, recreated)

	r.run(t, 5)
	assert.Empty(t, r.dev.Violations)
	for _, img := range r.images[len(r.images)-5:] {
		assert.Less(t, img, uint32(2))
	}
}

func TestRequestRecreate(t *testing.T) {
	calls := 0
	r := newRig(t, gputest.Options{Families: split}, Options{Recreate: func() error {
		calls++
		return nil
	}})
	r.sched.RequestRecreate()
	r.run(t, 2)
	assert.Equal(t, 1, calls)
}

func TestOwnershipViolationIsFatal(t *testing.T) {
	dev := gputest.New(gputest.Options{Families: split})
	bodies, err := NewBodyBuffer(dev, padded(t))
	require.NoError(t, err)
	cmds := &Commands{}
	require.NoError(t, cmds.Record(dev, Scene{Bodies: bodies}))

	// Without the handoff nothing has released the buffer to graphics.
	s, err := NewScheduler(dev, SourceFunc(func(uint32) error { return nil }), cmds, bodies.Ownership(), Options{})
	require.NoError(t, err)
	err = s.Frame()
	assert.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, err, gpu.ErrOwnership)
	assert.Equal(t, 0, dev.Dispatches)
}

func TestSourceErrorIsFatal(t *testing.T) {
	boom := errors.New("boom")
	dev := gputest.New(gputest.Options{Families: split})
	bodies, err := NewBodyBuffer(dev, padded(t))
	require.NoError(t, err)
	require.NoError(t, bodies.Handoff(dev))
	cmds := &Commands{}
	require.NoError(t, cmds.Record(dev, Scene{Bodies: bodies}))

	fail := true
	src := SourceFunc(func(uint32) error {
		if fail {
			fail = false
			return boom
		}
		return nil
	})
	s, err := NewScheduler(dev, src, cmds, bodies.Ownership(), Options{})
	require.NoError(t, err)

	err = s.Frame()
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrFatal)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, 0, s.Slot())

	// The acquire semaphore of the failed frame must not stay signaled.
	require.NoError(t, s.Frame())
	assert.Equal(t, uint64(1), s.Frames())
	assert.Empty(t, dev.Violations)
}

func TestUnsignaledFenceTimesOut(t *testing.T) {
	r := newRig(t, gputest.Options{Families: split}, Options{})
	// A fence reset outside the scheduler is never signaled again.
	require.NoError(t, r.dev.ResetFences(r.sched.inFlight[0]))
	err := r.sched.Frame()
	assert.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, err, gpu.ErrTimeout)
}

func TestNewBodyBufferValidates(t *testing.T) {
	dev := gputest.New(gputest.Options{Families: split})
	_, err := NewBodyBuffer(dev, make([]sim.Body, 100))
	assert.Error(t, err)

	small := gputest.New(gputest.Options{Families: split, Limits: gpu.Limits{MaxComputeWorkGroupCount: 1}})
	_, err = NewBodyBuffer(small, make([]sim.Body, 512))
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "graphics-submitted", GraphicsSubmitted.String())
	assert.Equal(t, "state(9)", State(9).String())
}
