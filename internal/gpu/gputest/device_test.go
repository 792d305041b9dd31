package gputest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orrery/internal/gpu"
)

var split = gpu.Families{Graphics: 0, Compute: 1, Transfer: 1, Present: 0}

func TestSubmitTimeline(t *testing.T) {
	d := New(Options{Families: split, Latency: 5 * time.Millisecond})
	sem, _ := d.NewSemaphore()
	fence, _ := d.NewFence(false)

	require.NoError(t, d.Submit(gpu.Graphics, gpu.Batch{Signal: []gpu.Semaphore{sem}}, gpu.NoFence))
	require.NoError(t, d.Submit(gpu.Compute, gpu.Batch{
		Wait: []gpu.Wait{{Semaphore: sem, Stage: gpu.StageComputeShader}},
	}, fence))
	require.Len(t, d.Submissions, 2)
	assert.Equal(t, 5*time.Millisecond, d.Submissions[1].Start)
	assert.Equal(t, 10*time.Millisecond, d.Submissions[1].Done)

	require.NoError(t, d.WaitFences([]gpu.Fence{fence}, time.Second))
	assert.Equal(t, 10*time.Millisecond, d.Now())
	assert.Equal(t, 1, d.Blocked)
	assert.Empty(t, d.Violations)
}

func TestFenceMisuse(t *testing.T) {
	d := New(Options{Families: split, Latency: time.Millisecond})
	idle, _ := d.NewFence(false)
	assert.ErrorIs(t, d.WaitFences([]gpu.Fence{idle}, time.Second), gpu.ErrTimeout)

	signaled, _ := d.NewFence(true)
	require.NoError(t, d.Submit(gpu.Graphics, gpu.Batch{}, signaled))
	assert.Len(t, d.Violations, 1)

	require.NoError(t, d.ResetFences(signaled))
	require.NoError(t, d.Submit(gpu.Graphics, gpu.Batch{}, signaled))
	require.NoError(t, d.ResetFences(signaled))
	assert.Len(t, d.Violations, 2)
}

func TestSemaphoreMisuse(t *testing.T) {
	d := New(Options{Families: split})
	sem, _ := d.NewSemaphore()
	require.NoError(t, d.Submit(gpu.Graphics, gpu.Batch{
		Wait: []gpu.Wait{{Semaphore: sem, Stage: gpu.StageVertexInput}},
	}, gpu.NoFence))
	require.NoError(t, d.Submit(gpu.Graphics, gpu.Batch{Signal: []gpu.Semaphore{sem}}, gpu.NoFence))
	require.NoError(t, d.Submit(gpu.Graphics, gpu.Batch{Signal: []gpu.Semaphore{sem}}, gpu.NoFence))
	assert.Len(t, d.Violations, 2)
}

func TestCommandBufferChecks(t *testing.T) {
	d := New(Options{Families: split, Latency: time.Millisecond})
	cb, _ := d.NewCommandBuffer(gpu.Compute)
	require.NoError(t, d.Submit(gpu.Compute, gpu.Batch{CommandBuffers: []gpu.CommandBuffer{cb}}, gpu.NoFence))
	assert.Len(t, d.Violations, 1, "unrecorded")

	assert.Error(t, d.RecordGraphics(cb, 0, func(gpu.GraphicsRecorder) {}))
	require.NoError(t, d.RecordCompute(cb, func(gpu.ComputeRecorder) {}))
	require.NoError(t, d.Submit(gpu.Compute, gpu.Batch{CommandBuffers: []gpu.CommandBuffer{cb}}, gpu.NoFence))
	require.NoError(t, d.Submit(gpu.Compute, gpu.Batch{CommandBuffers: []gpu.CommandBuffer{cb}}, gpu.NoFence))
	assert.Len(t, d.Violations, 2, "resubmitted in flight")
}

func TestTransferChecks(t *testing.T) {
	d := New(Options{Families: split})
	buf, _ := d.NewBuffer(gpu.UsageStorage, make([]byte, 64))
	tr := gpu.GraphicsToCompute(buf, 64, split)

	require.NoError(t, d.OneShot(gpu.Compute, func(rec gpu.BarrierRecorder) {
		gpu.Acquire(rec, tr)
	}))
	require.Len(t, d.Violations, 1, "acquire without release")

	require.NoError(t, d.OneShot(gpu.Graphics, func(rec gpu.BarrierRecorder) {
		gpu.Release(rec, tr)
	}))
	owner, inTransit := d.Owner(buf)
	assert.Equal(t, split.Graphics, owner)
	assert.True(t, inTransit)

	require.NoError(t, d.OneShot(gpu.Compute, func(rec gpu.BarrierRecorder) {
		gpu.Acquire(rec, tr)
	}))
	owner, inTransit = d.Owner(buf)
	assert.Equal(t, split.Compute, owner)
	assert.False(t, inTransit)
	assert.Len(t, d.Violations, 1)

	partial := gpu.ComputeToGraphics(buf, 32, split)
	require.NoError(t, d.OneShot(gpu.Compute, func(rec gpu.BarrierRecorder) {
		gpu.Release(rec, partial)
	}))
	assert.Len(t, d.Violations, 2, "partial range")
	assert.Len(t, d.Transfers(), 4)
}

func TestDrawRequiresOwnership(t *testing.T) {
	d := New(Options{Families: split})
	buf, _ := d.NewBuffer(gpu.UsageVertex|gpu.UsageStorage, make([]byte, 128))
	cb, _ := d.NewCommandBuffer(gpu.Compute)
	require.NoError(t, d.RecordCompute(cb, func(rec gpu.ComputeRecorder) {
		rec.BindAdvance(buf)
		rec.Dispatch(1)
	}))
	require.NoError(t, d.Submit(gpu.Compute, gpu.Batch{CommandBuffers: []gpu.CommandBuffer{cb}}, gpu.NoFence))
	assert.Equal(t, 1, d.Dispatches)
	require.Len(t, d.Violations, 1)
	assert.Contains(t, d.Violations[0], "dispatch on family 1")
}

func TestAcquireAndPresentFailures(t *testing.T) {
	d := New(Options{Families: split, Images: 2})
	sem, _ := d.NewSemaphore()
	d.FailAcquire(1)
	_, err := d.AcquireNextImage(sem, time.Second)
	assert.ErrorIs(t, err, gpu.ErrOutOfDate)

	img, err := d.AcquireNextImage(sem, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), img)

	d.FailPresent(1)
	assert.ErrorIs(t, d.Present(img, sem), gpu.ErrOutOfDate)
	assert.Equal(t, 1, d.Presents)
	assert.Empty(t, d.Violations)
}
