package orbit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointCount(t *testing.T) {
	tests := []struct {
		radius, step float64
		want         int
	}{
		{radius: 1, step: 0.5, want: 20},
		{radius: 2.5, step: 0.25, want: 100},
		{radius: 10, step: 3, want: 40},
		{radius: 15, step: 0.15, want: int(math.Ceil(10/0.15) * 15)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PointCount(tt.radius, tt.step), "r=%g t=%g", tt.radius, tt.step)
	}
}

func TestPrecomputeSpans(t *testing.T) {
	traces, err := Precompute([]Input{
		{Radius: 1, Timestep: 0.5},
		{Radius: 2.5, Timestep: 0.25},
		{Radius: 10, Timestep: 3},
	}, 50)
	require.NoError(t, err)

	require.Len(t, traces.Spans, 3)
	assert.Equal(t, Span{First: 0, Count: 20}, traces.Spans[0])
	assert.Equal(t, Span{First: 20, Count: 100}, traces.Spans[1])
	assert.Equal(t, Span{First: 120, Count: 40}, traces.Spans[2])
	assert.Len(t, traces.Points, 160)
	assert.Len(t, traces.Bytes(), 160*8)
}

func TestPrecomputeStaysNearCircle(t *testing.T) {
	const gm = 50.0
	r := 15.0
	traces, err := Precompute([]Input{{Radius: r}}, gm)
	require.NoError(t, err)
	require.Len(t, traces.Spans, 1)
	assert.Equal(t, uint32(PointCount(r, r*TimestepScale)), traces.Spans[0].Count)

	for _, p := range traces.Points {
		d := math.Hypot(float64(p[0]), float64(p[1]))
		assert.InDelta(t, r, d, 0.5)
	}
	// First step moves toward +Z.
	assert.Greater(t, traces.Points[0][1], float32(0))
}

func TestPrecomputeRejectsDegenerateInput(t *testing.T) {
	for _, in := range []Input{
		{Radius: 0, Timestep: 1},
		{Radius: -3, Timestep: 1},
		{Radius: 4, Timestep: -1},
	} {
		_, err := Precompute([]Input{in}, 50)
		assert.ErrorIs(t, err, ErrDegenerate, "%+v", in)
	}
}
