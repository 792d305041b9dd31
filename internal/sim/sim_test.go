package sim

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyLayout(t *testing.T) {
	assert.Equal(t, 128, BodySize)
	assert.Equal(t, 32, ParamsSize)
	assert.Len(t, Bytes(make([]Body, 3)), 3*BodySize)
	assert.Nil(t, Bytes(nil))
}

func TestRoundToGroup(t *testing.T) {
	tests := []struct {
		n, want int
	}{
		{n: 4 * WorkGroupSize, want: 4 * WorkGroupSize},
		{n: 4*WorkGroupSize - 1, want: 3 * WorkGroupSize},
		{n: 4*WorkGroupSize + 1, want: 4 * WorkGroupSize},
		{n: WorkGroupSize - 1, want: 0},
		{n: 0, want: 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundToGroup(tt.n, WorkGroupSize), "n=%d", tt.n)
	}
	assert.Zero(t, RoundToGroup(10, 0))
}

func TestClampSpeed(t *testing.T) {
	assert.Equal(t, float32(0), ClampSpeed(-5))
	assert.Equal(t, float32(300), ClampSpeed(1e6))
	assert.Equal(t, float32(12.5), ClampSpeed(12.5))

	p := DefaultParams(256)
	p.SetSpeed(-1)
	assert.Equal(t, float32(MinSpeed), p.Speed)
	p.SetSpeed(301)
	assert.Equal(t, float32(MaxSpeed), p.Speed)
}

func TestSpawnCounts(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		maxGroups uint32
		want      int
	}{
		{name: "exact multiple", count: 1024, want: 1024},
		{name: "trimmed", count: 1000, want: 768},
		{name: "device cap", count: 100000, maxGroups: 8, want: 8 * WorkGroupSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bodies, err := Spawn(SpawnOptions{Count: tt.count, MaxGroups: tt.maxGroups, Rand: NewRand(7)})
			require.NoError(t, err)
			assert.Len(t, bodies, tt.want)
			assert.Zero(t, len(bodies)%WorkGroupSize)
		})
	}
}

func TestSpawnTooFew(t *testing.T) {
	_, err := Spawn(SpawnOptions{Count: 200, Rand: NewRand(1)})
	assert.ErrorIs(t, err, ErrTooFewBodies)
}

func TestSpawnNegativeCentralMass(t *testing.T) {
	_, err := Spawn(SpawnOptions{Count: 512, CentralMass: -5, Rand: NewRand(1)})
	assert.Error(t, err)
}

func TestSpawnLayout(t *testing.T) {
	bodies, err := Spawn(SpawnOptions{Count: 512, Rand: NewRand(3)})
	require.NoError(t, err)

	sun := bodies[0]
	assert.Equal(t, mgl32.Vec3{}, sun.Position.Vec3())
	assert.Equal(t, NoParent, sun.Parent())
	assert.Equal(t, LayerSun, sun.Layer())

	for i, p := range Planets {
		b := bodies[i+1]
		assert.Equal(t, i+1, b.Layer(), p.Name)
		assert.InDelta(t, p.Distance, b.Position.Vec3().Len(), 1e-4, p.Name)
		assert.InDelta(t, CircularSpeed(p.Distance, DefaultCentralMass), b.Velocity.Vec3().Len(), 1e-4, p.Name)
	}

	moon := bodies[len(Planets)+1]
	assert.Equal(t, earthIndex, moon.Parent())
	assert.Equal(t, LayerMoon, moon.Layer())

	rings := 0
	for _, b := range bodies[FixedBodies:] {
		switch b.Layer() {
		case LayerRing:
			rings++
			assert.Equal(t, saturnIndex, b.Parent())
		case LayerAsteroid:
			assert.Equal(t, NoParent, b.Parent())
		default:
			t.Fatalf("unexpected particle layer %d", b.Layer())
		}
	}
	assert.Equal(t, (512-FixedBodies)/3, rings)
}

func TestSpawnDeterministicSeed(t *testing.T) {
	a, err := Spawn(SpawnOptions{Count: 256, Rand: NewRand(42)})
	require.NoError(t, err)
	b, err := Spawn(SpawnOptions{Count: 256, Rand: NewRand(42)})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAdvanceSpinAndSun(t *testing.T) {
	bodies, err := Spawn(SpawnOptions{Count: 256, Rand: NewRand(9)})
	require.NoError(t, err)
	bodies = bodies[:1+len(Planets)]

	p := DefaultParams(len(bodies))
	p.DeltaTime = 1.0 / 60
	for i := 0; i < 60; i++ {
		Advance(bodies, p)
		assert.Equal(t, mgl32.Vec3{}, bodies[0].Position.Vec3())
	}
	for i, pl := range Planets {
		assert.InDelta(t, pl.Spin, bodies[i+1].Rotation[1], 1e-4, pl.Name)
		// A circular orbit keeps its radius within integration error.
		assert.InDelta(t, pl.Distance, bodies[i+1].Position.Vec3().Len(), 0.05, pl.Name)
	}
}

func TestAdvanceSatelliteFollowsParent(t *testing.T) {
	bodies := []Body{
		{
			Position: mgl32.Vec4{10, 0, 0, 1},
			Velocity: mgl32.Vec4{0, 0, 2, 0},
			Offset:   mgl32.Vec4{0, 0, 0, NoParent},
		},
		{
			Velocity: mgl32.Vec4{0, 0, 0, 1},
			Offset:   mgl32.Vec4{2, 0, 0, 0},
		},
	}
	p := Params{DeltaTime: 0.5, Speed: 1, CentralMass: 0}
	Advance(bodies, p)

	parent := bodies[0].Position.Vec3()
	assert.InDelta(t, 10, parent[0], 1e-6)
	assert.InDelta(t, 1, parent[2], 1e-6)
	offset := bodies[1].Position.Vec3().Sub(parent)
	assert.InDelta(t, 2, offset.Len(), 1e-5)
	assert.True(t, bodies[1].Offset.Vec3().ApproxEqualThreshold(offset, 1e-5))
}

func TestAdvanceSpeedZeroFreezes(t *testing.T) {
	bodies, err := Spawn(SpawnOptions{Count: 256, Rand: NewRand(5)})
	require.NoError(t, err)
	before := append([]Body(nil), bodies...)

	p := DefaultParams(len(bodies))
	p.DeltaTime = 0.1
	p.SetSpeed(-3)
	Advance(bodies, p)
	assert.Equal(t, before, bodies)
}

func TestSpeedControlClampsPresses(t *testing.T) {
	c := NewSpeedControl(1)
	for i := 0; i < 40; i++ {
		c.Change(10)
	}
	assert.Equal(t, float32(MaxSpeed), c.Speed())

	var p Params
	c.Apply(&p)
	assert.Equal(t, float32(MaxSpeed), p.Speed)

	c.Change(-5)
	assert.Equal(t, float32(295), c.Speed())

	for i := 0; i < 40; i++ {
		c.Change(-10)
	}
	assert.Equal(t, float32(MinSpeed), c.Speed())
	c.Apply(&p)
	assert.Equal(t, float32(MinSpeed), p.Speed)

	assert.Equal(t, float32(MaxSpeed), NewSpeedControl(1e6).Speed())
}

func TestSpeedControlPause(t *testing.T) {
	c := NewSpeedControl(4)

	assert.True(t, c.TogglePause())
	assert.True(t, c.Paused())
	assert.Equal(t, float32(0), c.Speed())

	// Presses while paused change the resume speed only.
	c.Change(2)
	assert.Equal(t, float32(0), c.Speed())
	for i := 0; i < 100; i++ {
		c.Change(5)
	}
	assert.Equal(t, float32(0), c.Speed())

	assert.False(t, c.TogglePause())
	assert.Equal(t, float32(MaxSpeed), c.Speed())

	c.TogglePause()
	for i := 0; i < 100; i++ {
		c.Change(-5)
	}
	c.TogglePause()
	assert.Equal(t, float32(MinSpeed), c.Speed())
}
