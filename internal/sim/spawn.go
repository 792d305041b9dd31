package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// DefaultCentralMass is G·M of the sun in scene units.
const DefaultCentralMass = 50

// Texture layers. Planets use 1 through 8 in table order.
const (
	LayerSun      = 0
	LayerMoon     = 9
	LayerAsteroid = 10
	LayerRing     = 11
	LayerCount    = 12
)

// Major describes a planet.
type Major struct {
	Name     string
	Distance float32
	Radius   float32
	// Spin is the rotation speed about the body's Y axis, rad/s.
	Spin float32
	// Tilt is the axial tilt, radians.
	Tilt float32
	Tint mgl32.Vec4
}

// Planets is the fixed planet table, ordered by distance.
var Planets = []Major{
	{Name: "mercury", Distance: 8, Radius: 0.4, Spin: 0.2, Tilt: 0.0, Tint: mgl32.Vec4{0.8, 0.75, 0.7, 1}},
	{Name: "venus", Distance: 11, Radius: 0.9, Spin: -0.1, Tilt: 0.05, Tint: mgl32.Vec4{1, 0.9, 0.7, 1}},
	{Name: "earth", Distance: 15, Radius: 1, Spin: 1.0, Tilt: 0.41, Tint: mgl32.Vec4{0.6, 0.8, 1, 1}},
	{Name: "mars", Distance: 19, Radius: 0.55, Spin: 0.95, Tilt: 0.44, Tint: mgl32.Vec4{1, 0.6, 0.45, 1}},
	{Name: "jupiter", Distance: 30, Radius: 2.8, Spin: 2.4, Tilt: 0.05, Tint: mgl32.Vec4{1, 0.85, 0.7, 1}},
	{Name: "saturn", Distance: 40, Radius: 2.3, Spin: 2.2, Tilt: 0.47, Tint: mgl32.Vec4{1, 0.95, 0.75, 1}},
	{Name: "uranus", Distance: 50, Radius: 1.6, Spin: -1.4, Tilt: 1.71, Tint: mgl32.Vec4{0.7, 0.95, 1, 1}},
	{Name: "neptune", Distance: 58, Radius: 1.5, Spin: 1.5, Tilt: 0.49, Tint: mgl32.Vec4{0.5, 0.6, 1, 1}},
}

const (
	sunRadius    = 5
	sunSpin      = 0.05
	earthIndex   = 3
	saturnIndex  = 6
	moonDistance = 1.8
	moonRadius   = 0.27
	moonRate     = 1.2

	beltInner = 22
	beltOuter = 26
	ringInner = 3.2
	ringOuter = 5.5
	ringRate  = 10
)

// FixedBodies is the number of records never trimmed: the sun, the
// planets and the moon.
var FixedBodies = 1 + len(Planets) + 1

// ErrTooFewBodies is returned when the record count cannot hold the
// fixed bodies.
var ErrTooFewBodies = errors.New("sim: body count below fixed bodies")

// SpawnOptions configure Spawn.
type SpawnOptions struct {
	// Count is the requested number of records. It is capped by
	// MaxGroups and rounded down to a multiple of WorkGroupSize.
	Count int
	// MaxGroups is the device work group limit, 0 for none.
	MaxGroups   uint32
	CentralMass float32
	Rand        *rand.Rand
}

// RecordCount returns the number of records Spawn will produce.
func RecordCount(count int, maxGroups uint32) int {
	if maxGroups > 0 && count > int(maxGroups)*WorkGroupSize {
		count = int(maxGroups) * WorkGroupSize
	}
	return RoundToGroup(count, WorkGroupSize)
}

// Spawn builds the initial body state: the sun at the origin, the
// planets on circular orbits, the moon around the earth, then belt
// asteroids and saturn ring particles filling the remaining records.
func Spawn(opts SpawnOptions) ([]Body, error) {
	n := RecordCount(opts.Count, opts.MaxGroups)
	if n < FixedBodies {
		return nil, fmt.Errorf("%w: %d records (requested %d) for %d fixed bodies",
			ErrTooFewBodies, n, opts.Count, FixedBodies)
	}
	gm := opts.CentralMass
	if gm == 0 {
		gm = DefaultCentralMass
	}
	if gm < 0 {
		return nil, fmt.Errorf("central mass %v is negative", gm)
	}
	rng := opts.Rand
	if rng == nil {
		rng = NewRand(0)
	}

	bodies := make([]Body, 0, n)
	bodies = append(bodies, Body{
		Position:      mgl32.Vec4{0, 0, 0, 1000},
		Scale:         mgl32.Vec4{sunRadius, sunRadius, sunRadius, LayerSun},
		RotationSpeed: mgl32.Vec4{0, sunSpin, 0, 0},
		Offset:        mgl32.Vec4{0, 0, 0, NoParent},
		Tint:          mgl32.Vec4{1, 1, 1, 1},
	})
	for i, p := range Planets {
		pos := mgl32.Vec3{p.Distance, 0, 0}
		bodies = append(bodies, Body{
			Position:      pos.Vec4(p.Radius),
			Velocity:      circularVelocity(pos, gm).Vec4(0),
			Scale:         mgl32.Vec4{p.Radius, p.Radius, p.Radius, float32(i + 1)},
			RotationSpeed: mgl32.Vec4{0, p.Spin, 0, 0},
			Offset:        mgl32.Vec4{0, 0, 0, NoParent},
			Tilt:          mgl32.Vec4{0, 0, p.Tilt, 0},
			Tint:          p.Tint,
		})
	}
	earth := bodies[earthIndex].Position
	bodies = append(bodies, Body{
		Position:      mgl32.Vec4{earth[0] + moonDistance, 0, 0, 0.01},
		Velocity:      mgl32.Vec4{0, 0, 0, moonRate},
		Scale:         mgl32.Vec4{moonRadius, moonRadius, moonRadius, LayerMoon},
		RotationSpeed: mgl32.Vec4{0, 0.3, 0, 0},
		Offset:        mgl32.Vec4{moonDistance, 0, 0, earthIndex},
		Tint:          mgl32.Vec4{0.85, 0.85, 0.85, 1},
	})

	particles := n - len(bodies)
	rings := particles / 3
	for i := 0; i < particles-rings; i++ {
		bodies = append(bodies, asteroid(rng, gm))
	}
	for i := 0; i < rings; i++ {
		bodies = append(bodies, ringParticle(rng, bodies[saturnIndex].Position))
	}
	return bodies, nil
}

func asteroid(rng *rand.Rand, gm float32) Body {
	r := beltInner + rng.Float32()*(beltOuter-beltInner)
	theta := rng.Float32() * 2 * math32.Pi
	sin, cos := math32.Sincos(theta)
	pos := mgl32.Vec3{r * cos, (rng.Float32() - 0.5) * 0.6, r * sin}
	size := 0.04 + rng.Float32()*0.12
	spin := (rng.Float32() - 0.5) * 4
	return Body{
		Position:      pos.Vec4(0),
		Velocity:      circularVelocity(pos, gm).Vec4(0),
		Scale:         mgl32.Vec4{size, size * (0.6 + rng.Float32()*0.4), size, LayerAsteroid},
		RotationSpeed: mgl32.Vec4{spin, spin * 0.5, 0, 0},
		Offset:        mgl32.Vec4{0, 0, 0, NoParent},
		Tint:          mgl32.Vec4{0.6, 0.55, 0.5, 1},
	}
}

func ringParticle(rng *rand.Rand, parent mgl32.Vec4) Body {
	r := ringInner + rng.Float32()*(ringOuter-ringInner)
	theta := rng.Float32() * 2 * math32.Pi
	sin, cos := math32.Sincos(theta)
	offset := mgl32.Vec3{r * cos, (rng.Float32() - 0.5) * 0.05, r * sin}
	size := 0.02 + rng.Float32()*0.05
	rate := ringRate / math32.Sqrt(r*r*r)
	return Body{
		Position: parent.Vec3().Add(offset).Vec4(0),
		Velocity: mgl32.Vec4{0, 0, 0, rate},
		Scale:    mgl32.Vec4{size, size, size, LayerRing},
		Offset:   offset.Vec4(saturnIndex),
		Tint:     mgl32.Vec4{0.9, 0.85, 0.7, 1},
	}
}

// NewRand returns a random source. A zero seed is replaced by the
// current time, so only non-zero seeds reproduce a layout.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^math.MaxUint32))
}
