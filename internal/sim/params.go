package sim

import (
	"unsafe"

	"github.com/chewxy/math32"
)

// WorkGroupSize is the number of records one compute work group
// advances. It must match local_size_x in shaders/advance.comp.
const WorkGroupSize = 256

const (
	MinSpeed = 0
	MaxSpeed = 300
)

// Params is the compute parameter block, written once per frame.
type Params struct {
	DeltaTime   float32
	ObjectCount uint32
	Scale       float32
	Speed       float32
	// CentralMass is G·M of the body at the origin.
	CentralMass float32
	// MinRadius disables central acceleration closer to the origin.
	MinRadius float32
	_         [2]float32
}

// ParamsSize is the size of the parameter block in bytes.
const ParamsSize = int(unsafe.Sizeof(Params{}))

// DefaultParams returns parameters for count records.
func DefaultParams(count int) Params {
	return Params{
		ObjectCount: uint32(count),
		Scale:       1,
		Speed:       1,
		CentralMass: DefaultCentralMass,
		MinRadius:   0.5,
	}
}

// ClampSpeed limits a speed multiplier to [MinSpeed, MaxSpeed].
func ClampSpeed(s float32) float32 {
	if math32.IsNaN(s) {
		return MinSpeed
	}
	return math32.Max(MinSpeed, math32.Min(MaxSpeed, s))
}

// SetSpeed stores s after clamping it.
func (p *Params) SetSpeed(s float32) { p.Speed = ClampSpeed(s) }

// Bytes returns the block as written to the uniform buffer.
func (p *Params) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), ParamsSize)
}

// RoundToGroup returns the largest multiple of group not above n.
func RoundToGroup(n, group int) int {
	if group <= 0 || n <= 0 {
		return 0
	}
	return n - n%group
}

// Groups returns the number of work groups that advance count records.
func Groups(count int) uint32 {
	return uint32(count / WorkGroupSize)
}
