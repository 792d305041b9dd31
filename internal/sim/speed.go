package sim

// SpeedControl is the user-facing speed multiplier. Every value it hands
// out is already clamped to [MinSpeed, MaxSpeed].
type SpeedControl struct {
	speed float32
	// resume is restored when the pause is lifted.
	resume float32
	paused bool
}

// NewSpeedControl starts unpaused at initial.
func NewSpeedControl(initial float32) *SpeedControl {
	s := ClampSpeed(initial)
	return &SpeedControl{speed: s, resume: s}
}

// Speed returns the multiplier to write to the parameter block.
func (c *SpeedControl) Speed() float32 { return c.speed }

func (c *SpeedControl) Paused() bool { return c.paused }

// Change adds delta. While paused it adjusts the speed restored on
// resume and the effective speed stays zero.
func (c *SpeedControl) Change(delta float32) {
	if c.paused {
		c.resume = ClampSpeed(c.resume + delta)
		return
	}
	c.speed = ClampSpeed(c.speed + delta)
	c.resume = c.speed
}

// TogglePause freezes or restores the speed and reports whether the
// control is paused afterwards.
func (c *SpeedControl) TogglePause() bool {
	if c.paused {
		c.speed = c.resume
	} else {
		c.resume = c.speed
		c.speed = MinSpeed
	}
	c.paused = !c.paused
	return c.paused
}

// Apply stores the current speed in p.
func (c *SpeedControl) Apply(p *Params) { p.SetSpeed(c.speed) }
