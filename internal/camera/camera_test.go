package camera

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestDragRotates(t *testing.T) {
	c := New(DefaultOptions())
	start := c.Rotation

	c.CursorMoved(100, 100, 0.5)
	assert.Equal(t, start, c.Rotation, "moving without a drag does nothing")

	c.SetDragging(true)
	c.CursorMoved(100, 100, 0.5)
	c.CursorMoved(90, 120, 0.5)

	speed := DefaultOptions().RotationSpeed
	// dy = 100-120 = -20, dx = 100-90 = 10
	assert.InDelta(t, start[0]-20*speed*0.5, c.Rotation[0], 1e-4)
	assert.InDelta(t, start[1]-10*speed*0.5, c.Rotation[1], 1e-4)
}

func TestScrollClamps(t *testing.T) {
	opts := DefaultOptions()
	c := New(opts)
	c.Scroll(1)
	assert.Equal(t, opts.Zoom+opts.ZoomSpeed, c.Zoom)
	c.Scroll(1000)
	assert.Equal(t, opts.MaxZoom, c.Zoom)
	c.Scroll(-1000)
	assert.Equal(t, opts.MinZoom, c.Zoom)
}

func TestViewTranslatesByZoom(t *testing.T) {
	c := New(DefaultOptions())
	c.Rotation = mgl32.Vec3{}
	origin := c.View().Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, c.Zoom, origin[2], 1e-5)
}

func TestProjectionFlipsY(t *testing.T) {
	c := New(DefaultOptions())
	ubo := c.UBO(800, 600)
	plain := mgl32.Perspective(mgl32.DegToRad(60), 800.0/600.0, 0.1, 2000)
	assert.InDelta(t, -plain[5], ubo.Projection[5], 1e-6)
	assert.Equal(t, mgl32.Ident4(), ubo.Model)
}
