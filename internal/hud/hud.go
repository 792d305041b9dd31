// Package hud builds the text overlay drawn over the scene: frame rate
// and simulation speed in a small bitmap font.
package hud

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// MaxVertices bounds the overlay vertex buffer.
const MaxVertices = 6 * 15 * 24

// Vertex is one overlay vertex in normalized device coordinates.
type Vertex struct {
	Pos   mgl32.Vec2
	Color mgl32.Vec3
}

// VertexSize is the vertex stride in bytes.
const VertexSize = int(unsafe.Sizeof(Vertex{}))

// Style places and colours the overlay, in pixels.
type Style struct {
	CellW, CellH float32
	Margin       float32
	Space        float32
	Color        mgl32.Vec3
}

// DefaultStyle is the look of the overlay.
var DefaultStyle = Style{CellW: 4, CellH: 6, Margin: 8, Space: 4, Color: mgl32.Vec3{1, 1, 1}}

// Text returns the overlay line for the given rates.
func Text(fps, speed float64) string {
	return fmt.Sprintf("FPS %.1f SPEED %.1fX", fps, speed)
}

// Build converts text into quads for a framebuffer of the given size.
// The result never exceeds MaxVertices.
func Build(text string, width, height uint32, st Style) []Vertex {
	if width == 0 || height == 0 {
		return nil
	}
	var verts []Vertex
	x, y := st.Margin, st.Margin
	for _, ch := range text {
		pattern := Glyph(ch)
		for row := range pattern {
			for col := range pattern[row] {
				if pattern[row][col] != '1' {
					continue
				}
				px := x + float32(col)*st.CellW
				py := y + float32(row)*st.CellH
				verts = append(verts, quad(px, py, st.CellW, st.CellH, st.Color, width, height)...)
			}
		}
		x += float32(len(pattern[0]))*st.CellW + st.Space
		if len(verts) >= MaxVertices {
			return verts[:MaxVertices]
		}
	}
	return verts
}

// quad makes two triangles for a pixel rectangle mapped to NDC.
func quad(x, y, w, h float32, color mgl32.Vec3, width, height uint32) []Vertex {
	toNDC := func(px, py float32) mgl32.Vec2 {
		return mgl32.Vec2{px/float32(width)*2 - 1, py/float32(height)*2 - 1}
	}
	p0 := toNDC(x, y)
	p1 := toNDC(x+w, y)
	p2 := toNDC(x+w, y+h)
	p3 := toNDC(x, y+h)
	return []Vertex{
		{Pos: p0, Color: color},
		{Pos: p1, Color: color},
		{Pos: p2, Color: color},
		{Pos: p2, Color: color},
		{Pos: p3, Color: color},
		{Pos: p0, Color: color},
	}
}

var font = map[rune][]string{
	'0': {"111", "101", "101", "101", "111"},
	'1': {"010", "110", "010", "010", "111"},
	'2': {"111", "001", "111", "100", "111"},
	'3': {"111", "001", "111", "001", "111"},
	'4': {"101", "101", "111", "001", "001"},
	'5': {"111", "100", "111", "001", "111"},
	'6': {"111", "100", "111", "101", "111"},
	'7': {"111", "001", "001", "001", "001"},
	'8': {"111", "101", "111", "101", "111"},
	'9': {"111", "101", "111", "001", "111"},
	'D': {"110", "101", "101", "101", "110"},
	'E': {"111", "100", "110", "100", "111"},
	'F': {"111", "100", "110", "100", "100"},
	'P': {"111", "101", "111", "100", "100"},
	'S': {"111", "100", "111", "001", "111"},
	'X': {"101", "101", "010", "101", "101"},
	':': {"000", "010", "000", "010", "000"},
	'.': {"000", "000", "000", "000", "010"},
	'-': {"000", "000", "111", "000", "000"},
	' ': {"000", "000", "000", "000", "000"},
}

// Glyph returns the bitmap rows for ch. Unknown runes render as a space.
func Glyph(ch rune) []string {
	if p, ok := font[ch]; ok {
		return p
	}
	return font[' ']
}

// Bytes returns vertices as uploaded to the overlay vertex buffer.
func Bytes(verts []Vertex) []byte {
	if len(verts) == 0 {
		return nil
	}
	size := len(verts) * VertexSize
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&verts[0])), size))
	return out
}

// Counter measures frames per second over one-second windows.
type Counter struct {
	frames int
	since  time.Time
	fps    float64
}

// Tick counts a frame and returns the latest rate.
func (c *Counter) Tick(now time.Time) float64 {
	if c.since.IsZero() {
		c.since = now
	}
	c.frames++
	if elapsed := now.Sub(c.since); elapsed >= time.Second {
		c.fps = float64(c.frames) / elapsed.Seconds()
		c.frames = 0
		c.since = now
	}
	return c.fps
}
