package hud

import (
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func litCells(text string) int {
	n := 0
	for _, ch := range text {
		for _, row := range Glyph(ch) {
			n += strings.Count(row, "1")
		}
	}
	return n
}

func TestBuildQuadPerLitCell(t *testing.T) {
	text := Text(59.94, 2)
	assert.Equal(t, "FPS 59.9 SPEED 2.0X", text)

	verts := Build(text, 800, 600, DefaultStyle)
	assert.Len(t, verts, 6*litCells(text))
	assert.Len(t, Bytes(verts), len(verts)*VertexSize)
}

func TestBuildMapsPixelsToNDC(t *testing.T) {
	st := Style{CellW: 10, CellH: 10, Margin: 0, Color: mgl32.Vec3{1, 0, 0}}
	verts := Build("1", 100, 100, st)
	require.NotEmpty(t, verts)
	// '1' has its first lit cell at column 1 of row 0.
	assert.True(t, verts[0].Pos.ApproxEqualThreshold(mgl32.Vec2{-0.8, -1}, 1e-6))
	assert.True(t, verts[2].Pos.ApproxEqualThreshold(mgl32.Vec2{-0.6, -0.8}, 1e-6))
	assert.Equal(t, st.Color, verts[0].Color)
}

func TestBuildLimits(t *testing.T) {
	assert.Nil(t, Build("FPS", 0, 600, DefaultStyle))
	long := strings.Repeat("8", 200)
	assert.Len(t, Build(long, 800, 600, DefaultStyle), MaxVertices)
}

func TestGlyphFallback(t *testing.T) {
	assert.Equal(t, Glyph(' '), Glyph('?'))
	for _, ch := range "FPS SPEED 0123456789.X" {
		assert.Len(t, Glyph(ch), 5)
	}
}

func TestCounter(t *testing.T) {
	var c Counter
	start := time.Unix(100, 0)
	for i := 0; i < 30; i++ {
		assert.Zero(t, c.Tick(start.Add(time.Duration(i)*time.Second/30)))
	}
	assert.InDelta(t, 31, c.Tick(start.Add(time.Second)), 1e-9)
}
