package asset

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ppm(w, h int, rgb [3]byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "P6\n# test\n%d %d\n255\n", w, h)
	for i := 0; i < w*h; i++ {
		b.Write(rgb[:])
	}
	return b.Bytes()
}

func TestDecodePPM(t *testing.T) {
	img, format, err := image.Decode(bytes.NewReader(ppm(3, 2, [3]byte{10, 20, 30})))
	require.NoError(t, err)
	assert.Equal(t, "ppm", format)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
	assert.Equal(t, color.RGBA{10, 20, 30, 255}, img.At(2, 1))

	cfg, _, err := image.DecodeConfig(bytes.NewReader(ppm(5, 4, [3]byte{})))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Width)
	assert.Equal(t, 4, cfg.Height)
}

func TestDecodePPMErrors(t *testing.T) {
	tests := map[string][]byte{
		"truncated": ppm(4, 4, [3]byte{1, 2, 3})[:20],
		"max value": []byte("P6 2 2 65535\n"),
		"header":    []byte("P6 2"),
	}
	for name, data := range tests {
		_, err := decodePPM(bytes.NewReader(data))
		assert.Error(t, err, name)
	}
}

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestLoadTextureArray(t *testing.T) {
	dir := t.TempDir()
	red := color.RGBA{255, 0, 0, 255}
	writePNG(t, filepath.Join(dir, "sun.png"), red)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "earth.ppm"), ppm(2, 2, [3]byte{0, 0, 255}), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mars.png"), []byte("not a png"), 0o644))

	arr, err := LoadTextureArray(context.Background(), dir,
		[]string{"sun", "earth", "mars", "moon"}, nil, 8, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, arr.Layers)
	assert.Len(t, arr.Pixels, 4*8*8*4)
	assert.Equal(t, []int{2, 3}, arr.Fallback)

	assert.Equal(t, []byte{255, 0, 0, 255}, arr.Layer(0)[:4])
	assert.Equal(t, []byte{0, 0, 255, 255}, arr.Layer(1)[:4])
	// The checker alternates between light and dark texels.
	moon := arr.Layer(3)
	assert.NotEqual(t, moon[:4], moon[4:8])
}

func TestLoadTextureArrayCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LoadTextureArray(ctx, t.TempDir(), []string{"sun"}, nil, 4, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sky.jpg"), nil, 0o644))
	path, err := Find(dir, "sky")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sky.jpg"), path)

	_, err = Find(dir, "ring")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
