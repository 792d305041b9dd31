// Package asset loads the textures sampled by the body and sky shaders.
// Images may be PNG, JPEG, GIF, BMP, TIFF, WebP or binary PPM. A layer
// whose file is missing or unreadable is replaced by a checker pattern.
package asset

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// Extensions are tried in order when a layer is looked up by name.
var Extensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp", ".ppm"}

// LoadImage decodes the image at path.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Find returns the first file in dir named name with a known extension.
func Find(dir, name string) (string, error) {
	for _, ext := range Extensions {
		path := filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no image for %q in %s: %w", name, dir, os.ErrNotExist)
}

// TextureArray is a stack of square RGBA8 layers of equal size.
type TextureArray struct {
	Size   int
	Layers int
	// Pixels holds the layers back to back, Size*Size*4 bytes each.
	Pixels []byte
	// Fallback lists the layers that use the checker pattern.
	Fallback []int
}

// Layer returns the pixels of layer i.
func (t *TextureArray) Layer(i int) []byte {
	n := t.Size * t.Size * 4
	return t.Pixels[i*n : (i+1)*n]
}

// LoadTextureArray decodes one layer per name from dir in parallel and
// scales each to size×size. Only cancellation of ctx is an error; layers
// that cannot be loaded are logged and drawn as a checker tinted by tints[i].
func LoadTextureArray(ctx context.Context, dir string, names []string, tints []color.RGBA, size int, log *zap.Logger) (*TextureArray, error) {
	if size <= 0 {
		return nil, fmt.Errorf("texture size %d", size)
	}
	if log == nil {
		log = zap.NewNop()
	}
	layer := size * size * 4
	arr := &TextureArray{
		Size:   size,
		Layers: len(names),
		Pixels: make([]byte, layer*len(names)),
	}
	fallback := make([]bool, len(names))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			dst := &image.RGBA{
				Pix:    arr.Pixels[i*layer : (i+1)*layer],
				Stride: size * 4,
				Rect:   image.Rect(0, 0, size, size),
			}
			img, err := loadLayer(dir, name)
			if err != nil {
				log.Warn("texture layer unavailable, using checker",
					zap.String("layer", name), zap.Error(err))
				tint := color.RGBA{255, 255, 255, 255}
				if i < len(tints) {
					tint = tints[i]
				}
				img = Checker(8, tint)
				fallback[i] = true
			}
			draw.BiLinear.Scale(dst, dst.Rect, img, img.Bounds(), draw.Src, nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, fb := range fallback {
		if fb {
			arr.Fallback = append(arr.Fallback, i)
		}
	}
	log.Debug("texture array loaded",
		zap.Int("layers", arr.Layers), zap.Int("size", size), zap.Ints("fallback", arr.Fallback))
	return arr, nil
}

func loadLayer(dir, name string) (image.Image, error) {
	path, err := Find(dir, name)
	if err != nil {
		return nil, err
	}
	return LoadImage(path)
}

// Checker returns an n×n checker of tint and a dark grey.
func Checker(n int, tint color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, n, n))
	dark := color.RGBA{50, 50, 50, 255}
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if (x+y)%2 == 0 {
				img.SetRGBA(x, y, tint)
			} else {
				img.SetRGBA(x, y, dark)
			}
		}
	}
	return img
}
