package asset

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"strconv"
)

func init() {
	image.RegisterFormat("ppm", "P6", decodePPM, decodePPMConfig)
}

// ppmHeader reads the binary PPM header, leaving r at the first pixel.
func ppmHeader(r *bufio.Reader) (width, height int, err error) {
	magic := make([]byte, 2)
	if _, err := io.ReadFull(r, magic); err != nil {
		return 0, 0, fmt.Errorf("ppm magic: %w", err)
	}
	if magic[0] != 'P' || magic[1] != '6' {
		return 0, 0, errors.New("not a P6 ppm")
	}
	var tokens [3]int
	for i := range tokens {
		tok, err := ppmToken(r)
		if err != nil {
			return 0, 0, fmt.Errorf("ppm header incomplete: %w", err)
		}
		if tokens[i], err = strconv.Atoi(tok); err != nil {
			return 0, 0, fmt.Errorf("ppm header: %w", err)
		}
	}
	if tokens[2] != 255 {
		return 0, 0, fmt.Errorf("unsupported max value %d", tokens[2])
	}
	if tokens[0] <= 0 || tokens[1] <= 0 {
		return 0, 0, fmt.Errorf("ppm size %dx%d", tokens[0], tokens[1])
	}
	return tokens[0], tokens[1], nil
}

// ppmToken skips whitespace and comments and returns the next token. The
// single whitespace byte after it is consumed.
func ppmToken(r *bufio.Reader) (string, error) {
	var tok []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if len(tok) > 0 && err == io.EOF {
				return string(tok), nil
			}
			return "", err
		}
		switch {
		case b == '#' && len(tok) == 0:
			if _, err := r.ReadBytes('\n'); err != nil {
				return "", err
			}
		case isSpace(b):
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, b)
		}
	}
}

func decodePPMConfig(r io.Reader) (image.Config, error) {
	w, h, err := ppmHeader(bufio.NewReader(r))
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: color.RGBAModel, Width: w, Height: h}, nil
}

func decodePPM(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	w, h, err := ppmHeader(br)
	if err != nil {
		return nil, err
	}
	rgb := make([]byte, w*h*3)
	if n, err := io.ReadFull(br, rgb); err != nil {
		return nil, fmt.Errorf("ppm data truncated: got %d expected %d", n, len(rgb))
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		copy(img.Pix[i*4:], rgb[i*3:i*3+3])
		img.Pix[i*4+3] = 255
	}
	return img, nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\r' || b == '\t'
}
