package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/natefinch/atomic"
)

const jpegQuality = 90

// Picture is an Image backed by an in-memory decoded image.
type Picture struct {
	img image.Image
}

// NewPicture wraps img.
func NewPicture(img image.Image) *Picture {
	return &Picture{img: img}
}

// OpenPicture decodes the image file at path, honouring EXIF orientation.
func OpenPicture(path string) (*Picture, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	return &Picture{img: img}, nil
}

func (p *Picture) Image() image.Image { return p.img }

func (p *Picture) Width() int { return p.img.Bounds().Dx() }

func (p *Picture) Height() int { return p.img.Bounds().Dy() }

func (p *Picture) Rotate(degrees float64) {
	switch normalizeDegrees(degrees) {
	case 0:
	case 90:
		p.img = imaging.Rotate90(p.img)
	case 180:
		p.img = imaging.Rotate180(p.img)
	case 270:
		p.img = imaging.Rotate270(p.img)
	default:
		p.img = imaging.Rotate(p.img, degrees, color.Transparent)
	}
}

func (p *Picture) Widen(width int, upsize bool) {
	if width <= 0 || width == p.Width() {
		return
	}
	if !upsize && p.Width() < width {
		return
	}
	p.img = imaging.Resize(p.img, width, 0, imaging.Lanczos)
}

// Save encodes the picture in the format implied by the extension of path
// and replaces path atomically.
func (p *Picture) Save(path string) error {
	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		return fmt.Errorf("save image %s: %w", path, err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, p.img, format, imaging.JPEGQuality(jpegQuality)); err != nil {
		return fmt.Errorf("encode image %s: %w", path, err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("write image %s: %w", path, err)
	}
	return nil
}

func normalizeDegrees(degrees float64) float64 {
	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}
	return d
}
