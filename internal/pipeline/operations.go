package pipeline

import (
	"fmt"
	"math"
)

const (
	RotateName = "rotate"
	WidenName  = "widen"
)

// Rotate turns the image counter-clockwise by Degrees. Whether it runs at
// all is decided at build time by the operation that injects it.
type Rotate struct {
	Degrees float64
}

func (r *Rotate) Name() string { return RotateName }

func (r *Rotate) Arguments() []any { return []any{r.Degrees} }

func (r *Rotate) Plan(*Planner) error {
	return checkDegrees(r.Degrees)
}

func (r *Rotate) Transform(img Image) error {
	img.Rotate(r.Degrees)
	return nil
}

// Widen scales the image to Width. When RotateDegrees is non-zero and the
// image is taller than wide at build time, a Rotate is injected ahead of
// it so that the width applies to the rotated orientation.
type Widen struct {
	Width         int
	Upsize        bool
	RotateDegrees float64
}

func (w *Widen) Name() string { return WidenName }

func (w *Widen) Arguments() []any { return []any{w.Width, w.Upsize, w.RotateDegrees} }

func (w *Widen) Plan(p *Planner) error {
	if w.Width <= 0 {
		return fmt.Errorf("%w: width must be positive, got %d", ErrInvalidArgs, w.Width)
	}
	if err := checkDegrees(w.RotateDegrees); err != nil {
		return err
	}

	if w.RotateDegrees != 0 && p.Height() > p.Width() {
		return p.Prepend(&Rotate{Degrees: w.RotateDegrees})
	}
	return nil
}

func (w *Widen) Transform(img Image) error {
	img.Widen(w.Width, w.Upsize)
	return nil
}

func checkDegrees(degrees float64) error {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return fmt.Errorf("%w: degrees must be finite, got %v", ErrInvalidArgs, degrees)
	}
	return nil
}
