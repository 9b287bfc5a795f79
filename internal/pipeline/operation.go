// Package pipeline plans and applies ordered chains of image operations.
//
// Applying a chain is split in two phases. Build lets every operation look
// at the source image and inject prerequisite operations ahead of itself;
// it runs until every entry, including injected ones, has been planned
// exactly once. Apply then walks the final chain front to back, calling
// each operation once and running the shared post-step after each call.
package pipeline

import (
	"errors"
)

var (
	ErrNotBuilt       = errors.New("stack has not been built")
	ErrAlreadyBuilt   = errors.New("stack is already built")
	ErrAlreadyApplied = errors.New("stack has already been applied")
	ErrRecursivePlan  = errors.New("operation injects itself")
	ErrStackTooLarge  = errors.New("stack exceeds maximum size")
	ErrInvalidArgs    = errors.New("invalid operation arguments")
)

// Bounds exposes the dimensions of an image.
type Bounds interface {
	Width() int
	Height() int
}

// Image is the mutable image buffer operations act on. Pixel work is left
// to the implementation.
type Image interface {
	Bounds
	// Rotate turns the image counter-clockwise by degrees.
	Rotate(degrees float64)
	// Widen scales the image to width, keeping the aspect ratio. Images
	// already narrower than width are only enlarged when upsize is set.
	Widen(width int, upsize bool)
}

// Operation is one step of a transformation chain.
type Operation interface {
	// Name identifies the kind of operation. It takes part in the chain
	// signature and in recursion detection.
	Name() string

	// Arguments returns the configuration of the operation in a fixed
	// order.
	Arguments() []any

	// Plan runs once while the stack is built. It may inject prerequisite
	// operations through the planner.
	Plan(p *Planner) error

	// Transform applies the operation to img.
	Transform(img Image) error
}

// Planner is handed to Operation.Plan. It exposes the image as it exists at
// build time and collects prerequisites to place ahead of the operation
// being planned.
type Planner struct {
	bounds  Bounds
	entry   *entry
	pending []*entry
	size    int
}

// Width returns the build time width of the image.
func (p *Planner) Width() int { return p.bounds.Width() }

// Height returns the build time height of the image.
func (p *Planner) Height() int { return p.bounds.Height() }

// Prepend schedules op to run before the operation being planned.
// Prerequisites keep the order in which they are prepended and are planned
// themselves before the stack is final.
func (p *Planner) Prepend(op Operation) error {
	ancestry := make([]string, 0, len(p.entry.ancestry)+1)
	ancestry = append(ancestry, p.entry.ancestry...)
	ancestry = append(ancestry, p.entry.op.Name())

	for _, name := range ancestry {
		if name == op.Name() {
			return ErrRecursivePlan
		}
	}

	if p.size+len(p.pending)+1 > MaxStackSize {
		return ErrStackTooLarge
	}

	p.pending = append(p.pending, &entry{op: op, ancestry: ancestry})
	return nil
}
