package pipeline

import (
	"fmt"
	"log/slog"
	"slices"
)

// MaxStackSize bounds the number of entries a stack may grow to while it
// is built.
const MaxStackSize = 64

type entry struct {
	op       Operation
	ancestry []string
	planned  bool
	applied  int
}

// Stack is an ordered chain of operations. Insertion order is execution
// order, except that prerequisites injected during Build are placed ahead
// of the operation that requested them.
//
// A Stack is single use: Build, then Apply, then discard.
type Stack struct {
	entries    []*entry
	built      bool
	applied    bool
	afterApply func(op Operation, img Image)
}

type StackOption func(*Stack)

// WithAfterApply registers a hook that the runner calls after each
// operation has been applied.
func WithAfterApply(fn func(op Operation, img Image)) StackOption {
	return func(s *Stack) {
		s.afterApply = fn
	}
}

// NewStack returns a stack holding ops in order.
func NewStack(ops []Operation, opts ...StackOption) *Stack {
	s := &Stack{}
	for _, opt := range opts {
		opt(s)
	}
	for _, op := range ops {
		s.entries = append(s.entries, &entry{op: op})
	}
	return s
}

// Push appends op to the end of the stack. It fails once the stack is
// built.
func (s *Stack) Push(op Operation) error {
	if s.built {
		return ErrAlreadyBuilt
	}
	if len(s.entries) >= MaxStackSize {
		return ErrStackTooLarge
	}
	s.entries = append(s.entries, &entry{op: op})
	return nil
}

// Len returns the number of entries.
func (s *Stack) Len() int { return len(s.entries) }

// Operations returns the operations in execution order.
func (s *Stack) Operations() []Operation {
	ops := make([]Operation, len(s.entries))
	for i, e := range s.entries {
		ops[i] = e.op
	}
	return ops
}

// Build plans every entry against bounds, which describe the image as it
// exists before any operation runs. Entries are planned front to back;
// prerequisites injected by an entry are inserted directly ahead of it and
// planned before the scan moves past them. No entry is planned twice.
func (s *Stack) Build(bounds Bounds) error {
	if s.built {
		return ErrAlreadyBuilt
	}

	for {
		idx := slices.IndexFunc(s.entries, func(e *entry) bool { return !e.planned })
		if idx < 0 {
			break
		}

		current := s.entries[idx]
		current.planned = true

		p := &Planner{bounds: bounds, entry: current, size: len(s.entries)}
		if err := current.op.Plan(p); err != nil {
			return fmt.Errorf("plan %s: %w", current.op.Name(), err)
		}

		if len(p.pending) > 0 {
			s.entries = slices.Insert(s.entries, idx, p.pending...)
			for _, e := range p.pending {
				slog.Debug("Injected prerequisite operation", "op", e.op.Name(), "for", current.op.Name())
			}
		}
	}

	s.built = true
	return nil
}

// Apply runs every operation against img in order, exactly once, followed
// by the shared post-step.
func (s *Stack) Apply(img Image) error {
	if !s.built {
		return ErrNotBuilt
	}
	if s.applied {
		return ErrAlreadyApplied
	}
	s.applied = true

	for _, e := range s.entries {
		if err := e.op.Transform(img); err != nil {
			return fmt.Errorf("apply %s: %w", e.op.Name(), err)
		}
		s.finish(e, img)
	}
	return nil
}

// finish is the post-step every applied operation goes through.
func (s *Stack) finish(e *entry, img Image) {
	e.applied++
	slog.Debug("Applied operation",
		"op", e.op.Name(),
		"args", e.op.Arguments(),
		"width", img.Width(),
		"height", img.Height(),
	)
	if s.afterApply != nil {
		s.afterApply(e.op, img)
	}
}
