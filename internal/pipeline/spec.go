package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// OperationSpec is the declarative form of an operation as it appears in
// configuration files and on the command line.
type OperationSpec struct {
	Op      string  `yaml:"op"`
	Width   int     `yaml:"width,omitempty"`
	Upsize  bool    `yaml:"upsize,omitempty"`
	Rotate  float64 `yaml:"rotate,omitempty"`
	Degrees float64 `yaml:"degrees,omitempty"`
}

// Operation creates a fresh operation from the spec.
func (s OperationSpec) Operation() (Operation, error) {
	switch strings.ToLower(s.Op) {
	case WidenName:
		if s.Width <= 0 {
			return nil, fmt.Errorf("%w: widen needs a positive width", ErrInvalidArgs)
		}
		if err := checkDegrees(s.Rotate); err != nil {
			return nil, err
		}
		return &Widen{Width: s.Width, Upsize: s.Upsize, RotateDegrees: s.Rotate}, nil
	case RotateName:
		if err := checkDegrees(s.Degrees); err != nil {
			return nil, err
		}
		return &Rotate{Degrees: s.Degrees}, nil
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidArgs, s.Op)
	}
}

// Operations creates one operation per spec. Operations are single use, so
// callers build a new list for every transformation.
func Operations(specs []OperationSpec) ([]Operation, error) {
	ops := make([]Operation, 0, len(specs))
	for i, spec := range specs {
		op, err := spec.Operation()
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// ParseSpec parses the command line form "name:key=value,flag,...", for
// example "widen:width=150,upsize,rotate=90" or "rotate:degrees=180".
func ParseSpec(text string) (OperationSpec, error) {
	name, params, _ := strings.Cut(strings.TrimSpace(text), ":")
	spec := OperationSpec{Op: strings.ToLower(strings.TrimSpace(name))}
	if spec.Op == "" {
		return spec, fmt.Errorf("%w: empty operation in %q", ErrInvalidArgs, text)
	}

	for _, param := range strings.Split(params, ",") {
		param = strings.TrimSpace(param)
		if param == "" {
			continue
		}
		key, value, hasValue := strings.Cut(param, "=")

		var err error
		switch key {
		case "width":
			spec.Width, err = strconv.Atoi(value)
		case "upsize":
			spec.Upsize = true
			if hasValue {
				spec.Upsize, err = strconv.ParseBool(value)
			}
		case "rotate":
			spec.Rotate, err = parseDegrees(value)
		case "degrees":
			spec.Degrees, err = parseDegrees(value)
		default:
			return spec, fmt.Errorf("%w: unknown parameter %q in %q", ErrInvalidArgs, key, text)
		}
		if err != nil {
			return spec, fmt.Errorf("%w: parameter %q in %q: %v", ErrInvalidArgs, key, text, err)
		}
	}
	return spec, nil
}

// parseDegrees accepts finite angles only; ParseFloat alone lets NaN and
// Inf through.
func parseDegrees(value string) (float64, error) {
	degrees, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if err := checkDegrees(degrees); err != nil {
		return 0, err
	}
	return degrees, nil
}
