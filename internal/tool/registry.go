// Package tool holds the declarative tool table shared by every transport.
// A tool is registered once with its input schema; arguments are validated
// against the schema before the handler runs, so handlers only ever see
// well-formed input.
package tool

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/leonletto/msgbridge/internal/types"
)

// Handler runs one validated tool call.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Field describes one input argument.
type Field struct {
	Name        string
	Type        string // "string", "integer", "number" or "boolean"
	Description string
	Required    bool
	// Min is the inclusive lower bound for integer fields. Nil means
	// unbounded.
	Min *int
}

// MinOf is a convenience for Field.Min literals.
func MinOf(n int) *int { return &n }

// Spec declares one tool: its wire name, its schema, and its handler.
type Spec struct {
	Name        string
	Description string
	Input       []Field
	Handler     Handler
}

// Schema renders the input fields as a JSON Schema object, the shape tool
// listings on every transport share.
func (s Spec) Schema() map[string]any {
	props := make(map[string]any, len(s.Input))
	var required []string
	for _, f := range s.Input {
		prop := map[string]any{"type": f.Type, "description": f.Description}
		if f.Min != nil {
			prop["minimum"] = *f.Min
		}
		props[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ErrUnknown reports dispatch of a name no tool was registered under.
// Transports map it to their own "method not found" shape.
type ErrUnknown struct{ Name string }

func (e *ErrUnknown) Error() string { return fmt.Sprintf("unknown tool %q", e.Name) }

// Registry is the static tool table. All registration happens during
// startup; dispatch is concurrent after that.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds a tool. Registering an invalid spec or a duplicate name is
// a programming error and panics during startup rather than surfacing at
// dispatch time.
func (r *Registry) Register(s Spec) {
	if s.Name == "" || s.Handler == nil {
		panic(fmt.Sprintf("tool spec %q missing name or handler", s.Name))
	}
	for _, f := range s.Input {
		switch f.Type {
		case "string", "integer", "number", "boolean":
		default:
			panic(fmt.Sprintf("tool %s: field %s has unsupported type %q", s.Name, f.Name, f.Type))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.specs[s.Name]; dup {
		panic(fmt.Sprintf("tool %s registered twice", s.Name))
	}
	r.specs[s.Name] = s
}

// Specs returns every registered tool, name-ordered, for listings.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch validates args against the named tool's schema and runs its
// handler. Validation failures short-circuit; the handler never observes
// them.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	s, ok := r.specs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ErrUnknown{Name: name}
	}

	normalized, err := validate(s, args)
	if err != nil {
		return nil, err
	}
	return s.Handler(ctx, normalized)
}

// validate checks args against the spec and returns a copy with integer
// values normalized to int. Unknown argument names are rejected so typos
// fail loudly instead of silently falling back to defaults.
func validate(s Spec, args map[string]any) (map[string]any, error) {
	fields := make(map[string]Field, len(s.Input))
	for _, f := range s.Input {
		fields[f.Name] = f
	}

	for name := range args {
		if _, known := fields[name]; !known {
			return nil, types.NewError(types.KindInvalidArguments,
				"%s: unknown argument %q", s.Name, name)
		}
	}

	normalized := make(map[string]any, len(args))
	for _, f := range s.Input {
		raw, present := args[f.Name]
		if !present || raw == nil {
			if f.Required {
				return nil, types.NewError(types.KindInvalidArguments,
					"%s: missing required argument %q", s.Name, f.Name)
			}
			continue
		}

		switch f.Type {
		case "string":
			v, ok := raw.(string)
			if !ok {
				return nil, types.NewError(types.KindInvalidArguments,
					"%s: argument %q must be a string", s.Name, f.Name)
			}
			normalized[f.Name] = v
		case "boolean":
			v, ok := raw.(bool)
			if !ok {
				return nil, types.NewError(types.KindInvalidArguments,
					"%s: argument %q must be a boolean", s.Name, f.Name)
			}
			normalized[f.Name] = v
		case "integer":
			n, err := asInt(raw)
			if err != nil {
				return nil, types.NewError(types.KindInvalidArguments,
					"%s: argument %q must be an integer", s.Name, f.Name)
			}
			if f.Min != nil && n < *f.Min {
				return nil, types.NewError(types.KindInvalidArguments,
					"%s: argument %q must be at least %d", s.Name, f.Name, *f.Min)
			}
			normalized[f.Name] = n
		case "number":
			v, err := asFloat(raw)
			if err != nil {
				return nil, types.NewError(types.KindInvalidArguments,
					"%s: argument %q must be a number", s.Name, f.Name)
			}
			normalized[f.Name] = v
		}
	}
	return normalized, nil
}

// asFloat accepts the numeric shapes JSON decoding produces.
func asFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("not a number: %T", raw)
	}
}

// asInt accepts the integer shapes JSON decoding produces.
func asInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("not integral: %v", v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("not a number: %T", raw)
	}
}
