package graph

import (
	"fmt"

	"github.com/ollama/augpipe/param"
)

// Params are the static arguments of a node. Values are JSON-compatible
// scalars and slices, or a param.Handle for per-sample randomized values.
type Params map[string]any

// paramRef is the serialized form of a param.Handle.
const paramRef = "$param"

func (p Params) lookup(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p[key]
	return v, ok && v != nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

// Float returns a numeric parameter.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("param %q: expected number, got %T", key, v)
	}
	return f, nil
}

// Int returns an integer parameter. JSON numbers must be whole.
func (p Params) Int(key string, def int) (int, error) {
	switch n := p[key].(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	}

	f, err := p.Float(key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("param %q: expected integer, got %v", key, f)
	}
	return int(f), nil
}

func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("param %q: expected bool, got %T", key, v)
	}
	return b, nil
}

func (p Params) String(key, def string) (string, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %q: expected string, got %T", key, v)
	}
	return s, nil
}

// Floats returns a numeric list parameter.
func (p Params) Floats(key string) ([]float64, error) {
	v, ok := p.lookup(key)
	if !ok {
		return nil, nil
	}

	switch l := v.(type) {
	case []float64:
		return l, nil
	case []float32:
		out := make([]float64, len(l))
		for i, f := range l {
			out[i] = float64(f)
		}
		return out, nil
	case []int:
		out := make([]float64, len(l))
		for i, n := range l {
			out[i] = float64(n)
		}
		return out, nil
	case []any:
		out := make([]float64, len(l))
		for i, e := range l {
			f, ok := toFloat(e)
			if !ok {
				return nil, fmt.Errorf("param %q[%d]: expected number, got %T", key, i, e)
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("param %q: expected list, got %T", key, v)
}

// Value returns a parameter that is either a constant or a handle drawn
// per sample.
func (p Params) Value(key string, def float64) (Value, error) {
	v, ok := p.lookup(key)
	if !ok {
		return Const(def), nil
	}
	if h, ok := v.(param.Handle); ok {
		return Random(h), nil
	}
	f, ok := toFloat(v)
	if !ok {
		return Value{}, fmt.Errorf("param %q: expected number or parameter, got %T", key, v)
	}
	return Const(f), nil
}

// Value is a node argument resolved per sample.
type Value struct {
	constant float64
	handle   param.Handle
	random   bool
}

func Const(v float64) Value { return Value{constant: v} }

func Random(h param.Handle) Value { return Value{handle: h, random: true} }

// IsRandom reports whether v is drawn from the parameter service.
func (v Value) IsRandom() bool { return v.random }

// At returns the value for sample i of draw d.
func (v Value) At(d *param.Draw, i int) (float64, error) {
	if !v.random {
		return v.constant, nil
	}
	if d == nil {
		return 0, fmt.Errorf("graph: parameter %d used without a draw", v.handle.Index())
	}
	return d.Float(v.handle, i)
}
