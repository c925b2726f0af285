package session

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/tembridge/tembridge-go/pkg/faults"
)

// Params holds arguments bound to parameter names.
type Params struct {
	values map[string]any
}

// Bind maps positional and keyword arguments onto the named parameters, in
// order. Too many positionals, a parameter given twice or an unknown keyword
// is an InvalidArguments fault.
func Bind(args []any, kwargs map[string]any, names ...string) (Params, error) {
	if len(args) > len(names) {
		return Params{}, faults.Newf(faults.InvalidArguments,
			"takes %d positional arguments but %d were given", len(names), len(args))
	}

	values := make(map[string]any, len(names))
	for i, v := range args {
		values[names[i]] = v
	}

	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	for k, v := range kwargs {
		if !known[k] {
			return Params{}, faults.Newf(faults.InvalidArguments, "unexpected keyword argument %q", k)
		}
		if _, dup := values[k]; dup {
			return Params{}, faults.Newf(faults.InvalidArguments, "got multiple values for argument %q", k)
		}
		values[k] = v
	}
	return Params{values: values}, nil
}

// Has reports whether name was given a non-nil value.
func (p Params) Has(name string) bool {
	v, ok := p.values[name]
	return ok && v != nil
}

// Value returns the raw value bound to name.
func (p Params) Value(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok && v != nil
}

// Float returns name as a float64, or def if it was not given.
func (p Params) Float(name string, def float64) (float64, error) {
	v, ok := p.Value(name)
	if !ok {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, typeFault(name, "a number", v)
	}
	return f, nil
}

// Int returns name as an int64, or def if it was not given. Floats with no
// fractional part are accepted.
func (p Params) Int(name string, def int64) (int64, error) {
	v, ok := p.Value(name)
	if !ok {
		return def, nil
	}
	i, ok := toInt(v)
	if !ok {
		return 0, typeFault(name, "an integer", v)
	}
	return i, nil
}

// Bool returns name as a bool, or def if it was not given.
func (p Params) Bool(name string, def bool) (bool, error) {
	v, ok := p.Value(name)
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, typeFault(name, "a boolean", v)
	}
	return b, nil
}

// String returns name as a string, or def if it was not given.
func (p Params) String(name string, def string) (string, error) {
	v, ok := p.Value(name)
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", typeFault(name, "a string", v)
	}
	return s, nil
}

func typeFault(name, want string, got any) error {
	return faults.Newf(faults.InvalidArguments, "argument %q must be %s, got %T", name, want, got)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := toInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), n <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case float64:
		return floatToInt(n)
	case float32:
		return floatToInt(float64(n))
	case json.Number:
		if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt(f)
		}
	}
	return 0, false
}

// floatToInt accepts integral values in [-2^63, 2^63). NaN and infinities
// fail the range check.
func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || !(f >= -(1<<63) && f < 1<<63) {
		return 0, false
	}
	return int64(f), true
}
