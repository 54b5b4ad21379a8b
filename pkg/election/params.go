package election

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Params maps option names to scalars or lists. It carries culture parameters
// on an election and feature parameters on a feature call.
type Params map[string]interface{}

// Clone returns a shallow copy; nil stays nil-safe.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Has reports whether key is present with a non-nil value.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Float returns the value of key as float64, or def when missing or not numeric.
func (p Params) Float(key string, def float64) float64 {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return def
}

// Int returns the value of key as int, or def when missing or not numeric.
func (p Params) Int(key string, def int) int {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	if f, ok := toFloat(v); ok {
		return int(f)
	}
	return def
}

// String returns the value of key as string, or def when missing.
func (p Params) String(key string, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns the value of key as bool, or def when missing.
func (p Params) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return def
		}
		return parsed
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return def
}

// Duration returns key as a duration. Numbers are read as seconds.
func (p Params) Duration(key string, def time.Duration) time.Duration {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return def
		}
		return parsed
	}
	if f, ok := toFloat(v); ok {
		return time.Duration(f * float64(time.Second))
	}
	return def
}

// Floats returns key as a float slice when it holds a list of numbers.
func (p Params) Floats(key string) []float64 {
	v, ok := p[key]
	if !ok || v == nil {
		return nil
	}
	switch xs := v.(type) {
	case []float64:
		out := make([]float64, len(xs))
		copy(out, xs)
		return out
	case []int:
		out := make([]float64, len(xs))
		for i, x := range xs {
			out[i] = float64(x)
		}
		return out
	case []interface{}:
		out := make([]float64, 0, len(xs))
		for _, x := range xs {
			if f, ok := toFloat(x); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}
