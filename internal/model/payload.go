package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Payload is a zone, system, IAQ sensor or webserver object as reported by the
// controller after normalization. Firmware versions disagree on which keys exist,
// so consumers read through the accessors and treat absence as "not supported".
type Payload map[string]any

func (p Payload) Has(key string) bool {
	if p == nil {
		return false
	}
	_, ok := p[key]
	return ok
}

func (p Payload) Int(key string) (int, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	return AsInt(v)
}

// IntOr returns the integer at key or def when the key is missing or not numeric.
func (p Payload) IntOr(key string, def int) int {
	if n, ok := p.Int(key); ok {
		return n
	}
	return def
}

func (p Payload) Float(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	return AsFloat(v)
}

func (p Payload) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// Ints returns the list at key when every element is integral.
func (p Payload) Ints(key string) ([]int, bool) {
	raw, ok := p[key]
	if !ok {
		return nil, false
	}
	return AsInts(raw)
}

// Truthy reports whether key is present and holds a non-zero, non-empty value.
func (p Payload) Truthy(key string) bool {
	v, ok := p[key]
	if !ok {
		return false
	}
	return IsTruthy(v)
}

// Clone returns a deep copy so callers can never mutate published state.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Payload(t).Clone())
	case Payload:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []int:
		return append([]int(nil), t...)
	}
	return v
}

func AsInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return int(t), true
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		if f, err := t.Float64(); err == nil && f == math.Trunc(f) {
			return int(f), true
		}
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int(f), true
		}
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func AsInts(v any) ([]int, bool) {
	switch t := v.(type) {
	case []int:
		return append([]int(nil), t...), true
	case []any:
		out := make([]int, 0, len(t))
		for _, e := range t {
			n, ok := AsInt(e)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	}
	return nil, false
}

func IsTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s != "" && s != "0" && s != "false"
	case []any:
		return len(t) > 0
	case []int:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	if f, ok := AsFloat(v); ok {
		return f != 0
	}
	return true
}
