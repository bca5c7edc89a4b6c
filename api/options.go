package api

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Options are provider generation parameters passed through a chat call,
// e.g. temperature or max_tokens.
type Options map[string]any

const (
	OptTemperature = "temperature"
	OptMaxTokens   = "max_tokens"
	OptTopP        = "top_p"
	OptTopK        = "top_k"
	OptStop        = "stop"
)

// Keys returns the option names in sorted order.
func (r Options) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Without returns a copy with the named keys removed.
func (r Options) Without(keys ...string) Options {
	n := make(Options, len(r))
	for k, v := range r {
		n[k] = v
	}
	for _, k := range keys {
		delete(n, k)
	}
	return n
}

// Float returns the named option as float64. ok is false when the option is absent.
func (r Options) Float(key string) (v float64, ok bool, err error) {
	raw, found := r[key]
	if !found || raw == nil {
		return 0, false, nil
	}
	switch t := raw.(type) {
	case float64:
		return t, true, nil
	case float32:
		return float64(t), true, nil
	case int:
		return float64(t), true, nil
	case int32:
		return float64(t), true, nil
	case int64:
		return float64(t), true, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("option %s: %w", key, err)
		}
		return f, true, nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false, fmt.Errorf("option %s: %w", key, err)
		}
		return f, true, nil
	}
	return 0, false, fmt.Errorf("option %s: expected number, got %T", key, raw)
}

// Int returns the named option as int64. ok is false when the option is absent.
func (r Options) Int(key string) (v int64, ok bool, err error) {
	raw, found := r[key]
	if !found || raw == nil {
		return 0, false, nil
	}
	switch t := raw.(type) {
	case int:
		return int64(t), true, nil
	case int32:
		return int64(t), true, nil
	case int64:
		return t, true, nil
	case float64:
		if t != float64(int64(t)) {
			return 0, false, fmt.Errorf("option %s: expected integer, got %v", key, t)
		}
		return int64(t), true, nil
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, false, fmt.Errorf("option %s: %w", key, err)
		}
		return i, true, nil
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("option %s: %w", key, err)
		}
		return i, true, nil
	}
	return 0, false, fmt.Errorf("option %s: expected integer, got %T", key, raw)
}

// Strings returns the named option as a string list; a single string is accepted.
func (r Options) Strings(key string) ([]string, bool, error) {
	raw, found := r[key]
	if !found || raw == nil {
		return nil, false, nil
	}
	switch t := raw.(type) {
	case string:
		return []string{t}, true, nil
	case []string:
		return t, true, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			s, ok := v.(string)
			if !ok {
				return nil, false, fmt.Errorf("option %s: expected string list, got element %T", key, v)
			}
			out = append(out, s)
		}
		return out, true, nil
	}
	return nil, false, fmt.Errorf("option %s: expected string list, got %T", key, raw)
}
