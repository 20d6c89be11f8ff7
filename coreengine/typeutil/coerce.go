// Package typeutil coerces loosely typed configuration values.
//
// Values arrive from YAML documents, JSON bodies and environment variables,
// so every helper accepts both the native type and its string spelling.
package typeutil

import (
	"strconv"
	"strings"
)

// String asserts value to a string.
func String(value any) (string, bool) {
	s, ok := value.(string)
	return s, ok
}

// Int coerces value to an int. Numeric strings are parsed.
func Int(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		return i, err == nil
	default:
		return 0, false
	}
}

// Bool coerces value to a bool. Strings accepted by strconv.ParseBool are parsed.
func Bool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	default:
		return false, false
	}
}

// StringSlice coerces value to []string. It accepts []string, []any of
// strings, and a comma-separated string.
func StringSlice(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, false
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, len(out) > 0
	default:
		return nil, false
	}
}

// Nested walks a dotted path through nested maps.
func Nested(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}
	var current any = data
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Flatten turns nested maps into a single level keyed by "parent_child".
// Top-level keys win over flattened ones.
func Flatten(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "_" + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(key, child)
				continue
			}
			if _, exists := out[key]; !exists || prefix == "" {
				out[key] = v
			}
		}
	}
	walk("", data)
	return out
}
