package syncx

import (
	"encoding/json"
	"math"
	"strconv"
)

// GetInt64 extracts an integral value from a map.
// Tolerates the shapes a decoded JSON document can take: float64, json.Number,
// Go integer types and numeric strings. Fractional numbers are rejected.
func GetInt64(m map[string]any, k string) (int64, bool) {
	v, ok := m[k]
	if !ok {
		return 0, false
	}
	return ToInt64(v)
}

// ToInt64 converts a loosely typed value to int64
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
		return 0, false
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// ExtractID returns the positive server identifier of a response document
func ExtractID(item map[string]any) (int64, bool) {
	id, ok := GetInt64(item, "id")
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}
