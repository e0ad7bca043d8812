package docstore

import (
	"fmt"
	"math"
	"time"
)

// Typed readers over schema-less fields. Drivers hand back numbers as int64
// (Firestore) or float64 (JSON), so readers accept either.

func String(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func Int(fields map[string]any, key string) int {
	f, ok := toFloat(fields[key])
	if !ok || math.IsNaN(f) {
		return 0
	}
	return int(f)
}

// Time reports false when the field is absent or not a timestamp.
func Time(fields map[string]any, key string) (time.Time, bool) {
	switch v := fields[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// StringMap reads a nested map whose values are strings; other values are
// skipped.
func StringMap(fields map[string]any, key string) map[string]string {
	out := map[string]string{}
	switch m := fields[key].(type) {
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// Has reports whether key is present and non-nil.
func Has(fields map[string]any, key string) bool {
	v, ok := fields[key]
	return ok && v != nil
}
