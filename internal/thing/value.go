package thing

import "time"

// TimestampFormat is the wire format for every timestamp the runtime emits.
const TimestampFormat = "2006-01-02T15:04:05+00:00"

// formatTime renders t in UTC using TimestampFormat.
func formatTime(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// cloneValue deep copies a decoded JSON value so that callers never share
// mutable maps or slices with the runtime.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// cloneMetadata copies a metadata map one level deep plus nested values.
func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out, _ := cloneValue(m).(map[string]any)
	return out
}
