package identity

import (
	"encoding/json"
	"strconv"
)

// Normalize canonicalizes the reference shapes the backend emits for users,
// messages and conversations into a single comparable string id.
//
// Accepted shapes: a plain string or number, an object carrying "_id" or
// "id" (possibly nested), and the database-style {"$oid": "..."} wrapper.
// Returns ok=false for nil, empty and unrecognized values. Never panics.
func Normalize(v any) (string, bool) {
	return normalize(v, 0)
}

// maxDepth bounds recursion through nested wrappers such as {"_id": {"$oid": "..."}}.
const maxDepth = 4

func normalize(v any, depth int) (string, bool) {
	if v == nil || depth > maxDepth {
		return "", false
	}

	switch val := v.(type) {
	case string:
		if val == "" {
			return "", false
		}
		return val, true
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case map[string]any:
		for _, key := range []string{"$oid", "_id", "id"} {
			if inner, ok := val[key]; ok {
				if id, ok := normalize(inner, depth+1); ok {
					return id, true
				}
			}
		}
		return "", false
	default:
		return "", false
	}
}

// NormalizeRaw decodes a raw JSON fragment and normalizes it.
func NormalizeRaw(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return Normalize(v)
}

// Equal reports whether two references resolve to the same canonical id.
// Two unresolvable references are never considered equal.
func Equal(a, b any) bool {
	idA, okA := Normalize(a)
	idB, okB := Normalize(b)
	return okA && okB && idA == idB
}
