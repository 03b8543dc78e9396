package session

import "strings"

// Redacted replaces sensitive values on session reads; writes keep originals.
const Redacted = "[REDACTED]"

var sensitiveKeyParts = []string{
	"token", "password", "secret", "apikey", "authorization", "bearer", "cookie",
}

func isSensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lowered, part) {
			return true
		}
	}
	return false
}

// Redact returns a copy of vars with values under sensitive keys replaced by
// the Redacted literal, recursing through objects and arrays of objects.
// Arrays of primitives are left untouched.
func Redact(vars map[string]interface{}) map[string]interface{} {
	if vars == nil {
		return nil
	}
	ret := make(map[string]interface{}, len(vars))
	for key, value := range vars {
		if isSensitiveKey(key) {
			ret[key] = Redacted
			continue
		}
		ret[key] = redactValue(value)
	}
	return ret
}

func redactValue(value interface{}) interface{} {
	switch actual := value.(type) {
	case map[string]interface{}:
		return Redact(actual)
	case []interface{}:
		hasObjects := false
		for _, item := range actual {
			if _, ok := item.(map[string]interface{}); ok {
				hasObjects = true
				break
			}
		}
		if !hasObjects {
			return actual
		}
		ret := make([]interface{}, len(actual))
		for i, item := range actual {
			ret[i] = redactValue(item)
		}
		return ret
	default:
		return value
	}
}
