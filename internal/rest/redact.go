package rest

const redactedPlaceholder = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"password":   {},
	"auth_token": {},
}

// RedactSensitive returns a deep copy of a decoded JSON payload with
// credential-bearing fields replaced, so request bodies can be logged at
// debug level. The input is never mutated.
func RedactSensitive(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	redacted := make(map[string]any, len(payload))
	for key, value := range payload {
		if _, sensitive := sensitiveKeys[key]; sensitive {
			redacted[key] = redactedPlaceholder
			continue
		}
		redacted[key] = redactValue(value)
	}
	return redacted
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return RedactSensitive(typed)
	case []any:
		items := make([]any, len(typed))
		for i, item := range typed {
			items[i] = redactValue(item)
		}
		return items
	default:
		return value
	}
}
