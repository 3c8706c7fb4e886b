package rest

import "testing"

func TestRedactSensitiveNil(t *testing.T) {
	if got := RedactSensitive(nil); got != nil {
		t.Fatalf("expected nil for nil input, got %v", got)
	}
}

func TestRedactSensitiveEmpty(t *testing.T) {
	got := RedactSensitive(map[string]any{})
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestRedactsPasswordField(t *testing.T) {
	got := RedactSensitive(map[string]any{"username": "alice", "password": "secret123"})
	if got["username"] != "alice" {
		t.Fatalf("non-sensitive field changed: %v", got)
	}
	if got["password"] != redactedPlaceholder {
		t.Fatalf("password not redacted: %v", got)
	}
}

func TestRedactsNestedLoginPayload(t *testing.T) {
	payload := map[string]any{
		"user":   map[string]any{"email": "test@example.com", "password": "secret123"},
		"locale": "en-US",
	}
	got := RedactSensitive(payload)
	user, ok := got["user"].(map[string]any)
	if !ok {
		t.Fatalf("nested map lost: %v", got)
	}
	if user["email"] != "test@example.com" || user["password"] != redactedPlaceholder {
		t.Fatalf("nested redaction wrong: %v", user)
	}
	if got["locale"] != "en-US" {
		t.Fatalf("sibling field changed: %v", got)
	}
}

func TestRedactsDeeplyNested(t *testing.T) {
	payload := map[string]any{
		"level1": map[string]any{
			"level2": map[string]any{
				"password": "deep_secret",
				"other":    "value",
			},
		},
	}
	got := RedactSensitive(payload)
	inner := got["level1"].(map[string]any)["level2"].(map[string]any)
	if inner["password"] != redactedPlaceholder || inner["other"] != "value" {
		t.Fatalf("deep redaction wrong: %v", inner)
	}
}

func TestRedactDoesNotMutateInput(t *testing.T) {
	payload := map[string]any{"user": map[string]any{"password": "secret"}}
	_ = RedactSensitive(payload)
	if payload["user"].(map[string]any)["password"] != "secret" {
		t.Fatalf("input payload was mutated")
	}
}

func TestRedactHandlesLists(t *testing.T) {
	payload := map[string]any{
		"accounts": []any{
			map[string]any{"email": "a@example.com", "auth_token": "tok-1"},
			"plain string",
		},
	}
	got := RedactSensitive(payload)
	items := got["accounts"].([]any)
	first := items[0].(map[string]any)
	if first["auth_token"] != redactedPlaceholder {
		t.Fatalf("token in list not redacted: %v", first)
	}
	if items[1] != "plain string" {
		t.Fatalf("scalar list entry changed: %v", items[1])
	}
}
