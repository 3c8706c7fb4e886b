package rest

import (
	"fmt"
	"strings"
)

// AuthError reports a request the backend rejected for credential reasons
// (401 or 403). Never retried; the session is assumed dead.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rest: authentication rejected (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("rest: authentication rejected (status %d): %s", e.StatusCode, e.Message)
}

// NotFoundError reports a 404 for the requested resource.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("rest: resource not found: %s", e.URL)
}

// ValidationError reports a request the backend refused as malformed (400 or
// 422). Fields carries per-field messages when the response body included
// them.
type ValidationError struct {
	StatusCode int
	Message    string
	Fields     map[string][]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, messages := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(messages, "; ")))
	}
	detail := e.Message
	if len(parts) > 0 {
		detail = strings.Join(parts, ", ")
	}
	if detail == "" {
		return fmt.Sprintf("rest: request rejected as invalid (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("rest: request rejected as invalid (status %d): %s", e.StatusCode, detail)
}

// FieldMessages returns the validation messages recorded for a field.
func (e *ValidationError) FieldMessages(field string) []string {
	if e.Fields == nil {
		return nil
	}
	return e.Fields[field]
}

// ServerError reports a 5xx from the backend.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rest: server error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("rest: server error (status %d): %s", e.StatusCode, e.Message)
}

// StatusError reports any remaining non-2xx status that has no more specific
// classification.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rest: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("rest: unexpected status %d: %s", e.StatusCode, e.Message)
}

// NetworkError reports a failure before any HTTP status was produced: DNS,
// dial, TLS, timeouts, cancelled contexts.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("rest: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// errorBody is the union of error shapes the backend has been seen to emit.
type errorBody struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

func (b errorBody) message() string {
	if b.Error != "" {
		return b.Error
	}
	return b.Message
}
