package rest

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	opts = append([]Option{WithBaseURL(server.URL + "/v5/")}, opts...)
	client, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client, server
}

func TestAuthHeadersAttachedAfterSetAuth(t *testing.T) {
	var gotToken, gotUser string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("x-token-auth")
		gotUser = r.Header.Get("x-user-id")
		w.Write([]byte(`{}`))
	}))

	client.SetAuth("user-123", "token-abc")
	if err := client.Get(context.Background(), "frames.json", nil); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotToken != "token-abc" || gotUser != "user-123" {
		t.Fatalf("auth headers missing: token=%q user=%q", gotToken, gotUser)
	}

	client.ClearAuth()
	if err := client.Get(context.Background(), "frames.json", nil); err != nil {
		t.Fatalf("Get after ClearAuth: %v", err)
	}
	if gotToken != "" || gotUser != "" {
		t.Fatalf("auth headers still present after ClearAuth: token=%q user=%q", gotToken, gotUser)
	}
}

func TestPathResolution(t *testing.T) {
	var paths []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{}`))
	}))

	ctx := context.Background()
	if err := client.Get(ctx, "login.json", nil); err != nil {
		t.Fatalf("relative path: %v", err)
	}
	if err := client.Get(ctx, "/notifications/update_setting", nil); err != nil {
		t.Fatalf("absolute path: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected two requests, got %d", len(paths))
	}
	if paths[0] != "/v5/login.json" {
		t.Fatalf("relative path resolved to %q", paths[0])
	}
	if paths[1] != "/notifications/update_setting" {
		t.Fatalf("leading slash should escape the version prefix, got %q", paths[1])
	}
}

func TestPostDecodesResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		w.Write([]byte(`{"result": {"value": 7}}`))
	}))

	var decoded struct {
		Result struct {
			Value int `json:"value"`
		} `json:"result"`
	}
	err := client.Post(context.Background(), "things.json", map[string]string{"name": "x"}, &decoded)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if decoded.Result.Value != 7 {
		t.Fatalf("decode mismatch: %+v", decoded)
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"error": "bad token"}`,
			check: func(t *testing.T, err error) {
				var authErr *AuthError
				if !errors.As(err, &authErr) {
					t.Fatalf("expected AuthError, got %T: %v", err, err)
				}
				if authErr.Message != "bad token" {
					t.Fatalf("message not parsed: %q", authErr.Message)
				}
			},
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			body:   `{}`,
			check: func(t *testing.T, err error) {
				var authErr *AuthError
				if !errors.As(err, &authErr) {
					t.Fatalf("expected AuthError, got %T", err)
				}
			},
		},
		{
			name:   "notFound",
			status: http.StatusNotFound,
			body:   ``,
			check: func(t *testing.T, err error) {
				var nfErr *NotFoundError
				if !errors.As(err, &nfErr) {
					t.Fatalf("expected NotFoundError, got %T", err)
				}
				if !strings.Contains(nfErr.URL, "/v5/things.json") {
					t.Fatalf("URL missing from error: %q", nfErr.URL)
				}
			},
		},
		{
			name:   "validation",
			status: http.StatusUnprocessableEntity,
			body:   `{"errors": {"email": ["is invalid", "is required"]}}`,
			check: func(t *testing.T, err error) {
				var valErr *ValidationError
				if !errors.As(err, &valErr) {
					t.Fatalf("expected ValidationError, got %T", err)
				}
				messages := valErr.FieldMessages("email")
				if len(messages) != 2 || messages[0] != "is invalid" {
					t.Fatalf("field detail missing: %v", valErr.Fields)
				}
			},
		},
		{
			name:   "server",
			status: http.StatusInternalServerError,
			body:   `oops`,
			check: func(t *testing.T, err error) {
				var srvErr *ServerError
				if !errors.As(err, &srvErr) {
					t.Fatalf("expected ServerError, got %T", err)
				}
				if srvErr.Message != "oops" {
					t.Fatalf("raw body not captured: %q", srvErr.Message)
				}
			},
		},
		{
			name:   "teapot",
			status: http.StatusTeapot,
			body:   ``,
			check: func(t *testing.T, err error) {
				var statusErr *StatusError
				if !errors.As(err, &statusErr) {
					t.Fatalf("expected StatusError, got %T", err)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			err := client.Get(context.Background(), "things.json", nil)
			if err == nil {
				t.Fatalf("expected error for status %d", tc.status)
			}
			tc.check(t, err)
		})
	}
}

func TestNetworkErrorWrapsCause(t *testing.T) {
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	err := client.Get(context.Background(), "frames.json", nil)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %T: %v", err, err)
	}
	if netErr.Unwrap() == nil {
		t.Fatalf("expected wrapped cause")
	}
}

func TestDebugLogRedactsPassword(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}), WithLogger(logger))

	payload := map[string]any{"user": map[string]any{"email": "a@b.c", "password": "hunter2"}}
	if err := client.Post(context.Background(), "login.json", payload, nil); err != nil {
		t.Fatalf("Post: %v", err)
	}
	logged := buf.String()
	if strings.Contains(logged, "hunter2") {
		t.Fatalf("password leaked into logs: %s", logged)
	}
	if !strings.Contains(logged, "[REDACTED]") {
		t.Fatalf("expected redaction marker in log output: %s", logged)
	}
}

func TestDownload(t *testing.T) {
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/u/photo.jpg" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("image bytes"))
	}))

	data, err := client.Download(context.Background(), server.URL+"/u/photo.jpg")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "image bytes" {
		t.Fatalf("unexpected payload %q", data)
	}

	if _, err := client.Download(context.Background(), server.URL+"/missing.jpg"); err == nil {
		t.Fatalf("expected error for missing object")
	}
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	if _, err := New(WithBaseURL("://nope")); err == nil {
		t.Fatalf("expected error for malformed base URL")
	}
}
