package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/striglia/auraframes/internal/rest"
)

// testClient serves handler from a local server and returns a client rooted
// at its /v5/ prefix, matching the path layout the services expect.
func testClient(t *testing.T, handler http.Handler) *rest.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := rest.New(rest.WithBaseURL(server.URL + "/v5/"))
	if err != nil {
		t.Fatalf("rest.New: %v", err)
	}
	return client
}
