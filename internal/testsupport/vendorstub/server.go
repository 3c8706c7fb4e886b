package vendorstub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/striglia/auraframes/internal/models"
)

// Options describes how the fake backend should behave.
type Options struct {
	// User is returned from the login endpoint. Zero-value fields are filled
	// with usable defaults, including an auth token.
	User models.User

	// Password, when set, is required by the login endpoint. Other passwords
	// return HTTP 401.
	Password string

	// Frames are returned from the frame list and detail endpoints.
	Frames []models.Frame

	// TotalAssetCount is reported by the frame detail endpoint.
	TotalAssetCount int

	// AssetPages holds each frame's asset listing, pre-split into pages.
	AssetPages map[string][][]models.Asset

	// BatchIDs are the server ids assigned by the batch update endpoint. When
	// empty, ids are generated as srv-1, srv-2, ...
	BatchIDs []string

	// Images maps file names to the bytes served by the /proxy endpoints.
	Images map[string][]byte

	// FailLogins causes the first N login requests to return HTTP 401.
	// Subsequent attempts succeed.
	FailLogins int

	// FailSelects causes the first N select_asset requests to return HTTP 503.
	// Subsequent attempts succeed.
	FailSelects int

	// RequireAuth enforces the session headers on every endpoint except
	// login. Requests without the issued token return HTTP 401.
	RequireAuth bool
}

// Operation represents a recorded backend interaction.
type Operation struct {
	Kind      string
	FrameID   string
	AssetID   string
	LocalID   string
	Cursor    string
	FileName  string
	Attempt   int
	Status    int
	Timestamp time.Time
}

// Server hosts a single httptest.Server that serves all backend endpoints.
type Server struct {
	server *httptest.Server
	opts   Options

	mu         sync.Mutex
	operations []Operation
	loginErr   int
	selectErr  int
	nextID     int
}

// Start spins up a new backend stub using the provided options.
func Start(opts Options) *Server {
	if opts.User.ID == "" {
		opts.User.ID = "usr-1"
	}
	if opts.User.AuthToken == "" {
		opts.User.AuthToken = "tok-1"
	}
	if opts.User.Email == "" {
		opts.User.Email = "frame@example.com"
	}
	s := &Server{opts: opts}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Close shuts down the underlying HTTP server.
func (s *Server) Close() {
	if s.server != nil {
		s.server.Close()
	}
}

// BaseURL returns the HTTP base URL for all backend endpoints.
func (s *Server) BaseURL() string {
	return s.server.URL
}

// ProxyURL returns the base URL of the fake image proxy.
func (s *Server) ProxyURL() string {
	return s.server.URL + "/proxy"
}

// User returns the account record the stub authenticates, token included.
func (s *Server) User() models.User {
	return s.opts.User
}

// Operations returns a copy of all recorded operations in the order they
// occurred.
func (s *Server) Operations() []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Operation, len(s.operations))
	copy(out, s.operations)
	return out
}

// OperationsOf filters the recorded operations by kind.
func (s *Server) OperationsOf(kind string) []Operation {
	var out []Operation
	for _, op := range s.Operations() {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == "/login.json":
		s.handleLogin(w, r)
	case r.Method == http.MethodGet && path == "/frames.json":
		s.handleListFrames(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/frames/") && strings.HasSuffix(path, "/assets.json"):
		s.handleListAssets(w, r)
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/frames/") && strings.HasSuffix(path, "/select_asset.json"):
		s.handleSelectAsset(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/frames/") && strings.HasSuffix(path, ".json"):
		s.handleGetFrame(w, r)
	case r.Method == http.MethodPut && path == "/assets/batch_update.json":
		s.handleBatchUpdate(w, r)
	case r.Method == http.MethodGet && path == "/assets/asset_for_local_identifier.json":
		s.handleLookupAsset(w, r)
	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/assets/") && strings.HasSuffix(path, ".json"):
		s.handleDeleteAsset(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/proxy/"):
		s.handleProxy(w, r)
	default:
		http.Error(w, "unexpected request", http.StatusNotFound)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	type loginRequest struct {
		User struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		} `json:"user"`
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.loginErr++
	attempt := s.loginErr
	s.mu.Unlock()

	op := Operation{Kind: "login", Attempt: attempt, Status: http.StatusOK, Timestamp: time.Now()}

	if attempt <= s.opts.FailLogins || (s.opts.Password != "" && req.User.Password != s.opts.Password) {
		op.Status = http.StatusUnauthorized
		s.record(op)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Email or password is incorrect."})
		return
	}
	s.record(op)

	writeJSON(w, http.StatusOK, map[string]any{
		"result": map[string]any{"current_user": s.opts.User},
	})
}

func (s *Server) handleListFrames(w http.ResponseWriter, r *http.Request) {
	if !s.expectSession(w, r) {
		return
	}
	s.record(Operation{Kind: "frame-list", Status: http.StatusOK})
	writeJSON(w, http.StatusOK, map[string]any{"frames": s.frames()})
}

func (s *Server) handleGetFrame(w http.ResponseWriter, r *http.Request) {
	if !s.expectSession(w, r) {
		return
	}
	frameID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/frames/"), ".json")
	for _, frame := range s.frames() {
		if frame.ID == frameID {
			s.record(Operation{Kind: "frame-get", FrameID: frameID, Status: http.StatusOK})
			writeJSON(w, http.StatusOK, map[string]any{
				"frame":             frame,
				"total_asset_count": s.opts.TotalAssetCount,
			})
			return
		}
	}
	s.record(Operation{Kind: "frame-get", FrameID: frameID, Status: http.StatusNotFound})
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "frame not found"})
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	if !s.expectSession(w, r) {
		return
	}
	frameID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/frames/"), "/assets.json")
	cursor := r.URL.Query().Get("cursor")

	page := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(strings.TrimPrefix(cursor, "cursor-"))
		if err != nil {
			http.Error(w, "bad cursor", http.StatusBadRequest)
			return
		}
		page = parsed
	}

	pages := s.opts.AssetPages[frameID]
	s.record(Operation{Kind: "asset-list", FrameID: frameID, Cursor: cursor, Status: http.StatusOK})

	var assets []models.Asset
	if page < len(pages) {
		assets = pages[page]
	}
	next := any(nil)
	if page+1 < len(pages) {
		next = fmt.Sprintf("cursor-%d", page+1)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assets":           assets,
		"next_page_cursor": next,
	})
}

func (s *Server) handleSelectAsset(w http.ResponseWriter, r *http.Request) {
	if !s.expectSession(w, r) {
		return
	}
	frameID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/frames/"), "/select_asset.json")

	var ref struct {
		AssetID         string `json:"asset_id"`
		LocalIdentifier string `json:"asset_local_identifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.selectErr++
	attempt := s.selectErr
	s.mu.Unlock()

	op := Operation{
		Kind:      "asset-select",
		FrameID:   frameID,
		AssetID:   ref.AssetID,
		LocalID:   ref.LocalIdentifier,
		Attempt:   attempt,
		Status:    http.StatusOK,
		Timestamp: time.Now(),
	}

	if attempt <= s.opts.FailSelects {
		op.Status = http.StatusServiceUnavailable
		s.record(op)
		http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
		return
	}
	s.record(op)
	writeJSON(w, http.StatusOK, map[string]int{"number_failed": 0})
}

func (s *Server) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.expectSession(w, r) {
		return
	}
	var req struct {
		Assets []struct {
			LocalIdentifier string `json:"local_identifier"`
			FileName        string `json:"file_name"`
		} `json:"assets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ids := make([]string, 0, len(req.Assets))
	successes := make([]map[string]string, 0, len(req.Assets))
	for i, asset := range req.Assets {
		s.mu.Lock()
		s.nextID++
		id := fmt.Sprintf("srv-%d", s.nextID)
		s.mu.Unlock()
		if i < len(s.opts.BatchIDs) {
			id = s.opts.BatchIDs[i]
		}
		ids = append(ids, id)
		successes = append(successes, map[string]string{"local_identifier": asset.LocalIdentifier})
		s.record(Operation{
			Kind:     "batch-update",
			AssetID:  id,
			LocalID:  asset.LocalIdentifier,
			FileName: asset.FileName,
			Status:   http.StatusOK,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": ids, "successes": successes})
}

func (s *Server) handleLookupAsset(w http.ResponseWriter, r *http.Request) {
	if !s.expectSession(w, r) {
		return
	}
	localID := r.URL.Query().Get("local_identifier")
	s.record(Operation{Kind: "asset-lookup", LocalID: localID, Status: http.StatusOK})
	writeJSON(w, http.StatusOK, map[string]any{
		"asset": models.Asset{
			ID:              "srv-lookup",
			LocalIdentifier: localID,
			UserID:          s.opts.User.ID,
			Status:          models.StatusProcessing,
		},
		"child_albums": []any{},
		"smart_adds":   []any{},
	})
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	if !s.expectSession(w, r) {
		return
	}
	assetID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/assets/"), ".json")
	s.record(Operation{Kind: "asset-delete", AssetID: assetID, Status: http.StatusOK})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/proxy/"), "/", 2)
	if len(parts) != 2 {
		http.Error(w, "bad proxy path", http.StatusBadRequest)
		return
	}
	fileName := parts[1]
	data, ok := s.opts.Images[fileName]
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
	}
	s.record(Operation{Kind: "proxy-fetch", FileName: fileName, Status: status})
	if !ok {
		http.Error(w, "image not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(data)
}

func (s *Server) record(op Operation) {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations = append(s.operations, op)
}

func (s *Server) expectSession(w http.ResponseWriter, r *http.Request) bool {
	if !s.opts.RequireAuth {
		return true
	}
	token := r.Header.Get("x-token-auth")
	userID := r.Header.Get("x-user-id")
	if token != s.opts.User.AuthToken || userID != s.opts.User.ID {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return false
	}
	return true
}

func (s *Server) frames() []models.Frame {
	if len(s.opts.Frames) > 0 {
		return s.opts.Frames
	}
	return []models.Frame{{ID: "frame-1", Name: "Living Room", UserID: s.opts.User.ID}}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
