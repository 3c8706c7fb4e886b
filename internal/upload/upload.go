// Package upload drives one photo through the vendor's multi-service upload
// sequence: draft the asset on the frame, trade the session for storage
// credentials, put the bytes, confirm with the backend, and attach the
// finished asset. Each sequence runs its steps strictly in order; concurrency
// across photos belongs to the caller.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/striglia/auraframes/internal/eventqueue"
	"github.com/striglia/auraframes/internal/identity"
	"github.com/striglia/auraframes/internal/models"
	"github.com/striglia/auraframes/internal/observability/logging"
	"github.com/striglia/auraframes/internal/timeutil"
)

// State names one stop in the upload sequence.
type State string

const (
	StateInitiated          State = "initiated"
	StateAssetDrafted       State = "asset_drafted"
	StateCredentialAcquired State = "credential_acquired"
	StateUploaded           State = "uploaded"
	StateConfirmedByServer  State = "confirmed_by_server"
	StateAttachedToFrame    State = "attached_to_frame"
	StateComplete           State = "complete"
	StateFailed             State = "failed"
)

// FlowError reports a failed sequence: the state the workflow was in, the
// step that broke, the asset status last announced by the backend, and the
// cause.
type FlowError struct {
	State      State
	Step       string
	LastStatus models.AssetStatus
	Err        error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("upload: %s failed in state %s: %v", e.Step, e.State, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

// ProtocolViolationError reports the backend contradicting itself: a status
// moving backward, an event naming the wrong asset, or a confirmation for an
// asset we never submitted. Fatal to the sequence, never retried.
type ProtocolViolationError struct {
	AssetID string
	Detail  string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("upload: protocol violation for asset %s: %s", e.AssetID, e.Detail)
}

// FrameService is the slice of the resource API that attaches assets to a
// frame.
type FrameService interface {
	SelectAsset(ctx context.Context, frameID string, ref models.AssetPartialID) error
}

// AssetService submits draft metadata to the backend.
type AssetService interface {
	BatchUpdate(ctx context.Context, assets ...models.Asset) ([]string, []models.AssetPartialID, error)
}

// CredentialIssuer trades the ambient identity for a scoped storage ticket.
type CredentialIssuer interface {
	Issue(ctx context.Context) (identity.Ticket, error)
}

// ObjectStore puts bytes and reports the stored key and content hash.
type ObjectStore interface {
	Upload(ctx context.Context, data []byte, ext string) (key, md5sum string, err error)
}

// EventWaiter blocks until the frame's queue announces a status for an asset.
type EventWaiter interface {
	Wait(ctx context.Context, assetID string, status models.AssetStatus, timeout time.Duration) (eventqueue.Event, error)
}

const (
	defaultCredentialRetries = 2
	defaultPollTimeout       = 90 * time.Second
)

// Config wires a Workflow.
type Config struct {
	Frames   FrameService
	Assets   AssetService
	Identity CredentialIssuer
	Events   EventWaiter
	// NewStore builds the uploader for one ticket. Every fresh ticket gets a
	// fresh store so expired credentials never linger in a client.
	NewStore func(identity.Ticket) ObjectStore
	// UserID is recorded on drafted assets.
	UserID string
	Logger *slog.Logger
	// CredentialRetries bounds how many times an expired ticket is reissued
	// mid-upload before the sequence fails.
	CredentialRetries int
	// PollTimeout bounds each wait on the frame's event queue.
	PollTimeout time.Duration
	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
	Now          func() time.Time
}

// Workflow runs upload sequences. Safe for concurrent use; each Run tracks
// its own sequence state.
type Workflow struct {
	frames       FrameService
	assets       AssetService
	identity     CredentialIssuer
	events       EventWaiter
	newStore     func(identity.Ticket) ObjectStore
	userID       string
	logger       *slog.Logger
	retries      int
	pollTimeout  time.Duration
	onTransition func(from, to State)
	now          func() time.Time
}

func New(cfg Config) (*Workflow, error) {
	if cfg.Frames == nil {
		return nil, errors.New("upload: frame service is required")
	}
	if cfg.Assets == nil {
		return nil, errors.New("upload: asset service is required")
	}
	if cfg.Identity == nil {
		return nil, errors.New("upload: credential issuer is required")
	}
	if cfg.Events == nil {
		return nil, errors.New("upload: event waiter is required")
	}
	if cfg.NewStore == nil {
		return nil, errors.New("upload: object store factory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := cfg.CredentialRetries
	if retries <= 0 {
		retries = defaultCredentialRetries
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Workflow{
		frames:       cfg.Frames,
		assets:       cfg.Assets,
		identity:     cfg.Identity,
		events:       cfg.Events,
		newStore:     cfg.NewStore,
		userID:       cfg.UserID,
		logger:       logger,
		retries:      retries,
		pollTimeout:  pollTimeout,
		onTransition: cfg.OnTransition,
		now:          now,
	}, nil
}

// Photo is one image to push through the sequence.
type Photo struct {
	// Data is the encoded image.
	Data []byte
	// Filename is the name the image had on disk; its extension picks the
	// storage key suffix and the reported UTI.
	Filename string
	// TakenAt, when set, is recorded on the asset.
	TakenAt time.Time
	Width   int
	Height  int
	// LocationName is a human place name recorded on the asset.
	LocationName string
	Favorite     bool
}

type sequence struct {
	w        *Workflow
	logger   *slog.Logger
	frameID  string
	state    State
	last     models.AssetStatus
	draft    models.Asset
	ticket   identity.Ticket
	key      string
	md5sum   string
	serverID string
}

// Run pushes one photo through the whole sequence and returns the finished
// asset. On failure the returned error is always a *FlowError wrapping the
// cause.
func (w *Workflow) Run(ctx context.Context, frameID string, photo Photo) (models.Asset, error) {
	if frameID == "" {
		return models.Asset{}, &FlowError{State: StateInitiated, Step: "validate input", Err: errors.New("frame id is required")}
	}
	if len(photo.Data) == 0 {
		return models.Asset{}, &FlowError{State: StateInitiated, Step: "validate input", Err: errors.New("photo has no data")}
	}

	localID := uuid.NewString()
	ctx = logging.ContextWithUploadID(ctx, localID)
	ctx = logging.ContextWithFrameID(ctx, frameID)

	seq := &sequence{
		w:       w,
		logger:  logging.WithContext(ctx, w.logger),
		frameID: frameID,
		state:   StateInitiated,
		last:    models.StatusDraft,
		draft: models.Asset{
			LocalIdentifier:  localID,
			UserID:           w.userID,
			OriginalFileName: photo.Filename,
			DataUTI:          dataUTI(photo.Filename),
			Width:            photo.Width,
			Height:           photo.Height,
			LocationName:     photo.LocationName,
			Favorite:         photo.Favorite,
			Status:           models.StatusDraft,
		},
	}
	if !photo.TakenAt.IsZero() {
		seq.draft.TakenAt = timeutil.Format(photo.TakenAt)
	}
	seq.logger.Info("upload started", "filename", photo.Filename, "bytes", len(photo.Data))

	if err := seq.draftAsset(ctx); err != nil {
		return models.Asset{}, seq.fail("draft asset", err)
	}
	if err := seq.acquireCredential(ctx); err != nil {
		return models.Asset{}, seq.fail("issue credential", err)
	}
	if err := seq.uploadBytes(ctx, photo); err != nil {
		return models.Asset{}, seq.fail("upload bytes", err)
	}
	if err := seq.confirm(ctx); err != nil {
		return models.Asset{}, seq.fail("confirm upload", err)
	}
	if err := seq.attach(ctx); err != nil {
		return models.Asset{}, seq.fail("attach to frame", err)
	}
	seq.transition(StateComplete)
	seq.logger.Info("upload complete", "asset_id", seq.serverID, "file_name", seq.key)

	final := seq.draft
	final.ID = seq.serverID
	final.Status = models.StatusReady
	return final, nil
}

// draftAsset registers the placeholder with the frame and waits for the
// backend to announce it. The vendor needs the selection issued twice: once
// to create the placeholder and again to pin it after the announcement.
func (s *sequence) draftAsset(ctx context.Context) error {
	ref := models.AssetPartialID{LocalIdentifier: s.draft.LocalIdentifier}
	if err := s.w.frames.SelectAsset(ctx, s.frameID, ref); err != nil {
		return fmt.Errorf("select draft: %w", err)
	}
	event, err := s.w.events.Wait(ctx, s.draft.LocalIdentifier, models.StatusProcessing, s.w.pollTimeout)
	if err != nil {
		return fmt.Errorf("await draft announcement: %w", err)
	}
	if err := s.observe(event, s.draft.LocalIdentifier); err != nil {
		return err
	}
	if err := s.w.frames.SelectAsset(ctx, s.frameID, ref); err != nil {
		return fmt.Errorf("reselect draft: %w", err)
	}
	s.transition(StateAssetDrafted)
	return nil
}

func (s *sequence) acquireCredential(ctx context.Context) error {
	ticket, err := s.w.identity.Issue(ctx)
	if err != nil {
		return err
	}
	s.ticket = ticket
	s.transition(StateCredentialAcquired)
	return nil
}

// uploadBytes puts the image with the current ticket. An expired ticket is
// reissued and the put repeated with a fresh key, bounded by the configured
// retry count; any other failure ends the sequence.
func (s *sequence) uploadBytes(ctx context.Context, photo Photo) error {
	ext := strings.ToLower(filepath.Ext(photo.Filename))
	for attempt := 0; ; attempt++ {
		key, sum, err := s.w.newStore(s.ticket).Upload(ctx, photo.Data, ext)
		if err == nil {
			s.key = key
			s.md5sum = sum
			s.transition(StateUploaded)
			return nil
		}
		if !errors.Is(err, identity.ErrCredentialExpired) {
			return fmt.Errorf("put object: %w", err)
		}
		if attempt >= s.w.retries {
			return fmt.Errorf("put object after %d credential reissues: %w", attempt, err)
		}
		s.logger.Warn("storage ticket expired mid-upload, reissuing", "reissue", attempt+1)
		ticket, issueErr := s.w.identity.Issue(ctx)
		if issueErr != nil {
			return fmt.Errorf("reissue credential: %w", issueErr)
		}
		s.ticket = ticket
	}
}

// confirm hands the stored object's coordinates to the backend, learns the
// server-issued id, and waits for processing to finish.
func (s *sequence) confirm(ctx context.Context) error {
	s.draft.FileName = s.key
	s.draft.MD5Hash = s.md5sum
	s.draft.UploadedAt = timeutil.Format(s.w.now())

	ids, successes, err := s.w.assets.BatchUpdate(ctx, s.draft)
	if err != nil {
		return fmt.Errorf("submit metadata: %w", err)
	}
	if len(ids) != 1 {
		return &ProtocolViolationError{
			AssetID: s.draft.LocalIdentifier,
			Detail:  fmt.Sprintf("batch update returned %d ids for one asset", len(ids)),
		}
	}
	confirmed := false
	for _, success := range successes {
		if success.LocalIdentifier == s.draft.LocalIdentifier {
			confirmed = true
			break
		}
	}
	if !confirmed {
		return &ProtocolViolationError{
			AssetID: s.draft.LocalIdentifier,
			Detail:  "batch update confirmed a different asset",
		}
	}
	s.serverID = ids[0]

	event, err := s.w.events.Wait(ctx, s.serverID, models.StatusReady, s.w.pollTimeout)
	if err != nil {
		return fmt.Errorf("await processing: %w", err)
	}
	if err := s.observe(event, s.serverID); err != nil {
		return err
	}
	s.transition(StateConfirmedByServer)
	return nil
}

func (s *sequence) attach(ctx context.Context) error {
	if err := s.w.frames.SelectAsset(ctx, s.frameID, models.AssetPartialID{ID: s.serverID}); err != nil {
		return fmt.Errorf("select by server id: %w", err)
	}
	s.transition(StateAttachedToFrame)
	return nil
}

// observe folds one announced status into the sequence, rejecting anything
// that contradicts what the backend already told us.
func (s *sequence) observe(event eventqueue.Event, wantID string) error {
	if event.AssetID != wantID {
		return &ProtocolViolationError{
			AssetID: wantID,
			Detail:  fmt.Sprintf("event names asset %s", event.AssetID),
		}
	}
	if !s.last.CanAdvance(event.Status) {
		return &ProtocolViolationError{
			AssetID: wantID,
			Detail:  fmt.Sprintf("status regressed from %s to %s", s.last, event.Status),
		}
	}
	s.last = event.Status
	s.draft.Status = event.Status
	return nil
}

func (s *sequence) transition(to State) {
	from := s.state
	s.state = to
	if s.w.onTransition != nil {
		s.w.onTransition(from, to)
	}
	s.logger.Debug("state change", "from", string(from), "to", string(to))
}

func (s *sequence) fail(step string, err error) error {
	at := s.state
	s.transition(StateFailed)
	s.logger.Error("upload failed", "step", step, "state", string(at), "error", err)
	return &FlowError{State: at, Step: step, LastStatus: s.last, Err: err}
}

// dataUTI maps a filename extension to the UTI the mobile clients report.
func dataUTI(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "public.png"
	case ".gif":
		return "com.compuserve.gif"
	case ".heic":
		return "public.heic"
	default:
		return "public.jpeg"
	}
}
