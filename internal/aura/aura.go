// Package aura is the top of the client: it wires the REST transport, the
// session store, the identity provider, object storage, and the event queue
// into the operations the CLI exposes. Everything below this package is a
// building block; everything above it is flag parsing.
package aura

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/striglia/auraframes/internal/api"
	"github.com/striglia/auraframes/internal/cache"
	"github.com/striglia/auraframes/internal/config"
	"github.com/striglia/auraframes/internal/eventqueue"
	"github.com/striglia/auraframes/internal/exifwrite"
	"github.com/striglia/auraframes/internal/export"
	"github.com/striglia/auraframes/internal/geocode"
	"github.com/striglia/auraframes/internal/identity"
	"github.com/striglia/auraframes/internal/models"
	"github.com/striglia/auraframes/internal/objectstore"
	"github.com/striglia/auraframes/internal/observability/logging"
	"github.com/striglia/auraframes/internal/rest"
	"github.com/striglia/auraframes/internal/session"
	"github.com/striglia/auraframes/internal/upload"
)

// The concrete implementations must keep satisfying the workflow's and the
// exporter's consumer-side interfaces.
var (
	_ upload.FrameService     = (*api.FrameService)(nil)
	_ upload.AssetService     = (*api.AssetService)(nil)
	_ upload.CredentialIssuer = (*identity.Provider)(nil)
	_ upload.EventWaiter      = (*eventqueue.Poller)(nil)
	_ upload.ObjectStore      = (*objectstore.Uploader)(nil)
	_ export.Downloader       = (*rest.Client)(nil)
	_ export.Embedder         = (*exifwrite.Writer)(nil)
)

// Config assembles a Client. Settings is required; the remaining fields are
// seams with working defaults.
type Config struct {
	Settings config.Config

	// Sessions overrides the file-backed session store.
	Sessions session.Store

	// Cache overrides the file-backed memo store.
	Cache *cache.Store

	// HTTPClient is shared by the REST transport and the geocoder.
	HTTPClient *http.Client

	// ProxyURL overrides the image proxy used by Export.
	ProxyURL string

	Logger *slog.Logger

	// Issuer, NewStore, and NewWaiter replace the AWS-backed credential,
	// object-store, and event-queue implementations in tests.
	Issuer    upload.CredentialIssuer
	NewStore  func(identity.Ticket) upload.ObjectStore
	NewWaiter func(queueURL string) (upload.EventWaiter, error)
}

// Client executes account-level operations against the photo-frame backend.
// One Client serves one account at a time.
type Client struct {
	settings config.Config
	logger   *slog.Logger
	root     *slog.Logger

	rest     *rest.Client
	accounts *api.AccountService
	frames   *api.FrameService
	assets   *api.AssetService
	sessions session.Store
	store    *cache.Store
	embedder *exifwrite.Writer
	proxyURL string

	issuer    upload.CredentialIssuer
	newStore  func(identity.Ticket) upload.ObjectStore
	newWaiter func(queueURL string) (upload.EventWaiter, error)

	mu       sync.Mutex
	current  session.Session
	authed   bool
	provider *identity.Provider
	waiters  map[string]upload.EventWaiter
}

// New wires a Client from configuration. A stored session, when present and
// valid, is resumed so commands after login need no credentials.
func New(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	restOpts := []rest.Option{
		rest.WithHTTPClient(cfg.HTTPClient),
		rest.WithLogger(logging.WithComponent(logger, "rest")),
	}
	if cfg.Settings.BaseURL != "" {
		restOpts = append(restOpts, rest.WithBaseURL(cfg.Settings.BaseURL))
	}
	restClient, err := rest.New(restOpts...)
	if err != nil {
		return nil, err
	}

	sessions := cfg.Sessions
	if sessions == nil {
		if cfg.Settings.SessionPath == "" {
			return nil, fmt.Errorf("aura: session path is required")
		}
		sessions = session.NewFileStore(cfg.Settings.SessionPath)
	}

	store := cfg.Cache
	if store == nil {
		if cfg.Settings.CacheDir == "" {
			return nil, fmt.Errorf("aura: cache dir is required")
		}
		store = cache.New(cfg.Settings.CacheDir, cache.WithLogger(logging.WithComponent(logger, "cache")))
	}

	geocoder := geocode.New(
		geocode.WithHTTPClient(cfg.HTTPClient),
		geocode.WithCache(store),
		geocode.WithLogger(logging.WithComponent(logger, "geocode")),
	)

	// Settings built by hand bypass config.Load's normalization, and an
	// errgroup limit of zero admits no work at all.
	settings := cfg.Settings
	if settings.UploadWorkers < 1 {
		settings.UploadWorkers = 1
	}

	c := &Client{
		settings: settings,
		logger:   logging.WithComponent(logger, "aura"),
		root:     logger,
		rest:     restClient,
		accounts: api.NewAccountService(restClient),
		frames:   api.NewFrameService(restClient),
		assets:   api.NewAssetService(restClient),
		sessions: sessions,
		store:    store,
		embedder: exifwrite.New(
			exifwrite.WithResolver(geocoder),
			exifwrite.WithLogger(logging.WithComponent(logger, "exif")),
		),
		proxyURL:  cfg.ProxyURL,
		issuer:    cfg.Issuer,
		newStore:  cfg.NewStore,
		newWaiter: cfg.NewWaiter,
		waiters:   map[string]upload.EventWaiter{},
	}
	if c.newStore == nil {
		storeLogger := logging.WithComponent(logger, "objectstore")
		c.newStore = func(ticket identity.Ticket) upload.ObjectStore {
			return objectstore.New(ticket, objectstore.WithLogger(storeLogger))
		}
	}

	c.resume()
	return c, nil
}

// resume loads a previously saved session. A corrupt session file is not
// fatal: the operator can log in again.
func (c *Client) resume() {
	sess, err := c.sessions.Load()
	if err != nil {
		if err != session.ErrNoSession {
			c.logger.Warn("stored session unreadable", "error", err)
		}
		return
	}
	if !sess.Valid() {
		return
	}
	c.current = sess
	c.authed = true
	c.rest.SetAuth(sess.UserID(), sess.Token)
}

// Session returns the active session, if any.
func (c *Client) Session() (session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.authed
}

func (c *Client) require() (session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authed {
		return session.Session{}, session.ErrNoSession
	}
	return c.current, nil
}

// Login exchanges credentials for a session, persists it, and installs the
// auth headers for the rest of the process.
func (c *Client) Login(ctx context.Context, email, password string) (models.User, error) {
	user, err := c.accounts.Login(ctx, email, password)
	if err != nil {
		return models.User{}, err
	}
	sess := session.New(user, time.Now())

	c.mu.Lock()
	c.current = sess
	c.authed = true
	c.mu.Unlock()
	c.rest.SetAuth(sess.UserID(), sess.Token)

	if err := c.sessions.Save(sess); err != nil {
		return user, fmt.Errorf("aura: save session: %w", err)
	}
	c.logger.Info("logged in", "user_id", user.ID, "email", user.Email)
	return user, nil
}

// Logout clears the stored session and the in-process auth headers.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.current = session.Session{}
	c.authed = false
	c.mu.Unlock()
	c.rest.ClearAuth()

	if err := c.sessions.Clear(); err != nil {
		return fmt.Errorf("aura: clear session: %w", err)
	}
	c.logger.Info("logged out")
	return nil
}

// Frames lists the account's frames, reading through the memo cache. Cache
// failures degrade to a live read.
func (c *Client) Frames(ctx context.Context) ([]models.Frame, error) {
	sess, err := c.require()
	if err != nil {
		return nil, err
	}

	key := cache.Key("frames", sess.UserID())
	var cached []models.Frame
	hit, err := c.store.Get(key, &cached)
	if err != nil {
		c.logger.Warn("frame cache read failed", "error", err)
	}
	if hit {
		return cached, nil
	}

	frames, err := c.frames.List(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.store.Put(key, frames); err != nil {
		c.logger.Warn("frame cache write failed", "error", err)
	}
	return frames, nil
}

// Frame fetches one frame plus the backend's total asset count. Always a live
// read: the count moves with every upload.
func (c *Client) Frame(ctx context.Context, frameID string) (models.Frame, int, error) {
	if _, err := c.require(); err != nil {
		return models.Frame{}, 0, err
	}
	return c.frames.Get(ctx, frameID)
}

// AllAssets walks every page of a frame's asset listing, pausing PageDelay
// between pages. The backend is a consumer service; the delay keeps bulk
// reads polite.
func (c *Client) AllAssets(ctx context.Context, frameID string) ([]models.Asset, error) {
	if _, err := c.require(); err != nil {
		return nil, err
	}

	var all []models.Asset
	cursor := ""
	for {
		page, err := c.frames.ListAssets(ctx, frameID, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Assets...)
		if !page.HasMore() {
			return all, nil
		}
		cursor = page.NextCursor
		if err := sleep(ctx, c.settings.PageDelay); err != nil {
			return nil, err
		}
	}
}

// UploadPhoto runs one upload sequence and returns the finished asset.
func (c *Client) UploadPhoto(ctx context.Context, frameID string, photo upload.Photo) (models.Asset, error) {
	wf, err := c.workflowFor(ctx, frameID)
	if err != nil {
		return models.Asset{}, err
	}
	return wf.Run(ctx, frameID, photo)
}

// UploadResult pairs one photo of a batch with its outcome.
type UploadResult struct {
	Asset models.Asset
	Err   error
}

// UploadPhotos runs the upload sequence for each photo with bounded
// concurrency, sharing the session, the credential provider, and the frame's
// event poller. Individual failures land in the result slice; only
// cancellation aborts the batch.
func (c *Client) UploadPhotos(ctx context.Context, frameID string, photos []upload.Photo) ([]UploadResult, error) {
	wf, err := c.workflowFor(ctx, frameID)
	if err != nil {
		return nil, err
	}

	results := make([]UploadResult, len(photos))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(c.settings.UploadWorkers)
	for i, photo := range photos {
		i, photo := i, photo
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = UploadResult{Err: err}
				return err
			}
			asset, err := wf.Run(ctx, frameID, photo)
			results[i] = UploadResult{Asset: asset, Err: err}
			if err != nil {
				c.logger.Error("upload failed", "frame_id", frameID, "file", photo.Filename, "error", err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Export downloads every asset of a frame into dir, re-embedding metadata the
// backend stripped on ingest.
func (c *Client) Export(ctx context.Context, frameID, dir string, ignoreCache bool) (export.Result, error) {
	if _, err := c.require(); err != nil {
		return export.Result{}, err
	}
	if dir == "" {
		return export.Result{}, fmt.Errorf("aura: export dir is required")
	}

	assets, err := c.AllAssets(ctx, frameID)
	if err != nil {
		return export.Result{}, err
	}

	exporter, err := export.New(export.Config{
		Downloader:  c.rest,
		Embedder:    c.embedder,
		ProxyURL:    c.proxyURL,
		Workers:     c.settings.UploadWorkers,
		IgnoreCache: ignoreCache,
		Logger:      logging.WithComponent(c.root, "export"),
	})
	if err != nil {
		return export.Result{}, err
	}
	return exporter.Export(ctx, assets, dir)
}

// PurgeCache removes memo entries older than the given age and reports how
// many were swept.
func (c *Client) PurgeCache(olderThan time.Duration) (int, error) {
	return c.store.Purge(olderThan)
}

// workflowFor assembles the upload workflow bound to one frame's event queue.
func (c *Client) workflowFor(ctx context.Context, frameID string) (*upload.Workflow, error) {
	sess, err := c.require()
	if err != nil {
		return nil, err
	}

	frame, _, err := c.frames.Get(ctx, frameID)
	if err != nil {
		return nil, fmt.Errorf("aura: resolve frame %s: %w", frameID, err)
	}
	if frame.ClientQueueURL == "" {
		return nil, fmt.Errorf("aura: frame %s reports no client queue; cannot watch upload progress", frameID)
	}

	issuer, err := c.credentialIssuer(ctx)
	if err != nil {
		return nil, err
	}
	waiter, err := c.waiterFor(ctx, issuer, frame.ClientQueueURL)
	if err != nil {
		return nil, err
	}

	return upload.New(upload.Config{
		Frames:      c.frames,
		Assets:      c.assets,
		Identity:    issuer,
		Events:      waiter,
		NewStore:    c.newStore,
		UserID:      sess.UserID(),
		Logger:      logging.WithComponent(c.root, "upload"),
		PollTimeout: c.settings.PollTimeout,
	})
}

// credentialIssuer returns the configured issuer, building the real Cognito
// provider on first use.
func (c *Client) credentialIssuer(ctx context.Context) (upload.CredentialIssuer, error) {
	if c.issuer != nil {
		return c.issuer, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.provider == nil {
		provider, err := identity.NewProvider(ctx,
			identity.WithLogger(logging.WithComponent(c.root, "identity")))
		if err != nil {
			return nil, err
		}
		c.provider = provider
	}
	return c.provider, nil
}

// waiterFor returns the shared poller for a frame queue, creating it on first
// use. Pollers idle with no goroutines when nothing is waiting, so they are
// kept for the life of the Client.
func (c *Client) waiterFor(ctx context.Context, issuer upload.CredentialIssuer, queueURL string) (upload.EventWaiter, error) {
	c.mu.Lock()
	if waiter, ok := c.waiters[queueURL]; ok {
		c.mu.Unlock()
		return waiter, nil
	}
	c.mu.Unlock()

	var waiter upload.EventWaiter
	if c.newWaiter != nil {
		built, err := c.newWaiter(queueURL)
		if err != nil {
			return nil, err
		}
		waiter = built
	} else {
		ticket, err := issuer.Issue(ctx)
		if err != nil {
			return nil, fmt.Errorf("aura: issue queue credentials: %w", err)
		}
		poller, err := eventqueue.New(eventqueue.Config{
			QueueURL: queueURL,
			API:      eventqueue.NewSQSClient(ticket),
			Logger:   logging.WithComponent(c.root, "eventqueue"),
		})
		if err != nil {
			return nil, err
		}
		waiter = poller
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.waiters[queueURL]; ok {
		return existing, nil
	}
	c.waiters[queueURL] = waiter
	return waiter, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
