// Package export pulls a frame's original images down to a local directory,
// stamping metadata back into each file and writing a JSON sidecar describing
// everything that was fetched.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/striglia/auraframes/internal/models"
	"github.com/striglia/auraframes/internal/timeutil"
)

// DefaultProxyURL serves original-resolution files by owner and file name.
const DefaultProxyURL = "https://imgproxy.pushd.com"

const (
	defaultWorkers = 4
	sidecarName    = "assets.json"
)

// Downloader fetches one absolute URL.
type Downloader interface {
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// Embedder rewrites image metadata before the file lands on disk.
type Embedder interface {
	Embed(ctx context.Context, image []byte, asset models.Asset) ([]byte, error)
}

// Config wires an Exporter.
type Config struct {
	Downloader Downloader
	// Embedder is optional; without one, files are written as served.
	Embedder Embedder
	ProxyURL string
	Workers  int
	// IgnoreCache re-downloads files that already exist on disk.
	IgnoreCache bool
	Logger      *slog.Logger
}

// Result summarizes one export run.
type Result struct {
	Exported int
	Skipped  int
	Failed   int
}

// Exporter downloads assets with bounded concurrency.
type Exporter struct {
	downloader  Downloader
	embedder    Embedder
	proxyURL    string
	workers     int
	ignoreCache bool
	logger      *slog.Logger
}

func New(cfg Config) (*Exporter, error) {
	if cfg.Downloader == nil {
		return nil, fmt.Errorf("export: downloader is required")
	}
	proxyURL := cfg.ProxyURL
	if proxyURL == "" {
		proxyURL = DefaultProxyURL
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		downloader:  cfg.Downloader,
		embedder:    cfg.Embedder,
		proxyURL:    proxyURL,
		workers:     workers,
		ignoreCache: cfg.IgnoreCache,
		logger:      logger,
	}, nil
}

// Export writes every asset's original into dir. Per-asset failures are
// logged and counted rather than aborting the run; only directory setup,
// sidecar write, or context cancellation fail the whole export.
func (e *Exporter) Export(ctx context.Context, assets []models.Asset, dir string) (Result, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("export: create directory: %w", err)
	}

	var (
		mu     sync.Mutex
		result Result
	)
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(e.workers)

	for _, asset := range assets {
		asset := asset
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcome, err := e.exportOne(ctx, asset, dir)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				e.logger.Error("asset export failed", "asset_id", asset.ID, "error", err)
			case outcome:
				result.Exported++
			default:
				result.Skipped++
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return result, err
	}

	if err := e.writeSidecar(assets, dir); err != nil {
		return result, err
	}
	e.logger.Info("export finished", "dir", dir,
		"exported", result.Exported, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

// exportOne reports whether the asset was written (false means skipped).
func (e *Exporter) exportOne(ctx context.Context, asset models.Asset, dir string) (bool, error) {
	if asset.FileName == "" {
		e.logger.Debug("asset has no original file, skipping", "asset_id", asset.ID)
		return false, nil
	}
	owner := ownerID(asset)
	if owner == "" {
		return false, fmt.Errorf("asset %s has no owner for the proxy path", asset.ID)
	}

	path := filepath.Join(dir, exportFileName(asset))
	if !e.ignoreCache {
		if _, err := os.Stat(path); err == nil {
			e.logger.Debug("already exported", "path", path)
			return false, nil
		}
	}

	data, err := e.downloader.Download(ctx, fmt.Sprintf("%s/%s/%s", e.proxyURL, owner, asset.FileName))
	if err != nil {
		return false, fmt.Errorf("download: %w", err)
	}
	if e.embedder != nil {
		embedded, err := e.embedder.Embed(ctx, data, asset)
		if err != nil {
			e.logger.Warn("metadata embed failed, writing original bytes", "asset_id", asset.ID, "error", err)
		} else {
			data = embedded
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write file: %w", err)
	}
	return true, nil
}

func (e *Exporter) writeSidecar(assets []models.Asset, dir string) error {
	data, err := json.MarshalIndent(assets, "", "  ")
	if err != nil {
		return fmt.Errorf("export: encode sidecar: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, sidecarName), data, 0o644); err != nil {
		return fmt.Errorf("export: write sidecar: %w", err)
	}
	return nil
}

// exportFileName prefixes the server file name with the capture stamp so
// files sort chronologically on disk.
func exportFileName(asset models.Asset) string {
	if asset.TakenAt != "" {
		if taken, err := timeutil.Parse(asset.TakenAt); err == nil {
			return timeutil.PathSafe(taken) + "-" + asset.FileName
		}
	}
	return asset.FileName
}

func ownerID(asset models.Asset) string {
	if asset.UserID != "" {
		return asset.UserID
	}
	if asset.User != nil {
		return asset.User.ID
	}
	return ""
}
