package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/striglia/auraframes/internal/models"
	"github.com/striglia/auraframes/internal/rest"
)

// FrameService reads frames and manages which assets they display.
type FrameService struct {
	client *rest.Client
}

func NewFrameService(client *rest.Client) *FrameService {
	return &FrameService{client: client}
}

// SelectAssetError reports placeholder selections the frame refused.
type SelectAssetError struct {
	FrameID      string
	NumberFailed int
}

func (e *SelectAssetError) Error() string {
	return fmt.Sprintf("api: frame %s rejected %d asset selection(s)", e.FrameID, e.NumberFailed)
}

// AssetsPage is one page of a frame's asset listing.
type AssetsPage struct {
	Assets     []models.Asset
	NextCursor string
}

// HasMore reports whether another page follows this one.
func (p AssetsPage) HasMore() bool {
	return p.NextCursor != ""
}

// List returns every frame visible to the account.
func (s *FrameService) List(ctx context.Context) ([]models.Frame, error) {
	var resp struct {
		Frames []models.Frame `json:"frames"`
	}
	if err := s.client.Get(ctx, "frames.json", &resp); err != nil {
		return nil, err
	}
	return resp.Frames, nil
}

// Get returns a single frame along with the backend's total asset count,
// which the listing pages do not repeat.
func (s *FrameService) Get(ctx context.Context, frameID string) (models.Frame, int, error) {
	var resp struct {
		Frame           models.Frame `json:"frame"`
		TotalAssetCount int          `json:"total_asset_count"`
	}
	path := fmt.Sprintf("frames/%s.json", url.PathEscape(frameID))
	if err := s.client.Get(ctx, path, &resp); err != nil {
		return models.Frame{}, 0, err
	}
	return resp.Frame, resp.TotalAssetCount, nil
}

// SelectAsset asks the frame to take the referenced asset into its rotation.
// During an upload this is called twice: once with the local identifier to
// create the placeholder, and again with the server id once it exists.
func (s *FrameService) SelectAsset(ctx context.Context, frameID string, ref models.AssetPartialID) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	var resp struct {
		NumberFailed int `json:"number_failed"`
	}
	path := fmt.Sprintf("frames/%s/select_asset.json", url.PathEscape(frameID))
	if err := s.client.Post(ctx, path, ref.RequestForm(), &resp); err != nil {
		return err
	}
	if resp.NumberFailed > 0 {
		return &SelectAssetError{FrameID: frameID, NumberFailed: resp.NumberFailed}
	}
	return nil
}

// ListAssets fetches one page of the frame's assets. Pass the cursor from the
// previous page, or "" for the first page. Callers that walk every page are
// expected to pause between calls; the backend is a consumer service, not
// built for bulk reads.
func (s *FrameService) ListAssets(ctx context.Context, frameID, cursor string) (AssetsPage, error) {
	path := fmt.Sprintf("frames/%s/assets.json", url.PathEscape(frameID))
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}
	var resp struct {
		Assets         []models.Asset  `json:"assets"`
		NextPageCursor json.RawMessage `json:"next_page_cursor"`
	}
	if err := s.client.Get(ctx, path, &resp); err != nil {
		return AssetsPage{}, err
	}
	return AssetsPage{Assets: resp.Assets, NextCursor: cursorString(resp.NextPageCursor)}, nil
}

// cursorString flattens the cursor field, which the backend has sent as a
// string, a bare number, and null at various times.
func cursorString(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return trimmed
}
