package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/striglia/auraframes/internal/models"
	"github.com/striglia/auraframes/internal/rest"
)

// AssetService manages assets directly, outside the context of a frame.
type AssetService struct {
	client *rest.Client
}

func NewAssetService(client *rest.Client) *AssetService {
	return &AssetService{client: client}
}

// batchUpdateAsset is the field subset the batch update endpoint accepts.
// Sending the whole asset record back is rejected, so the serializable form
// is kept separate from models.Asset.
type batchUpdateAsset struct {
	LocalIdentifier  string    `json:"local_identifier"`
	UserID           string    `json:"user_id,omitempty"`
	FileName         string    `json:"file_name,omitempty"`
	OriginalFileName string    `json:"original_file_name,omitempty"`
	MD5Hash          string    `json:"md5_hash,omitempty"`
	DataUTI          string    `json:"data_uti,omitempty"`
	TakenAt          string    `json:"taken_at,omitempty"`
	Width            int       `json:"width,omitempty"`
	Height           int       `json:"height,omitempty"`
	Orientation      int       `json:"orientation,omitempty"`
	ExifOrientation  int       `json:"exif_orientation,omitempty"`
	Location         []float64 `json:"location,omitempty"`
	LocationName     string    `json:"location_name,omitempty"`
	Favorite         bool      `json:"favorite,omitempty"`
	IsLive           bool      `json:"is_live,omitempty"`
	Duration         float64   `json:"duration,omitempty"`
}

func uploadFields(a models.Asset) batchUpdateAsset {
	return batchUpdateAsset{
		LocalIdentifier:  a.LocalIdentifier,
		UserID:           a.UserID,
		FileName:         a.FileName,
		OriginalFileName: a.OriginalFileName,
		MD5Hash:          a.MD5Hash,
		DataUTI:          a.DataUTI,
		TakenAt:          a.TakenAt,
		Width:            a.Width,
		Height:           a.Height,
		Orientation:      a.Orientation,
		ExifOrientation:  a.ExifOrientation,
		Location:         a.Location,
		LocationName:     a.LocationName,
		Favorite:         a.Favorite,
		IsLive:           a.IsLive,
		Duration:         a.Duration,
	}
}

// BatchUpdate pushes asset metadata to the backend after the bytes have
// landed in object storage. The response names the server ids it assigned and
// echoes the local identifier of every asset it accepted; callers confirm
// success by finding their identifier in the successes list.
func (s *AssetService) BatchUpdate(ctx context.Context, assets ...models.Asset) ([]string, []models.AssetPartialID, error) {
	if len(assets) == 0 {
		return nil, nil, nil
	}
	payload := struct {
		Assets []batchUpdateAsset `json:"assets"`
	}{Assets: make([]batchUpdateAsset, 0, len(assets))}
	for _, a := range assets {
		if a.LocalIdentifier == "" {
			return nil, nil, fmt.Errorf("api: batch update requires a local identifier")
		}
		payload.Assets = append(payload.Assets, uploadFields(a))
	}
	var resp struct {
		IDs       []string                `json:"ids"`
		Successes []models.AssetPartialID `json:"successes"`
	}
	if err := s.client.Put(ctx, "assets/batch_update.json", payload, &resp); err != nil {
		return nil, nil, err
	}
	return resp.IDs, resp.Successes, nil
}

// AssetLookup is the response to a local-identifier query: the asset plus the
// albums and smart-add rules it appears in, which the backend reports as
// loosely typed collections.
type AssetLookup struct {
	Asset       models.Asset `json:"asset"`
	ChildAlbums []any        `json:"child_albums"`
	SmartAdds   []any        `json:"smart_adds"`
}

// GetByLocalIdentifier resolves a client-generated identifier to the full
// server-side asset record.
func (s *AssetService) GetByLocalIdentifier(ctx context.Context, localIdentifier string) (*AssetLookup, error) {
	if localIdentifier == "" {
		return nil, fmt.Errorf("api: local identifier is required")
	}
	path := "assets/asset_for_local_identifier.json?local_identifier=" + url.QueryEscape(localIdentifier)
	var lookup AssetLookup
	if err := s.client.Get(ctx, path, &lookup); err != nil {
		return nil, err
	}
	return &lookup, nil
}

// UpdateTakenAt rewrites the capture timestamp the frame sorts by. The asset
// must carry the new value in TakenAt; the response is the updated record.
func (s *AssetService) UpdateTakenAt(ctx context.Context, asset models.Asset) (models.Asset, error) {
	ref := asset.PartialID()
	if err := ref.Validate(); err != nil {
		return models.Asset{}, err
	}
	if asset.TakenAt == "" {
		return models.Asset{}, fmt.Errorf("api: taken_at is required")
	}
	payload := map[string]string{"taken_at": asset.TakenAt}
	for k, v := range ref.RequestForm() {
		payload[k] = v
	}
	var updated models.Asset
	if err := s.client.Post(ctx, "assets/update_taken_at_date.json", payload, &updated); err != nil {
		return models.Asset{}, err
	}
	return updated, nil
}

// Delete removes an uploaded asset. Assets that never made it to the backend
// have nothing to delete and are rejected here.
func (s *AssetService) Delete(ctx context.Context, asset models.Asset) error {
	if asset.IsLocal() {
		return fmt.Errorf("api: asset %q has no server id to delete", asset.LocalIdentifier)
	}
	var resp struct {
		Success bool `json:"success"`
	}
	path := fmt.Sprintf("assets/%s.json", url.PathEscape(asset.ID))
	if err := s.client.Delete(ctx, path, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &rest.ServerError{Message: fmt.Sprintf("delete of asset %s was not acknowledged", asset.ID)}
	}
	return nil
}

// cropFields is the subset the crop endpoint reads: the rotation plus the
// user-chosen crop rectangles for each display shape.
type cropFields struct {
	ID                    string `json:"id"`
	RotationCW            int    `json:"rotation_cw"`
	UserLandscapeRect     string `json:"user_landscape_rect,omitempty"`
	UserPortraitRect      string `json:"user_portrait_rect,omitempty"`
	UserLandscape1610Rect string `json:"user_landscape_16_10_rect,omitempty"`
	UserPortrait45Rect    string `json:"user_portrait_4_5_rect,omitempty"`
}

// Crop applies the asset's rotation and crop rectangles server side and
// returns the recomputed record.
func (s *AssetService) Crop(ctx context.Context, asset models.Asset) (models.Asset, error) {
	if asset.IsLocal() {
		return models.Asset{}, fmt.Errorf("api: asset %q has no server id to crop", asset.LocalIdentifier)
	}
	payload := struct {
		Asset cropFields `json:"asset"`
	}{Asset: cropFields{
		ID:                    asset.ID,
		RotationCW:            asset.RotationCW,
		UserLandscapeRect:     asset.UserLandscapeRect,
		UserPortraitRect:      asset.UserPortraitRect,
		UserLandscape1610Rect: asset.UserLandscape1610Rect,
		UserPortrait45Rect:    asset.UserPortrait45Rect,
	}}
	var resp struct {
		Asset models.Asset `json:"asset"`
	}
	if err := s.client.Post(ctx, "assets/crop.json", payload, &resp); err != nil {
		return models.Asset{}, err
	}
	return resp.Asset, nil
}
