package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFrameIsPortrait(t *testing.T) {
	cases := []struct {
		name        string
		orientation int
		portrait    bool
	}{
		{name: "landscape1", orientation: 1, portrait: false},
		{name: "portrait2", orientation: 2, portrait: true},
		{name: "portrait3", orientation: 3, portrait: true},
		{name: "landscape4", orientation: 4, portrait: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame := Frame{Orientation: tc.orientation}
			if got := frame.IsPortrait(); got != tc.portrait {
				t.Fatalf("IsPortrait with orientation %d = %v, want %v", tc.orientation, got, tc.portrait)
			}
		})
	}
}

func TestFrameTypeLabelDefaultsToNormal(t *testing.T) {
	frame := Frame{}
	if got := frame.TypeLabel(); got != "normal" {
		t.Fatalf("expected \"normal\" for null frame_type, got %q", got)
	}
	carver := 1
	frame.FrameType = &carver
	if got := frame.TypeLabel(); got != "carver" {
		t.Fatalf("expected \"carver\", got %q", got)
	}
}

func TestFrameDecodesNullFields(t *testing.T) {
	payload := []byte(`{
		"id": "frame-456",
		"name": "Living Room",
		"user_id": "user-123",
		"orientation": 1,
		"frame_type": null,
		"deleted_at": null,
		"brightness": 50,
		"client_queue_url": "https://sqs.example.com/queue",
		"contributor_tokens": [],
		"features": ["mqtt_enabled"]
	}`)
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.ID != "frame-456" || frame.Name != "Living Room" {
		t.Fatalf("unexpected identity fields: %+v", frame)
	}
	if frame.FrameType != nil {
		t.Fatalf("expected nil frame_type")
	}
	if frame.ClientQueueURL != "https://sqs.example.com/queue" {
		t.Fatalf("unexpected queue url %q", frame.ClientQueueURL)
	}
	if !frame.HasFeature(FeatureMQTTEnabled) || frame.HasFeature(FeatureUDPCommands) {
		t.Fatalf("feature lookup broken: %v", frame.Features)
	}
}

func TestAssetTakenAtTime(t *testing.T) {
	asset := Asset{TakenAt: "2024-01-15T12:30:45.000000Z"}
	taken, err := asset.TakenAtTime()
	if err != nil {
		t.Fatalf("TakenAtTime: %v", err)
	}
	want := time.Date(2024, 1, 15, 12, 30, 45, 0, time.UTC)
	if !taken.Equal(want) {
		t.Fatalf("TakenAtTime = %v, want %v", taken, want)
	}
}

func TestAssetIsLocal(t *testing.T) {
	local := Asset{LocalIdentifier: "local-1"}
	if !local.IsLocal() {
		t.Fatalf("asset without server id must be local")
	}
	remote := Asset{ID: "asset-789", LocalIdentifier: "local-1"}
	if remote.IsLocal() {
		t.Fatalf("asset with server id must not be local")
	}
}

func TestAssetArtistName(t *testing.T) {
	if got := (Asset{}).ArtistName(); got != "" {
		t.Fatalf("expected empty artist for missing user, got %q", got)
	}
	asset := Asset{User: &User{Name: "Test User"}}
	if got := asset.ArtistName(); got != "Test User" {
		t.Fatalf("unexpected artist %q", got)
	}
}

func TestAssetPartialIDValidate(t *testing.T) {
	if err := (AssetPartialID{}).Validate(); err == nil {
		t.Fatalf("expected error for empty reference")
	}
	if err := (AssetPartialID{ID: "asset-789"}).Validate(); err != nil {
		t.Fatalf("id-only reference should validate: %v", err)
	}
	if err := (AssetPartialID{LocalIdentifier: "local-1"}).Validate(); err != nil {
		t.Fatalf("local-only reference should validate: %v", err)
	}
}

func TestAssetPartialIDRequestForm(t *testing.T) {
	local := AssetPartialID{LocalIdentifier: "local-uuid-123"}
	form := local.RequestForm()
	if form["asset_local_identifier"] != "local-uuid-123" {
		t.Fatalf("unexpected form %v", form)
	}
	if _, present := form["asset_id"]; present {
		t.Fatalf("asset_id must be absent for local references")
	}

	remote := AssetPartialID{ID: "asset-789", LocalIdentifier: "local-uuid-123"}
	form = remote.RequestForm()
	if form["asset_id"] != "asset-789" {
		t.Fatalf("server id should win: %v", form)
	}
	if _, present := form["asset_local_identifier"]; present {
		t.Fatalf("local identifier must be dropped when the server id exists")
	}
}
