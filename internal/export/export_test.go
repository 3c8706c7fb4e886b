package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/striglia/auraframes/internal/models"
)

type fakeDownloader struct {
	mu     sync.Mutex
	data   map[string][]byte
	errFor string
	urls   []string
}

func (f *fakeDownloader) Download(_ context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	f.urls = append(f.urls, rawURL)
	f.mu.Unlock()
	if f.errFor != "" && rawURL == f.errFor {
		return nil, errors.New("proxy returned 502")
	}
	if data, ok := f.data[rawURL]; ok {
		return data, nil
	}
	return []byte("default image bytes"), nil
}

func (f *fakeDownloader) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, image []byte, _ models.Asset) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("exif:"), image...), nil
}

func testAssets() []models.Asset {
	return []models.Asset{
		{
			ID:       "a1",
			UserID:   "user-1",
			FileName: "first.jpg",
			TakenAt:  "2023-07-04T12:30:00.000000Z",
		},
		{
			ID:       "a2",
			UserID:   "user-1",
			FileName: "second.jpg",
			TakenAt:  "2024-01-15T08:00:00.000000Z",
		},
	}
}

func newExporter(t *testing.T, mutate func(*Config)) (*Exporter, *fakeDownloader) {
	t.Helper()
	downloader := &fakeDownloader{data: map[string][]byte{
		"https://proxy.test/user-1/first.jpg":  []byte("first bytes"),
		"https://proxy.test/user-1/second.jpg": []byte("second bytes"),
	}}
	cfg := Config{
		Downloader: downloader,
		ProxyURL:   "https://proxy.test",
		Workers:    2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	exporter, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return exporter, downloader
}

func TestNewRequiresDownloader(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing downloader")
	}
}

func TestExportWritesStampedFiles(t *testing.T) {
	exporter, _ := newExporter(t, nil)
	dir := t.TempDir()

	result, err := exporter.Export(context.Background(), testAssets(), dir)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if result.Exported != 2 || result.Skipped != 0 || result.Failed != 0 {
		t.Fatalf("result %+v", result)
	}

	first, err := os.ReadFile(filepath.Join(dir, "20230704T123000-first.jpg"))
	if err != nil {
		t.Fatalf("stamped file missing: %v", err)
	}
	if string(first) != "first bytes" {
		t.Fatalf("file content %q", first)
	}
	if _, err := os.Stat(filepath.Join(dir, "20240115T080000-second.jpg")); err != nil {
		t.Fatalf("second file missing: %v", err)
	}

	sidecar, err := os.ReadFile(filepath.Join(dir, "assets.json"))
	if err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	var recorded []models.Asset
	if err := json.Unmarshal(sidecar, &recorded); err != nil {
		t.Fatalf("sidecar not valid json: %v", err)
	}
	if len(recorded) != 2 || recorded[0].ID != "a1" {
		t.Fatalf("sidecar content %+v", recorded)
	}
}

func TestExportSkipsExisting(t *testing.T) {
	exporter, downloader := newExporter(t, nil)
	dir := t.TempDir()
	pre := filepath.Join(dir, "20230704T123000-first.jpg")
	if err := os.WriteFile(pre, []byte("already here"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	result, err := exporter.Export(context.Background(), testAssets(), dir)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if result.Exported != 1 || result.Skipped != 1 {
		t.Fatalf("result %+v", result)
	}
	content, _ := os.ReadFile(pre)
	if string(content) != "already here" {
		t.Fatal("existing file was overwritten")
	}
	for _, url := range downloader.calls() {
		if url == "https://proxy.test/user-1/first.jpg" {
			t.Fatal("skipped asset was still downloaded")
		}
	}
}

func TestExportIgnoreCacheRedownloads(t *testing.T) {
	exporter, _ := newExporter(t, func(c *Config) { c.IgnoreCache = true })
	dir := t.TempDir()
	pre := filepath.Join(dir, "20230704T123000-first.jpg")
	if err := os.WriteFile(pre, []byte("stale"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	result, err := exporter.Export(context.Background(), testAssets(), dir)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if result.Exported != 2 {
		t.Fatalf("result %+v", result)
	}
	content, _ := os.ReadFile(pre)
	if string(content) != "first bytes" {
		t.Fatalf("stale file not replaced: %q", content)
	}
}

func TestExportEmbedsMetadata(t *testing.T) {
	exporter, _ := newExporter(t, func(c *Config) { c.Embedder = &fakeEmbedder{} })
	dir := t.TempDir()

	if _, err := exporter.Export(context.Background(), testAssets()[:1], dir); err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "20230704T123000-first.jpg"))
	if err != nil {
		t.Fatalf("file missing: %v", err)
	}
	if string(content) != "exif:first bytes" {
		t.Fatalf("content %q not embedded", content)
	}
}

func TestExportEmbedFailureKeepsOriginal(t *testing.T) {
	exporter, _ := newExporter(t, func(c *Config) {
		c.Embedder = &fakeEmbedder{err: errors.New("not a jpeg")}
	})
	dir := t.TempDir()

	result, err := exporter.Export(context.Background(), testAssets()[:1], dir)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if result.Exported != 1 || result.Failed != 0 {
		t.Fatalf("result %+v", result)
	}
	content, _ := os.ReadFile(filepath.Join(dir, "20230704T123000-first.jpg"))
	if string(content) != "first bytes" {
		t.Fatalf("content %q, want original bytes", content)
	}
}

func TestExportCountsFailuresWithoutAborting(t *testing.T) {
	exporter, _ := newExporter(t, func(c *Config) {
		c.Downloader = &fakeDownloader{
			data:   map[string][]byte{"https://proxy.test/user-1/second.jpg": []byte("second bytes")},
			errFor: "https://proxy.test/user-1/first.jpg",
		}
	})
	dir := t.TempDir()

	result, err := exporter.Export(context.Background(), testAssets(), dir)
	if err != nil {
		t.Fatalf("per-asset failure should not abort: %v", err)
	}
	if result.Failed != 1 || result.Exported != 1 {
		t.Fatalf("result %+v", result)
	}
	if _, err := os.Stat(filepath.Join(dir, "20240115T080000-second.jpg")); err != nil {
		t.Fatal("surviving asset was not exported")
	}
}

func TestExportSkipsAssetsWithoutFile(t *testing.T) {
	exporter, downloader := newExporter(t, nil)
	assets := []models.Asset{{ID: "a3", UserID: "user-1"}}

	result, err := exporter.Export(context.Background(), assets, t.TempDir())
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if result.Skipped != 1 {
		t.Fatalf("result %+v", result)
	}
	if len(downloader.calls()) != 0 {
		t.Fatal("asset without a file was downloaded")
	}
}

func TestExportFileName(t *testing.T) {
	cases := []struct {
		name  string
		asset models.Asset
		want  string
	}{
		{
			name:  "stamped",
			asset: models.Asset{FileName: "abc.jpg", TakenAt: "2023-07-04T12:30:00.000000Z"},
			want:  "20230704T123000-abc.jpg",
		},
		{
			name:  "noTakenAt",
			asset: models.Asset{FileName: "abc.jpg"},
			want:  "abc.jpg",
		},
		{
			name:  "badTakenAt",
			asset: models.Asset{FileName: "abc.jpg", TakenAt: "yesterday"},
			want:  "abc.jpg",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exportFileName(tc.asset); got != tc.want {
				t.Fatalf("exportFileName = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExportOwnerFromNestedUser(t *testing.T) {
	exporter, downloader := newExporter(t, nil)
	assets := []models.Asset{{
		ID:       "a4",
		User:     &models.User{ID: "user-9"},
		FileName: "nested.jpg",
	}}

	if _, err := exporter.Export(context.Background(), assets, t.TempDir()); err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	calls := downloader.calls()
	if len(calls) != 1 || calls[0] != fmt.Sprintf("https://proxy.test/%s/%s", "user-9", "nested.jpg") {
		t.Fatalf("download urls %v", calls)
	}
}
