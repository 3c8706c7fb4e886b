// Package geocode resolves human place names to coordinates through the
// Nominatim search API. Successful lookups are memoized on disk so repeated
// exports do not hammer the resolver.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/striglia/auraframes/internal/cache"
)

const (
	defaultBaseURL   = "https://nominatim.openstreetmap.org"
	defaultUserAgent = "Upload Scripting Test"
	defaultTimeout   = 10 * time.Second
)

// Location is a resolved place.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

// Client looks up place names. The zero value is not usable; construct with
// New.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	store      *cache.Store
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithUserAgent(agent string) Option {
	return func(c *Client) {
		if agent != "" {
			c.userAgent = agent
		}
	}
}

// WithCache memoizes successful lookups in the given store.
func WithCache(store *cache.Store) Option {
	return func(c *Client) {
		c.store = store
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultBaseURL,
		userAgent:  defaultUserAgent,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Lookup resolves a place name. A place the resolver does not know yields
// (nil, nil): absent GPS data is a normal outcome, not a failure. Transport
// and decode problems are returned for the caller to degrade on.
func (c *Client) Lookup(ctx context.Context, place string) (*Location, error) {
	place = strings.TrimSpace(place)
	if place == "" {
		return nil, nil
	}

	key := cache.Key("geocode", place)
	if c.store != nil {
		var cached Location
		hit, err := c.store.Get(key, &cached)
		if err != nil {
			c.logger.Warn("geocode cache read failed", "place", place, "error", err)
		} else if hit {
			return &cached, nil
		}
	}

	endpoint := fmt.Sprintf("%s/search?q=%s&format=json&limit=1", c.baseURL, url.QueryEscape(place))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode: lookup %q: %w", place, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode: lookup %q: unexpected status %d", place, resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("geocode: decode response: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode: parse latitude %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode: parse longitude %q: %w", results[0].Lon, err)
	}

	location := &Location{Latitude: lat, Longitude: lon, Name: results[0].DisplayName}
	if c.store != nil {
		if err := c.store.Put(key, location); err != nil {
			c.logger.Warn("geocode cache write failed", "place", place, "error", err)
		}
	}
	return location, nil
}
