// Package geocode is a client for Mapbox forward geocoding, used by the map
// search box to recentre the viewport on a place.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

// DefaultBaseURL is the Mapbox API root.
const DefaultBaseURL = "https://api.mapbox.com"

var (
	// ErrEmptyQuery is returned for blank search text.
	ErrEmptyQuery = errors.New("empty geocoding query")
	// ErrNoResults is returned when nothing matches the query.
	ErrNoResults = errors.New("no geocoding results")
)

// Config configures the client.
type Config struct {
	BaseURL     string
	AccessToken string
	Country     string // ISO 3166 alpha-2 filter, "ca" for the bike map
	Limit       int
	Timeout     time.Duration
}

// Place is one geocoding match.
type Place struct {
	ID        string     `json:"id"`
	Name      string     `json:"name" doc:"Full place name"`
	Text      string     `json:"text" doc:"Short place name"`
	Center    orb.Point  `json:"center" doc:"[longitude, latitude]"`
	BBox      *orb.Bound `json:"bbox,omitempty"`
	Relevance float64    `json:"relevance"`
	Types     []string   `json:"types,omitempty"`
}

type response struct {
	Features []struct {
		ID        string    `json:"id"`
		Text      string    `json:"text"`
		PlaceName string    `json:"place_name"`
		PlaceType []string  `json:"place_type"`
		Relevance float64   `json:"relevance"`
		Center    orb.Point `json:"center"`
		BBox      []float64 `json:"bbox"`
	} `json:"features"`
	Message string `json:"message"`
}

// Client calls the Mapbox geocoding API.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger
}

// NewClient creates a geocoding client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Limit == 0 {
		cfg.Limit = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger,
	}
}

// Forward returns places matching query, best match first.
func (c *Client) Forward(ctx context.Context, query string) ([]Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	params := url.Values{}
	params.Set("access_token", c.cfg.AccessToken)
	params.Set("limit", strconv.Itoa(c.cfg.Limit))
	if c.cfg.Country != "" {
		params.Set("country", c.cfg.Country)
	}
	endpoint := fmt.Sprintf("%s/geocoding/v5/mapbox.places/%s.json?%s",
		strings.TrimRight(c.cfg.BaseURL, "/"),
		url.PathEscape(query),
		params.Encode(),
	)

	c.logger.Debug("Calling Mapbox Geocoding API",
		zap.String("query", query),
		zap.String("country", c.cfg.Country))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to execute request", zap.Error(err))
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Error("Mapbox API returned error",
			zap.Int("status_code", resp.StatusCode),
			zap.String("body", string(body)))
		return nil, fmt.Errorf("mapbox API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Error("Failed to decode response", zap.Error(err))
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Features) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoResults, query)
	}

	places := make([]Place, 0, len(out.Features))
	for _, f := range out.Features {
		p := Place{
			ID:        f.ID,
			Name:      f.PlaceName,
			Text:      f.Text,
			Center:    f.Center,
			Relevance: f.Relevance,
			Types:     f.PlaceType,
		}
		if len(f.BBox) == 4 {
			p.BBox = &orb.Bound{Min: orb.Point{f.BBox[0], f.BBox[1]}, Max: orb.Point{f.BBox[2], f.BBox[3]}}
		}
		places = append(places, p)
	}

	c.logger.Debug("Mapbox Geocoding API call successful",
		zap.String("query", query),
		zap.Int("results", len(places)))
	return places, nil
}
