// Package bikeclient is a Go client for the plat-bikemap REST API.
//
// Every call returns the raw *http.Response alongside the decoded body, so
// callers can read Link headers for follow-up actions.
package bikeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to one server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Error is an RFC 9457 problem returned by the server.
type Error struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Title)
}

type HealthBody struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type InfoBody struct {
	Name     string            `json:"name"`
	Version  string            `json:"version"`
	Uptime   string            `json:"uptime"`
	Sessions int               `json:"sessions"`
	Search   bool              `json:"search"`
	Datasets map[string]string `json:"datasets"`
	Features []string          `json:"features"`
}

type Viewport struct {
	Center  [2]float64 `json:"center"`
	Zoom    float64    `json:"zoom"`
	Bearing float64    `json:"bearing"`
}

type Source struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Status   string `json:"status"`
	Features int    `json:"features"`
	Error    string `json:"error,omitempty"`
}

type Session struct {
	ID       string   `json:"id"`
	Viewport Viewport `json:"viewport"`
	Sources  []Source `json:"sources"`
	Layers   []string `json:"layers"`
	Cursor   string   `json:"cursor"`
}

type Layer struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Source string          `json:"source"`
	Filter json.RawMessage `json:"filter,omitempty"`
	Paint  map[string]any  `json:"paint,omitempty"`
	Layout map[string]any  `json:"layout,omitempty"`
}

type Feature struct {
	ID         int64          `json:"id"`
	Properties map[string]any `json:"properties"`
	State      map[string]any `json:"state,omitempty"`
	Style      map[string]any `json:"style"`
}

type FeaturePage struct {
	Total  int       `json:"total"`
	Offset int       `json:"offset"`
	Limit  int       `json:"limit"`
	Data   []Feature `json:"data"`
}

type Place struct {
	Name   string     `json:"name"`
	Center [2]float64 `json:"center"`
}

type SearchResult struct {
	Place  Place    `json:"place"`
	Camera Viewport `json:"camera"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		problem := &Error{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
		_ = json.NewDecoder(resp.Body).Decode(problem)
		return resp, problem
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp, nil
}

func sessionPath(id string, parts ...string) string {
	p := "/api/v1/sessions/" + url.PathEscape(id)
	for _, s := range parts {
		p += "/" + url.PathEscape(s)
	}
	return p
}

func (c *Client) Health(ctx context.Context) (*http.Response, HealthBody, error) {
	var out HealthBody
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return resp, out, err
}

func (c *Client) GetInfo(ctx context.Context) (*http.Response, InfoBody, error) {
	var out InfoBody
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/info", nil, &out)
	return resp, out, err
}

func (c *Client) CreateSession(ctx context.Context) (*http.Response, Session, error) {
	var out Session
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/sessions", nil, &out)
	return resp, out, err
}

func (c *Client) GetSession(ctx context.Context, id string) (*http.Response, Session, error) {
	var out Session
	resp, err := c.do(ctx, http.MethodGet, sessionPath(id), nil, &out)
	return resp, out, err
}

func (c *Client) DeleteSession(ctx context.Context, id string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, sessionPath(id), nil, nil)
}

func (c *Client) ListSources(ctx context.Context, id string) (*http.Response, []Source, error) {
	var out []Source
	resp, err := c.do(ctx, http.MethodGet, sessionPath(id, "sources"), nil, &out)
	return resp, out, err
}

func (c *Client) ListLayers(ctx context.Context, id string) (*http.Response, []Layer, error) {
	var out []Layer
	resp, err := c.do(ctx, http.MethodGet, sessionPath(id, "layers"), nil, &out)
	return resp, out, err
}

// SetFilter replaces a layer filter with a style-JSON expression; nil
// clears it.
func (c *Client) SetFilter(ctx context.Context, id, layer string, filter any) (*http.Response, Layer, error) {
	var out Layer
	if filter == nil {
		filter = json.RawMessage("null")
	}
	resp, err := c.do(ctx, http.MethodPut, sessionPath(id, "layers", layer, "filter"), filter, &out)
	return resp, out, err
}

func (c *Client) SetVisibility(ctx context.Context, id, layer string, visible bool) (*http.Response, Layer, error) {
	var out Layer
	resp, err := c.do(ctx, http.MethodPut, sessionPath(id, "layers", layer, "visibility"),
		map[string]bool{"visible": visible}, &out)
	return resp, out, err
}

// ListFeatures renders one page of a layer's features at zoom.
func (c *Client) ListFeatures(ctx context.Context, id, layer string, zoom float64, offset, limit int) (*http.Response, FeaturePage, error) {
	q := url.Values{}
	q.Set("zoom", strconv.FormatFloat(zoom, 'f', -1, 64))
	q.Set("offset", strconv.Itoa(offset))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out FeaturePage
	resp, err := c.do(ctx, http.MethodGet, sessionPath(id, "layers", layer, "features")+"?"+q.Encode(), nil, &out)
	return resp, out, err
}

func (c *Client) Search(ctx context.Context, id, query string) (*http.Response, SearchResult, error) {
	var out SearchResult
	resp, err := c.do(ctx, http.MethodPost, sessionPath(id, "search"), map[string]string{"query": query}, &out)
	return resp, out, err
}
