// Package client is a typed client for the contextfs HTTP API, used by the
// cfs CLI and the monitor dashboard.
package client

import (
	"bytes"
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

	api "github.com/fyrsmithlabs/contextfs/internal/http"
	"github.com/fyrsmithlabs/contextfs/internal/index"
	"github.com/fyrsmithlabs/contextfs/internal/maps"
	"github.com/fyrsmithlabs/contextfs/internal/service"
)

// DefaultServer is the address the daemon listens on by default.
const DefaultServer = "http://localhost:8000"

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one contextfs server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New creates a client for baseURL. An empty baseURL selects DefaultServer.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultServer
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var out api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out)
	return out, err
}

// Status calls GET /api/v1/status.
func (c *Client) Status(ctx context.Context) (service.Status, error) {
	var out service.Status
	err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, nil, &out)
	return out, err
}

// Search calls GET /api/v1/search. A zero limit uses the server default.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]api.SearchHit, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []api.SearchHit
	err := c.do(ctx, http.MethodGet, "/api/v1/search", q, nil, &out)
	return out, err
}

// IndexFile calls POST /api/v1/index-file.
func (c *Client) IndexFile(ctx context.Context, path, caption string) (api.MessageResponse, error) {
	var out api.MessageResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/index-file", nil,
		api.IndexFileRequest{FilePath: path, UserCaption: caption}, &out)
	return out, err
}

// RemoveFile calls DELETE /api/v1/indexed-file.
func (c *Client) RemoveFile(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/indexed-file", nil,
		api.DeleteFileRequest{FilePath: path}, nil)
}

// Graph calls GET /api/v1/graph/entity.
func (c *Client) Graph(ctx context.Context, name string, limit int) (*index.Graph, error) {
	q := url.Values{"name": {name}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out index.Graph
	if err := c.do(ctx, http.MethodGet, "/api/v1/graph/entity", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMaps calls GET /api/v1/maps.
func (c *Client) ListMaps(ctx context.Context) ([]maps.Map, error) {
	var out []maps.Map
	err := c.do(ctx, http.MethodGet, "/api/v1/maps", nil, nil, &out)
	return out, err
}

// CreateMap calls POST /api/v1/maps.
func (c *Client) CreateMap(ctx context.Context, name string) (maps.Map, error) {
	var out maps.Map
	err := c.do(ctx, http.MethodPost, "/api/v1/maps", nil, api.CreateMapRequest{Name: name}, &out)
	return out, err
}

// GetMap calls GET /api/v1/maps/:id.
func (c *Client) GetMap(ctx context.Context, id int64) (*maps.MapData, error) {
	var out maps.MapData
	if err := c.do(ctx, http.MethodGet, mapPath(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMap calls DELETE /api/v1/maps/:id.
func (c *Client) DeleteMap(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, mapPath(id), nil, nil, nil)
}

// AddNode calls POST /api/v1/maps/:id/nodes.
func (c *Client) AddNode(ctx context.Context, mapID int64, path string, x, y int) (maps.Node, error) {
	var out maps.Node
	err := c.do(ctx, http.MethodPost, mapPath(mapID)+"/nodes", nil,
		api.AddNodeRequest{FilePath: path, X: x, Y: y}, &out)
	return out, err
}

// CreateEdge calls POST /api/v1/maps/:id/edges.
func (c *Client) CreateEdge(ctx context.Context, mapID, sourceID, targetID int64, label string) (maps.Edge, error) {
	var out maps.Edge
	err := c.do(ctx, http.MethodPost, mapPath(mapID)+"/edges", nil,
		api.CreateEdgeRequest{SourceID: sourceID, TargetID: targetID, Label: label}, &out)
	return out, err
}

func mapPath(id int64) string {
	return "/api/v1/maps/" + strconv.FormatInt(id, 10)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError reads echo's {"message": ...} error body, falling back to the
// raw text.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
