package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/contextfs/internal/embeddings"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrNoContent means the service returned nothing indexable for the file.
	ErrNoContent = errors.New("analysis returned no content")

	// ErrInvalidConfig indicates invalid client configuration.
	ErrInvalidConfig = errors.New("invalid analysis config")
)

const (
	imagePath    = "/v1/analyze/image"
	documentPath = "/v1/analyze/document"
)

// ClientConfig configures the HTTP analysis client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	// RateLimit is requests per second; Burst is the bucket size.
	RateLimit float64
	Burst     int
}

func (c *ClientConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 2
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

// Client analyzes files through a caption/OCR/tag service and embeds the
// combined text with an Embedder.
type Client struct {
	cfg      ClientConfig
	http     *http.Client
	limiter  *rate.Limiter
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig, embedder embeddings.Embedder, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		embedder: embedder,
		logger:   logger,
	}, nil
}

// pageResult is one analyzed unit as returned by the service.
type pageResult struct {
	Page    int      `json:"page"`
	Caption string   `json:"caption"`
	Text    string   `json:"text"`
	Tags    []string `json:"tags"`
}

type documentResponse struct {
	Pages []pageResult `json:"pages"`
}

// CombinedText is the text that gets embedded for a page or image.
func CombinedText(caption, text string) string {
	return fmt.Sprintf("Visual Description: %s. Text content: %s", strings.TrimSpace(caption), strings.TrimSpace(text))
}

// AnalyzeImage implements Analyzer.
func (c *Client) AnalyzeImage(ctx context.Context, path, userNote string) (*Record, error) {
	var res pageResult
	if err := c.call(ctx, imagePath, path, &res); err != nil {
		return nil, err
	}

	vectors, err := c.embedder.EmbedDocuments(ctx, []string{CombinedText(res.Caption, res.Text)})
	if err != nil {
		return nil, fmt.Errorf("embedding %s: %w", filepath.Base(path), err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: no embedding for %s", ErrNoContent, filepath.Base(path))
	}

	return &Record{
		Identity:      path,
		SourcePath:    path,
		ExtractedText: strings.TrimSpace(res.Text),
		Tags:          NormalizeTags(res.Tags),
		UserNote:      userNote,
		Vector:        vectors[0],
	}, nil
}

// AnalyzeDocument implements Analyzer. Every page is embedded in one batch.
func (c *Client) AnalyzeDocument(ctx context.Context, path, userNote string) ([]Record, error) {
	var res documentResponse
	if err := c.call(ctx, documentPath, path, &res); err != nil {
		return nil, err
	}
	if len(res.Pages) == 0 {
		return nil, fmt.Errorf("%w: %s has no pages", ErrNoContent, filepath.Base(path))
	}

	texts := make([]string, len(res.Pages))
	for i, p := range res.Pages {
		texts[i] = CombinedText(p.Caption, p.Text)
	}
	vectors, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %s: %w", filepath.Base(path), err)
	}
	if len(vectors) != len(res.Pages) {
		return nil, fmt.Errorf("%w: %d embeddings for %d pages", ErrNoContent, len(vectors), len(res.Pages))
	}

	records := make([]Record, 0, len(res.Pages))
	for i, p := range res.Pages {
		page := p.Page
		if page < 1 {
			page = i + 1
		}
		records = append(records, Record{
			Identity:      PageIdentity(path, page),
			SourcePath:    path,
			PageNumber:    &page,
			ExtractedText: strings.TrimSpace(p.Text),
			Tags:          NormalizeTags(p.Tags),
			UserNote:      userNote,
			Vector:        vectors[i],
		})
	}
	return records, nil
}

// call uploads the file to endpoint and decodes the JSON response into out,
// retrying transient failures with exponential backoff.
func (c *Client) call(ctx context.Context, endpoint, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.BaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		body, err := c.doRequest(ctx, endpoint, path)
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decoding analysis response: %w", err)
			}
			return nil
		}

		lastErr = err
		var retryable *retryableError
		if !errors.As(err, &retryable) {
			return err
		}
		c.logger.Debug("analysis request failed, retrying",
			zap.String("file", filepath.Base(path)), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, endpoint, path string) ([]byte, error) {
	payload, contentType, err := multipartFile(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &retryableError{err: fmt.Errorf("analysis request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryableError{err: fmt.Errorf("rate limited (429)")}
	case resp.StatusCode >= 500:
		return nil, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, truncate(body))}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("analysis error (%d): %s", resp.StatusCode, truncate(body))
	}
	return body, nil
}

// multipartFile reads path into a multipart body with a single "file" part.
func multipartFile(path string) (*bytes.Buffer, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }
