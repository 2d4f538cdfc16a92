package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns a vector whose first component is the input length.
type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestClient(t *testing.T, url string, emb *fakeEmbedder) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:     url,
		APIKey:      "secret",
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
		RateLimit:   1000,
		Burst:       10,
	}, emb, nil)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientConfig{}, &fakeEmbedder{}, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewClient(ClientConfig{BaseURL: "http://x"}, nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestClient_AnalyzeImage(t *testing.T) {
	path := writeFile(t, "receipt.png", "pngbytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, imagePath, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, "receipt.png", hdr.Filename)
		assert.Equal(t, "pngbytes", string(body))

		_ = json.NewEncoder(w).Encode(pageResult{
			Caption: "a paper receipt",
			Text:    " TOTAL 12.40 ",
			Tags:    []string{"Receipt", "finance", "receipt"},
		})
	}))
	defer srv.Close()

	emb := &fakeEmbedder{}
	rec, err := newTestClient(t, srv.URL, emb).AnalyzeImage(context.Background(), path, "lunch")
	require.NoError(t, err)

	assert.Equal(t, path, rec.Identity)
	assert.Equal(t, path, rec.SourcePath)
	assert.Nil(t, rec.PageNumber)
	assert.Equal(t, "TOTAL 12.40", rec.ExtractedText)
	assert.Equal(t, []string{"receipt", "finance"}, rec.Tags)
	assert.Equal(t, "lunch", rec.UserNote)
	want := CombinedText("a paper receipt", "TOTAL 12.40")
	assert.Equal(t, float32(len(want)), rec.Vector[0])
}

func TestClient_AnalyzeDocument(t *testing.T) {
	path := writeFile(t, "report.pdf", "%PDF")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, documentPath, r.URL.Path)
		_ = json.NewEncoder(w).Encode(documentResponse{Pages: []pageResult{
			{Page: 1, Caption: "cover", Text: "Annual report", Tags: []string{"report"}},
			{Page: 2, Caption: "chart", Text: "Revenue"},
		}})
	}))
	defer srv.Close()

	emb := &fakeEmbedder{}
	recs, err := newTestClient(t, srv.URL, emb).AnalyzeDocument(context.Background(), path, "")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, emb.calls)

	for i, rec := range recs {
		require.NotNil(t, rec.PageNumber)
		assert.Equal(t, i+1, *rec.PageNumber)
		assert.Equal(t, PageIdentity(path, i+1), rec.Identity)
		assert.Equal(t, path, rec.SourcePath)
		assert.True(t, rec.IsPage())
	}
	assert.Equal(t, []string{"report"}, recs[0].Tags)
}

func TestClient_AnalyzeDocument_NoPages(t *testing.T) {
	path := writeFile(t, "empty.pdf", "%PDF")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pages":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, &fakeEmbedder{}).AnalyzeDocument(context.Background(), path, "")
	assert.True(t, errors.Is(err, ErrNoContent))
}

func TestClient_Retries(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		status    int
		wantErr   bool
		wantCalls int32
	}{
		{"recovers after 5xx", 2, http.StatusBadGateway, false, 3},
		{"recovers after 429", 1, http.StatusTooManyRequests, false, 2},
		{"gives up after max retries", 5, http.StatusServiceUnavailable, true, 3},
		{"no retry on 4xx", 5, http.StatusBadRequest, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "a.png", "x")
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) <= tt.failures {
					http.Error(w, "nope", tt.status)
					return
				}
				_ = json.NewEncoder(w).Encode(pageResult{Caption: "ok"})
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL, &fakeEmbedder{}).AnalyzeImage(context.Background(), path, "")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestClient_EmbeddingFailure(t *testing.T) {
	path := writeFile(t, "a.png", "x")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pageResult{Caption: "ok"})
	}))
	defer srv.Close()

	boom := errors.New("tei down")
	_, err := newTestClient(t, srv.URL, &fakeEmbedder{err: boom}).AnalyzeImage(context.Background(), path, "")
	assert.ErrorIs(t, err, boom)
}

func TestClient_MissingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not be sent")
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, &fakeEmbedder{}).AnalyzeImage(context.Background(), "/nonexistent/a.png", "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestClient_CanceledContext(t *testing.T) {
	path := writeFile(t, "a.png", "x")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(t, srv.URL, &fakeEmbedder{}).AnalyzeImage(ctx, path, "")
	assert.Error(t, err)
}
