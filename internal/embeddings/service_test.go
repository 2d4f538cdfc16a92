package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// teiServer echoes one 3-dim vector per input, derived from input length.
func teiServer(t *testing.T, status int) (*httptest.Server, *[]teiRequest) {
	t.Helper()
	var seen []teiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req)

		if status != http.StatusOK {
			http.Error(w, "model overloaded", status)
			return
		}

		var inputs []string
		switch v := req.Inputs.(type) {
		case string:
			inputs = []string{v}
		case []interface{}:
			for _, s := range v {
				inputs = append(inputs, s.(string))
			}
		}
		out := make([][]float32, len(inputs))
		for i, in := range inputs {
			out[i] = []float32{float32(len(in)), 1, 0}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestNewService(t *testing.T) {
	_, err := NewService(Config{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	svc, err := NewService(Config{BaseURL: "http://localhost:8080/"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", svc.config.BaseURL)
}

func TestService_EmbedDocuments(t *testing.T) {
	srv, seen := teiServer(t, http.StatusOK)
	svc, err := NewService(Config{BaseURL: srv.URL, Model: "bge-small"}, nil)
	require.NoError(t, err)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"invoice", "receipt total"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, float32(7), vectors[0][0])
	assert.Equal(t, float32(13), vectors[1][0])
	require.Len(t, *seen, 1)
	assert.True(t, (*seen)[0].Truncate)
}

func TestService_EmbedQuery(t *testing.T) {
	srv, _ := teiServer(t, http.StatusOK)
	svc, err := NewService(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	vec, err := svc.EmbedQuery(context.Background(), "samsung")
	require.NoError(t, err)
	assert.Equal(t, []float32{7, 1, 0}, vec)
}

func TestService_Errors(t *testing.T) {
	srv, _ := teiServer(t, http.StatusServiceUnavailable)
	svc, err := NewService(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = svc.EmbedQuery(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")

	_, err = svc.EmbedQuery(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestService_SendsBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[[0.1,0.2]]`))
	}))
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL, APIKey: "k-123"}, nil)
	require.NoError(t, err)

	_, err = svc.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Bearer k-123", auth)
}
