package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

func TestHTTPEmbedderRequestAndResponse(t *testing.T) {
	var got embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		// answer out of order to exercise index handling
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.3,0.4],"index":1},{"embedding":[0.1,0.2],"index":0}]}`))
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(HTTPEmbedderConfig{BaseURL: srv.URL + "/v1/", APIKey: "secret", Model: "m1"})
	vecs, err := e.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, embeddingRequest{Model: "m1", Input: []string{"a", "b"}}, got)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vecs)
}

func TestHTTPEmbedderWithoutIndexKeepsOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1]},{"embedding":[2]}]}`))
	}))
	defer srv.Close()

	vecs, err := NewHTTPEmbedder(HTTPEmbedderConfig{BaseURL: srv.URL}).EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, vecs)
}

func TestHTTPEmbedderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	_, err := NewHTTPEmbedder(HTTPEmbedderConfig{BaseURL: srv.URL}).EmbedTexts(context.Background(), []string{"a"})
	require.Error(t, err)

	var svcErr *core.EmbeddingServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, http.StatusTooManyRequests, svcErr.StatusCode)
	assert.Contains(t, svcErr.Body, "rate limited")
	assert.ErrorIs(t, err, core.ErrEmbeddingService)
}

func TestHTTPEmbedderBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewHTTPEmbedder(HTTPEmbedderConfig{BaseURL: srv.URL}).EmbedTexts(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, core.ErrEmbeddingService)
}

func TestHTTPEmbedderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPEmbedder(HTTPEmbedderConfig{BaseURL: url}).EmbedTexts(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, core.ErrEmbeddingService)
}

func TestHashEmbedderIsDeterministic(t *testing.T) {
	h := NewHashEmbedder(8)
	a, err := h.EmbedTexts(context.Background(), []string{"same", "other"})
	require.NoError(t, err)
	b, err := h.EmbedTexts(context.Background(), []string{"same"})
	require.NoError(t, err)

	assert.Len(t, a[0], 8)
	assert.Equal(t, a[0], b[0])
	assert.NotEqual(t, a[0], a[1])
	assert.Equal(t, 2, h.Calls())
}
