package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

// fakeServer answers /embeddings with dim-sized vectors whose first component
// encodes the input position inside the request.
func fakeServer(t *testing.T, dim int, calls *atomic.Int32, seen chan<- embedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if seen != nil {
			seen <- req
		}
		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			vec := make([]float64, dim)
			vec[0] = float64(i + 1)
			data[i] = item{Object: "embedding", Index: i, Embedding: vec}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbed(t *testing.T) {
	srv := fakeServer(t, 4, nil, nil)
	c, err := NewClient(Config{BaseURL: srv.URL, Model: "all-MiniLM-L6-v2", Dimension: 4})
	require.NoError(t, err)

	assert.Equal(t, "all-MiniLM-L6-v2", c.Model())
	assert.Equal(t, 4, c.Dimension())

	v, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, v)
}

func TestEmbedBatchSplitsRequests(t *testing.T) {
	var calls atomic.Int32
	srv := fakeServer(t, 2, &calls, nil)
	c, err := NewClient(Config{BaseURL: srv.URL, Dimension: 2, BatchSize: 2})
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.EqualValues(t, 3, calls.Load())
	// positions restart for every request
	assert.Equal(t, float32(1), vecs[2][0])
	assert.Equal(t, float32(2), vecs[3][0])
	assert.Equal(t, float32(1), vecs[4][0])

	_, err = c.EmbedBatch(context.Background(), nil)
	assert.Error(t, err)
}

func TestBlankInputAndDimensions(t *testing.T) {
	seen := make(chan embedRequest, 1)
	srv := fakeServer(t, 3, nil, seen)
	c, err := NewClient(Config{BaseURL: srv.URL, Model: "text-embedding-3-small", Dimension: 3, SendDimensions: true})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "")
	require.NoError(t, err)
	req := <-seen
	assert.Equal(t, []string{" "}, req.Input)
	assert.Equal(t, 3, req.Dimensions)
}

func TestDimensionMismatch(t *testing.T) {
	srv := fakeServer(t, 5, nil, nil)
	c, err := NewClient(Config{BaseURL: srv.URL, Dimension: 4})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 4")
}

func TestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not loaded"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Dimension: 4})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "hello")
	assert.Error(t, err)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://localhost:1", Dimension: 0})
	assert.Error(t, err)

	t.Setenv("MOVIEREC_TEST_EMPTY_KEY", "")
	_, err = NewClient(Config{APIKeyEnv: "MOVIEREC_TEST_EMPTY_KEY", Dimension: 8})
	assert.Error(t, err, "the hosted API requires a key")

	t.Setenv("MOVIEREC_TEST_KEY", "sk-test")
	_, err = NewClient(Config{APIKeyEnv: "MOVIEREC_TEST_KEY", Dimension: 8})
	assert.NoError(t, err)
}
