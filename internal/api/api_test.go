package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movierec/internal/domain"
	"movierec/internal/embedding/hashing"
	"movierec/internal/service"
	"movierec/internal/vectorstore/memory"
)

var catalogue = []domain.Metadata{
	{Title: "Star Ranch", Type: "Movie", Description: "space cowboys ride across the galaxy", ReleaseYear: 2001},
	{Title: "Baking Time", Type: "TV Show", Description: "a gentle cooking competition with cakes", ReleaseYear: 2015},
	{Title: "Orbit", Type: "Movie", Description: "astronauts drift in space after an accident", ReleaseYear: 2013},
	{Title: "Dust Trail", Type: "Movie", Description: "cowboys drive cattle across the desert", ReleaseYear: 1968},
}

func newTestServer(t *testing.T, cfg Config) (*Server, *memory.Storage) {
	t.Helper()
	enc, err := hashing.NewEmbedder(64)
	require.NoError(t, err)
	store := memory.NewStorage()

	records := make([]domain.Record, len(catalogue))
	for i, m := range catalogue {
		vec, err := enc.Embed(context.Background(), m.Title+" "+m.Description)
		require.NoError(t, err)
		records[i] = domain.Record{ID: int64(i), Metadata: m, Vector: vec}
	}
	info := domain.CorpusInfo{Name: "netflix", EncoderModel: enc.Model(), Dimension: enc.Dimension()}
	require.NoError(t, store.ReplaceAll(context.Background(), info, records))

	rec := service.NewRecommender(enc, store, service.MismatchReject)
	return NewServer(rec, store, cfg), store
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	return rr.Code, string(body)
}

func decodeRanked(t *testing.T, body string) map[string]domain.Metadata {
	t.Helper()
	var out map[string]domain.Metadata
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

func TestRecommend(t *testing.T) {
	s, _ := newTestServer(t, Config{DefaultCount: 2, MaxCount: 10})
	h := s.Handler()

	code, body := get(t, h, "/recommend/space%20cowboys/3")
	require.Equal(t, http.StatusOK, code, body)
	assert.True(t, strings.HasPrefix(body, `{"1":`), body)

	got := decodeRanked(t, body)
	require.Len(t, got, 3)
	assert.Equal(t, "Star Ranch", got["1"].Title)
	assert.Equal(t, 2001, got["1"].ReleaseYear)
	assert.NotContains(t, body, "feature_vector")
}

func TestRecommendDefaultCount(t *testing.T) {
	s, _ := newTestServer(t, Config{DefaultCount: 2, MaxCount: 10})

	code, body := get(t, s.Handler(), "/recommend/cowboys")
	require.Equal(t, http.StatusOK, code, body)
	assert.Len(t, decodeRanked(t, body), 2)
}

func TestRecommendCountLargerThanCorpus(t *testing.T) {
	s, _ := newTestServer(t, Config{DefaultCount: 2, MaxCount: 10})

	code, body := get(t, s.Handler(), "/recommend/cowboys/10")
	require.Equal(t, http.StatusOK, code, body)
	assert.Len(t, decodeRanked(t, body), len(catalogue))
}

func TestRecommendBadRequests(t *testing.T) {
	s, _ := newTestServer(t, Config{DefaultCount: 2, MaxCount: 10})
	h := s.Handler()

	for _, path := range []string{
		"/recommend/cowboys/abc",
		"/recommend/cowboys/0",
		"/recommend/cowboys/-1",
		"/recommend/cowboys/11",
		"/recommend/%20/3",
		"/similar/abc/2",
		"/similar/-4/2",
		"/similar/1/0",
	} {
		t.Run(path, func(t *testing.T) {
			code, body := get(t, h, path)
			assert.Equal(t, http.StatusBadRequest, code, body)
			var e map[string]string
			require.NoError(t, json.Unmarshal([]byte(body), &e))
			assert.NotEmpty(t, e["error"])
		})
	}
}

func TestRecommendEncoderMismatch(t *testing.T) {
	enc, err := hashing.NewEmbedder(64)
	require.NoError(t, err)
	store := memory.NewStorage()
	info := domain.CorpusInfo{Name: "netflix", EncoderModel: "other-model", Dimension: 64}
	require.NoError(t, store.ReplaceAll(context.Background(), info, []domain.Record{
		{ID: 0, Vector: make([]float32, 64)},
	}))
	s := NewServer(service.NewRecommender(enc, store, service.MismatchReject), store, Config{})

	code, body := get(t, s.Handler(), "/recommend/anything/1")
	assert.Equal(t, http.StatusConflict, code, body)
}

func TestRecommendNoCorpus(t *testing.T) {
	enc, err := hashing.NewEmbedder(64)
	require.NoError(t, err)
	store := memory.NewStorage()
	s := NewServer(service.NewRecommender(enc, store, service.MismatchReject), store, Config{})

	code, body := get(t, s.Handler(), "/recommend/anything/1")
	assert.Equal(t, http.StatusServiceUnavailable, code, body)
}

func TestSimilar(t *testing.T) {
	s, _ := newTestServer(t, Config{DefaultCount: 2, MaxCount: 10})
	h := s.Handler()

	code, body := get(t, h, "/similar/0/2")
	require.Equal(t, http.StatusOK, code, body)
	got := decodeRanked(t, body)
	require.Len(t, got, 2)
	for _, m := range got {
		assert.NotEqual(t, "Star Ranch", m.Title)
	}

	code, _ = get(t, h, "/similar/99/2")
	assert.Equal(t, http.StatusNotFound, code)
}

type downStore struct{ *memory.Storage }

func (downStore) Ping(context.Context) error {
	return domain.StoreError("memory", errors.New("connection refused"))
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	code, body := get(t, s.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, code, body)
	var resp healthResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, len(catalogue), resp.Count)
	require.NotNil(t, resp.Corpus)
	assert.Equal(t, "netflix", resp.Corpus.Name)

	empty := NewServer(nil, memory.NewStorage(), Config{})
	code, body = get(t, empty.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, `"status":"empty"`)

	down := NewServer(nil, downStore{memory.NewStorage()}, Config{})
	code, body = get(t, down.Handler(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Handler()

	code, _ := get(t, h, "/recommend/cowboys/1")
	require.Equal(t, http.StatusOK, code)

	code, body := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `movierec_api_requests_total{method="GET",route="/recommend/{feature}/{count}",status="200"}`)
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, Config{RateLimit: 2})
	h := s.Handler()

	for i := 0; i < 2; i++ {
		code, _ := get(t, h, "/recommend/cowboys/1")
		require.Equal(t, http.StatusOK, code, "request %d", i)
	}
	code, _ := get(t, h, "/recommend/cowboys/1")
	assert.Equal(t, http.StatusTooManyRequests, code)

	// health checks are not limited
	code, _ = get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&domain.InvalidQueryError{Reason: "x"}, http.StatusBadRequest},
		{domain.ErrRecordNotFound, http.StatusNotFound},
		{&domain.EncoderMismatchError{}, http.StatusConflict},
		{&domain.SchemaMismatchError{ID: -1, Got: 3, Want: 4}, http.StatusConflict},
		{domain.StoreError("qdrant", errors.New("dial tcp")), http.StatusServiceUnavailable},
		{domain.ErrCorpusNotFound, http.StatusServiceUnavailable},
		{fmt.Errorf("encode query: %w", domain.ErrEncoderUnavailable), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
