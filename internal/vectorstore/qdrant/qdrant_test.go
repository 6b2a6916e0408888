package qdrant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movierec/internal/domain"
	"movierec/internal/vectorstore"
)

// fakeQdrant implements the handful of REST endpoints the store uses.
type fakeQdrant struct {
	mu       sync.Mutex
	exists   bool
	size     int
	points   map[uint64]point
	failPuts int // number of upserts to reject
	apiKeys  []string
}

func newFake(t *testing.T) (*fakeQdrant, *Storage) {
	t.Helper()
	f := &fakeQdrant{points: map[uint64]point{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	s, err := NewStorage(Config{URL: srv.URL + "/", APIKey: "secret", Collection: "netflix", BatchSize: 2})
	require.NoError(t, err)
	return f, s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))

	path := strings.TrimPrefix(r.URL.Path, "/collections/netflix")
	switch {
	case r.URL.Path == "/":
		writeJSON(w, 200, map[string]any{"title": "qdrant", "version": "1.9.0"})
	case !strings.HasPrefix(r.URL.Path, "/collections/netflix"):
		writeJSON(w, 404, map[string]any{"status": "not found"})
	case path == "" && r.Method == http.MethodDelete:
		if !f.exists {
			writeJSON(w, 404, map[string]any{"status": map[string]string{"error": "Not found"}})
			return
		}
		f.exists, f.points = false, map[uint64]point{}
		writeJSON(w, 200, map[string]any{"result": true})
	case path == "" && r.Method == http.MethodPut:
		var req struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.exists, f.size = true, req.Vectors.Size
		writeJSON(w, 200, map[string]any{"result": true})
	case !f.exists:
		writeJSON(w, 404, map[string]any{"status": map[string]string{"error": "Collection not found"}})
	case path == "" && r.Method == http.MethodGet:
		writeJSON(w, 200, map[string]any{"result": map[string]any{
			"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": f.size, "distance": "Cosine"}}},
		}})
	case path == "/points" && r.Method == http.MethodPut:
		if f.failPuts > 0 {
			f.failPuts--
			writeJSON(w, 400, map[string]any{"status": map[string]string{"error": "Wrong input"}})
			return
		}
		var req struct {
			Points []point `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, p := range req.Points {
			f.points[p.ID] = p
		}
		writeJSON(w, 200, map[string]any{"result": map[string]any{"status": "completed"}})
	case path == "/points/search":
		var req struct {
			Vector []float32 `json:"vector"`
			Limit  int       `json:"limit"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		type hit struct {
			ID      uint64    `json:"id"`
			Score   float64   `json:"score"`
			Payload payload   `json:"payload"`
			Vector  []float32 `json:"vector"`
		}
		hits := make([]hit, 0, len(f.points))
		for _, p := range f.points {
			hits = append(hits, hit{ID: p.ID, Score: vectorstore.Cosine(req.Vector, p.Vector), Payload: p.Payload, Vector: p.Vector})
		}
		// ties come back in descending id order
		sort.Slice(hits, func(i, j int) bool {
			if hits[i].Score != hits[j].Score {
				return hits[i].Score > hits[j].Score
			}
			return hits[i].ID > hits[j].ID
		})
		if len(hits) > req.Limit {
			hits = hits[:req.Limit]
		}
		writeJSON(w, 200, map[string]any{"result": hits})
	case path == "/points/count":
		writeJSON(w, 200, map[string]any{"result": map[string]int{"count": len(f.points)}})
	case path == "/points/scroll":
		var pts []point
		ids := make([]uint64, 0, len(f.points))
		for id := range f.points {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if len(ids) > 0 {
			p := f.points[ids[0]]
			p.Vector = nil
			pts = append(pts, p)
		}
		writeJSON(w, 200, map[string]any{"result": map[string]any{"points": pts}})
	case strings.HasPrefix(path, "/points/") && r.Method == http.MethodGet:
		id, _ := strconv.ParseUint(strings.TrimPrefix(path, "/points/"), 10, 64)
		p, ok := f.points[id]
		if !ok {
			writeJSON(w, 404, map[string]any{"status": map[string]string{"error": "No point with id"}})
			return
		}
		writeJSON(w, 200, map[string]any{"result": p})
	default:
		writeJSON(w, 400, map[string]any{"status": "unexpected " + r.Method + " " + r.URL.Path})
	}
}

func testInfo() domain.CorpusInfo {
	return domain.CorpusInfo{Name: "netflix", EncoderModel: "all-MiniLM-L6-v2", Dimension: 2, Generation: "g1"}
}

func testRecords() []domain.Record {
	return []domain.Record{
		{ID: 0, Metadata: domain.Metadata{Title: "Up"}, Vector: []float32{0, 1}},
		{ID: 1, Metadata: domain.Metadata{Title: "Right"}, Vector: []float32{1, 0}},
		{ID: 2, Metadata: domain.Metadata{Title: "Diagonal", ReleaseYear: 2001}, Vector: []float32{1, 1}},
		{ID: 3, Metadata: domain.Metadata{Title: "Also Right"}, Vector: []float32{3, 0}},
	}
}

func TestReplaceAllAndSearch(t *testing.T) {
	f, s := newFake(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.ReplaceAll(ctx, testInfo(), testRecords()))
	assert.Len(t, f.points, 4)

	hits, err := s.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, int64(1), hits[0].Record.ID, "ties are re-ordered by id")
	assert.Equal(t, int64(3), hits[1].Record.ID)
	assert.InDelta(t, 2.0, hits[0].Score, 1e-6)
	assert.Equal(t, "Diagonal", hits[2].Record.Metadata.Title)
	assert.Equal(t, 2001, hits[2].Record.Metadata.ReleaseYear)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	r, err := s.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, r.Vector)
	_, err = s.Get(ctx, 9)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	for _, k := range f.apiKeys {
		assert.Equal(t, "secret", k)
	}
}

func TestReplaceAllPartialChunkFailure(t *testing.T) {
	f, s := newFake(t)
	ctx := context.Background()
	recs := testRecords()
	recs = append(recs, domain.Record{ID: 4, Vector: []float32{1, 2, 3}})
	f.failPuts = 1

	err := s.ReplaceAll(ctx, testInfo(), recs)
	var bw *domain.BulkWriteError
	require.ErrorAs(t, err, &bw)
	// one rejected by dimension, the first chunk of two rejected by the server
	assert.Equal(t, 3, bw.Failed)
	assert.Equal(t, 5, bw.Total)
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Count)
}

func TestInfoLoadedFromCollection(t *testing.T) {
	_, writer := newFake(t)
	ctx := context.Background()
	_, err := writer.Info(ctx)
	assert.ErrorIs(t, err, domain.ErrCorpusNotFound)
	_, err = writer.Search(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, domain.ErrCorpusNotFound)

	require.NoError(t, writer.ReplaceAll(ctx, testInfo(), testRecords()))

	// a second client reads the tag back from the collection
	reader, err := NewStorage(Config{URL: writer.url, Collection: "netflix"})
	require.NoError(t, err)
	info, err := reader.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "all-MiniLM-L6-v2", info.EncoderModel)
	assert.Equal(t, 2, info.Dimension)
	assert.Equal(t, "g1", info.Generation)
	assert.Equal(t, 4, info.Count)
}

func TestInfoFollowsReindexByAnotherClient(t *testing.T) {
	_, writer := newFake(t)
	ctx := context.Background()
	reader, err := NewStorage(Config{URL: writer.url, Collection: "netflix"})
	require.NoError(t, err)

	require.NoError(t, writer.ReplaceAll(ctx, testInfo(), testRecords()))
	info, err := reader.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "all-MiniLM-L6-v2", info.EncoderModel)
	assert.Equal(t, 4, info.Count)

	next := domain.CorpusInfo{Name: "netflix", EncoderModel: "other-model-v2", Dimension: 2, Generation: "g2"}
	require.NoError(t, writer.ReplaceAll(ctx, next, testRecords()[:2]))

	info, err = reader.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "other-model-v2", info.EncoderModel)
	assert.Equal(t, "g2", info.Generation)
	assert.Equal(t, 2, info.Count)
}

func TestSearchValidation(t *testing.T) {
	_, s := newFake(t)
	ctx := context.Background()
	require.NoError(t, s.ReplaceAll(ctx, testInfo(), testRecords()))

	_, err := s.Search(ctx, []float32{1, 0}, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
	_, err = s.Search(ctx, []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s, err := NewStorage(Config{URL: url, Collection: "netflix"})
	require.NoError(t, err)
	ctx := context.Background()
	assert.ErrorIs(t, s.Ping(ctx), domain.ErrStoreConnection)
	assert.ErrorIs(t, s.ReplaceAll(ctx, testInfo(), testRecords()), domain.ErrStoreConnection)

	_, err = NewStorage(Config{URL: url})
	assert.Error(t, err)
}
