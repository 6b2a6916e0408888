package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movierec/internal/domain"
)

func openMem(t *testing.T, corpus string) *Storage {
	t.Helper()
	s, err := Open(Config{InMemory: true, Corpus: corpus})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testInfo() domain.CorpusInfo {
	return domain.CorpusInfo{
		Name:         "netflix",
		EncoderModel: "hashing-v1/3",
		Dimension:    3,
		Generation:   "8f8a2d1e",
		CreatedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func records() []domain.Record {
	return []domain.Record{
		{ID: 0, Metadata: domain.Metadata{Title: "Space Dogs", ReleaseYear: 2019}, Vector: []float32{1, 0, 0}},
		{ID: 1, Metadata: domain.Metadata{Title: "Ocean Cats"}, Vector: []float32{0, 1, 0}},
		{ID: 2, Metadata: domain.Metadata{Title: "Space Cats"}, Vector: []float32{1, 1, 0}},
		{ID: 3, Metadata: domain.Metadata{Title: "Nothing"}, Vector: []float32{0, 0, 0}},
	}
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(Config{InMemory: true})
	assert.Error(t, err)
	_, err = Open(Config{Corpus: "netflix"})
	assert.Error(t, err)
}

func TestEmptyStore(t *testing.T) {
	s := openMem(t, "netflix")
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	_, err := s.Info(ctx)
	assert.ErrorIs(t, err, domain.ErrCorpusNotFound)
	_, err = s.Search(ctx, []float32{1, 0, 0}, 3)
	assert.ErrorIs(t, err, domain.ErrCorpusNotFound)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReplaceAllAndSearch(t *testing.T) {
	s := openMem(t, "netflix")
	ctx := context.Background()
	require.NoError(t, s.ReplaceAll(ctx, testInfo(), records()))

	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, info.Count)
	assert.Equal(t, "hashing-v1/3", info.EncoderModel)
	assert.True(t, info.CreatedAt.Equal(testInfo().CreatedAt))

	hits, err := s.Search(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "Space Dogs", hits[0].Record.Metadata.Title)
	assert.InDelta(t, 2.0, hits[0].Score, 1e-6)
	assert.Equal(t, "Space Cats", hits[1].Record.Metadata.Title)
	// Ocean Cats and Nothing tie at 1.0; the lower id wins
	assert.Equal(t, int64(1), hits[2].Record.ID)
	assert.Equal(t, []float32{1, 0, 0}, hits[0].Record.Vector)

	got, err := s.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2019, got.Metadata.ReleaseYear)
	_, err = s.Get(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestReplaceAllDropsPreviousGeneration(t *testing.T) {
	s := openMem(t, "netflix")
	ctx := context.Background()
	require.NoError(t, s.ReplaceAll(ctx, testInfo(), records()))

	next := testInfo()
	next.Generation = "second"
	require.NoError(t, s.ReplaceAll(ctx, next, records()[:1]))

	n, _ := s.Count(ctx)
	assert.Equal(t, 1, n)
	info, _ := s.Info(ctx)
	assert.Equal(t, "second", info.Generation)
	_, err := s.Get(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestReplaceAllRejectsWrongDimension(t *testing.T) {
	s := openMem(t, "netflix")
	ctx := context.Background()
	recs := records()
	recs[1].Vector = []float32{1, 2}

	err := s.ReplaceAll(ctx, testInfo(), recs)
	var bw *domain.BulkWriteError
	require.ErrorAs(t, err, &bw)
	assert.Equal(t, 1, bw.Failed)
	assert.Equal(t, 4, bw.Total)

	n, _ := s.Count(ctx)
	assert.Equal(t, 3, n)
	info, _ := s.Info(ctx)
	assert.Equal(t, 3, info.Count)
}

func TestReplaceAllRejectsDuplicateID(t *testing.T) {
	s := openMem(t, "netflix")
	ctx := context.Background()
	recs := records()
	dup := recs[0]
	dup.Metadata.Title = "Space Dogs Again"
	recs = append(recs, dup)

	err := s.ReplaceAll(ctx, testInfo(), recs)
	var bw *domain.BulkWriteError
	require.ErrorAs(t, err, &bw)
	assert.Equal(t, 1, bw.Failed)
	assert.Equal(t, 5, bw.Total)
	assert.Contains(t, err.Error(), "duplicate id")

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, info.Count)
	got, err := s.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "Space Dogs", got.Metadata.Title, "first occurrence wins")
}

func TestSearchValidation(t *testing.T) {
	s := openMem(t, "netflix")
	ctx := context.Background()
	require.NoError(t, s.ReplaceAll(ctx, testInfo(), records()))

	_, err := s.Search(ctx, []float32{1, 0, 0}, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
	_, err = s.Search(ctx, []float32{1, 0}, 2)
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
}

func TestCorporaAreIsolated(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := Open(Config{Dir: dir, Corpus: "netflix"})
	require.NoError(t, err)
	require.NoError(t, a.ReplaceAll(ctx, testInfo(), records()))
	require.NoError(t, a.Close())

	// reopen from disk: the cached tag is reloaded
	b, err := Open(Config{Dir: dir, Corpus: "netflix"})
	require.NoError(t, err)
	defer b.Close()
	info, err := b.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, info.Count)

	c := &Storage{db: b.db, prefix: []byte("corpus/net/"), log: b.log}
	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "prefix of another corpus name must not match")
}

func TestPingClosed(t *testing.T) {
	s, err := Open(Config{InMemory: true, Corpus: "netflix"})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), domain.ErrStoreConnection)
}
