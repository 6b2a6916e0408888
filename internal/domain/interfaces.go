package domain

import "context"

// Encoder converts free text into a fixed-dimension vector.
// The same model must produce the corpus vectors and the query vectors.
type Encoder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	// Model identifies the model and version that produced a vector. It is
	// recorded on the corpus at ingestion time.
	Model() string
}

// CorpusStore holds one named corpus of Records and ranks it by cosine
// similarity. Implementations must be safe for concurrent readers; writers are
// serialised internally.
type CorpusStore interface {
	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
	// ReplaceAll deletes the current corpus (if any), recreates it for info and
	// writes records. Records whose vector length differs from the schema
	// dimension are rejected one by one and reported in a *BulkWriteError.
	ReplaceAll(ctx context.Context, info CorpusInfo, records []Record) error
	// Search returns at most k records ordered by score desc, ID asc.
	Search(ctx context.Context, query []float32, k int) ([]ScoredRecord, error)
	// Get returns the record stored under id.
	Get(ctx context.Context, id int64) (Record, error)
	// Count returns the number of records currently stored.
	Count(ctx context.Context) (int, error)
	// Info returns the version tag of the current corpus.
	Info(ctx context.Context) (CorpusInfo, error)
	Close() error
}

// RowSource supplies raw tabular rows for ingestion.
type RowSource interface {
	Rows(ctx context.Context) ([]RawRow, error)
}
