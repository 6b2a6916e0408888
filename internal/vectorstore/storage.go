// Package vectorstore holds the ranking rules shared by every CorpusStore
// backend. Backends that score in process (memory, badger) use them directly;
// remote backends use them to validate input and to restore the tie-break
// order on the hits they receive.
package vectorstore

import (
	"container/heap"
	"math"
	"sort"

	"movierec/internal/domain"
)

// Storage is the corpus store contract implemented by the backends.
type Storage = domain.CorpusStore

// Cosine returns the cosine similarity of a and b. A zero-norm operand has no
// direction, so its similarity to anything is 0.
//
// The norms are multiplied before the square root: for a == b, dot and na are
// the same sum and sqrt(na*na) rounds back to na, so Cosine(a, a) is exactly 1.
// Squares of float32 values cannot overflow the float64 product.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / math.Sqrt(na*nb)
	// clamp rounding noise
	return max(-1, min(1, sim))
}

// Score is the ranking score of a candidate: cosine similarity shifted into [0,2].
func Score(query, vector []float32) float64 {
	return Cosine(query, vector) + 1
}

// Better reports whether a ranks ahead of b: higher score first, lower ID on ties.
func Better(a, b domain.ScoredRecord) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Record.ID < b.Record.ID
}

// SortHits orders hits by score desc, ID asc.
func SortHits(hits []domain.ScoredRecord) {
	sort.SliceStable(hits, func(i, j int) bool { return Better(hits[i], hits[j]) })
}

// TopK keeps the k best hits seen so far in bounded memory.
type TopK struct {
	k    int
	hits worstFirst
}

// NewTopK returns a collector for at most k hits.
func NewTopK(k int) *TopK {
	return &TopK{k: k, hits: make(worstFirst, 0, min(k, 1024))}
}

// Push offers a candidate.
func (t *TopK) Push(h domain.ScoredRecord) {
	if t.k <= 0 {
		return
	}
	if len(t.hits) < t.k {
		heap.Push(&t.hits, h)
		return
	}
	if Better(h, t.hits[0]) {
		t.hits[0] = h
		heap.Fix(&t.hits, 0)
	}
}

// Result returns the collected hits ranked best first.
func (t *TopK) Result() []domain.ScoredRecord {
	out := make([]domain.ScoredRecord, len(t.hits))
	copy(out, t.hits)
	SortHits(out)
	return out
}

// worstFirst is a heap whose root is the weakest kept hit.
type worstFirst []domain.ScoredRecord

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return Better(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(domain.ScoredRecord)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// ValidateQuery checks k and the query dimension before a backend is touched.
func ValidateQuery(query []float32, k, dimension int) error {
	if k <= 0 {
		return &domain.InvalidQueryError{Reason: "k must be positive"}
	}
	if len(query) != dimension {
		return &domain.SchemaMismatchError{ID: -1, Want: dimension, Got: len(query)}
	}
	return nil
}

// PartitionByDimension splits records into those that fit the corpus
// dimension and a per-record rejection for each one that does not.
func PartitionByDimension(records []domain.Record, dimension int) ([]domain.Record, []error) {
	accepted := make([]domain.Record, 0, len(records))
	var rejected []error
	for _, r := range records {
		if len(r.Vector) != dimension {
			rejected = append(rejected, &domain.SchemaMismatchError{ID: r.ID, Want: dimension, Got: len(r.Vector)})
			continue
		}
		accepted = append(accepted, r)
	}
	return accepted, rejected
}

// BulkResult turns the per-record failures of a write into a
// *domain.BulkWriteError, or nil when every record was written.
func BulkResult(total int, failures []error) error {
	if len(failures) == 0 {
		return nil
	}
	return &domain.BulkWriteError{Total: total, Failed: len(failures), Errs: failures}
}
