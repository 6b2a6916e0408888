package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"movierec/internal/domain"
	"movierec/internal/vectorstore"
)

var _ vectorstore.Storage = (*Storage)(nil)

// Storage is a simple in-memory corpus store using brute-force cosine similarity.
// A reindex builds the next generation aside and swaps it in, so readers
// never observe a half-written corpus.
type Storage struct {
	writeMu sync.Mutex
	state   atomic.Pointer[generation]
}

type generation struct {
	info    domain.CorpusInfo
	records []domain.Record
	byID    map[int64]int
}

func NewStorage() *Storage { return &Storage{} }

func (s *Storage) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Storage) ReplaceAll(ctx context.Context, info domain.CorpusInfo, records []domain.Record) error {
	if err := (domain.Schema{Name: info.Name, Dimension: info.Dimension}).Validate(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	accepted, rejected := vectorstore.PartitionByDimension(records, info.Dimension)
	next := &generation{
		records: make([]domain.Record, 0, len(accepted)),
		byID:    make(map[int64]int, len(accepted)),
	}
	for _, r := range accepted {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, dup := next.byID[r.ID]; dup {
			rejected = append(rejected, &domain.RecordError{ID: r.ID, Err: errors.New("duplicate id")})
			continue
		}
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		r.Vector = vec
		next.byID[r.ID] = len(next.records)
		next.records = append(next.records, r)
	}
	next.info = info
	next.info.Count = len(next.records)
	s.state.Store(next)
	return vectorstore.BulkResult(len(records), rejected)
}

func (s *Storage) Search(ctx context.Context, query []float32, k int) ([]domain.ScoredRecord, error) {
	g := s.state.Load()
	if g == nil {
		return nil, domain.ErrCorpusNotFound
	}
	if err := vectorstore.ValidateQuery(query, k, g.info.Dimension); err != nil {
		return nil, err
	}
	top := vectorstore.NewTopK(k)
	for i, r := range g.records {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		top.Push(domain.ScoredRecord{Record: r, Score: vectorstore.Score(query, r.Vector)})
	}
	return top.Result(), nil
}

func (s *Storage) Get(_ context.Context, id int64) (domain.Record, error) {
	g := s.state.Load()
	if g == nil {
		return domain.Record{}, domain.ErrCorpusNotFound
	}
	i, ok := g.byID[id]
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: %d", domain.ErrRecordNotFound, id)
	}
	return g.records[i], nil
}

func (s *Storage) Count(context.Context) (int, error) {
	g := s.state.Load()
	if g == nil {
		return 0, nil
	}
	return len(g.records), nil
}

func (s *Storage) Info(context.Context) (domain.CorpusInfo, error) {
	g := s.state.Load()
	if g == nil {
		return domain.CorpusInfo{}, domain.ErrCorpusNotFound
	}
	return g.info, nil
}

func (s *Storage) Close() error { return nil }
