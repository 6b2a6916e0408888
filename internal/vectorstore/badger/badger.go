// Package badger is a persistent CorpusStore on BadgerDB. Records are
// msgpack-encoded under corpus/<name>/rec/<id>; the corpus version tag lives
// under corpus/<name>/meta. Search is a full prefix scan with a bounded top-K.
package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"movierec/internal/domain"
	"movierec/internal/logging"
	"movierec/internal/vectorstore"
)

const backend = "badger"

var _ vectorstore.Storage = (*Storage)(nil)

// Config configures the badger store.
type Config struct {
	// Dir holds the data files. Required unless InMemory is set.
	Dir string
	// InMemory keeps everything in memory; used by tests.
	InMemory bool
	// Corpus is the corpus name used as key prefix.
	Corpus string
}

// Storage is a CorpusStore backed by BadgerDB.
type Storage struct {
	db     *badger.DB
	prefix []byte
	log    zerolog.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	info    *domain.CorpusInfo
}

// Open opens (or creates) the database and loads the current corpus tag.
func Open(cfg Config) (*Storage, error) {
	if cfg.Corpus == "" {
		return nil, errors.New("badger: corpus name is required")
	}
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("badger: dir is required for on-disk mode")
	}
	log := logging.Component("badger").With().Str("corpus", cfg.Corpus).Logger()
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(badgerLogger{log: log})
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, domain.StoreError(backend, err)
	}
	s := &Storage{db: db, prefix: []byte("corpus/" + cfg.Corpus + "/"), log: log}
	info, err := s.loadInfo()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.info = info
	return s, nil
}

func (s *Storage) metaKey() []byte { return append(append([]byte{}, s.prefix...), "meta"...) }

func (s *Storage) recPrefix() []byte { return append(append([]byte{}, s.prefix...), "rec/"...) }

func (s *Storage) recKey(id int64) []byte {
	return fmt.Appendf(s.recPrefix(), "%016x", uint64(id))
}

func (s *Storage) loadInfo() (*domain.CorpusInfo, error) {
	var info *domain.CorpusInfo
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.metaKey())
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			info = &domain.CorpusInfo{}
			return msgpack.Unmarshal(val, info)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badger: load corpus info: %w", err)
	}
	return info, nil
}

func (s *Storage) cachedInfo() (domain.CorpusInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.info == nil {
		return domain.CorpusInfo{}, domain.ErrCorpusNotFound
	}
	return *s.info, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return domain.StoreError(backend, errors.New("database is closed"))
	}
	return nil
}

// ReplaceAll drops the whole corpus prefix and writes the new generation. A
// failure after the drop leaves the corpus empty or partial.
func (s *Storage) ReplaceAll(ctx context.Context, info domain.CorpusInfo, records []domain.Record) error {
	if err := (domain.Schema{Name: info.Name, Dimension: info.Dimension}).Validate(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.DropPrefix(s.prefix); err != nil {
		return domain.StoreError(backend, fmt.Errorf("drop corpus: %w", err))
	}
	s.mu.Lock()
	s.info = nil
	s.mu.Unlock()

	accepted, failures := vectorstore.PartitionByDimension(records, info.Dimension)
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	written := 0
	seen := make(map[int64]struct{}, len(accepted))
	for _, r := range accepted {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, dup := seen[r.ID]; dup {
			failures = append(failures, &domain.RecordError{ID: r.ID, Err: errors.New("duplicate id")})
			continue
		}
		seen[r.ID] = struct{}{}
		val, err := msgpack.Marshal(&r)
		if err != nil {
			failures = append(failures, &domain.RecordError{ID: r.ID, Err: err})
			continue
		}
		if err := wb.Set(s.recKey(r.ID), val); err != nil {
			failures = append(failures, &domain.RecordError{ID: r.ID, Err: err})
			continue
		}
		written++
	}
	info.Count = written
	meta, err := msgpack.Marshal(&info)
	if err != nil {
		return fmt.Errorf("badger: encode corpus info: %w", err)
	}
	if err := wb.Set(s.metaKey(), meta); err != nil {
		return domain.StoreError(backend, err)
	}
	if err := wb.Flush(); err != nil {
		return &domain.BulkWriteError{
			Total:  len(records),
			Failed: len(records),
			Errs:   append(failures, domain.StoreError(backend, fmt.Errorf("flush: %w", err))),
		}
	}
	s.mu.Lock()
	s.info = &info
	s.mu.Unlock()
	s.log.Debug().Int("written", written).Int("rejected", len(failures)).Msg("corpus replaced")
	return vectorstore.BulkResult(len(records), failures)
}

func (s *Storage) Search(ctx context.Context, query []float32, k int) ([]domain.ScoredRecord, error) {
	info, err := s.cachedInfo()
	if err != nil {
		return nil, err
	}
	if err := vectorstore.ValidateQuery(query, k, info.Dimension); err != nil {
		return nil, err
	}
	top := vectorstore.NewTopK(k)
	prefix := s.recPrefix()
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		n := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if n%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++
			var r domain.Record
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			top.Push(domain.ScoredRecord{Record: r, Score: vectorstore.Score(query, r.Vector)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: search: %w", err)
	}
	return top.Result(), nil
}

func (s *Storage) Get(_ context.Context, id int64) (domain.Record, error) {
	if _, err := s.cachedInfo(); err != nil {
		return domain.Record{}, err
	}
	var r domain.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.recKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return msgpack.Unmarshal(val, &r) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Record{}, fmt.Errorf("%w: %d", domain.ErrRecordNotFound, id)
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("badger: get %d: %w", id, err)
	}
	return r, nil
}

// Count walks the record keys without reading values.
func (s *Storage) Count(_ context.Context) (int, error) {
	n := 0
	prefix := s.recPrefix()
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger: count: %w", err)
	}
	return n, nil
}

func (s *Storage) Info(context.Context) (domain.CorpusInfo, error) { return s.cachedInfo() }

func (s *Storage) Close() error { return s.db.Close() }

// badgerLogger routes badger's own logging into zerolog. Info and debug
// chatter is demoted to debug.
type badgerLogger struct{ log zerolog.Logger }

func (l badgerLogger) Errorf(f string, v ...any)   { l.log.Error().Msgf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...any) { l.log.Warn().Msgf(f, v...) }
func (l badgerLogger) Infof(f string, v ...any)    { l.log.Debug().Msgf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...any)   { l.log.Trace().Msgf(f, v...) }
