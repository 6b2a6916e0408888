package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"movierec/internal/domain"
	"movierec/internal/embedding"
	"movierec/internal/logging"
	"movierec/internal/metrics"
	"movierec/internal/textnorm"
)

const defaultEncodeBatch = 64

// FeatureField is one source column of the feature string and whether its
// tokens are lemmatized.
type FeatureField struct {
	Name      string
	Lemmatize bool
}

// FeatureFieldsFrom pairs field names with their lemmatize flags. The lists
// must be parallel.
func FeatureFieldsFrom(names []string, lemmatize []bool) ([]FeatureField, error) {
	if len(names) == 0 {
		return nil, errors.New("ingest: no feature fields configured")
	}
	if len(names) != len(lemmatize) {
		return nil, fmt.Errorf("ingest: %d feature fields but %d lemmatize flags", len(names), len(lemmatize))
	}
	fields := make([]FeatureField, len(names))
	for i, n := range names {
		if strings.TrimSpace(n) == "" {
			return nil, fmt.Errorf("ingest: feature field %d has no name", i)
		}
		fields[i] = FeatureField{Name: n, Lemmatize: lemmatize[i]}
	}
	return fields, nil
}

// IngestReport summarises one ingestion run.
type IngestReport struct {
	Rows       int
	Written    int
	Failed     int
	Generation string
	Duration   time.Duration
	Errors     []error
}

// IngestorConfig tunes the encode stage.
type IngestorConfig struct {
	Corpus    string
	Workers   int
	BatchSize int
}

// Ingestor builds a corpus from raw rows: normalise feature fields, encode
// them, and replace the stored corpus wholesale.
type Ingestor struct {
	normalizer *textnorm.Normalizer
	encoder    domain.Encoder
	store      domain.CorpusStore
	corpus     string
	workers    int
	batchSize  int
	log        zerolog.Logger
	now        func() time.Time

	// one ingestion at a time
	mu sync.Mutex
}

func NewIngestor(n *textnorm.Normalizer, enc domain.Encoder, store domain.CorpusStore, cfg IngestorConfig) *Ingestor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultEncodeBatch
	}
	return &Ingestor{
		normalizer: n,
		encoder:    enc,
		store:      store,
		corpus:     cfg.Corpus,
		workers:    workers,
		batchSize:  batch,
		log:        logging.Component("ingest").With().Str("corpus", cfg.Corpus).Logger(),
		now:        time.Now,
	}
}

// Feature builds the encodable string of a row: each field normalised with
// its own lemmatize flag, joined in field order with single spaces.
func (in *Ingestor) Feature(row domain.RawRow, fields []FeatureField) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = in.normalizer.NormalizeString(row.Get(f.Name), f.Lemmatize)
	}
	return strings.Join(parts, " ")
}

// Run replaces the corpus with rows. Setup failures (bad rows, an
// unreachable encoder) abort before the store is touched. Once the store has
// been asked to replace the corpus, the old generation is gone even if the
// write fails; such failures come back as *domain.BulkWriteError.
func (in *Ingestor) Run(ctx context.Context, rows []domain.RawRow, fields []FeatureField) (report IngestReport, err error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	start := in.now()
	report.Rows = len(rows)
	defer func() {
		report.Duration = in.now().Sub(start)
		metrics.RecordIngest(report.Rows, report.Written, report.Failed, report.Duration, err)
	}()

	if len(fields) == 0 {
		return report, errors.New("ingest: no feature fields configured")
	}
	metas := make([]domain.Metadata, len(rows))
	for i, row := range rows {
		if metas[i], err = row.Metadata(); err != nil {
			return report, &domain.DataLoadError{Source: "rows", Line: i + 1, Err: err}
		}
	}
	if err = embedding.Probe(ctx, in.encoder); err != nil {
		return report, err
	}

	vectors, failures, err := in.encode(ctx, rows, fields)
	if err != nil {
		return report, err
	}
	if len(rows) > 0 && len(failures) == len(rows) {
		return report, fmt.Errorf("%w: all %d rows failed to encode: %w",
			domain.ErrEncoderUnavailable, len(rows), failures[0])
	}

	records := make([]domain.Record, 0, len(rows))
	for i := range rows {
		if vectors[i] == nil {
			continue
		}
		records = append(records, domain.Record{ID: int64(i), Metadata: metas[i], Vector: vectors[i]})
	}
	info := domain.CorpusInfo{
		Name:         in.corpus,
		EncoderModel: in.encoder.Model(),
		Dimension:    in.encoder.Dimension(),
		Generation:   uuid.NewString(),
		CreatedAt:    in.now().UTC(),
	}
	report.Generation = info.Generation
	in.log.Info().
		Int("rows", len(rows)).
		Int("records", len(records)).
		Str("encoder", info.EncoderModel).
		Str("generation", info.Generation).
		Msg("replacing corpus")

	storeErr := in.store.ReplaceAll(ctx, info, records)
	var bulk *domain.BulkWriteError
	switch {
	case storeErr == nil:
	case errors.As(storeErr, &bulk):
		failures = append(failures, bulk.Errs...)
	default:
		report.Failed = len(rows)
		in.log.Error().Err(storeErr).Msg("corpus replacement aborted; the previous corpus may already be gone")
		return report, storeErr
	}

	report.Errors = failures
	report.Failed = len(failures)
	if bulk != nil {
		report.Failed = len(rows) - len(records) + bulk.Failed
	}
	report.Written = len(rows) - report.Failed
	if report.Failed == 0 {
		in.log.Info().Int("written", report.Written).Msg("ingestion finished")
		return report, nil
	}
	in.log.Error().
		Int("written", report.Written).
		Int("failed", report.Failed).
		Errs("errors", firstErrors(failures, 5)).
		Msg("ingestion finished with failures; the corpus is partial")
	return report, &domain.BulkWriteError{Total: len(rows), Failed: report.Failed, Errs: failures}
}

// encode normalises and encodes rows in batches on a bounded pool. A batch
// whose call fails is retried one row at a time so that one bad row does not
// sink its neighbours. Rows that still fail have a nil vector and a
// per-record error.
func (in *Ingestor) encode(ctx context.Context, rows []domain.RawRow, fields []FeatureField) ([][]float32, []error, error) {
	vectors := make([][]float32, len(rows))
	rowErrs := make([]error, len(rows))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)
	for start := 0; start < len(rows); start += in.batchSize {
		end := min(start+in.batchSize, len(rows))
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = in.Feature(rows[start+i], fields)
			}
			vecs, err := in.encoder.EmbedBatch(gctx, texts)
			if err == nil && len(vecs) != len(texts) {
				err = fmt.Errorf("encoder returned %d vectors for %d texts", len(vecs), len(texts))
			}
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				in.log.Warn().Err(err).Int("offset", start).Msg("batch encode failed, retrying row by row")
				for i, text := range texts {
					v, err := in.encoder.Embed(gctx, text)
					if err != nil {
						rowErrs[start+i] = &domain.RecordError{ID: int64(start + i), Err: fmt.Errorf("encode: %w", err)}
						continue
					}
					vectors[start+i] = v
				}
			} else {
				copy(vectors[start:end], vecs)
			}
			n := done.Add(int64(end - start))
			in.log.Debug().Int64("encoded", n).Int("total", len(rows)).Msg("encode progress")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	var failures []error
	for _, err := range rowErrs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	return vectors, failures, nil
}

func firstErrors(errs []error, n int) []error {
	if len(errs) > n {
		return errs[:n]
	}
	return errs
}
