// Package elastic is a CorpusStore on Elasticsearch. Vectors are kept in an
// unindexed dense_vector field and ranked with an exact script_score query;
// the corpus tag is stored in the index mapping's _meta.
package elastic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"movierec/internal/domain"
	"movierec/internal/logging"
	"movierec/internal/vectorstore"
)

const (
	backend          = "elasticsearch"
	defaultBatchSize = 500

	// scoreScript guards records with a zero vector, for which
	// cosineSimilarity is undefined; they score cosine 0.
	scoreScript = "doc['vector_norm'].value == 0 ? 1.0 : cosineSimilarity(params.query_vector, '" +
		domain.FieldVector + "') + 1.0"
)

var _ vectorstore.Storage = (*Storage)(nil)

// Config configures the Elasticsearch store.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	BatchSize int
	Transport http.RoundTripper
}

// Storage is a CorpusStore backed by one Elasticsearch index.
type Storage struct {
	es        *elasticsearch.Client
	index     string
	batchSize int
	log       zerolog.Logger

	writeMu sync.Mutex
}

// document is the indexed form of a Record.
type document struct {
	domain.Metadata
	RowID      int64     `json:"row_id"`
	VectorNorm float64   `json:"vector_norm"`
	Vector     []float32 `json:"feature_vector"`
}

func NewStorage(cfg Config) (*Storage, error) {
	if cfg.Index == "" || len(cfg.Addresses) == 0 {
		return nil, errors.New("elastic: addresses and index are required")
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("elastic: %w", err)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Storage{
		es:        es,
		index:     cfg.Index,
		batchSize: batch,
		log:       logging.Component("elastic").With().Str("index", cfg.Index).Logger(),
	}, nil
}

// Mapping builds the index body for info: one text field per metadata
// field, the row id used as tie-break, and the unindexed vector.
func Mapping(info domain.CorpusInfo) map[string]any {
	props := make(map[string]any, len(domain.MetadataFields)+3)
	for _, f := range domain.MetadataFields {
		props[f] = map[string]any{"type": "text"}
	}
	props[domain.FieldReleaseYear] = map[string]any{"type": "integer"}
	props["row_id"] = map[string]any{"type": "long"}
	props["vector_norm"] = map[string]any{"type": "float"}
	props[domain.FieldVector] = map[string]any{
		"type":  "dense_vector",
		"dims":  info.Dimension,
		"index": false,
	}
	return map[string]any{
		"mappings": map[string]any{
			"_meta": map[string]any{
				"encoder_model": info.EncoderModel,
				"dimension":     info.Dimension,
				"generation":    info.Generation,
				"created_at":    info.CreatedAt,
			},
			"properties": props,
		},
	}
}

func (s *Storage) Ping(ctx context.Context) error {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return domain.StoreError(backend, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return domain.StoreError(backend, responseError(res))
	}
	return nil
}

// ReplaceAll deletes and recreates the index, then bulk-indexes the records.
// Per-item bulk failures are collected; the delete is never rolled back.
func (s *Storage) ReplaceAll(ctx context.Context, info domain.CorpusInfo, records []domain.Record) error {
	if err := (domain.Schema{Name: info.Name, Dimension: info.Dimension}).Validate(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.deleteIndex(ctx); err != nil {
		return err
	}
	if err := s.createIndex(ctx, info); err != nil {
		return err
	}

	accepted, failures := vectorstore.PartitionByDimension(records, info.Dimension)
	written := 0
	for start := 0; start < len(accepted); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := accepted[start:min(start+s.batchSize, len(accepted))]
		ok, errs := s.bulk(ctx, chunk)
		written += ok
		failures = append(failures, errs...)
	}
	s.log.Info().Int("written", written).Str("generation", info.Generation).Msg("index rebuilt")
	return vectorstore.BulkResult(len(records), failures)
}

func (s *Storage) deleteIndex(ctx context.Context) error {
	res, err := s.es.Indices.Delete([]string{s.index},
		s.es.Indices.Delete.WithIgnoreUnavailable(true),
		s.es.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return domain.StoreError(backend, fmt.Errorf("delete index: %w", err))
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return domain.StoreError(backend, fmt.Errorf("delete index: %w", responseError(res)))
	}
	return nil
}

func (s *Storage) createIndex(ctx context.Context, info domain.CorpusInfo) error {
	body, err := json.Marshal(Mapping(info))
	if err != nil {
		return err
	}
	res, err := s.es.Indices.Create(s.index,
		s.es.Indices.Create.WithBody(bytes.NewReader(body)),
		s.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return domain.StoreError(backend, fmt.Errorf("create index: %w", err))
	}
	defer res.Body.Close()
	if res.IsError() {
		return domain.StoreError(backend, fmt.Errorf("create index: %w", responseError(res)))
	}
	return nil
}

// bulk indexes one chunk and returns how many records made it.
func (s *Storage) bulk(ctx context.Context, chunk []domain.Record) (int, []error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range chunk {
		action := map[string]any{"index": map[string]any{"_index": s.index, "_id": strconv.FormatInt(r.ID, 10)}}
		doc := document{Metadata: r.Metadata, RowID: r.ID, VectorNorm: norm(r.Vector), Vector: r.Vector}
		if err := enc.Encode(action); err != nil {
			return 0, chunkFailed(chunk, err)
		}
		if err := enc.Encode(doc); err != nil {
			return 0, chunkFailed(chunk, err)
		}
	}
	res, err := s.es.Bulk(&buf,
		s.es.Bulk.WithIndex(s.index),
		s.es.Bulk.WithRefresh("true"),
		s.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		s.log.Error().Err(err).Int("size", len(chunk)).Msg("bulk request failed")
		return 0, chunkFailed(chunk, domain.StoreError(backend, err))
	}
	defer res.Body.Close()
	if res.IsError() {
		err := responseError(res)
		s.log.Error().Err(err).Int("size", len(chunk)).Msg("bulk request rejected")
		return 0, chunkFailed(chunk, err)
	}
	var resp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return 0, chunkFailed(chunk, fmt.Errorf("decode bulk response: %w", err))
	}
	if !resp.Errors {
		return len(chunk), nil
	}
	var errs []error
	for _, item := range resp.Items {
		for _, op := range item {
			if op.Error == nil && op.Status < 300 {
				continue
			}
			id, _ := strconv.ParseInt(op.ID, 10, 64)
			reason := fmt.Sprintf("status %d", op.Status)
			if op.Error != nil {
				reason = op.Error.Type + ": " + op.Error.Reason
			}
			errs = append(errs, &domain.RecordError{ID: id, Err: errors.New(reason)})
		}
	}
	return len(chunk) - len(errs), errs
}

func chunkFailed(chunk []domain.Record, err error) []error {
	errs := make([]error, len(chunk))
	for i, r := range chunk {
		errs[i] = &domain.RecordError{ID: r.ID, Err: err}
	}
	return errs
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func (s *Storage) Search(ctx context.Context, query []float32, k int) ([]domain.ScoredRecord, error) {
	info, err := s.Info(ctx)
	if err != nil {
		return nil, err
	}
	if err := vectorstore.ValidateQuery(query, k, info.Dimension); err != nil {
		return nil, err
	}
	script := map[string]any{
		"source": scoreScript,
		"params": map[string]any{"query_vector": query},
	}
	if norm(query) == 0 {
		script = map[string]any{"source": "1.0"}
	}
	body, err := json.Marshal(map[string]any{
		"size": k,
		"query": map[string]any{
			"script_score": map[string]any{
				"query":  map[string]any{"match_all": map[string]any{}},
				"script": script,
			},
		},
		"sort": []any{
			map[string]any{"_score": "desc"},
			map[string]any{"row_id": "asc"},
		},
		"track_scores": true,
	})
	if err != nil {
		return nil, err
	}
	res, err := s.es.Search(
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(bytes.NewReader(body)),
		s.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, domain.StoreError(backend, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, domain.StoreError(backend, responseError(res))
	}
	var resp struct {
		Hits struct {
			Hits []struct {
				Score  float64  `json:"_score"`
				Source document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("elastic: decode search response: %w", err)
	}
	hits := make([]domain.ScoredRecord, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		hits = append(hits, domain.ScoredRecord{Record: h.Source.record(), Score: h.Score})
	}
	vectorstore.SortHits(hits)
	return hits, nil
}

func (d document) record() domain.Record {
	return domain.Record{ID: d.RowID, Metadata: d.Metadata, Vector: d.Vector}
}

func (s *Storage) Get(ctx context.Context, id int64) (domain.Record, error) {
	res, err := s.es.Get(s.index, strconv.FormatInt(id, 10), s.es.Get.WithContext(ctx))
	if err != nil {
		return domain.Record{}, domain.StoreError(backend, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return domain.Record{}, fmt.Errorf("%w: %d", domain.ErrRecordNotFound, id)
	}
	if res.IsError() {
		return domain.Record{}, domain.StoreError(backend, responseError(res))
	}
	var resp struct {
		Found  bool     `json:"found"`
		Source document `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return domain.Record{}, fmt.Errorf("elastic: decode document: %w", err)
	}
	if !resp.Found {
		return domain.Record{}, fmt.Errorf("%w: %d", domain.ErrRecordNotFound, id)
	}
	return resp.Source.record(), nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	res, err := s.es.Count(s.es.Count.WithIndex(s.index), s.es.Count.WithContext(ctx))
	if err != nil {
		return 0, domain.StoreError(backend, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, domain.StoreError(backend, responseError(res))
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return 0, fmt.Errorf("elastic: decode count: %w", err)
	}
	return resp.Count, nil
}

// Info reads the corpus tag from the mapping _meta. It is not cached: another
// process may rebuild the index while this one is serving.
func (s *Storage) Info(ctx context.Context) (domain.CorpusInfo, error) {
	res, err := s.es.Indices.GetMapping(
		s.es.Indices.GetMapping.WithIndex(s.index),
		s.es.Indices.GetMapping.WithContext(ctx),
	)
	if err != nil {
		return domain.CorpusInfo{}, domain.StoreError(backend, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return domain.CorpusInfo{}, domain.ErrCorpusNotFound
	}
	if res.IsError() {
		return domain.CorpusInfo{}, domain.StoreError(backend, responseError(res))
	}
	var resp map[string]struct {
		Mappings struct {
			Meta domain.CorpusInfo `json:"_meta"`
		} `json:"mappings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return domain.CorpusInfo{}, fmt.Errorf("elastic: decode mapping: %w", err)
	}
	m, ok := resp[s.index]
	if !ok {
		return domain.CorpusInfo{}, domain.ErrCorpusNotFound
	}
	info := m.Mappings.Meta
	info.Name = s.index
	if info.Count, err = s.Count(ctx); err != nil {
		return domain.CorpusInfo{}, err
	}
	return info, nil
}

func (s *Storage) Close() error { return nil }

func responseError(res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
	return fmt.Errorf("%s: %s", res.Status(), strings.TrimSpace(string(body)))
}
