package qdrant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"movierec/internal/domain"
	"movierec/internal/logging"
	"movierec/internal/vectorstore"
)

const (
	backend          = "qdrant"
	defaultBatchSize = 256
)

var _ vectorstore.Storage = (*Storage)(nil)

// Storage is a minimal REST client to Qdrant.
// The collection uses cosine distance; Qdrant scores in [-1,1] are shifted
// by +1 on the way out. The corpus tag travels in every point's payload.
type Storage struct {
	url        string
	apiKey     string
	collection string
	batchSize  int
	client     *http.Client
	log        zerolog.Logger

	writeMu sync.Mutex
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	BatchSize  int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// payload is the stored form of a point: the record metadata plus the
// corpus tag.
type payload struct {
	domain.Metadata
	RowID        int64     `json:"row_id"`
	EncoderModel string    `json:"encoder_model"`
	Generation   string    `json:"generation"`
	CreatedAt    time.Time `json:"created_at"`
}

type point struct {
	ID      uint64    `json:"id"`
	Vector  []float32 `json:"vector,omitempty"`
	Payload payload   `json:"payload"`
}

// apiError is a non-2xx answer from Qdrant.
type apiError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("qdrant %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func NewStorage(cfg Config) (*Storage, error) {
	if cfg.URL == "" || cfg.Collection == "" {
		return nil, errors.New("qdrant: url and collection are required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		batchSize:  batch,
		client:     client,
		log:        logging.Component("qdrant").With().Str("collection", cfg.Collection).Logger(),
	}, nil
}

func (s *Storage) collectionPath() string { return "/collections/" + s.collection }

func (s *Storage) Ping(ctx context.Context) error {
	if _, err := s.do(ctx, http.MethodGet, "/", nil, nil); err != nil {
		return domain.StoreError(backend, err)
	}
	return nil
}

// ReplaceAll deletes the collection, recreates it for info.Dimension and
// upserts the records in chunks. A failing chunk marks its records as failed
// and the remaining chunks are still written.
func (s *Storage) ReplaceAll(ctx context.Context, info domain.CorpusInfo, records []domain.Record) error {
	if err := (domain.Schema{Name: info.Name, Dimension: info.Dimension}).Validate(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	status, err := s.do(ctx, http.MethodDelete, s.collectionPath(), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return domain.StoreError(backend, fmt.Errorf("delete collection: %w", err))
	}
	create := map[string]any{
		"vectors": map[string]any{
			"size":     info.Dimension,
			"distance": "Cosine",
		},
	}
	if _, err := s.do(ctx, http.MethodPut, s.collectionPath(), create, nil); err != nil {
		return domain.StoreError(backend, fmt.Errorf("create collection: %w", err))
	}

	accepted, failures := vectorstore.PartitionByDimension(records, info.Dimension)
	written := 0
	for start := 0; start < len(accepted); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := accepted[start:min(start+s.batchSize, len(accepted))]
		points := make([]point, len(chunk))
		for i, r := range chunk {
			points[i] = point{ID: uint64(r.ID), Vector: r.Vector, Payload: payload{
				Metadata:     r.Metadata,
				RowID:        r.ID,
				EncoderModel: info.EncoderModel,
				Generation:   info.Generation,
				CreatedAt:    info.CreatedAt,
			}}
		}
		body := map[string]any{"points": points}
		if _, err := s.do(ctx, http.MethodPut, s.collectionPath()+"/points?wait=true", body, nil); err != nil {
			s.log.Error().Err(err).Int("offset", start).Int("size", len(chunk)).Msg("upsert chunk failed")
			for _, r := range chunk {
				failures = append(failures, &domain.RecordError{ID: r.ID, Err: err})
			}
			continue
		}
		written += len(chunk)
	}
	s.log.Info().Int("written", written).Str("generation", info.Generation).Msg("collection rebuilt")
	return vectorstore.BulkResult(len(records), failures)
}

func (s *Storage) Search(ctx context.Context, query []float32, k int) ([]domain.ScoredRecord, error) {
	info, err := s.Info(ctx)
	if err != nil {
		return nil, err
	}
	if err := vectorstore.ValidateQuery(query, k, info.Dimension); err != nil {
		return nil, err
	}
	req := map[string]any{
		"vector":       query,
		"limit":        k,
		"with_payload": true,
		"with_vector":  true,
	}
	var resp struct {
		Result []struct {
			ID      uint64    `json:"id"`
			Score   float64   `json:"score"`
			Payload payload   `json:"payload"`
			Vector  []float32 `json:"vector"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionPath()+"/points/search", req, &resp); err != nil {
		return nil, domain.StoreError(backend, err)
	}
	hits := make([]domain.ScoredRecord, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, domain.ScoredRecord{
			Record: domain.Record{ID: r.Payload.RowID, Metadata: r.Payload.Metadata, Vector: r.Vector},
			Score:  r.Score + 1,
		})
	}
	vectorstore.SortHits(hits)
	return hits, nil
}

func (s *Storage) Get(ctx context.Context, id int64) (domain.Record, error) {
	if id < 0 {
		return domain.Record{}, fmt.Errorf("%w: %d", domain.ErrRecordNotFound, id)
	}
	var resp struct {
		Result point `json:"result"`
	}
	status, err := s.do(ctx, http.MethodGet, fmt.Sprintf("%s/points/%d", s.collectionPath(), id), nil, &resp)
	if status == http.StatusNotFound {
		return domain.Record{}, fmt.Errorf("%w: %d", domain.ErrRecordNotFound, id)
	}
	if err != nil {
		return domain.Record{}, domain.StoreError(backend, err)
	}
	p := resp.Result
	return domain.Record{ID: p.Payload.RowID, Metadata: p.Payload.Metadata, Vector: p.Vector}, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodPost, s.collectionPath()+"/points/count", map[string]any{"exact": true}, &resp)
	if status == http.StatusNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, domain.StoreError(backend, err)
	}
	return resp.Result.Count, nil
}

// Info reads the corpus tag from the collection config and the first stored
// point. It is not cached: another process may rebuild the collection while
// this one is serving.
func (s *Storage) Info(ctx context.Context) (domain.CorpusInfo, error) {
	var coll struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodGet, s.collectionPath(), nil, &coll)
	if status == http.StatusNotFound {
		return domain.CorpusInfo{}, domain.ErrCorpusNotFound
	}
	if err != nil {
		return domain.CorpusInfo{}, domain.StoreError(backend, err)
	}
	info := domain.CorpusInfo{Name: s.collection, Dimension: coll.Result.Config.Params.Vectors.Size}

	var scroll struct {
		Result struct {
			Points []point `json:"points"`
		} `json:"result"`
	}
	req := map[string]any{"limit": 1, "with_payload": true, "with_vector": false}
	if _, err := s.do(ctx, http.MethodPost, s.collectionPath()+"/points/scroll", req, &scroll); err != nil {
		return domain.CorpusInfo{}, domain.StoreError(backend, err)
	}
	if len(scroll.Result.Points) > 0 {
		p := scroll.Result.Points[0].Payload
		info.EncoderModel = p.EncoderModel
		info.Generation = p.Generation
		info.CreatedAt = p.CreatedAt
	}
	if info.Count, err = s.Count(ctx); err != nil {
		return domain.CorpusInfo{}, err
	}
	return info, nil
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// do sends body as JSON and decodes a 2xx answer into out. The status code
// is returned even when err is set, so callers can tolerate 404s.
func (s *Storage) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.url+path, r)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, &apiError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}
