package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"movierec/internal/domain"
	"movierec/internal/logging"
	"movierec/internal/metrics"
)

// MismatchPolicy decides what happens when the query encoder differs from
// the encoder recorded on the corpus.
type MismatchPolicy string

const (
	MismatchReject MismatchPolicy = "reject"
	MismatchWarn   MismatchPolicy = "warn"
)

// Recommendation is one ranked result. Vectors never leave the service.
type Recommendation struct {
	Rank     int             `json:"rank"`
	Score    float64         `json:"score"`
	Metadata domain.Metadata `json:"metadata"`
}

// Recommender answers similarity queries against the stored corpus. It holds
// no mutable state and is safe for concurrent use.
type Recommender struct {
	encoder domain.Encoder
	store   domain.CorpusStore
	policy  MismatchPolicy
	log     zerolog.Logger
}

func NewRecommender(enc domain.Encoder, store domain.CorpusStore, policy MismatchPolicy) *Recommender {
	if policy == "" {
		policy = MismatchReject
	}
	return &Recommender{
		encoder: enc,
		store:   store,
		policy:  policy,
		log:     logging.Component("recommend"),
	}
}

// Recommend encodes query and returns the k most similar records, best first.
func (r *Recommender) Recommend(ctx context.Context, query string, k int) (recs []Recommendation, err error) {
	start := time.Now()
	defer func() { metrics.RecordQuery("recommend", time.Since(start), err) }()

	if k < 1 {
		return nil, &domain.InvalidQueryError{Reason: fmt.Sprintf("count must be at least 1, got %d", k)}
	}
	if strings.TrimSpace(query) == "" {
		return nil, &domain.InvalidQueryError{Reason: "query text is empty"}
	}
	if err := r.checkCorpus(ctx); err != nil {
		return nil, err
	}
	vec, err := r.encoder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w: %w", domain.ErrEncoderUnavailable, err)
	}
	hits, err := r.store.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	r.log.Debug().Str("query", query).Int("k", k).Int("hits", len(hits)).Msg("recommend")
	return rank(hits), nil
}

// Similar returns the k records closest to the stored record id, excluding
// the record itself.
func (r *Recommender) Similar(ctx context.Context, id int64, k int) (recs []Recommendation, err error) {
	start := time.Now()
	defer func() { metrics.RecordQuery("similar", time.Since(start), err) }()

	if k < 1 {
		return nil, &domain.InvalidQueryError{Reason: fmt.Sprintf("count must be at least 1, got %d", k)}
	}
	if err := r.checkCorpus(ctx); err != nil {
		return nil, err
	}
	seed, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	hits, err := r.store.Search(ctx, seed.Vector, k+1)
	if err != nil {
		return nil, err
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Record.ID != id {
			out = append(out, h)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return rank(out), nil
}

// checkCorpus compares the corpus tag with the query encoder.
func (r *Recommender) checkCorpus(ctx context.Context) error {
	info, err := r.store.Info(ctx)
	if err != nil {
		return err
	}
	if info.EncoderModel == r.encoder.Model() && info.Dimension == r.encoder.Dimension() {
		return nil
	}
	mismatch := &domain.EncoderMismatchError{
		CorpusModel: info.EncoderModel,
		CorpusDim:   info.Dimension,
		QueryModel:  r.encoder.Model(),
		QueryDim:    r.encoder.Dimension(),
	}
	if r.policy == MismatchWarn {
		r.log.Warn().Err(mismatch).Msg("encoder mismatch, results may be meaningless")
		return nil
	}
	return mismatch
}

func rank(hits []domain.ScoredRecord) []Recommendation {
	out := make([]Recommendation, len(hits))
	for i, h := range hits {
		out[i] = Recommendation{Rank: i + 1, Score: h.Score, Metadata: h.Record.Metadata}
	}
	return out
}
