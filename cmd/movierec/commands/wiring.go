package commands

import (
	"context"
	"fmt"
	"time"

	"movierec/internal/config"
	"movierec/internal/domain"
	"movierec/internal/embedding"
	"movierec/internal/embedding/openai"
	"movierec/internal/loader"
	"movierec/internal/logging"
	"movierec/internal/service"
	"movierec/internal/textnorm"
	"movierec/internal/vectorstore/badger"
	"movierec/internal/vectorstore/elastic"
	"movierec/internal/vectorstore/memory"
	"movierec/internal/vectorstore/qdrant"
)

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

func queryTimeout(cfg *config.AppConfig) time.Duration {
	if cfg.Query.TimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return secs(cfg.Query.TimeoutSecs)
}

func newEncoder(ctx context.Context, cfg *config.AppConfig) (domain.Encoder, error) {
	opts := embedding.Options{Type: cfg.Encoder.Type, Dimension: cfg.Encoder.Dimension}
	if o := cfg.Encoder.OpenAI; o != nil {
		opts.OpenAI = openai.Config{
			BaseURL:        o.BaseURL,
			APIKeyEnv:      o.APIKeyEnv,
			Model:          o.Model,
			SendDimensions: o.SendDimensions,
			BatchSize:      o.BatchSize,
			MaxRetries:     o.MaxRetries,
			Timeout:        secs(o.TimeoutSecs),
		}
	}
	return embedding.New(ctx, opts)
}

func openStore(ctx context.Context, cfg *config.AppConfig) (domain.CorpusStore, error) {
	var (
		st  domain.CorpusStore
		err error
	)
	vs := cfg.VectorStore
	switch vs.Type {
	case "memory":
		st = memory.NewStorage()
	case "badger":
		st, err = badger.Open(badger.Config{Dir: vs.Badger.Dir, Corpus: cfg.Corpus.Name})
	case "qdrant":
		st, err = qdrant.NewStorage(qdrant.Config{
			URL:        vs.Qdrant.URL,
			APIKey:     vs.Qdrant.APIKey,
			Collection: vs.Qdrant.Collection,
			BatchSize:  vs.Qdrant.BatchSize,
			Timeout:    secs(vs.Qdrant.TimeoutSecs),
		})
	case "elastic":
		st, err = elastic.NewStorage(elastic.Config{
			Addresses: vs.Elastic.Addresses,
			Username:  vs.Elastic.Username,
			Password:  vs.Elastic.Password,
			Index:     vs.Elastic.Index,
			BatchSize: vs.Elastic.BatchSize,
		})
	default:
		return nil, fmt.Errorf("unknown vector store: %s", vs.Type)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	log := logging.Component("store")
	log.Info().Str("type", vs.Type).Msg("store connected")
	return st, nil
}

func newRecommender(enc domain.Encoder, st domain.CorpusStore, cfg *config.AppConfig) *service.Recommender {
	return service.NewRecommender(enc, st, service.MismatchPolicy(cfg.Query.MismatchPolicy))
}

// runIngest reads source and replaces the corpus in st.
func runIngest(ctx context.Context, cfg *config.AppConfig, enc domain.Encoder, st domain.CorpusStore, source string) (service.IngestReport, error) {
	fields, err := service.FeatureFieldsFrom(cfg.Ingest.FeatureFields, cfg.Ingest.Lemmatize)
	if err != nil {
		return service.IngestReport{}, err
	}
	norm, err := textnorm.New(cfg.Ingest.Language)
	if err != nil {
		return service.IngestReport{}, err
	}
	src := &loader.CSV{Path: source, Required: cfg.Ingest.FeatureFields}
	rows, err := src.Rows(ctx)
	if err != nil {
		return service.IngestReport{}, err
	}
	log := logging.Component("ingest")
	log.Debug().Str("source", source).Int("rows", len(rows)).Msg("catalogue loaded")

	in := service.NewIngestor(norm, enc, st, service.IngestorConfig{
		Corpus:    cfg.Corpus.Name,
		Workers:   cfg.Ingest.Workers,
		BatchSize: cfg.Ingest.BatchSize,
	})
	return in.Run(ctx, rows, fields)
}

// openCorpus builds the encoder and store, ingesting first when asked to or
// when the store is in-memory and would otherwise be empty.
func openCorpus(ctx context.Context, cfg *config.AppConfig, ingest bool) (domain.Encoder, domain.CorpusStore, error) {
	enc, err := newEncoder(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if ingest || cfg.VectorStore.Type == "memory" {
		if _, err := runIngest(ctx, cfg, enc, st, cfg.Corpus.Source); err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("startup ingest: %w", err)
		}
	}
	return enc, st, nil
}
