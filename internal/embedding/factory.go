package embedding

import (
	"context"
	"fmt"
	"time"

	"movierec/internal/embedding/hashing"
	"movierec/internal/embedding/openai"
	"movierec/internal/logging"
)

// Options selects an encoder implementation.
type Options struct {
	Type      string // hashing (default) or openai
	Dimension int
	OpenAI    openai.Config
}

// New builds the configured encoder and probes it once, so a broken model
// fails before any corpus is read or written.
func New(ctx context.Context, opts Options) (Embedder, error) {
	var (
		enc Embedder
		err error
	)
	switch opts.Type {
	case "hashing", "":
		enc, err = hashing.NewEmbedder(opts.Dimension)
	case "openai":
		oc := opts.OpenAI
		oc.Dimension = opts.Dimension
		enc, err = openai.NewClient(oc)
	default:
		return nil, fmt.Errorf("unknown encoder: %s", opts.Type)
	}
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := Probe(ctx, enc); err != nil {
		return nil, err
	}
	log := logging.Component("embedding")
	log.Info().
		Str("model", enc.Model()).
		Int("dimension", enc.Dimension()).
		Dur("probe", time.Since(start)).
		Msg("encoder ready")
	return enc, nil
}
