package embedding

import (
	"context"
	"fmt"

	"movierec/internal/domain"
)

// Embedder converts free text into a fixed-dimension vector.
type Embedder = domain.Encoder

// probeText is embedded once at startup to check that a model answers with
// vectors of the configured dimension.
const probeText = "movie recommendation probe"

// Probe verifies that e is usable. Any failure is reported as
// domain.ErrEncoderUnavailable so that ingestion aborts before storage is touched.
func Probe(ctx context.Context, e Embedder) error {
	if e == nil {
		return fmt.Errorf("%w: no encoder configured", domain.ErrEncoderUnavailable)
	}
	if e.Dimension() <= 0 {
		return fmt.Errorf("%w: %s reports dimension %d", domain.ErrEncoderUnavailable, e.Model(), e.Dimension())
	}
	v, err := e.Embed(ctx, probeText)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrEncoderUnavailable, e.Model(), err)
	}
	if len(v) != e.Dimension() {
		return fmt.Errorf("%w: %s returned %d values, expected %d",
			domain.ErrEncoderUnavailable, e.Model(), len(v), e.Dimension())
	}
	return nil
}
