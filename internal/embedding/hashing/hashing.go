package hashing

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"movierec/internal/textnorm"
)

// Version is bumped whenever the feature layout changes, so that corpora built
// by an older layout are detected as mismatched.
const Version = "hashing-v1"

const bigramWeight = 0.5

// Embedder implements a local feature-hashing vectorizer.
// Unigrams and bigrams are hashed into a fixed number of signed buckets,
// weighted by sublinear term frequency and L2 normalized. It needs no corpus
// preparation and is safe for concurrent use.
type Embedder struct {
	dimension    int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewEmbedder creates a hashing embedder producing vectors of the given dimension.
func NewEmbedder(dimension int) (*Embedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("hashing: invalid dimension %d", dimension)
	}
	sw, err := textnorm.Stopwords("english")
	if err != nil {
		return nil, err
	}
	return &Embedder{
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`),
		stopwords:    sw,
	}, nil
}

// Model returns the identifier of this embedder and its dimension.
func (e *Embedder) Model() string { return fmt.Sprintf("%s/%d", Version, e.dimension) }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes the hashed embedding for the given text. Text without any
// usable token yields the zero vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

// EmbedBatch embeds every text in order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("hashing: empty batch")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *Embedder) embed(text string) []float32 {
	tokens := e.tokenize(text)
	features := make(map[string]float64, 2*len(tokens))
	for i, tok := range tokens {
		features[tok]++
		if i > 0 {
			features[tokens[i-1]+" "+tok] += bigramWeight
		}
	}
	acc := make([]float64, e.dimension)
	for f, count := range features {
		idx, sign := e.bucket(f)
		acc[idx] += sign * (1 + math.Log(count+1))
	}
	// L2 normalize
	norm := 0.0
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	vec := make([]float32, e.dimension)
	if norm == 0 {
		return vec
	}
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

func (e *Embedder) bucket(feature string) (int, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	sign := 1.0
	if sum>>63 == 1 {
		sign = -1.0
	}
	return int(sum % uint64(e.dimension)), sign
}

func (e *Embedder) tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := e.tokenPattern.FindAllString(lower, -1)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}
