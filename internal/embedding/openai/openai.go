package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "text-embedding-3-small"
	defaultBatchSize = 64
)

// Client is an OpenAI-compatible embeddings client. Any server that speaks the
// /embeddings API works, for example a text-embeddings-inference deployment of
// all-MiniLM-L6-v2.
type Client struct {
	client         *oai.Client
	model          string
	dimension      int
	batchSize      int
	sendDimensions bool
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	APIKey    string // takes precedence over APIKeyEnv
	Model     string
	Dimension int

	// SendDimensions asks the server to truncate vectors to Dimension. Only
	// models that support it (text-embedding-3-*) accept the parameter.
	SendDimensions bool

	BatchSize  int
	MaxRetries int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := cfg.APIKey
	if key == "" && cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("openai: invalid dimension %d", cfg.Dimension)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.BaseURL == defaultBaseURL && key == "" {
		return nil, fmt.Errorf("openai: missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: t}
	}
	opts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	client := oai.NewClient(opts...)
	return &Client{
		client:         &client,
		model:          cfg.Model,
		dimension:      cfg.Dimension,
		batchSize:      cfg.BatchSize,
		sendDimensions: cfg.SendDimensions,
	}, nil
}

// Model returns the embedding model identifier.
func (c *Client) Model() string { return c.model }

// Dimension returns the configured dimensionality of the embedding vectors.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for texts, split into requests of at most
// BatchSize inputs.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("openai: empty batch")
	}
	result := make([][]float32, len(texts))
	for i := 0; i < len(texts); i += c.batchSize {
		end := min(i+c.batchSize, len(texts))
		vecs, err := c.callAPI(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("openai: embed batch [%d:%d]: %w", i, end, err)
		}
		copy(result[i:], vecs)
	}
	return result, nil
}

func (c *Client) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([]string, len(texts))
	for i, t := range texts {
		// the API rejects empty input; a blank string still yields a vector
		if strings.TrimSpace(t) == "" {
			t = " "
		}
		inputs[i] = t
	}
	params := oai.EmbeddingNewParams{
		Model:          c.model,
		Input:          oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		EncodingFormat: oai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if c.sendDimensions {
		params.Dimensions = oai.Int(int64(c.dimension))
	}
	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}
	vecs := make([][]float32, len(texts))
	for _, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= int64(len(texts)) {
			return nil, fmt.Errorf("unexpected embedding index %d for batch size %d", idx, len(texts))
		}
		if len(item.Embedding) != c.dimension {
			return nil, fmt.Errorf("embedding %d has %d values, expected %d", idx, len(item.Embedding), c.dimension)
		}
		vecs[idx] = toFloat32(item.Embedding)
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return vecs, nil
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
