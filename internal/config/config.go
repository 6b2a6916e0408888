package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables that override credentials from the file. Secrets are
// expected to come from the environment (or a .env file); the file values are
// a fallback for local setups.
const (
	EnvQdrantAPIKey    = "MOVIEREC_QDRANT_API_KEY"
	EnvElasticUsername = "MOVIEREC_ELASTIC_USERNAME"
	EnvElasticPassword = "MOVIEREC_ELASTIC_PASSWORD"
	EnvOpenAIAPIKey    = "MOVIEREC_OPENAI_API_KEY"
)

// CorpusConfig names the corpus and its raw source.
type CorpusConfig struct {
	Name   string `yaml:"name" validate:"required"`
	Source string `yaml:"source"`
}

// OpenAIEncoderConfig holds configuration for the OpenAI-compatible encoder.
type OpenAIEncoderConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	Model          string `yaml:"model" validate:"required"`
	TimeoutSecs    int    `yaml:"timeout_secs" validate:"min=0"`
	BatchSize      int    `yaml:"batch_size" validate:"min=0"`
	MaxRetries     int    `yaml:"max_retries" validate:"min=0,max=10"`
	SendDimensions bool   `yaml:"send_dimensions"`
}

// EncoderConfig selects and configures the text encoder.
type EncoderConfig struct {
	Type      string               `yaml:"type" validate:"required,oneof=hashing openai"`
	Dimension int                  `yaml:"dimension" validate:"required,min=1"`
	OpenAI    *OpenAIEncoderConfig `yaml:"openai,omitempty"`
}

// IngestConfig configures feature construction and the encode stage.
type IngestConfig struct {
	Language      string   `yaml:"language" validate:"omitempty,oneof=english en"`
	FeatureFields []string `yaml:"feature_fields" validate:"required,min=1,dive,required"`
	Lemmatize     []bool   `yaml:"lemmatize"`
	Workers       int      `yaml:"workers" validate:"min=0"`
	BatchSize     int      `yaml:"batch_size" validate:"min=0"`
}

// VectorStoreConfig selects and configures the corpus store.
type VectorStoreConfig struct {
	Type    string         `yaml:"type" validate:"required,oneof=memory badger qdrant elastic"`
	Badger  *BadgerConfig  `yaml:"badger,omitempty"`
	Qdrant  *QdrantConfig  `yaml:"qdrant,omitempty"`
	Elastic *ElasticConfig `yaml:"elastic,omitempty"`
}

// BadgerConfig points at the on-disk badger directory.
type BadgerConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url" validate:"required,url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"min=0"`
	BatchSize   int    `yaml:"batch_size" validate:"min=0"`
}

// ElasticConfig contains connection details for Elasticsearch.
type ElasticConfig struct {
	Addresses []string `yaml:"addresses" validate:"required,min=1,dive,url"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	Index     string   `yaml:"index"`
	BatchSize int      `yaml:"batch_size" validate:"min=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr             string `yaml:"addr" validate:"required"`
	DefaultCount     int    `yaml:"default_count" validate:"min=1"`
	MaxCount         int    `yaml:"max_count" validate:"min=1,gtefield=DefaultCount"`
	RateLimit        int    `yaml:"rate_limit_per_minute" validate:"min=0"`
	ReadTimeoutSecs  int    `yaml:"read_timeout_secs" validate:"min=0"`
	WriteTimeoutSecs int    `yaml:"write_timeout_secs" validate:"min=0"`
}

// QueryConfig configures the recommender.
type QueryConfig struct {
	MismatchPolicy string `yaml:"mismatch_policy" validate:"oneof=reject warn"`
	TimeoutSecs    int    `yaml:"timeout_secs" validate:"min=0"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error disabled"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Corpus      CorpusConfig      `yaml:"corpus"`
	Encoder     EncoderConfig     `yaml:"encoder"`
	Ingest      IngestConfig      `yaml:"ingest"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Server      ServerConfig      `yaml:"server"`
	Query       QueryConfig       `yaml:"query"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Credential environment variables are applied and the result is validated.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnv(cfg)
			return cfg, cfg.Validate()
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/movierec/config.yaml.
// If neither exists, it writes defaults to ~/.config/movierec/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	applyEnv(cfg)
	return cfg, userPath, cfg.Validate()
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

var validate = validator.New()

// Validate checks field constraints and the cross-field rules the tags
// cannot express.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch {
	case c.Encoder.Type == "openai" && c.Encoder.OpenAI == nil:
		return errors.New("invalid config: encoder.openai is required for the openai encoder")
	case c.VectorStore.Type == "badger" && c.VectorStore.Badger == nil:
		return errors.New("invalid config: vector_store.badger is required")
	case c.VectorStore.Type == "qdrant" && c.VectorStore.Qdrant == nil:
		return errors.New("invalid config: vector_store.qdrant is required")
	case c.VectorStore.Type == "elastic" && c.VectorStore.Elastic == nil:
		return errors.New("invalid config: vector_store.elastic is required")
	}
	if len(c.Ingest.Lemmatize) != len(c.Ingest.FeatureFields) {
		return fmt.Errorf("invalid config: ingest.lemmatize has %d flags for %d feature_fields",
			len(c.Ingest.Lemmatize), len(c.Ingest.FeatureFields))
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "movierec", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Corpus:  CorpusConfig{Name: "netflix", Source: "netflix_titles.csv"},
		Encoder: EncoderConfig{Type: "hashing", Dimension: 384},
		Ingest: IngestConfig{
			Language:      "english",
			FeatureFields: []string{"description", "cast", "title", "director"},
			Lemmatize:     []bool{true, false, false, false},
			BatchSize:     64,
		},
		VectorStore: VectorStoreConfig{Type: "badger", Badger: &BadgerConfig{Dir: "data/badger"}},
		Server: ServerConfig{
			Addr:             ":8080",
			DefaultCount:     10,
			MaxCount:         100,
			RateLimit:        120,
			ReadTimeoutSecs:  10,
			WriteTimeoutSecs: 30,
		},
		Query:   QueryConfig{MismatchPolicy: "reject", TimeoutSecs: 10},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Encoder.Type == "openai" && cfg.Encoder.OpenAI != nil {
		if cfg.Encoder.OpenAI.BaseURL == "" {
			cfg.Encoder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Encoder.OpenAI.APIKeyEnv == "" {
			cfg.Encoder.OpenAI.APIKeyEnv = EnvOpenAIAPIKey
		}
		if cfg.Encoder.OpenAI.Model == "" {
			cfg.Encoder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Encoder.OpenAI.TimeoutSecs == 0 {
			cfg.Encoder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Encoder.OpenAI.BatchSize == 0 {
			cfg.Encoder.OpenAI.BatchSize = 32
		}
	}
	if q := cfg.VectorStore.Qdrant; q != nil {
		if q.Collection == "" {
			q.Collection = cfg.Corpus.Name
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 15
		}
	}
	if e := cfg.VectorStore.Elastic; e != nil && e.Index == "" {
		e.Index = cfg.Corpus.Name
	}
	if cfg.Query.MismatchPolicy == "" {
		cfg.Query.MismatchPolicy = "reject"
	}
	cfg.Query.MismatchPolicy = strings.ToLower(cfg.Query.MismatchPolicy)
}

// applyEnv lets the environment override credentials.
func applyEnv(cfg *AppConfig) {
	if q := cfg.VectorStore.Qdrant; q != nil {
		if v, ok := os.LookupEnv(EnvQdrantAPIKey); ok {
			q.APIKey = v
		}
	}
	if e := cfg.VectorStore.Elastic; e != nil {
		if v, ok := os.LookupEnv(EnvElasticUsername); ok {
			e.Username = v
		}
		if v, ok := os.LookupEnv(EnvElasticPassword); ok {
			e.Password = v
		}
	}
}
