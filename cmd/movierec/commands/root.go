package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"movierec/internal/config"
	"movierec/internal/logging"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	// loaded in PersistentPreRunE
	appConfig *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "movierec",
	Short: "Semantic movie recommendations from a CSV catalogue",
	Long: `movierec - content-based movie recommendations.

Titles are indexed by a feature string built from selected catalogue columns
(description, cast, title, director by default), encoded into vectors and
ranked by cosine similarity against a free-text description.

Configuration is read from --config, ./config.yaml or
~/.config/movierec/config.yaml (created with defaults on first use).
Credentials may be set in the environment or a .env file:
  MOVIEREC_QDRANT_API_KEY, MOVIEREC_ELASTIC_USERNAME,
  MOVIEREC_ELASTIC_PASSWORD, MOVIEREC_OPENAI_API_KEY

Examples:
  movierec ingest --source netflix_titles.csv
  movierec recommend "space cowboys" -n 5
  movierec serve`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and ingestion progress")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	var (
		cfg  *config.AppConfig
		path string
		err  error
	)
	if cfgPath == "" {
		cfg, path, err = config.LoadDefault()
	} else {
		path = cfgPath
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logging.Init(logging.Config{Level: level, Format: cfg.Logging.Format})
	log := logging.Logger()
	log.Debug().Str("config", path).Str("command", cmd.Name()).Msg("config loaded")

	appConfig = cfg
	return nil
}
