package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"movierec/internal/api"
	"movierec/internal/domain"
)

var (
	serveAddr   string
	serveIngest bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP recommendation API",
	Long: `Serve recommendations over HTTP.

Endpoints:
  GET /recommend/{feature}[/{count}]  titles similar to a free-text description
  GET /similar/{id}[/{count}]         titles similar to a stored title
  GET /healthz                        store reachability and corpus tag
  GET /metrics                        Prometheus metrics

With the memory store the corpus is ingested at startup.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		enc, st, err := openCorpus(ctx, appConfig, serveIngest)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := warnOnMissingCorpus(cmd, st); err != nil {
			return err
		}

		sc := appConfig.Server
		addr := sc.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		srv := api.NewServer(newRecommender(enc, st, appConfig), st, api.Config{
			DefaultCount: sc.DefaultCount,
			MaxCount:     sc.MaxCount,
			RateLimit:    sc.RateLimit,
			QueryTimeout: queryTimeout(appConfig),
		})
		return srv.ListenAndServe(ctx, api.ListenConfig{
			Addr:         addr,
			ReadTimeout:  secs(sc.ReadTimeoutSecs),
			WriteTimeout: secs(sc.WriteTimeoutSecs),
		})
	},
}

// warnOnMissingCorpus lets the server start without a corpus; queries answer
// 503 until one is ingested.
func warnOnMissingCorpus(cmd *cobra.Command, st domain.CorpusStore) error {
	info, err := st.Info(cmd.Context())
	if err != nil {
		if errors.Is(err, domain.ErrCorpusNotFound) {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: no corpus found, run 'movierec ingest' first")
			return nil
		}
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "corpus %s: %d records, encoder %s, generation %s\n",
		info.Name, info.Count, info.EncoderModel, info.Generation)
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr from config)")
	serveCmd.Flags().BoolVar(&serveIngest, "ingest", false, "rebuild the corpus before serving")
	rootCmd.AddCommand(serveCmd)
}
