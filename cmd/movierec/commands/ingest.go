package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ingestSource string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Rebuild the corpus from the CSV catalogue",
	Long: `Read the catalogue, encode every title and replace the stored corpus.

The previous corpus is deleted before the new one is written. If writing
fails part way, the corpus is left partial and the command exits non-zero.

Example:
  movierec ingest --source netflix_titles.csv -v`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		source := ingestSource
		if source == "" {
			source = appConfig.Corpus.Source
		}

		enc, err := newEncoder(ctx, appConfig)
		if err != nil {
			return err
		}
		st, err := openStore(ctx, appConfig)
		if err != nil {
			return err
		}
		defer st.Close()

		report, err := runIngest(ctx, appConfig, enc, st, source)
		fmt.Fprintf(cmd.OutOrStdout(), "rows=%d written=%d failed=%d generation=%s took=%s\n",
			report.Rows, report.Written, report.Failed, report.Generation, report.Duration)
		return err
	},
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestSource, "source", "s", "", "CSV catalogue (default: corpus.source from config)")
	rootCmd.AddCommand(ingestCmd)
}
