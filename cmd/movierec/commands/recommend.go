package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"movierec/internal/service"
)

var (
	recommendCount int
	recommendJSON  bool
	recommendLike  int64
)

var recommendCmd = &cobra.Command{
	Use:   "recommend [description]",
	Short: "Print recommendations for a free-text description",
	Long: `Encode the description and print the most similar titles, best first.

Examples:
  movierec recommend "space cowboys" -n 5
  movierec recommend --like 42 -n 3 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		like := cmd.Flags().Changed("like")
		if like == (len(args) > 0) {
			return fmt.Errorf("give either a description or --like, not both or neither")
		}
		enc, st, err := openCorpus(cmd.Context(), appConfig, false)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout(appConfig))
		defer cancel()

		rec := newRecommender(enc, st, appConfig)
		k := recommendCount
		if k == 0 {
			k = appConfig.Server.DefaultCount
		}
		var recs []service.Recommendation
		if like {
			recs, err = rec.Similar(ctx, recommendLike, k)
		} else {
			recs, err = rec.Recommend(ctx, strings.Join(args, " "), k)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if recommendJSON {
			je := json.NewEncoder(out)
			je.SetIndent("", "  ")
			return je.Encode(recs)
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tSCORE\tTITLE\tYEAR\tTYPE\tDIRECTOR")
		for _, r := range recs {
			fmt.Fprintf(tw, "%d\t%.4f\t%s\t%d\t%s\t%s\n",
				r.Rank, r.Score, r.Metadata.Title, r.Metadata.ReleaseYear, r.Metadata.Type, r.Metadata.Director)
		}
		return tw.Flush()
	},
}

func init() {
	recommendCmd.Flags().IntVarP(&recommendCount, "count", "n", 0, "number of recommendations (default: server.default_count)")
	recommendCmd.Flags().BoolVar(&recommendJSON, "json", false, "print JSON")
	recommendCmd.Flags().Int64Var(&recommendLike, "like", 0, "recommend titles similar to the stored record with this id")
	rootCmd.AddCommand(recommendCmd)
}
