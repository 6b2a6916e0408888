package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"movierec/internal/domain"
)

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of records in the corpus",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout(appConfig))
		defer cancel()

		st, err := openStore(ctx, appConfig)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.Count(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, n)
		if info, err := st.Info(ctx); err == nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "corpus %s, encoder %s (dim %d), generation %s, built %s\n",
				info.Name, info.EncoderModel, info.Dimension, info.Generation, info.CreatedAt.Format("2006-01-02 15:04:05"))
		} else if !errors.Is(err, domain.ErrCorpusNotFound) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(countCmd)
}
