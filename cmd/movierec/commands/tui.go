package commands

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"movierec/internal/textnorm"
	"movierec/internal/tui"
)

var tuiIngest bool

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive terminal recommender",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		enc, st, err := openCorpus(ctx, appConfig, tuiIngest)
		if err != nil {
			return err
		}
		defer st.Close()

		info, err := st.Info(ctx)
		if err != nil {
			return err
		}
		norm, err := textnorm.New(appConfig.Ingest.Language)
		if err != nil {
			return err
		}
		summary := fmt.Sprintf("%s: %d titles, encoder %s", info.Name, info.Count, info.EncoderModel)

		m := tui.New(newRecommender(enc, st, appConfig), norm, summary, appConfig.Server.DefaultCount)
		_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		return err
	},
}

func init() {
	tuiCmd.Flags().BoolVar(&tuiIngest, "ingest", false, "rebuild the corpus before starting")
	rootCmd.AddCommand(tuiCmd)
}
