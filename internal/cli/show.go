package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gapwatch/internal/app"
)

var (
	showLimit  int
	showSource string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent gap observations and forecast accuracy",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Source: showSource,
		}

		return getApp().Show(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of observations to display")
	showCmd.Flags().StringVar(&showSource, "source", app.SourceState, "History source: state or db")
}
