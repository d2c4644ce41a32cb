package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gapwatch/internal/app"
)

var (
	backfillFrom   string
	backfillTo     string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Copy state file gap history into postgres",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := parseWindow(backfillFrom, backfillTo)
		if err != nil {
			return err
		}

		n, err := getApp().Backfill(cmd.Context(), app.BackfillOptions{
			From:   from,
			To:     to,
			DryRun: backfillDryRun,
		})
		if err != nil {
			return err
		}
		verb := "copied"
		if backfillDryRun {
			verb = "would copy"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d gap observations\n", verb, n)
		return nil
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "End timestamp (RFC3339, exclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Count without writing to storage")
}
