package cli

import (
	"github.com/spf13/cobra"
)

var pollRecord bool

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Evaluate the current gap once and print it as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Poll(cmd.Context(), cmd.OutOrStdout(), pollRecord)
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print the portfolio balance (signed request)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Balance(cmd.Context(), cmd.OutOrStdout())
	},
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Measure the clock offset against the exchange",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Calibrate(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	pollCmd.Flags().BoolVar(&pollRecord, "record", false, "Append the observation to history and alert like a scheduled poll")
}
