package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	predictTicker  string
	predictProb    float64
	predictNotes   string
	predictOutcome int
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Record and resolve probability forecasts",
}

var predictLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Log a forecast (probability 0-100)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if predictTicker == "" {
			return errors.New("--ticker is required")
		}
		if !cmd.Flags().Changed("prob") {
			return errors.New("--prob is required")
		}
		return getApp().PredictLog(cmd.Context(), cmd.OutOrStdout(), predictTicker, predictProb, predictNotes)
	},
}

var predictResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the newest open forecast for a market",
	RunE: func(cmd *cobra.Command, args []string) error {
		if predictTicker == "" {
			return errors.New("--ticker is required")
		}
		if predictOutcome != 0 && predictOutcome != 1 {
			return fmt.Errorf("--outcome must be 0 or 1, got %d", predictOutcome)
		}
		return getApp().PredictResolve(cmd.Context(), cmd.OutOrStdout(), predictTicker, predictOutcome)
	},
}

func init() {
	predictCmd.PersistentFlags().StringVar(&predictTicker, "ticker", "", "Kalshi market ticker")

	predictLogCmd.Flags().Float64Var(&predictProb, "prob", 0, "Predicted YES probability on the 0-100 scale")
	predictLogCmd.Flags().StringVar(&predictNotes, "notes", "", "Free-form notes")

	predictResolveCmd.Flags().IntVar(&predictOutcome, "outcome", 0, "Outcome: 1 for YES, 0 for NO")
	_ = predictResolveCmd.MarkFlagRequired("outcome")

	predictCmd.AddCommand(predictLogCmd)
	predictCmd.AddCommand(predictResolveCmd)
}
