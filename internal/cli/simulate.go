package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateReference float64
	simulateImplied   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价差并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateReference <= 0 || simulateImplied <= 0 {
			return errors.New("--reference 与 --implied 必须大于 0")
		}

		reference := decimal.NewFromFloat(simulateReference)
		implied := decimal.NewFromFloat(simulateImplied)
		return getApp().SimulateAlert(cmd.Context(), reference, implied)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateReference, "reference", 0, "现货参考价 (USD)")
	simulateCmd.Flags().Float64Var(&simulateImplied, "implied", 0, "Kalshi 隐含价 (USD)")
}
