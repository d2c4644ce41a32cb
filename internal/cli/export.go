package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gapwatch/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
	exportSource    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export gap history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
			Source:    exportSource,
		}

		from, to, err := parseWindow(exportFrom, exportTo)
		if err != nil {
			return err
		}
		opts.From, opts.To = from, to

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
	exportCmd.Flags().StringVar(&exportSource, "source", app.SourceState, "History source: state or db")
}

// parseWindow parses optional RFC3339 bounds.
func parseWindow(fromRaw, toRaw string) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if fromRaw != "" {
		t, err := time.Parse(time.RFC3339, fromRaw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --from value: %w", err)
		}
		from = &t
	}
	if toRaw != "" {
		t, err := time.Parse(time.RFC3339, toRaw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --to value: %w", err)
		}
		to = &t
	}
	if from != nil && to != nil && !from.Before(*to) {
		return nil, nil, fmt.Errorf("--from must be before --to")
	}
	return from, to, nil
}
