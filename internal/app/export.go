package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"gapwatch/internal/state"
)

// Export renders gap history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-a.Config.Monitor.HistoryWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	gaps, err := a.loadGaps(ctx, opts.Source, from, to)
	if err != nil {
		return err
	}
	if len(gaps) == 0 {
		a.Logger.Info().Msg("no gaps found for export window")
		return nil
	}

	downsampled := downsampleGaps(gaps, opts.MaxPoints)
	a.Logger.Info().Int("total", len(gaps)).Int("exported", len(downsampled)).Msg("exporting gaps")

	if opts.CSVPath != "" {
		if err := writeGapsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeGapsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleGaps(gaps []state.GapObservation, max int) []state.GapObservation {
	if max <= 0 || len(gaps) <= max {
		return gaps
	}
	if max == 1 {
		return gaps[len(gaps)-1:]
	}

	result := make([]state.GapObservation, 0, max)
	step := float64(len(gaps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(gaps) {
			idx = len(gaps) - 1
		}
		result = append(result, gaps[idx])
	}
	return result
}

func writeGapsCSV(path string, gaps []state.GapObservation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "reference_price", "implied_price", "gap_usd", "direction", "is_opportunity", "event_ticker", "market_ticker"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, g := range gaps {
		record := []string{
			g.Timestamp.UTC().Format(time.RFC3339),
			g.ReferencePrice.String(),
			g.ImpliedPrice.String(),
			g.GapUSD.String(),
			g.Direction,
			strconv.FormatBool(g.IsOpportunity),
			g.EventTicker,
			g.MarketTicker,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeGapsPNG(path string, gaps []state.GapObservation) error {
	if len(gaps) < 2 {
		return errors.New("png export needs at least two observations")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(gaps))
	reference := make([]float64, len(gaps))
	implied := make([]float64, len(gaps))
	gapUSD := make([]float64, len(gaps))

	for i, g := range gaps {
		x[i] = g.Timestamp
		reference[i] = g.ReferencePrice.InexactFloat64()
		implied[i] = g.ImpliedPrice.InexactFloat64()
		gapUSD[i] = g.GapUSD.InexactFloat64()
	}

	usdFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "BTC (USD)",
			ValueFormatter: usdFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Gap (USD)",
			ValueFormatter: usdFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Spot",
				XValues: x,
				YValues: reference,
			},
			chart.TimeSeries{
				Name:    "Implied",
				XValues: x,
				YValues: implied,
			},
			chart.TimeSeries{
				Name:    "Gap",
				XValues: x,
				YValues: gapUSD,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
