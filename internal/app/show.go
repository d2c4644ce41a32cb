package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gapwatch/internal/monitor"
)

// Show prints recent gap observations and the prediction summary.
func (a *App) Show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	gaps, err := a.latestGaps(ctx, opts.Source, opts.Limit)
	if err != nil {
		return err
	}

	if len(gaps) == 0 {
		fmt.Fprintln(out, "no gaps recorded")
	} else {
		writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tSpot\tImplied\tGap\tDir\tOpp\tEvent")
		for _, g := range gaps {
			opp := ""
			if g.IsOpportunity {
				opp = "*"
			}
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				g.Timestamp.UTC().Format(time.RFC3339),
				g.ReferencePrice.StringFixed(2),
				g.ImpliedPrice.StringFixed(2),
				g.GapUSD.StringFixed(2),
				g.Direction,
				opp,
				sanitizeInline(g.EventTicker),
			)
		}
		writer.Flush()
	}

	doc, err := a.newStateStore().Load()
	if err != nil {
		return err
	}
	brier := "n/a"
	if score := monitor.BrierScore(doc.Predictions); score != nil {
		brier = fmt.Sprintf("%.4f", *score)
	}
	fmt.Fprintf(out, "\npredictions: %d total, %d resolved, brier %s\n", len(doc.Predictions), doc.ResolvedCount(), brier)
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
