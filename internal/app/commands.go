package app

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"gapwatch/internal/kalshi"
	"gapwatch/internal/monitor"
)

// Poll runs a single cycle and prints the resulting status as JSON. When record is false the
// cycle is read-only.
func (a *App) Poll(ctx context.Context, out io.Writer, record bool) error {
	rt, err := a.wire(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	var status monitor.GapStatus
	if record {
		status, err = rt.monitor.Poll(ctx)
	} else {
		status, err = rt.monitor.Status(ctx)
	}
	if err != nil {
		return err
	}
	return writeIndented(out, status)
}

// PredictLog appends a forecast to the state file.
func (a *App) PredictLog(ctx context.Context, out io.Writer, ticker string, probability float64, notes string) error {
	mon, err := a.predictionMonitor()
	if err != nil {
		return err
	}

	doc, err := mon.LogPrediction(ctx, ticker, probability, notes)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "logged prediction for %s at %.1f%% (%d total)\n", ticker, probability, len(doc.Predictions))
	return nil
}

// PredictResolve resolves the newest open forecast for ticker.
func (a *App) PredictResolve(ctx context.Context, out io.Writer, ticker string, outcome int) error {
	mon, err := a.predictionMonitor()
	if err != nil {
		return err
	}

	doc, n, err := mon.ResolvePrediction(ctx, ticker, outcome)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintf(out, "no unresolved prediction for %s\n", ticker)
		return nil
	}

	brier := "n/a"
	if score := monitor.BrierScore(doc.Predictions); score != nil {
		brier = fmt.Sprintf("%.4f", *score)
	}
	fmt.Fprintf(out, "resolved %s -> %d (brier %s over %d resolved)\n", ticker, outcome, brier, doc.ResolvedCount())
	return nil
}

// Balance prints the portfolio balance using a signed request.
func (a *App) Balance(ctx context.Context, out io.Writer) error {
	client, err := a.newKalshiClient(true)
	if err != nil {
		return err
	}
	if !client.HasCredential() {
		return &kalshi.CredentialError{Reason: "kalshi.api_key_id and a private key are required"}
	}

	balance, err := client.GetBalance(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "balance: $%s (clock offset %ds)\n", balance.StringFixed(2), client.Clock().Offset())
	return nil
}

// Calibrate forces a clock calibration against the exchange and prints the offset.
func (a *App) Calibrate(ctx context.Context, out io.Writer) error {
	client, err := a.newKalshiClient(false)
	if err != nil {
		return err
	}

	offset, err := client.Clock().Calibrate(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "clock offset: %ds (exchange minus local)\n", offset)
	return nil
}

// predictionMonitor touches only the state file; no exchange or database is contacted.
func (a *App) predictionMonitor() (*monitor.Monitor, error) {
	return monitor.New(a.monitorOptions(), monitor.Deps{
		Spot:  a.newSpotChain(),
		State: a.newStateStore(),
	}, a.Logger)
}

func writeIndented(out io.Writer, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(payload))
	return err
}
