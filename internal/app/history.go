package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gapwatch/internal/state"
)

// History sources for show/export.
const (
	SourceState = "state"
	SourceDB    = "db"
)

// loadGaps reads observations in [from, to) from the state file or the postgres mirror.
func (a *App) loadGaps(ctx context.Context, source string, from, to time.Time) ([]state.GapObservation, error) {
	switch source {
	case "", SourceState:
		doc, err := a.newStateStore().Load()
		if err != nil {
			return nil, err
		}
		out := make([]state.GapObservation, 0, len(doc.GapsDetected))
		for _, g := range doc.GapsDetected {
			if !g.Timestamp.Before(from) && g.Timestamp.Before(to) {
				out = append(out, g)
			}
		}
		return out, nil

	case SourceDB:
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return nil, err
		}
		if store == nil {
			return nil, errors.New("database not configured; use --source state")
		}
		defer closeStore()
		return store.ListGapsBetween(ctx, from, to)

	default:
		return nil, fmt.Errorf("unknown source %q (want %s or %s)", source, SourceState, SourceDB)
	}
}

// latestGaps returns up to limit observations, newest first.
func (a *App) latestGaps(ctx context.Context, source string, limit int) ([]state.GapObservation, error) {
	if source == SourceDB {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return nil, err
		}
		if store == nil {
			return nil, errors.New("database not configured; use --source state")
		}
		defer closeStore()
		return store.ListRecentGaps(ctx, limit)
	}

	gaps, err := a.loadGaps(ctx, source, time.Time{}, time.Now().UTC().Add(time.Second))
	if err != nil {
		return nil, err
	}
	out := make([]state.GapObservation, 0, limit)
	for i := len(gaps) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, gaps[i])
	}
	return out, nil
}
