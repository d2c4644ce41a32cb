package app

import (
	"context"
	"errors"
	"time"
)

// Backfill copies gap observations from the state file into the postgres mirror.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) (int, error) {
	from := time.Time{}
	if opts.From != nil {
		from = opts.From.UTC()
	}
	to := time.Now().UTC().Add(time.Second)
	if opts.To != nil {
		to = opts.To.UTC()
	}
	if !from.Before(to) {
		return 0, errors.New("回填范围为空，请检查 --from/--to")
	}

	gaps, err := a.loadGaps(ctx, SourceState, from, to)
	if err != nil {
		return 0, err
	}
	if opts.DryRun {
		a.Logger.Warn().Int("gaps", len(gaps)).Msg("回填 dry-run：不会写入数据库")
		return len(gaps), nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return 0, err
	}
	if store == nil {
		return 0, errors.New("database.dsn 未配置，无法回填")
	}
	defer closeStore()

	written := 0
	for _, g := range gaps {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := store.InsertGap(ctx, g); err != nil {
			return written, err
		}
		written++
	}

	a.Logger.Info().Int("gaps", written).Msg("回填完成")
	return written, nil
}
