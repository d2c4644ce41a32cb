package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"gapwatch/internal/scheduler"
	"gapwatch/internal/server"
)

// ServeOptions configure the serve command.
type ServeOptions struct {
	// Poll also runs the scheduled poll loop inside the server process.
	Poll bool
}

// Serve exposes the gap API until interrupted.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub := server.NewHub(a.Logger)
	go hub.Run(ctx)

	rt, err := a.wire(ctx, hub)
	if err != nil {
		return err
	}
	defer rt.Close()

	if opts.Poll {
		sched, err := scheduler.New(a.schedulerOptions(), a.Logger)
		if err != nil {
			return err
		}
		go func() {
			if err := sched.Run(ctx, a.pollTick(rt)); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Msg("poll loop stopped")
			}
		}()
	}

	cfg := a.Config.Server
	srv := server.New(server.Options{
		Addr:            cfg.Addr,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		RequestTimeout:  a.Config.Kalshi.RequestTimeout + a.Config.Spot.RequestTimeout,
	}, rt.monitor, hub, a.Logger)

	return srv.ListenAndServe(ctx)
}
