package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gapwatch/internal/alerting"
	"gapwatch/internal/config"
	"gapwatch/internal/fetcher"
	"gapwatch/internal/kalshi"
	"gapwatch/internal/monitor"
	"gapwatch/internal/scheduler"
	"gapwatch/internal/state"
	"gapwatch/internal/storage"
	"gapwatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// runtime bundles the wired monitor and whatever must be closed afterwards.
type runtime struct {
	monitor *monitor.Monitor
	kalshi  *kalshi.Client
	state   *state.Store
	store   *storage.Store
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// newKalshiClient builds the trade API client. An unusable key fails only when
// requireCredential is set; otherwise it is logged and signed endpoints stay disabled.
func (a *App) newKalshiClient(requireCredential bool) (*kalshi.Client, error) {
	cfg := a.Config.Kalshi

	var cred *kalshi.Credential
	if a.Config.HasCredentials() {
		loaded, err := kalshi.LoadCredential(cfg.APIKeyID, cfg.PrivateKeyPath, cfg.PrivateKeyPEM)
		switch {
		case err == nil:
			cred = loaded
		case requireCredential:
			return nil, err
		default:
			a.Logger.Error().Err(err).Msg("kalshi credential unusable; signed endpoints disabled")
		}
	} else {
		a.Logger.Warn().Msg("kalshi credentials not configured; signed endpoints disabled")
	}

	return kalshi.NewClient(kalshi.Options{
		BaseURL:             cfg.BaseURL,
		Timeout:             cfg.RequestTimeout,
		UserAgent:           version.UserAgent(),
		CalibrationInterval: cfg.CalibrationInterval,
	}, cred, a.Logger)
}

// newEventReader wraps the client with the Redis cache when redis.url is set.
func (a *App) newEventReader(client *kalshi.Client) (kalshi.EventReader, func(), error) {
	if a.Config.Redis.URL == "" {
		return client, nil, nil
	}

	opt, err := redis.ParseURL(a.Config.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	a.Logger.Info().Str("addr", opt.Addr).Dur("ttl", a.Config.Redis.TTL).Msg("redis event cache enabled")
	return kalshi.NewCachedEvents(client, rdb, a.Config.Redis.TTL, a.Logger), func() { _ = rdb.Close() }, nil
}

func (a *App) newSpotChain() *fetcher.Chain {
	cfg := a.Config.Spot
	ua := cfg.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}

	sources := make([]fetcher.NamedFetcher, 0, len(cfg.Sources))
	for _, name := range cfg.Sources {
		switch name {
		case "binance":
			sources = append(sources, fetcher.NamedFetcher{Name: name, Fetcher: fetcher.NewBinance(fetcher.BinanceOptions{
				BaseURL:   cfg.BinanceURL,
				Symbol:    cfg.BinanceSymbol,
				Timeout:   cfg.RequestTimeout,
				UserAgent: ua,
			}, a.Logger)})
		case "coinbase":
			sources = append(sources, fetcher.NamedFetcher{Name: name, Fetcher: fetcher.NewCoinbase(fetcher.CoinbaseOptions{
				BaseURL:   cfg.CoinbaseURL,
				Product:   cfg.CoinbaseProduct,
				Timeout:   cfg.RequestTimeout,
				UserAgent: ua,
			}, a.Logger)})
		}
	}
	return fetcher.NewChain(a.Logger, sources...)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) newStateStore() *state.Store {
	return state.NewStore(a.Config.State.Path, a.Logger)
}

// wire builds the monitor and its collaborators. broadcaster may be nil.
func (a *App) wire(ctx context.Context, broadcaster monitor.Broadcaster) (*runtime, error) {
	rt := &runtime{state: a.newStateStore()}

	client, err := a.newKalshiClient(false)
	if err != nil {
		return nil, err
	}
	rt.kalshi = client

	events, closeEvents, err := a.newEventReader(client)
	if err != nil {
		return nil, err
	}
	if closeEvents != nil {
		rt.closers = append(rt.closers, closeEvents)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if store == nil {
		a.Logger.Info().Msg("database.dsn not configured; postgres mirror disabled")
	} else {
		rt.store = store
		rt.closers = append(rt.closers, closeStore)
	}

	deps := monitor.Deps{
		Spot:        a.newSpotChain(),
		Events:      events,
		State:       rt.state,
		Notifier:    a.newNotifier(),
		Broadcaster: broadcaster,
	}
	if store != nil {
		deps.Gaps = store
		deps.Alerts = store
	}

	mon, err := monitor.New(a.monitorOptions(), deps, a.Logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.monitor = mon
	return rt, nil
}

func (a *App) monitorOptions() monitor.Options {
	cfg := a.Config.Monitor
	return monitor.Options{
		SeriesTicker:  a.Config.Kalshi.SeriesTicker,
		Threshold:     decimal.NewFromFloat(cfg.ThresholdUSD),
		HistoryWindow: cfg.HistoryWindow,
		MaxGaps:       cfg.MaxGaps,
		AlertCooldown: cfg.AlertCooldown,
		AlertsEnabled: a.Config.Alerting.Enabled,
		Channels:      a.Config.Alerting.Channels,
	}
}

// Run polls on the scheduler cadence until interrupted. With a database configured only the
// holder of the advisory lock polls.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.wire(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	sched, err := scheduler.New(a.schedulerOptions(), a.Logger)
	if err != nil {
		return err
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting gap monitor")
	err = sched.Run(ctx, a.pollTick(rt))
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitor terminated with error")
		return err
	}

	a.Logger.Info().Msg("gap monitor stopped")
	return nil
}

func (a *App) schedulerOptions() scheduler.Options {
	return scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		Immediate:    true,
	}
}

// pollTick runs one cycle, skipping it when another instance holds the advisory lock.
func (a *App) pollTick(rt *runtime) scheduler.TickFunc {
	lockKey := a.Config.Scheduler.AdvisoryLockKey
	return func(ctx context.Context, at time.Time) error {
		if rt.store != nil && lockKey != 0 {
			unlock, acquired, err := rt.store.TryAdvisoryLock(ctx, lockKey)
			if err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !acquired {
				a.Logger.Debug().Time("tick", at).Msg("skip tick because advisory lock held elsewhere")
				return nil
			}
			defer unlock()
		}

		status, err := rt.monitor.Poll(ctx)
		if err != nil {
			return err
		}
		event := a.Logger.Info().Time("tick", at).Str("reference", status.Reference.Price.String())
		if status.Gap.USD != nil {
			event = event.Str("gap", status.Gap.USD.String()).Str("direction", *status.Gap.Direction).Bool("opportunity", status.Gap.IsOpportunity)
		}
		event.Msg("poll complete")
		return nil
	}
}

// ExportOptions hold parameters for exporting gap history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
	Source    string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Source string
}

// BackfillOptions configure copying state file history into postgres.
type BackfillOptions struct {
	From   *time.Time
	To     *time.Time
	DryRun bool
}
