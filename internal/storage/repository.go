package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"gapwatch/internal/state"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `
    CREATE TABLE IF NOT EXISTS gap_observations (
        id              BIGSERIAL PRIMARY KEY,
        observed_at     TIMESTAMPTZ NOT NULL UNIQUE,
        reference_price NUMERIC(20,8) NOT NULL,
        implied_price   NUMERIC(20,8) NOT NULL,
        gap_usd         NUMERIC(20,8) NOT NULL,
        direction       TEXT NOT NULL,
        is_opportunity  BOOLEAN NOT NULL DEFAULT FALSE,
        event_ticker    TEXT,
        market_ticker   TEXT,
        created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    CREATE TABLE IF NOT EXISTS alerts (
        id            BIGSERIAL PRIMARY KEY,
        observed_at   TIMESTAMPTZ NOT NULL UNIQUE,
        event_ticker  TEXT,
        gap_usd       NUMERIC(20,8) NOT NULL,
        threshold_usd NUMERIC(20,8) NOT NULL,
        direction     TEXT NOT NULL,
        channels      TEXT[] NOT NULL DEFAULT '{}',
        created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`

	insertGapSQL = `INSERT INTO gap_observations (
        observed_at,
        reference_price,
        implied_price,
        gap_usd,
        direction,
        is_opportunity,
        event_ticker,
        market_ticker
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (observed_at) DO NOTHING;`

	gapColumns = `observed_at,
        reference_price::text,
        implied_price::text,
        gap_usd::text,
        direction,
        is_opportunity,
        event_ticker,
        market_ticker`

	listGapsBetweenSQL = `SELECT ` + gapColumns + `
    FROM gap_observations
    WHERE observed_at >= $1
      AND observed_at < $2
    ORDER BY observed_at;`

	listRecentGapsSQL = `SELECT ` + gapColumns + `
    FROM gap_observations
    ORDER BY observed_at DESC
    LIMIT $1;`

	countGapsSQL = `SELECT COUNT(*) FROM gap_observations;`

	insertAlertSQL = `INSERT INTO alerts (
        observed_at,
        event_ticker,
        gap_usd,
        threshold_usd,
        direction,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (observed_at) DO UPDATE
    SET gap_usd       = EXCLUDED.gap_usd,
        threshold_usd = EXCLUDED.threshold_usd,
        direction     = EXCLUDED.direction,
        channels      = EXCLUDED.channels
    RETURNING id, observed_at, event_ticker, gap_usd::text, threshold_usd::text, direction, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        observed_at,
        event_ticker,
        gap_usd::text,
        threshold_usd::text,
        direction,
        channels,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// GapStore mirrors gap observations into PostgreSQL.
type GapStore interface {
	InsertGap(ctx context.Context, gap state.GapObservation) error
	ListGapsBetween(ctx context.Context, from, to time.Time) ([]state.GapObservation, error)
	ListRecentGaps(ctx context.Context, limit int) ([]state.GapObservation, error)
	CountGaps(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to gap observations and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// 解锁失败时连接归还后会话结束, 锁随之释放
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertGap mirrors one observation; duplicates by timestamp are ignored.
func (s *Store) InsertGap(ctx context.Context, gap state.GapObservation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertGapSQL,
		gap.Timestamp,
		gap.ReferencePrice.String(),
		gap.ImpliedPrice.String(),
		gap.GapUSD.String(),
		gap.Direction,
		gap.IsOpportunity,
		nullString(gap.EventTicker),
		nullString(gap.MarketTicker),
	)
	if execErr != nil {
		return fmt.Errorf("insert gap observation: %w", execErr)
	}
	return nil
}

// ListGapsBetween lists observations within [from, to).
func (s *Store) ListGapsBetween(ctx context.Context, from, to time.Time) ([]state.GapObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listGapsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list gaps between: %w", queryErr)
	}
	return collectGaps(rows, 0)
}

// ListRecentGaps lists the most recent observations, newest first.
func (s *Store) ListRecentGaps(ctx context.Context, limit int) ([]state.GapObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentGapsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent gaps: %w", queryErr)
	}
	return collectGaps(rows, limit)
}

// CountGaps counts stored observations.
func (s *Store) CountGaps(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countGapsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count gaps: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.ObservedAt,
		nullString(alert.EventTicker),
		alert.GapUSD.String(),
		alert.ThresholdUSD.String(),
		alert.Direction,
		channels,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func collectGaps(rows pgx.Rows, capacity int) ([]state.GapObservation, error) {
	defer rows.Close()

	gaps := make([]state.GapObservation, 0, capacity)
	for rows.Next() {
		gap, err := scanGap(rows)
		if err != nil {
			return nil, err
		}
		gaps = append(gaps, gap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return gaps, nil
}

func scanGap(row pgx.Row) (state.GapObservation, error) {
	var (
		observedAt   time.Time
		referenceStr string
		impliedStr   string
		gapStr       string
		direction    string
		opportunity  bool
		eventTicker  sql.NullString
		marketTicker sql.NullString
	)

	if err := row.Scan(
		&observedAt,
		&referenceStr,
		&impliedStr,
		&gapStr,
		&direction,
		&opportunity,
		&eventTicker,
		&marketTicker,
	); err != nil {
		return state.GapObservation{}, err
	}

	reference, err := decimal.NewFromString(referenceStr)
	if err != nil {
		return state.GapObservation{}, fmt.Errorf("parse reference price: %w", err)
	}
	implied, err := decimal.NewFromString(impliedStr)
	if err != nil {
		return state.GapObservation{}, fmt.Errorf("parse implied price: %w", err)
	}
	gapUSD, err := decimal.NewFromString(gapStr)
	if err != nil {
		return state.GapObservation{}, fmt.Errorf("parse gap usd: %w", err)
	}

	return state.GapObservation{
		Timestamp:      observedAt.UTC(),
		ReferencePrice: reference,
		ImpliedPrice:   implied,
		GapUSD:         gapUSD,
		Direction:      direction,
		IsOpportunity:  opportunity,
		EventTicker:    eventTicker.String,
		MarketTicker:   marketTicker.String,
	}, nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var rec AlertRecord
	var eventTicker sql.NullString
	var gapStr, thresholdStr string
	if err := row.Scan(
		&rec.ID,
		&rec.ObservedAt,
		&eventTicker,
		&gapStr,
		&thresholdStr,
		&rec.Direction,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}
	rec.EventTicker = eventTicker.String

	var convErr error
	rec.GapUSD, convErr = decimal.NewFromString(gapStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse gap usd: %w", convErr)
	}
	rec.ThresholdUSD, convErr = decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold usd: %w", convErr)
	}
	return rec, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ GapStore       = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
