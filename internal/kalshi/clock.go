package kalshi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gapwatch/internal/metrics"
)

// ErrCalibration wraps every clock calibration failure. It is logged, never returned
// from signing paths.
var ErrCalibration = errors.New("kalshi: clock calibration failed")

const (
	defaultCalibrationInterval = 5 * time.Minute
	// uncalibratedRetry spaces attempts until the first calibration succeeds.
	uncalibratedRetry = 10 * time.Second
)

// Clock tracks the offset between the exchange clock and the local clock.
//
// Offset reads are lock-free; refreshes are serialized so concurrent signers inside
// the same window share a single status request.
type Clock struct {
	client    *http.Client
	statusURL string
	interval  time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	mu          sync.Mutex
	offset      atomic.Int64
	lastAttempt atomic.Int64
	calibrated  atomic.Bool
}

// ClockOptions configure a Clock.
type ClockOptions struct {
	StatusURL string
	Interval  time.Duration
	Client    *http.Client
	Now       func() time.Time
}

// NewClock builds a calibrator against the given status endpoint.
func NewClock(opts ClockOptions, logger zerolog.Logger) *Clock {
	if opts.Interval <= 0 {
		opts.Interval = defaultCalibrationInterval
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Clock{
		client:    opts.Client,
		statusURL: opts.StatusURL,
		interval:  opts.Interval,
		now:       opts.Now,
		logger:    logger.With().Str("component", "kalshi_clock").Logger(),
	}
}

// Offset returns the last known exchange-minus-local offset in seconds (0 if never calibrated).
func (c *Clock) Offset() int64 {
	return c.offset.Load()
}

// Calibrated reports whether any calibration has succeeded.
func (c *Clock) Calibrated() bool {
	return c.calibrated.Load()
}

// Ensure recalibrates when the last success is older than the interval, or when no
// calibration has succeeded yet, and returns the best available offset. Until the first
// success attempts are spaced by a short retry delay. Failures are logged and swallowed.
func (c *Clock) Ensure(ctx context.Context) int64 {
	if !c.stale() {
		return c.Offset()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// another caller may have refreshed while we waited
	if !c.stale() {
		return c.Offset()
	}

	if _, err := c.calibrateLocked(ctx); err != nil {
		c.logger.Warn().Err(err).Int64("offset_s", c.Offset()).Msg("clock calibration failed; keeping previous offset")
	}
	return c.Offset()
}

// Calibrate forces a calibration regardless of the interval.
func (c *Clock) Calibrate(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calibrateLocked(ctx)
}

// Timestamp returns the signing timestamp in milliseconds, calibrating first if due.
func (c *Clock) Timestamp(ctx context.Context) int64 {
	offset := c.Ensure(ctx)
	return TimestampMillis(c.now(), offset)
}

func (c *Clock) stale() bool {
	last := c.lastAttempt.Load()
	if last == 0 {
		return true
	}
	window := c.interval
	if !c.calibrated.Load() && uncalibratedRetry < window {
		window = uncalibratedRetry
	}
	return c.now().Sub(time.Unix(0, last)) > window
}

func (c *Clock) calibrateLocked(ctx context.Context) (int64, error) {
	c.lastAttempt.Store(c.now().UnixNano())

	offset, err := c.fetchOffset(ctx)
	if err != nil {
		metrics.ClockCalibrationsTotal.WithLabelValues("failure").Inc()
		return c.Offset(), err
	}

	c.offset.Store(offset)
	c.calibrated.Store(true)
	metrics.ClockCalibrationsTotal.WithLabelValues("success").Inc()
	metrics.ClockOffsetSeconds.Set(float64(offset))
	c.logger.Debug().Int64("offset_s", offset).Msg("clock calibrated")
	return offset, nil
}

func (c *Clock) fetchOffset(ctx context.Context) (int64, error) {
	if c.statusURL == "" {
		return 0, fmt.Errorf("%w: status url not configured", ErrCalibration)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCalibration, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCalibration, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	local := c.now()

	dateHeader := resp.Header.Get("Date")
	if dateHeader == "" {
		return 0, fmt.Errorf("%w: response has no Date header", ErrCalibration)
	}
	server, err := http.ParseTime(dateHeader)
	if err != nil {
		return 0, fmt.Errorf("%w: parse Date header: %v", ErrCalibration, err)
	}

	return OffsetSeconds(server, local), nil
}

// OffsetSeconds returns round((server_ms - local_ms) / 1000).
func OffsetSeconds(server, local time.Time) int64 {
	diff := server.UnixMilli() - local.UnixMilli()
	return int64(math.Round(float64(diff) / 1000))
}
