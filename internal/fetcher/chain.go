package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"gapwatch/internal/metrics"
)

// NamedFetcher labels a fetcher for logging and metrics.
type NamedFetcher struct {
	Name    string
	Fetcher SpotPriceFetcher
}

// Chain tries each source in order and returns the first success.
type Chain struct {
	sources []NamedFetcher
	logger  zerolog.Logger
}

// NewChain builds a fallback chain.
func NewChain(logger zerolog.Logger, sources ...NamedFetcher) *Chain {
	return &Chain{
		sources: sources,
		logger:  logger.With().Str("component", "spot_chain").Logger(),
	}
}

// FetchSpot returns the first successful quote; the joined error when every source fails.
func (c *Chain) FetchSpot(ctx context.Context) (SpotQuote, error) {
	if len(c.sources) == 0 {
		return SpotQuote{}, &UpstreamError{Source: "spot", Err: errors.New("no spot sources configured")}
	}

	var errs []error
	for _, src := range c.sources {
		start := time.Now()
		quote, err := src.Fetcher.FetchSpot(ctx)
		metrics.SpotFetchDuration.WithLabelValues(src.Name).Observe(time.Since(start).Seconds())
		if err == nil {
			return quote, nil
		}
		c.logger.Warn().Err(err).Str("source", src.Name).Msg("spot source failed")
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return SpotQuote{}, errors.Join(errs...)
}

var _ SpotPriceFetcher = (*Chain)(nil)
