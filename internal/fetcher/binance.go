package fetcher

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const binanceTickerPath = "/api/v3/ticker/price"

// BinanceOptions parameterise the Binance ticker fetcher.
type BinanceOptions struct {
	BaseURL   string
	Symbol    string
	Timeout   time.Duration
	UserAgent string
}

// Binance fetches the last traded price from the public ticker endpoint.
type Binance struct {
	opts    BinanceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewBinance constructs a Binance spot fetcher.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	if opts.Symbol == "" {
		opts.Symbol = "BTCUSDT"
	}

	return &Binance{
		opts:    opts,
		logger:  logger.With().Str("component", "binance_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// FetchSpot retrieves {symbol, price} and parses the price as a decimal.
func (b *Binance) FetchSpot(ctx context.Context) (SpotQuote, error) {
	endpoint := b.baseURL + binanceTickerPath + "?symbol=" + url.QueryEscape(b.opts.Symbol)

	var res binanceTicker
	if err := getJSON(ctx, b.client, "binance", endpoint, b.opts.UserAgent, &res); err != nil {
		return SpotQuote{}, err
	}
	if err := positivePrice("binance", res.Price); err != nil {
		return SpotQuote{}, err
	}

	b.logger.Debug().Str("symbol", b.opts.Symbol).Str("price", res.Price.String()).Msg("spot price fetched")
	return SpotQuote{
		Source:    "binance",
		Symbol:    b.opts.Symbol,
		Price:     res.Price,
		Timestamp: b.now().UTC(),
	}, nil
}

// binanceTicker accepts price as either a JSON string or number.
type binanceTicker struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

var _ SpotPriceFetcher = (*Binance)(nil)
