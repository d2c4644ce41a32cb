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

// CoinbaseOptions parameterise the Coinbase spot fetcher.
type CoinbaseOptions struct {
	BaseURL   string
	Product   string
	Timeout   time.Duration
	UserAgent string
}

// Coinbase fetches the spot price from the public v2 prices endpoint.
type Coinbase struct {
	opts    CoinbaseOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewCoinbase constructs a Coinbase spot fetcher.
func NewCoinbase(opts CoinbaseOptions, logger zerolog.Logger) *Coinbase {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coinbase.com"
	}
	if opts.Product == "" {
		opts.Product = "BTC-USD"
	}

	return &Coinbase{
		opts:    opts,
		logger:  logger.With().Str("component", "coinbase_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// FetchSpot retrieves {data:{amount}} for the configured product.
func (c *Coinbase) FetchSpot(ctx context.Context) (SpotQuote, error) {
	endpoint := c.baseURL + "/v2/prices/" + url.PathEscape(c.opts.Product) + "/spot"

	var res coinbaseSpot
	if err := getJSON(ctx, c.client, "coinbase", endpoint, c.opts.UserAgent, &res); err != nil {
		return SpotQuote{}, err
	}
	if err := positivePrice("coinbase", res.Data.Amount); err != nil {
		return SpotQuote{}, err
	}

	c.logger.Debug().Str("product", c.opts.Product).Str("price", res.Data.Amount.String()).Msg("spot price fetched")
	return SpotQuote{
		Source:    "coinbase",
		Symbol:    c.opts.Product,
		Price:     res.Data.Amount,
		Timestamp: c.now().UTC(),
	}, nil
}

type coinbaseSpot struct {
	Data struct {
		Amount   decimal.Decimal `json:"amount"`
		Base     string          `json:"base"`
		Currency string          `json:"currency"`
	} `json:"data"`
}

var _ SpotPriceFetcher = (*Coinbase)(nil)
