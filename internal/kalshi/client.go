package kalshi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gapwatch/internal/metrics"
)

const (
	defaultBaseURL   = "https://api.elections.kalshi.com/trade-api/v2"
	exchangeStatus   = "/exchange/status"
	maxErrorBodySize = 4096
)

// ErrUpstream matches transport failures and non-2xx responses from the trade API.
var ErrUpstream = errors.New("kalshi: upstream request failed")

// APIError carries a non-2xx response.
type APIError struct {
	Status int
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("kalshi api error (%d) %s: %s", e.Status, e.Path, e.Body)
	}
	return fmt.Sprintf("kalshi api error (%d) %s", e.Status, e.Path)
}

// Is lets errors.Is(err, ErrUpstream) match.
func (e *APIError) Is(target error) bool { return target == ErrUpstream }

// EventReader is the read-only surface the monitor needs.
type EventReader interface {
	ListEvents(ctx context.Context, q EventsQuery) ([]Event, error)
	GetEvent(ctx context.Context, eventTicker string) (*EventDetail, error)
	ListMarkets(ctx context.Context, q MarketsQuery) ([]Market, error)
}

// Options parameterise the trade API client.
type Options struct {
	BaseURL             string
	Timeout             time.Duration
	UserAgent           string
	CalibrationInterval time.Duration
}

// Client talks to the trade API. Public endpoints work without a credential.
type Client struct {
	baseURL string
	cred    *Credential
	clock   *Clock
	http    *http.Client
	ua      string
	logger  zerolog.Logger
}

// NewClient constructs a client. cred may be nil; signed calls then fail with a CredentialError.
func NewClient(opts Options, cred *Credential, logger zerolog.Logger) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse kalshi base url: %w", err)
	}

	httpClient := &http.Client{Timeout: timeout}
	c := &Client{
		baseURL: baseURL,
		cred:    cred,
		http:    httpClient,
		ua:      opts.UserAgent,
		logger:  logger.With().Str("component", "kalshi_client").Logger(),
	}
	c.clock = NewClock(ClockOptions{
		StatusURL: baseURL + exchangeStatus,
		Interval:  opts.CalibrationInterval,
		Client:    httpClient,
	}, logger)
	return c, nil
}

// Clock exposes the calibrator shared by every signed request.
func (c *Client) Clock() *Clock {
	return c.clock
}

// HasCredential reports whether signed endpoints can be called.
func (c *Client) HasCredential() bool {
	return c.cred.usable() == nil
}

// NewSignedRequest builds an authenticated request. path is relative to the base URL
// and may carry a query string; only the path part is signed.
func (c *Client) NewSignedRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	// credential problems must surface before the clock touches the network
	if err := c.cred.usable(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	ts := c.clock.Timestamp(ctx)
	signed, err := Sign(c.cred, method, req.URL.Path, ts)
	if err != nil {
		return nil, err
	}
	signed.Apply(req.Header)
	return req, nil
}

// ListEvents lists events (public).
func (c *Client) ListEvents(ctx context.Context, q EventsQuery) ([]Event, error) {
	params := url.Values{}
	setIfNotEmpty(params, "series_ticker", q.SeriesTicker)
	setIfNotEmpty(params, "status", q.Status)
	setIfNotEmpty(params, "cursor", q.Cursor)
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var out eventsResponse
	if err := c.call(ctx, http.MethodGet, withQuery("/events", params), nil, false, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// GetEvent fetches an event with its markets (public).
func (c *Client) GetEvent(ctx context.Context, eventTicker string) (*EventDetail, error) {
	if eventTicker == "" {
		return nil, errors.New("event ticker required")
	}
	var out EventDetail
	if err := c.call(ctx, http.MethodGet, "/events/"+url.PathEscape(eventTicker), nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMarkets lists markets (public).
func (c *Client) ListMarkets(ctx context.Context, q MarketsQuery) ([]Market, error) {
	params := url.Values{}
	setIfNotEmpty(params, "event_ticker", q.EventTicker)
	setIfNotEmpty(params, "series_ticker", q.SeriesTicker)
	setIfNotEmpty(params, "status", q.Status)
	setIfNotEmpty(params, "cursor", q.Cursor)
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var out marketsResponse
	if err := c.call(ctx, http.MethodGet, withQuery("/markets", params), nil, false, &out); err != nil {
		return nil, err
	}
	return out.Markets, nil
}

// GetBalance returns the available balance in dollars (signed).
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var out balanceResponse
	if err := c.call(ctx, http.MethodGet, "/portfolio/balance", nil, true, &out); err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.New(out.Balance, -2), nil
}

// CreateOrder submits an order (signed). A client order id is generated when empty.
func (c *Client) CreateOrder(ctx context.Context, order OrderRequest) (*Order, error) {
	if order.Ticker == "" {
		return nil, errors.New("order ticker required")
	}
	if order.Count <= 0 {
		return nil, errors.New("order count must be positive")
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = uuid.NewString()
	}
	if order.Type == "" {
		order.Type = "limit"
	}

	var out orderResponse
	if err := c.call(ctx, http.MethodPost, "/portfolio/orders", order, true, &out); err != nil {
		return nil, err
	}
	return &out.Order, nil
}

func (c *Client) call(ctx context.Context, method, path string, body any, signed bool, out any) error {
	var (
		req *http.Request
		err error
	)
	if signed {
		req, err = c.NewSignedRequest(ctx, method, path, body)
	} else {
		req, err = c.newRequest(ctx, method, path, body)
	}
	if err != nil {
		return err
	}

	signedLabel := strconv.FormatBool(signed)
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.KalshiRequestsTotal.WithLabelValues(signedLabel, metrics.StatusClass(0)).Inc()
		return fmt.Errorf("%w: %s %s: %v", ErrUpstream, method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	metrics.KalshiRequestsTotal.WithLabelValues(signedLabel, metrics.StatusClass(resp.StatusCode)).Inc()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrUpstream, req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyText := strings.TrimSpace(string(payload))
		if len(bodyText) > maxErrorBodySize {
			bodyText = bodyText[:maxErrorBodySize]
		}
		c.logger.Debug().Int("status", resp.StatusCode).Str("path", req.URL.Path).Msg("kalshi request rejected")
		return &APIError{Status: resp.StatusCode, Path: req.URL.Path, Body: bodyText}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUpstream, req.URL.Path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}
	return req, nil
}

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

func setIfNotEmpty(params url.Values, key, value string) {
	if value != "" {
		params.Set(key, value)
	}
}

var _ EventReader = (*Client)(nil)
