package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// ErrUpstream matches every failed or non-2xx spot price call.
var ErrUpstream = errors.New("fetcher: upstream request failed")

// SpotQuote is one reference price observation.
type SpotQuote struct {
	Source    string          `json:"source"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// SpotPriceFetcher retrieves the current reference spot price.
type SpotPriceFetcher interface {
	FetchSpot(ctx context.Context) (SpotQuote, error)
}

// UpstreamError describes a spot feed failure.
type UpstreamError struct {
	Source string
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s spot fetch: %v", e.Source, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s api error (%d): %s", e.Source, e.Status, e.Body)
	default:
		return fmt.Sprintf("%s api error (%d)", e.Source, e.Status)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrUpstream) match.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// getJSON performs a GET and decodes a 2xx JSON body into out.
func getJSON(ctx context.Context, client *http.Client, source, endpoint, userAgent string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &UpstreamError{Source: source, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(userAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &UpstreamError{Source: source, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &UpstreamError{Source: source, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &UpstreamError{Source: source, Status: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return &UpstreamError{Source: source, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func positivePrice(source string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return &UpstreamError{Source: source, Err: fmt.Errorf("non-positive price %s", price.String())}
	}
	return nil
}
