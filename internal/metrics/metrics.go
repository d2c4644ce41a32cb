// Package metrics provides Prometheus instrumentation for gapwatch.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PollsTotal counts monitor cycles by outcome (ok, upstream_error, no_market).
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gapwatch_polls_total",
		Help: "Total number of monitor poll cycles",
	}, []string{"result"})

	// GapUSD is the most recent reference-vs-implied gap.
	GapUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gapwatch_gap_usd",
		Help: "Latest absolute gap between spot and implied price in USD",
	})

	// OpportunitiesTotal counts gaps above the threshold, by direction.
	OpportunitiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gapwatch_opportunities_total",
		Help: "Gap observations classified as opportunities",
	}, []string{"direction"})

	// SpotFetchDuration tracks reference price latency per source.
	SpotFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gapwatch_spot_fetch_duration_seconds",
		Help:    "Spot price fetch latency in seconds",
		Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"source"})

	// KalshiRequestsTotal counts trade API calls by signed flag and status class.
	KalshiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gapwatch_kalshi_requests_total",
		Help: "Kalshi trade API requests",
	}, []string{"signed", "status"})

	// ClockOffsetSeconds is the current exchange-minus-local clock offset.
	ClockOffsetSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gapwatch_clock_offset_seconds",
		Help: "Exchange clock offset applied to signed request timestamps",
	})

	// ClockCalibrationsTotal counts calibration attempts by result.
	ClockCalibrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gapwatch_clock_calibrations_total",
		Help: "Clock calibration attempts",
	}, []string{"result"})

	// StateRecoveriesTotal counts corrupt state documents reset to empty.
	StateRecoveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gapwatch_state_recoveries_total",
		Help: "Corrupt monitor state files replaced by an empty document",
	})

	// WebSocketClients tracks connected dashboard sockets.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gapwatch_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gapwatch_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gapwatch_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusClass buckets an HTTP status into "2xx", "4xx", ... or "error" for 0.
func StatusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack forwards to the underlying writer so websocket upgrades survive the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
