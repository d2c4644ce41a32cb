package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gapwatch/internal/fetcher"
	"gapwatch/internal/monitor"
	"gapwatch/internal/state"
)

type fakeService struct {
	status   monitor.GapStatus
	err      error
	resolved int
	logged   []string
	polls    int
}

func (f *fakeService) Status(context.Context) (monitor.GapStatus, error) {
	return f.status, f.err
}

func (f *fakeService) Poll(context.Context) (monitor.GapStatus, error) {
	f.polls++
	return f.status, f.err
}

func (f *fakeService) LogPrediction(_ context.Context, ticker string, prob float64, notes string) (state.MonitorState, error) {
	if prob > 100 {
		return state.MonitorState{}, fmt.Errorf("%w: out of range", monitor.ErrInvalidPrediction)
	}
	f.logged = append(f.logged, ticker)
	doc := state.Empty()
	doc.Predictions = append(doc.Predictions, state.Prediction{MarketTicker: ticker, PredictedProb: prob, Notes: notes})
	return doc, nil
}

func (f *fakeService) ResolvePrediction(context.Context, string, int) (state.MonitorState, int, error) {
	return state.Empty(), f.resolved, nil
}

func newTestServer(t *testing.T, svc GapService, hub *Hub) *httptest.Server {
	t.Helper()
	s := New(Options{RequestTimeout: 5 * time.Second}, svc, hub, zerolog.Nop())
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestGetStatusRendersNullOptionals(t *testing.T) {
	svc := &fakeService{status: monitor.GapStatus{
		Reference: monitor.ReferenceView{Price: decimal.NewFromInt(95000), Source: "binance"},
		Implied:   monitor.ImpliedView{CandidateMarkets: []monitor.Candidate{}},
	}}
	srv := newTestServer(t, svc, nil)

	resp, err := http.Get(srv.URL + "/api/gap")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "95000", body["reference"]["price"])
	assert.Nil(t, body["implied"]["price"])
	assert.Nil(t, body["implied"]["event"])
	assert.Nil(t, body["gap"]["usd"])
	assert.Nil(t, body["gap"]["direction"])
	assert.Equal(t, false, body["gap"]["is_opportunity"])
	assert.Nil(t, body["history"]["brier_score"])
}

func TestGetStatusUpstreamFailureIs502(t *testing.T) {
	svc := &fakeService{err: fmt.Errorf("fetch reference price: %w", &fetcher.UpstreamError{Source: "binance", Status: 503})}
	srv := newTestServer(t, svc, nil)

	resp, err := http.Get(srv.URL + "/api/gap")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "binance")
}

func TestPostLogPrediction(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc, nil)

	resp, body := postJSON(t, srv.URL+"/api/gap", `{"action":"log_prediction","market_ticker":"T1","predicted_prob":80,"notes":"x"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"T1"}, svc.logged)
	st, ok := body["state"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, st["predictions"], 1)
	_, hasResolved := body["resolved"]
	assert.False(t, hasResolved)
}

func TestPostValidation(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, nil)

	cases := []string{
		`{"action":"delete_everything"}`,
		`{"action":"log_prediction","predicted_prob":50}`,
		`{"action":"log_prediction","market_ticker":"T1"}`,
		`{"action":"resolve_prediction","market_ticker":"T1"}`,
		`{"action":"log_prediction","market_ticker":"T1","predicted_prob":150}`,
		`not json`,
	}
	for _, body := range cases {
		resp, err := http.Post(srv.URL+"/api/gap", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestPostResolveReportsCount(t *testing.T) {
	srv := newTestServer(t, &fakeService{resolved: 0}, nil)

	resp, body := postJSON(t, srv.URL+"/api/gap", `{"action":"resolve_prediction","market_ticker":"T1","outcome":1}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["resolved"])
	assert.NotNil(t, body["state"])
}

func TestPostRecordGapPolls(t *testing.T) {
	svc := &fakeService{status: monitor.GapStatus{Reference: monitor.ReferenceView{Price: decimal.NewFromInt(1)}}}
	srv := newTestServer(t, svc, nil)

	resp, body := postJSON(t, srv.URL+"/api/gap", `{"action":"record_gap"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, svc.polls)
	assert.NotNil(t, body["status"])
}

func TestWebSocketReceivesGap(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := newTestServer(t, &fakeService{}, hub)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/gap/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastGap(state.GapObservation{Direction: "UP", GapUSD: decimal.NewFromInt(300), IsOpportunity: true})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type string `json:"type"`
		Gap  struct {
			Direction string `json:"direction"`
			GapUSD    string `json:"gap_usd"`
		} `json:"gap"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "gap", msg.Type)
	assert.Equal(t, "UP", msg.Gap.Direction)
	assert.Equal(t, "300", msg.Gap.GapUSD)
}
