package server

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"gapwatch/internal/fetcher"
	"gapwatch/internal/kalshi"
	"gapwatch/internal/monitor"
	"gapwatch/internal/state"
	"gapwatch/internal/version"
)

// Supported POST /api/gap actions.
const (
	ActionLogPrediction     = "log_prediction"
	ActionResolvePrediction = "resolve_prediction"
	ActionRecordGap         = "record_gap"
)

const maxBodyBytes = 1 << 16

type actionRequest struct {
	Action        string   `json:"action" validate:"required,oneof=log_prediction resolve_prediction record_gap"`
	MarketTicker  string   `json:"market_ticker" validate:"required_unless=Action record_gap,max=128"`
	PredictedProb *float64 `json:"predicted_prob"`
	Notes         string   `json:"notes" validate:"max=2000"`
	Outcome       *int     `json:"outcome"`
}

type actionResponse struct {
	State    *state.MonitorState `json:"state,omitempty"`
	Resolved *int                `json:"resolved,omitempty"`
	Status   *monitor.GapStatus  `json:"status,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "gapwatch",
		"version": version.Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	switch req.Action {
	case ActionLogPrediction:
		if req.PredictedProb == nil {
			writeErrorMessage(w, http.StatusBadRequest, "predicted_prob is required")
			return
		}
		doc, err := s.svc.LogPrediction(ctx, req.MarketTicker, *req.PredictedProb, req.Notes)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{State: &doc})

	case ActionResolvePrediction:
		if req.Outcome == nil {
			writeErrorMessage(w, http.StatusBadRequest, "outcome is required")
			return
		}
		doc, n, err := s.svc.ResolvePrediction(ctx, req.MarketTicker, *req.Outcome)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{State: &doc, Resolved: &n})

	case ActionRecordGap:
		status, err := s.svc.Poll(ctx)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{Status: &status})
	}
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, monitor.ErrInvalidPrediction):
		status = http.StatusBadRequest
	case errors.Is(err, fetcher.ErrUpstream), errors.Is(err, kalshi.ErrUpstream):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeErrorMessage(w, status, err.Error())
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
