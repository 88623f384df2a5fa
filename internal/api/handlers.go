// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/detection"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/eventprocessor"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/exitnodes"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/logging"
)

const (
	maxEventBodyBytes    = 64 << 10
	defaultAnomalyLimit  = 100
	maxAnomalyLimit      = 1000
	anomaliesSinceFormat = time.RFC3339
)

var errStopRange = errors.New("limit reached")

// Detector is the part of detection.AttackDetector the API drives.
type Detector interface {
	Instrument(ctx context.Context, ev detection.Event) bool
	Stats() detection.Stats
	SetEnabled(kind detection.Kind, enabled bool) error
	Enabled(kind detection.Kind) bool
}

// ExitNodeRefresher triggers and reports exit-node refreshes.
type ExitNodeRefresher interface {
	RefreshManual(ctx context.Context) exitnodes.RefreshResult
	Status() exitnodes.Status
}

// AnomalyReader pages through stored anomaly records.
type AnomalyReader interface {
	Range(ctx context.Context, since time.Time, fn func(detection.Record) error) error
}

// HealthChecker reports whether a component is working.
type HealthChecker interface {
	Healthy() bool
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func() bool

// Healthy calls f.
func (f HealthCheckFunc) Healthy() bool { return f() }

// Handler serves the detector endpoints.
type Handler struct {
	detector  Detector
	exitNodes ExitNodeRefresher
	anomalies AnomalyReader
	stream    http.Handler
	checks    map[string]HealthChecker
	startTime time.Time
}

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*Handler)

// WithExitNodes enables the exit-node endpoints.
func WithExitNodes(r ExitNodeRefresher) HandlerOption {
	return func(h *Handler) { h.exitNodes = r }
}

// WithAnomalyReader enables GET /api/v1/anomalies.
func WithAnomalyReader(r AnomalyReader) HandlerOption {
	return func(h *Handler) { h.anomalies = r }
}

// WithStream enables GET /api/v1/anomalies/stream, typically a
// *websocket.Handler.
func WithStream(stream http.Handler) HandlerOption {
	return func(h *Handler) { h.stream = stream }
}

// WithHealthCheck adds a named component to /healthz.
func WithHealthCheck(name string, c HealthChecker) HandlerOption {
	return func(h *Handler) { h.checks[name] = c }
}

// NewHandler creates a Handler around detector.
func NewHandler(detector Detector, opts ...HandlerOption) *Handler {
	h := &Handler{
		detector:  detector,
		checks:    make(map[string]HealthChecker),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// EventResponse is the body returned by POST /api/v1/events.
type EventResponse struct {
	AttackDetected bool `json:"attack_detected"`
}

// Events instruments one event.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, CodeValidation, "Request body too large", nil)
			return
		}
		respondError(w, http.StatusBadRequest, CodeValidation, "Failed to read request body", err)
		return
	}

	ev, err := eventprocessor.DecodeEvent(body)
	if err != nil {
		respondValidation(w, err)
		return
	}

	detected := h.detector.Instrument(r.Context(), ev)
	logging.Ctx(r.Context()).Debug().
		Str("event_name", string(ev.Name)).
		Bool("attack_detected", detected).
		Msg("event instrumented")

	respondJSON(w, http.StatusOK, EventResponse{AttackDetected: detected})
}

// Stats returns the dispatcher counters.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.detector.Stats())
}

// DetectorState is one entry of GET /api/v1/detectors.
type DetectorState struct {
	Kind    detection.Kind `json:"kind"`
	Enabled bool           `json:"enabled"`
}

// Detectors lists every detector with its enabled state.
func (h *Handler) Detectors(w http.ResponseWriter, _ *http.Request) {
	out := make([]DetectorState, 0, len(detection.AllKinds))
	for _, kind := range detection.AllKinds {
		out = append(out, DetectorState{Kind: kind, Enabled: h.detector.Enabled(kind)})
	}
	respondJSON(w, http.StatusOK, out)
}

type setDetectorRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// SetDetector turns the detector named by the {kind} path parameter on or off.
func (h *Handler) SetDetector(w http.ResponseWriter, r *http.Request) {
	kind := detection.Kind(chi.URLParam(r, "kind"))

	var req setDetectorRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, "Invalid JSON body", nil)
		return
	}
	if req.Enabled == nil {
		respondError(w, http.StatusBadRequest, CodeValidation, "enabled is required", nil)
		return
	}
	if err := h.detector.SetEnabled(kind, *req.Enabled); err != nil {
		respondError(w, http.StatusNotFound, CodeNotFound, err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, DetectorState{Kind: kind, Enabled: *req.Enabled})
}

// Stream hands the request to the live anomaly stream.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "Anomaly stream is not configured", nil)
		return
	}
	h.stream.ServeHTTP(w, r)
}

// AnomaliesResponse is the body of GET /api/v1/anomalies.
type AnomaliesResponse struct {
	Records []detection.Record `json:"records"`
	Count   int                `json:"count"`
	Limited bool               `json:"limited"`
}

// Anomalies returns stored records, oldest first. Query parameters: since
// (RFC 3339) and limit (1..1000, default 100).
func (h *Handler) Anomalies(w http.ResponseWriter, r *http.Request) {
	if h.anomalies == nil {
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "Anomaly store is not configured", nil)
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(anomaliesSinceFormat, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, CodeValidation, "since must be an RFC 3339 timestamp", nil)
			return
		}
		since = parsed
	}

	limit := defaultAnomalyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAnomalyLimit {
			respondError(w, http.StatusBadRequest, CodeValidation, "limit must be between 1 and 1000", nil)
			return
		}
		limit = n
	}

	resp := AnomaliesResponse{Records: make([]detection.Record, 0, limit)}
	err := h.anomalies.Range(r.Context(), since, func(rec detection.Record) error {
		if len(resp.Records) == limit {
			resp.Limited = true
			return errStopRange
		}
		resp.Records = append(resp.Records, rec)
		return nil
	})
	if err != nil && !errors.Is(err, errStopRange) {
		respondError(w, http.StatusInternalServerError, CodeInternal, "Failed to read anomaly store", err)
		return
	}
	resp.Count = len(resp.Records)
	respondJSON(w, http.StatusOK, resp)
}

// RefreshExitNodes runs a rate-limited manual refresh.
func (h *Handler) RefreshExitNodes(w http.ResponseWriter, r *http.Request) {
	if h.exitNodes == nil {
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "Exit node refresh is not enabled", nil)
		return
	}
	res := h.exitNodes.RefreshManual(r.Context())
	status := http.StatusOK
	if res.Reason == exitnodes.ReasonRateLimited {
		status = http.StatusTooManyRequests
	}
	respondJSON(w, status, res)
}

// ExitNodeStatus reports the refresher state.
func (h *Handler) ExitNodeStatus(w http.ResponseWriter, _ *http.Request) {
	if h.exitNodes == nil {
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "Exit node refresh is not enabled", nil)
		return
	}
	respondJSON(w, http.StatusOK, h.exitNodes.Status())
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status     string          `json:"status"`
	Uptime     float64         `json:"uptime_seconds"`
	Components map[string]bool `json:"components,omitempty"`
}

// Health answers 200 while every registered component is healthy and 503
// otherwise.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status: "healthy",
		Uptime: time.Since(h.startTime).Seconds(),
	}
	code := http.StatusOK
	if len(h.checks) > 0 {
		resp.Components = make(map[string]bool, len(h.checks))
		for name, c := range h.checks {
			ok := c.Healthy()
			resp.Components[name] = ok
			if !ok {
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
	}
	respondJSON(w, code, resp)
}
