// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/anomalylog"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/detection"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/exitnodes"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/metrics"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeRefresher struct {
	result exitnodes.RefreshResult
	calls  int
}

func (f *fakeRefresher) RefreshManual(context.Context) exitnodes.RefreshResult {
	f.calls++
	return f.result
}

func (f *fakeRefresher) Status() exitnodes.Status {
	return exitnodes.Status{SourceURL: "https://example.test/exits", Size: 3}
}

func newTestDetector(t *testing.T, opts ...detection.Option) *detection.AttackDetector {
	t.Helper()
	d, err := detection.New(detection.DefaultDetectorsConfig(), opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return d
}

func newTestServer(t *testing.T, h *Handler, cfg RouterConfig) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(h, cfg))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp, data
}

func loginFailedBody(user string, ts time.Time) string {
	return fmt.Sprintf(`{"event_name":"login_failed","user_id":%q,"timestamp":%q}`, user, ts.Format(time.RFC3339))
}

func TestEventsDetectsBruteForce(t *testing.T) {
	srv := newTestServer(t, NewHandler(newTestDetector(t)), DefaultRouterConfig())

	for i := 0; i < 6; i++ {
		resp, data := do(t, http.MethodPost, srv.URL+"/api/v1/events", loginFailedBody("carol", baseTime.Add(time.Duration(i)*5*time.Second)))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("attempt %d: status %d: %s", i+1, resp.StatusCode, data)
		}
		var out EventResponse
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := i == 5; out.AttackDetected != want {
			t.Errorf("attempt %d: attack_detected = %v, want %v", i+1, out.AttackDetected, want)
		}
	}
}

func TestEventsRejectsBadBodies(t *testing.T) {
	srv := newTestServer(t, NewHandler(newTestDetector(t)), DefaultRouterConfig())

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantField  string
	}{
		{"malformed JSON", `{"event_name":`, http.StatusBadRequest, ""},
		{"missing event name", `{"user_id":"alice"}`, http.StatusBadRequest, "event_name"},
		{"oversized body", `{"event_name":"` + strings.Repeat("a", maxEventBodyBytes) + `"}`, http.StatusRequestEntityTooLarge, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := do(t, http.MethodPost, srv.URL+"/api/v1/events", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.wantStatus, data)
			}
			var out errorResponse
			if err := json.Unmarshal(data, &out); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Error.Code != CodeValidation {
				t.Errorf("code = %q, want %q", out.Error.Code, CodeValidation)
			}
			if tt.wantField != "" {
				if len(out.Error.Details) != 1 || out.Error.Details[0].Field != tt.wantField {
					t.Errorf("expected detail for %s, got %+v", tt.wantField, out.Error.Details)
				}
			}
		})
	}
}

func TestUnrecognizedEventIsAccepted(t *testing.T) {
	d := newTestDetector(t)
	srv := newTestServer(t, NewHandler(d), DefaultRouterConfig())

	resp, data := do(t, http.MethodPost, srv.URL+"/api/v1/events", `{"event_name":"door_opened"}`)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"attack_detected":false`) {
		t.Errorf("unexpected response %d %s", resp.StatusCode, data)
	}

	resp, data = do(t, http.MethodGet, srv.URL+"/api/v1/stats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var stats detection.Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Events["unrecognized"] != 1 {
		t.Errorf("expected one unrecognized event, got %+v", stats.Events)
	}
}

func TestDetectorToggle(t *testing.T) {
	d := newTestDetector(t)
	srv := newTestServer(t, NewHandler(d), DefaultRouterConfig())

	tests := []struct {
		name       string
		kind       string
		body       string
		wantStatus int
	}{
		{"disable", string(detection.KindFailedLogin), `{"enabled":false}`, http.StatusOK},
		{"unknown kind", "no_such_detector", `{"enabled":true}`, http.StatusNotFound},
		{"missing flag", string(detection.KindPower), `{}`, http.StatusBadRequest},
		{"bad JSON", string(detection.KindPower), `enabled`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := do(t, http.MethodPut, srv.URL+"/api/v1/detectors/"+tt.kind, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tt.wantStatus, data)
			}
		})
	}

	if d.Enabled(detection.KindFailedLogin) {
		t.Fatal("expected failed-login detector to be disabled")
	}

	_, data := do(t, http.MethodGet, srv.URL+"/api/v1/detectors", "")
	var states []DetectorState
	if err := json.Unmarshal(data, &states); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(states) != len(detection.AllKinds) {
		t.Fatalf("expected %d detectors, got %d", len(detection.AllKinds), len(states))
	}
	for _, s := range states {
		if want := s.Kind != detection.KindFailedLogin; s.Enabled != want {
			t.Errorf("%s enabled = %v, want %v", s.Kind, s.Enabled, want)
		}
	}

	// A disabled detector stays quiet.
	for i := 0; i < 6; i++ {
		_, data := do(t, http.MethodPost, srv.URL+"/api/v1/events", loginFailedBody("dave", baseTime.Add(time.Duration(i)*time.Second)))
		if strings.Contains(string(data), `"attack_detected":true`) {
			t.Fatalf("attempt %d flagged with detector disabled", i+1)
		}
	}
}

func TestAnomaliesFromStore(t *testing.T) {
	store, err := anomalylog.OpenStore(anomalylog.StoreConfig{InMemory: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	d := newTestDetector(t, detection.WithSink(store))
	srv := newTestServer(t, NewHandler(d, WithAnomalyReader(store)), DefaultRouterConfig())

	// Two users over threshold: two records.
	for _, user := range []string{"erin", "frank"} {
		for i := 0; i < 6; i++ {
			do(t, http.MethodPost, srv.URL+"/api/v1/events", loginFailedBody(user, baseTime.Add(time.Duration(i)*time.Second)))
		}
	}

	tests := []struct {
		name        string
		query       string
		wantStatus  int
		wantCount   int
		wantLimited bool
	}{
		{"all", "", http.StatusOK, 2, false},
		{"limited", "?limit=1", http.StatusOK, 1, true},
		{"since future", "?since=2030-01-01T00:00:00Z", http.StatusOK, 0, false},
		{"bad limit", "?limit=0", http.StatusBadRequest, 0, false},
		{"bad since", "?since=yesterday", http.StatusBadRequest, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := do(t, http.MethodGet, srv.URL+"/api/v1/anomalies"+tt.query, "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.wantStatus, data)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var out AnomaliesResponse
			if err := json.Unmarshal(data, &out); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Count != tt.wantCount || out.Limited != tt.wantLimited {
				t.Errorf("got count=%d limited=%v, want %d/%v", out.Count, out.Limited, tt.wantCount, tt.wantLimited)
			}
			for _, rec := range out.Records {
				if rec.Kind() != detection.KindFailedLogin {
					t.Errorf("unexpected record kind %q", rec.Kind())
				}
			}
		})
	}
}

func TestOptionalEndpointsUnavailable(t *testing.T) {
	srv := newTestServer(t, NewHandler(newTestDetector(t)), DefaultRouterConfig())

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/anomalies"},
		{http.MethodGet, "/api/v1/anomalies/stream"},
		{http.MethodPost, "/api/v1/exit-nodes/refresh"},
		{http.MethodGet, "/api/v1/exit-nodes/status"},
	} {
		resp, _ := do(t, tc.method, srv.URL+tc.path, "")
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s %s: status %d, want 503", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestRefreshExitNodes(t *testing.T) {
	tests := []struct {
		name       string
		result     exitnodes.RefreshResult
		wantStatus int
	}{
		{"updated", exitnodes.RefreshResult{Outcome: exitnodes.OutcomeUpdated, Count: 3}, http.StatusOK},
		{"unchanged", exitnodes.RefreshResult{Outcome: exitnodes.OutcomeUnchanged, Reason: "list not modified"}, http.StatusOK},
		{"rate limited", exitnodes.RefreshResult{Outcome: exitnodes.OutcomeUnchanged, Reason: exitnodes.ReasonRateLimited}, http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := &fakeRefresher{result: tt.result}
			srv := newTestServer(t, NewHandler(newTestDetector(t), WithExitNodes(ref)), DefaultRouterConfig())

			resp, data := do(t, http.MethodPost, srv.URL+"/api/v1/exit-nodes/refresh", "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var got exitnodes.RefreshResult
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Outcome != tt.result.Outcome || got.Reason != tt.result.Reason {
				t.Errorf("got %+v, want %+v", got, tt.result)
			}
			if ref.calls != 1 {
				t.Errorf("expected one refresh, got %d", ref.calls)
			}
		})
	}

	ref := &fakeRefresher{}
	srv := newTestServer(t, NewHandler(newTestDetector(t), WithExitNodes(ref)), DefaultRouterConfig())
	resp, data := do(t, http.MethodGet, srv.URL+"/api/v1/exit-nodes/status", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"size":3`) {
		t.Errorf("unexpected status response %d %s", resp.StatusCode, data)
	}
}

func TestHealth(t *testing.T) {
	healthy := true
	h := NewHandler(newTestDetector(t),
		WithHealthCheck("exit_nodes", HealthCheckFunc(func() bool { return true })),
		WithHealthCheck("nats", HealthCheckFunc(func() bool { return healthy })),
	)
	srv := newTestServer(t, h, DefaultRouterConfig())

	resp, data := do(t, http.MethodGet, srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}

	healthy = false
	resp, data = do(t, http.MethodGet, srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var out HealthResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != "degraded" || out.Components["nats"] || !out.Components["exit_nodes"] {
		t.Errorf("unexpected health %+v", out)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.Middleware.RateLimitRequests = 2
	cfg.Middleware.RateLimitWindow = time.Minute
	srv := newTestServer(t, NewHandler(newTestDetector(t)), cfg)

	var last int
	for i := 0; i < 3; i++ {
		resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/stats", "")
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("expected third request to be limited, got %d", last)
	}

	// Health checks sit outside the limited group.
	resp, _ := do(t, http.MethodGet, srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz should not be rate limited, got %d", resp.StatusCode)
	}
}

func TestRequestIDAndHeaders(t *testing.T) {
	srv := newTestServer(t, NewHandler(newTestDetector(t)), DefaultRouterConfig())

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/stats", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get(RequestIDHeader); got != "req-123" {
		t.Errorf("request ID = %q, want req-123", got)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on API responses")
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/healthz", "")
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("expected a generated request ID")
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, NewHandler(newTestDetector(t)), DefaultRouterConfig())

	resp, data := do(t, http.MethodGet, srv.URL+"/api/v1/nope", "")
	if resp.StatusCode != http.StatusNotFound || !strings.Contains(string(data), CodeNotFound) {
		t.Errorf("unexpected 404 response %d %s", resp.StatusCode, data)
	}
	resp, data = do(t, http.MethodGet, srv.URL+"/api/v1/events", "")
	if resp.StatusCode != http.StatusMethodNotAllowed || !strings.Contains(string(data), CodeMethodNotAllowed) {
		t.Errorf("unexpected 405 response %d %s", resp.StatusCode, data)
	}
}

func TestMetricsEndpointAndRequestMetrics(t *testing.T) {
	srv := newTestServer(t, NewHandler(newTestDetector(t)), DefaultRouterConfig())

	counter := metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/detectors", "200")
	before := testutil.ToFloat64(counter)

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/detectors", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("expected request counter to move by 1, moved by %v", got)
	}

	resp, data := do(t, http.MethodGet, srv.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "api_active_requests") {
		t.Errorf("unexpected /metrics response %d", resp.StatusCode)
	}
}

func TestSanitizeLogValue(t *testing.T) {
	if got := sanitizeLogValue("a\nb\x7f"); got != `a\x0ab\x7f` {
		t.Errorf("sanitizeLogValue = %q", got)
	}
}

func TestAnomaliesPropagatesStoreErrors(t *testing.T) {
	reader := rangeFunc(func(context.Context, time.Time, func(detection.Record) error) error {
		return errors.New("disk gone")
	})
	srv := newTestServer(t, NewHandler(newTestDetector(t), WithAnomalyReader(reader)), DefaultRouterConfig())

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/anomalies", "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

type rangeFunc func(ctx context.Context, since time.Time, fn func(detection.Record) error) error

func (f rangeFunc) Range(ctx context.Context, since time.Time, fn func(detection.Record) error) error {
	return f(ctx, since, fn)
}

func TestStreamDelegates(t *testing.T) {
	stream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv := newTestServer(t, NewHandler(newTestDetector(t), WithStream(stream)), DefaultRouterConfig())

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/anomalies/stream", "")
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want 418", resp.StatusCode)
	}
}
