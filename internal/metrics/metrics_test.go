// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/detection"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/exitnodes"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/geoip"
)

func TestRecorder(t *testing.T) {
	var r Recorder

	events := testutil.ToFloat64(EventsTotal.WithLabelValues(string(detection.EventLoginFailed)))
	anomalies := testutil.ToFloat64(AnomaliesTotal.WithLabelValues(string(detection.KindFailedLogin)))
	sinkErrors := testutil.ToFloat64(SinkErrorsTotal.WithLabelValues(string(detection.KindFailedLogin)))

	r.EventRouted(detection.EventLoginFailed)
	r.EventRouted(detection.EventLoginFailed)
	r.AnomalyRaised(detection.KindFailedLogin)
	r.SinkFailed(detection.KindFailedLogin)
	r.ObserveInstrument(3 * time.Millisecond)

	if got := testutil.ToFloat64(EventsTotal.WithLabelValues(string(detection.EventLoginFailed))) - events; got != 2 {
		t.Errorf("expected 2 events, got %v", got)
	}
	if got := testutil.ToFloat64(AnomaliesTotal.WithLabelValues(string(detection.KindFailedLogin))) - anomalies; got != 1 {
		t.Errorf("expected 1 anomaly, got %v", got)
	}
	if got := testutil.ToFloat64(SinkErrorsTotal.WithLabelValues(string(detection.KindFailedLogin))) - sinkErrors; got != 1 {
		t.Errorf("expected 1 sink error, got %v", got)
	}
	if testutil.CollectAndCount(InstrumentDuration) != 1 {
		t.Error("expected instrument histogram to be collected")
	}
}

func TestRecordGeoResolve(t *testing.T) {
	outcomes := []string{
		geoip.OutcomeResolved,
		geoip.OutcomeUnresolved,
		geoip.OutcomeTimeout,
		geoip.OutcomeError,
		geoip.OutcomeBreakerOpen,
	}
	for _, outcome := range outcomes {
		before := testutil.ToFloat64(GeoResolveTotal.WithLabelValues(outcome))
		RecordGeoResolve(outcome)
		if got := testutil.ToFloat64(GeoResolveTotal.WithLabelValues(outcome)) - before; got != 1 {
			t.Errorf("%s: expected increment of 1, got %v", outcome, got)
		}
	}
}

func TestRecordExitNodeRefresh(t *testing.T) {
	before := testutil.ToFloat64(ExitNodeRefreshTotal.WithLabelValues(string(exitnodes.OutcomeUpdated)))

	RecordExitNodeRefresh(exitnodes.RefreshResult{Outcome: exitnodes.OutcomeUpdated, Count: 1200})
	if got := testutil.ToFloat64(ExitNodes); got != 1200 {
		t.Errorf("expected gauge 1200, got %v", got)
	}
	if got := testutil.ToFloat64(ExitNodeRefreshTotal.WithLabelValues(string(exitnodes.OutcomeUpdated))) - before; got != 1 {
		t.Errorf("expected one updated refresh, got %v", got)
	}

	RecordExitNodeRefresh(exitnodes.RefreshResult{Outcome: exitnodes.OutcomeUnchanged, Reason: "rate limited", Count: 1200})
	if got := testutil.ToFloat64(ExitNodes); got != 1200 {
		t.Errorf("unchanged refresh should keep the gauge, got %v", got)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/events", "200"))
	RecordAPIRequest(http.MethodPost, "/api/v1/events", http.StatusOK, 12*time.Millisecond)
	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/events", "200")) - before; got != 1 {
		t.Errorf("expected one request, got %v", got)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	TrackActiveRequest(true)
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests) - before; got != 1 {
		t.Errorf("expected one active request, got %v", got)
	}
	TrackActiveRequest(false)
}

func TestNATSCounters(t *testing.T) {
	consumed := testutil.ToFloat64(NATSMessagesConsumed)
	failed := testutil.ToFloat64(NATSMessagesParseFailed)

	RecordNATSConsume()
	RecordNATSParseFailed()
	RecordNATSProcessingDuration(time.Millisecond)

	if testutil.ToFloat64(NATSMessagesConsumed)-consumed != 1 {
		t.Error("expected consumed counter to increase")
	}
	if testutil.ToFloat64(NATSMessagesParseFailed)-failed != 1 {
		t.Error("expected parse failure counter to increase")
	}
}
