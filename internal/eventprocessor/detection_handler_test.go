// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package eventprocessor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/detection"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/logging"
)

type mockInstrumenter struct {
	mu     sync.Mutex
	events []detection.Event
	ctxIDs []string
	flag   func(detection.Event) bool
}

func (m *mockInstrumenter) Instrument(ctx context.Context, ev detection.Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	m.ctxIDs = append(m.ctxIDs, logging.CorrelationIDFromContext(ctx))
	if m.flag == nil {
		return false
	}
	return m.flag(ev)
}

func quietLogger() watermill.LoggerAdapter {
	return NewWatermillLoggerWith(zerolog.Nop())
}

func TestNewDetectionHandler(t *testing.T) {
	if _, err := NewDetectionHandler(nil, nil); !errors.Is(err, ErrNilDetector) {
		t.Errorf("expected ErrNilDetector, got %v", err)
	}
	h, err := NewDetectionHandler(&mockInstrumenter{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.logger == nil {
		t.Error("expected default logger")
	}
}

func TestDetectionHandlerHandle(t *testing.T) {
	mock := &mockInstrumenter{
		flag: func(ev detection.Event) bool { return ev.Name == detection.EventLoginFailed },
	}
	h, err := NewDetectionHandler(mock, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		payload string
	}{
		{"flagged", `{"event_name":"login_failed","user_id":"alice"}`},
		{"clean", `{"event_name":"password_reset","user_id":"alice"}`},
		{"malformed", `{"event_name":`},
		{"invalid", `{"user_id":"alice"}`},
	}
	for _, tt := range tests {
		msg := message.NewMessage(watermill.NewUUID(), []byte(tt.payload))
		if err := h.Handle(msg); err != nil {
			t.Errorf("%s: expected nil so the message is acked, got %v", tt.name, err)
		}
	}

	stats := h.Stats()
	if stats.MessagesReceived != 4 {
		t.Errorf("expected 4 received, got %d", stats.MessagesReceived)
	}
	if stats.MessagesProcessed != 2 {
		t.Errorf("expected 2 processed, got %d", stats.MessagesProcessed)
	}
	if stats.ParseErrors != 2 {
		t.Errorf("expected 2 parse errors, got %d", stats.ParseErrors)
	}
	if stats.EventsFlagged != 1 {
		t.Errorf("expected 1 flagged, got %d", stats.EventsFlagged)
	}
	if stats.LastMessageTime.IsZero() {
		t.Error("expected last message time to be set")
	}
	if len(mock.events) != 2 {
		t.Errorf("expected 2 events to reach the detector, got %d", len(mock.events))
	}
}

func TestDetectionHandlerPropagatesMessageID(t *testing.T) {
	mock := &mockInstrumenter{}
	h, _ := NewDetectionHandler(mock, quietLogger())

	msg := message.NewMessage("msg-42", []byte(`{"event_name":"user_login","user_id":"u"}`))
	if err := h.Handle(msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.ctxIDs) != 1 || mock.ctxIDs[0] != "msg-42" {
		t.Errorf("expected message UUID as correlation id, got %v", mock.ctxIDs)
	}
}

func TestDetectionHandlerConcurrent(t *testing.T) {
	mock := &mockInstrumenter{}
	h, _ := NewDetectionHandler(mock, quietLogger())

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				msg := message.NewMessage(watermill.NewUUID(), []byte(`{"event_name":"device_toggle","source_id":"lamp"}`))
				_ = h.Handle(msg)
			}
		}()
	}
	wg.Wait()

	if got := h.Stats().MessagesProcessed; got != workers*perWorker {
		t.Errorf("expected %d processed, got %d", workers*perWorker, got)
	}
}
