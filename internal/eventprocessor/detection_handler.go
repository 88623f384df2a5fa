// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package eventprocessor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/detection"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/logging"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/metrics"
)

// ErrNilDetector is returned when no detector is given.
var ErrNilDetector = errors.New("detector required")

// Instrumenter evaluates one event. *detection.AttackDetector implements it.
type Instrumenter interface {
	Instrument(ctx context.Context, ev detection.Event) bool
}

// DetectionHandler decodes event messages and runs them through the detector.
//
// Undecodable messages are acknowledged and counted: redelivering them
// cannot succeed. The detector itself never fails, so every decoded message
// is acknowledged too.
type DetectionHandler struct {
	detector Instrumenter
	logger   watermill.LoggerAdapter

	messagesReceived  atomic.Int64
	messagesProcessed atomic.Int64
	eventsFlagged     atomic.Int64
	parseErrors       atomic.Int64
	lastMessageTime   atomic.Value // time.Time
}

// NewDetectionHandler creates the handler.
func NewDetectionHandler(detector Instrumenter, logger watermill.LoggerAdapter) (*DetectionHandler, error) {
	if detector == nil {
		return nil, ErrNilDetector
	}
	if logger == nil {
		logger = NewWatermillLogger()
	}

	h := &DetectionHandler{detector: detector, logger: logger}
	h.lastMessageTime.Store(time.Time{})
	return h, nil
}

// Handle is a message.NoPublishHandlerFunc.
func (h *DetectionHandler) Handle(msg *message.Message) error {
	start := time.Now()
	h.messagesReceived.Add(1)
	h.lastMessageTime.Store(start)
	metrics.RecordNATSConsume()
	defer func() { metrics.RecordNATSProcessingDuration(time.Since(start)) }()

	ev, err := DecodeEvent(msg.Payload)
	if err != nil {
		h.parseErrors.Add(1)
		metrics.RecordNATSParseFailed()
		h.logger.Error("Failed to parse event message", err, watermill.LogFields{
			"message_uuid": msg.UUID,
		})
		return nil
	}

	ctx := msg.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.ContextWithCorrelationID(ctx, msg.UUID)

	if h.detector.Instrument(ctx, ev) {
		h.eventsFlagged.Add(1)
		h.logger.Debug("Event flagged", watermill.LogFields{
			"message_uuid": msg.UUID,
			"event_name":   string(ev.Name),
			"user_id":      ev.UserID,
			"source_id":    ev.SourceID,
		})
	}
	h.messagesProcessed.Add(1)
	return nil
}

// Stats returns handler counters.
func (h *DetectionHandler) Stats() DetectionHandlerStats {
	var lastTime time.Time
	if t, ok := h.lastMessageTime.Load().(time.Time); ok {
		lastTime = t
	}
	return DetectionHandlerStats{
		MessagesReceived:  h.messagesReceived.Load(),
		MessagesProcessed: h.messagesProcessed.Load(),
		EventsFlagged:     h.eventsFlagged.Load(),
		ParseErrors:       h.parseErrors.Load(),
		LastMessageTime:   lastTime,
	}
}

// DetectionHandlerStats holds runtime statistics.
type DetectionHandlerStats struct {
	MessagesReceived  int64     `json:"messages_received"`
	MessagesProcessed int64     `json:"messages_processed"`
	EventsFlagged     int64     `json:"events_flagged"`
	ParseErrors       int64     `json:"parse_errors"`
	LastMessageTime   time.Time `json:"last_message_time"`
}
