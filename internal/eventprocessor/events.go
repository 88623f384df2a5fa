// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package eventprocessor

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/detection"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/validation"
)

// WireEvent is the JSON form of an event on the bus and over HTTP.
type WireEvent struct {
	EventName string         `json:"event_name" validate:"required,max=64"`
	UserRole  string         `json:"user_role,omitempty" validate:"max=64"`
	UserID    string         `json:"user_id,omitempty" validate:"max=256"`
	SourceID  string         `json:"source_id,omitempty" validate:"max=256"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// ToEvent converts the wire form. A missing timestamp stays zero so the
// detector stamps the event on arrival.
func (w *WireEvent) ToEvent() detection.Event {
	ev := detection.Event{
		Name:     detection.EventName(w.EventName),
		UserRole: w.UserRole,
		UserID:   w.UserID,
		SourceID: w.SourceID,
		Context:  w.Context,
	}
	if w.Timestamp != nil {
		ev.Timestamp = *w.Timestamp
	}
	return ev
}

// NewWireEvent is the inverse of ToEvent.
func NewWireEvent(ev detection.Event) WireEvent {
	w := WireEvent{
		EventName: string(ev.Name),
		UserRole:  ev.UserRole,
		UserID:    ev.UserID,
		SourceID:  ev.SourceID,
		Context:   ev.Context,
	}
	if !ev.Timestamp.IsZero() {
		ts := ev.Timestamp
		w.Timestamp = &ts
	}
	return w
}

// DecodeEvent parses and validates a JSON event. Numbers in context are kept
// as json.Number so large integers survive.
func DecodeEvent(data []byte) (detection.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var w WireEvent
	if err := dec.Decode(&w); err != nil {
		return detection.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := validation.ValidateStruct(&w); err != nil {
		return detection.Event{}, fmt.Errorf("invalid event: %w", err)
	}
	return w.ToEvent(), nil
}

// EncodeEvent serializes ev as a WireEvent.
func EncodeEvent(ev detection.Event) ([]byte, error) {
	w := NewWireEvent(ev)
	data, err := json.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}
