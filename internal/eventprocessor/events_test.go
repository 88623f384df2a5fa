// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package eventprocessor

import (
	"strings"
	"testing"
	"time"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/detection"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr string
		check   func(t *testing.T, ev detection.Event)
	}{
		{
			name:    "power reading",
			payload: `{"event_name":"power_reading","user_role":"device","user_id":"sys","source_id":"plug-1","timestamp":"2026-03-01T10:00:00Z","context":{"value":120.5}}`,
			check: func(t *testing.T, ev detection.Event) {
				p, ok := ev.Payload().(detection.PowerReading)
				if !ok || p.Value == nil || *p.Value != 120.5 {
					t.Errorf("unexpected payload %#v", ev.Payload())
				}
				if !ev.Timestamp.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
					t.Errorf("unexpected timestamp %v", ev.Timestamp)
				}
			},
		},
		{
			name:    "large integer value survives",
			payload: `{"event_name":"power_reading","source_id":"meter","context":{"value":9007199254740993}}`,
			check: func(t *testing.T, ev detection.Event) {
				p, ok := ev.Payload().(detection.PowerReading)
				if !ok || p.Value == nil || *p.Value < 9.007e15 {
					t.Errorf("unexpected payload %#v", ev.Payload())
				}
			},
		},
		{
			name:    "missing timestamp stays zero",
			payload: `{"event_name":"login_failed","user_id":"alice"}`,
			check: func(t *testing.T, ev detection.Event) {
				if !ev.Timestamp.IsZero() {
					t.Errorf("expected zero timestamp, got %v", ev.Timestamp)
				}
				if ev.Name != detection.EventLoginFailed || ev.UserID != "alice" {
					t.Errorf("unexpected event %+v", ev)
				}
			},
		},
		{
			name:    "allowed roles list",
			payload: `{"event_name":"device_toggle","user_role":"guest","user_id":"bob","context":{"allowed_roles":["admin","owner"]}}`,
			check: func(t *testing.T, ev detection.Event) {
				roles, ok := ev.AllowedRoles()
				if !ok || strings.Join(roles, ",") != "admin,owner" {
					t.Errorf("unexpected allowed roles %v, %v", roles, ok)
				}
			},
		},
		{
			name:    "unknown event name is accepted",
			payload: `{"event_name":"firmware_update","source_id":"hub"}`,
			check: func(t *testing.T, ev detection.Event) {
				if _, ok := ev.Payload().(detection.Unrecognized); !ok {
					t.Errorf("expected unrecognized payload, got %#v", ev.Payload())
				}
			},
		},
		{
			name:    "not json",
			payload: `power_reading plug-1 120`,
			wantErr: "decode event",
		},
		{
			name:    "missing event name",
			payload: `{"user_id":"alice"}`,
			wantErr: "event_name is required",
		},
		{
			name:    "bad timestamp",
			payload: `{"event_name":"user_login","timestamp":"yesterday"}`,
			wantErr: "decode event",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.payload))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, ev)
		})
	}
}

func TestEncodeDecodeKeepsFields(t *testing.T) {
	ts := time.Date(2026, 3, 1, 22, 15, 0, 0, time.UTC)
	in := detection.Event{
		Name:      detection.EventUserLogin,
		UserRole:  "admin",
		UserID:    "alice",
		SourceID:  "door-panel",
		Timestamp: ts,
		Context:   map[string]any{"ip_address": "10.0.0.1"},
	}

	data, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.Name != in.Name || out.UserRole != in.UserRole || out.UserID != in.UserID || out.SourceID != in.SourceID {
		t.Errorf("fields changed: %+v", out)
	}
	if !out.Timestamp.Equal(ts) {
		t.Errorf("timestamp changed: %v", out.Timestamp)
	}
	login, ok := out.Payload().(detection.UserLogin)
	if !ok || login.IPAddress == nil || *login.IPAddress != "10.0.0.1" {
		t.Errorf("unexpected payload %#v", out.Payload())
	}
}

func TestEncodeOmitsZeroTimestamp(t *testing.T) {
	data, err := EncodeEvent(detection.Event{Name: detection.EventPasswordReset, UserID: "u"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(data), "timestamp") {
		t.Errorf("expected no timestamp field, got %s", data)
	}
}
