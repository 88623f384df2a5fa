// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package detection

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventName identifies the kind of domain event submitted to the detector.
type EventName string

// Event names understood by the router.
const (
	EventPowerReading  EventName = "power_reading"
	EventUserLogin     EventName = "user_login"
	EventPasswordReset EventName = "password_reset"
	EventLoginFailed   EventName = "login_failed"
	EventDeviceToggle  EventName = "device_toggle"
)

// Context keys read from Event.Context.
const (
	ContextValue        = "value"
	ContextIPAddress    = "ip_address"
	ContextAllowedRoles = "allowed_roles"
	ContextDeviceID     = "device_id"
)

// Kind tags an anomaly record.
type Kind string

// Anomaly kinds.
const (
	KindPower         Kind = "power_anomaly"
	KindFailedLogin   Kind = "failed_login_anomaly"
	KindPasswordReset Kind = "password_reset_anomaly"
	KindToggleSpam    Kind = "toggle_spam"
	KindRole          Kind = "role_anomaly"
	KindGeo           Kind = "geo_anomaly"
	KindUnauthorized  Kind = "unauthorized_access_attempt"
)

// AllKinds lists every anomaly kind, in routing order.
var AllKinds = []Kind{
	KindPower, KindGeo, KindRole, KindPasswordReset,
	KindFailedLogin, KindToggleSpam, KindUnauthorized,
}

// ErrInvalidConfig is wrapped by every constructor validation failure.
var ErrInvalidConfig = errors.New("invalid detector configuration")

// Event is one smart-home domain event. Context is an open bag; unknown keys
// are ignored and missing keys skip the rules that need them.
type Event struct {
	Name      EventName
	UserRole  string
	UserID    string
	SourceID  string
	Timestamp time.Time
	Context   map[string]any
}

// Payload is the decoded, kind-specific view of an event. The router switches
// on the concrete type.
type Payload interface {
	eventName() EventName
}

// PowerReading carries a device power sample. Value is nil when absent or not numeric.
type PowerReading struct {
	Value *float64
}

// UserLogin carries the optional source address of a login.
type UserLogin struct {
	IPAddress *string
}

// PasswordReset has no optional fields.
type PasswordReset struct{}

// LoginFailed has no optional fields.
type LoginFailed struct{}

// DeviceToggle carries the optional toggled device. When nil the event's SourceID is used.
type DeviceToggle struct {
	DeviceID *string
}

// Unrecognized is any event name the router has no rule for.
type Unrecognized struct {
	Name EventName
}

func (PowerReading) eventName() EventName { return EventPowerReading }
func (UserLogin) eventName() EventName { return EventUserLogin }
func (PasswordReset) eventName() EventName { return EventPasswordReset }
func (LoginFailed) eventName() EventName { return EventLoginFailed }
func (DeviceToggle) eventName() EventName { return EventDeviceToggle }
func (u Unrecognized) eventName() EventName { return u.Name }

// Payload decodes the context bag into the variant for e.Name.
func (e Event) Payload() Payload {
	switch e.Name {
	case EventPowerReading:
		v, ok := numberValue(e.Context[ContextValue])
		if !ok {
			return PowerReading{}
		}
		return PowerReading{Value: &v}
	case EventUserLogin:
		return UserLogin{IPAddress: stringValue(e.Context[ContextIPAddress])}
	case EventPasswordReset:
		return PasswordReset{}
	case EventLoginFailed:
		return LoginFailed{}
	case EventDeviceToggle:
		return DeviceToggle{DeviceID: stringValue(e.Context[ContextDeviceID])}
	default:
		return Unrecognized{Name: e.Name}
	}
}

// AllowedRoles returns the allow-list carried by the event, if any. An
// explicitly empty list is present and denies every role.
func (e Event) AllowedRoles() ([]string, bool) {
	raw, ok := e.Context[ContextAllowedRoles]
	if !ok || raw == nil {
		return nil, false
	}
	switch v := raw.(type) {
	case []string:
		return append([]string{}, v...), true
	case []any:
		roles := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			roles = append(roles, s)
		}
		return roles, true
	default:
		return nil, false
	}
}

func numberValue(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case interface{ Float64() (float64, error) }:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringValue(raw any) *string {
	s, ok := raw.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// Record is a flat, JSON-serialisable anomaly record.
type Record map[string]any

// Kind returns the record's event tag.
func (r Record) Kind() Kind {
	switch v := r["event"].(type) {
	case Kind:
		return v
	case string:
		return Kind(v)
	}
	return ""
}

// Message returns the human readable description.
func (r Record) Message() string {
	s, _ := r["message"].(string)
	return s
}

// Sink receives anomaly records. Append is fire-and-forget from the
// detector's point of view: errors are logged and counted, never retried.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec Record) error

// Append calls f.
func (f SinkFunc) Append(ctx context.Context, rec Record) error { return f(ctx, rec) }

// ExitNodeSet answers whether an address is a known anonymizing exit node.
type ExitNodeSet interface {
	Contains(ip string) bool
}

// finding is what a detector hands back to the router after a positive check.
type finding struct {
	kind    Kind
	message string
	fields  map[string]any
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
