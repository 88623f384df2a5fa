// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package detection

import (
	"context"
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/geoip"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/logging"
)

// Recorder receives detector telemetry. The metrics package provides the
// Prometheus implementation.
type Recorder interface {
	EventRouted(name EventName)
	AnomalyRaised(kind Kind)
	SinkFailed(kind Kind)
	ObserveInstrument(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) EventRouted(EventName) {}
func (nopRecorder) AnomalyRaised(Kind) {}
func (nopRecorder) SinkFailed(Kind) {}
func (nopRecorder) ObserveInstrument(time.Duration) {}

type options struct {
	sink      Sink
	resolver  geoip.Resolver
	overrides map[string]geoip.Location
	exitNodes ExitNodeSet
	recorder  Recorder
	now       func() time.Time
}

// Option configures an AttackDetector.
type Option func(*options)

// WithSink sets where anomaly records are sent.
func WithSink(s Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithResolver sets the live geolocation resolver.
func WithResolver(r geoip.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithOverrides sets literal IP locations consulted before the live resolver.
func WithOverrides(table map[string]geoip.Location) Option {
	return func(o *options) { o.overrides = table }
}

// WithExitNodes sets the known anonymizing exit nodes.
func WithExitNodes(set ExitNodeSet) Option {
	return func(o *options) { o.exitNodes = set }
}

// WithRecorder sets the telemetry recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithClock sets the clock used for events that arrive without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Events     map[EventName]int64 `json:"events"`
	Anomalies  map[Kind]int64      `json:"anomalies"`
	SinkErrors int64               `json:"sink_errors"`
	Flagged    int64               `json:"flagged_events"`
}

type counters struct {
	events     map[EventName]*atomic.Int64
	anomalies  map[Kind]*atomic.Int64
	sinkErrors atomic.Int64
	flagged    atomic.Int64
}

const eventUnrecognized EventName = "unrecognized"

func newCounters() *counters {
	c := &counters{
		events:    make(map[EventName]*atomic.Int64),
		anomalies: make(map[Kind]*atomic.Int64),
	}
	for _, name := range []EventName{
		EventPowerReading, EventUserLogin, EventPasswordReset,
		EventLoginFailed, EventDeviceToggle, eventUnrecognized,
	} {
		c.events[name] = new(atomic.Int64)
	}
	for _, kind := range AllKinds {
		c.anomalies[kind] = new(atomic.Int64)
	}
	return c
}

// AttackDetector routes events to the detectors they concern and forwards
// every anomaly to the sink. All detector state lives on the instance.
type AttackDetector struct {
	power         *PowerAnomalyDetector
	failedLogin   *RateDetector
	passwordReset *RateDetector
	toggleSpam    *RateDetector
	role          *RoleAnomalyDetector
	geo           *GeoAnomalyDetector
	unauthorized  *UnauthorizedAccessDetector

	disabled map[Kind]*atomic.Bool
	sink     Sink
	recorder Recorder
	now      func() time.Time
	counters *counters
}

// New builds an AttackDetector. Invalid configuration is rejected here so
// that a misconfigured process fails at startup.
func New(cfg DetectorsConfig, opts ...Option) (*AttackDetector, error) {
	o := options{recorder: nopRecorder{}, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	power, err := NewPowerAnomalyDetector(cfg.Power)
	if err != nil {
		return nil, err
	}
	failedLogin, err := NewFailedLoginDetector(cfg.FailedLogin)
	if err != nil {
		return nil, err
	}
	passwordReset, err := NewPasswordResetDetector(cfg.PasswordReset)
	if err != nil {
		return nil, err
	}
	toggleSpam, err := NewToggleSpamDetector(cfg.ToggleSpam)
	if err != nil {
		return nil, err
	}
	role, err := NewRoleAnomalyDetector(cfg.Role)
	if err != nil {
		return nil, err
	}
	resolver := geoip.NewChain(geoip.NewStatic(o.overrides), o.resolver)
	geo, err := NewGeoAnomalyDetector(cfg.Geo, resolver, o.exitNodes)
	if err != nil {
		return nil, err
	}

	disabled := make(map[Kind]*atomic.Bool, len(AllKinds))
	for _, kind := range AllKinds {
		disabled[kind] = new(atomic.Bool)
	}

	return &AttackDetector{
		power:         power,
		failedLogin:   failedLogin,
		passwordReset: passwordReset,
		toggleSpam:    toggleSpam,
		role:          role,
		geo:           geo,
		unauthorized:  NewUnauthorizedAccessDetector(),
		disabled:      disabled,
		sink:          o.sink,
		recorder:      o.recorder,
		now:           o.now,
		counters:      newCounters(),
	}, nil
}

// Instrument runs ev through every detector it concerns and reports whether
// any of them fired. Every rule is evaluated; one firing does not stop the rest.
func (a *AttackDetector) Instrument(ctx context.Context, ev Event) bool {
	start := time.Now()
	defer func() { a.recorder.ObserveInstrument(time.Since(start)) }()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.now()
	}

	fired := 0
	emit := func(f *finding) {
		if f == nil {
			return
		}
		fired++
		a.emit(ctx, ev, f)
	}

	payload := ev.Payload()
	a.countEvent(payload)

	switch p := payload.(type) {
	case PowerReading:
		if p.Value != nil && a.enabled(KindPower) {
			emit(a.power.observe(ev.SourceID, *p.Value))
		}
	case UserLogin:
		if p.IPAddress != nil && a.enabled(KindGeo) {
			emit(a.geo.observe(ctx, ev.UserID, *p.IPAddress, ev.Timestamp))
		}
		if a.enabled(KindRole) {
			emit(a.role.observe(ev.UserID, ev.UserRole, ev.Timestamp))
		}
	case PasswordReset:
		if a.enabled(KindPasswordReset) {
			emit(a.passwordReset.observe(ev.UserID, ev.Timestamp))
		}
	case LoginFailed:
		if a.enabled(KindFailedLogin) {
			emit(a.failedLogin.observe(ev.UserID, ev.Timestamp))
		}
	case DeviceToggle:
		device := ev.SourceID
		if p.DeviceID != nil {
			device = *p.DeviceID
		}
		if a.enabled(KindToggleSpam) {
			emit(a.toggleSpam.observe(device, ev.Timestamp))
		}
	case Unrecognized:
	}

	if allowed, ok := ev.AllowedRoles(); ok && a.enabled(KindUnauthorized) {
		emit(a.unauthorized.observe(ev, allowed))
	}

	if fired > 0 {
		a.counters.flagged.Add(1)
	}
	return fired > 0
}

// InstrumentFields is Instrument with the event given field by field.
func (a *AttackDetector) InstrumentFields(
	ctx context.Context,
	name EventName,
	userRole, userID, sourceID string,
	ts time.Time,
	eventContext map[string]any,
) bool {
	return a.Instrument(ctx, Event{
		Name:      name,
		UserRole:  userRole,
		UserID:    userID,
		SourceID:  sourceID,
		Timestamp: ts,
		Context:   eventContext,
	})
}

func (a *AttackDetector) emit(ctx context.Context, ev Event, f *finding) {
	a.counters.anomalies[f.kind].Add(1)
	a.recorder.AnomalyRaised(f.kind)

	if a.sink == nil {
		return
	}
	if err := a.sink.Append(ctx, buildRecord(ev, f)); err != nil {
		a.counters.sinkErrors.Add(1)
		a.recorder.SinkFailed(f.kind)
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("kind", string(f.kind)).
			Msg("failed to append anomaly record")
	}
}

func buildRecord(ev Event, f *finding) Record {
	rec := make(Record, len(f.fields)+4)
	maps.Copy(rec, f.fields)
	rec["id"] = uuid.NewString()
	rec["timestamp"] = ev.Timestamp.Format(time.RFC3339Nano)
	rec["event"] = string(f.kind)
	rec["message"] = f.message
	return rec
}

func (a *AttackDetector) countEvent(p Payload) {
	name := p.eventName()
	if _, ok := p.(Unrecognized); ok {
		name = eventUnrecognized
	}
	a.counters.events[name].Add(1)
	a.recorder.EventRouted(name)
}

func (a *AttackDetector) enabled(kind Kind) bool {
	return !a.disabled[kind].Load()
}

// SetEnabled turns one detector on or off.
func (a *AttackDetector) SetEnabled(kind Kind, enabled bool) error {
	flag, ok := a.disabled[kind]
	if !ok {
		return fmt.Errorf("unknown detector kind %q", kind)
	}
	flag.Store(!enabled)
	logging.Info().Str("detector", string(kind)).Bool("enabled", enabled).Msg("detector toggled")
	return nil
}

// Enabled reports whether the detector for kind is on.
func (a *AttackDetector) Enabled(kind Kind) bool {
	flag, ok := a.disabled[kind]
	return ok && !flag.Load()
}

// Stats returns a snapshot of the dispatcher counters.
func (a *AttackDetector) Stats() Stats {
	s := Stats{
		Events:     make(map[EventName]int64, len(a.counters.events)),
		Anomalies:  make(map[Kind]int64, len(a.counters.anomalies)),
		SinkErrors: a.counters.sinkErrors.Load(),
		Flagged:    a.counters.flagged.Load(),
	}
	for name, c := range a.counters.events {
		s.Events[name] = c.Load()
	}
	for kind, c := range a.counters.anomalies {
		s.Anomalies[kind] = c.Load()
	}
	return s
}

// Power returns the power detector.
func (a *AttackDetector) Power() *PowerAnomalyDetector { return a.power }

// FailedLogin returns the failed-login detector.
func (a *AttackDetector) FailedLogin() *RateDetector { return a.failedLogin }

// PasswordReset returns the password-reset detector.
func (a *AttackDetector) PasswordReset() *RateDetector { return a.passwordReset }

// ToggleSpam returns the toggle-spam detector.
func (a *AttackDetector) ToggleSpam() *RateDetector { return a.toggleSpam }

// Role returns the role detector.
func (a *AttackDetector) Role() *RoleAnomalyDetector { return a.role }

// Geo returns the geo detector.
func (a *AttackDetector) Geo() *GeoAnomalyDetector { return a.geo }
