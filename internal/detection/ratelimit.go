// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package detection

import (
	"fmt"
	"sort"
	"time"
)

// RateConfig configures a sliding-window rate detector.
type RateConfig struct {
	// Threshold is the largest count that is still allowed inside Window.
	Threshold int `json:"threshold"`

	// Window is the trailing interval events are counted over.
	Window time.Duration `json:"window"`
}

// DefaultFailedLoginConfig allows 5 failed logins per minute.
func DefaultFailedLoginConfig() RateConfig {
	return RateConfig{Threshold: 5, Window: time.Minute}
}

// DefaultPasswordResetConfig allows 3 password resets per 5 minutes.
func DefaultPasswordResetConfig() RateConfig {
	return RateConfig{Threshold: 3, Window: 5 * time.Minute}
}

// DefaultToggleSpamConfig allows 10 device toggles per 30 seconds.
func DefaultToggleSpamConfig() RateConfig {
	return RateConfig{Threshold: 10, Window: 30 * time.Second}
}

// Validate checks the configuration.
func (c RateConfig) Validate() error {
	if c.Threshold < 1 {
		return invalidf("threshold must be at least 1, got %d", c.Threshold)
	}
	if c.Window <= 0 {
		return invalidf("window must be positive, got %s", c.Window)
	}
	return nil
}

// rateProfile is what differs between the members of the rate family.
type rateProfile struct {
	kind        Kind
	entityField string
	countField  string
	windowField string
	windowUnit  time.Duration
	format      string
}

var (
	failedLoginProfile = rateProfile{
		kind:        KindFailedLogin,
		entityField: "user_id",
		countField:  "attempt_count",
		windowField: "time_window_minutes",
		windowUnit:  time.Minute,
		format:      "User %s has %d failed login attempts in the last %d minutes",
	}
	passwordResetProfile = rateProfile{
		kind:        KindPasswordReset,
		entityField: "user_id",
		countField:  "attempt_count",
		windowField: "time_window_minutes",
		windowUnit:  time.Minute,
		format:      "User %s made %d password reset attempts in the last %d minutes",
	}
	toggleSpamProfile = rateProfile{
		kind:        KindToggleSpam,
		entityField: "device_id",
		countField:  "count",
		windowField: "time_window_seconds",
		windowUnit:  time.Second,
		format:      "Device %s has %d toggle commands in the last %d seconds",
	}
)

// timestamps holds one key's window, oldest first.
type timestamps struct {
	at []time.Time
}

// RateDetector counts events per key over a trailing window and flags once
// the count strictly exceeds the threshold.
type RateDetector struct {
	profile rateProfile
	config  RateConfig
	windows *keyedState[timestamps]
}

func newRateDetector(p rateProfile, cfg RateConfig) (*RateDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", p.kind, err)
	}
	return &RateDetector{profile: p, config: cfg, windows: newKeyedState[timestamps]()}, nil
}

// NewFailedLoginDetector creates the failed-login rate detector, keyed by user.
func NewFailedLoginDetector(cfg RateConfig) (*RateDetector, error) {
	return newRateDetector(failedLoginProfile, cfg)
}

// NewPasswordResetDetector creates the password-reset rate detector, keyed by user.
func NewPasswordResetDetector(cfg RateConfig) (*RateDetector, error) {
	return newRateDetector(passwordResetProfile, cfg)
}

// NewToggleSpamDetector creates the toggle-spam rate detector, keyed by device.
func NewToggleSpamDetector(cfg RateConfig) (*RateDetector, error) {
	return newRateDetector(toggleSpamProfile, cfg)
}

// Kind returns the anomaly kind this detector emits.
func (d *RateDetector) Kind() Kind { return d.profile.kind }

// Detect counts an event for key at ts and reports whether the window overflowed.
func (d *RateDetector) Detect(key string, ts time.Time) (bool, string) {
	f := d.observe(key, ts)
	if f == nil {
		return false, ""
	}
	return true, f.message
}

// Count returns how many events are currently held for key.
func (d *RateDetector) Count(key string) int {
	n := 0
	d.windows.view(key, func(s *timestamps) { n = len(s.at) })
	return n
}

func (d *RateDetector) observe(key string, ts time.Time) *finding {
	var count int
	d.windows.update(key, func(s *timestamps) {
		// Keep the window sorted; a late event is slotted in rather than appended.
		i := sort.Search(len(s.at), func(i int) bool { return s.at[i].After(ts) })
		s.at = append(s.at, time.Time{})
		copy(s.at[i+1:], s.at[i:])
		s.at[i] = ts

		// Prune relative to the newest timestamp seen for the key, which is ts
		// unless ts arrived out of order.
		now := s.at[len(s.at)-1]
		cut := 0
		for cut < len(s.at) && now.Sub(s.at[cut]) > d.config.Window {
			cut++
		}
		if cut > 0 {
			s.at = append(s.at[:0], s.at[cut:]...)
		}
		count = len(s.at)
	})

	if count <= d.config.Threshold {
		return nil
	}

	window := int64(d.config.Window / d.profile.windowUnit)
	return &finding{
		kind:    d.profile.kind,
		message: fmt.Sprintf(d.profile.format, key, count, window),
		fields: map[string]any{
			d.profile.entityField: key,
			d.profile.countField:  count,
			d.profile.windowField: window,
		},
	}
}
