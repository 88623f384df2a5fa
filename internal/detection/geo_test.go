// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package detection

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/geoip"
)

// mockExitNodes is a fixed exit-node set.
type mockExitNodes map[string]bool

func (m mockExitNodes) Contains(ip string) bool { return m[ip] }

var testLocations = map[string]geoip.Location{
	"10.0.0.1": {Latitude: 40.7, Longitude: -74.0, Country: "US"},      // New York
	"10.0.0.2": {Latitude: 35.7, Longitude: 139.7, Country: "JP"},      // Tokyo
	"10.0.0.3": {Latitude: 51.5074, Longitude: -0.1278, Country: "GB"}, // London
	"10.0.0.4": {Latitude: 48.8566, Longitude: 2.3522, Country: "FR"},  // Paris
	"10.0.0.5": {Latitude: 39.0, Longitude: 125.7, Country: "KP"},      // Pyongyang
	"10.0.0.6": {Latitude: 40.7, Longitude: -74.0, Country: "US"},      // TOR exit, safe country
}

func newGeoDetector(t *testing.T, resolver geoip.Resolver) *GeoAnomalyDetector {
	t.Helper()
	if resolver == nil {
		resolver = geoip.NewStatic(testLocations)
	}
	d, err := NewGeoAnomalyDetector(DefaultGeoConfig(), resolver, mockExitNodes{"10.0.0.6": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return d
}

func TestGeoExitNodeFlagsUnconditionally(t *testing.T) {
	d := newGeoDetector(t, nil)

	flagged, msg := d.Detect(context.Background(), "alice", "10.0.0.6", baseTime)
	if !flagged {
		t.Fatal("expected exit node to flag")
	}
	if msg != "Access from known TOR exit node IP" {
		t.Errorf("unexpected message %q", msg)
	}
	if d.HistoryLen("alice") != 0 {
		t.Error("expected exit node login to leave history untouched")
	}
}

func TestGeoBlacklistedCountry(t *testing.T) {
	d := newGeoDetector(t, nil)

	flagged, msg := d.Detect(context.Background(), "bob", "10.0.0.5", baseTime)
	if !flagged {
		t.Fatal("expected blacklisted country to flag")
	}
	if msg != "Access from blacklisted country KP" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestGeoImpossibleTravel(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		elapsed time.Duration
		flagged bool
	}{
		{"new york to tokyo in 10 minutes", "10.0.0.1", "10.0.0.2", 10 * time.Minute, true},
		{"new york to tokyo in 2 hours", "10.0.0.1", "10.0.0.2", 2 * time.Hour, true},
		{"london to paris in 2 hours", "10.0.0.3", "10.0.0.4", 2 * time.Hour, false},
		{"same city", "10.0.0.1", "10.0.0.1", time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newGeoDetector(t, nil)
			ctx := context.Background()

			if flagged, msg := d.Detect(ctx, "carol", tt.from, baseTime); flagged {
				t.Fatalf("first login flagged: %s", msg)
			}
			flagged, msg := d.Detect(ctx, "carol", tt.to, baseTime.Add(tt.elapsed))
			if flagged != tt.flagged {
				t.Errorf("flagged = %v, want %v (%s)", flagged, tt.flagged, msg)
			}
			if flagged && !strings.HasPrefix(msg, "Impossible travel detected for carol:") {
				t.Errorf("unexpected message %q", msg)
			}
			if d.HistoryLen("carol") != 2 {
				t.Errorf("expected both logins in history, got %d", d.HistoryLen("carol"))
			}
		})
	}
}

func TestGeoComparesAgainstWholeHistory(t *testing.T) {
	d := newGeoDetector(t, nil)
	ctx := context.Background()

	d.Seed("dave", baseTime.Add(-3*time.Hour), 35.7, 139.7) // Tokyo
	d.Seed("dave", baseTime.Add(-2*time.Hour), 40.7, -74.0) // New York

	// The latest entry is New York itself; only the older Tokyo entry
	// implies impossible travel.
	if flagged, _ := d.Detect(ctx, "dave", "10.0.0.1", baseTime); !flagged {
		t.Error("expected comparison against the older Tokyo entry to flag")
	}
}

func TestGeoSkipsNonPositiveElapsed(t *testing.T) {
	d := newGeoDetector(t, nil)
	ctx := context.Background()

	d.Detect(ctx, "erin", "10.0.0.1", baseTime)
	if flagged, msg := d.Detect(ctx, "erin", "10.0.0.2", baseTime); flagged {
		t.Errorf("expected zero elapsed time to be skipped, got %s", msg)
	}
	if flagged, msg := d.Detect(ctx, "erin", "10.0.0.3", baseTime.Add(-time.Hour)); flagged {
		t.Errorf("expected negative elapsed time to be skipped, got %s", msg)
	}
}

func TestGeoHistoryPrunedAfterWindow(t *testing.T) {
	d := newGeoDetector(t, nil)
	ctx := context.Background()

	d.Detect(ctx, "frank", "10.0.0.1", baseTime)
	// A day is enough to fly to Tokyo, and the New York entry ages out.
	if flagged, msg := d.Detect(ctx, "frank", "10.0.0.2", baseTime.Add(24*time.Hour)); flagged {
		t.Errorf("expected entry 24h old to be ignored, got %s", msg)
	}
	if d.HistoryLen("frank") != 1 {
		t.Errorf("expected pruned history of 1, got %d", d.HistoryLen("frank"))
	}
}

func TestGeoUnresolvedLeavesStateUntouched(t *testing.T) {
	var calls atomic.Int32
	failing := geoip.ResolverFunc(func(context.Context, string) (geoip.Location, error) {
		calls.Add(1)
		return geoip.Location{}, errors.New("resolver offline")
	})
	d := newGeoDetector(t, failing)

	if flagged, _ := d.Detect(context.Background(), "gina", "8.8.8.8", baseTime); flagged {
		t.Error("expected unresolved IP not to flag")
	}
	if calls.Load() != 1 {
		t.Errorf("expected one resolver call, got %d", calls.Load())
	}
	if d.HistoryLen("gina") != 0 {
		t.Error("expected no history for unresolved login")
	}
}

func TestGeoConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*GeoConfig)
	}{
		{"zero speed", func(c *GeoConfig) { c.MaxSpeedKmH = 0 }},
		{"negative window", func(c *GeoConfig) { c.HistoryWindow = -time.Hour }},
		{"bad country", func(c *GeoConfig) { c.BlacklistCountries = []string{"IRN"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultGeoConfig()
			tt.modify(&cfg)
			if _, err := NewGeoAnomalyDetector(cfg, nil, nil); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestHaversineDistance(t *testing.T) {
	tests := []struct {
		name       string
		lat1, lon1 float64
		lat2, lon2 float64
		want       float64
		tolerance  float64
	}{
		{"same point", 40.7, -74.0, 40.7, -74.0, 0, 0.001},
		{"london to paris", 51.5074, -0.1278, 48.8566, 2.3522, 343.5, 2},
		{"new york to tokyo", 40.7, -74.0, 35.7, 139.7, 10850, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := haversineDistance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("haversineDistance = %.1f, want %.1f ± %.1f", got, tt.want, tt.tolerance)
			}
		})
	}
}
