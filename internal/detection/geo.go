// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package detection

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/geoip"
)

const earthRadiusKm = 6371.0

// GeoConfig configures the geo anomaly detector.
type GeoConfig struct {
	// MaxSpeedKmH is the fastest plausible travel speed between two logins.
	// 900 km/h is roughly a commercial flight.
	MaxSpeedKmH float64 `json:"max_speed_kmh"`

	// HistoryWindow is how long past locations are remembered.
	HistoryWindow time.Duration `json:"history_window"`

	// BlacklistCountries are ISO 3166-1 alpha-2 codes that always flag.
	BlacklistCountries []string `json:"blacklist_countries"`
}

// DefaultGeoConfig returns the default geo configuration.
func DefaultGeoConfig() GeoConfig {
	return GeoConfig{
		MaxSpeedKmH:        900,
		HistoryWindow:      24 * time.Hour,
		BlacklistCountries: []string{"KP", "SY", "IR", "CU"},
	}
}

// Validate checks the configuration.
func (c GeoConfig) Validate() error {
	if c.MaxSpeedKmH <= 0 {
		return invalidf("max_speed_kmh must be positive, got %v", c.MaxSpeedKmH)
	}
	if c.HistoryWindow <= 0 {
		return invalidf("history_window must be positive, got %s", c.HistoryWindow)
	}
	for _, cc := range c.BlacklistCountries {
		if len(strings.TrimSpace(cc)) != 2 {
			return invalidf("blacklist country %q is not a two-letter code", cc)
		}
	}
	return nil
}

type locationSample struct {
	at       time.Time
	lat, lon float64
}

type locationHistory struct {
	samples []locationSample
}

// GeoAnomalyDetector flags logins from exit nodes, blacklisted countries and
// locations the user could not have reached since a previous login.
type GeoAnomalyDetector struct {
	config    GeoConfig
	blacklist map[string]struct{}
	resolver  geoip.Resolver
	exitNodes ExitNodeSet
	users     *keyedState[locationHistory]
}

// NewGeoAnomalyDetector creates a geo detector. resolver and exitNodes may be nil.
func NewGeoAnomalyDetector(cfg GeoConfig, resolver geoip.Resolver, exitNodes ExitNodeSet) (*GeoAnomalyDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		resolver = geoip.NewChain()
	}
	blacklist := make(map[string]struct{}, len(cfg.BlacklistCountries))
	for _, cc := range cfg.BlacklistCountries {
		blacklist[strings.ToUpper(strings.TrimSpace(cc))] = struct{}{}
	}
	return &GeoAnomalyDetector{
		config:    cfg,
		blacklist: blacklist,
		resolver:  resolver,
		exitNodes: exitNodes,
		users:     newKeyedState[locationHistory](),
	}, nil
}

// Detect checks a login by userID from ip at ts.
func (d *GeoAnomalyDetector) Detect(ctx context.Context, userID, ip string, ts time.Time) (bool, string) {
	f := d.observe(ctx, userID, ip, ts)
	if f == nil {
		return false, ""
	}
	return true, f.message
}

// Seed records a known prior location for userID without checking it.
func (d *GeoAnomalyDetector) Seed(userID string, at time.Time, lat, lon float64) {
	d.users.update(userID, func(h *locationHistory) {
		h.insert(locationSample{at: at, lat: lat, lon: lon}, d.config.HistoryWindow)
	})
}

// HistoryLen returns how many locations are remembered for userID.
func (d *GeoAnomalyDetector) HistoryLen(userID string) int {
	n := 0
	d.users.view(userID, func(h *locationHistory) { n = len(h.samples) })
	return n
}

func (d *GeoAnomalyDetector) observe(ctx context.Context, userID, ip string, ts time.Time) *finding {
	if d.exitNodes != nil && d.exitNodes.Contains(ip) {
		return d.finding(userID, ip, "exit_node", "Access from known TOR exit node IP")
	}

	// Resolve before taking the user's lock; the resolver may block.
	loc, err := d.resolver.Resolve(ctx, ip)
	if err != nil {
		return nil
	}

	country := strings.ToUpper(loc.Country)
	if _, banned := d.blacklist[country]; banned {
		return d.finding(userID, ip, "blacklisted_country", fmt.Sprintf("Access from blacklisted country %s", country))
	}

	var msg string
	d.users.update(userID, func(h *locationHistory) {
		for _, prev := range h.samples {
			elapsed := ts.Sub(prev.at)
			if elapsed <= 0 {
				continue
			}
			distance := haversineDistance(prev.lat, prev.lon, loc.Latitude, loc.Longitude)
			hours := elapsed.Hours()
			speed := distance / hours
			if speed > d.config.MaxSpeedKmH {
				msg = fmt.Sprintf("Impossible travel detected for %s: %.1f km in %.1f minutes (speed: %.1f km/h)",
					userID, distance, hours*60, speed)
				break
			}
		}
		h.insert(locationSample{at: ts, lat: loc.Latitude, lon: loc.Longitude}, d.config.HistoryWindow)
	})

	if msg == "" {
		return nil
	}
	return d.finding(userID, ip, "impossible_travel", msg)
}

func (d *GeoAnomalyDetector) finding(userID, ip, reason, msg string) *finding {
	return &finding{
		kind:    KindGeo,
		message: msg,
		fields: map[string]any{
			"user_id":    userID,
			"ip_address": ip,
			"reason":     reason,
		},
	}
}

// insert keeps samples in timestamp order and drops those a full window
// older than the newest one.
func (h *locationHistory) insert(s locationSample, window time.Duration) {
	i := sort.Search(len(h.samples), func(i int) bool { return h.samples[i].at.After(s.at) })
	h.samples = append(h.samples, locationSample{})
	copy(h.samples[i+1:], h.samples[i:])
	h.samples[i] = s

	newest := h.samples[len(h.samples)-1].at
	cut := 0
	for cut < len(h.samples) && newest.Sub(h.samples[cut].at) >= window {
		cut++
	}
	if cut > 0 {
		h.samples = append(h.samples[:0], h.samples[cut:]...)
	}
}

// haversineDistance returns the great-circle distance in kilometers.
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
