// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

// Package config loads the detector's configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"time"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/detection"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/exitnodes"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/geoip"
)

// Config is the complete application configuration.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Detection  DetectionConfig  `koanf:"detection"`
	GeoIP      GeoIPConfig      `koanf:"geoip"`
	ExitNodes  ExitNodesConfig  `koanf:"exit_nodes"`
	AnomalyLog AnomalyLogConfig `koanf:"anomaly_log"`
	NATS       NATSConfig       `koanf:"nats"`
	Server     ServerConfig     `koanf:"server"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// DetectionConfig holds the tunables of every detector.
type DetectionConfig struct {
	Power         PowerConfig `koanf:"power"`
	FailedLogin   RateConfig  `koanf:"failed_login"`
	PasswordReset RateConfig  `koanf:"password_reset"`
	ToggleSpam    RateConfig  `koanf:"toggle_spam"`
	Role          RoleConfig  `koanf:"role"`
	Geo           GeoConfig   `koanf:"geo"`

	// Disabled lists detector kinds switched off at startup.
	Disabled []string `koanf:"disabled" validate:"dive,oneof=power_anomaly failed_login_anomaly password_reset_anomaly toggle_spam role_anomaly geo_anomaly unauthorized_access_attempt"`
}

// PowerConfig configures the power spike detector.
type PowerConfig struct {
	SpikeThreshold float64 `koanf:"spike_threshold" validate:"gt=1"`
	MinSamples     int     `koanf:"min_samples" validate:"min=1"`
}

// RateConfig configures one sliding-window rate detector.
type RateConfig struct {
	Threshold int           `koanf:"threshold" validate:"min=1"`
	Window    time.Duration `koanf:"window" validate:"gt=0"`
}

// RoleConfig holds business hours as HH:MM in local time.
type RoleConfig struct {
	BusinessStart string `koanf:"business_start" validate:"required"`
	BusinessEnd   string `koanf:"business_end" validate:"required"`
}

// GeoConfig configures the location detector.
type GeoConfig struct {
	MaxSpeedKmH        float64       `koanf:"max_speed_kmh" validate:"gt=0"`
	HistoryWindow      time.Duration `koanf:"history_window" validate:"gt=0"`
	BlacklistCountries []string      `koanf:"blacklist_countries" validate:"dive,country_code"`

	// Overrides is a list rather than a map keyed by address because koanf
	// splits keys on dots.
	Overrides []GeoOverride `koanf:"overrides" validate:"dive"`
}

// GeoOverride pins an address to a location.
type GeoOverride struct {
	IP        string  `koanf:"ip" validate:"required,ip"`
	Latitude  float64 `koanf:"latitude" validate:"latitude"`
	Longitude float64 `koanf:"longitude" validate:"longitude"`
	Country   string  `koanf:"country" validate:"omitempty,country_code"`
}

// GeoIPConfig selects the live location source.
type GeoIPConfig struct {
	Provider    string        `koanf:"provider" validate:"oneof=none mmdb maxmind"`
	MMDBPath    string        `koanf:"mmdb_path" validate:"required_if=Provider mmdb"`
	AccountID   string        `koanf:"account_id" validate:"required_if=Provider maxmind"`
	LicenseKey  string        `koanf:"license_key" validate:"required_if=Provider maxmind"`
	BaseURL     string        `koanf:"base_url" validate:"omitempty,url"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`
	MaxFailures uint32        `koanf:"max_failures" validate:"min=1"`
	OpenTimeout time.Duration `koanf:"open_timeout" validate:"gt=0"`

	// CacheSize is the number of resolved addresses kept. Zero disables the cache.
	CacheSize int           `koanf:"cache_size" validate:"min=0"`
	CacheTTL  time.Duration `koanf:"cache_ttl" validate:"gt=0"`
}

// ExitNodesConfig configures the anonymizing exit node list.
type ExitNodesConfig struct {
	Enabled                bool          `koanf:"enabled"`
	SourceURL              string        `koanf:"source_url" validate:"omitempty,url"`
	RefreshInterval        time.Duration `koanf:"refresh_interval" validate:"gt=0"`
	HTTPTimeout            time.Duration `koanf:"http_timeout" validate:"gt=0"`
	RetryAttempts          int           `koanf:"retry_attempts" validate:"min=0,max=10"`
	RetryDelay             time.Duration `koanf:"retry_delay" validate:"gte=0"`
	ManualRefreshPerMinute int           `koanf:"manual_refresh_per_minute" validate:"min=1"`
	Seed                   []string      `koanf:"seed" validate:"dive,ip"`
}

// AnomalyLogConfig selects where anomaly records are written.
type AnomalyLogConfig struct {
	JSONLPath       string        `koanf:"jsonl_path"`
	BadgerPath      string        `koanf:"badger_path"`
	BadgerRetention time.Duration `koanf:"badger_retention" validate:"gte=0"`
	LogRecords      bool          `koanf:"log_records"`
}

// NATSConfig configures event ingestion from NATS JetStream.
type NATSConfig struct {
	Enabled          bool          `koanf:"enabled"`
	URL              string        `koanf:"url" validate:"required_if=Enabled true"`
	EmbeddedServer   bool          `koanf:"embedded_server"`
	StoreDir         string        `koanf:"store_dir"`
	Topic            string        `koanf:"topic" validate:"required"`
	QueueGroup       string        `koanf:"queue_group"`
	DurableName      string        `koanf:"durable_name" validate:"required"`
	SubscribersCount int           `koanf:"subscribers_count" validate:"min=1,max=64"`
	AckWait          time.Duration `koanf:"ack_wait" validate:"gt=0"`
	RetryCount       int           `koanf:"retry_count" validate:"min=0"`
	RetryInterval    time.Duration `koanf:"retry_interval" validate:"gte=0"`
	PoisonTopic      string        `koanf:"poison_topic"`
	CloseTimeout     time.Duration `koanf:"close_timeout" validate:"gt=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ToDetectorsConfig converts the detection section into detector configuration.
func (c *Config) ToDetectorsConfig() (detection.DetectorsConfig, error) {
	d := c.Detection
	start, err := detection.ParseTimeOfDay(d.Role.BusinessStart)
	if err != nil {
		return detection.DetectorsConfig{}, fmt.Errorf("detection.role.business_start: %w", err)
	}
	end, err := detection.ParseTimeOfDay(d.Role.BusinessEnd)
	if err != nil {
		return detection.DetectorsConfig{}, fmt.Errorf("detection.role.business_end: %w", err)
	}

	out := detection.DetectorsConfig{
		Power: detection.PowerConfig{
			SpikeThreshold: d.Power.SpikeThreshold,
			MinSamples:     d.Power.MinSamples,
		},
		FailedLogin:   detection.RateConfig(d.FailedLogin),
		PasswordReset: detection.RateConfig(d.PasswordReset),
		ToggleSpam:    detection.RateConfig(d.ToggleSpam),
		Role: detection.RoleConfig{
			BusinessStart: start,
			BusinessEnd:   end,
		},
		Geo: detection.GeoConfig{
			MaxSpeedKmH:        d.Geo.MaxSpeedKmH,
			HistoryWindow:      d.Geo.HistoryWindow,
			BlacklistCountries: append([]string(nil), d.Geo.BlacklistCountries...),
		},
	}
	if err := out.Validate(); err != nil {
		return detection.DetectorsConfig{}, err
	}
	return out, nil
}

// DisabledKinds returns the detector kinds switched off at startup.
func (c *Config) DisabledKinds() []detection.Kind {
	kinds := make([]detection.Kind, len(c.Detection.Disabled))
	for i, k := range c.Detection.Disabled {
		kinds[i] = detection.Kind(k)
	}
	return kinds
}

// OverrideTable returns the geo overrides keyed by address.
func (c *Config) OverrideTable() map[string]geoip.Location {
	table := make(map[string]geoip.Location, len(c.Detection.Geo.Overrides))
	for _, o := range c.Detection.Geo.Overrides {
		table[o.IP] = geoip.Location{
			Latitude:  o.Latitude,
			Longitude: o.Longitude,
			Country:   o.Country,
		}
	}
	return table
}

// ToUpdaterConfig converts the exit node section.
func (c *Config) ToUpdaterConfig() exitnodes.UpdaterConfig {
	e := c.ExitNodes
	return exitnodes.UpdaterConfig{
		SourceURL:       e.SourceURL,
		RefreshInterval: e.RefreshInterval,
		HTTPTimeout:     e.HTTPTimeout,
		RetryAttempts:   e.RetryAttempts,
		RetryDelay:      e.RetryDelay,
		ManualPerMinute: e.ManualRefreshPerMinute,
		Pinned:          append([]string(nil), e.Seed...),
	}
}

// ToGuardConfig converts the geoip breaker settings.
func (c *Config) ToGuardConfig() geoip.GuardConfig {
	return geoip.GuardConfig{
		Timeout:     c.GeoIP.Timeout,
		MaxFailures: c.GeoIP.MaxFailures,
		OpenTimeout: c.GeoIP.OpenTimeout,
	}
}
