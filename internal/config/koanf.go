// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/exitnodes"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/geoip"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/en4720/config.yaml",
	"/etc/en4720/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	guard := geoip.DefaultGuardConfig()
	updater := exitnodes.DefaultUpdaterConfig()

	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Detection: DetectionConfig{
			Power: PowerConfig{
				SpikeThreshold: 1.5,
				MinSamples:     10,
			},
			FailedLogin:   RateConfig{Threshold: 5, Window: time.Minute},
			PasswordReset: RateConfig{Threshold: 3, Window: 5 * time.Minute},
			ToggleSpam:    RateConfig{Threshold: 10, Window: 30 * time.Second},
			Role: RoleConfig{
				BusinessStart: "09:00",
				BusinessEnd:   "18:00",
			},
			Geo: GeoConfig{
				MaxSpeedKmH:        900,
				HistoryWindow:      24 * time.Hour,
				BlacklistCountries: []string{"KP", "SY", "IR", "CU"},
			},
		},
		GeoIP: GeoIPConfig{
			Provider:    "none",
			Timeout:     guard.Timeout,
			MaxFailures: guard.MaxFailures,
			OpenTimeout: guard.OpenTimeout,
			CacheSize:   10000,
			CacheTTL:    time.Hour,
		},
		ExitNodes: ExitNodesConfig{
			Enabled:                false, // opt-in: needs outbound network access
			SourceURL:              updater.SourceURL,
			RefreshInterval:        updater.RefreshInterval,
			HTTPTimeout:            updater.HTTPTimeout,
			RetryAttempts:          updater.RetryAttempts,
			RetryDelay:             updater.RetryDelay,
			ManualRefreshPerMinute: updater.ManualPerMinute,
		},
		AnomalyLog: AnomalyLogConfig{
			JSONLPath:  "logs.json",
			LogRecords: true,
		},
		NATS: NATSConfig{
			Enabled:          false,
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   true,
			StoreDir:         "/data/nats/jetstream",
			Topic:            "smarthome.events",
			QueueGroup:       "detectors",
			DurableName:      "attack-detector",
			SubscribersCount: 1,
			AckWait:          30 * time.Second,
			RetryCount:       3,
			RetryInterval:    100 * time.Millisecond,
			PoisonTopic:      "smarthome.events.poison",
			CloseTimeout:     30 * time.Second,
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8080,
			Timeout:         30 * time.Second,
			RateLimitReqs:   600,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
	}
}

// Load reads configuration in three layers: built-in defaults, then the
// first config file found, then mapped environment variables.
func Load() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// LOG_LEVEL -> logging.level, GEO_MAX_SPEED_KMH -> detection.geo.max_speed_kmh
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"detection.disabled",
	"detection.geo.blacklist_countries",
	"exit_nodes.seed",
	"server.cors_origins",
}

// processSliceFields splits comma-separated strings from the environment
// for fields that are slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		trimmed := make([]string, 0)
		for _, p := range strings.Split(strVal, ",") {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps upper-cased environment variable names, lowered, to
// config paths. Unlisted variables are ignored.
var envMappings = map[string]string{
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"power_spike_threshold":    "detection.power.spike_threshold",
	"power_min_samples":        "detection.power.min_samples",
	"failed_login_threshold":   "detection.failed_login.threshold",
	"failed_login_window":      "detection.failed_login.window",
	"password_reset_threshold": "detection.password_reset.threshold",
	"password_reset_window":    "detection.password_reset.window",
	"toggle_spam_threshold":    "detection.toggle_spam.threshold",
	"toggle_spam_window":       "detection.toggle_spam.window",
	"business_start":           "detection.role.business_start",
	"business_end":             "detection.role.business_end",
	"geo_max_speed_kmh":        "detection.geo.max_speed_kmh",
	"geo_history_window":       "detection.geo.history_window",
	"geo_blacklist_countries":  "detection.geo.blacklist_countries",
	"detectors_disabled":       "detection.disabled",

	"geoip_provider":      "geoip.provider",
	"geoip_mmdb_path":     "geoip.mmdb_path",
	"maxmind_account_id":  "geoip.account_id",
	"maxmind_license_key": "geoip.license_key",
	"maxmind_base_url":    "geoip.base_url",
	"geoip_timeout":       "geoip.timeout",
	"geoip_max_failures":  "geoip.max_failures",
	"geoip_open_timeout":  "geoip.open_timeout",
	"geoip_cache_size":    "geoip.cache_size",
	"geoip_cache_ttl":     "geoip.cache_ttl",

	"exit_nodes_enabled":           "exit_nodes.enabled",
	"exit_nodes_url":               "exit_nodes.source_url",
	"exit_nodes_refresh_interval":  "exit_nodes.refresh_interval",
	"exit_nodes_http_timeout":      "exit_nodes.http_timeout",
	"exit_nodes_retry_attempts":    "exit_nodes.retry_attempts",
	"exit_nodes_retry_delay":       "exit_nodes.retry_delay",
	"exit_nodes_manual_per_minute": "exit_nodes.manual_refresh_per_minute",
	"exit_nodes_seed":              "exit_nodes.seed",

	"anomaly_log_path":         "anomaly_log.jsonl_path",
	"anomaly_badger_path":      "anomaly_log.badger_path",
	"anomaly_badger_retention": "anomaly_log.badger_retention",
	"anomaly_log_records":      "anomaly_log.log_records",

	"nats_enabled":        "nats.enabled",
	"nats_url":            "nats.url",
	"nats_embedded":       "nats.embedded_server",
	"nats_store_dir":      "nats.store_dir",
	"nats_topic":          "nats.topic",
	"nats_queue_group":    "nats.queue_group",
	"nats_durable_name":   "nats.durable_name",
	"nats_subscribers":    "nats.subscribers_count",
	"nats_ack_wait":       "nats.ack_wait",
	"nats_retry_count":    "nats.retry_count",
	"nats_retry_interval": "nats.retry_interval",
	"nats_poison_topic":   "nats.poison_topic",
	"nats_close_timeout":  "nats.close_timeout",

	"http_enabled":        "server.enabled",
	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_timeout":        "server.timeout",
	"rate_limit_requests": "server.rate_limit_reqs",
	"rate_limit_window":   "server.rate_limit_window",
	"cors_origins":        "server.cors_origins",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
