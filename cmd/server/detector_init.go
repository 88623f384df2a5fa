// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/anomalylog"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/config"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/detection"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/exitnodes"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/geoip"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/logging"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/metrics"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/websocket"
)

// DetectorComponents holds the detector and everything it writes to or
// reads from.
type DetectorComponents struct {
	Detector  *detection.AttackDetector
	Store     *anomalylog.Store  // nil unless anomaly_log.badger_path is set
	ExitNodes *exitnodes.Set
	Updater   *exitnodes.Updater // nil unless exit_nodes.enabled
	Hub       *websocket.Hub     // nil unless server.enabled

	closers []io.Closer
}

// InitDetector builds sinks, the location resolver and the exit-node list,
// then the detector itself with cfg's disabled kinds switched off.
func InitDetector(cfg *config.Config) (*DetectorComponents, error) {
	c := &DetectorComponents{}

	detectorsCfg, err := cfg.ToDetectorsConfig()
	if err != nil {
		return nil, err
	}

	sink, err := c.initSinks(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	resolver, err := c.initResolver(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.initExitNodes(cfg)

	opts := []detection.Option{
		detection.WithSink(sink),
		detection.WithOverrides(cfg.OverrideTable()),
		detection.WithExitNodes(c.ExitNodes),
		detection.WithRecorder(metrics.Recorder{}),
	}
	if resolver != nil {
		opts = append(opts, detection.WithResolver(resolver))
	}

	c.Detector, err = detection.New(detectorsCfg, opts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create detector: %w", err)
	}

	for _, kind := range cfg.DisabledKinds() {
		if err := c.Detector.SetEnabled(kind, false); err != nil {
			c.Close()
			return nil, err
		}
	}

	logging.Info().
		Int("overrides", len(cfg.Detection.Geo.Overrides)).
		Int("exit_nodes", c.ExitNodes.Len()).
		Strs("blacklist", cfg.Detection.Geo.BlacklistCountries).
		Msg("Attack detector initialized")
	return c, nil
}

// initSinks opens every configured anomaly sink. The JSON Lines file is
// always written.
func (c *DetectorComponents) initSinks(cfg *config.Config) (detection.Sink, error) {
	jsonl, err := anomalylog.OpenJSONLines(cfg.AnomalyLog.JSONLPath)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, jsonl)
	logging.Info().Str("path", jsonl.Path()).Msg("Anomaly log file opened")

	sinks := []detection.Sink{jsonl}

	if cfg.AnomalyLog.BadgerPath != "" {
		store, err := anomalylog.OpenStore(anomalylog.StoreConfig{
			Path:      cfg.AnomalyLog.BadgerPath,
			Retention: cfg.AnomalyLog.BadgerRetention,
		})
		if err != nil {
			return nil, err
		}
		c.Store = store
		c.closers = append(c.closers, store)
		sinks = append(sinks, store)
	}

	if cfg.AnomalyLog.LogRecords {
		sinks = append(sinks, anomalylog.NewZerolog())
	}

	if cfg.Server.Enabled {
		c.Hub = websocket.NewHub()
		sinks = append(sinks, c.Hub)
	}

	return anomalylog.NewMulti(sinks...), nil
}

// initResolver returns nil when no live provider is configured; overrides
// still apply.
func (c *DetectorComponents) initResolver(cfg *config.Config) (geoip.Resolver, error) {
	var live geoip.Resolver

	switch cfg.GeoIP.Provider {
	case "mmdb":
		db, err := geoip.OpenMMDB(cfg.GeoIP.MMDBPath)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, db)
		live = db
	case "maxmind":
		live = geoip.NewWebService(cfg.GeoIP.BaseURL, cfg.GeoIP.AccountID, cfg.GeoIP.LicenseKey, cfg.GeoIP.Timeout)
	default:
		logging.Info().Msg("No live geolocation provider configured; using overrides only")
		return nil, nil
	}

	var resolver geoip.Resolver = geoip.NewGuarded(live, cfg.ToGuardConfig(), metrics.RecordGeoResolve)
	if cfg.GeoIP.CacheSize > 0 {
		resolver = geoip.NewCached(resolver, cfg.GeoIP.CacheSize, cfg.GeoIP.CacheTTL, metrics.RecordGeoResolve)
	}

	logging.Info().
		Str("provider", cfg.GeoIP.Provider).
		Int("cache_size", cfg.GeoIP.CacheSize).
		Msg("Geolocation provider configured")
	return resolver, nil
}

func (c *DetectorComponents) initExitNodes(cfg *config.Config) {
	c.ExitNodes = exitnodes.NewSet(cfg.ExitNodes.Seed...)
	if !cfg.ExitNodes.Enabled {
		logging.Info().Int("seeded", c.ExitNodes.Len()).Msg("Exit node refresh disabled")
		return
	}
	c.Updater = exitnodes.NewUpdater(c.ExitNodes, cfg.ToUpdaterConfig(), metrics.RecordExitNodeRefresh)
}

// Close closes sinks and the geolocation database in reverse open order.
func (c *DetectorComponents) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
