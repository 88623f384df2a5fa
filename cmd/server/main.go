// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

// Package main runs the smart home attack detector.
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, optional YAML file, then environment variables (Koanf v2)
//  2. Logging: zerolog, with an slog bridge for the supervisor
//  3. Detector: anomaly sinks, geolocation resolver, exit-node list and the rule set
//  4. Supervisor tree: exit-node refresher, NATS ingest, the anomaly stream hub
//     and the HTTP API as services
//
// # Configuration
//
// Point CONFIG_PATH at a YAML file, or set individual keys through the
// environment:
//
//	export GEOIP_PROVIDER=mmdb
//	export GEOIP_MMDB_PATH=/data/GeoLite2-City.mmdb
//	export NATS_ENABLED=true
//	export NATS_EMBEDDED=false
//	export NATS_URL=nats://localhost:4222
//	./attack-detector
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the supervisor tree. Every service stops within
// its own shutdown timeout, then the anomaly sinks are flushed and closed.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/api"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/config"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/logging"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/supervisor"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/supervisor/services"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("geoip_provider", cfg.GeoIP.Provider).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Bool("server_enabled", cfg.Server.Enabled).
		Bool("exit_nodes_enabled", cfg.ExitNodes.Enabled).
		Msg("Configuration loaded")

	components, err := InitDetector(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize attack detector")
	}
	defer func() {
		if err := components.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing anomaly sinks")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	if components.Updater != nil {
		tree.AddFeedService(services.NewExitNodeService(components.Updater))
		logging.Info().Dur("interval", components.Updater.Interval()).Msg("Exit node refresher added to supervisor tree")
	}

	var natsService *services.NATSComponentsService
	if natsComponents := InitNATS(cfg, components.Detector); natsComponents != nil {
		natsService = services.NewNATSComponentsService(natsComponents, cfg.NATS.CloseTimeout)
		tree.AddIngestService(natsService)
		logging.Info().Str("topic", cfg.NATS.Topic).Msg("NATS ingest added to supervisor tree")
	}

	if components.Hub != nil {
		tree.AddAPIService(services.NewWebSocketHubService(components.Hub))
	}

	if cfg.Server.Enabled {
		server := newHTTPServer(cfg, components, natsService)
		tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
		logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")
	}

	if natsService == nil && !cfg.Server.Enabled {
		logging.Warn().Msg("Neither NATS nor the HTTP API is enabled; no events will be ingested")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	stats := components.Detector.Stats()
	logging.Info().
		Int64("flagged_events", stats.Flagged).
		Int64("sink_errors", stats.SinkErrors).
		Msg("Application stopped gracefully")
}

// newHTTPServer wires the API handler to the detector and its optional
// companions. natsService may be nil.
func newHTTPServer(cfg *config.Config, c *DetectorComponents, natsService *services.NATSComponentsService) *http.Server {
	var opts []api.HandlerOption
	if c.Updater != nil {
		opts = append(opts, api.WithExitNodes(c.Updater))
	}
	if c.Store != nil {
		opts = append(opts, api.WithAnomalyReader(c.Store))
	}
	if c.Hub != nil {
		opts = append(opts, api.WithStream(websocket.NewHandler(c.Hub, cfg.Server.CORSOrigins)))
		opts = append(opts, api.WithHealthCheck("anomaly_stream", api.HealthCheckFunc(c.Hub.Running)))
	}
	if natsService != nil {
		opts = append(opts, api.WithHealthCheck("nats", natsService))
	}
	handler := api.NewHandler(c.Detector, opts...)

	routerCfg := api.DefaultRouterConfig()
	routerCfg.Timeout = cfg.Server.Timeout
	routerCfg.Middleware.RateLimitRequests = cfg.Server.RateLimitReqs
	routerCfg.Middleware.RateLimitWindow = cfg.Server.RateLimitWindow
	if len(cfg.Server.CORSOrigins) > 0 {
		routerCfg.Middleware.CORSAllowedOrigins = cfg.Server.CORSOrigins
	}

	return &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(handler, routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}
}
