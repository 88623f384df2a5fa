// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/config"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/eventprocessor"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/logging"
)

// NATSComponents is the JetStream ingest pipeline: optional embedded server,
// connection, stream, poison-queue publisher, router and the detection
// subscriber. Start builds everything and Shutdown tears it down, so the
// supervisor can restart the pipeline from scratch.
type NATSComponents struct {
	cfg      config.NATSConfig
	detector eventprocessor.Instrumenter

	server     *eventprocessor.EmbeddedServer
	natsConn   *natsgo.Conn
	publisher  *eventprocessor.Publisher
	router     *eventprocessor.Router
	subscriber *eventprocessor.Subscriber
	handler    *eventprocessor.DetectionHandler
	routerDone chan error

	mu      sync.Mutex
	running bool
}

// InitNATS returns nil when NATS ingestion is disabled.
func InitNATS(cfg *config.Config, detector eventprocessor.Instrumenter) *NATSComponents {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("NATS event ingestion disabled")
		return nil
	}
	return &NATSComponents{cfg: cfg.NATS, detector: detector}
}

// Start connects to NATS and runs the router until ctx is canceled or
// Shutdown is called. It returns once every handler is subscribed.
func (c *NATSComponents) Start(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.build(ctx); err != nil {
		c.teardown(context.Background())
		return err
	}

	logging.Info().Msg("Starting Watermill Router...")
	c.routerDone = make(chan error, 1)
	router := c.router
	go func() { c.routerDone <- router.Run(ctx) }()

	select {
	case <-router.Running():
		logging.Info().Str("topic", c.cfg.Topic).Msg("Watermill Router started")
	case err := <-c.routerDone:
		c.teardown(context.Background())
		if err == nil {
			err = ctx.Err()
		}
		return fmt.Errorf("router stopped during start: %w", err)
	case <-ctx.Done():
		c.teardown(context.Background())
		return fmt.Errorf("context canceled while starting router: %w", ctx.Err())
	}

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	return nil
}

func (c *NATSComponents) build(ctx context.Context) error {
	natsURL := c.cfg.URL

	if c.cfg.EmbeddedServer {
		serverCfg := eventprocessor.DefaultServerConfig()
		if c.cfg.StoreDir != "" {
			serverCfg.StoreDir = c.cfg.StoreDir
		}
		server, err := eventprocessor.NewEmbeddedServer(&serverCfg)
		if err != nil {
			return err
		}
		c.server = server
		natsURL = server.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	} else {
		logging.Info().Str("url", natsURL).Msg("Using external NATS server")
	}

	nc, err := natsgo.Connect(natsURL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	c.natsConn = nc

	streamCfg := eventprocessor.DefaultStreamConfig(c.cfg.Topic)
	stream, err := eventprocessor.EnsureStream(ctx, nc, streamCfg)
	if err != nil {
		return fmt.Errorf("ensure stream exists: %w", err)
	}
	info := stream.CachedInfo()
	logging.Info().
		Str("name", info.Config.Name).
		Strs("subjects", info.Config.Subjects).
		Msg("JetStream stream ready")

	publisher, err := eventprocessor.NewPublisher(eventprocessor.DefaultPublisherConfig(natsURL), nil)
	if err != nil {
		return err
	}
	c.publisher = publisher

	routerCfg := eventprocessor.DefaultRouterConfig()
	routerCfg.RetryMaxRetries = c.cfg.RetryCount
	routerCfg.RetryInitialInterval = c.cfg.RetryInterval
	routerCfg.RetryMaxInterval = c.cfg.RetryInterval * 10
	routerCfg.PoisonQueueTopic = c.cfg.PoisonTopic
	routerCfg.CloseTimeout = c.cfg.CloseTimeout

	router, err := eventprocessor.NewRouter(&routerCfg, publisher, nil)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}
	c.router = router
	logging.Info().
		Int("retry", routerCfg.RetryMaxRetries).
		Str("poison_topic", routerCfg.PoisonQueueTopic).
		Msg("Watermill Router created")

	handler, err := eventprocessor.NewDetectionHandler(c.detector, nil)
	if err != nil {
		return fmt.Errorf("create detection handler: %w", err)
	}
	c.handler = handler

	subCfg := eventprocessor.DefaultSubscriberConfig(natsURL)
	subCfg.DurableName = c.cfg.DurableName
	subCfg.QueueGroup = c.cfg.QueueGroup
	subCfg.SubscribersCount = c.cfg.SubscribersCount
	subCfg.AckWaitTimeout = c.cfg.AckWait
	subCfg.CloseTimeout = c.cfg.CloseTimeout
	subCfg.StreamName = streamCfg.Name

	subscriber, err := eventprocessor.NewSubscriber(&subCfg, nil)
	if err != nil {
		return fmt.Errorf("create detection subscriber: %w", err)
	}
	c.subscriber = subscriber

	router.AddConsumerHandler("detection-handler", c.cfg.Topic, subscriber, handler.Handle)
	logging.Info().
		Str("durable", subCfg.DurableName).
		Str("queue_group", subCfg.QueueGroup).
		Int("subscribers", subCfg.SubscribersCount).
		Msg("Detection handler registered with Router")
	return nil
}

// Shutdown stops the router first and the embedded server last.
func (c *NATSComponents) Shutdown(ctx context.Context) {
	if c == nil {
		return
	}

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	logging.Info().Msg("Shutting down NATS components...")
	c.teardown(ctx)
	logging.Info().Msg("NATS shutdown complete")
}

// teardown releases whatever build created and resets the fields.
func (c *NATSComponents) teardown(ctx context.Context) {
	c.shutdownRouter(ctx)
	c.shutdownSubscriber()
	c.shutdownPublisher()
	c.shutdownConnection(ctx)
	c.handler = nil
}

func (c *NATSComponents) shutdownRouter(ctx context.Context) {
	if c.router == nil {
		return
	}
	if err := c.router.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing Router")
	}
	if c.routerDone != nil {
		select {
		case <-c.routerDone:
		case <-ctx.Done():
			logging.Warn().Msg("Router did not stop before shutdown deadline")
		}
		c.routerDone = nil
	}
	c.router = nil
	logging.Info().Msg("Watermill Router stopped")
}

func (c *NATSComponents) shutdownSubscriber() {
	if c.subscriber == nil {
		return
	}
	if err := c.subscriber.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing detection subscriber")
	}
	c.subscriber = nil
	logging.Info().Msg("Detection subscriber closed")
}

func (c *NATSComponents) shutdownPublisher() {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing publisher")
	}
	c.publisher = nil
	logging.Info().Msg("Publisher closed")
}

func (c *NATSComponents) shutdownConnection(ctx context.Context) {
	if c.natsConn != nil {
		c.natsConn.Close()
		c.natsConn = nil
		logging.Info().Msg("NATS connection closed")
	}
	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			logging.Error().Err(err).Msg("Error shutting down NATS server")
		}
		c.server = nil
		logging.Info().Msg("Embedded NATS server stopped")
	}
}

// IsRunning reports whether the pipeline is consuming.
func (c *NATSComponents) IsRunning() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

