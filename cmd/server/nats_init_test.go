// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package main

import (
	"context"
	"testing"
	"time"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/config"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/detection"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/supervisor/services"
)

var _ services.NATSComponentsRunner = (*NATSComponents)(nil)

type nopInstrumenter struct{}

func (nopInstrumenter) Instrument(context.Context, detection.Event) bool { return false }

func TestNATSComponentsNil(t *testing.T) {
	var c *NATSComponents

	if err := c.Start(context.Background()); err != nil {
		t.Errorf("expected nil error from nil components, got %v", err)
	}
	c.Shutdown(context.Background())
	if c.IsRunning() {
		t.Error("nil components should not report running")
	}
}

func TestInitNATSDisabled(t *testing.T) {
	cfg := &config.Config{NATS: config.NATSConfig{Enabled: false}}
	if c := InitNATS(cfg, nopInstrumenter{}); c != nil {
		t.Errorf("expected nil components when NATS is disabled, got %+v", c)
	}
}

func TestNATSComponentsShutdownNotRunning(t *testing.T) {
	c := &NATSComponents{}
	c.Shutdown(context.Background())
	if c.IsRunning() {
		t.Error("expected not running")
	}
}

func TestNATSComponentsStartFailsWithoutBroker(t *testing.T) {
	cfg := &config.Config{NATS: config.NATSConfig{
		Enabled:          true,
		URL:              "nats://127.0.0.1:1",
		Topic:            "smarthome.events",
		DurableName:      "attack-detector",
		SubscribersCount: 1,
		AckWait:          time.Second,
		CloseTimeout:     time.Second,
	}}
	c := InitNATS(cfg, nopInstrumenter{})
	if c == nil {
		t.Fatal("expected components when NATS is enabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := c.Start(ctx); err == nil {
		c.Shutdown(context.Background())
		t.Fatal("expected Start to fail without a reachable broker")
	}
	if c.IsRunning() {
		t.Error("expected not running after failed Start")
	}
	if c.natsConn != nil || c.router != nil || c.publisher != nil {
		t.Error("expected failed Start to release what it built")
	}
}
