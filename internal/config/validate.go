// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/validation"
)

// Validate checks field rules first, then the rules that span sections.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	validators := []func() error{
		c.validateDetection,
		c.validateGeoIP,
		c.validateExitNodes,
		c.validateNATS,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateDetection() error {
	_, err := c.ToDetectorsConfig()
	return err
}

func (c *Config) validateGeoIP() error {
	if c.GeoIP.Provider != "mmdb" {
		return nil
	}
	if _, err := os.Stat(c.GeoIP.MMDBPath); err != nil {
		return fmt.Errorf("geoip.mmdb_path: %w", err)
	}
	return nil
}

func (c *Config) validateExitNodes() error {
	if c.ExitNodes.Enabled && c.ExitNodes.SourceURL == "" {
		return errors.New("exit_nodes.source_url is required when exit_nodes.enabled is true")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.EmbeddedServer && c.NATS.StoreDir == "" {
		return errors.New("nats.store_dir is required for the embedded server")
	}
	if c.NATS.PoisonTopic != "" && c.NATS.PoisonTopic == c.NATS.Topic {
		return errors.New("nats.poison_topic must differ from nats.topic")
	}
	return nil
}
