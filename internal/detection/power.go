// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package detection

import (
	"fmt"
	"strconv"
)

// PowerConfig configures the power anomaly detector.
type PowerConfig struct {
	// SpikeThreshold is the multiple of the running average above which a
	// reading is a spike.
	SpikeThreshold float64 `json:"spike_threshold"`

	// MinSamples is the number of readings needed before an average exists.
	MinSamples int `json:"min_samples"`
}

// DefaultPowerConfig returns the default power detector configuration.
func DefaultPowerConfig() PowerConfig {
	return PowerConfig{
		SpikeThreshold: 1.5,
		MinSamples:     10,
	}
}

// Validate checks the configuration.
func (c PowerConfig) Validate() error {
	if c.SpikeThreshold <= 1 {
		return invalidf("power spike_threshold must be greater than 1, got %v", c.SpikeThreshold)
	}
	if c.MinSamples < 1 {
		return invalidf("power min_samples must be at least 1, got %d", c.MinSamples)
	}
	return nil
}

// deviceReadings keeps the count and sum of every reading a device has sent,
// which is enough to recompute the full-history mean.
type deviceReadings struct {
	count   int
	sum     float64
	average float64
	hasAvg  bool
}

// PowerAnomalyDetector flags non-positive readings and spikes over a
// device's running average.
type PowerAnomalyDetector struct {
	config  PowerConfig
	devices *keyedState[deviceReadings]
}

// NewPowerAnomalyDetector creates a power detector.
func NewPowerAnomalyDetector(cfg PowerConfig) (*PowerAnomalyDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PowerAnomalyDetector{config: cfg, devices: newKeyedState[deviceReadings]()}, nil
}

// Detect records value for deviceID and reports whether it is anomalous.
func (d *PowerAnomalyDetector) Detect(deviceID string, value float64) (bool, string) {
	f := d.observe(deviceID, value)
	if f == nil {
		return false, ""
	}
	return true, f.message
}

// Average returns the device's running average once it exists.
func (d *PowerAnomalyDetector) Average(deviceID string) (float64, bool) {
	var avg float64
	var ok bool
	d.devices.view(deviceID, func(s *deviceReadings) {
		avg, ok = s.average, s.hasAvg
	})
	return avg, ok
}

func (d *PowerAnomalyDetector) observe(deviceID string, value float64) *finding {
	var (
		avg    float64
		hasAvg bool
	)
	d.devices.update(deviceID, func(s *deviceReadings) {
		s.count++
		s.sum += value
		if s.count >= d.config.MinSamples {
			s.average = s.sum / float64(s.count)
			s.hasAvg = true
		}
		avg, hasAvg = s.average, s.hasAvg
	})

	var msg string
	switch {
	case value <= 0:
		msg = fmt.Sprintf("Negative/zero power reading for device %s", deviceID)
	case hasAvg && value > avg*d.config.SpikeThreshold:
		msg = fmt.Sprintf("Power spike detected for device %s (value: %s, avg: %.2f)",
			deviceID, strconv.FormatFloat(value, 'f', -1, 64), avg)
	default:
		return nil
	}

	var average any
	if hasAvg {
		average = avg
	}
	return &finding{
		kind:    KindPower,
		message: msg,
		fields: map[string]any{
			"device_id": deviceID,
			"value":     value,
			"average":   average,
		},
	}
}
