// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package detection

import "fmt"

// DetectorsConfig holds the configuration of every detector in the ensemble.
type DetectorsConfig struct {
	Power         PowerConfig `json:"power"`
	FailedLogin   RateConfig  `json:"failed_login"`
	PasswordReset RateConfig  `json:"password_reset"`
	ToggleSpam    RateConfig  `json:"toggle_spam"`
	Role          RoleConfig  `json:"role"`
	Geo           GeoConfig   `json:"geo"`
}

// DefaultDetectorsConfig returns the default configuration for all detectors.
func DefaultDetectorsConfig() DetectorsConfig {
	return DetectorsConfig{
		Power:         DefaultPowerConfig(),
		FailedLogin:   DefaultFailedLoginConfig(),
		PasswordReset: DefaultPasswordResetConfig(),
		ToggleSpam:    DefaultToggleSpamConfig(),
		Role:          DefaultRoleConfig(),
		Geo:           DefaultGeoConfig(),
	}
}

// Validate checks every detector configuration.
func (c DetectorsConfig) Validate() error {
	checks := []struct {
		name string
		err  error
	}{
		{"power", c.Power.Validate()},
		{"failed_login", c.FailedLogin.Validate()},
		{"password_reset", c.PasswordReset.Validate()},
		{"toggle_spam", c.ToggleSpam.Validate()},
		{"role", c.Role.Validate()},
		{"geo", c.Geo.Validate()},
	}
	for _, check := range checks {
		if check.err != nil {
			return fmt.Errorf("%s: %w", check.name, check.err)
		}
	}
	return nil
}
