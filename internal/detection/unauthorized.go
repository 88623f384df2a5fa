// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package detection

import (
	"fmt"
	"slices"
)

// UnauthorizedAccessDetector checks a role against an allow-list. It keeps no state.
type UnauthorizedAccessDetector struct{}

// NewUnauthorizedAccessDetector creates the detector.
func NewUnauthorizedAccessDetector() *UnauthorizedAccessDetector {
	return &UnauthorizedAccessDetector{}
}

// Detect reports whether userRole is missing from allowed. An empty list denies every role.
func (d *UnauthorizedAccessDetector) Detect(userRole string, allowed []string) bool {
	return !slices.Contains(allowed, userRole)
}

func (d *UnauthorizedAccessDetector) observe(ev Event, allowed []string) *finding {
	if !d.Detect(ev.UserRole, allowed) {
		return nil
	}
	return &finding{
		kind:    KindUnauthorized,
		message: fmt.Sprintf("User %s with role %s attempted unauthorized action", ev.UserID, ev.UserRole),
		fields: map[string]any{
			"user_id":       ev.UserID,
			"user_role":     ev.UserRole,
			"source_id":     ev.SourceID,
			"allowed_roles": allowed,
		},
	}
}
