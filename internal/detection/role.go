// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package detection

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeOfDay is an offset from local midnight.
type TimeOfDay time.Duration

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		t, err := time.Parse(layout, strings.TrimSpace(s))
		if err == nil {
			return clockOffset(t), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
}

// MustTimeOfDay is ParseTimeOfDay for constants.
func MustTimeOfDay(s string) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return tod
}

func clockOffset(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond()))
}

// String renders the offset as a 12-hour clock, e.g. "9 AM" or "5:30 PM".
func (t TimeOfDay) String() string {
	clock := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(t))
	if clock.Minute() == 0 {
		return clock.Format("3 PM")
	}
	return clock.Format("3:04 PM")
}

// RoleConfig configures the business-hours window.
type RoleConfig struct {
	BusinessStart TimeOfDay `json:"business_start"`
	BusinessEnd   TimeOfDay `json:"business_end"`
}

// DefaultRoleConfig returns business hours of 09:00 to 18:00.
func DefaultRoleConfig() RoleConfig {
	return RoleConfig{
		BusinessStart: TimeOfDay(9 * time.Hour),
		BusinessEnd:   TimeOfDay(18 * time.Hour),
	}
}

// Validate checks the configuration.
func (c RoleConfig) Validate() error {
	day := TimeOfDay(24 * time.Hour)
	if c.BusinessStart < 0 || c.BusinessEnd >= day {
		return invalidf("business hours must fall within one day")
	}
	if c.BusinessStart > c.BusinessEnd {
		return invalidf("business_start %s is after business_end %s", c.BusinessStart, c.BusinessEnd)
	}
	return nil
}

// InBusinessHours reports whether ts falls inside the inclusive window,
// using ts's own location and ignoring the date.
func (c RoleConfig) InBusinessHours(ts time.Time) bool {
	tod := clockOffset(ts)
	return tod >= c.BusinessStart && tod <= c.BusinessEnd
}

type roleSet map[string]struct{}

// RoleAnomalyDetector flags users who log in with several roles outside
// business hours. A business-hours login resets the user's role set.
type RoleAnomalyDetector struct {
	config RoleConfig
	users  *keyedState[roleSet]
}

// NewRoleAnomalyDetector creates a role detector.
func NewRoleAnomalyDetector(cfg RoleConfig) (*RoleAnomalyDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RoleAnomalyDetector{config: cfg, users: newKeyedState[roleSet]()}, nil
}

// Detect records role for userID at ts.
func (d *RoleAnomalyDetector) Detect(userID, role string, ts time.Time) (bool, string) {
	f := d.observe(userID, role, ts)
	if f == nil {
		return false, ""
	}
	return true, f.message
}

// Roles returns the user's tracked roles, sorted.
func (d *RoleAnomalyDetector) Roles(userID string) []string {
	var roles []string
	d.users.view(userID, func(s *roleSet) { roles = sortedRoles(*s) })
	return roles
}

func (d *RoleAnomalyDetector) observe(userID, role string, ts time.Time) *finding {
	business := d.config.InBusinessHours(ts)

	var roles []string
	d.users.update(userID, func(s *roleSet) {
		if business || *s == nil {
			*s = roleSet{}
		}
		(*s)[role] = struct{}{}
		if !business && len(*s) > 1 {
			roles = sortedRoles(*s)
		}
	})

	if roles == nil {
		return nil
	}
	return &finding{
		kind: KindRole,
		message: fmt.Sprintf("User %s logged in with multiple roles (%s) outside business hours (%s - %s)",
			userID, strings.Join(roles, ", "), d.config.BusinessStart, d.config.BusinessEnd),
		fields: map[string]any{
			"user_id":           userID,
			"roles":             roles,
			"is_business_hours": false,
		},
	}
}

func sortedRoles(s roleSet) []string {
	roles := make([]string, 0, len(s))
	for r := range s {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}
