// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

/*
Package detection implements rule-based anomaly detection for smart-home events.

An AttackDetector owns one instance of each detector and routes every event to
the ones it concerns:

	power_reading   (context.value)       -> PowerAnomalyDetector
	user_login      (context.ip_address)  -> GeoAnomalyDetector
	user_login                            -> RoleAnomalyDetector
	password_reset                        -> password reset RateDetector
	login_failed                          -> failed login RateDetector
	device_toggle                         -> toggle spam RateDetector
	any event       (context.allowed_roles) -> UnauthorizedAccessDetector

Several detectors may fire for one event. Each positive result becomes a flat
Record that is handed to the configured Sink; Instrument returns true when at
least one detector fired.

# Detectors

PowerAnomalyDetector keeps a per-device running mean once ten readings exist
and flags readings above 1.5 times that mean. Non-positive readings always flag.

RateDetector counts events per key over a trailing window (5 failed logins per
minute, 3 password resets per 5 minutes, 10 toggles per 30 seconds) and flags
when the count strictly exceeds the threshold. Windows are pruned relative to
the newest event timestamp for the key, never wall-clock time, so replays are
deterministic.

RoleAnomalyDetector tracks the roles a user logs in with. A login inside
business hours (09:00 to 18:00 inclusive) resets the set; after hours, a set
with more than one role flags.

GeoAnomalyDetector flags logins from known exit nodes and blacklisted
countries, and logins implying travel faster than 900 km/h from any location
seen in the last 24 hours.

# Concurrency

State is partitioned by entity key with one mutex per key. Geolocation lookups
and sink writes happen outside those locks. The detector itself performs no I/O.

# Usage

	d, err := detection.New(detection.DefaultDetectorsConfig(),
	    detection.WithSink(sink),
	    detection.WithResolver(resolver),
	    detection.WithExitNodes(exitNodes),
	)
	if err != nil {
	    return err
	}
	flagged := d.Instrument(ctx, detection.Event{
	    Name:      detection.EventLoginFailed,
	    UserID:    "alice",
	    Timestamp: time.Now(),
	})
*/
package detection
