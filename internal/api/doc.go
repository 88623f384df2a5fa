// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

/*
Package api exposes the detector over HTTP using the Chi router.

Routes:

	GET  /healthz                       liveness and component summary
	GET  /metrics                       Prometheus exposition
	POST /api/v1/events                 instrument one event
	GET  /api/v1/stats                  dispatcher counters
	GET  /api/v1/detectors              enabled state per detector
	PUT  /api/v1/detectors/{kind}       turn a detector on or off
	GET  /api/v1/anomalies              stored anomaly records (needs a store)
	GET  /api/v1/anomalies/stream       websocket feed of new anomaly records
	POST /api/v1/exit-nodes/refresh     operator-triggered exit-node refresh
	GET  /api/v1/exit-nodes/status      refresher state

Every /api/v1 route is rate limited per client IP with go-chi/httprate and
instrumented with request metrics. CORS is handled globally with go-chi/cors
so OPTIONS preflights succeed.

POST /api/v1/events accepts the same JSON body as the NATS ingest path:

	{"event_name":"login_failed","user_id":"alice","timestamp":"2026-03-01T12:00:00Z"}

and answers {"attack_detected":true|false}. Malformed or invalid bodies get
400 with a VALIDATION_ERROR code and per-field details.
*/
package api
