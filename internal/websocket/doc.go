// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

/*
Package websocket streams anomaly records to connected dashboards as they are
raised.

The Hub is a detection.Sink: every record the detector emits is queued for
broadcast, and the Hub's run loop fans it out to each registered Client.
Each Client owns two goroutines:

  - readPump: reads client frames, answers {"type":"ping"} with a pong and
    extends the read deadline on pong control frames
  - writePump: writes queued messages and sends a ping control frame every
    pingPeriod

Messages are JSON objects with a type and a data field:

	{"type":"anomaly","data":{"event":"geo_anomaly","user":"alice",...}}

A client that cannot keep up is dropped rather than slowing the detector.

Usage:

	hub := websocket.NewHub()
	tree.AddAPIService(services.NewWebSocketHubService(hub))
	router.Get("/api/v1/anomalies/stream", websocket.NewHandler(hub, origins).ServeHTTP)
*/
package websocket
