// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

// Package eventprocessor feeds smart-home events from NATS JetStream into
// the attack detector.
//
// Devices and gateways publish JSON events on a subject (smarthome.events by
// default). A Watermill router consumes them through a durable JetStream
// subscriber and hands each one to DetectionHandler, which decodes it and
// calls the detector. Malformed payloads are acknowledged and counted, never
// retried. Handler errors are retried with backoff and then routed to a
// poison subject.
//
// For single-node deployments EmbeddedServer runs NATS in-process.
package eventprocessor
