// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package websocket

import (
	"context"
	"maps"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/detection"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/logging"
)

// ShutdownReason identifies why the hub stopped.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types.
const (
	MessageTypeAnomaly = "anomaly"
	MessageTypePing    = "ping"
	MessageTypePong    = "pong"
)

// broadcastBuffer bounds the records queued between the detector and the
// run loop.
const broadcastBuffer = 256

// Message is one frame sent to or received from a client.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub tracks connected clients and broadcasts anomaly records to them.
// Clients join through the run loop and leave by calling removeClient
// directly, so a stopped hub never blocks a disconnecting client.
type Hub struct {
	clients   map[*Client]bool
	broadcast chan Message
	register  chan *Client
	running   atomic.Bool
	mu        sync.RWMutex
}

var _ detection.Sink = (*Hub)(nil)

// NewHub creates a hub. RunWithContext must be running for clients to
// connect and receive messages.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*Client]bool),
		broadcast: make(chan Message, broadcastBuffer),
		register:  make(chan *Client),
	}
}

// RunWithContext serves registrations and broadcasts until ctx is canceled,
// then closes every client and returns ctx.Err().
//
// Registrations are drained before broadcasts so a client registered
// before a record was queued always receives it.
func (h *Hub) RunWithContext(ctx context.Context) error {
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.register:
			h.addClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.register:
			h.addClient(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().Uint64("client_id", client.id).Int("total_clients", total).Msg("anomaly stream client connected")
}

// removeClient is safe to call more than once and after the hub stopped.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		logging.Info().Uint64("client_id", client.id).Int("total_clients", total).Msg("anomaly stream client disconnected")
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	closed := h.closeAllClients()

	reason := ShutdownReasonContextCanceled
	if ctx.Err() == context.DeadlineExceeded {
		reason = ShutdownReasonContextDeadline
	}
	logging.Info().
		Str("component", "anomaly-stream").
		Str("reason", string(reason)).
		Int("clients_closed", closed).
		Msg("anomaly stream hub stopped")
}

// sortedClients returns clients in connection order. Callers hold mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// broadcastToClients drops any client whose send buffer is full.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var slow []*Client
	for _, client := range h.sortedClients() {
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}

	for _, client := range slow {
		close(client.send)
		delete(h.clients, client)
		logging.Warn().Uint64("client_id", client.id).Msg("anomaly stream client too slow, disconnected")
	}
}

func (h *Hub) closeAllClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.sortedClients()
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	return len(clients)
}

// Append queues rec for broadcast. It never blocks the detector: when the
// queue is full the record is dropped from the stream (other sinks still
// have it).
func (h *Hub) Append(_ context.Context, rec detection.Record) error {
	message := Message{Type: MessageTypeAnomaly, Data: maps.Clone(rec)}

	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Str("kind", string(rec.Kind())).Msg("anomaly stream queue full, dropping record")
	}
	return nil
}

// Running reports whether RunWithContext is serving.
func (h *Hub) Running() bool {
	return h.running.Load()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
