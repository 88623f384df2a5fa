// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*ExitNodeService)(nil)
	_ suture.Service = (*NATSComponentsService)(nil)
	_ suture.Service = (*WebSocketHubService)(nil)
)

// mockHTTPServer blocks in ListenAndServe until Shutdown unless listenErr is set.
type mockHTTPServer struct {
	listenErr   error
	shutdownErr error
	shutdowns   atomic.Int32
	started     chan struct{}
	stopCh      chan struct{}
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{
		started: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

func (m *mockHTTPServer) ListenAndServe() error {
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stopCh
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	close(m.stopCh)
	return m.shutdownErr
}

func TestNewHTTPServerServiceDefaultTimeout(t *testing.T) {
	for _, timeout := range []time.Duration{0, -time.Second} {
		svc := NewHTTPServerService(newMockHTTPServer(), timeout)
		if svc.shutdownTimeout != 10*time.Second {
			t.Errorf("timeout %v: expected default 10s, got %v", timeout, svc.shutdownTimeout)
		}
	}
	if svc := NewHTTPServerService(newMockHTTPServer(), time.Second); svc.String() != "http-server" {
		t.Errorf("unexpected name %q", svc.String())
	}
}

func TestHTTPServerServiceServe(t *testing.T) {
	t.Run("shuts down on cancel", func(t *testing.T) {
		server := newMockHTTPServer()
		svc := NewHTTPServerService(server, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		<-server.started
		cancel()

		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return")
		}
		if server.shutdowns.Load() != 1 {
			t.Errorf("expected one Shutdown call, got %d", server.shutdowns.Load())
		}
	})

	t.Run("returns listen error", func(t *testing.T) {
		server := newMockHTTPServer()
		server.listenErr = errors.New("address already in use")
		svc := NewHTTPServerService(server, time.Second)

		err := svc.Serve(context.Background())
		if err == nil || !errors.Is(err, server.listenErr) {
			t.Errorf("expected wrapped listen error, got %v", err)
		}
	})

	t.Run("returns shutdown error", func(t *testing.T) {
		server := newMockHTTPServer()
		server.shutdownErr = errors.New("connections still open")
		svc := NewHTTPServerService(server, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()
		<-server.started
		cancel()

		if err := <-done; !errors.Is(err, server.shutdownErr) {
			t.Errorf("expected wrapped shutdown error, got %v", err)
		}
	})
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func TestExitNodeServiceServe(t *testing.T) {
	tests := []struct {
		name    string
		runner  runnerFunc
		cancel  bool
		wantErr error
	}{
		{
			name: "stops with context",
			runner: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
			cancel:  true,
			wantErr: context.Canceled,
		},
		{
			name:   "run error is wrapped",
			runner: func(context.Context) error { return errors.New("boom") },
		},
		{
			name:   "early nil return is an error",
			runner: func(context.Context) error { return nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewExitNodeService(tt.runner)
			ctx, cancel := context.WithCancel(context.Background())
			if tt.cancel {
				cancel()
			} else {
				defer cancel()
			}

			err := svc.Serve(ctx)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err == nil {
				t.Error("expected an error so suture restarts the service")
			}
		})
	}
}

type mockComponents struct {
	startErr  error
	running   atomic.Bool
	shutdowns atomic.Int32
}

func (m *mockComponents) Start(context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.running.Store(true)
	return nil
}

func (m *mockComponents) Shutdown(context.Context) {
	m.shutdowns.Add(1)
	m.running.Store(false)
}

func (m *mockComponents) IsRunning() bool { return m.running.Load() }

func TestNATSComponentsService(t *testing.T) {
	t.Run("start failure", func(t *testing.T) {
		comps := &mockComponents{startErr: errors.New("no broker")}
		svc := NewNATSComponentsService(comps, 0)
		if svc.shutdownTimeout != 10*time.Second {
			t.Errorf("expected default timeout, got %v", svc.shutdownTimeout)
		}
		if err := svc.Serve(context.Background()); !errors.Is(err, comps.startErr) {
			t.Errorf("expected start error, got %v", err)
		}
		if comps.shutdowns.Load() != 0 {
			t.Error("Shutdown must not run after a failed Start")
		}
	})

	t.Run("runs until canceled", func(t *testing.T) {
		comps := &mockComponents{}
		svc := NewNATSComponentsService(comps, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		deadline := time.Now().Add(2 * time.Second)
		for !svc.Healthy() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if !svc.Healthy() {
			t.Fatal("expected service to report healthy once started")
		}

		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if comps.shutdowns.Load() != 1 || svc.Healthy() {
			t.Error("expected one Shutdown and unhealthy afterwards")
		}
	})
}

type hubFunc func(ctx context.Context) error

func (f hubFunc) RunWithContext(ctx context.Context) error { return f(ctx) }

func TestWebSocketHubServiceDelegates(t *testing.T) {
	svc := NewWebSocketHubService(hubFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	if svc.String() != "anomaly-stream-hub" {
		t.Errorf("unexpected name %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
