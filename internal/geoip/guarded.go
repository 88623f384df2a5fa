// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package geoip

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/logging"
)

// Resolve outcomes reported to the OutcomeFunc.
const (
	OutcomeResolved    = "resolved"
	OutcomeUnresolved  = "unresolved"
	OutcomeTimeout     = "timeout"
	OutcomeError       = "error"
	OutcomeBreakerOpen = "breaker_open"
)

// OutcomeFunc observes the result of every guarded lookup.
type OutcomeFunc func(outcome string)

// GuardConfig configures Guarded.
type GuardConfig struct {
	// Timeout bounds each lookup.
	Timeout time.Duration

	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32

	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// DefaultGuardConfig returns a 2s timeout and a breaker that opens after 5 failures for 30s.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:     2 * time.Second,
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	}
}

// Guarded wraps a live resolver with a per-call timeout and a circuit breaker.
// Every failure, including a timeout or an open breaker, is returned as ErrUnresolved.
type Guarded struct {
	next    Resolver
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[Location]
	observe OutcomeFunc
}

// NewGuarded wraps next. observe may be nil.
func NewGuarded(next Resolver, cfg GuardConfig, observe OutcomeFunc) *Guarded {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGuardConfig().Timeout
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = DefaultGuardConfig().MaxFailures
	}
	if observe == nil {
		observe = func(string) {}
	}

	settings := gobreaker.Settings{
		Name:        "geoip",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// A miss is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnresolved)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("geoip circuit breaker state changed")
		},
	}

	return &Guarded{
		next:    next,
		timeout: cfg.Timeout,
		cb:      gobreaker.NewCircuitBreaker[Location](settings),
		observe: observe,
	}
}

// Resolve looks ip up through the breaker with the configured timeout.
func (g *Guarded) Resolve(ctx context.Context, ip string) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	loc, err := g.cb.Execute(func() (Location, error) {
		type answer struct {
			loc Location
			err error
		}
		done := make(chan answer, 1)
		go func() {
			l, e := g.next.Resolve(ctx, ip)
			done <- answer{l, e}
		}()
		select {
		case a := <-done:
			return a.loc, a.err
		case <-ctx.Done():
			return Location{}, ctx.Err()
		}
	})

	switch {
	case err == nil:
		g.observe(OutcomeResolved)
		return loc, nil
	case errors.Is(err, ErrUnresolved):
		g.observe(OutcomeUnresolved)
		return Location{}, err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		g.observe(OutcomeBreakerOpen)
	case errors.Is(err, context.DeadlineExceeded):
		g.observe(OutcomeTimeout)
	default:
		g.observe(OutcomeError)
	}
	return Location{}, fmt.Errorf("%w: %w", ErrUnresolved, err)
}

// State returns the breaker state name.
func (g *Guarded) State() string {
	return g.cb.State().String()
}
