// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

// Package geoip resolves IP addresses to coordinates and a country code.
//
// Resolvers compose: a Static override table is always consulted first
// (Chain), a live source (MMDB file or MaxMind web service) answers the rest,
// and Guarded bounds every live call with a timeout and a circuit breaker.
// Any failure surfaces as ErrUnresolved so callers can treat it as "no location".
package geoip

import (
	"context"
	"errors"
	"strings"
)

// ErrUnresolved is returned when an address has no known location.
var ErrUnresolved = errors.New("location unresolved")

// Location is a resolved position.
type Location struct {
	Latitude  float64 `json:"latitude" koanf:"latitude"`
	Longitude float64 `json:"longitude" koanf:"longitude"`
	Country   string  `json:"country" koanf:"country"`
}

// Resolver maps an IP address to a Location.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (Location, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ip string) (Location, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, ip string) (Location, error) {
	return f(ctx, ip)
}

// Static is a literal IP to location table.
type Static map[string]Location

// NewStatic copies table into a Static resolver, normalising country codes.
func NewStatic(table map[string]Location) Static {
	s := make(Static, len(table))
	for ip, loc := range table {
		loc.Country = strings.ToUpper(strings.TrimSpace(loc.Country))
		s[strings.TrimSpace(ip)] = loc
	}
	return s
}

// Resolve returns the table entry for ip.
func (s Static) Resolve(_ context.Context, ip string) (Location, error) {
	if loc, ok := s[ip]; ok {
		return loc, nil
	}
	return Location{}, ErrUnresolved
}

// Chain asks each resolver in order and returns the first answer.
type Chain []Resolver

// NewChain drops nil resolvers.
func NewChain(resolvers ...Resolver) Chain {
	c := make(Chain, 0, len(resolvers))
	for _, r := range resolvers {
		if r != nil {
			c = append(c, r)
		}
	}
	return c
}

// Resolve returns the first successful lookup, or ErrUnresolved wrapping the last failure.
func (c Chain) Resolve(ctx context.Context, ip string) (Location, error) {
	var last error
	for _, r := range c {
		loc, err := r.Resolve(ctx, ip)
		if err == nil {
			return loc, nil
		}
		last = err
	}
	if last == nil || errors.Is(last, ErrUnresolved) {
		return Location{}, ErrUnresolved
	}
	return Location{}, errors.Join(ErrUnresolved, last)
}
