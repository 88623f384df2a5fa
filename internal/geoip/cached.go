// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package geoip

import (
	"context"
	"time"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/cache"
)

// OutcomeCacheHit is reported when a lookup is answered from the cache.
const OutcomeCacheHit = "cache_hit"

// Cached remembers successful lookups of next. Failures are never cached, so
// an address that timed out is asked again on its next login.
type Cached struct {
	next    Resolver
	lru     *cache.LRU[Location]
	observe OutcomeFunc
}

// NewCached wraps next with an LRU of size entries, each kept for ttl.
// observe may be nil.
func NewCached(next Resolver, size int, ttl time.Duration, observe OutcomeFunc) *Cached {
	if observe == nil {
		observe = func(string) {}
	}
	return &Cached{
		next:    next,
		lru:     cache.NewLRU[Location](size, ttl),
		observe: observe,
	}
}

// Resolve returns the cached location for ip or asks next.
func (c *Cached) Resolve(ctx context.Context, ip string) (Location, error) {
	if loc, ok := c.lru.Get(ip); ok {
		c.observe(OutcomeCacheHit)
		return loc, nil
	}

	loc, err := c.next.Resolve(ctx, ip)
	if err != nil {
		return Location{}, err
	}
	c.lru.Add(ip, loc)
	return loc, nil
}

// Stats returns the cache counters.
func (c *Cached) Stats() cache.Stats {
	return c.lru.Stats()
}
