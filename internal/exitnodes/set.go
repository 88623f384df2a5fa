// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

// Package exitnodes keeps the set of known anonymizing exit-node addresses
// (TOR exit relays) and refreshes it from a remote bulk list.
//
// A refresh never leaves the set half-updated: the new list is parsed in full
// and swapped in, or the old set is kept and the reason is reported in the
// RefreshResult.
package exitnodes

import (
	"bufio"
	"io"
	"net/netip"
	"strings"
	"sync"
)

// Set is a concurrency-safe set of IP addresses.
type Set struct {
	mu    sync.RWMutex
	addrs map[netip.Addr]struct{}
}

// NewSet creates a set holding addrs. Invalid entries are skipped.
func NewSet(addrs ...string) *Set {
	s := &Set{addrs: make(map[netip.Addr]struct{}, len(addrs))}
	for _, a := range addrs {
		if ip, err := netip.ParseAddr(strings.TrimSpace(a)); err == nil {
			s.addrs[ip.Unmap()] = struct{}{}
		}
	}
	return s
}

// Contains reports whether ip is a known exit node. Unparseable input is not.
func (s *Set) Contains(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.addrs[addr.Unmap()]
	return ok
}

// Len returns the number of addresses.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.addrs)
}

// Add inserts a single address.
func (s *Set) Add(addr netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addrs[addr.Unmap()] = struct{}{}
}

// Replace swaps the whole set for addrs.
func (s *Set) Replace(addrs []netip.Addr) {
	next := make(map[netip.Addr]struct{}, len(addrs))
	for _, a := range addrs {
		next[a.Unmap()] = struct{}{}
	}
	s.mu.Lock()
	s.addrs = next
	s.mu.Unlock()
}

// ParseList reads one address per line. Blank lines and lines starting with
// '#' are ignored; anything else that is not an address is counted in skipped.
func ParseList(r io.Reader) (addrs []netip.Addr, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, perr := netip.ParseAddr(line)
		if perr != nil {
			skipped++
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs, skipped, scanner.Err()
}
