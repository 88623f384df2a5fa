// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package detection

import "sync"

// keyedState partitions detector state by entity key. The registry lock is
// only held to find or create a key's entry; mutation happens under the
// entry's own mutex so distinct keys never contend.
type keyedState[T any] struct {
	mu      sync.RWMutex
	entries map[string]*keyedEntry[T]
}

type keyedEntry[T any] struct {
	mu    sync.Mutex
	state T
}

func newKeyedState[T any]() *keyedState[T] {
	return &keyedState[T]{entries: make(map[string]*keyedEntry[T])}
}

func (k *keyedState[T]) entry(key string) *keyedEntry[T] {
	k.mu.RLock()
	e, ok := k.entries[key]
	k.mu.RUnlock()
	if ok {
		return e
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if e, ok = k.entries[key]; ok {
		return e
	}
	e = &keyedEntry[T]{}
	k.entries[key] = e
	return e
}

// update runs fn with exclusive access to key's state.
func (k *keyedState[T]) update(key string, fn func(state *T)) {
	e := k.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
}

// view runs fn with key's state if the key has been seen.
func (k *keyedState[T]) view(key string, fn func(state *T)) bool {
	k.mu.RLock()
	e, ok := k.entries[key]
	k.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
	return true
}

// keys reports how many entities are tracked.
func (k *keyedState[T]) keys() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.entries)
}
