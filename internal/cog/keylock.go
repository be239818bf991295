// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package cog

import (
	"context"
	"sync"
)

// keyLock is a set of mutexes keyed by name. Acquisition honours context
// cancellation. Entries are dropped when nobody holds or waits on them.
type keyLock struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	ch   chan struct{} // one-slot semaphore
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{slots: make(map[string]*keySlot)}
}

// lock blocks until name is free or ctx is done. On success the returned
// function releases the lock.
func (k *keyLock) lock(ctx context.Context, name string) (func(), error) {
	k.mu.Lock()
	slot, ok := k.slots[name]
	if !ok {
		slot = &keySlot{ch: make(chan struct{}, 1)}
		k.slots[name] = slot
	}
	slot.refs++
	k.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		return func() {
			<-slot.ch
			k.drop(name, slot)
		}, nil
	case <-ctx.Done():
		k.drop(name, slot)
		return nil, ctx.Err() //nolint:wrapcheck // caller classifies
	}
}

func (k *keyLock) drop(name string, slot *keySlot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(k.slots, name)
	}
}

// size returns the number of live entries.
func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
