// Package plantlock serializes state updates per plant.
package plantlock

import (
	"context"
	"sync"
)

// Unlock releases a lock taken by Locker.Lock. It is safe to call once.
type Unlock func()

type Locker interface {
	Lock(ctx context.Context, plantID string) (Unlock, error)
}

// KeyedMutex is an in-process lock keyed by plant id. Entries are reference
// counted and removed once nobody holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, plantID string) (Unlock, error) {
	k.mu.Lock()
	entry := k.locks[plantID]
	if entry == nil {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[plantID] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(plantID, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			k.release(plantID, entry)
		})
	}, nil
}

func (k *KeyedMutex) release(plantID string, entry *keyedEntry) {
	k.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, plantID)
	}
	k.mu.Unlock()
}

func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// Chain takes every locker in order and releases them in reverse.
type Chain []Locker

func (c Chain) Lock(ctx context.Context, plantID string) (Unlock, error) {
	held := make([]Unlock, 0, len(c))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, locker := range c {
		if locker == nil {
			continue
		}
		unlock, err := locker.Lock(ctx, plantID)
		if err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, unlock)
	}
	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}
