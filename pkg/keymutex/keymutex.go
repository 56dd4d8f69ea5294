// Package keymutex provides per-key try-locks for serializing in-flight
// mutations. A held key rejects new acquirers instead of queueing them, so a
// duplicate submit (a double-tap on "advance") becomes a no-op rather than a
// second write.
package keymutex

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// KeyMutex guards one slot per key. The zero value is not usable; use New.
type KeyMutex struct {
	mu    sync.Mutex
	slots map[string]*semaphore.Weighted
}

// New constructs an empty KeyMutex.
func New() *KeyMutex {
	return &KeyMutex{slots: make(map[string]*semaphore.Weighted)}
}

func (m *KeyMutex) slot(key string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = semaphore.NewWeighted(1)
		m.slots[key] = s
	}
	return s
}

// TryAcquire claims the slot for key without blocking. It returns false when
// another mutation for the same key is already in flight.
func (m *KeyMutex) TryAcquire(key string) bool {
	return m.slot(key).TryAcquire(1)
}

// Release frees the slot for key. Callers release in a defer so a failed
// mutation never wedges the key.
func (m *KeyMutex) Release(key string) {
	m.slot(key).Release(1)
}
