package leadctx

import "sync"

// Locks serializes turn processing per lead. Locking is scoped to the key:
// different leads never contend.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLocks creates an empty keyed lock set.
func NewLocks() *Locks {
	return &Locks{entries: make(map[string]*lockEntry)}
}

// Lock acquires the lead's exclusive lock, blocking until available.
func (l *Locks) Lock(leadID string) {
	l.mu.Lock()
	e, ok := l.entries[leadID]
	if !ok {
		e = &lockEntry{}
		l.entries[leadID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

// TryLock acquires the lock only if it is free.
func (l *Locks) TryLock(leadID string) bool {
	l.mu.Lock()
	e, ok := l.entries[leadID]
	if !ok {
		e = &lockEntry{}
		l.entries[leadID] = e
	}
	if !e.mu.TryLock() {
		l.mu.Unlock()
		return false
	}
	e.refs++
	l.mu.Unlock()
	return true
}

// Unlock releases the lead's lock, dropping the entry once unused.
func (l *Locks) Unlock(leadID string) {
	l.mu.Lock()
	e, ok := l.entries[leadID]
	if !ok {
		l.mu.Unlock()
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(l.entries, leadID)
	}
	l.mu.Unlock()

	e.mu.Unlock()
}
