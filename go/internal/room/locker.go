package room

import "sync"

// Locker hands out one mutex per room id. Entries are dropped once nobody holds or waits on them.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*lockEntry)}
}

// Lock blocks until the room is free and returns the matching unlock func.
func (l *Locker) Lock(roomID string) func() {
	l.mu.Lock()
	e, ok := l.locks[roomID]
	if !ok {
		e = &lockEntry{}
		l.locks[roomID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, roomID)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of rooms currently tracked.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
