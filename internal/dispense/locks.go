package dispense

import "sync"

// UnlockFunc releases a tag lock.
type UnlockFunc func()

// tagLocks hands out one mutex per tag id. Entries are reference counted
// and removed when the last holder unlocks, so the map only holds tags
// with a dispense in flight.
type tagLocks struct {
	mu    sync.Mutex
	locks map[string]*tagLock
}

type tagLock struct {
	mu   sync.Mutex
	refs int
}

func newTagLocks() *tagLocks {
	return &tagLocks{locks: make(map[string]*tagLock)}
}

// Lock blocks until the caller holds tagID exclusively. Different tags
// never contend.
func (l *tagLocks) Lock(tagID string) UnlockFunc {
	l.mu.Lock()
	tl, ok := l.locks[tagID]
	if !ok {
		tl = &tagLock{}
		l.locks[tagID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()

		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, tagID)
		}
		l.mu.Unlock()
	}
}

func (l *tagLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
