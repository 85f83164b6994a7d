package draft

import "sync"

type bufferLock struct {
	mu   sync.Mutex
	refs int
}

type lockKey struct {
	workflowID string
	tenantID   string
}

// bufferLocks serializes draft operations per (workflow, tenant) pair within
// this process. The repository's sequence allocation remains the
// cross-process backstop; the lock keeps local editors from interleaving
// check-then-write sequences.
type bufferLocks struct {
	mu    sync.Mutex
	locks map[lockKey]*bufferLock
}

func newBufferLocks() *bufferLocks {
	return &bufferLocks{locks: make(map[lockKey]*bufferLock)}
}

// acquire blocks until the pair's lock is held and returns the release
// function. Entries are dropped once no caller holds or waits on them.
func (l *bufferLocks) acquire(workflowID, tenantID string) func() {
	key := lockKey{workflowID: workflowID, tenantID: tenantID}

	l.mu.Lock()

	entry, ok := l.locks[key]
	if !ok {
		entry = &bufferLock{}
		l.locks[key] = entry
	}

	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()

		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
