package engine

import "sync"

type flowLock struct {
	mu   sync.Mutex
	refs int
}

// flowLocks serializes mutations per flow ID within this process. The
// persistence unique keys remain the cross-process backstop; the lock only
// keeps local racers from burning transactions against each other.
type flowLocks struct {
	mu    sync.Mutex
	locks map[string]*flowLock
}

func newFlowLocks() *flowLocks {
	return &flowLocks{locks: make(map[string]*flowLock)}
}

// acquire blocks until the flow's lock is held and returns the release
// function. Entries are dropped once no caller holds or waits on them.
func (l *flowLocks) acquire(flowID string) func() {
	l.mu.Lock()

	entry, ok := l.locks[flowID]
	if !ok {
		entry = &flowLock{}
		l.locks[flowID] = entry
	}

	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()

		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, flowID)
		}
		l.mu.Unlock()
	}
}
