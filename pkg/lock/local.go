package lock

import (
	"context"
	"sync"
)

type localEntry struct {
	mu   sync.Mutex
	refs int
}

// LocalLocker is an in-process FlowLocker keyed by tenant and flow. It is the
// right choice when a single process owns all transitions for its flows.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

// NewLocalLocker creates an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]*localEntry)}
}

func (l *LocalLocker) Acquire(ctx context.Context, tenantID, flowID string) (func(), error) {
	key := tenantID + "/" + flowID

	l.mu.Lock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{}
		l.entries[key] = entry
	}

	entry.refs++

	l.mu.Unlock()

	acquired := make(chan struct{})

	go func() {
		entry.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return func() {
			entry.mu.Unlock()
			l.put(key, entry)
		}, nil
	case <-ctx.Done():
		// The goroutine above will still take the mutex eventually, so
		// hand it back as soon as it does.
		go func() {
			<-acquired
			entry.mu.Unlock()
			l.put(key, entry)
		}()

		return nil, ctx.Err()
	}
}

// put drops a reference and evicts the entry once nobody waits on it, keeping
// the map from growing with one entry per flow ever seen.
func (l *LocalLocker) put(key string, entry *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}
