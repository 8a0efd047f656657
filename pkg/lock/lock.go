// Package lock serializes mutating operations per flow. Every load-mutate-save
// cycle in the engine runs inside a flow lock, so at most one transition is
// applied to a flow at a time even when signals arrive concurrently.
package lock

import "context"

// FlowLocker acquires an exclusive lock for a single flow. Acquire blocks
// until the lock is held or the context is done. The returned release
// function must be called exactly once.
type FlowLocker interface {
	Acquire(ctx context.Context, tenantID, flowID string) (release func(), err error)
}
