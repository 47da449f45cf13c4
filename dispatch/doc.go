// Package dispatch turns the change feeds of mounted regions into calls on
// the managers routed to them.
//
// A Loop runs on one goroutine. Each change is delivered to every sink of its
// region while the loop holds its scoped lock, so handlers run one at a time
// and see each manager's changes in feed order. Handlers must return quickly.
//
// Work done outside the loop, for example a worker writing to the store,
// takes the same lock with Lock or WithLock. The lock serializes that work
// against dispatch so no handler observes a partial update. Tearing down a
// handler from another goroutine also requires the lock.
package dispatch
