package manager

import (
	"sync/atomic"

	"github.com/c360/agentsdk/errors"
)

// Observer receives the changes a Handler is interested in. It runs on the
// dispatch goroutine and must return quickly.
type Observer[K comparable, V any] interface {
	OnChange(c Change[K, V])
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc[K comparable, V any] func(c Change[K, V])

// OnChange implements Observer.
func (f ObserverFunc[K, V]) OnChange(c Change[K, V]) {
	f(c)
}

// Handler is one subscription to a Manager. It belongs to exactly one manager
// for its lifetime; the manager only refers to it by id while registered.
//
// A new handler watches nothing. WatchAll and WatchOne opt in to scopes and
// register the handler with its manager; both are idempotent. Close removes
// the handler from its manager. Once the manager has been closed, every
// handler method is a no-op.
//
// Watch calls and Close from goroutines other than the dispatch goroutine
// must hold the dispatch scoped lock.
type Handler[K comparable, V any] struct {
	id       uint64
	mgr      atomic.Pointer[Manager[K, V]]
	observer Observer[K, V]

	// guarded by the manager's mutex
	all  bool
	keys map[K]struct{}
}

// NewHandler creates a handler bound to mgr. A nil manager or observer is a
// protocol violation.
func NewHandler[K comparable, V any](mgr *Manager[K, V], observer Observer[K, V]) *Handler[K, V] {
	if mgr == nil {
		errors.Panicf("manager: NewHandler with nil manager")
	}
	if observer == nil {
		errors.Panicf("manager: NewHandler for %s with nil observer", mgr.region)
	}
	h := &Handler[K, V]{
		id:       mgr.nextHandlerID(),
		observer: observer,
		keys:     make(map[K]struct{}),
	}
	h.mgr.Store(mgr)
	return h
}

// ID returns the handler id, unique within its manager.
func (h *Handler[K, V]) ID() uint64 {
	return h.id
}

// Manager returns the owning manager, or nil once the handler was closed or
// the manager torn down.
func (h *Handler[K, V]) Manager() *Manager[K, V] {
	return h.mgr.Load()
}

// WatchAll enables or disables notifications for every key.
func (h *Handler[K, V]) WatchAll(enable bool) {
	if m := h.mgr.Load(); m != nil {
		m.watchAll(h, enable)
	}
}

// WatchOne enables or disables notifications for key.
func (h *Handler[K, V]) WatchOne(key K, enable bool) {
	if m := h.mgr.Load(); m != nil {
		m.watchOne(h, key, enable)
	}
}

// WatchingAll reports whether the handler watches every key.
func (h *Handler[K, V]) WatchingAll() bool {
	m := h.mgr.Load()
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return h.all
}

// Watching reports whether a change to key would be delivered.
func (h *Handler[K, V]) Watching(key K) bool {
	m := h.mgr.Load()
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return h.interested(key)
}

// Close removes the handler from its manager. Later calls are no-ops.
func (h *Handler[K, V]) Close() {
	if m := h.mgr.Swap(nil); m != nil {
		m.RemoveHandler(h)
	}
}

// unregisterMgr forgets the manager without touching its handler set. The
// manager calls it while tearing itself down.
func (h *Handler[K, V]) unregisterMgr() {
	h.mgr.Store(nil)
}

func (h *Handler[K, V]) interested(key K) bool {
	if h.all {
		return true
	}
	_, ok := h.keys[key]
	return ok
}
