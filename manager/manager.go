package manager

import (
	"context"
	stderrors "errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/iterator"
	"github.com/c360/agentsdk/metric"
	"github.com/c360/agentsdk/mount"
	"github.com/c360/agentsdk/store"
)

// Status is the mount state of a Manager.
type Status int

const (
	// StatusUnmounted means mounting has not completed. Reads are protocol
	// violations.
	StatusUnmounted Status = iota
	// StatusMounted means the manager serves its region.
	StatusMounted
	// StatusStub means the region has no backing: reads are empty, writes
	// are accepted and dropped, no change is ever delivered.
	StatusStub
	// StatusStale means the change feed was lost; reads serve the last view.
	StatusStale
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusUnmounted:
		return "unmounted"
	case StatusMounted:
		return "mounted"
	case StatusStub:
		return "stub"
	case StatusStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Change is one observed change to a key.
type Change[K comparable, V any] struct {
	Key K
	Op  store.Op
	// Value is the new value; zero for deletes.
	Value V
	// Previous is the value before the change, valid when HadPrevious.
	Previous    V
	HadPrevious bool
	Revision    uint64
}

type item[V any] struct {
	value    V
	revision uint64
}

type config struct {
	logger   *slog.Logger
	metrics  *metric.Metrics
	mode     store.AccessMode
	onStatus func(region string, s Status)
}

// Option configures a Manager
type Option func(*config)

// WithLogger sets the manager logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records handler counts, applied changes and notifications
func WithMetrics(m *metric.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithMode sets the access mode the manager requires for its region. The
// default is store.ReadNotify.
func WithMode(mode store.AccessMode) Option {
	return func(c *config) {
		c.mode = mode
	}
}

// WithStatusListener is called after every status transition, outside the
// manager's lock.
func WithStatusListener(fn func(region string, s Status)) Option {
	return func(c *config) {
		c.onStatus = fn
	}
}

// Manager owns one region of state: the local view of its entries and the
// handlers subscribed to them. It takes part in mounting as a
// mount.Participant and receives store changes from dispatch through Apply.
//
// Reads are served from the local view and never block on the store. Writes
// go through to the store; the view reflects them once the change feed
// delivers them.
type Manager[K comparable, V any] struct {
	region string
	codec  Codec[K, V]
	stub   bool
	cfg    config
	logger *slog.Logger

	mu       sync.RWMutex
	status   Status
	closed   bool
	bucket   store.Bucket
	writable bool
	view     map[K]item[V]
	keys     []K // view keys sorted by codec.Compare
	handlers map[uint64]*Handler[K, V]
	order    []uint64
	nextID   uint64
}

// New creates a manager for region. It serves the region once mounted, or
// degrades to a stub if the store does not provide it.
func New[K comparable, V any](region string, codec Codec[K, V], opts ...Option) *Manager[K, V] {
	return newManager(region, codec, false, opts)
}

// NewStub creates a manager that never binds to the store: it mounts as a
// stub regardless of what the store provides.
func NewStub[K comparable, V any](region string, codec Codec[K, V], opts ...Option) *Manager[K, V] {
	return newManager(region, codec, true, opts)
}

func newManager[K comparable, V any](region string, codec Codec[K, V], stub bool, opts []Option) *Manager[K, V] {
	if region == "" {
		errors.Panicf("manager: empty region")
	}
	if codec == nil {
		errors.Panicf("manager: nil codec for region %s", region)
	}

	cfg := config{logger: slog.Default(), mode: store.ReadNotify}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.mode.Valid() {
		errors.Panicf("manager: invalid access mode %d for region %s", int(cfg.mode), region)
	}

	return &Manager[K, V]{
		region:   region,
		codec:    codec,
		stub:     stub,
		cfg:      cfg,
		logger:   cfg.logger.With("component", "manager", "region", region),
		view:     make(map[K]item[V]),
		handlers: make(map[uint64]*Handler[K, V]),
	}
}

// Region returns the region name.
func (m *Manager[K, V]) Region() string {
	return m.region
}

// Mode returns the access mode the manager requires.
func (m *Manager[K, V]) Mode() store.AccessMode {
	return m.cfg.mode
}

// Status returns the current mount status.
func (m *Manager[K, V]) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// OnMount implements mount.Participant.
func (m *Manager[K, V]) OnMount(g *mount.Group) {
	if m.stub {
		return
	}
	g.Require(m.region, m.cfg.mode)
}

// OnMountsComplete implements mount.Participant. The region's snapshot
// becomes the initial view; it is not delivered as notifications.
func (m *Manager[K, V]) OnMountsComplete(acc mount.Accessor) {
	var (
		bucket store.Bucket
		mode   store.AccessMode
		ok     bool
	)
	if !m.stub {
		bucket, mode, ok = acc.Region(m.region)
	}
	if !ok {
		m.setStatus(StatusStub)
		m.logger.Info("Manager mounted as stub")
		return
	}

	view := make(map[K]item[V])
	for _, e := range acc.Snapshot(m.region) {
		k, v, err := m.decode(&e)
		if err != nil {
			m.drop(&e, "decode", err)
			continue
		}
		view[k] = item[V]{value: v, revision: e.Revision}
	}
	keys := make([]K, 0, len(view))
	for k := range view {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, m.codec.Compare)

	m.mu.Lock()
	m.bucket = bucket
	m.writable = m.cfg.mode.Writable() && mode.Writable()
	m.view = view
	m.keys = keys
	m.mu.Unlock()

	m.setStatus(StatusMounted)
	m.logger.Info("Manager mounted", "entries", len(view), "mode", mode.String(), "bucket", bucket.Name())
}

func (m *Manager[K, V]) setStatus(s Status) {
	m.mu.Lock()
	changed := m.status != s
	m.status = s
	m.mu.Unlock()

	if !changed {
		return
	}
	m.cfg.metrics.RecordManagerStatus(m.region, int(s))
	if m.cfg.onStatus != nil {
		m.cfg.onStatus(m.region, s)
	}
}

// MarkStale flags the view as stale after the change feed was lost, or clears
// the flag once it is restored. Only mounted managers change status.
func (m *Manager[K, V]) MarkStale(stale bool) {
	cur := m.Status()
	switch {
	case stale && cur == StatusMounted:
		m.logger.Warn("Change feed lost, serving stale view")
		m.setStatus(StatusStale)
	case !stale && cur == StatusStale:
		m.logger.Info("Change feed restored")
		m.setStatus(StatusMounted)
	}
}

// Resync folds a fresh snapshot of the region into the view once its change
// feed is re-established, then clears the stale flag. Entries newer than the
// view are applied as changes and keys the snapshot no longer holds are
// applied as deletes, so handlers see what they missed while stale.
func (m *Manager[K, V]) Resync(snapshot []store.Entry) {
	if s := m.Status(); s != StatusMounted && s != StatusStale {
		return
	}

	seen := make(map[K]struct{}, len(snapshot))
	for i := range snapshot {
		e := &snapshot[i]
		if e.Op == store.OpDelete {
			continue
		}
		k, err := m.codec.DecodeKey(e.Key)
		if err != nil {
			m.drop(e, "decode", err)
			continue
		}
		seen[k] = struct{}{}
		m.mu.RLock()
		cur, ok := m.view[k]
		m.mu.RUnlock()
		if ok && cur.revision >= e.Revision {
			continue
		}
		m.Apply(e)
	}

	m.mu.RLock()
	var gone []K
	for _, k := range m.keys {
		if _, ok := seen[k]; !ok {
			gone = append(gone, k)
		}
	}
	m.mu.RUnlock()
	for _, k := range gone {
		m.Apply(&store.Entry{Region: m.region, Key: m.codec.EncodeKey(k), Op: store.OpDelete})
	}

	m.logger.Info("View resynchronized", "entries", len(seen), "removed", len(gone))
	m.MarkStale(false)
}

// readable panics unless the manager finished mounting. Caller holds m.mu.
func (m *Manager[K, V]) readable(op string) {
	if m.status == StatusUnmounted {
		errors.Panicf("manager: %s on region %s before mounting completed", op, m.region)
	}
}

// Get returns the value stored under key.
func (m *Manager[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.readable("Get")

	it, ok := m.view[key]
	return it.value, ok
}

// Exists reports whether key is present.
func (m *Manager[K, V]) Exists(key K) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.readable("Exists")

	_, ok := m.view[key]
	return ok
}

// Len returns the number of entries in the view.
func (m *Manager[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.readable("Len")

	return len(m.view)
}

// Cursor returns a cursor over the entries in key order, starting after
// the bookmark. Each step seeks the live key index, so keys added ahead of
// the cursor are visited and keys removed ahead of it are skipped.
func (m *Manager[K, V]) Cursor(b iterator.Bookmark[K]) *iterator.Cursor[K, V] {
	m.checkReadable("Cursor")
	return iterator.NewCursor[K, V](index[K, V]{m}, b)
}

// Iter is Cursor as a range-over-func sequence.
func (m *Manager[K, V]) Iter(b iterator.Bookmark[K]) iter.Seq2[K, V] {
	m.checkReadable("Iter")
	return iterator.NewCursor[K, V](index[K, V]{m}, b).Seq()
}

func (m *Manager[K, V]) checkReadable(op string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.readable(op)
}

// index exposes the manager's sorted keys to cursors.
type index[K comparable, V any] struct {
	m *Manager[K, V]
}

func (x index[K, V]) Compare(a, b K) int {
	return x.m.codec.Compare(a, b)
}

func (x index[K, V]) Seek(b iterator.Bookmark[K]) (K, bool) {
	x.m.mu.RLock()
	defer x.m.mu.RUnlock()
	return iterator.SeekSorted(x.m.keys, b, x.m.codec.Compare)
}

func (x index[K, V]) Lookup(key K) (V, bool) {
	x.m.mu.RLock()
	defer x.m.mu.RUnlock()
	it, ok := x.m.view[key]
	return it.value, ok
}

// insertKey and removeKey keep keys sorted. Caller holds m.mu.
func (m *Manager[K, V]) insertKey(key K) {
	i, found := slices.BinarySearchFunc(m.keys, key, m.codec.Compare)
	if !found {
		m.keys = slices.Insert(m.keys, i, key)
	}
}

func (m *Manager[K, V]) removeKey(key K) {
	if i, found := slices.BinarySearchFunc(m.keys, key, m.codec.Compare); found {
		m.keys = slices.Delete(m.keys, i, i+1)
	}
}

func (m *Manager[K, V]) writeTarget(op string) (store.Bucket, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.readable(op)

	if m.status == StatusStub || m.closed {
		return nil, false, nil
	}
	if !m.writable {
		return nil, false, errors.WrapInvalid(errors.ErrReadOnly, "Manager", op,
			fmt.Sprintf("write region %s", m.region))
	}
	return m.bucket, true, nil
}

// Set writes value under key. On a stub it is accepted and dropped. It fails
// with errors.ErrReadOnly unless the manager was mounted read-write.
func (m *Manager[K, V]) Set(ctx context.Context, key K, value V) error {
	bucket, ok, err := m.writeTarget("Set")
	if !ok {
		return err
	}

	data, err := m.codec.EncodeValue(value)
	if err != nil {
		return errors.WrapInvalid(err, "Manager", "Set", "encode value")
	}
	if _, err := bucket.Put(ctx, m.codec.EncodeKey(key), data); err != nil {
		m.cfg.metrics.RecordError("manager", errors.Classify(err).String())
		return errors.WrapTransient(err, "Manager", "Set", fmt.Sprintf("put %s", m.region))
	}
	return nil
}

// Update replaces the value under key with fn's result. fn receives the
// stored value and whether it existed. Buckets implementing store.Updater
// apply the change with a revision check; others read then put. On a stub fn
// is not called.
func (m *Manager[K, V]) Update(ctx context.Context, key K, fn func(current V, ok bool) (V, error)) error {
	bucket, ok, err := m.writeTarget("Update")
	if !ok {
		return err
	}

	apply := func(current []byte) ([]byte, error) {
		var cur V
		if current != nil {
			v, err := m.codec.DecodeValue(current)
			if err != nil {
				return nil, err
			}
			cur = v
		}
		next, err := fn(cur, current != nil)
		if err != nil {
			return nil, err
		}
		return m.codec.EncodeValue(next)
	}

	storeKey := m.codec.EncodeKey(key)
	if u, ok := bucket.(store.Updater); ok {
		_, err = u.Update(ctx, storeKey, apply)
	} else {
		err = readModifyWrite(ctx, bucket, storeKey, apply)
	}
	if err != nil {
		m.cfg.metrics.RecordError("manager", errors.Classify(err).String())
		return errors.Wrap(err, "Manager", "Update", fmt.Sprintf("update %s", m.region))
	}
	return nil
}

func readModifyWrite(ctx context.Context, b store.Bucket, key string, fn func([]byte) ([]byte, error)) error {
	var current []byte
	e, err := b.Get(ctx, key)
	switch {
	case err == nil:
		current = e.Value
	case !stderrors.Is(err, errors.ErrKeyNotFound):
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	_, err = b.Put(ctx, key, next)
	return err
}

// Delete removes key. On a stub it is accepted and dropped.
func (m *Manager[K, V]) Delete(ctx context.Context, key K) error {
	bucket, ok, err := m.writeTarget("Delete")
	if !ok {
		return err
	}

	if err := bucket.Delete(ctx, m.codec.EncodeKey(key)); err != nil {
		m.cfg.metrics.RecordError("manager", errors.Classify(err).String())
		return errors.WrapTransient(err, "Manager", "Delete", fmt.Sprintf("delete %s", m.region))
	}
	return nil
}

func (m *Manager[K, V]) nextHandlerID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

// AddHandler registers h. Registering a handler twice is a no-op. A handler
// created for another manager is a protocol violation.
func (m *Manager[K, V]) AddHandler(h *Handler[K, V]) {
	if h == nil {
		return
	}
	if owner := h.mgr.Load(); owner != m {
		if owner == nil {
			return
		}
		errors.Panicf("manager: handler %d of region %s added to region %s", h.id, owner.region, m.region)
	}

	m.mu.Lock()
	m.addLocked(h)
	n := len(m.order)
	m.mu.Unlock()

	m.cfg.metrics.RecordHandlers(m.region, n)
}

func (m *Manager[K, V]) addLocked(h *Handler[K, V]) bool {
	if _, ok := m.handlers[h.id]; ok {
		return false
	}
	m.handlers[h.id] = h
	m.order = append(m.order, h.id)
	return true
}

// RemoveHandler unregisters h and clears its scopes. Removing a handler that
// is not registered is a no-op.
func (m *Manager[K, V]) RemoveHandler(h *Handler[K, V]) {
	if h == nil {
		return
	}

	m.mu.Lock()
	if cur, ok := m.handlers[h.id]; !ok || cur != h {
		m.mu.Unlock()
		return
	}
	delete(m.handlers, h.id)
	m.order = slices.DeleteFunc(m.order, func(id uint64) bool { return id == h.id })
	h.all = false
	clear(h.keys)
	n := len(m.order)
	m.mu.Unlock()

	m.cfg.metrics.RecordHandlers(m.region, n)
}

// HandlerCount returns the number of registered handlers.
func (m *Manager[K, V]) HandlerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

func (m *Manager[K, V]) watchAll(h *Handler[K, V], enable bool) {
	m.mu.Lock()
	h.all = enable
	added := enable && m.addLocked(h)
	n := len(m.order)
	m.mu.Unlock()

	if added {
		m.cfg.metrics.RecordHandlers(m.region, n)
	}
}

func (m *Manager[K, V]) watchOne(h *Handler[K, V], key K, enable bool) {
	m.mu.Lock()
	added := false
	if enable {
		h.keys[key] = struct{}{}
		added = m.addLocked(h)
	} else {
		delete(h.keys, key)
	}
	n := len(m.order)
	m.mu.Unlock()

	if added {
		m.cfg.metrics.RecordHandlers(m.region, n)
	}
}

// Notify delivers c to every registered handler watching all keys or c.Key,
// once per handler, in registration order. A handler removed by an earlier
// observer during the same delivery is skipped. Only mounted or stale
// managers deliver; stubs never do.
func (m *Manager[K, V]) Notify(c Change[K, V]) {
	m.mu.RLock()
	if m.closed || (m.status != StatusMounted && m.status != StatusStale) {
		m.mu.RUnlock()
		return
	}
	targets := make([]*Handler[K, V], 0, len(m.order))
	for _, id := range m.order {
		if h := m.handlers[id]; h.interested(c.Key) {
			targets = append(targets, h)
		}
	}
	m.mu.RUnlock()

	delivered := 0
	for _, h := range targets {
		if !m.registered(h) {
			continue
		}
		h.observer.OnChange(c)
		delivered++
	}
	m.cfg.metrics.RecordNotifications(m.region, delivered)
}

func (m *Manager[K, V]) registered(h *Handler[K, V]) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlers[h.id] == h
}

// Apply folds a store change into the view and notifies interested handlers.
// Stubs and closed managers ignore changes, as do entries no newer than the
// view's revision for the key.
func (m *Manager[K, V]) Apply(e *store.Entry) {
	var (
		key   K
		value V
		err   error
	)
	if e.Op == store.OpDelete {
		key, err = m.codec.DecodeKey(e.Key)
	} else {
		key, value, err = m.decode(e)
	}
	if err != nil {
		m.drop(e, "decode", err)
		return
	}

	m.mu.Lock()
	if m.closed || (m.status != StatusMounted && m.status != StatusStale) {
		m.mu.Unlock()
		return
	}
	prev, had := m.view[key]
	if had && e.Revision != 0 && e.Revision <= prev.revision {
		m.mu.Unlock()
		m.cfg.metrics.RecordChangeDropped(m.region, "stale_revision")
		return
	}

	c := Change[K, V]{Key: key, Op: e.Op, Previous: prev.value, HadPrevious: had, Revision: e.Revision}
	switch e.Op {
	case store.OpDelete:
		if !had {
			m.mu.Unlock()
			return
		}
		delete(m.view, key)
		m.removeKey(key)
	default:
		c.Value = value
		m.view[key] = item[V]{value: value, revision: e.Revision}
		if !had {
			m.insertKey(key)
		}
	}
	m.mu.Unlock()

	m.cfg.metrics.RecordChangeApplied(m.region, e.Op.String())
	m.Notify(c)
}

func (m *Manager[K, V]) decode(e *store.Entry) (K, V, error) {
	var v V
	k, err := m.codec.DecodeKey(e.Key)
	if err != nil {
		return k, v, err
	}
	v, err = m.codec.DecodeValue(e.Value)
	return k, v, err
}

func (m *Manager[K, V]) drop(e *store.Entry, reason string, err error) {
	m.logger.Warn("Dropping undecodable entry", "key", e.Key, "revision", e.Revision, "error", err)
	m.cfg.metrics.RecordChangeDropped(m.region, reason)
}

// Close detaches every handler and releases the region binding. Handlers
// keep working as inert no-ops. Close is idempotent.
func (m *Manager[K, V]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, id := range m.order {
		m.handlers[id].unregisterMgr()
	}
	clear(m.handlers)
	m.order = nil
	m.bucket = nil
	m.writable = false
	m.mu.Unlock()

	m.cfg.metrics.RecordHandlers(m.region, 0)
	m.logger.Debug("Manager closed")
}
