// Package memstore is an in-process implementation of store.Store. It backs
// unit tests and local runs of agents that have no NATS deployment to mount.
//
// Buckets keep a per-bucket revision counter. Watchers replay the current
// values in key order, send the nil end-of-replay marker, then stream every
// subsequent change in the order it was applied. Watcher queues are unbounded
// so a writer never blocks on a slow reader.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/store"
)

// Store holds named in-memory buckets.
type Store struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

// New creates a store providing the given regions. Regions not listed here
// are reported as errors.ErrRegionNotFound until AddRegion is called.
func New(regions ...string) *Store {
	s := &Store{buckets: make(map[string]*Bucket)}
	for _, r := range regions {
		s.AddRegion(r)
	}
	return s
}

// AddRegion makes region available and returns its bucket.
func (s *Store) AddRegion(region string) *Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[region]; ok {
		return b
	}
	b := &Bucket{name: region, entries: make(map[string]store.Entry)}
	s.buckets[region] = b
	return b
}

// Region returns the bucket for region without a context, for test setup.
func (s *Store) Region(region string) (*Bucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[region]
	return b, ok
}

// Bucket implements store.Store.
func (s *Store) Bucket(_ context.Context, region string) (store.Bucket, error) {
	b, ok := s.Region(region)
	if !ok {
		return nil, fmt.Errorf("memstore: region %q: %w", region, errors.ErrRegionNotFound)
	}
	return b, nil
}

// Bucket is one in-memory region.
type Bucket struct {
	name string

	mu       sync.Mutex
	revision uint64
	entries  map[string]store.Entry
	watchers []*watcher
}

// Name implements store.Bucket.
func (b *Bucket) Name() string {
	return b.name
}

// Get implements store.Bucket.
func (b *Bucket) Get(_ context.Context, key string) (store.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return store.Entry{}, errors.ErrKeyNotFound
	}
	e.Value = slices.Clone(e.Value)
	return e, nil
}

// Keys implements store.Bucket.
func (b *Bucket) Keys(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// Put implements store.Bucket.
func (b *Bucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	if key == "" {
		return 0, errors.WrapInvalid(errors.ErrInvalidData, "memstore", "Put", "key validation")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.revision++
	e := store.Entry{
		Region:   b.name,
		Key:      key,
		Value:    slices.Clone(value),
		Revision: b.revision,
		Op:       store.OpPut,
	}
	b.entries[key] = e
	b.publishLocked(e)
	return e.Revision, nil
}

// Update implements store.Updater. fn runs with the bucket locked.
func (b *Bucket) Update(_ context.Context, key string, fn func(current []byte) ([]byte, error)) (uint64, error) {
	if key == "" {
		return 0, errors.WrapInvalid(errors.ErrInvalidData, "memstore", "Update", "key validation")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var current []byte
	if e, ok := b.entries[key]; ok {
		current = slices.Clone(e.Value)
	}
	next, err := fn(current)
	if err != nil {
		return 0, err
	}

	b.revision++
	e := store.Entry{
		Region:   b.name,
		Key:      key,
		Value:    slices.Clone(next),
		Revision: b.revision,
		Op:       store.OpPut,
	}
	b.entries[key] = e
	b.publishLocked(e)
	return e.Revision, nil
}

// Delete implements store.Bucket.
func (b *Bucket) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[key]; !ok {
		return nil
	}
	delete(b.entries, key)
	b.revision++
	b.publishLocked(store.Entry{
		Region:   b.name,
		Key:      key,
		Revision: b.revision,
		Op:       store.OpDelete,
	})
	return nil
}

// Watch implements store.Bucket.
func (b *Bucket) Watch(ctx context.Context) (store.Watcher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w := newWatcher(b)

	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		e := b.entries[k]
		e.Value = slices.Clone(e.Value)
		w.enqueue(&e)
	}
	w.enqueue(nil)

	b.watchers = append(b.watchers, w)
	go w.pump(ctx)
	return w, nil
}

// DropWatchers stops every watcher of the bucket, closing their feeds the way
// a lost store connection does.
func (b *Bucket) DropWatchers() {
	b.mu.Lock()
	ws := slices.Clone(b.watchers)
	b.mu.Unlock()
	for _, w := range ws {
		_ = w.Stop()
	}
}

func (b *Bucket) publishLocked(e store.Entry) {
	for _, w := range b.watchers {
		c := e
		c.Value = slices.Clone(e.Value)
		w.enqueue(&c)
	}
}

func (b *Bucket) removeWatcher(w *watcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchers = slices.DeleteFunc(b.watchers, func(x *watcher) bool { return x == w })
}

type watcher struct {
	bucket *Bucket
	out    chan *store.Entry
	done   chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*store.Entry
	stopped bool
	once    sync.Once
}

func newWatcher(b *Bucket) *watcher {
	w := &watcher{bucket: b, out: make(chan *store.Entry), done: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *watcher) enqueue(e *store.Entry) {
	w.mu.Lock()
	w.queue = append(w.queue, e)
	w.mu.Unlock()
	w.cond.Signal()
}

func (w *watcher) pump(ctx context.Context) {
	defer close(w.out)

	stop := context.AfterFunc(ctx, func() { _ = w.Stop() })
	defer stop()

	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.stopped {
			w.cond.Wait()
		}
		if w.stopped {
			w.mu.Unlock()
			return
		}
		next := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		select {
		case w.out <- next:
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Updates implements store.Watcher.
func (w *watcher) Updates() <-chan *store.Entry {
	return w.out
}

// Stop implements store.Watcher.
func (w *watcher) Stop() error {
	w.once.Do(func() {
		w.bucket.removeWatcher(w)
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
		close(w.done)
		w.cond.Broadcast()
	})
	return nil
}
