// Package natskv binds regions to NATS JetStream key/value buckets.
//
// Every region the agent may mount is declared up front with a Binding that
// names its bucket. Regions without a binding, and bindings whose bucket does
// not exist and may not be created, are reported as errors.ErrRegionNotFound
// so the SDK mounts them as stubs.
package natskv

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/natsclient"
	"github.com/c360/agentsdk/store"
)

// Binding maps one region to its bucket.
type Binding struct {
	Bucket string
	// History is the number of revisions kept per key when the bucket is
	// created, at most jetstream.KeyValueMaxHistory. Zero keeps the
	// JetStream default.
	History int
	// Create makes the bucket if it does not exist.
	Create bool
}

// Store implements store.Store over a connected natsclient.Client.
type Store struct {
	client   *natsclient.Client
	bindings map[string]Binding
	logger   *slog.Logger
	kvOpts   []func(*natsclient.KVOptions)

	mu     sync.Mutex
	opened map[string]*Bucket
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithKVOptions adjusts the per-bucket KV options
func WithKVOptions(opts ...func(*natsclient.KVOptions)) Option {
	return func(s *Store) {
		s.kvOpts = append(s.kvOpts, opts...)
	}
}

// New creates a store serving the given region bindings.
func New(client *natsclient.Client, bindings map[string]Binding, opts ...Option) *Store {
	s := &Store{
		client:   client,
		bindings: make(map[string]Binding, len(bindings)),
		logger:   slog.Default(),
		opened:   make(map[string]*Bucket),
	}
	for region, b := range bindings {
		s.bindings[region] = b
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "natskv")
	return s
}

// Bucket implements store.Store. Buckets are opened once and cached.
func (s *Store) Bucket(ctx context.Context, region string) (store.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.opened[region]; ok {
		return b, nil
	}

	binding, ok := s.bindings[region]
	if !ok {
		return nil, fmt.Errorf("natskv: region %q has no bucket binding: %w", region, errors.ErrRegionNotFound)
	}
	if binding.History < 0 || binding.History > jetstream.KeyValueMaxHistory {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Store", "Bucket",
			fmt.Sprintf("history %d of region %s outside 0..%d", binding.History, region, jetstream.KeyValueMaxHistory))
	}

	kv, err := s.open(ctx, binding)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrBucketNotFound) {
			s.logger.Info("Bucket not provisioned", "region", region, "bucket", binding.Bucket)
			return nil, fmt.Errorf("natskv: bucket %q: %w", binding.Bucket, errors.ErrRegionNotFound)
		}
		return nil, errors.WrapTransient(err, "Store", "Bucket", fmt.Sprintf("open bucket for region %s", region))
	}

	b := &Bucket{
		region: region,
		kv:     s.client.NewKVStore(kv, s.kvOpts...),
		logger: s.logger.With("region", region, "bucket", binding.Bucket),
	}
	s.opened[region] = b
	return b, nil
}

func (s *Store) open(ctx context.Context, b Binding) (jetstream.KeyValue, error) {
	if !b.Create {
		return s.client.GetKeyValueBucket(ctx, b.Bucket)
	}
	return s.client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:  b.Bucket,
		History: uint8(b.History),
	})
}

// Bucket is one region backed by a KV bucket.
type Bucket struct {
	region string
	kv     *natsclient.KVStore
	logger *slog.Logger
}

// Name implements store.Bucket.
func (b *Bucket) Name() string {
	return b.region
}

// Get implements store.Bucket.
func (b *Bucket) Get(ctx context.Context, key string) (store.Entry, error) {
	e, err := b.kv.Get(ctx, key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return store.Entry{}, errors.ErrKeyNotFound
		}
		return store.Entry{}, errors.WrapTransient(err, "Bucket", "Get", fmt.Sprintf("get %s", key))
	}
	return store.Entry{
		Region:   b.region,
		Key:      e.Key,
		Value:    e.Value,
		Revision: e.Revision,
		Op:       store.OpPut,
	}, nil
}

// Keys implements store.Bucket.
func (b *Bucket) Keys(ctx context.Context) ([]string, error) {
	keys, err := b.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "Bucket", "Keys", "list keys")
	}
	return keys, nil
}

// Put implements store.Bucket.
func (b *Bucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if key == "" {
		return 0, errors.WrapInvalid(errors.ErrInvalidData, "Bucket", "Put", "key validation")
	}
	rev, err := b.kv.Put(ctx, key, value)
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVValueTooLarge) {
			return 0, errors.WrapInvalid(err, "Bucket", "Put", fmt.Sprintf("put %s", key))
		}
		return 0, errors.WrapTransient(err, "Bucket", "Put", fmt.Sprintf("put %s", key))
	}
	return rev, nil
}

// Update implements store.Updater with a revision-checked retry loop.
func (b *Bucket) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) (uint64, error) {
	if key == "" {
		return 0, errors.WrapInvalid(errors.ErrInvalidData, "Bucket", "Update", "key validation")
	}
	rev, err := b.kv.UpdateWithRetry(ctx, key, fn)
	if err != nil {
		return 0, errors.Wrap(err, "Bucket", "Update", fmt.Sprintf("update %s", key))
	}
	return rev, nil
}

// Delete implements store.Bucket.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	if err := b.kv.Delete(ctx, key); err != nil {
		return errors.WrapTransient(err, "Bucket", "Delete", fmt.Sprintf("delete %s", key))
	}
	return nil
}

// Watch implements store.Bucket over a JetStream watch of every key.
func (b *Bucket) Watch(ctx context.Context) (store.Watcher, error) {
	kw, err := b.kv.WatchAll(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "Bucket", "Watch", "start watch")
	}

	w := &watcher{
		kw:     kw,
		region: b.region,
		out:    make(chan *store.Entry, 64),
		done:   make(chan struct{}),
		logger: b.logger,
	}
	go w.pump(ctx)
	return w, nil
}

type watcher struct {
	kw     jetstream.KeyWatcher
	region string
	out    chan *store.Entry
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (w *watcher) Updates() <-chan *store.Entry {
	return w.out
}

func (w *watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.kw.Stop()
	})
	return err
}

// pump converts JetStream entries until the watch ends, then closes out.
func (w *watcher) pump(ctx context.Context) {
	defer close(w.out)

	for {
		var kve jetstream.KeyValueEntry
		var ok bool
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			_ = w.Stop()
			return
		case kve, ok = <-w.kw.Updates():
			if !ok {
				w.logger.Warn("KV watch ended")
				return
			}
		}

		e := convert(w.region, kve)
		select {
		case w.out <- e:
		case <-w.done:
			return
		case <-ctx.Done():
			_ = w.Stop()
			return
		}
	}
}

// convert maps a JetStream entry to a store entry. A nil entry is the end of
// the initial replay and stays nil.
func convert(region string, kve jetstream.KeyValueEntry) *store.Entry {
	if kve == nil {
		return nil
	}
	e := &store.Entry{
		Region:   region,
		Key:      kve.Key(),
		Revision: kve.Revision(),
		Op:       store.OpPut,
	}
	switch kve.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		e.Op = store.OpDelete
	default:
		e.Value = kve.Value()
	}
	return e
}
