package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/agentsdk/pkg/retry"
)

// KVEntry wraps a KV entry with its revision for CAS operations
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions configures KV operations behavior
type KVOptions struct {
	MaxRetries            int           // Maximum CAS retry attempts
	RetryDelay            time.Duration // Initial delay between retries
	Timeout               time.Duration // Per-operation timeout
	MaxValueSize          int           // Maximum size for values
	UseExponentialBackoff bool
	MaxRetryDelay         time.Duration
}

// DefaultKVOptions returns the defaults used by the store binding
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:            10,
		RetryDelay:            10 * time.Millisecond,
		Timeout:               5 * time.Second,
		MaxValueSize:          1024 * 1024,
		UseExponentialBackoff: true,
		MaxRetryDelay:         time.Second,
	}
}

// KVStore provides key/value operations on one bucket with built-in CAS
// support.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore wraps bucket
func (m *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  m.logger.With("bucket", bucket.Bucket()),
	}
}

// Bucket returns the bucket name
func (kv *KVStore) Bucket() string {
	return kv.bucket.Bucket()
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get retrieves a value with its revision. A deleted or absent key returns
// ErrKVKeyNotFound.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}

	return &KVEntry{
		Key:      key,
		Value:    entry.Value(),
		Revision: entry.Revision(),
	}, nil
}

// Keys lists the live keys. An empty bucket returns no keys and no error.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	lister, err := kv.bucket.ListKeys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	return keys, nil
}

// Put creates or updates a key without revision check (last writer wins)
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if kv.options.MaxValueSize > 0 && len(value) > kv.options.MaxValueSize {
		return 0, fmt.Errorf("kv put %s: %w", key, ErrKVValueTooLarge)
	}

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}

	kv.logger.Debug("KV put", "key", key, "revision", rev)
	return rev, nil
}

// Create only creates if key doesn't exist (returns ErrKVKeyExists if it does)
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVKeyExists
		}
		return 0, fmt.Errorf("kv create %s: %w", key, err)
	}

	kv.logger.Debug("KV create", "key", key, "revision", rev)
	return rev, nil
}

// Update performs CAS update with explicit revision
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVRevisionMismatch
		}
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}

	kv.logger.Debug("KV update", "key", key, "old_revision", revision, "revision", rev)
	return rev, nil
}

func (kv *KVStore) retryConfig() retry.Config {
	cfg := retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     kv.options.MaxRetryDelay,
		Multiplier:   1.0,
		AddJitter:    true,
	}
	if kv.options.UseExponentialBackoff {
		cfg.Multiplier = 2.0
	}
	return cfg
}

// UpdateWithRetry reads key, applies updateFn and writes the result with a
// revision check, retrying on conflicts. An absent key is passed to updateFn
// as nil and created. Errors from updateFn are not retried.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string,
	updateFn func(current []byte) ([]byte, error)) (uint64, error) {

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	cfg := kv.retryConfig()
	attempt := 0

	rev, err := retry.DoWithResult(ctx, cfg, func() (uint64, error) {
		attempt++

		var current []byte
		var revision uint64
		entry, err := kv.Get(ctx, key)
		switch {
		case err == nil:
			current, revision = entry.Value, entry.Revision
		case !IsKVNotFoundError(err):
			return 0, fmt.Errorf("kv get failed during update: %w", err)
		}

		next, err := updateFn(current)
		if err != nil {
			return 0, retry.NonRetryable(fmt.Errorf("update function error: %w", err))
		}
		if kv.options.MaxValueSize > 0 && len(next) > kv.options.MaxValueSize {
			return 0, retry.NonRetryable(fmt.Errorf("kv update %s: %w", key, ErrKVValueTooLarge))
		}

		var rev uint64
		if revision == 0 {
			rev, err = kv.Create(ctx, key, next)
		} else {
			rev, err = kv.Update(ctx, key, next, revision)
		}
		if err != nil && IsKVConflictError(err) {
			kv.logger.Debug("KV CAS conflict, retrying", "key", key, "attempt", attempt, "max", cfg.MaxAttempts)
		}
		return rev, err
	})

	if err != nil && IsKVConflictError(err) {
		return 0, ErrKVMaxRetriesExceeded
	}
	return rev, err
}

// Delete removes a key. Deleting an absent key is not an error.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("kv delete %s: %w", key, err)
	}

	kv.logger.Debug("KV delete", "key", key)
	return nil
}

// WatchAll watches every key. The watcher first replays the current value
// of each key, then sends a nil entry, then streams updates. The watch is
// long-lived and takes no timeout.
func (kv *KVStore) WatchAll(ctx context.Context) (jetstream.KeyWatcher, error) {
	watcher, err := kv.bucket.WatchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv watch %s: %w", kv.bucket.Bucket(), err)
	}
	return watcher, nil
}

// IsKVNotFoundError checks if error indicates key not found
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVKeyNotFound) ||
		stderrors.Is(err, jetstream.ErrKeyNotFound) ||
		stderrors.Is(err, jetstream.ErrKeyDeleted) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "key not found") ||
		strings.Contains(errMsg, "10037")
}

// IsKVConflictError checks if error indicates a conflict (key exists or wrong revision)
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVRevisionMismatch) ||
		stderrors.Is(err, ErrKVKeyExists) ||
		stderrors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "wrong last sequence") ||
		strings.Contains(errMsg, "10071") ||
		strings.Contains(errMsg, "key exists") ||
		strings.Contains(errMsg, "10058")
}

// Well-known KV errors
var (
	ErrKVKeyNotFound        = stderrors.New("kv: key not found")
	ErrKVKeyExists          = stderrors.New("kv: key already exists")
	ErrKVRevisionMismatch   = stderrors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = stderrors.New("kv: max retries exceeded")
	ErrKVValueTooLarge      = stderrors.New("kv: value exceeds maximum size")
)
