// Package store defines the boundary between the SDK and the externally owned
// state store. A Store hands out one Bucket per region of state; a Bucket
// supports point reads, writes, key listing and a watch that replays current
// values before streaming updates.
//
// The SDK never assumes anything about how the store persists or replicates
// data. Implementations live in subpackages: natskv binds regions to NATS
// JetStream key/value buckets, memstore keeps everything in process.
package store

import (
	"context"
)

// AccessMode is the depth of change tracking a participant asks for when it
// requires a region during mounting.
type AccessMode int

const (
	// ReadOnly mounts a snapshot of the region with no change notifications.
	ReadOnly AccessMode = iota + 1
	// ReadNotify mounts the region and streams its changes.
	ReadNotify
	// ReadWrite mounts the region, streams its changes and permits writes.
	ReadWrite
)

// String returns the string representation of the access mode
func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case ReadNotify:
		return "read-notify"
	case ReadWrite:
		return "read-write"
	default:
		return "unknown"
	}
}

// Valid reports whether m is one of the declared modes.
func (m AccessMode) Valid() bool {
	return m >= ReadOnly && m <= ReadWrite
}

// Notifies reports whether the mode streams change notifications.
func (m AccessMode) Notifies() bool {
	return m == ReadNotify || m == ReadWrite
}

// Writable reports whether the mode permits writes.
func (m AccessMode) Writable() bool {
	return m == ReadWrite
}

// Widest returns the mode granting the most access of a and b.
func Widest(a, b AccessMode) AccessMode {
	if a > b {
		return a
	}
	return b
}

// Op is the kind of change an Entry records.
type Op int

const (
	// OpPut records a create or update.
	OpPut Op = iota
	// OpDelete records a removal.
	OpDelete
)

// String returns the string representation of the operation
func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Entry is one observed state of a key in a region.
type Entry struct {
	Region   string
	Key      string
	Value    []byte
	Revision uint64
	Op       Op
}

// Watcher streams the entries of a bucket. The first entries replay the
// current value of every live key; a nil entry marks the end of that replay,
// after which only updates follow, in store order. The channel is closed
// once the watcher stops.
type Watcher interface {
	Updates() <-chan *Entry
	Stop() error
}

// Bucket is the store's view of one region.
type Bucket interface {
	// Name returns the region name the bucket was opened for.
	Name() string
	// Get returns the current entry for key, or errors.ErrKeyNotFound.
	Get(ctx context.Context, key string) (Entry, error)
	// Keys lists the live keys in no particular order.
	Keys(ctx context.Context) ([]string, error)
	// Put writes value under key and returns the new revision.
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Watch starts a watcher over every key of the bucket.
	Watch(ctx context.Context) (Watcher, error)
}

// Store opens buckets by region name. Regions the store does not provide
// return errors.ErrRegionNotFound; the SDK mounts those as stubs.
type Store interface {
	Bucket(ctx context.Context, region string) (Bucket, error)
}

// Feed is the post-replay update stream of one mounted region.
type Feed struct {
	Region  string
	Updates <-chan *Entry
}

// Updater is implemented by buckets that can apply a read-modify-write to one
// key atomically. fn receives nil for an absent key; an error from fn aborts
// the update and is returned as is.
type Updater interface {
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) (uint64, error)
}
