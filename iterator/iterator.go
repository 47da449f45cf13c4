// Package iterator provides lazy, restartable enumeration over a sorted key
// space. Managers expose "all entities" queries through it without copying
// their backing values. A Cursor walks an Index one step at a time, seeking
// the next key by binary search, and looks values up only when a caller
// dereferences a position.
//
// Traversal can resume after a previously observed key with a Bookmark, so a
// caller paging through a large collection never has to hold a live cursor
// across calls.
//
// A cursor is owned by the caller that created it. It holds no copy of the
// key space: keys inserted after its position are visited, keys removed
// before it gets there are skipped. A Source is an Index over a fixed key
// set; values of its keys removed from the lookup dereference as the zero
// value.
package iterator

import (
	"cmp"
	"iter"
	"slices"

	"github.com/c360/agentsdk/errors"
)

// Bookmark selects where a traversal starts. The zero value starts at the
// first key; After starts strictly after a given key, whether or not that key
// is still present.
type Bookmark[K any] struct {
	key K
	set bool
}

// After returns a bookmark that resumes after key.
func After[K any](key K) Bookmark[K] {
	return Bookmark[K]{key: key, set: true}
}

// Start returns the bookmark that begins at the first key.
func Start[K any]() Bookmark[K] {
	return Bookmark[K]{}
}

// Key returns the bookmarked key and whether one was set.
func (b Bookmark[K]) Key() (K, bool) {
	return b.key, b.set
}

// Index is an ordered key space a Cursor walks. Implementations must be
// comparable with == so cursors over the same index compare equal.
type Index[K, V any] interface {
	// Compare orders keys.
	Compare(a, b K) int
	// Seek returns the first key after b.
	Seek(b Bookmark[K]) (K, bool)
	// Lookup returns the value stored under key.
	Lookup(key K) (V, bool)
}

// Source is an immutable ordered key space with a value lookup.
type Source[K, V any] struct {
	keys   []K
	cmp    func(a, b K) int
	lookup func(K) (V, bool)
}

// NewSource captures keys in the order defined by compare. The slice is
// copied; lookup is called lazily for each dereferenced position.
func NewSource[K, V any](keys []K, compare func(a, b K) int, lookup func(K) (V, bool)) *Source[K, V] {
	sorted := slices.Clone(keys)
	slices.SortFunc(sorted, compare)
	return &Source[K, V]{keys: sorted, cmp: compare, lookup: lookup}
}

// NewOrderedSource is NewSource for naturally ordered keys.
func NewOrderedSource[K cmp.Ordered, V any](keys []K, lookup func(K) (V, bool)) *Source[K, V] {
	return NewSource(keys, cmp.Compare[K], lookup)
}

// Len returns the number of captured keys.
func (s *Source[K, V]) Len() int {
	return len(s.keys)
}

// Compare implements Index.
func (s *Source[K, V]) Compare(a, b K) int {
	return s.cmp(a, b)
}

// Seek implements Index.
func (s *Source[K, V]) Seek(b Bookmark[K]) (K, bool) {
	return SeekSorted(s.keys, b, s.cmp)
}

// Lookup implements Index.
func (s *Source[K, V]) Lookup(key K) (V, bool) {
	return s.lookup(key)
}

// Cursor returns a cursor positioned before the first key after b.
func (s *Source[K, V]) Cursor(b Bookmark[K]) *Cursor[K, V] {
	return NewCursor[K, V](s, b)
}

// All returns the traversal from b as a range-over-func sequence.
func (s *Source[K, V]) All(b Bookmark[K]) iter.Seq2[K, V] {
	return s.Cursor(b).Seq()
}

// SeekSorted returns the first key of sorted after b. It is the Seek of
// indexes kept as a slice sorted by compare.
func SeekSorted[K any](sorted []K, b Bookmark[K], compare func(a, b K) int) (K, bool) {
	i := 0
	if b.set {
		var found bool
		i, found = slices.BinarySearchFunc(sorted, b.key, compare)
		if found {
			i++
		}
	}
	if i >= len(sorted) {
		var zero K
		return zero, false
	}
	return sorted[i], true
}

// Cursor walks an Index one position at a time.
//
//	c := src.Cursor(iterator.Start[string]())
//	for c.Next() {
//		use(c.Key(), c.Value())
//	}
type Cursor[K, V any] struct {
	src  Index[K, V]
	pos  Bookmark[K]
	cur  K
	ok   bool
	done bool
}

// NewCursor returns a cursor over idx positioned before the first key
// after b.
func NewCursor[K, V any](idx Index[K, V], b Bookmark[K]) *Cursor[K, V] {
	return &Cursor[K, V]{src: idx, pos: b}
}

// Next advances to the next entry. It returns false once the sequence is
// exhausted; exhaustion is not an error.
func (c *Cursor[K, V]) Next() bool {
	if c.done {
		return false
	}
	k, ok := c.src.Seek(c.pos)
	if !ok {
		var zero K
		c.done, c.ok, c.cur = true, false, zero
		return false
	}
	c.cur, c.ok = k, true
	c.pos = After(k)
	return true
}

// Done reports whether Next has returned false.
func (c *Cursor[K, V]) Done() bool {
	return c.done
}

// Key returns the key at the current position. Calling it before Next or after
// exhaustion is a protocol violation.
func (c *Cursor[K, V]) Key() K {
	c.check("Key")
	return c.cur
}

// Value returns the value at the current position, or the zero value if the
// key has disappeared since Next reached it. Calling it before Next or after
// exhaustion is a protocol violation.
func (c *Cursor[K, V]) Value() V {
	c.check("Value")
	v, _ := c.src.Lookup(c.cur)
	return v
}

func (c *Cursor[K, V]) check(op string) {
	switch {
	case c.done:
		errors.Panicf("iterator: %s on exhausted cursor", op)
	case !c.ok:
		errors.Panicf("iterator: %s before Next", op)
	}
}

// Equal reports whether c and other denote the same next position over the
// same index. Cursor content is never compared.
func (c *Cursor[K, V]) Equal(other *Cursor[K, V]) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.src != other.src {
		return false
	}
	if c.done || other.done {
		return c.done == other.done
	}
	if c.pos.set != other.pos.set {
		return false
	}
	return !c.pos.set || c.src.Compare(c.pos.key, other.pos.key) == 0
}

// Seq drains the cursor from its current position as an iter.Seq2. Breaking
// out of the range loop leaves the cursor after the last yielded entry.
func (c *Cursor[K, V]) Seq() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for c.Next() {
			if !yield(c.Key(), c.Value()) {
				return
			}
		}
	}
}
