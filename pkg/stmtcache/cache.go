// Package stmtcache caches prepared statement descriptions per session and
// keeps a registry of live caches so they can be invalidated together.
package stmtcache

import (
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
)

// Cache is a concurrent map from Key to prepared statement description. It
// is safe for use by multiple goroutines. Concurrent Sets of the same key
// race harmlessly: the last writer wins and every caller keeps a valid
// description.
type Cache struct {
	typed sync.Map // reflect.Type -> *pgconn.StatementDescription
	keyed sync.Map // uint64 -> *bucket
}

// bucket holds the keyed entries sharing one hash. It is never mutated after
// being stored.
type bucket struct {
	entries []entry
}

type entry struct {
	key  Key
	stmt *pgconn.StatementDescription
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{}
}

// Get returns the description stored under k.
func (c *Cache) Get(k Key) (*pgconn.StatementDescription, bool) {
	if k.typ != nil {
		v, ok := c.typed.Load(k.typ)
		if !ok {
			return nil, false
		}
		return v.(*pgconn.StatementDescription), true
	}

	v, ok := c.keyed.Load(k.hash())
	if !ok {
		return nil, false
	}
	for _, e := range v.(*bucket).entries {
		if e.key.Equal(k) {
			return e.stmt, true
		}
	}
	return nil, false
}

// Set stores stmt under the owned form of k.
func (c *Cache) Set(k Key, stmt *pgconn.StatementDescription) {
	if k.typ != nil {
		c.typed.Store(k.typ, stmt)
		return
	}

	h := k.hash()
	fresh := &bucket{entries: []entry{{key: k.Owned(), stmt: stmt}}}
	for {
		v, loaded := c.keyed.LoadOrStore(h, fresh)
		if !loaded {
			return
		}
		old := v.(*bucket)
		if c.keyed.CompareAndSwap(h, old, old.with(k, stmt)) {
			return
		}
	}
}

func (b *bucket) with(k Key, stmt *pgconn.StatementDescription) *bucket {
	entries := make([]entry, 0, len(b.entries)+1)
	for _, e := range b.entries {
		if !e.key.Equal(k) {
			entries = append(entries, e)
		}
	}
	entries = append(entries, entry{key: k.Owned(), stmt: stmt})
	return &bucket{entries: entries}
}

// Clear removes every entry in place.
func (c *Cache) Clear() {
	c.typed.Clear()
	c.keyed.Clear()
}

// Len returns the number of cached statements. It is a snapshot under
// concurrent modification.
func (c *Cache) Len() int {
	n := 0
	c.typed.Range(func(_, _ any) bool {
		n++
		return true
	})
	c.keyed.Range(func(_, v any) bool {
		n += len(v.(*bucket).entries)
		return true
	})
	return n
}
