package stmtcache

import (
	"encoding/binary"
	"reflect"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Key identifies a cached statement. A typed key is derived from the row
// shape of a statically known query; a keyed key from the SQL text and the
// ordered parameter type OIDs.
//
// Keys built by QueryKey borrow the caller's OID slice, so lookups never
// allocate. Set stores the Owned form.
type Key struct {
	typ    reflect.Type
	query  string
	params []uint32
}

// TypeKey returns the typed key for T.
func TypeKey[T any]() Key {
	return Key{typ: reflect.TypeFor[T]()}
}

// TypedKey returns the typed key for t. It panics if t is nil.
func TypedKey(t reflect.Type) Key {
	if t == nil {
		panic("stmtcache: nil type key")
	}
	return Key{typ: t}
}

// QueryKey returns the keyed key for query and params. params is borrowed,
// not copied.
func QueryKey(query string, params []uint32) Key {
	return Key{query: query, params: params}
}

// IsTyped reports whether k is a typed key.
func (k Key) IsTyped() bool { return k.typ != nil }

// Type returns the row-shape type of a typed key, or nil.
func (k Key) Type() reflect.Type { return k.typ }

// Query returns the SQL text of a keyed key.
func (k Key) Query() string { return k.query }

// Params returns the parameter OIDs of a keyed key.
func (k Key) Params() []uint32 { return k.params }

// Owned returns k with its own copy of the parameter OIDs.
func (k Key) Owned() Key {
	if k.typ != nil {
		return k
	}
	return Key{query: k.query, params: slices.Clone(k.params)}
}

// Equal reports whether both keys identify the same statement, regardless
// of whether they are borrowed or owned.
func (k Key) Equal(o Key) bool {
	if k.typ != nil || o.typ != nil {
		return k.typ == o.typ
	}
	return k.query == o.query && slices.Equal(k.params, o.params)
}

func (k Key) String() string {
	if k.typ != nil {
		return "type:" + k.typ.String()
	}
	return k.query
}

// hash digests a keyed key without allocating.
func (k Key) hash() uint64 {
	var d xxhash.Digest
	d.Reset()
	_, _ = d.WriteString(k.query)
	var buf [4]byte
	for _, oid := range k.params {
		binary.LittleEndian.PutUint32(buf[:], oid)
		_, _ = d.Write(buf[:])
	}
	// distinguishes "q" + [] from "q" + [0]
	binary.LittleEndian.PutUint32(buf[:], uint32(len(k.params)))
	_, _ = d.Write(buf[:])
	return d.Sum64()
}
