package stmtcache

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userRow struct {
	ID   int64
	Name string
}

type orderRow struct {
	ID int64
}

func stmt(name string) *pgconn.StatementDescription {
	return &pgconn.StatementDescription{Name: name, SQL: "SELECT " + name}
}

func TestKeyEquality(t *testing.T) {
	assert.True(t, TypeKey[userRow]().Equal(TypeKey[userRow]()))
	assert.False(t, TypeKey[userRow]().Equal(TypeKey[orderRow]()))
	assert.False(t, TypeKey[userRow]().Equal(QueryKey("SELECT 1", nil)))

	params := []uint32{23, 25}
	borrowed := QueryKey("SELECT $1, $2", params)
	owned := borrowed.Owned()
	assert.True(t, borrowed.Equal(owned))
	assert.Equal(t, borrowed.hash(), owned.hash())

	params[0] = 20
	assert.False(t, borrowed.Equal(owned), "owned key must not alias the caller's slice")

	assert.NotEqual(t, QueryKey("q", nil).hash(), QueryKey("q", []uint32{0}).hash())
	assert.Equal(t, "type:stmtcache.userRow", TypeKey[userRow]().String())
}

func TestCacheSetGet(t *testing.T) {
	c := New()

	_, ok := c.Get(QueryKey("SELECT 1", nil))
	assert.False(t, ok)

	c.Set(QueryKey("SELECT 1", nil), stmt("a"))
	c.Set(QueryKey("SELECT 1", []uint32{23}), stmt("b"))
	c.Set(TypeKey[userRow](), stmt("c"))

	got, ok := c.Get(QueryKey("SELECT 1", nil))
	require.True(t, ok)
	assert.Equal(t, "a", got.Name)

	got, ok = c.Get(QueryKey("SELECT 1", []uint32{23}))
	require.True(t, ok)
	assert.Equal(t, "b", got.Name)

	got, ok = c.Get(TypeKey[userRow]())
	require.True(t, ok)
	assert.Equal(t, "c", got.Name)

	_, ok = c.Get(TypeKey[orderRow]())
	assert.False(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestCacheLastWriterWins(t *testing.T) {
	c := New()
	k := QueryKey("SELECT 1", []uint32{23})
	c.Set(k, stmt("first"))
	c.Set(k, stmt("second"))

	got, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, "second", got.Name)
	assert.Equal(t, 1, c.Len())
}

func TestCacheClear(t *testing.T) {
	c := New()
	c.Set(QueryKey("SELECT 1", nil), stmt("a"))
	c.Set(TypeKey[userRow](), stmt("b"))
	c.Clear()

	_, ok := c.Get(QueryKey("SELECT 1", nil))
	assert.False(t, ok)
	_, ok = c.Get(TypeKey[userRow]())
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCacheConcurrentSet(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q := fmt.Sprintf("SELECT %d", j)
				c.Set(QueryKey(q, nil), stmt(fmt.Sprintf("%d-%d", i, j)))
				_, ok := c.Get(QueryKey(q, nil))
				assert.True(t, ok)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}

func TestCacheLookupDoesNotCopyKey(t *testing.T) {
	c := New()
	params := []uint32{23, 25}
	c.Set(QueryKey("SELECT $1, $2", params), stmt("a"))

	allocs := testing.AllocsPerRun(100, func() {
		_, _ = c.Get(QueryKey("SELECT $1, $2", params))
	})
	// at most the boxed hash handed to sync.Map
	assert.LessOrEqual(t, allocs, float64(1))
}

func TestRegistryClearAndDetach(t *testing.T) {
	r := NewRegistry()
	a, b := New(), New()
	r.Attach(a)
	r.Attach(b)
	r.Attach(a)
	assert.Equal(t, 2, r.Len())

	a.Set(QueryKey("SELECT 1", nil), stmt("a"))
	b.Set(QueryKey("SELECT 1", nil), stmt("b"))
	assert.Equal(t, 2, r.Clear())
	assert.Zero(t, a.Len())
	assert.Zero(t, b.Len())

	r.Detach(a)
	assert.Equal(t, 1, r.Len())
	a.Set(QueryKey("SELECT 1", nil), stmt("a"))
	assert.Equal(t, 1, r.Clear())
	assert.Equal(t, 1, a.Len(), "detached cache must not be cleared")
	runtime.KeepAlive(b)
}

func TestRegistryCleanupPrunesCollectedCaches(t *testing.T) {
	r := NewRegistry()
	keep := New()
	r.Attach(keep)
	func() {
		r.Attach(New())
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return r.Cleanup() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, r.Clear())
	runtime.KeepAlive(keep)
}
