package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_Eviction(t *testing.T) {
	c := NewLRU[int](LRUOpts{Size: 2})
	c.Put("a", 1)
	c.Put("b", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// a was promoted by the Get, so b goes
	c.Put("c", 3)
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_UpdateAndDelete(t *testing.T) {
	c := NewLRU[string](LRUOpts{Size: 2})
	c.Put("a", "x")
	c.Put("a", "y")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "y", v)
	assert.Equal(t, 1, c.Len())

	c.Delete("a")
	c.Delete("missing")
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestLRU_TTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRU[int](LRUOpts{Size: 4, Now: func() time.Time { return now }})

	c.Put("short", 1, WithTTL(time.Minute))
	c.Put("forever", 2)

	now = now.Add(59 * time.Second)
	_, ok := c.Get("short")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("forever")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestLRU_DefaultSize(t *testing.T) {
	c := NewLRU[int](LRUOpts{})
	for i := range DefaultSize + 10 {
		c.Put(fmt.Sprint(i), i)
	}
	assert.Equal(t, DefaultSize, c.Len())
}

func TestLRU_Concurrent(t *testing.T) {
	c := NewLRU[int](LRUOpts{Size: 16})
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				key := fmt.Sprint((w + i) % 32)
				c.Put(key, i)
				c.Get(key)
				if i%7 == 0 {
					c.Delete(key)
				}
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 16)
}
