package cache

import (
	"container/list"
	"sync"
	"time"
)

const DefaultSize = 128

type (
	LRUOpts struct {
		Size int
		// Now is the clock used for TTLs. Defaults to time.Now.
		Now func() time.Time
	}

	PutOptions struct {
		TTL time.Duration
	}

	PutOption func(*PutOptions)
)

func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) { o.TTL = ttl }
}

type entry[V any] struct {
	key       string
	val       V
	expiresAt time.Time
}

// LRU evicts the least recently used entry once Size entries are held.
type LRU[V any] struct {
	mu    sync.Mutex
	size  int
	now   func() time.Time
	ll    *list.List
	items map[string]*list.Element
}

func NewLRU[V any](opts LRUOpts) *LRU[V] {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LRU[V]{
		size:  opts.Size,
		now:   opts.Now,
		ll:    list.New(),
		items: make(map[string]*list.Element, opts.Size),
	}
}

func (c *LRU[V]) Get(key string) (v V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ele, ok := c.items[key]
	if !ok {
		return v, false
	}
	e := ele.Value.(*entry[V])
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.remove(ele)
		return v, false
	}
	c.ll.MoveToFront(ele)
	return e.val, true
}

func (c *LRU[V]) Put(key string, val V, opts ...PutOption) {
	var po PutOptions
	for _, opt := range opts {
		opt(&po)
	}
	var expiresAt time.Time
	if po.TTL > 0 {
		expiresAt = c.now().Add(po.TTL)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ele, ok := c.items[key]; ok {
		e := ele.Value.(*entry[V])
		e.val, e.expiresAt = val, expiresAt
		c.ll.MoveToFront(ele)
		return
	}
	c.items[key] = c.ll.PushFront(&entry[V]{key: key, val: val, expiresAt: expiresAt})
	if c.ll.Len() > c.size {
		c.remove(c.ll.Back())
	}
}

func (c *LRU[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[key]; ok {
		c.remove(ele)
	}
}

func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *LRU[V]) remove(ele *list.Element) {
	c.ll.Remove(ele)
	delete(c.items, ele.Value.(*entry[V]).key)
}
