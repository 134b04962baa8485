// Package cache provides the in-memory connectable caches the engine exposes
// to its consumers: subscribers receive an initial snapshot followed by
// incremental change batches, in the order mutations were applied.
package cache

import (
	"context"
	"sync"
)

// Kind classifies a single cache change.
type Kind string

const (
	KindAdd    Kind = "add"
	KindUpdate Kind = "update"
	KindRemove Kind = "remove"
)

// Change is one keyed mutation. Value is the zero value for removes.
type Change[V any] struct {
	Kind  Kind
	Key   string
	Value V
}

// Cache is a keyed, observable map. Writers call Set/Remove; consumers call
// Connect and never poll. Deliveries happen on a per-subscriber goroutine,
// never on the mutating caller's goroutine, and are never dropped: a slow
// subscriber accumulates pending batches instead of losing them.
type Cache[V any] struct {
	mu     sync.Mutex
	items  map[string]V
	subs   map[int]*subscriber[V]
	nextID int
	done   chan struct{}
	closed bool
}

type subscriber[V any] struct {
	mu      sync.Mutex
	pending []Change[V]
	signal  chan struct{}
	out     chan []Change[V]
}

func New[V any]() *Cache[V] {
	return &Cache[V]{
		items: make(map[string]V),
		subs:  make(map[int]*subscriber[V]),
		done:  make(chan struct{}),
	}
}

// Set inserts or replaces the value for key and notifies subscribers.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	kind := KindAdd
	if _, ok := c.items[key]; ok {
		kind = KindUpdate
	}
	c.items[key] = value
	c.publish(Change[V]{Kind: kind, Key: key, Value: value})
}

// Remove deletes key if present and notifies subscribers.
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := c.items[key]; !ok {
		return
	}
	delete(c.items, key)
	c.publish(Change[V]{Kind: KindRemove, Key: key})
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Snapshot returns a copy of the current contents.
func (c *Cache[V]) Snapshot() map[string]V {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]V, len(c.items))
	for k, v := range c.items {
		out[k] = v
	}
	return out
}

// publish queues change on every subscriber; caller holds c.mu.
func (c *Cache[V]) publish(change Change[V]) {
	for _, sub := range c.subs {
		sub.mu.Lock()
		sub.pending = append(sub.pending, change)
		sub.mu.Unlock()
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

// Connect subscribes. The returned channel first yields the snapshot as one
// batch of adds, then incremental batches. The channel is closed when ctx is
// cancelled or the cache is closed.
func (c *Cache[V]) Connect(ctx context.Context) <-chan []Change[V] {
	sub := &subscriber[V]{
		signal: make(chan struct{}, 1),
		out:    make(chan []Change[V], 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(sub.out)
		return sub.out
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = sub
	for key, value := range c.items {
		sub.pending = append(sub.pending, Change[V]{Kind: KindAdd, Key: key, Value: value})
	}
	if len(sub.pending) > 0 {
		sub.signal <- struct{}{}
	}
	c.mu.Unlock()

	go c.deliver(ctx, id, sub)
	return sub.out
}

func (c *Cache[V]) deliver(ctx context.Context, id int, sub *subscriber[V]) {
	defer func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		close(sub.out)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-sub.signal:
		}

		sub.mu.Lock()
		batch := sub.pending
		sub.pending = nil
		sub.mu.Unlock()
		if len(batch) == 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case sub.out <- batch:
		}
	}
}

// Close terminates every subscription. Contents stay readable.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
}
