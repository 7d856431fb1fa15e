// Package pool implements the per-session-worker pool slot cache from
// spec §4.3: an LRU of Slot objects keyed by (user, database, protocol
// major version), never shared across session workers.
package pool

import (
	"container/list"
	"context"
	"fmt"

	"github.com/cuemby/vanguard/pkg/backend"
	"github.com/cuemby/vanguard/pkg/statustable"
	"github.com/cuemby/vanguard/pkg/types"
)

// Key identifies a pool slot.
type Key struct {
	User          string
	Database      string
	ProtocolMajor uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.User, k.Database, k.ProtocolMajor)
}

// Slot aggregates one backend slot per valid backend node at the time it
// was created, plus the parameter-status mirror and bookkeeping spec §3
// describes. It is never mutated in place once cached: a change to the
// valid backend set invalidates the slot at the next lookup.
type Slot struct {
	Key         Key
	Backends    map[int]*backend.Slot // backend node id -> open connection
	generation  uint64                // statustable generation at creation time
	connections int
}

// ParamMirror returns the union of every ParameterStatus seen from any
// backend slot, used to replay state to a newly attached frontend.
func (s *Slot) ParamMirror() map[string]string {
	merged := make(map[string]string)
	for _, b := range s.Backends {
		for k, v := range b.Params {
			merged[k] = v
		}
	}
	return merged
}

func (s *Slot) close() {
	for _, b := range s.Backends {
		_ = b.Close()
	}
}

// Dialer opens a backend slot for a node; normally backend.Open, swapped
// out in tests.
type Dialer func(ctx context.Context, node types.BackendNode, creds backend.Credentials) (*backend.Slot, error)

// Cache is a per-worker, non-thread-shared LRU of pool slots. Callers must
// confine one Cache to one goroutine; it takes no lock of its own because
// spec §5 requires pools to never be shared across session workers.
type Cache struct {
	maxSize int
	dial    Dialer
	table   *statustable.Table
	nodes   []types.BackendNode

	ll    *list.List // front = most recently used
	items map[Key]*list.Element
}

type entry struct {
	key  Key
	slot *Slot
}

// New builds a Cache bounded to maxSize pool slots, dialing backends via
// dial and consulting table for the current valid backend set.
func New(maxSize int, dial Dialer, table *statustable.Table, nodes []types.BackendNode) *Cache {
	return &Cache{
		maxSize: maxSize,
		dial:    dial,
		table:   table,
		nodes:   nodes,
		ll:      list.New(),
		items:   make(map[Key]*list.Element),
	}
}

// Lookup implements spec §4.3's lookup protocol: validate a cache hit's
// sockets and generation, and on miss (or invalidation) create a fresh
// pool slot against the currently valid backend set.
func (c *Cache) Lookup(ctx context.Context, key Key, creds backend.Credentials) (*Slot, error) {
	if el, ok := c.items[key]; ok {
		slot := el.Value.(*entry).slot
		if c.stillValid(slot) {
			c.ll.MoveToFront(el)
			slot.connections++
			return slot, nil
		}
		c.evictElement(el)
	}
	return c.create(ctx, key, creds)
}

// stillValid checks the two invalidation conditions from spec §4.3: any
// cached backend socket is dead, or the valid backend set has moved on
// from the generation the slot was created against.
func (c *Cache) stillValid(slot *Slot) bool {
	if slot.generation != c.table.Generation() {
		return false
	}
	for _, b := range slot.Backends {
		if !probeAlive(b) {
			return false
		}
	}
	return true
}

func (c *Cache) create(ctx context.Context, key Key, creds backend.Credentials) (*Slot, error) {
	slot := &Slot{
		Key:        key,
		Backends:   make(map[int]*backend.Slot),
		generation: c.table.Generation(),
	}

	for _, node := range c.nodes {
		status, ok := c.table.Get(node.ID)
		if !ok || !status.Up() {
			continue
		}
		b, err := c.dial(ctx, node, creds)
		if err != nil {
			slot.close()
			return nil, fmt.Errorf("pool: dial backend %d: %w", node.ID, err)
		}
		slot.Backends[node.ID] = b
	}

	if len(slot.Backends) == 0 {
		return nil, fmt.Errorf("pool: no valid backends for %s", key)
	}

	el := c.ll.PushFront(&entry{key: key, slot: slot})
	c.items[key] = el
	slot.connections++

	if c.ll.Len() > c.maxSize {
		c.evictOldest()
	}

	return slot, nil
}

// Invalidate discards a cached slot ahead of its next lookup, used when a
// backend transitions to down or the caller observes a re-auth mismatch
// per spec §4.3.
func (c *Cache) Invalidate(key Key) {
	if el, ok := c.items[key]; ok {
		c.evictElement(el)
	}
}

// Close discards every cached slot, used on worker exit or reload.
func (c *Cache) Close() {
	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		c.evictElement(el)
		el = next
	}
}

func (c *Cache) evictOldest() {
	if el := c.ll.Back(); el != nil {
		c.evictElement(el)
	}
}

func (c *Cache) evictElement(el *list.Element) {
	e := el.Value.(*entry)
	e.slot.close()
	delete(c.items, e.key)
	c.ll.Remove(el)
}

// probeAlive implements the "non-blocking zero-byte check" from spec
// §4.3. It is a var, not a plain call, so tests can substitute a fake
// liveness check without a real socket.
var probeAlive = func(b *backend.Slot) bool {
	return b.Alive()
}
