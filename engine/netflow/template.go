// Package netflow implements the stateful v5/v7/v9/IPFIX ingest engine
// (spec §4.5): a UDP receiver per configured listener, version dispatch,
// fixed-layout decoding for v5/v7, and template-cache-backed decoding for
// v9/IPFIX.
package netflow

import (
	"container/list"
	"sync"
	"time"
)

// field is one (id, length) entry from a Template/Options-Template record.
// length 0xFFFF (IPFIX variable-length) is represented as -1.
type field struct {
	ID     uint16
	Length int
}

// template is a decoded Template/Options-Template FlowSet record, keyed by
// (exporter, sourceID/domainID, templateID) per spec §4.5.
type template struct {
	Fields   []field
	lastSeen time.Time
}

type templateKey struct {
	Exporter string
	SourceID uint32
	ID       uint16
}

// templateCache is a least-recently-used cache of templates for one
// exporter, capped at 4096 entries with TTL-based purge on each datagram
// (spec §4.5). Modeled on engine/bus's keyRing: container/list ordering
// plus a map index, single mutex.
type templateCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	byKey    map[templateKey]*list.Element
}

type templateEntry struct {
	key templateKey
	tpl *template
}

func newTemplateCache(capacity int, ttl time.Duration) *templateCache {
	if capacity <= 0 {
		capacity = 4096
	}
	if ttl <= 0 {
		ttl = 1800 * time.Second
	}
	return &templateCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		byKey:    make(map[templateKey]*list.Element),
	}
}

// Put stores or replaces a template, moving it to most-recently-used.
func (c *templateCache) Put(key templateKey, tpl *template) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tpl.lastSeen = time.Now()
	if elem, ok := c.byKey[key]; ok {
		c.order.MoveToBack(elem)
		elem.Value.(*templateEntry).tpl = tpl
		return
	}
	elem := c.order.PushBack(&templateEntry{key: key, tpl: tpl})
	c.byKey[key] = elem
	for c.order.Len() > c.capacity {
		front := c.order.Front()
		c.order.Remove(front)
		delete(c.byKey, front.Value.(*templateEntry).key)
	}
}

// Get returns the template for key, refreshing its recency.
func (c *templateCache) Get(key templateKey) (*template, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.byKey[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToBack(elem)
	return elem.Value.(*templateEntry).tpl, true
}

// PurgeExpired drops every template whose lastSeen predates the TTL,
// called once per received datagram (spec §4.5: "purged on each
// datagram").
func (c *templateCache) PurgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-c.ttl)
	var next *list.Element
	for e := c.order.Front(); e != nil; e = next {
		next = e.Next()
		entry := e.Value.(*templateEntry)
		if entry.tpl.lastSeen.Before(cutoff) {
			c.order.Remove(e)
			delete(c.byKey, entry.key)
		}
	}
}

// pendingBuffer holds Data FlowSets that arrived before their template, per
// exporter, bounded to 16 entries (spec §4.5). Overflow drops the oldest
// pending set.
type pendingBuffer struct {
	mu    sync.Mutex
	limit int
	sets  map[string][]pendingSet // keyed by exporter
}

type pendingSet struct {
	key      templateKey
	data     []byte
	received time.Time
}

func newPendingBuffer(limit int) *pendingBuffer {
	if limit <= 0 {
		limit = 16
	}
	return &pendingBuffer{limit: limit, sets: make(map[string][]pendingSet)}
}

// Add buffers a data set awaiting its template, dropping the oldest
// buffered set for this exporter if already at the cap.
func (b *pendingBuffer) Add(exporter string, key templateKey, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sets := b.sets[exporter]
	if len(sets) >= b.limit {
		sets = sets[1:]
	}
	sets = append(sets, pendingSet{key: key, data: data, received: time.Now()})
	b.sets[exporter] = sets
}

// DrainRetryable returns every buffered set for exporter whose template is
// now known and not older than maxAge, removing them from the buffer; sets
// that exceeded maxAge are dropped and reported as stale by the caller.
func (b *pendingBuffer) DrainRetryable(exporter string, cache *templateCache, maxAge time.Duration) (ready []pendingSet, stale []pendingSet) {
	b.mu.Lock()
	sets := b.sets[exporter]
	delete(b.sets, exporter)
	b.mu.Unlock()

	var remaining []pendingSet
	now := time.Now()
	for _, s := range sets {
		if _, ok := cache.Get(s.key); ok {
			ready = append(ready, s)
			continue
		}
		if now.Sub(s.received) > maxAge {
			stale = append(stale, s)
			continue
		}
		remaining = append(remaining, s)
	}
	if len(remaining) > 0 {
		b.mu.Lock()
		b.sets[exporter] = append(remaining, b.sets[exporter]...)
		b.mu.Unlock()
	}
	return ready, stale
}
