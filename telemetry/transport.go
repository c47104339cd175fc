// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// transportCache is a bounded, thread-safe LRU of per-parent transports.
//
// Description:
//
//	One transport exists per distinct parent tag, created lazily on first
//	use and constructed at most once per key even under concurrent first
//	access. The cache is capped: when full, the least recently used
//	transport is evicted and handed to the onEvict callback (which shuts
//	it down). Without the cap one transport per distinct tag ever seen
//	would accumulate — a real leak under high-cardinality tags such as
//	per-user experiments.
//
// Thread Safety: All methods are safe for concurrent use. onEvict runs
// outside the lock so a slow transport shutdown cannot stall exports.
type transportCache[T any] struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // Front = most recent, Back = least recent
	build    func(tag string) (T, error)
	onEvict  func(tag string, transport T)

	builds    atomic.Int64
	evictions atomic.Int64
}

type cacheEntry[T any] struct {
	tag       string
	transport T
}

// newTransportCache creates a cache with the given capacity and transport
// constructor. Capacity must be > 0; a non-positive value falls back to 64.
func newTransportCache[T any](capacity int, build func(string) (T, error), onEvict func(string, T)) *transportCache[T] {
	if capacity <= 0 {
		capacity = 64
	}
	return &transportCache[T]{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		build:    build,
		onEvict:  onEvict,
	}
}

// getOrCreate returns the transport for tag, constructing it on first use.
//
// Outputs:
//   - T: The cached or newly built transport.
//   - error: The constructor's error; a failed construction is not cached,
//     so a later call retries.
func (c *transportCache[T]) getOrCreate(tag string) (T, error) {
	c.mu.Lock()
	if elem, ok := c.items[tag]; ok {
		c.order.MoveToFront(elem)
		t := elem.Value.(*cacheEntry[T]).transport
		c.mu.Unlock()
		return t, nil
	}

	// Construction stays inside the critical section: OTLP/HTTP exporter
	// constructors do not dial, and holding the lock is what guarantees
	// at-most-once construction per key.
	t, err := c.build(tag)
	if err != nil {
		c.mu.Unlock()
		var zero T
		return zero, err
	}
	c.builds.Add(1)

	var evicted []*cacheEntry[T]
	for c.order.Len() >= c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		entry := back.Value.(*cacheEntry[T])
		c.order.Remove(back)
		delete(c.items, entry.tag)
		c.evictions.Add(1)
		evicted = append(evicted, entry)
	}

	c.items[tag] = c.order.PushFront(&cacheEntry[T]{tag: tag, transport: t})
	c.mu.Unlock()

	if c.onEvict != nil {
		for _, entry := range evicted {
			c.onEvict(entry.tag, entry.transport)
		}
	}
	return t, nil
}

// forEach calls fn with a snapshot of every cached transport. fn runs
// outside the lock.
func (c *transportCache[T]) forEach(fn func(tag string, transport T)) {
	c.mu.Lock()
	snapshot := make([]*cacheEntry[T], 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		snapshot = append(snapshot, elem.Value.(*cacheEntry[T]))
	}
	c.mu.Unlock()

	for _, entry := range snapshot {
		fn(entry.tag, entry.transport)
	}
}

// drain removes every entry and returns the removed transports with their
// tags, oldest last. Used at shutdown.
func (c *transportCache[T]) drain() []*cacheEntry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	drained := make([]*cacheEntry[T], 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		drained = append(drained, elem.Value.(*cacheEntry[T]))
	}
	c.items = make(map[string]*list.Element, c.capacity)
	c.order.Init()
	return drained
}

// len returns the number of live transports.
func (c *transportCache[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// stats returns construction and eviction counts.
func (c *transportCache[T]) stats() (builds, evictions int64) {
	return c.builds.Load(), c.evictions.Load()
}
