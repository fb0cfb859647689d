// Copyright 2026 the Exposure Reporting Server authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache implements a typed in-memory cache with expiration, used for
// the rule snapshot between batches.
package cache

import (
	"errors"
	"sync"
	"time"
)

var ErrInvalidDuration = errors.New("expireAfter duration cannot be negative")

// Cache holds values of a single type keyed by name. The zero value is not
// usable, construct with New.
type Cache[V any] struct {
	mu   sync.RWMutex
	data map[string]entry[V]
}

type entry[V any] struct {
	value     V
	expiresAt int64
}

func (e *entry[V]) expired() bool {
	return e.expiresAt < time.Now().UnixNano()
}

// New creates an empty cache for values of type V.
func New[V any]() *Cache[V] {
	return &Cache[V]{data: make(map[string]entry[V])}
}

// Size returns the number of entries, expired ones included until purged.
func (c *Cache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]entry[V])
}

// Delete removes the named entry.
func (c *Cache[V]) Delete(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, name)
}

// Lookup returns the non-expired value stored under name. An expired entry
// reports a miss and is purged in the background.
func (c *Cache[V]) Lookup(name string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	e, ok := c.data[name]
	if !ok {
		return zero, false
	}
	if e.expired() {
		go c.purgeExpired(name, e.expiresAt)
		return zero, false
	}
	return e.value, true
}

// WriteThruLookup checks the cache and, on a miss or expired entry, invokes
// load to produce the value, storing it before returning. The load function
// runs under the cache write lock so concurrent callers for the same key
// produce a single load.
func (c *Cache[V]) WriteThruLookup(name string, load func() (V, error), expireAfter time.Duration) (V, error) {
	var zero V
	if expireAfter < 0 {
		return zero, ErrInvalidDuration
	}

	if val, hit := c.Lookup(name); hit {
		return val, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have loaded while we waited for the write lock.
	if e, ok := c.data[name]; ok && !e.expired() {
		return e.value, nil
	}

	val, err := load()
	if err != nil {
		return zero, err
	}
	c.data[name] = entry[V]{value: val, expiresAt: time.Now().Add(expireAfter).UnixNano()}
	return val, nil
}

// Set stores value under name, expiring after the given duration.
func (c *Cache[V]) Set(name string, value V, expireAfter time.Duration) error {
	if expireAfter < 0 {
		return ErrInvalidDuration
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[name] = entry[V]{value: value, expiresAt: time.Now().Add(expireAfter).UnixNano()}
	return nil
}

// purgeExpired removes the entry only if its expiry still matches the one
// observed at lookup time, so a concurrent Set is never lost.
func (c *Cache[V]) purgeExpired(name string, exp int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.data[name]; ok && e.expiresAt == exp {
		delete(c.data, name)
	}
}
