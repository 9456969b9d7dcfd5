/*
 * Copyright 2024 ACRONYM Group.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package aciserver

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// numShards is the number of buckets a shardedMap splits its keys across.
// Each bucket has its own RWMutex, so inserts/lookups of keys in different
// buckets never contend with each other — see SPEC_FULL.md §5.
const numShards = 16

// entry is one stored key: a value plus the mutex that serializes the
// multi-step list operations (write_index, append, last_n) against
// concurrent readers and writers of the same key.
type entry struct {
	mu  sync.Mutex
	val value
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// shardedMap is a concurrent string-keyed map split into numShards
// independently-locked buckets, per §9's "sharded hash map with
// per-bucket mutex" recommendation.
type shardedMap struct {
	shards [numShards]*shard
}

func newShardedMap() *shardedMap {
	sm := &shardedMap{}
	for i := range sm.shards {
		sm.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return sm
}

func (sm *shardedMap) shardFor(key string) *shard {
	h := xxhash.Sum64String(key)
	return sm.shards[h%numShards]
}

// get returns the entry for key, without creating it.
func (sm *shardedMap) get(key string) (*entry, bool) {
	s := sm.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// getOrCreate returns the entry for key, creating an empty one if
// absent. The returned bool is true if the entry already existed.
func (sm *shardedMap) getOrCreate(key string) (*entry, bool) {
	s := sm.shardFor(key)
	s.mu.RLock()
	if e, ok := s.entries[key]; ok {
		s.mu.RUnlock()
		return e, true
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e, true
	}
	e := &entry{}
	s.entries[key] = e
	return e, false
}

func (sm *shardedMap) keys() []string {
	var keys []string
	for _, s := range sm.shards {
		s.mu.RLock()
		for k := range s.entries {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}
	return keys
}

func (sm *shardedMap) count() int {
	n := 0
	for _, s := range sm.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Database is the in-memory value store described in spec.md §4.1: an
// immutable name plus a string -> JSON value mapping. Lists get
// positional and append operations; every multi-step list op holds the
// key's entry mutex for its whole read-modify-write so no reader ever
// observes a half-padded array.
type Database struct {
	name string
	data *shardedMap
}

// NewDatabase creates a new, empty Database with the given name.
func NewDatabase(name string) *Database {
	return &Database{name: name, data: newShardedMap()}
}

// Name returns the database's name.
func (d *Database) Name() string { return d.name }

// KeyCount returns the number of keys currently stored.
func (d *Database) KeyCount() int { return d.data.count() }

// AllKeys returns every key currently stored, sorted ascending by
// codepoint.
func (d *Database) AllKeys() []string {
	keys := d.data.keys()
	sort.Strings(keys)
	return keys
}

// Write is an idempotent upsert of key to v.
func (d *Database) Write(key string, v value) {
	e, _ := d.data.getOrCreate(key)
	e.mu.Lock()
	e.val = v
	e.mu.Unlock()
}

// Read returns the value stored at key, or a NotFound error.
func (d *Database) Read(key string) (value, error) {
	e, ok := d.data.get(key)
	if !ok {
		return nil, newErr(errNotFound, "key %q not found", key)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.val, nil
}

// ReadIndex returns the value at position i of the array stored at key.
func (d *Database) ReadIndex(key string, i int) (value, error) {
	e, ok := d.data.get(key)
	if !ok {
		return nil, newErr(errNotFound, "key %q not found", key)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	arr, ok := asArray(e.val)
	if !ok {
		return nil, newErr(errNotArray, "key %q does not hold an array", key)
	}
	if i < 0 || i >= len(arr) {
		return nil, newErr(errIndexOutOfRange, "index %d out of range for key %q (len %d)", i, key, len(arr))
	}
	return arr[i], nil
}

// WriteIndex sets position i of the array stored at key to v. If
// i >= len, the array is padded with nulls up through i; existing length
// is grown, never shrunk.
func (d *Database) WriteIndex(key string, i int, v value) error {
	e, ok := d.data.get(key)
	if !ok {
		return newErr(errNotFound, "key %q not found", key)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	arr, ok := asArray(e.val)
	if !ok {
		return newErr(errNotArray, "key %q does not hold an array", key)
	}
	if i >= len(arr) {
		padded := make([]any, i+1)
		copy(padded, arr)
		padded[i] = v
		e.val = padded
	} else {
		grown := append([]any(nil), arr...)
		grown[i] = v
		e.val = grown
	}
	return nil
}

// Append adds v to the end of the array stored at key, returning the
// index it was inserted at (the array's length before the append).
func (d *Database) Append(key string, v value) (int, error) {
	e, ok := d.data.get(key)
	if !ok {
		return 0, newErr(errNotFound, "key %q not found", key)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	arr, ok := asArray(e.val)
	if !ok {
		return 0, newErr(errNotArray, "key %q does not hold an array", key)
	}
	newIndex := len(arr)
	grown := make([]any, newIndex+1)
	copy(grown, arr)
	grown[newIndex] = v
	e.val = grown
	return newIndex, nil
}

// Length returns the number of elements in the array stored at key.
func (d *Database) Length(key string) (int, error) {
	e, ok := d.data.get(key)
	if !ok {
		return 0, newErr(errNotFound, "key %q not found", key)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	arr, ok := asArray(e.val)
	if !ok {
		return 0, newErr(errNotArray, "key %q does not hold an array", key)
	}
	return len(arr), nil
}

// LastN returns the last min(n, len) elements of the array stored at
// key, preserving array order (oldest of the tail first).
func (d *Database) LastN(key string, n int) (value, error) {
	e, ok := d.data.get(key)
	if !ok {
		return nil, newErr(errNotFound, "key %q not found", key)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	arr, ok := asArray(e.val)
	if !ok {
		return nil, newErr(errNotArray, "key %q does not hold an array", key)
	}
	if n > len(arr) {
		n = len(arr)
	}
	if n <= 0 {
		return []any{}, nil
	}
	out := append([]any(nil), arr[len(arr)-n:]...)
	return out, nil
}
