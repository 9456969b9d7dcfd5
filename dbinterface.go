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

import "sync"

// permTable is a concurrent map of Permission keyed by item key, guarded
// by a single RWMutex rather than sharded like shardedMap — permission
// entries are only point lookups, so a plain RWMutex with
// compare-and-set insert is enough here; list
// operations never take this lock for their whole duration, only the
// point check at the top of each method.
type permTable struct {
	mu      sync.RWMutex
	entries map[string]Permission
}

func newPermTable() *permTable {
	return &permTable{entries: make(map[string]Permission)}
}

func (t *permTable) get(key string) (Permission, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.entries[key]
	return p, ok
}

func (t *permTable) set(key string, p Permission) {
	t.mu.Lock()
	t.entries[key] = p
	t.mu.Unlock()
}

// registerIfAbsent installs the default permission for key unless one is
// already present — a compare-and-set so two concurrent first-writes to
// the same key can't race each other into overwriting one another's
// permission entry (spec.md §9).
func (t *permTable) registerIfAbsent(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[key]; !ok {
		t.entries[key] = defaultPermission()
	}
}

// DatabaseInterface combines a Database (C1) with its per-key Permission
// table (C2), gating every operation by ACL per spec.md §4.3.
type DatabaseInterface struct {
	DB    *Database
	perms *permTable
}

// NewDatabaseInterface wraps db with a fresh, empty permission table.
func NewDatabaseInterface(db *Database) *DatabaseInterface {
	return &DatabaseInterface{DB: db, perms: newPermTable()}
}

func (di *DatabaseInterface) checkRead(key string, pr principal) error {
	perm, ok := di.perms.get(key)
	if !ok {
		return newErr(errPermissionDenied, "key %q has no permission entry", key)
	}
	allowed, err := perm.checkRead(pr)
	if err != nil {
		return err
	}
	if !allowed {
		return newErr(errPermissionDenied, "principal not permitted to read key %q", key)
	}
	return nil
}

// checkWrite verifies write access to key. If registerIfMissing is true
// and key has no permission entry yet, the default permission is
// registered and the write proceeds (this is only done for
// WriteToKey — every other write op requires a pre-existing entry).
func (di *DatabaseInterface) checkWrite(key string, pr principal, registerIfMissing bool) error {
	perm, ok := di.perms.get(key)
	if !ok {
		if !registerIfMissing {
			return newErr(errPermissionDenied, "key %q has no permission entry", key)
		}
		di.perms.registerIfAbsent(key)
		return nil
	}
	allowed, err := perm.checkWrite(pr)
	if err != nil {
		return err
	}
	if !allowed {
		return newErr(errPermissionDenied, "principal not permitted to write key %q", key)
	}
	return nil
}

// SetPermission installs an explicit permission entry for key,
// overwriting any existing one. Used when restoring a database loaded
// from disk, where each item file carries its own permission record.
func (di *DatabaseInterface) SetPermission(key string, p Permission) {
	di.perms.set(key, p)
}

// Permission returns the current permission entry for key, if any.
func (di *DatabaseInterface) Permission(key string) (Permission, bool) {
	return di.perms.get(key)
}

// WriteToKey writes v to key, registering the default permission entry
// (any/any/any/any) the first time the key is written to.
func (di *DatabaseInterface) WriteToKey(key string, v value, pr principal) error {
	if err := di.checkWrite(key, pr, true); err != nil {
		return err
	}
	di.DB.Write(key, v)
	return nil
}

// ReadFromKey returns the value at key.
func (di *DatabaseInterface) ReadFromKey(key string, pr principal) (value, error) {
	if err := di.checkRead(key, pr); err != nil {
		return nil, err
	}
	return di.DB.Read(key)
}

// WriteToKeyIndex writes v at position i of the array stored at key.
func (di *DatabaseInterface) WriteToKeyIndex(key string, i int, v value, pr principal) error {
	if err := di.checkWrite(key, pr, false); err != nil {
		return err
	}
	return di.DB.WriteIndex(key, i, v)
}

// ReadFromKeyIndex returns the value at position i of the array stored
// at key.
func (di *DatabaseInterface) ReadFromKeyIndex(key string, i int, pr principal) (value, error) {
	if err := di.checkRead(key, pr); err != nil {
		return nil, err
	}
	return di.DB.ReadIndex(key, i)
}

// AppendToKey appends v to the array stored at key, returning its new
// index.
func (di *DatabaseInterface) AppendToKey(key string, v value, pr principal) (int, error) {
	if err := di.checkWrite(key, pr, false); err != nil {
		return 0, err
	}
	return di.DB.Append(key, v)
}

// LengthOfKey returns the length of the array stored at key.
func (di *DatabaseInterface) LengthOfKey(key string, pr principal) (int, error) {
	if err := di.checkRead(key, pr); err != nil {
		return 0, err
	}
	return di.DB.Length(key)
}

// LastNOfKey returns the last n elements of the array stored at key.
func (di *DatabaseInterface) LastNOfKey(key string, n int, pr principal) (value, error) {
	if err := di.checkRead(key, pr); err != nil {
		return nil, err
	}
	return di.DB.LastN(key, n)
}
