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
	"sync"

	"github.com/rs/zerolog"
)

const configDBKey = "config"

// systemPrincipal is the principal the registry uses to read its own
// config database: registry bookkeeping is never subject to the ACL it
// manages on behalf of client sessions.
var systemPrincipal = principal{isAuthed: true, name: "system", domain: domainLocal}

// Registry is the server registry described in spec.md §4.5: the shared
// dbKey -> DatabaseInterface mapping every session dispatches against,
// plus the config database loaded at start-up.
type Registry struct {
	root       string
	configRoot string
	opts       LoadOptions
	logger     zerolog.Logger

	mu  sync.RWMutex
	dbs map[string]*DatabaseInterface
}

// NewRegistry eagerly loads the config database under the key "config"
// and returns a Registry wrapping it. The config database is loaded
// from configRoot, a directory that may live apart from root (every
// other database's storage directory), per spec.md §6's separately
// configured config-database path; if configRoot is empty, root is used
// for both. A failure to load the config database is fatal to
// start-up, per spec.md §4.8.
func NewRegistry(root, configRoot string, opts LoadOptions, logger zerolog.Logger) (*Registry, error) {
	if configRoot == "" {
		configRoot = root
	}
	r := &Registry{
		root:       root,
		configRoot: configRoot,
		opts:       opts,
		logger:     logger,
		dbs:        make(map[string]*DatabaseInterface),
	}
	cfg, err := LoadDatabaseFromDisk(configRoot, configDBKey, opts, logger)
	if err != nil {
		return nil, newErr(errIO, "loading config database: %v", err)
	}
	r.dbs[configDBKey] = cfg
	return r, nil
}

// rootFor returns the storage directory dbKey should be loaded from or
// saved to: the config database lives under configRoot, everything else
// under root.
func (r *Registry) rootFor(dbKey string) string {
	if dbKey == configDBKey {
		return r.configRoot
	}
	return r.root
}

func (r *Registry) configDB() *DatabaseInterface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dbs[configDBKey]
}

// ConfigIP returns the "ip" key of the config database.
func (r *Registry) ConfigIP() (string, error) {
	v, err := r.configDB().ReadFromKey("ip", systemPrincipal)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", newErr(errBadPacket, "config database key %q is not a string", "ip")
	}
	return s, nil
}

// ConfigPort returns the "port" key of the config database.
func (r *Registry) ConfigPort() (uint64, error) {
	v, err := r.configDB().ReadFromKey("port", systemPrincipal)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok || f < 0 {
		return 0, newErr(errBadPacket, "config database key %q is not an unsigned integer", "port")
	}
	return uint64(f), nil
}

// GetDatabase returns the DatabaseInterface registered under dbKey, if any.
func (r *Registry) GetDatabase(dbKey string) (*DatabaseInterface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	di, ok := r.dbs[dbKey]
	return di, ok
}

// RegisterDatabase installs di under dbKey, replacing whatever was there.
func (r *Registry) RegisterDatabase(dbKey string, di *DatabaseInterface) {
	r.mu.Lock()
	r.dbs[dbKey] = di
	r.mu.Unlock()
}

// DatabaseNames lists every dbKey currently registered.
func (r *Registry) DatabaseNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dbs))
	for k := range r.dbs {
		names = append(names, k)
	}
	return names
}

// ReadDatabaseFromDisk loads dbKey from disk and registers it, replacing
// any in-memory entry already registered under that name.
func (r *Registry) ReadDatabaseFromDisk(dbKey string) error {
	di, err := LoadDatabaseFromDisk(r.rootFor(dbKey), dbKey, r.opts, r.logger)
	if err != nil {
		return err
	}
	r.RegisterDatabase(dbKey, di)
	return nil
}

// WriteDatabaseToDisk persists the database registered under dbKey.
func (r *Registry) WriteDatabaseToDisk(dbKey string) error {
	di, ok := r.GetDatabase(dbKey)
	if !ok {
		return newErr(errNotFound, "database %q not registered", dbKey)
	}
	return SaveDatabaseToDisk(r.rootFor(dbKey), di, r.logger)
}

// CheckLocalAuth checks id/token against the config database's "a_users"
// key, shaped { id: { "tokens": [token, ...], ... }, ... }. Returns a
// human-readable reason alongside the boolean result either way.
// Structural malformation of a_users is a hard error, per spec.md §4.5.
func (r *Registry) CheckLocalAuth(id, token string) (bool, string, error) {
	v, err := r.configDB().ReadFromKey("a_users", systemPrincipal)
	if err != nil {
		return false, "", newErr(errIO, "reading a_users from config database: %v", err)
	}
	users, ok := v.(map[string]any)
	if !ok {
		return false, "", newErr(errBadPacket, "a_users is not an object")
	}
	entry, ok := users[id]
	if !ok {
		return false, "no such local user", nil
	}
	record, ok := entry.(map[string]any)
	if !ok {
		return false, "", newErr(errBadPacket, "a_users entry %q is not an object", id)
	}
	tokensRaw, ok := record["tokens"]
	if !ok {
		return false, "", newErr(errBadPacket, "a_users entry %q has no tokens array", id)
	}
	tokens, ok := tokensRaw.([]any)
	if !ok {
		return false, "", newErr(errBadPacket, "a_users entry %q tokens is not an array", id)
	}
	for _, t := range tokens {
		s, ok := t.(string)
		if ok && s == token {
			return true, "success", nil
		}
	}
	return false, "token not recognized for local user", nil
}
