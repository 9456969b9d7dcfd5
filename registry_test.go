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
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// newTestRegistry bootstraps a config database on disk under a fresh
// temp root (ip, port and a_users as given) and returns a Registry
// loaded from it, ready for a_auth/config lookups in tests.
func newTestRegistry(t *testing.T, aUsers map[string]any) *Registry {
	t.Helper()
	r := require.New(t)

	root := t.TempDir()
	cfgDI := NewDatabaseInterface(NewDatabase(configDBKey))
	cfgDI.DB.Write("ip", "127.0.0.1")
	cfgDI.DB.Write("port", float64(9001))
	cfgDI.DB.Write("a_users", aUsers)
	for _, k := range cfgDI.DB.AllKeys() {
		cfgDI.SetPermission(k, defaultPermission())
	}
	r.NoError(SaveDatabaseToDisk(root, cfgDI, zerolog.Nop()))

	reg, err := NewRegistry(root, "", LoadOptions{}, zerolog.Nop())
	r.NoError(err)
	return reg
}

func TestRegistryConfigIPAndPort(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{})
	ip, err := reg.ConfigIP()
	r.NoError(err)
	r.Equal("127.0.0.1", ip)

	port, err := reg.ConfigPort()
	r.NoError(err)
	r.Equal(uint64(9001), port)
}

func TestRegistryCheckLocalAuthSuccess(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{
		"bob": map[string]any{"tokens": []any{"tok1", "tok2"}},
	})

	ok, msg, err := reg.CheckLocalAuth("bob", "tok2")
	r.NoError(err)
	r.True(ok)
	r.Equal("success", msg)
}

func TestRegistryCheckLocalAuthWrongToken(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{
		"bob": map[string]any{"tokens": []any{"tok1"}},
	})

	ok, _, err := reg.CheckLocalAuth("bob", "wrong")
	r.NoError(err)
	r.False(ok)
}

func TestRegistryCheckLocalAuthUnknownUser(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{})
	ok, _, err := reg.CheckLocalAuth("nobody", "tok")
	r.NoError(err)
	r.False(ok)
}

func TestRegistryCheckLocalAuthMalformed(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{
		"bob": "not an object",
	})
	_, _, err := reg.CheckLocalAuth("bob", "tok")
	r.Error(err)
	ae, ok := asACIError(err)
	r.True(ok)
	r.Equal(errBadPacket, ae.kind)
}

func TestRegistryDatabaseLifecycle(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{})

	_, ok := reg.GetDatabase("things")
	r.False(ok)

	di := NewDatabaseInterface(NewDatabase("things"))
	reg.RegisterDatabase("things", di)

	_, ok = reg.GetDatabase("things")
	r.True(ok)
	r.Contains(reg.DatabaseNames(), "things")
	r.Contains(reg.DatabaseNames(), configDBKey)
}

func TestRegistryWriteThenReadFromDisk(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{})
	di := NewDatabaseInterface(NewDatabase("things"))
	owner := principal{isAuthed: true, name: "alice", domain: domainLocal}
	r.NoError(di.WriteToKey("k", "v", owner))
	reg.RegisterDatabase("things", di)

	r.NoError(reg.WriteDatabaseToDisk("things"))

	// drop the in-memory copy and reload purely from disk
	reg.RegisterDatabase("things", NewDatabaseInterface(NewDatabase("things")))
	r.NoError(reg.ReadDatabaseFromDisk("things"))

	reloaded, ok := reg.GetDatabase("things")
	r.True(ok)
	v, err := reloaded.ReadFromKey("k", principal{})
	r.NoError(err)
	r.Equal("v", v)
}

func TestRegistryWriteUnregisteredDatabaseErrors(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{})
	err := reg.WriteDatabaseToDisk("nope")
	r.Error(err)
}
