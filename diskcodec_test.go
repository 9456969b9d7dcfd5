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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestDiskCodecRoundTrip(t *testing.T) {
	r := require.New(t)

	root := t.TempDir()
	logger := zerolog.Nop()

	di := NewDatabaseInterface(NewDatabase("mydb"))
	owner := principal{isAuthed: true, name: "alice", domain: domainLocal}
	r.NoError(di.WriteToKey("a", "hello", owner))
	r.NoError(di.WriteToKey("b", []any{float64(1), float64(2)}, owner))
	di.SetPermission("b", Permission{ReadLocal: []string{"alice"}, WriteLocal: []string{"alice"}})

	r.NoError(SaveDatabaseToDisk(root, di, logger))

	loaded, err := LoadDatabaseFromDisk(root, "mydb", LoadOptions{}, logger)
	r.NoError(err)

	va, err := loaded.ReadFromKey("a", principal{})
	r.NoError(err)
	r.Equal("hello", va)

	vb, err := loaded.ReadFromKey("b", owner)
	r.NoError(err)
	r.True(valuesEqual(vb, []any{float64(1), float64(2)}))

	r.Equal([]string{"a", "b"}, loaded.DB.AllKeys())
}

func TestDiskCodecNameMismatchWarnsAndUsesManifest(t *testing.T) {
	r := require.New(t)

	root := t.TempDir()
	logger := zerolog.Nop()

	dir := filepath.Join(root, "requested")
	r.NoError(os.MkdirAll(dir, 0o755))

	man := manifestFile{DBKey: "actual", Ver: BuildVersion, Keys: []string{"k"}}
	manBytes, err := json.Marshal(man)
	r.NoError(err)
	r.NoError(os.WriteFile(filepath.Join(dir, "requested.database"), manBytes, 0o644))

	it := itemFile{
		Key: "k", Value: "v", Owner: "self",
		Permissions: defaultPermission().toJSON(), Subs: []any{}, Type: "string",
	}
	itBytes, err := json.Marshal(it)
	r.NoError(err)
	// item files live under the manifest's own dbKey directory, not the
	// requested name, once they disagree.
	actualDir := filepath.Join(root, "actual")
	r.NoError(os.MkdirAll(actualDir, 0o755))
	r.NoError(os.WriteFile(filepath.Join(actualDir, "k.item"), itBytes, 0o644))

	di, err := LoadDatabaseFromDisk(root, "requested", LoadOptions{}, logger)
	r.NoError(err)
	r.Equal("actual", di.DB.Name())
}

func TestDiskCodecStrictVersionRejectsMismatch(t *testing.T) {
	r := require.New(t)

	root := t.TempDir()
	logger := zerolog.Nop()
	dir := filepath.Join(root, "db")
	r.NoError(os.MkdirAll(dir, 0o755))

	man := manifestFile{DBKey: "db", Ver: "0.0.1", Keys: []string{}}
	manBytes, _ := json.Marshal(man)
	r.NoError(os.WriteFile(filepath.Join(dir, "db.database"), manBytes, 0o644))

	_, err := LoadDatabaseFromDisk(root, "db", LoadOptions{StrictVersion: true}, logger)
	r.Error(err)

	_, err = LoadDatabaseFromDisk(root, "db", LoadOptions{AllowAll: true}, logger)
	r.NoError(err)
}

func TestDiskCodecIncompatibleVersionRejected(t *testing.T) {
	r := require.New(t)

	root := t.TempDir()
	logger := zerolog.Nop()
	dir := filepath.Join(root, "db")
	r.NoError(os.MkdirAll(dir, 0o755))

	man := manifestFile{DBKey: "db", Ver: "9.9.9", Keys: []string{}}
	manBytes, _ := json.Marshal(man)
	r.NoError(os.WriteFile(filepath.Join(dir, "db.database"), manBytes, 0o644))

	_, err := LoadDatabaseFromDisk(root, "db", LoadOptions{}, logger)
	r.Error(err)
}

func TestDiskCodecMissingManifestIsIOError(t *testing.T) {
	r := require.New(t)

	root := t.TempDir()
	_, err := LoadDatabaseFromDisk(root, "nope", LoadOptions{}, zerolog.Nop())
	r.Error(err)
	ae, ok := asACIError(err)
	r.True(ok)
	r.Equal(errIO, ae.kind)
}
