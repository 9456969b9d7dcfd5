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
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"
)

// BuildVersion is the manifest version stamped into every database this
// build writes to disk, and the reference value manifest version gating
// compares against. Override at link time with
// -ldflags "-X github.com/ACRONYM-Group/aci-server-go.BuildVersion=1.2.3".
var BuildVersion = "1.0.0"

// compatibleVersions lists manifest versions this build will load without
// --allow-all, besides an exact BuildVersion match.
var compatibleVersions = []string{"1.0.0"}

func versionCompatible(ver string) bool {
	if ver == BuildVersion {
		return true
	}
	for _, v := range compatibleVersions {
		if semver.Compare("v"+v, "v"+ver) == 0 {
			return true
		}
	}
	return false
}

// manifestFile is the top-level "<root>/N/N.database" document.
type manifestFile struct {
	DBKey string   `json:"dbKey"`
	Ver   string   `json:"ver"`
	Keys  []string `json:"keys"`
}

// itemFile is the "<root>/N/<key>.item" document for a single key.
type itemFile struct {
	Key         string         `json:"key"`
	Value       value          `json:"value"`
	Owner       string         `json:"owner"`
	Permissions map[string]any `json:"permissions"`
	Subs        []any          `json:"subs"`
	Type        string         `json:"type"`
}

// LoadOptions controls version-gating behavior for LoadDatabaseFromDisk,
// mirroring the CLI's --mismatch and --allow-all flags.
type LoadOptions struct {
	StrictVersion bool // --mismatch: fail on any version mismatch
	AllowAll      bool // --allow-all: accept any version, skip the whitelist
}

func manifestPath(root, name string) string {
	return filepath.Join(root, name, name+".database")
}

func itemPath(root, name, key string) string {
	return filepath.Join(root, name, key+".item")
}

// LoadDatabaseFromDisk reads the database named "name" from under root,
// applying the version-gating policy in opts. The manifest's own dbKey
// wins over the requested name on mismatch (logged as a warning), as does
// each item file's own key over its manifest entry.
func LoadDatabaseFromDisk(root, name string, opts LoadOptions, logger zerolog.Logger) (*DatabaseInterface, error) {
	raw, err := os.ReadFile(manifestPath(root, name))
	if err != nil {
		return nil, newErr(errIO, "reading manifest for database %q: %v", name, err)
	}
	var man manifestFile
	if err := json.Unmarshal(raw, &man); err != nil {
		return nil, newErr(errIO, "decoding manifest for database %q: %v", name, err)
	}

	if man.DBKey != "" && man.DBKey != name {
		logger.Warn().Str("requested", name).Str("manifest", man.DBKey).
			Msg("database manifest dbKey disagrees with requested name, using manifest name")
		name = man.DBKey
	}

	if man.Ver != BuildVersion {
		logger.Warn().Str("database", name).Str("manifestVersion", man.Ver).
			Str("buildVersion", BuildVersion).Msg("database manifest version differs from build version")
	}
	if opts.StrictVersion {
		if man.Ver != BuildVersion {
			return nil, newErr(errIO, "database %q: strict version check failed: manifest is %q, build is %q", name, man.Ver, BuildVersion)
		}
	} else if !opts.AllowAll && !versionCompatible(man.Ver) {
		return nil, newErr(errIO, "database %q: incompatible manifest version %q", name, man.Ver)
	}

	db := NewDatabase(name)
	di := NewDatabaseInterface(db)

	for _, key := range man.Keys {
		raw, err := os.ReadFile(itemPath(root, name, key))
		if err != nil {
			return nil, newErr(errIO, "reading item %q of database %q: %v", key, name, err)
		}
		var it itemFile
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, newErr(errIO, "decoding item %q of database %q: %v", key, name, err)
		}
		actualKey := it.Key
		if actualKey == "" {
			actualKey = key
		}
		if actualKey != key {
			logger.Warn().Str("database", name).Str("manifestKey", key).Str("itemKey", actualKey).
				Msg("item file key disagrees with manifest entry, using item file name")
		}
		perm, err := parsePermission(it.Permissions)
		if err != nil {
			return nil, newErr(errIO, "item %q of database %q: bad permissions: %v", actualKey, name, err)
		}
		db.Write(actualKey, it.Value)
		di.SetPermission(actualKey, perm)
	}

	return di, nil
}

// SaveDatabaseToDisk writes di to disk under root, creating the
// directory if absent. The manifest's key list is sorted ascending — the
// same order AllKeys returns.
func SaveDatabaseToDisk(root string, di *DatabaseInterface, logger zerolog.Logger) error {
	name := di.DB.Name()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newErr(errIO, "creating directory for database %q: %v", name, err)
	}

	keys := di.DB.AllKeys()

	man := manifestFile{DBKey: name, Ver: BuildVersion, Keys: keys}
	manBytes, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return newErr(errIO, "encoding manifest for database %q: %v", name, err)
	}
	if err := os.WriteFile(manifestPath(root, name), manBytes, 0o644); err != nil {
		return newErr(errIO, "writing manifest for database %q: %v", name, err)
	}

	hasher := xxhash.New()
	for _, key := range keys {
		v, err := di.DB.Read(key)
		if err != nil {
			return newErr(errIO, "reading key %q of database %q for flush: %v", key, name, err)
		}
		perm, _ := di.Permission(key)
		it := itemFile{
			Key:         key,
			Value:       v,
			Owner:       "self",
			Permissions: perm.toJSON(),
			Subs:        []any{},
			Type:        itemKind(v),
		}
		itBytes, err := json.MarshalIndent(it, "", "  ")
		if err != nil {
			return newErr(errIO, "encoding item %q of database %q: %v", key, name, err)
		}
		if err := os.WriteFile(itemPath(root, name, key), itBytes, 0o644); err != nil {
			return newErr(errIO, "writing item %q of database %q: %v", key, name, err)
		}
		hasher.Write(itBytes)
	}

	logger.Info().Str("database", name).Int("keys", len(keys)).
		Str("contentHash", hashHex(hasher.Sum64())).Msg("wrote database to disk")
	return nil
}

func hashHex(h uint64) string {
	const hexdigits = "0123456789abcdef"
	b := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		b[i] = hexdigits[h&0xf]
		h >>= 4
	}
	return strings.TrimLeft(string(b), "0")
}
