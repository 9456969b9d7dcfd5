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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFlagsFileJSON(t *testing.T) {
	r := require.New(t)

	path := filepath.Join(t.TempDir(), "flags.json")
	r.NoError(os.WriteFile(path, []byte(`{"path":"/data","port":9001,"both":true}`), 0o644))

	cfg, err := LoadFlagsFile(path)
	r.NoError(err)
	r.Equal("/data", cfg.Path)
	r.Equal(uint16(9001), cfg.Port)
	r.True(cfg.Both)
}

func TestLoadFlagsFileYAML(t *testing.T) {
	r := require.New(t)

	path := filepath.Join(t.TempDir(), "flags.yaml")
	contents := "path: /data\nrawSocket: true\nwsPath: /socket\n"
	r.NoError(os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadFlagsFile(path)
	r.NoError(err)
	r.Equal("/data", cfg.Path)
	r.True(cfg.RawSocket)
	r.Equal("/socket", cfg.WSPath)
}

func TestLoadFlagsFileUnrecognizedExtension(t *testing.T) {
	r := require.New(t)

	path := filepath.Join(t.TempDir(), "flags.toml")
	r.NoError(os.WriteFile(path, []byte("path = \"/data\""), 0o644))

	_, err := LoadFlagsFile(path)
	r.Error(err)
}

func TestLoadFlagsFileMissing(t *testing.T) {
	r := require.New(t)

	_, err := LoadFlagsFile(filepath.Join(t.TempDir(), "missing.json"))
	r.Error(err)
}

func TestMergeFlagsFileExplicitFlagsWin(t *testing.T) {
	r := require.New(t)

	base := &ServerConfig{Path: "/fromfile", Port: 1000, Verbosity: 2, Both: true}
	cfg := &ServerConfig{Port: 9999}

	MergeFlagsFile(cfg, base)

	r.Equal("/fromfile", cfg.Path) // cfg had zero value, base fills it in
	r.Equal(uint16(9999), cfg.Port) // cfg already set this explicitly, base must not override
	r.Equal(2, cfg.Verbosity)
	r.True(cfg.Both)
}

func TestMergeFlagsFileLeavesUnsetFieldsZero(t *testing.T) {
	r := require.New(t)

	base := &ServerConfig{}
	cfg := &ServerConfig{}

	MergeFlagsFile(cfg, base)

	r.Empty(cfg.Path)
	r.Zero(cfg.Port)
	r.Nil(cfg.CORS)
	r.Nil(cfg.OIDC)
}

func TestMergeFlagsFileFillsCORSAndOIDCWhenUnset(t *testing.T) {
	r := require.New(t)

	base := &ServerConfig{
		CORS: &CORSConfig{AllowedOrigins: []string{"*"}},
		OIDC: &OIDCConfig{IssuerURL: "https://issuer.example.com"},
	}
	cfg := &ServerConfig{}

	MergeFlagsFile(cfg, base)

	r.NotNil(cfg.CORS)
	r.Equal([]string{"*"}, cfg.CORS.AllowedOrigins)
	r.NotNil(cfg.OIDC)
	r.Equal("https://issuer.example.com", cfg.OIDC.IssuerURL)
}
