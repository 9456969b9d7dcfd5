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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// ServerConfig is the complete start-up configuration for a Server,
// covering both spec.md §6's wire-level flags and the Go-native
// --flags-file convenience SPEC_FULL.md adds on top of them.
type ServerConfig struct {
	// Path is the root directory every named database (including the
	// config database) is stored under.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConfigPath overrides where the config database is loaded from, if
	// it lives outside Path.
	ConfigPath string `json:"configPath,omitempty" yaml:"configPath,omitempty"`

	// Mismatch requires an exact manifest-version match on every load
	// (--mismatch).
	Mismatch bool `json:"mismatch,omitempty" yaml:"mismatch,omitempty"`

	// AllowAll accepts any manifest version, bypassing the compatibility
	// whitelist (--allow-all).
	AllowAll bool `json:"allowAll,omitempty" yaml:"allowAll,omitempty"`

	// IgnoreConfig skips reading ip/port from the config database;
	// IP and Port below must both be set (--ignore-config).
	IgnoreConfig bool `json:"ignoreConfig,omitempty" yaml:"ignoreConfig,omitempty"`

	// IP overrides the config database's ip key (--ip).
	IP string `json:"ip,omitempty" yaml:"ip,omitempty"`

	// Port overrides the config database's port key (--port).
	Port uint16 `json:"port,omitempty" yaml:"port,omitempty"`

	// RawSocket serves the raw-TCP transport instead of the HTTP/
	// WebSocket front door (--raw-socket).
	RawSocket bool `json:"rawSocket,omitempty" yaml:"rawSocket,omitempty"`

	// Both serves both the HTTP/WebSocket front door and the raw-TCP
	// transport simultaneously (--both).
	Both bool `json:"both,omitempty" yaml:"both,omitempty"`

	// WSPath is the HTTP path the WebSocket upgrade endpoint listens on.
	// Defaults to "/ws".
	WSPath string `json:"wsPath,omitempty" yaml:"wsPath,omitempty"`

	// HeartbeatSchedule overrides the default once-a-minute cron spec
	// for the heartbeat job (§4.11).
	HeartbeatSchedule string `json:"heartbeatSchedule,omitempty" yaml:"heartbeatSchedule,omitempty"`

	// CORS configures the front door's cross-origin policy. Nil means
	// no CORS headers are added.
	CORS *CORSConfig `json:"cors,omitempty" yaml:"cors,omitempty"`

	// OIDC configures the external (g_auth) authenticator. Nil means
	// every g_auth fails verification.
	OIDC *OIDCConfig `json:"oidc,omitempty" yaml:"oidc,omitempty"`

	// Verbosity is 0 (info), 1 (debug), or 2+ (trace), mirroring the
	// CLI's repeatable -V flag.
	Verbosity int `json:"verbosity,omitempty" yaml:"verbosity,omitempty"`
}

// CORSConfig mirrors the teacher's CORS struct field-for-field; see
// rs/cors for the semantics of each field.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowedOrigins,omitempty" yaml:"allowedOrigins,omitempty"`
	AllowedMethods   []string `json:"allowedMethods,omitempty" yaml:"allowedMethods,omitempty"`
	AllowedHeaders   []string `json:"allowedHeaders,omitempty" yaml:"allowedHeaders,omitempty"`
	ExposedHeaders   []string `json:"exposedHeaders,omitempty" yaml:"exposedHeaders,omitempty"`
	AllowCredentials bool     `json:"allowCredentials,omitempty" yaml:"allowCredentials,omitempty"`
	MaxAge           *int     `json:"maxAge,omitempty" yaml:"maxAge,omitempty"`
	Debug            bool     `json:"debug,omitempty" yaml:"debug,omitempty"`
}

// LoadFlagsFile reads defaults from a JSON or YAML file (by extension)
// into a ServerConfig, per SPEC_FULL.md §6's --flags-file addition.
// Fields not present in the file are left at their zero value; the
// caller is expected to apply this as a base, then overlay explicit
// flags on top.
func LoadFlagsFile(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newErr(errIO, "reading flags file %q: %v", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json": // JSON is valid YAML; one decoder handles both
	default:
		return nil, newErr(errIO, "flags file %q: unrecognized extension, want .json, .yaml or .yml", path)
	}
	cfg := &ServerConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, newErr(errIO, "parsing flags file %q: %v", path, err)
	}
	return cfg, nil
}

// MergeFlagsFile copies every non-zero field of base into cfg wherever
// cfg's own field is still at its zero value, so explicit flags always
// win over the flags file.
func MergeFlagsFile(cfg, base *ServerConfig) {
	if cfg.Path == "" {
		cfg.Path = base.Path
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = base.ConfigPath
	}
	if !cfg.Mismatch {
		cfg.Mismatch = base.Mismatch
	}
	if !cfg.AllowAll {
		cfg.AllowAll = base.AllowAll
	}
	if !cfg.IgnoreConfig {
		cfg.IgnoreConfig = base.IgnoreConfig
	}
	if cfg.IP == "" {
		cfg.IP = base.IP
	}
	if cfg.Port == 0 {
		cfg.Port = base.Port
	}
	if !cfg.RawSocket {
		cfg.RawSocket = base.RawSocket
	}
	if !cfg.Both {
		cfg.Both = base.Both
	}
	if cfg.WSPath == "" {
		cfg.WSPath = base.WSPath
	}
	if cfg.HeartbeatSchedule == "" {
		cfg.HeartbeatSchedule = base.HeartbeatSchedule
	}
	if cfg.CORS == nil {
		cfg.CORS = base.CORS
	}
	if cfg.OIDC == nil {
		cfg.OIDC = base.OIDC
	}
	if cfg.Verbosity == 0 {
		cfg.Verbosity = base.Verbosity
	}
}

func (c *ServerConfig) String() string {
	return fmt.Sprintf("ServerConfig{Path:%q, RawSocket:%v, Both:%v}", c.Path, c.RawSocket, c.Both)
}
