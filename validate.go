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
	"net"
	"strings"
)

// ValidationResult is one finding from ServerConfig.validate: either a
// hard error (Warn == false, config is unusable) or a warning (the
// config will run, but something looks off).
type ValidationResult struct {
	Warn    bool
	Message string
}

func addWarn(r []ValidationResult, msg string) []ValidationResult {
	return append(r, ValidationResult{Warn: true, Message: msg})
}

func addError(r []ValidationResult, msg string) []ValidationResult {
	return append(r, ValidationResult{Warn: false, Message: msg})
}

// validate checks c for structural problems before NewServer uses it.
// Errors (Warn == false) block start-up; warnings do not.
func (c *ServerConfig) validate() (r []ValidationResult) {
	if len(c.Path) == 0 {
		r = addError(r, "path must be set")
	}
	// ConfigPath has no format constraints of its own: an empty value is
	// valid and means the config database lives under Path, same as
	// every other database (see Registry.rootFor).
	if c.IgnoreConfig {
		if len(c.IP) == 0 {
			r = addError(r, "--ignore-config requires an explicit ip")
		} else if net.ParseIP(c.IP) == nil {
			r = addError(r, fmt.Sprintf("invalid ip %q", c.IP))
		}
		if c.Port == 0 {
			r = addError(r, "--ignore-config requires an explicit port")
		}
	} else if len(c.IP) > 0 && net.ParseIP(c.IP) == nil {
		r = addError(r, fmt.Sprintf("invalid ip override %q", c.IP))
	}
	if c.RawSocket && c.Both {
		r = addWarn(r, "raw-socket and both are both set; both wins and raw-socket is redundant")
	}
	if len(c.WSPath) > 0 && !strings.HasPrefix(c.WSPath, "/") {
		r = addError(r, fmt.Sprintf("ws path %q must start with /", c.WSPath))
	}
	if c.CORS != nil {
		r = append(r, c.CORS.validate()...)
	}
	if c.OIDC != nil && len(c.OIDC.IssuerURL) == 0 {
		r = addError(r, "oidc configured but issuerUrl is empty")
	}
	return r
}

func (c *CORSConfig) validate() (r []ValidationResult) {
	for _, o := range c.AllowedOrigins {
		if strings.Count(o, "*") > 1 {
			r = addError(r, fmt.Sprintf("cors: allowed origin %q: can use only 1 wildcard", o))
		}
	}
	for _, m := range c.AllowedMethods {
		switch m {
		case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
		default:
			r = addError(r, fmt.Sprintf("cors: allowed methods: invalid method %q", m))
		}
	}
	if c.MaxAge != nil && *c.MaxAge <= 0 {
		r = addWarn(r, fmt.Sprintf("cors: max age %d is <=0, will be ignored", *c.MaxAge))
	}
	return r
}
