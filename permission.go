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

// domain identifies which authentication axis a principal or a
// permission entry belongs to.
type domain string

const (
	domainLocal    domain = "a_user"
	domainExternal domain = "g_user"
	domainNone     domain = "none"
)

// principal is the authenticated identity carried by a session. Fresh
// sessions carry principal{}.
type principal struct {
	isAuthed bool
	name     string
	domain   domain
}

// Permission gates read and write access to a single key: four sets of
// principal identifiers, one per (read|write) x (local|external) domain.
// Each set may contain literal identifiers, the literal "authed" (any
// authenticated user of that domain), or the literal "any" (bypasses
// authentication entirely, but only on the local axis).
type Permission struct {
	ReadLocal     []string
	ReadExternal  []string
	WriteLocal    []string
	WriteExternal []string
}

// defaultPermission is installed the first time a key is written to
// without an existing permission entry: wide open in every set.
func defaultPermission() Permission {
	return Permission{
		ReadLocal:     []string{"any"},
		ReadExternal:  []string{"any"},
		WriteLocal:    []string{"any"},
		WriteExternal: []string{"any"},
	}
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// parsePermission parses a Permission from the JSON shape spec.md §4.2
// requires: an object with "read" and "write", each an array of
// [domain, name] pairs.
func parsePermission(v value) (Permission, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Permission{}, newErr(errBadPacket, "permission value is not an object")
	}
	read, ok := obj["read"]
	if !ok {
		return Permission{}, newErr(errArgumentsNotPresent, "permission object missing %q", "read")
	}
	write, ok := obj["write"]
	if !ok {
		return Permission{}, newErr(errArgumentsNotPresent, "permission object missing %q", "write")
	}

	p := Permission{}
	var err error
	p.ReadLocal, p.ReadExternal, err = parsePermSet(read)
	if err != nil {
		return Permission{}, err
	}
	p.WriteLocal, p.WriteExternal, err = parsePermSet(write)
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

func parsePermSet(v value) (local, external []string, err error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, nil, newErr(errBadPacket, "permission set is not an array, got %v", v)
	}
	for _, item := range arr {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, nil, newErr(errBadPacket, "permission entry is not a two-element array, got %v", item)
		}
		name, ok := pair[1].(string)
		if !ok {
			return nil, nil, newErr(errBadPacket, "permission entity is not a string, got %v", pair[1])
		}
		switch pair[0] {
		case "a_user":
			local = append(local, name)
		case "g_user":
			external = append(external, name)
		default:
			return nil, nil, newErr(errBadPacket, "unknown permission domain %v", pair[0])
		}
	}
	return local, external, nil
}

// checkRead evaluates read access per spec.md §4.2.
func (p Permission) checkRead(pr principal) (bool, error) {
	return p.check(p.ReadLocal, p.ReadExternal, pr)
}

// checkWrite evaluates write access; symmetric to checkRead.
func (p Permission) checkWrite(pr principal) (bool, error) {
	return p.check(p.WriteLocal, p.WriteExternal, pr)
}

// toJSON renders p back into the [domain, name] pair-array shape
// parsePermission accepts, for persisting to disk.
func (p Permission) toJSON() map[string]any {
	build := func(local, external []string) []any {
		pairs := make([]any, 0, len(local)+len(external))
		for _, n := range local {
			pairs = append(pairs, []any{"a_user", n})
		}
		for _, n := range external {
			pairs = append(pairs, []any{"g_user", n})
		}
		return pairs
	}
	return map[string]any{
		"read":  build(p.ReadLocal, p.ReadExternal),
		"write": build(p.WriteLocal, p.WriteExternal),
	}
}

func (p Permission) check(local, external []string, pr principal) (bool, error) {
	if contains(local, "any") {
		return true, nil
	}
	if !pr.isAuthed {
		return false, nil
	}
	switch pr.domain {
	case domainLocal:
		return contains(local, "authed") || contains(local, pr.name), nil
	case domainExternal:
		return contains(external, "authed") || contains(external, pr.name), nil
	default:
		return false, newErr(errInvalidDomain, "invalid principal domain %q", pr.domain)
	}
}
