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
	"context"
	"fmt"
)

// ExternalAuthenticator verifies a g_auth id_token against an external
// identity provider and returns the verified subject. Implementations
// treat the token as a black box; see auth.go for the OIDC-backed one.
type ExternalAuthenticator interface {
	VerifyExternal(ctx context.Context, idToken string) (subject string, ok bool, err error)
}

// Session is the per-connection authentication state and command
// dispatcher described in spec.md §4.7. A fresh Session carries an
// unauthenticated principal.
type Session struct {
	registry     *Registry
	localAuth    LocalAuthenticator
	externalAuth ExternalAuthenticator
	principal    principal
}

// NewSession creates a Session bound to registry, with externalAuth used
// to verify g_auth commands. externalAuth may be nil if g_auth is never
// expected (every g_auth will then fail verification). a_auth is checked
// against registry itself, which satisfies LocalAuthenticator off its
// config database.
func NewSession(registry *Registry, externalAuth ExternalAuthenticator) *Session {
	return &Session{registry: registry, localAuth: registry, externalAuth: externalAuth}
}

// Principal returns the session's current authentication state.
func (s *Session) Principal() principal { return s.principal }

// Execute dispatches cmd and returns the reply object to send back,
// per spec.md §4.7 step 4. Every error this method can produce — bad
// auth, missing database, permission denial, OOB index — is folded into
// the returned reply's mode/msg fields rather than a Go error, since the
// wire protocol has no other channel for the caller to report it on.
func (s *Session) Execute(ctx context.Context, cmd *Command) map[string]any {
	reply := s.dispatch(ctx, cmd)
	if cmd.HasUniqueID {
		reply["unique_id"] = cmd.UniqueID
	}
	return reply
}

func (s *Session) dispatch(ctx context.Context, cmd *Command) map[string]any {
	if cmd.Cmd == "event" {
		return s.errorReply(cmd, "event commands are handled by the connection hub, not the session")
	}
	if cmd.Cmd != "a_auth" && cmd.Cmd != "g_auth" && !s.principal.isAuthed {
		return s.errorReply(cmd, "not authenticated")
	}

	switch cmd.Cmd {
	case "a_auth":
		return s.handleAAuth(cmd)
	case "g_auth":
		return s.handleGAuth(ctx, cmd)
	case "create_database":
		return s.handleCreateDatabase(cmd)
	case "write_to_disk":
		return s.handleWriteToDisk(cmd)
	case "read_from_disk":
		return s.handleReadFromDisk(cmd)
	case "list_keys":
		return s.handleListKeys(cmd)
	case "get_value":
		return s.handleGetValue(cmd)
	case "set_value":
		return s.handleSetValue(cmd)
	case "get_index":
		return s.handleGetIndex(cmd)
	case "set_index":
		return s.handleSetIndex(cmd)
	case "append_list":
		return s.handleAppendList(cmd)
	case "get_list_length":
		return s.handleGetListLength(cmd)
	case "get_recent":
		return s.handleGetRecent(cmd)
	default:
		return s.errorReply(cmd, fmt.Sprintf("unhandled command %q", cmd.Cmd))
	}
}

func (s *Session) errorReply(cmd *Command, msg string) map[string]any {
	return map[string]any{"cmd": cmd.Cmd, "mode": "error", "msg": msg}
}

func (s *Session) okReply(cmd *Command, msg string, extra map[string]any) map[string]any {
	reply := map[string]any{"cmd": cmd.Cmd, "mode": "ok", "msg": msg}
	for k, v := range extra {
		reply[k] = v
	}
	return reply
}

// replyForErr turns err into an error reply whose msg is err's message.
func (s *Session) replyForErr(cmd *Command, err error) map[string]any {
	return s.errorReply(cmd, err.Error())
}

func (s *Session) resolveDB(cmd *Command) (*DatabaseInterface, map[string]any) {
	di, ok := s.registry.GetDatabase(cmd.DBKey)
	if !ok {
		return nil, s.errorReply(cmd, fmt.Sprintf("no such database %q", cmd.DBKey))
	}
	return di, nil
}

// handleAAuth checks the local (id, token) pair. Per spec.md §8 scenario
// 1 and the original server's a_auth handler, the reply's mode is always
// "ok" regardless of outcome; only msg distinguishes success from
// failure, the same quirk handleGAuth implements for g_auth below.
func (s *Session) handleAAuth(cmd *Command) map[string]any {
	ok, msg, err := s.localAuth.CheckLocalAuth(cmd.ID, cmd.Token)
	if err != nil {
		return map[string]any{"cmd": cmd.Cmd, "mode": "ok", "msg": err.Error()}
	}
	if !ok {
		return map[string]any{"cmd": cmd.Cmd, "mode": "ok", "msg": msg}
	}
	s.principal = principal{isAuthed: true, name: cmd.ID, domain: domainLocal}
	return map[string]any{"cmd": cmd.Cmd, "mode": "ok", "msg": msg}
}

// handleGAuth delegates to the external authenticator. Per spec.md §4.7,
// failure here is a deliberate quirk preserved from the source: the
// reply's mode is always "ok", and only msg distinguishes success
// ("success") from failure ("error").
func (s *Session) handleGAuth(ctx context.Context, cmd *Command) map[string]any {
	if s.externalAuth == nil {
		return map[string]any{"cmd": cmd.Cmd, "mode": "ok", "msg": "error"}
	}
	subject, ok, err := s.externalAuth.VerifyExternal(ctx, cmd.IDToken)
	if err != nil || !ok {
		return map[string]any{"cmd": cmd.Cmd, "mode": "ok", "msg": "error"}
	}
	s.principal = principal{isAuthed: true, name: subject, domain: domainExternal}
	return map[string]any{"cmd": cmd.Cmd, "mode": "ok", "msg": "success"}
}

func (s *Session) handleCreateDatabase(cmd *Command) map[string]any {
	if _, exists := s.registry.GetDatabase(cmd.DBKey); exists {
		return s.errorReply(cmd, fmt.Sprintf("database %q already exists", cmd.DBKey))
	}
	di := NewDatabaseInterface(NewDatabase(cmd.DBKey))
	s.registry.RegisterDatabase(cmd.DBKey, di)
	return s.okReply(cmd, "success", map[string]any{"db_key": cmd.DBKey})
}

func (s *Session) handleWriteToDisk(cmd *Command) map[string]any {
	if _, errReply := s.resolveDB(cmd); errReply != nil {
		return errReply
	}
	if err := s.registry.WriteDatabaseToDisk(cmd.DBKey); err != nil {
		return s.replyForErr(cmd, err)
	}
	return s.okReply(cmd, "success", map[string]any{"db_key": cmd.DBKey})
}

func (s *Session) handleReadFromDisk(cmd *Command) map[string]any {
	if err := s.registry.ReadDatabaseFromDisk(cmd.DBKey); err != nil {
		return s.replyForErr(cmd, err)
	}
	return s.okReply(cmd, "success", map[string]any{"db_key": cmd.DBKey})
}

func (s *Session) handleListKeys(cmd *Command) map[string]any {
	di, errReply := s.resolveDB(cmd)
	if errReply != nil {
		return errReply
	}
	keys := di.DB.AllKeys()
	val := make([]any, len(keys))
	for i, k := range keys {
		val[i] = k
	}
	return s.okReply(cmd, "success", map[string]any{"db_key": cmd.DBKey, "val": val})
}

func (s *Session) handleGetValue(cmd *Command) map[string]any {
	di, errReply := s.resolveDB(cmd)
	if errReply != nil {
		return errReply
	}
	v, err := di.ReadFromKey(cmd.Key, s.principal)
	if err != nil {
		return s.replyForErr(cmd, err)
	}
	return s.okReply(cmd, "success", map[string]any{"db_key": cmd.DBKey, "key": cmd.Key, "val": v})
}

func (s *Session) handleSetValue(cmd *Command) map[string]any {
	di, errReply := s.resolveDB(cmd)
	if errReply != nil {
		return errReply
	}
	if err := di.WriteToKey(cmd.Key, cmd.Val, s.principal); err != nil {
		return s.replyForErr(cmd, err)
	}
	return s.okReply(cmd, "success", map[string]any{"db_key": cmd.DBKey, "key": cmd.Key})
}

func (s *Session) handleGetIndex(cmd *Command) map[string]any {
	di, errReply := s.resolveDB(cmd)
	if errReply != nil {
		return errReply
	}
	v, err := di.ReadFromKeyIndex(cmd.Key, cmd.Index, s.principal)
	if err != nil {
		return s.replyForErr(cmd, err)
	}
	return s.okReply(cmd, "success", map[string]any{
		"db_key": cmd.DBKey, "key": cmd.Key, "index": cmd.Index, "val": v,
	})
}

func (s *Session) handleSetIndex(cmd *Command) map[string]any {
	di, errReply := s.resolveDB(cmd)
	if errReply != nil {
		return errReply
	}
	if err := di.WriteToKeyIndex(cmd.Key, cmd.Index, cmd.Val, s.principal); err != nil {
		return s.replyForErr(cmd, err)
	}
	return s.okReply(cmd, "success", map[string]any{
		"db_key": cmd.DBKey, "key": cmd.Key, "index": cmd.Index,
	})
}

func (s *Session) handleAppendList(cmd *Command) map[string]any {
	di, errReply := s.resolveDB(cmd)
	if errReply != nil {
		return errReply
	}
	next, err := di.AppendToKey(cmd.Key, cmd.Val, s.principal)
	if err != nil {
		return s.replyForErr(cmd, err)
	}
	return s.okReply(cmd, "success", map[string]any{
		"db_key": cmd.DBKey, "key": cmd.Key, "next": next,
	})
}

func (s *Session) handleGetListLength(cmd *Command) map[string]any {
	di, errReply := s.resolveDB(cmd)
	if errReply != nil {
		return errReply
	}
	length, err := di.LengthOfKey(cmd.Key, s.principal)
	if err != nil {
		return s.replyForErr(cmd, err)
	}
	return s.okReply(cmd, "success", map[string]any{
		"db_key": cmd.DBKey, "key": cmd.Key, "length": length,
	})
}

func (s *Session) handleGetRecent(cmd *Command) map[string]any {
	di, errReply := s.resolveDB(cmd)
	if errReply != nil {
		return errReply
	}
	v, err := di.LastNOfKey(cmd.Key, cmd.Num, s.principal)
	if err != nil {
		return s.replyForErr(cmd, err)
	}
	return s.okReply(cmd, "success", map[string]any{
		"db_key": cmd.DBKey, "key": cmd.Key, "val": v,
	})
}
