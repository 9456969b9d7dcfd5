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
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeExternalAuthenticator lets session tests drive g_auth without a
// real OIDC provider.
type fakeExternalAuthenticator struct {
	subject string
	ok      bool
	err     error
}

func (f *fakeExternalAuthenticator) VerifyExternal(ctx context.Context, idToken string) (string, bool, error) {
	return f.subject, f.ok, f.err
}

func TestSessionRejectsCommandsBeforeAuth(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{})
	s := NewSession(reg, nil)

	cmd, err := ParseCommand([]byte(`{"cmd":"list_keys","db_key":"config"}`))
	r.NoError(err)

	reply := s.Execute(context.Background(), cmd)
	r.Equal("error", reply["mode"])
}

func TestSessionAAuthSuccessThenAuthorizedCommand(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{
		"bob": map[string]any{"tokens": []any{"tok"}},
	})
	s := NewSession(reg, nil)

	authCmd, err := ParseCommand([]byte(`{"cmd":"a_auth","id":"bob","token":"tok"}`))
	r.NoError(err)
	reply := s.Execute(context.Background(), authCmd)
	r.Equal("ok", reply["mode"])
	r.True(s.Principal().isAuthed)
	r.Equal("bob", s.Principal().name)

	listCmd, err := ParseCommand([]byte(`{"cmd":"list_keys","db_key":"config"}`))
	r.NoError(err)
	reply = s.Execute(context.Background(), listCmd)
	r.Equal("ok", reply["mode"])
}

func TestSessionAAuthFailureStaysUnauthenticated(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{})
	s := NewSession(reg, nil)

	authCmd, err := ParseCommand([]byte(`{"cmd":"a_auth","id":"bob","token":"wrong"}`))
	r.NoError(err)
	reply := s.Execute(context.Background(), authCmd)
	// the same quirk as g_auth: mode is always "ok", only msg reports failure.
	r.Equal("ok", reply["mode"])
	r.NotEqual("success", reply["msg"])
	r.False(s.Principal().isAuthed)
}

func TestSessionGAuthSuccessAlwaysReportsOK(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{})
	s := NewSession(reg, &fakeExternalAuthenticator{subject: "carol@example.com", ok: true})

	cmd, err := ParseCommand([]byte(`{"cmd":"g_auth","id_token":"anything"}`))
	r.NoError(err)
	reply := s.Execute(context.Background(), cmd)
	r.Equal("ok", reply["mode"])
	r.Equal("success", reply["msg"])
	r.True(s.Principal().isAuthed)
	r.Equal(domainExternal, s.Principal().domain)
}

func TestSessionGAuthFailureStillReportsModeOK(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{})
	s := NewSession(reg, &fakeExternalAuthenticator{ok: false})

	cmd, err := ParseCommand([]byte(`{"cmd":"g_auth","id_token":"bad"}`))
	r.NoError(err)
	reply := s.Execute(context.Background(), cmd)
	// the deliberate quirk: mode is always "ok", only msg distinguishes
	// success from failure.
	r.Equal("ok", reply["mode"])
	r.Equal("error", reply["msg"])
	r.False(s.Principal().isAuthed)
}

func TestSessionGAuthWithNoVerifierConfigured(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{})
	s := NewSession(reg, nil)

	cmd, err := ParseCommand([]byte(`{"cmd":"g_auth","id_token":"anything"}`))
	r.NoError(err)
	reply := s.Execute(context.Background(), cmd)
	r.Equal("ok", reply["mode"])
	r.Equal("error", reply["msg"])
}

func TestSessionUniqueIDEchoedOnReply(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{
		"bob": map[string]any{"tokens": []any{"tok"}},
	})
	s := NewSession(reg, nil)

	cmd, err := ParseCommand([]byte(`{"cmd":"a_auth","id":"bob","token":"tok","unique_id":"req-1"}`))
	r.NoError(err)
	reply := s.Execute(context.Background(), cmd)
	r.Equal("req-1", reply["unique_id"])
}

func TestSessionCreateAndUseDatabase(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{
		"bob": map[string]any{"tokens": []any{"tok"}},
	})
	s := NewSession(reg, nil)
	authCmd, _ := ParseCommand([]byte(`{"cmd":"a_auth","id":"bob","token":"tok"}`))
	s.Execute(context.Background(), authCmd)

	createCmd, _ := ParseCommand([]byte(`{"cmd":"create_database","db_key":"notes"}`))
	reply := s.Execute(context.Background(), createCmd)
	r.Equal("ok", reply["mode"])

	setCmd, _ := ParseCommand([]byte(`{"cmd":"set_value","db_key":"notes","key":"k","val":"hello"}`))
	reply = s.Execute(context.Background(), setCmd)
	r.Equal("ok", reply["mode"])

	getCmd, _ := ParseCommand([]byte(`{"cmd":"get_value","db_key":"notes","key":"k"}`))
	reply = s.Execute(context.Background(), getCmd)
	r.Equal("ok", reply["mode"])
	r.Equal("hello", reply["val"])
}

func TestSessionGetValueOnMissingDatabase(t *testing.T) {
	r := require.New(t)

	reg := newTestRegistry(t, map[string]any{
		"bob": map[string]any{"tokens": []any{"tok"}},
	})
	s := NewSession(reg, nil)
	authCmd, _ := ParseCommand([]byte(`{"cmd":"a_auth","id":"bob","token":"tok"}`))
	s.Execute(context.Background(), authCmd)

	getCmd, _ := ParseCommand([]byte(`{"cmd":"get_value","db_key":"ghost","key":"k"}`))
	reply := s.Execute(context.Background(), getCmd)
	r.Equal("error", reply["mode"])
}
