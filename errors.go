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

import "fmt"

// errKind is a machine-stable classification of a data-plane error, so
// the session layer can always produce a {"mode":"error","msg":...} reply
// without string-sniffing the error message.
type errKind int

const (
	errBadJSON errKind = iota
	errBadPacket
	errArgumentsNotPresent
	errPermissionDenied
	errNotAuthenticated
	errNotFound
	errIndexOutOfRange
	errNotArray
	errInvalidDomain
	errIO
)

// aciError is the error type returned by every C1-C9 operation that can
// fail in a way the wire protocol has to report back to the client.
type aciError struct {
	kind errKind
	msg  string
}

func (e *aciError) Error() string { return e.msg }

func newErr(kind errKind, format string, args ...any) *aciError {
	return &aciError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// asACIError extracts the *aciError from err, if any.
func asACIError(err error) (*aciError, bool) {
	e, ok := err.(*aciError)
	return e, ok
}
