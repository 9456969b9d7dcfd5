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

// Package aciserver implements the ACI server: a small networked
// key-value database that speaks a JSON request/response protocol over
// WebSocket and raw TCP.
//
// Clients authenticate against either a local, token-based domain or an
// external OIDC identity provider, and then operate on named databases,
// each a string-to-JSON-value mapping. Some values hold ordered sequences
// and support positional and append operations. The server also routes
// application-level "events" between currently connected, authenticated
// users.
//
// The entry point for embedding is Server, constructed with NewServer
// from a ServerConfig. Server.Start begins accepting connections on the
// configured transports; Server.Stop drains them. The code in
// cmd/aciserver is a good example of how to use Server.
package aciserver
