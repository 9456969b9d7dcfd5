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
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Conn is the transport-agnostic duplex the hub drives a session over.
// transport_ws.go and transport_tcp.go each provide one implementation;
// the hub never depends on WebSocket or raw-TCP framing directly.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

// outboundQueue is the unbounded outbound-message channel spec.md §4.8
// gives each connection: a writer goroutine pops from it, any number of
// producers (the connection's own reader, or another connection's event
// forward) push to it without ever blocking on a full buffer.
type outboundQueue struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	notify chan struct{}
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{notify: make(chan struct{}, 1)}
}

func (q *outboundQueue) push(msg []byte) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *outboundQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *outboundQueue) pop(ctx context.Context) ([]byte, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// directory maps an authenticated principal's name to the outbound
// queue of the connection it authenticated on, per spec.md §4.8. Entries
// are owned by the connection that installed them and removed when that
// connection closes.
type directory struct {
	mu      sync.RWMutex
	entries map[string]*outboundQueue
}

func newDirectory() *directory {
	return &directory{entries: make(map[string]*outboundQueue)}
}

func (d *directory) register(name string, q *outboundQueue) {
	d.mu.Lock()
	d.entries[name] = q
	d.mu.Unlock()
}

func (d *directory) unregister(name string, q *outboundQueue) {
	d.mu.Lock()
	if d.entries[name] == q {
		delete(d.entries, name)
	}
	d.mu.Unlock()
}

func (d *directory) lookup(name string) (*outboundQueue, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	q, ok := d.entries[name]
	return q, ok
}

// Hub is the connection hub of spec.md §4.8: it owns the directory
// shared by every connection and spawns a reader/writer pair for each
// one Serve is called on.
type Hub struct {
	registry     *Registry
	externalAuth ExternalAuthenticator
	logger       zerolog.Logger
	dir          *directory
}

// NewHub creates a Hub backed by registry, using externalAuth to verify
// g_auth commands on every connection it serves.
func NewHub(registry *Registry, externalAuth ExternalAuthenticator, logger zerolog.Logger) *Hub {
	return &Hub{registry: registry, externalAuth: externalAuth, logger: logger, dir: newDirectory()}
}

// ConnectedCount returns the number of principals currently registered
// in the directory (i.e. with at least one authenticated connection).
func (h *Hub) ConnectedCount() int {
	h.dir.mu.RLock()
	defer h.dir.mu.RUnlock()
	return len(h.dir.entries)
}

// connHandler is the per-connection state the reader and writer
// goroutines share: the session driving command dispatch, the outbound
// queue, and which directory entry (if any) this connection currently
// owns.
type connHandler struct {
	hub            *Hub
	conn           Conn
	session        *Session
	out            *outboundQueue
	registeredName string
	logger         zerolog.Logger
}

// Serve drives one accepted connection until it closes: spawns the
// writer goroutine, runs the reader loop on the calling goroutine, and
// on exit cleans up the directory entry and both goroutines. Blocks
// until the connection is done.
func (h *Hub) Serve(ctx context.Context, conn Conn) error {
	connID := uuid.NewString()
	ch := &connHandler{
		hub:     h,
		conn:    conn,
		session: NewSession(h.registry, h.externalAuth),
		out:     newOutboundQueue(),
		logger:  h.logger.With().Str("conn", connID).Logger(),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	var writeErr error
	go func() {
		defer wg.Done()
		writeErr = ch.writeLoop(ctx)
	}()

	readErr := ch.readLoop(ctx)
	cancel()
	ch.out.close()
	wg.Wait()

	if ch.registeredName != "" {
		h.dir.unregister(ch.registeredName, ch.out)
	}
	ch.logger.Debug().Msg("connection closed")

	if readErr != nil {
		return readErr
	}
	return writeErr
}

func (ch *connHandler) writeLoop(ctx context.Context) error {
	for {
		msg, ok := ch.out.pop(ctx)
		if !ok {
			return nil
		}
		if err := ch.conn.WriteMessage(ctx, msg); err != nil {
			return err
		}
	}
}

func (ch *connHandler) readLoop(ctx context.Context) error {
	for {
		raw, err := ch.conn.ReadMessage(ctx)
		if err != nil {
			return err
		}

		cmds, rawElements, errs, isArray, err := ParseCommandBatch(raw)
		if err != nil {
			ch.logger.Warn().Err(err).Msg("dropping unparseable frame")
			continue
		}

		var results []map[string]any
		for i := range cmds {
			if errs[i] != nil {
				results = append(results, map[string]any{"mode": "error", "msg": errs[i].Error()})
				continue
			}
			cmd := cmds[i]
			if cmd.Cmd == "event" {
				results = ch.handleEvent(cmd, rawElements[i], results)
				continue
			}
			reply := ch.session.Execute(ctx, cmd)
			ch.syncDirectory(cmd)
			if !cmd.NoAck {
				results = append(results, reply)
			}
		}

		ch.emit(results, isArray)
	}
}

// handleEvent implements spec.md §4.8's event routing: the original,
// unmodified JSON of the event command is pushed to its destination's
// outbound queue; the sender gets an ack or error unless no_ack is set.
func (ch *connHandler) handleEvent(cmd *Command, raw []byte, results []map[string]any) []map[string]any {
	destQueue, ok := ch.hub.dir.lookup(cmd.Destination)
	if ok {
		destQueue.push(raw)
		if !cmd.NoAck {
			results = append(results, map[string]any{
				"cmd": "event", "mode": "ack", "event_id": cmd.EventID, "origin": cmd.Origin,
			})
		}
		return results
	}
	if !cmd.NoAck {
		results = append(results, map[string]any{
			"cmd": "event", "mode": "error",
			"msg":      fmt.Sprintf("Unable to connect to user %s", cmd.Destination),
			"event_id": cmd.EventID, "origin": cmd.Origin,
		})
	}
	return results
}

// syncDirectory installs or moves this connection's directory entry
// after an a_auth/g_auth command changes the session's principal.
// Re-authentication under a new name moves the entry rather than
// duplicating it.
func (ch *connHandler) syncDirectory(cmd *Command) {
	if cmd.Cmd != "a_auth" && cmd.Cmd != "g_auth" {
		return
	}
	pr := ch.session.Principal()
	if !pr.isAuthed || pr.name == ch.registeredName {
		return
	}
	if ch.registeredName != "" {
		ch.hub.dir.unregister(ch.registeredName, ch.out)
	}
	ch.hub.dir.register(pr.name, ch.out)
	ch.registeredName = pr.name
}

func (ch *connHandler) emit(results []map[string]any, isArray bool) {
	if len(results) == 0 {
		return
	}
	var data []byte
	var err error
	if isArray {
		data, err = json.Marshal(results)
	} else {
		data, err = json.Marshal(results[0])
	}
	if err != nil {
		ch.logger.Error().Err(err).Msg("failed to encode outbound reply")
		return
	}
	ch.out.push(data)
}
