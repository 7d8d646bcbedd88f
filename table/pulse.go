/*
 * Copyright 2025 tomoncle.
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

package table

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tomoncle/tabula/types"
)

// EventKind identifies the CRUD operation a notification reports.
type EventKind string

const (
	EventSelected EventKind = "selected"
	EventInserted EventKind = "inserted"
	EventUpdated  EventKind = "updated"
	EventDeleted  EventKind = "deleted"
)

func (k EventKind) valid() bool {
	switch k {
	case EventSelected, EventInserted, EventUpdated, EventDeleted:
		return true
	}
	return false
}

// QueryContext records the statement that produced an event.
type QueryContext struct {
	Method string        `json:"method"`
	Query  string        `json:"query"`
	Args   []interface{} `json:"args"`
}

// Event is one CRUD notification.
type Event struct {
	Kind     EventKind    `json:"kind"`
	Database string       `json:"database"`
	Table    string       `json:"table"`
	Rows     []types.Row  `json:"rows"`
	Query    QueryContext `json:"query"`
	At       time.Time    `json:"at"`
}

// Listener receives events synchronously on the goroutine that ran the
// operation.
type Listener func(Event)

type listenerEntry struct {
	id uuid.UUID
	fn Listener
}

// Pulse fans CRUD events out to per-kind listeners in subscription order.
type Pulse struct {
	mu        sync.RWMutex
	listeners map[EventKind][]listenerEntry
}

func newPulse() *Pulse {
	return &Pulse{listeners: make(map[EventKind][]listenerEntry)}
}

func (p *Pulse) subscribe(kind EventKind, fn Listener) *Subscription {
	id := uuid.New()
	p.mu.Lock()
	p.listeners[kind] = append(p.listeners[kind], listenerEntry{id: id, fn: fn})
	p.mu.Unlock()
	return &Subscription{id: id, kind: kind, pulse: p}
}

func (p *Pulse) unsubscribe(kind EventKind, id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := p.listeners[kind]
	for i, e := range entries {
		if e.id == id {
			next := make([]listenerEntry, 0, len(entries)-1)
			next = append(next, entries[:i]...)
			next = append(next, entries[i+1:]...)
			p.listeners[kind] = next
			return true
		}
	}
	return false
}

func (p *Pulse) publish(ev Event) {
	p.mu.RLock()
	entries := p.listeners[ev.Kind]
	p.mu.RUnlock()
	if len(entries) == 0 {
		return
	}
	ev.At = time.Now()
	for _, e := range entries {
		e.fn(ev)
	}
}

// Subscription is the handle returned by Table.Subscribe.
type Subscription struct {
	id    uuid.UUID
	kind  EventKind
	pulse *Pulse
	once  sync.Once
}

func (s *Subscription) ID() uuid.UUID { return s.id }

func (s *Subscription) Kind() EventKind { return s.kind }

// Unsubscribe removes the listener. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.pulse.unsubscribe(s.kind, s.id) })
}
