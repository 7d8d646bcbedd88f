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
	"github.com/tomoncle/tabula/types"
)

// KeyType is the logical type of a primary key column.
type KeyType string

const (
	KeyNumber KeyType = "NUMBER"
	KeyString KeyType = "STRING"
)

// PrimaryKey names the key column and its logical type. A zero PrimaryKey
// means the table has none.
type PrimaryKey struct {
	Column string  `json:"column"`
	Type   KeyType `json:"type"`
}

// Schema is the validated catalog description of one table.
type Schema struct {
	Database   string     `json:"database"`
	Name       string     `json:"name"`
	Columns    []string   `json:"columns"`
	PrimaryKey PrimaryKey `json:"primary_key"`
}

// Validate checks the invariants a Table relies on.
func (s Schema) Validate() error {
	if s.Name == "" {
		return types.Errorf(types.KindInvalidArgument, "table name is empty")
	}
	if len(s.Columns) == 0 {
		return types.Errorf(types.KindInvalidArgument, "table %s has no columns", s.Name)
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if c == "" {
			return types.Errorf(types.KindInvalidArgument, "table %s has an unnamed column", s.Name)
		}
		if _, dup := seen[c]; dup {
			return types.Errorf(types.KindInvalidArgument, "table %s lists column %s twice", s.Name, c)
		}
		seen[c] = struct{}{}
	}
	if s.PrimaryKey.Column != "" {
		if _, ok := seen[s.PrimaryKey.Column]; !ok {
			return types.Errorf(types.KindInvalidArgument, "primary key %s is not a column of %s", s.PrimaryKey.Column, s.Name)
		}
		if s.PrimaryKey.Type != KeyNumber && s.PrimaryKey.Type != KeyString {
			return types.Errorf(types.KindInvalidArgument, "primary key %s.%s has unknown type %q", s.Name, s.PrimaryKey.Column, s.PrimaryKey.Type)
		}
	}
	return nil
}

// Table is the immutable metadata of one introspected table. All accessors
// are safe for concurrent use.
type Table struct {
	schema    Schema
	columnSet map[string]struct{}
	pulse     *Pulse
}

// New validates s and builds a Table. The pulse is only allocated when
// enablePulse is set; otherwise emitting is a no-op.
func New(s Schema, enablePulse bool) (*Table, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	cols := make([]string, len(s.Columns))
	copy(cols, s.Columns)
	s.Columns = cols

	t := &Table{
		schema:    s,
		columnSet: make(map[string]struct{}, len(cols)),
	}
	for _, c := range cols {
		t.columnSet[c] = struct{}{}
	}
	if enablePulse {
		t.pulse = newPulse()
	}
	return t, nil
}

func (t *Table) Name() string { return t.schema.Name }

func (t *Table) Database() string { return t.schema.Database }

// Columns returns a copy of the column names in catalog order.
func (t *Table) Columns() []string {
	cols := make([]string, len(t.schema.Columns))
	copy(cols, t.schema.Columns)
	return cols
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.columnSet[name]
	return ok
}

func (t *Table) PrimaryKey() PrimaryKey { return t.schema.PrimaryKey }

func (t *Table) HasPrimaryKey() bool { return t.schema.PrimaryKey.Column != "" }

// OrderColumn is the column used for deterministic pagination: the primary
// key, or the first column when the table has no key.
func (t *Table) OrderColumn() string {
	if t.HasPrimaryKey() {
		return t.schema.PrimaryKey.Column
	}
	return t.schema.Columns[0]
}

// Schema returns a copy of the table's schema.
func (t *Table) Schema() Schema {
	s := t.schema
	s.Columns = t.Columns()
	return s
}

// PulseEnabled reports whether CRUD notifications are emitted for this table.
func (t *Table) PulseEnabled() bool { return t.pulse != nil }

// Subscribe registers fn for events of the given kind.
func (t *Table) Subscribe(kind EventKind, fn Listener) (*Subscription, error) {
	if t.pulse == nil {
		return nil, types.Errorf(types.KindInvalidArgument, "pulse is disabled for table %s", t.schema.Name).
			WithTable(t.schema.Database, t.schema.Name)
	}
	if !kind.valid() {
		return nil, types.Errorf(types.KindInvalidArgument, "unknown event kind %q", kind)
	}
	if fn == nil {
		return nil, types.Errorf(types.KindInvalidArgument, "listener is nil")
	}
	return t.pulse.subscribe(kind, fn), nil
}

// Emit delivers rows to the listeners of kind. It does nothing when the
// pulse is disabled.
func (t *Table) Emit(kind EventKind, rows []types.Row, query QueryContext) {
	if t.pulse == nil {
		return
	}
	t.pulse.publish(Event{
		Kind:     kind,
		Database: t.schema.Database,
		Table:    t.schema.Name,
		Rows:     rows,
		Query:    query,
	})
}
