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

package filter

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/tomoncle/tabula/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// Field is one selected column, optionally renamed in the result.
type Field struct {
	Name  string
	Alias string
}

// Key is the name the field carries in result rows.
func (f Field) Key() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// Projection is the set of columns an operation returns. The zero value
// selects every column.
type Projection struct {
	fields []Field
}

// All selects every column.
func All() Projection { return Projection{} }

// Columns selects the named columns. A "*" anywhere selects every column.
func Columns(names ...string) Projection {
	fields := make([]Field, 0, len(names))
	for _, n := range names {
		if n == "*" {
			return All()
		}
		if n != "" {
			fields = append(fields, Field{Name: n})
		}
	}
	return Projection{fields: fields}
}

// Aliased builds a projection from a field -> (bool | alias) map. true keeps
// the field under its own name, a non-empty string renames it, false and ""
// drop it. Fields are ordered by name.
func Aliased(m map[string]interface{}) (Projection, error) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	fields := make([]Field, 0, len(m))
	for _, name := range names {
		f, keep, err := aliasEntry(name, m[name])
		if err != nil {
			return Projection{}, err
		}
		if keep {
			fields = append(fields, f)
		}
	}
	return Projection{fields: fields}, nil
}

func aliasEntry(name string, v interface{}) (Field, bool, error) {
	if name == "" {
		return Field{}, false, nil
	}
	switch a := v.(type) {
	case bool:
		return Field{Name: name}, a, nil
	case string:
		a = strings.TrimSpace(a)
		return Field{Name: name, Alias: a}, a != "", nil
	case nil:
		return Field{}, false, nil
	}
	return Field{}, false, types.Errorf(types.KindInvalidArgument, "selected field %q must map to a boolean or an alias", name)
}

// ProjectionOf accepts the decoded forms of a selected-fields value: "*",
// a field name, a list of names and alias maps, or one alias map.
func ProjectionOf(v interface{}) (Projection, error) {
	switch s := v.(type) {
	case nil:
		return All(), nil
	case Projection:
		return s, nil
	case string:
		return Columns(s), nil
	case []string:
		return Columns(s...), nil
	case map[string]interface{}:
		return Aliased(s)
	case []interface{}:
		var fields []Field
		for _, item := range s {
			switch x := item.(type) {
			case string:
				if x == "*" {
					return All(), nil
				}
				if x != "" {
					fields = append(fields, Field{Name: x})
				}
			case map[string]interface{}:
				p, err := Aliased(x)
				if err != nil {
					return Projection{}, err
				}
				fields = append(fields, p.fields...)
			default:
				return Projection{}, types.Errorf(types.KindInvalidArgument, "unsupported selected field entry %v", item)
			}
		}
		return Projection{fields: fields}, nil
	}
	return Projection{}, types.Errorf(types.KindInvalidArgument, "unsupported selected fields %T", v)
}

// ParseProjection decodes a JSON selected-fields value.
func ParseProjection(data []byte) (Projection, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return All(), nil
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Projection{}, types.Errorf(types.KindInvalidArgument, "malformed selected fields: %v", err)
	}
	return ProjectionOf(raw)
}

func (p Projection) IsAll() bool { return len(p.fields) == 0 }

// Fields returns the selected fields in order.
func (p Projection) Fields() []Field {
	fields := make([]Field, len(p.fields))
	copy(fields, p.fields)
	return fields
}

// Validate checks every selected field against has.
func (p Projection) Validate(has func(string) bool) error {
	for _, f := range p.fields {
		if !has(f.Name) {
			return types.Errorf(types.KindColumnNotFound, "unknown column %q", f.Name)
		}
	}
	return nil
}

// Template renders the column list as a bun query template and its args.
func (p Projection) Template() (string, []interface{}) {
	if p.IsAll() {
		return "*", nil
	}
	var b strings.Builder
	args := make([]interface{}, 0, len(p.fields)*2)
	for i, f := range p.fields {
		if i > 0 {
			b.WriteString(", ")
		}
		if f.Alias != "" {
			b.WriteString("? AS ?")
			args = append(args, bun.Ident(f.Name), bun.Ident(f.Alias))
			continue
		}
		b.WriteString("?")
		args = append(args, bun.Ident(f.Name))
	}
	return b.String(), args
}

// Expr returns the column list as a bun query appender.
func (p Projection) Expr() schema.QueryAppender {
	query, args := p.Template()
	return schema.SafeQuery(query, args)
}
