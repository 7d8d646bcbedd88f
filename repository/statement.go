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

package repository

import (
	"strings"

	"github.com/tomoncle/tabula/filter"
	"github.com/tomoncle/tabula/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// statement accumulates a bun query template. Identifiers and values only
// ever enter through args.
type statement struct {
	b    strings.Builder
	args []interface{}
}

func (s *statement) raw(text string) *statement {
	s.b.WriteString(text)
	return s
}

func (s *statement) ident(name string) *statement {
	s.b.WriteByte('?')
	s.args = append(s.args, bun.Ident(name))
	return s
}

func (s *statement) idents(names []string) *statement {
	for i, n := range names {
		if i > 0 {
			s.b.WriteString(", ")
		}
		s.ident(n)
	}
	return s
}

// value binds a column value. Nested objects and lists become JSON text.
func (s *statement) value(v interface{}) *statement {
	s.b.WriteByte('?')
	s.args = append(s.args, types.BindValue(v))
	return s
}

// where appends a WHERE clause; a nil predicate matches every row.
func (s *statement) where(p *filter.Predicate) *statement {
	if p == nil {
		return s.raw(" WHERE 1 = 1")
	}
	s.b.WriteString(" WHERE (")
	s.b.WriteString(p.Query)
	s.b.WriteByte(')')
	s.args = append(s.args, p.Args...)
	return s
}

func (s *statement) projection(p filter.Projection) *statement {
	query, args := p.Template()
	s.b.WriteString(query)
	s.args = append(s.args, args...)
	return s
}

func (s *statement) query() string { return s.b.String() }

// text renders the statement the way it is sent to the database.
func (s *statement) text(d schema.Dialect) string {
	return schema.NewFormatter(d).FormatQuery(s.b.String(), s.args...)
}

func (s *statement) params() []interface{} { return filter.ParamsOf(s.args) }
