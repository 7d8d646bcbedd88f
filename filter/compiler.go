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
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/tomoncle/tabula/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/schema"
)

// Predicate is a compiled boolean expression. Query uses bun's "?"
// placeholders; identifiers and values are always carried in Args.
type Predicate struct {
	Query string
	Args  []interface{}
}

// Clone returns a copy whose Args can be appended to safely.
func (p *Predicate) Clone() *Predicate {
	if p == nil {
		return nil
	}
	args := make([]interface{}, len(p.Args))
	copy(args, p.Args)
	return &Predicate{Query: p.Query, Args: args}
}

// Expr returns the predicate as a query appender usable as a bun argument.
func (p *Predicate) Expr() schema.QueryAppender {
	return schema.SafeQuery(p.Query, p.Args)
}

// Params returns the bound values in placeholder order, with IN lists
// flattened and identifiers left out.
func (p *Predicate) Params() []interface{} {
	if p == nil {
		return nil
	}
	return paramsOf(p.Args)
}

func paramsOf(args []interface{}) []interface{} {
	params := make([]interface{}, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case bun.Ident:
		case valueList:
			params = append(params, v...)
		default:
			params = append(params, v)
		}
	}
	return params
}

// ParamsOf is Params for an arbitrary argument list.
func ParamsOf(args []interface{}) []interface{} { return paramsOf(args) }

// valueList renders as a comma separated list of bound values.
type valueList []interface{}

func (l valueList) AppendQuery(fmter schema.Formatter, b []byte) ([]byte, error) {
	return bun.In([]interface{}(l)).AppendQuery(fmter, b)
}

// List wraps values for use with an "IN (?)" placeholder.
func List(values []interface{}) schema.QueryAppender { return valueList(values) }

// PredicateCompiler is implemented by Compiler and CachedCompiler.
type PredicateCompiler interface {
	Compile(f Filter) (*Predicate, error)
}

// Compiler translates filters into predicates over one table's columns.
//
// Elements of a Filter are OR-ed. Fields inside one element are AND-ed, for
// direct-equality and operator-map elements alike. Operators of one field
// are AND-ed in compile order.
type Compiler struct {
	columns  []string
	known    map[string]struct{}
	textCast string
}

// NewCompiler returns a compiler validating field names against columns.
// With no columns every field name is accepted and $q needs explicit fields.
func NewCompiler(columns []string, name dialect.Name) *Compiler {
	c := &Compiler{
		columns:  append([]string(nil), columns...),
		known:    make(map[string]struct{}, len(columns)),
		textCast: "TEXT",
	}
	for _, col := range columns {
		c.known[col] = struct{}{}
	}
	if name == dialect.MySQL {
		c.textCast = "CHAR"
	}
	return c
}

// Compile returns nil when the filter constrains nothing.
func (c *Compiler) Compile(f Filter) (*Predicate, error) {
	parts := make([]*Predicate, 0, len(f))
	matchAll := false
	for _, e := range f {
		p, err := c.CompileElement(e)
		if err != nil {
			return nil, err
		}
		if p == nil {
			// an empty alternative matches every row
			matchAll = true
			continue
		}
		parts = append(parts, p)
	}
	if matchAll || len(parts) == 0 {
		return nil, nil
	}
	return join(parts, " OR "), nil
}

// CompileElement compiles one element on its own.
func (c *Compiler) CompileElement(e Element) (*Predicate, error) {
	complexElem := e.IsComplex()
	parts := make([]*Predicate, 0, len(e))
	for _, field := range e.Fields() {
		if err := c.checkField(field); err != nil {
			return nil, err
		}
		v := e[field]
		if m, ok := asMap(v); ok && complexElem && isOperatorMap(m) {
			p, err := c.compileOps(field, m)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
			continue
		}
		p, err := c.compileEquals(field, v)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	if q, ok := e[SearchKey]; ok {
		p, err := c.compileSearch(q)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return join(parts, " AND "), nil
}

func (c *Compiler) checkField(field string) error {
	if field == "" {
		return types.Errorf(types.KindInvalidFilter, "empty field name")
	}
	if strings.HasPrefix(field, "$") {
		return types.Errorf(types.KindInvalidFilter, "unsupported element operator %q", field)
	}
	if len(c.known) == 0 {
		return nil
	}
	if _, ok := c.known[field]; !ok {
		return types.Errorf(types.KindColumnNotFound, "unknown column %q", field)
	}
	return nil
}

func (c *Compiler) compileEquals(field string, v interface{}) (*Predicate, error) {
	if m, ok := asMap(v); ok {
		for k := range m {
			if strings.HasPrefix(k, "$") && !IsOperator(k) {
				return nil, types.Errorf(types.KindInvalidFilter, "unknown operator %q on field %q", k, field)
			}
		}
		return nil, types.Errorf(types.KindInvalidFilter, "field %q mixes operators and plain keys", field)
	}
	v, err := scalar(field, v)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return &Predicate{Query: "? IS NULL", Args: []interface{}{bun.Ident(field)}}, nil
	}
	return &Predicate{Query: "? = ?", Args: []interface{}{bun.Ident(field), v}}, nil
}

func (c *Compiler) compileOps(field string, ops map[string]interface{}) (*Predicate, error) {
	col := bun.Ident(field)
	parts := make([]*Predicate, 0, len(ops))
	for _, op := range compileOrder {
		raw, ok := ops[string(op)]
		if !ok {
			continue
		}
		var p *Predicate
		switch op {
		case OpIn, OpNin:
			list, err := toList(field, op, raw)
			if err != nil {
				return nil, err
			}
			switch {
			case len(list) == 0 && op == OpIn:
				p = &Predicate{Query: "1 = 0"}
			case len(list) == 0:
				p = &Predicate{Query: "1 = 1"}
			case op == OpIn:
				p = &Predicate{Query: "? IN (?)", Args: []interface{}{col, valueList(list)}}
			default:
				p = &Predicate{Query: "? NOT IN (?)", Args: []interface{}{col, valueList(list)}}
			}
		case OpEq, OpNeq:
			v, err := scalar(field, raw)
			if err != nil {
				return nil, err
			}
			switch {
			case v == nil && op == OpEq:
				p = &Predicate{Query: "? IS NULL", Args: []interface{}{col}}
			case v == nil:
				p = &Predicate{Query: "? IS NOT NULL", Args: []interface{}{col}}
			case op == OpEq:
				p = &Predicate{Query: "? = ?", Args: []interface{}{col, v}}
			default:
				p = &Predicate{Query: "? <> ?", Args: []interface{}{col, v}}
			}
		case OpLike, OpMatch, OpNlike:
			v, err := operand(field, op, raw)
			if err != nil {
				return nil, err
			}
			query := "? LIKE ?"
			if op == OpNlike {
				query = "? NOT LIKE ?"
			}
			p = &Predicate{Query: query, Args: []interface{}{col, likePattern(v)}}
		case OpLt, OpLte, OpGt, OpGte:
			v, err := operand(field, op, raw)
			if err != nil {
				return nil, err
			}
			p = &Predicate{Query: "? " + comparison[op] + " ?", Args: []interface{}{col, v}}
		case OpBetween, OpNbetween:
			lo, hi, err := toRange(field, op, raw)
			if err != nil {
				return nil, err
			}
			query := "? BETWEEN ? AND ?"
			if op == OpNbetween {
				query = "? NOT BETWEEN ? AND ?"
			}
			p = &Predicate{Query: query, Args: []interface{}{col, lo, hi}}
		case OpIsNull:
			isNull, ok := raw.(bool)
			if !ok {
				return nil, types.Errorf(types.KindInvalidFilter, "%s on field %q expects a boolean", op, field)
			}
			if isNull {
				p = &Predicate{Query: "? IS NULL", Args: []interface{}{col}}
			} else {
				p = &Predicate{Query: "? IS NOT NULL", Args: []interface{}{col}}
			}
		}
		parts = append(parts, p)
	}
	return join(parts, " AND "), nil
}

var comparison = map[Operator]string{
	OpLt:  "<",
	OpLte: "<=",
	OpGt:  ">",
	OpGte: ">=",
}

func (c *Compiler) compileSearch(raw interface{}) (*Predicate, error) {
	var (
		fields []string
		value  interface{}
		err    error
	)
	switch s := raw.(type) {
	case Search:
		fields, value = s.Fields, s.Value
	case *Search:
		if s == nil {
			return nil, types.Errorf(types.KindInvalidFilter, "%s is nil", SearchKey)
		}
		fields, value = s.Fields, s.Value
	default:
		if m, ok := asMap(raw); ok {
			value = m["value"]
			fields, err = toFieldList(m["selectedFields"])
			if err != nil {
				return nil, err
			}
		} else {
			value = raw
		}
	}
	value, err = scalar(SearchKey, value)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, types.Errorf(types.KindInvalidFilter, "%s needs a value", SearchKey)
	}
	if len(fields) == 0 {
		fields = c.columns
	}
	if len(fields) == 0 {
		return nil, types.Errorf(types.KindInvalidFilter, "%s has no fields to search", SearchKey)
	}
	pattern := "%" + stringify(value) + "%"
	parts := make([]*Predicate, 0, len(fields))
	for _, field := range fields {
		if err := c.checkField(field); err != nil {
			return nil, err
		}
		parts = append(parts, &Predicate{
			Query: "CAST(? AS " + c.textCast + ") LIKE ?",
			Args:  []interface{}{bun.Ident(field), pattern},
		})
	}
	return join(parts, " OR "), nil
}

// join combines parts with sep, parenthesizing each when there are several.
func join(parts []*Predicate, sep string) *Predicate {
	if len(parts) == 1 {
		return parts[0]
	}
	var b strings.Builder
	var args []interface{}
	for i, p := range parts {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteByte('(')
		b.WriteString(p.Query)
		b.WriteByte(')')
		args = append(args, p.Args...)
	}
	return &Predicate{Query: b.String(), Args: args}
}

// likePattern turns * into % and makes patterns without wildcards match
// as substrings.
func likePattern(v interface{}) string {
	s := strings.ReplaceAll(stringify(v), "*", "%")
	if !strings.Contains(s, "%") {
		s = "%" + s + "%"
	}
	return s
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// normalize converts decoded JSON numbers into int64 or float64.
func normalize(v interface{}) interface{} {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func isList(v interface{}) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	t := reflect.TypeOf(v)
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		// byte arrays such as UUIDs are values, not lists
		return t.Elem().Kind() != reflect.Uint8
	}
	return false
}

// scalar accepts nil, strings, numbers, booleans, times and byte slices.
func scalar(field string, v interface{}) (interface{}, error) {
	v = normalize(v)
	if _, ok := asMap(v); ok || isList(v) {
		return nil, types.Errorf(types.KindInvalidFilter, "field %q expects a single value, use $in for lists", field)
	}
	if v != nil {
		switch reflect.TypeOf(v).Kind() {
		case reflect.Map, reflect.Struct, reflect.Func, reflect.Chan:
			if !isValueType(v) {
				return nil, types.Errorf(types.KindInvalidFilter, "field %q has unsupported value type %T", field, v)
			}
		}
	}
	return v, nil
}

func isValueType(v interface{}) bool {
	switch v.(type) {
	case time.Time, driver.Valuer:
		return true
	}
	return false
}

func operand(field string, op Operator, v interface{}) (interface{}, error) {
	v, err := scalar(field, v)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, types.Errorf(types.KindInvalidFilter, "%s on field %q needs a value", op, field)
	}
	return v, nil
}

func toList(field string, op Operator, v interface{}) ([]interface{}, error) {
	if v == nil {
		return nil, types.Errorf(types.KindInvalidFilter, "%s on field %q needs a list", op, field)
	}
	if !isList(v) {
		x, err := operand(field, op, v)
		if err != nil {
			return nil, err
		}
		return []interface{}{x}, nil
	}
	rv := reflect.ValueOf(v)
	list := make([]interface{}, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		x, err := operand(field, op, rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		list = append(list, x)
	}
	return list, nil
}

func toRange(field string, op Operator, v interface{}) (interface{}, interface{}, error) {
	if !isList(v) || reflect.ValueOf(v).Len() != 2 {
		return nil, nil, types.Errorf(types.KindInvalidFilter, "%s on field %q expects [low, high]", op, field)
	}
	rv := reflect.ValueOf(v)
	lo, err := operand(field, op, rv.Index(0).Interface())
	if err != nil {
		return nil, nil, err
	}
	hi, err := operand(field, op, rv.Index(1).Interface())
	if err != nil {
		return nil, nil, err
	}
	return lo, hi, nil
}

func toFieldList(v interface{}) ([]string, error) {
	switch f := v.(type) {
	case nil:
		return nil, nil
	case string:
		if f == "" || f == "*" {
			return nil, nil
		}
		return []string{f}, nil
	case []string:
		return f, nil
	case []interface{}:
		fields := make([]string, 0, len(f))
		for _, x := range f {
			s, ok := x.(string)
			if !ok {
				return nil, types.Errorf(types.KindInvalidFilter, "%s selectedFields must be strings", SearchKey)
			}
			fields = append(fields, s)
		}
		return fields, nil
	}
	return nil, types.Errorf(types.KindInvalidFilter, "%s selectedFields must be a string or a list of strings", SearchKey)
}
