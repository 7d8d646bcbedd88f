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

	"github.com/tomoncle/tabula/types"
)

// Ops is an operator map, e.g. Ops{"$gte": 18, "$lt": 65}.
type Ops map[string]interface{}

// Search is the typed form of the $q shorthand. An empty Fields list
// searches every column of the table.
type Search struct {
	Fields []string
	Value  interface{}
}

// Element is one unit of the filter language: field -> literal for direct
// equality, or field -> operator map.
type Element map[string]interface{}

// Filter is an ordered list of elements combined with OR.
type Filter []Element

// Where is a convenience constructor for a single-element filter.
func Where(e Element) Filter { return Filter{e} }

// Or builds a filter matching any of the given elements.
func Or(elems ...Element) Filter { return Filter(elems) }

// IsEmpty reports whether the filter constrains nothing.
func (f Filter) IsEmpty() bool {
	for _, e := range f {
		if len(e) > 0 {
			return false
		}
	}
	return true
}

// Fields returns the element's field names in ascending order, without $q.
func (e Element) Fields() []string {
	fields := make([]string, 0, len(e))
	for k := range e {
		if k == SearchKey {
			continue
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// IsComplex reports whether any field of e maps to an operator map.
func (e Element) IsComplex() bool {
	for k, v := range e {
		if k == SearchKey {
			continue
		}
		if m, ok := asMap(v); ok && isOperatorMap(m) {
			return true
		}
	}
	return false
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case Ops:
		return m, true
	case map[string]interface{}:
		return m, true
	case Element:
		return m, true
	case types.Row:
		return m, true
	}
	return nil, false
}

func isOperatorMap(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !IsOperator(k) {
			return false
		}
	}
	return true
}

// Parse decodes a JSON filter: one object, or an array of objects.
func Parse(data []byte) (Filter, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, types.Errorf(types.KindInvalidFilter, "malformed filter: %v", err)
	}
	switch v := raw.(type) {
	case map[string]interface{}:
		return Filter{Element(v)}, nil
	case []interface{}:
		f := make(Filter, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, types.Errorf(types.KindInvalidFilter, "filter element %d is not an object", i)
			}
			f = append(f, Element(m))
		}
		return f, nil
	default:
		return nil, types.Errorf(types.KindInvalidFilter, "filter must be an object or an array of objects")
	}
}
