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

package types

import (
	"encoding/json"
	"sort"
)

// Row is one (possibly partial) table row keyed by column name or alias.
type Row map[string]interface{}

// Keys returns the row's keys in ascending order.
func (r Row) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Int64 reads an integer-valued column regardless of the driver's scan type.
func (r Row) Int64(key string) (int64, bool) {
	switch v := r[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	case int8:
		return int64(v), true
	case uint64:
		return int64(v), true
	case uint32:
		return int64(v), true
	case float64:
		return int64(v), v == float64(int64(v))
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// String reads a string-valued column.
func (r Row) String(key string) (string, bool) {
	switch v := r[key].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// RowsFromMaps converts scanned maps into rows, decoding []byte values
// into strings the way text columns are expected to be read.
func RowsFromMaps(maps []map[string]interface{}) []Row {
	rows := make([]Row, 0, len(maps))
	for _, m := range maps {
		row := make(Row, len(m))
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[k] = v
		}
		rows = append(rows, row)
	}
	return rows
}

// ParseRows decodes a JSON object or array of objects into rows.
func ParseRows(data []byte) ([]Row, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, Errorf(KindInvalidArgument, "invalid row payload: %v", err)
	}
	switch v := raw.(type) {
	case map[string]interface{}:
		return []Row{v}, nil
	case []interface{}:
		rows := make([]Row, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, Errorf(KindInvalidArgument, "row %d is not an object", i)
			}
			rows = append(rows, m)
		}
		return rows, nil
	default:
		return nil, Errorf(KindInvalidArgument, "row payload must be an object or an array of objects")
	}
}
