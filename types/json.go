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
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JsonObject binds a nested object as JSON text.
type JsonObject map[string]interface{}

// JsonArray binds a nested list as JSON text.
type JsonArray []interface{}

// Value implements driver.Valuer for JsonObject.
func (j JsonObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]interface{}(j))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JsonObject.
func (j *JsonObject) Scan(value interface{}) error {
	b, err := jsonBytes(value)
	if err != nil || b == nil {
		*j = make(JsonObject)
		return err
	}
	return json.Unmarshal(b, j)
}

// Value implements driver.Valuer for JsonArray.
func (j JsonArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal([]interface{}(j))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JsonArray.
func (j *JsonArray) Scan(value interface{}) error {
	b, err := jsonBytes(value)
	if err != nil || b == nil {
		*j = make(JsonArray, 0)
		return err
	}
	return json.Unmarshal(b, j)
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, errors.New("json column must scan from []byte or string")
}

// BindValue wraps the nested objects and lists of decoded row payloads so
// they are written as JSON text. Other values are returned unchanged.
func BindValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return JsonObject(x)
	case Row:
		return JsonObject(x)
	case []interface{}:
		return JsonArray(x)
	case []map[string]interface{}:
		arr := make(JsonArray, 0, len(x))
		for _, m := range x {
			arr = append(arr, m)
		}
		return arr
	}
	return v
}
