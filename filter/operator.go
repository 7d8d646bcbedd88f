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

// Operator is a key of an operator map.
type Operator string

const (
	OpEq       Operator = "$eq"       // field = value
	OpNeq      Operator = "$neq"      // field <> value
	OpLt       Operator = "$lt"       // field < value
	OpLte      Operator = "$lte"      // field <= value
	OpGt       Operator = "$gt"       // field > value
	OpGte      Operator = "$gte"      // field >= value
	OpIn       Operator = "$in"       // field IN (values)
	OpNin      Operator = "$nin"      // field NOT IN (values)
	OpLike     Operator = "$like"     // field LIKE pattern
	OpMatch    Operator = "$match"    // alias of $like
	OpNlike    Operator = "$nlike"    // field NOT LIKE pattern
	OpBetween  Operator = "$between"  // field BETWEEN a AND b
	OpNbetween Operator = "$nbetween" // field NOT BETWEEN a AND b
	OpIsNull   Operator = "$isNull"   // field IS [NOT] NULL
)

// SearchKey is the element-level key of the global search shorthand.
const SearchKey = "$q"

// compileOrder is the order in which the operators of one field are emitted.
var compileOrder = []Operator{
	OpIn, OpNin,
	OpEq, OpNeq,
	OpLike, OpMatch, OpNlike,
	OpLt, OpLte, OpGt, OpGte,
	OpBetween, OpNbetween,
	OpIsNull,
}

var vocabulary = func() map[Operator]struct{} {
	m := make(map[Operator]struct{}, len(compileOrder))
	for _, op := range compileOrder {
		m[op] = struct{}{}
	}
	return m
}()

// IsOperator reports whether key belongs to the operator vocabulary.
func IsOperator(key string) bool {
	_, ok := vocabulary[Operator(key)]
	return ok
}

// Operators returns the vocabulary in compile order.
func Operators() []Operator {
	ops := make([]Operator, len(compileOrder))
	copy(ops, compileOrder)
	return ops
}
