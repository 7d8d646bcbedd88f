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
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedCompiler memoizes compiled predicates by the filter's canonical form.
type CachedCompiler struct {
	compiler *Compiler
	cache    *lru.Cache[string, *Predicate]
}

// NewCachedCompiler wraps c with an LRU of the given size.
func NewCachedCompiler(c *Compiler, size int) (*CachedCompiler, error) {
	cache, err := lru.New[string, *Predicate](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create predicate cache: %w", err)
	}
	return &CachedCompiler{compiler: c, cache: cache}, nil
}

// Compile returns a private copy of the cached predicate, compiling on miss.
// Failed compilations are not cached.
func (c *CachedCompiler) Compile(f Filter) (*Predicate, error) {
	if f.IsEmpty() {
		return nil, nil
	}
	key := canonicalKey(f)
	if p, ok := c.cache.Get(key); ok {
		return p.Clone(), nil
	}
	p, err := c.compiler.Compile(f)
	if err != nil || p == nil {
		return p, err
	}
	c.cache.Add(key, p)
	return p.Clone(), nil
}

// Len returns the number of cached predicates.
func (c *CachedCompiler) Len() int { return c.cache.Len() }

// canonicalKey writes v with its dynamic types so that 1 and "1" differ and
// map keys appear in sorted order. Strings are quoted so a value cannot
// imitate the encoding of other entries, and pointers are followed so the
// key never depends on an address.
func canonicalKey(v interface{}) string {
	var b strings.Builder
	writeKey(&b, reflect.ValueOf(v))
	return b.String()
}

func writeKey(b *strings.Builder, rv reflect.Value) {
	if !rv.IsValid() {
		b.WriteString("nil")
		return
	}
	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			b.WriteString("nil")
			return
		}
		if rv.Kind() == reflect.Pointer {
			b.WriteByte('&')
		}
		writeKey(b, rv.Elem())
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		byKey := make(map[string]reflect.Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			keys = append(keys, k)
			byKey[k] = iter.Value()
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for _, k := range keys {
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeKey(b, byKey[k])
			b.WriteByte(',')
		}
		b.WriteByte('}')
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			fmt.Fprintf(b, "%s:%x", rv.Type(), rv.Interface())
			return
		}
		b.WriteByte('[')
		for i := 0; i < rv.Len(); i++ {
			writeKey(b, rv.Index(i))
			b.WriteByte(',')
		}
		b.WriteByte(']')
	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				writeScalar(b, rv)
				return
			}
		}
		b.WriteString(t.String())
		b.WriteByte('{')
		for i := 0; i < t.NumField(); i++ {
			b.WriteString(strconv.Quote(t.Field(i).Name))
			b.WriteByte(':')
			writeKey(b, rv.Field(i))
			b.WriteByte(',')
		}
		b.WriteByte('}')
	default:
		writeScalar(b, rv)
	}
}

func writeScalar(b *strings.Builder, rv reflect.Value) {
	b.WriteString(rv.Type().String())
	b.WriteByte(':')
	b.WriteString(strconv.Quote(fmt.Sprint(rv.Interface())))
}
