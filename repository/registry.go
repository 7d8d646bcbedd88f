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
	"sort"
	"sync"

	"github.com/tomoncle/tabula/types"
)

// Factory builds a specialized repository on top of the generic one.
type Factory func(base *Base) Repository

// FactoryRegistry maps table names to repository factories. Each table can
// be registered once.
type FactoryRegistry struct {
	factories map[string]Factory
	mutex     sync.RWMutex
}

func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{factories: make(map[string]Factory)}
}

func (r *FactoryRegistry) Register(tableName string, factory Factory) error {
	if tableName == "" || factory == nil {
		return types.Errorf(types.KindInvalidArgument, "repository factory needs a table name and a constructor")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.factories[tableName]; ok {
		return types.Errorf(types.KindInvalidArgument, "repository factory for %s is already registered", tableName)
	}
	r.factories[tableName] = factory
	return nil
}

func (r *FactoryRegistry) Resolve(tableName string) (Factory, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	f, ok := r.factories[tableName]
	return f, ok
}

// Build returns the registered repository for the base's table, or base
// itself when none is registered or the factory returns nil.
func (r *FactoryRegistry) Build(base *Base) Repository {
	if f, ok := r.Resolve(base.Table().Name()); ok {
		if repo := f(base); repo != nil {
			return repo
		}
	}
	return base
}

// Tables returns the registered table names in ascending order.
func (r *FactoryRegistry) Tables() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
