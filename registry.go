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

package tabula

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/tomoncle/tabula/database"
	"github.com/tomoncle/tabula/types"
)

// Registry holds one connected Engine per database name. Callers create
// and pass it around explicitly.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine
}

func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*Engine)}
}

// Open connects an engine for cfg and registers it under cfg.DBName. An
// engine already registered under that name is returned as is.
func (r *Registry) Open(ctx context.Context, cfg *database.ConnectionConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, types.Errorf(types.KindInvalidArgument, "database configuration cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[cfg.DBName]; ok {
		return e, nil
	}
	e, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := e.Connect(ctx); err != nil {
		return nil, err
	}
	r.engines[e.Name()] = e
	return e, nil
}

// Register adds an engine built elsewhere. Names are unique.
func (r *Registry) Register(e *Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[e.Name()]; ok {
		return types.Errorf(types.KindInvalidArgument, "engine %s is already registered", e.Name())
	}
	r.engines[e.Name()] = e
	return nil
}

// Engine returns the engine of the named database, NotConnected if there
// is none.
func (r *Registry) Engine(name string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	if !ok {
		return nil, types.Errorf(types.KindNotConnected, "database %s is not connected", name).
			WithTable(name, "")
	}
	return e, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close disconnects and unregisters the named engine.
func (r *Registry) Close(name string) error {
	r.mu.Lock()
	e, ok := r.engines[name]
	delete(r.engines, name)
	r.mu.Unlock()
	if !ok {
		return types.Errorf(types.KindNotConnected, "database %s is not connected", name).
			WithTable(name, "").WithOperation("disconnect")
	}
	return e.Disconnect()
}

// CloseAll disconnects every engine and joins their errors.
func (r *Registry) CloseAll() error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.Close(name); err != nil && !types.IsKind(err, types.KindNotConnected) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
