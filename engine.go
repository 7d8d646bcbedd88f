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
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tomoncle/tabula/database"
	"github.com/tomoncle/tabula/filter"
	"github.com/tomoncle/tabula/repository"
	"github.com/tomoncle/tabula/table"
	"github.com/tomoncle/tabula/types"
)

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger replaces the package logger for the engine, its connection
// manager and its repositories.
func WithLogger(logger database.Logger) Option {
	return func(e *Engine) error {
		if logger != nil {
			e.logger = logger
		}
		return nil
	}
}

// WithMetricsRegisterer registers query metrics on reg instead of the
// prometheus default registerer. Metrics are only collected when
// EnableMetrics is set.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) error {
		e.registerer = reg
		return nil
	}
}

// WithRepositoryFactory installs a specialized repository for tableName.
func WithRepositoryFactory(tableName string, factory repository.Factory) Option {
	return func(e *Engine) error {
		return e.factories.Register(tableName, factory)
	}
}

type entry struct {
	table *table.Table
	base  *repository.Base
	repo  repository.Repository
}

// Engine introspects one database on connect and serves a repository for
// every base table it finds.
type Engine struct {
	config     database.ConnectionConfig
	manager    database.AbstractDatabaseManager
	factories  *repository.FactoryRegistry
	logger     database.Logger
	registerer prometheus.Registerer

	mu        sync.RWMutex
	connected bool
	entries   map[string]*entry
}

// New validates cfg and returns an engine that is not yet connected.
func New(cfg *database.ConnectionConfig, opts ...Option) (*Engine, error) {
	manager, err := database.CreateFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		config:    manager.Config(),
		manager:   manager,
		factories: repository.NewFactoryRegistry(),
		logger:    database.GetLogger(),
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	manager.SetLogger(e.logger)
	if e.registerer != nil {
		manager.SetMetricsRegisterer(e.registerer)
	}
	return e, nil
}

func (e *Engine) Name() string { return e.config.DBName }

func (e *Engine) Manager() database.AbstractDatabaseManager { return e.manager }

// Connect opens the pool and introspects the catalog. Calling it on a
// connected engine does nothing.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connected {
		return nil
	}

	if err := e.manager.Connect(ctx); err != nil {
		return err
	}
	schemas, err := database.Introspect(ctx, e.manager.GetDB(), e.config.DBName)
	if err != nil {
		_ = e.manager.Disconnect()
		return err
	}
	entries, err := e.build(schemas)
	if err != nil {
		_ = e.manager.Disconnect()
		return types.NewError(types.KindConnection, "schema introspection failed", err).
			WithTable(e.config.DBName, "").WithOperation("connect")
	}

	e.entries = entries
	e.connected = true
	e.logger.Info("Schema introspected", "database", e.config.DBName, "tables", len(entries))
	return nil
}

func (e *Engine) build(schemas []table.Schema) (map[string]*entry, error) {
	name := e.manager.GetDB().Dialect().Name()
	entries := make(map[string]*entry, len(schemas))
	for _, s := range schemas {
		t, err := table.New(s, e.config.EnablePulse)
		if err != nil {
			return nil, err
		}
		var compiler filter.PredicateCompiler = filter.NewCompiler(t.Columns(), name)
		if e.config.PredicateCacheSize > 0 {
			cached, err := filter.NewCachedCompiler(filter.NewCompiler(t.Columns(), name), e.config.PredicateCacheSize)
			if err != nil {
				return nil, err
			}
			compiler = cached
		}
		base := repository.New(e.manager, t, compiler)
		base.SetLogger(e.logger)
		entries[t.Name()] = &entry{table: t, base: base, repo: e.factories.Build(base)}
	}
	return entries, nil
}

// Disconnect closes the pool and drops the table registry.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return e.notConnected("disconnect")
	}
	e.connected = false
	e.entries = make(map[string]*entry)
	return e.manager.Disconnect()
}

func (e *Engine) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *Engine) notConnected(op string) error {
	return types.Errorf(types.KindNotConnected, "database %s is not connected", e.config.DBName).
		WithTable(e.config.DBName, "").WithOperation(op)
}

func (e *Engine) lookup(name, op string) (*entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.connected {
		return nil, e.notConnected(op)
	}
	en, ok := e.entries[name]
	if !ok {
		return nil, types.Errorf(types.KindTableNotFound, "table %s does not exist in %s", name, e.config.DBName).
			WithTable(e.config.DBName, name).WithOperation(op)
	}
	return en, nil
}

func (e *Engine) Table(name string) (*table.Table, error) {
	en, err := e.lookup(name, "table")
	if err != nil {
		return nil, err
	}
	return en.table, nil
}

func (e *Engine) Repository(name string) (repository.Repository, error) {
	en, err := e.lookup(name, "repository")
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return en.repo, nil
}

// Tables returns the introspected table names in ascending order.
func (e *Engine) Tables() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.entries))
	for name := range e.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterRepository installs a specialized repository for tableName. Each
// table accepts one factory. On a connected engine the repository is
// swapped in immediately; otherwise it is built on the next Connect.
func (e *Engine) RegisterRepository(tableName string, factory repository.Factory) error {
	if err := e.factories.Register(tableName, factory); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if en, ok := e.entries[tableName]; ok {
		en.repo = e.factories.Build(en.base)
	}
	return nil
}

func (e *Engine) Health(ctx context.Context) *database.HealthStatus {
	return e.manager.HealthCheck(ctx)
}

func (e *Engine) Stats() *database.DBStats {
	return e.manager.GetStats()
}

// As returns the repository of tableName as R, for callers that need the
// methods of a specialized repository.
func As[R any](e *Engine, tableName string) (R, error) {
	var zero R
	repo, err := e.Repository(tableName)
	if err != nil {
		return zero, err
	}
	r, ok := repo.(R)
	if !ok {
		return zero, types.Errorf(types.KindInvalidArgument, "repository of %s is %T", tableName, repo).
			WithTable(e.config.DBName, tableName)
	}
	return r, nil
}
