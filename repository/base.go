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
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"

	"github.com/tomoncle/tabula/database"
	"github.com/tomoncle/tabula/filter"
	"github.com/tomoncle/tabula/table"
	"github.com/tomoncle/tabula/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/feature"
)

// Base is the generic repository of one table. It keeps no state besides
// its collaborators and is safe for concurrent use.
type Base struct {
	manager  database.AbstractDatabaseManager
	table    *table.Table
	compiler filter.PredicateCompiler
	logger   database.Logger
}

var _ Repository = (*Base)(nil)

// New binds a repository to t. A nil compiler compiles against the table's
// own columns.
func New(manager database.AbstractDatabaseManager, t *table.Table, compiler filter.PredicateCompiler) *Base {
	if compiler == nil {
		name := dialect.Invalid
		if db := manager.GetDB(); db != nil {
			name = db.Dialect().Name()
		}
		compiler = filter.NewCompiler(t.Columns(), name)
	}
	return &Base{
		manager:  manager,
		table:    t,
		compiler: compiler,
		logger:   database.GetLogger(),
	}
}

func (r *Base) Table() *table.Table { return r.table }

// Manager gives specialized repositories access to the connection pool.
func (r *Base) Manager() database.AbstractDatabaseManager { return r.manager }

func (r *Base) SetLogger(logger database.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Conn returns the handle a call with opts runs on: the caller's
// transaction, or a pooled connection that release gives back.
func (r *Base) Conn(ctx context.Context, opts *Options, op string) (bun.IDB, func(), error) {
	opts = opts.orDefault()
	if !r.manager.IsConnected() {
		return nil, nil, types.Errorf(types.KindNotConnected, "database %s is not connected", r.table.Database()).
			WithTable(r.table.Database(), r.table.Name()).WithOperation(op)
	}
	if opts.Tx != nil {
		return opts.Tx, func() {}, nil
	}
	return r.manager.Acquire(ctx)
}

func (r *Base) Insert(ctx context.Context, rows []types.Row, opts *Options) ([]types.Row, error) {
	opts = opts.orDefault()
	out, err := r.insert(ctx, rows, opts)
	if err != nil {
		return []types.Row{}, r.fail("insert", err, opts)
	}
	if len(out) == 0 && opts.ThrowIfNoResult {
		return nil, r.noResult(types.KindNotCreated, "insert", "no rows were created")
	}
	return out, nil
}

func (r *Base) InsertOne(ctx context.Context, row types.Row, opts *Options) (types.Row, error) {
	rows, err := r.Insert(ctx, []types.Row{row}, opts)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (r *Base) Find(ctx context.Context, f filter.Filter, opts *Options) ([]types.Row, error) {
	opts = opts.orDefault()
	out, err := r.find(ctx, "find", f, opts)
	if err != nil {
		return []types.Row{}, r.fail("find", err, opts)
	}
	if len(out) == 0 && opts.ThrowIfNoResult {
		return nil, r.noResult(types.KindNotFound, "find", "no rows matched")
	}
	return out, nil
}

func (r *Base) FindOne(ctx context.Context, f filter.Filter, opts *Options) (types.Row, error) {
	o := *opts.orDefault()
	o.Limit = 1
	out, err := r.find(ctx, "findOne", f, &o)
	if err != nil {
		return nil, r.fail("findOne", err, &o)
	}
	if len(out) == 0 {
		if o.ThrowIfNoResult {
			return nil, r.noResult(types.KindNotFound, "findOne", "no rows matched")
		}
		return nil, nil
	}
	return out[0], nil
}

func (r *Base) Update(ctx context.Context, data types.Row, f filter.Filter, opts *Options) ([]types.Row, error) {
	opts = opts.orDefault()
	out, err := r.update(ctx, data, f, opts)
	if err != nil {
		return []types.Row{}, r.fail("update", err, opts)
	}
	if len(out) == 0 && opts.ThrowIfNoResult {
		return nil, r.noResult(types.KindNotUpdated, "update", "no rows were updated")
	}
	return out, nil
}

func (r *Base) Delete(ctx context.Context, f filter.Filter, opts *Options) ([]types.Row, error) {
	opts = opts.orDefault()
	out, err := r.delete(ctx, f, opts)
	if err != nil {
		return []types.Row{}, r.fail("delete", err, opts)
	}
	if len(out) == 0 && opts.ThrowIfNoResult {
		return nil, r.noResult(types.KindNotDeleted, "delete", "no rows were deleted")
	}
	return out, nil
}

// Count never applies the no-result policy; zero matches is a valid count.
func (r *Base) Count(ctx context.Context, f filter.Filter, opts *Options) (int, error) {
	opts = opts.orDefault()
	idb, release, err := r.Conn(ctx, opts, "count")
	if err != nil {
		return 0, r.fail("count", err, opts)
	}
	defer release()

	pred, err := r.compiler.Compile(f)
	if err != nil {
		return 0, r.fail("count", err, opts)
	}
	n, err := r.count(ctx, idb, pred)
	if err != nil {
		return 0, r.fail("count", err, opts)
	}
	return n, nil
}

// Page counts the matching rows and returns one page of them. opts.Limit
// and opts.Offset are replaced by the page bounds.
func (r *Base) Page(ctx context.Context, f filter.Filter, page *types.PageRequest, opts *Options) (*types.Pagination, error) {
	if page == nil {
		page = types.NewPageRequest(1, 10)
	}
	o := *opts.orDefault()
	o.Limit, o.Offset = page.GetPageSize(), page.GetOffset()
	pagination := types.NewDefaultPagination(page.GetPage(), page.GetPageSize())

	idb, release, err := r.Conn(ctx, &o, "page")
	if err != nil {
		return pagination, r.fail("page", err, &o)
	}
	defer release()

	pred, terms, err := r.prepare(f, &o)
	if err != nil {
		return pagination, r.fail("page", err, &o)
	}
	total, err := r.count(ctx, idb, pred)
	if err != nil {
		return pagination, r.fail("page", err, &o)
	}
	pagination.Total = total
	if total > 0 {
		items, err := r.selectRows(ctx, idb, "page", pred, &o, terms)
		if err != nil {
			return types.NewDefaultPagination(page.GetPage(), page.GetPageSize()), r.fail("page", err, &o)
		}
		pagination.Items = items
	}
	if len(pagination.Items) == 0 && o.ThrowIfNoResult {
		return nil, r.noResult(types.KindNotFound, "page", "no rows matched")
	}
	return pagination, nil
}

// fail routes err through the classifier. With IgnoreQueryError set the
// failure is logged and swallowed, except NotConnected.
func (r *Base) fail(op string, err error, opts *Options) error {
	err = database.Wrap(err, r.table.Database(), r.table.Name(), op)
	if opts.IgnoreQueryError && !types.IsKind(err, types.KindNotConnected) {
		r.logger.Warn("Query failed, returning empty result",
			"database", r.table.Database(), "table", r.table.Name(), "operation", op, "error", err)
		return nil
	}
	return err
}

func (r *Base) noResult(kind types.ErrorKind, op, msg string) error {
	return types.Errorf(kind, "%s in %s", msg, r.table.Name()).
		WithTable(r.table.Database(), r.table.Name()).WithOperation(op)
}

type orderTerm struct {
	column string
	desc   bool
}

// prepare validates everything a read needs before any I/O.
func (r *Base) prepare(f filter.Filter, opts *Options) (*filter.Predicate, []orderTerm, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, nil, types.Errorf(types.KindInvalidArgument, "limit and offset must not be negative")
	}
	if err := opts.Select.Validate(r.table.HasColumn); err != nil {
		return nil, nil, err
	}
	terms, err := r.parseOrder(opts.OrderBy)
	if err != nil {
		return nil, nil, err
	}
	if opts.Limit > 0 || opts.Offset > 0 {
		key := r.table.OrderColumn()
		found := false
		for _, t := range terms {
			found = found || t.column == key
		}
		if !found {
			terms = append(terms, orderTerm{column: key})
		}
	}
	pred, err := r.compiler.Compile(f)
	if err != nil {
		return nil, nil, err
	}
	return pred, terms, nil
}

func (r *Base) parseOrder(entries []string) ([]orderTerm, error) {
	terms := make([]orderTerm, 0, len(entries)+1)
	for _, e := range entries {
		parts := strings.Fields(e)
		if len(parts) == 0 || len(parts) > 2 {
			return nil, types.Errorf(types.KindInvalidArgument, "invalid order by %q", e)
		}
		t := orderTerm{column: parts[0]}
		if strings.HasPrefix(t.column, "-") {
			t.column, t.desc = t.column[1:], true
		}
		if len(parts) == 2 {
			switch strings.ToUpper(parts[1]) {
			case "ASC":
			case "DESC":
				t.desc = true
			default:
				return nil, types.Errorf(types.KindInvalidArgument, "invalid order direction in %q", e)
			}
		}
		if !r.table.HasColumn(t.column) {
			return nil, types.Errorf(types.KindColumnNotFound, "unknown column %q", t.column)
		}
		terms = append(terms, t)
	}
	return terms, nil
}

// dataColumns validates the keys of rows and returns their union in table
// column order.
func (r *Base) dataColumns(rows []types.Row) ([]string, error) {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			if !r.table.HasColumn(k) {
				return nil, types.Errorf(types.KindColumnNotFound, "unknown column %q", k)
			}
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for _, c := range r.table.Columns() {
		if _, ok := seen[c]; ok {
			cols = append(cols, c)
		}
	}
	return cols, nil
}

func (r *Base) find(ctx context.Context, op string, f filter.Filter, opts *Options) ([]types.Row, error) {
	idb, release, err := r.Conn(ctx, opts, op)
	if err != nil {
		return nil, err
	}
	defer release()

	pred, terms, err := r.prepare(f, opts)
	if err != nil {
		return nil, err
	}
	return r.selectRows(ctx, idb, op, pred, opts, terms)
}

func (r *Base) selectQuery(idb bun.IDB, pred *filter.Predicate, opts *Options, terms []orderTerm) *bun.SelectQuery {
	q := idb.NewSelect().
		TableExpr("?", bun.Ident(r.table.Name())).
		ColumnExpr("?", opts.Select.Expr())
	if pred != nil {
		q = q.Where("?", pred.Expr())
	}
	for _, t := range terms {
		if t.desc {
			q = q.OrderExpr("? DESC", bun.Ident(t.column))
		} else {
			q = q.OrderExpr("? ASC", bun.Ident(t.column))
		}
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	} else if opts.Offset > 0 && idb.Dialect().Name() != dialect.PG {
		// sqlite and mysql only accept OFFSET after a LIMIT
		q = q.Limit(math.MaxInt32)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	return q
}

func scanSelect(ctx context.Context, q *bun.SelectQuery) ([]types.Row, error) {
	var maps []map[string]interface{}
	if err := q.Scan(ctx, &maps); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return types.RowsFromMaps(maps), nil
}

func (r *Base) selectRows(ctx context.Context, idb bun.IDB, op string, pred *filter.Predicate, opts *Options, terms []orderTerm) ([]types.Row, error) {
	q := r.selectQuery(idb, pred, opts, terms)
	rows, err := scanSelect(ctx, q)
	if err != nil {
		return nil, err
	}
	if r.table.PulseEnabled() {
		r.table.Emit(table.EventSelected, rows, table.QueryContext{Method: op, Query: q.String(), Args: pred.Params()})
	}
	return rows, nil
}

func (r *Base) count(ctx context.Context, idb bun.IDB, pred *filter.Predicate) (int, error) {
	q := idb.NewSelect().
		TableExpr("?", bun.Ident(r.table.Name())).
		ColumnExpr("COUNT(*)")
	if pred != nil {
		q = q.Where("?", pred.Expr())
	}
	var n int
	if err := q.Scan(ctx, &n); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return n, nil
}

// selectByKeys reads rows back by primary key, for dialects without RETURNING.
func (r *Base) selectByKeys(ctx context.Context, idb bun.IDB, keys []interface{}, proj filter.Projection) ([]types.Row, error) {
	if len(keys) == 0 {
		return []types.Row{}, nil
	}
	pk := r.table.PrimaryKey().Column
	return scanSelect(ctx, idb.NewSelect().
		TableExpr("?", bun.Ident(r.table.Name())).
		ColumnExpr("?", proj.Expr()).
		Where("? IN (?)", bun.Ident(pk), filter.List(keys)).
		OrderExpr("? ASC", bun.Ident(pk)))
}

func (r *Base) selectKeys(ctx context.Context, idb bun.IDB, pred *filter.Predicate) ([]interface{}, error) {
	pk := r.table.PrimaryKey().Column
	q := idb.NewSelect().
		TableExpr("?", bun.Ident(r.table.Name())).
		ColumnExpr("?", bun.Ident(pk))
	if pred != nil {
		q = q.Where("?", pred.Expr())
	}
	rows, err := scanSelect(ctx, q)
	if err != nil {
		return nil, err
	}
	keys := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row[pk])
	}
	return keys, nil
}

func scanRaw(ctx context.Context, idb bun.IDB, st *statement) ([]types.Row, error) {
	var maps []map[string]interface{}
	if err := idb.NewRaw(st.query(), st.args...).Scan(ctx, &maps); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return types.RowsFromMaps(maps), nil
}

func (r *Base) emit(kind table.EventKind, method string, idb bun.IDB, rows []types.Row, st *statement) {
	if !r.table.PulseEnabled() || st == nil {
		return
	}
	r.table.Emit(kind, rows, table.QueryContext{Method: method, Query: st.text(idb.Dialect()), Args: st.params()})
}

// returning reports whether the dialect can return rows from a statement
// guarded by f: feature.InsertReturning for INSERT, feature.Returning for
// UPDATE and DELETE.
func returning(idb bun.IDB, f feature.Feature) bool {
	return idb.Dialect().Features().Has(f)
}

type txRunner interface {
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
}

// atomically runs fn in a transaction unless the caller already owns one.
func atomically(ctx context.Context, idb bun.IDB, inTx bool, fn func(ctx context.Context, db bun.IDB) error) error {
	runner, ok := idb.(txRunner)
	if inTx || !ok {
		return fn(ctx, idb)
	}
	return runner.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &tx)
	})
}
