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

	"github.com/tomoncle/tabula/filter"
	"github.com/tomoncle/tabula/table"
	"github.com/tomoncle/tabula/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/feature"
)

func (r *Base) insert(ctx context.Context, rows []types.Row, opts *Options) ([]types.Row, error) {
	idb, release, err := r.Conn(ctx, opts, "insert")
	if err != nil {
		return nil, err
	}
	defer release()

	cols, err := r.dataColumns(rows)
	if err != nil {
		return nil, err
	}
	if err := opts.Select.Validate(r.table.HasColumn); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []types.Row{}, nil
	}

	if !returning(idb, feature.InsertReturning) {
		return r.insertEmulated(ctx, idb, rows, cols, opts)
	}

	batches := r.insertBatches(idb, rows, cols)
	out := make([]types.Row, 0, len(rows))
	var last *statement
	err = atomically(ctx, idb, opts.Tx != nil || len(batches) == 1, func(ctx context.Context, db bun.IDB) error {
		for _, st := range batches {
			st.raw(" RETURNING ").projection(opts.Select)
			got, err := scanRaw(ctx, db, st)
			if err != nil {
				return err
			}
			out = append(out, got...)
			last = st
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.emit(table.EventInserted, "insert", idb, out, last)
	return out, nil
}

// insertBatches splits rows into INSERT statements. Rows without data use
// DEFAULT VALUES. sqlite has no DEFAULT keyword inside VALUES, so there
// consecutive rows sharing a key set form one statement each and omitted
// columns keep their defaults.
func (r *Base) insertBatches(idb bun.IDB, rows []types.Row, cols []string) []*statement {
	if len(cols) == 0 {
		batches := make([]*statement, 0, len(rows))
		for range rows {
			batches = append(batches, r.defaultValues())
		}
		return batches
	}
	if idb.Dialect().Name() != dialect.SQLite {
		return []*statement{r.insertStatement(rows, cols)}
	}

	var batches []*statement
	for start := 0; start < len(rows); {
		keys := rowColumns(rows[start], cols)
		end := start + 1
		for end < len(rows) && sameColumns(rowColumns(rows[end], cols), keys) {
			end++
		}
		if len(keys) == 0 {
			for i := start; i < end; i++ {
				batches = append(batches, r.defaultValues())
			}
		} else {
			batches = append(batches, r.insertStatement(rows[start:end], keys))
		}
		start = end
	}
	return batches
}

func (r *Base) defaultValues() *statement {
	st := &statement{}
	st.raw("INSERT INTO ").ident(r.table.Name()).raw(" DEFAULT VALUES")
	return st
}

// rowColumns returns the columns of cols present in row, in cols order.
func rowColumns(row types.Row, cols []string) []string {
	out := make([]string, 0, len(row))
	for _, c := range cols {
		if _, ok := row[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// insertStatement renders a multi-row INSERT over cols. Keys missing from a
// row take the column default.
func (r *Base) insertStatement(rows []types.Row, cols []string) *statement {
	st := &statement{}
	st.raw("INSERT INTO ").ident(r.table.Name()).raw(" (").idents(cols).raw(") VALUES ")
	for i, row := range rows {
		if i > 0 {
			st.raw(", ")
		}
		st.raw("(")
		for j, c := range cols {
			if j > 0 {
				st.raw(", ")
			}
			if v, ok := row[c]; ok {
				st.value(v)
			} else {
				st.raw("DEFAULT")
			}
		}
		st.raw(")")
	}
	return st
}

// insertEmulated inserts row by row and reads the rows back by primary key.
// Keys absent from the data come from LastInsertId.
func (r *Base) insertEmulated(ctx context.Context, idb bun.IDB, rows []types.Row, cols []string, opts *Options) ([]types.Row, error) {
	pk := r.table.PrimaryKey()
	var (
		out  []types.Row
		last *statement
	)
	err := atomically(ctx, idb, opts.Tx != nil || len(rows) == 1, func(ctx context.Context, db bun.IDB) error {
		keys := make([]interface{}, 0, len(rows))
		for _, row := range rows {
			var st *statement
			if present := rowColumns(row, cols); len(present) > 0 {
				st = r.insertStatement([]types.Row{row}, present)
			} else {
				st = &statement{}
				st.raw("INSERT INTO ").ident(r.table.Name()).raw(" () VALUES ()")
			}
			res, err := db.ExecContext(ctx, st.query(), st.args...)
			if err != nil {
				return err
			}
			last = st
			if pk.Column == "" {
				continue
			}
			if v, ok := row[pk.Column]; ok && v != nil {
				keys = append(keys, v)
				continue
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			keys = append(keys, id)
		}
		if pk.Column == "" {
			out = projectRows(rows, opts.Select)
			return nil
		}
		var err error
		out, err = r.selectByKeys(ctx, db, keys, opts.Select)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.emit(table.EventInserted, "insert", idb, out, last)
	return out, nil
}

// projectRows applies a projection to in-memory rows.
func projectRows(rows []types.Row, proj filter.Projection) []types.Row {
	out := make([]types.Row, 0, len(rows))
	for _, row := range rows {
		if proj.IsAll() {
			out = append(out, row.Clone())
			continue
		}
		p := make(types.Row, len(proj.Fields()))
		for _, f := range proj.Fields() {
			p[f.Key()] = row[f.Name]
		}
		out = append(out, p)
	}
	return out
}

func (r *Base) update(ctx context.Context, data types.Row, f filter.Filter, opts *Options) ([]types.Row, error) {
	idb, release, err := r.Conn(ctx, opts, "update")
	if err != nil {
		return nil, err
	}
	defer release()

	if len(data) == 0 {
		return nil, types.Errorf(types.KindInvalidArgument, "update of %s has no columns to set", r.table.Name())
	}
	cols, err := r.dataColumns([]types.Row{data})
	if err != nil {
		return nil, err
	}
	if err := opts.Select.Validate(r.table.HasColumn); err != nil {
		return nil, err
	}
	pred, err := r.compiler.Compile(f)
	if err != nil {
		return nil, err
	}

	st := &statement{}
	st.raw("UPDATE ").ident(r.table.Name()).raw(" SET ")
	for i, c := range cols {
		if i > 0 {
			st.raw(", ")
		}
		st.ident(c).raw(" = ").value(data[c])
	}
	st.where(pred)

	var out []types.Row
	if returning(idb, feature.Returning) {
		st.raw(" RETURNING ").projection(opts.Select)
		if out, err = scanRaw(ctx, idb, st); err != nil {
			return nil, err
		}
		r.emit(table.EventUpdated, "update", idb, out, st)
		return out, nil
	}

	err = atomically(ctx, idb, opts.Tx != nil, func(ctx context.Context, db bun.IDB) error {
		pk := r.table.PrimaryKey().Column
		if pk == "" {
			// without a key the rows can only be found again by the filter
			if _, err := db.ExecContext(ctx, st.query(), st.args...); err != nil {
				return err
			}
			var err error
			out, err = scanSelect(ctx, r.selectQuery(db, pred, &Options{Select: opts.Select}, nil))
			return err
		}
		keys, err := r.selectKeys(ctx, db, pred)
		if err != nil || len(keys) == 0 {
			out = []types.Row{}
			return err
		}
		if _, err := db.ExecContext(ctx, st.query(), st.args...); err != nil {
			return err
		}
		if v, ok := data[pk]; ok {
			keys = []interface{}{v}
		}
		out, err = r.selectByKeys(ctx, db, keys, opts.Select)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.emit(table.EventUpdated, "update", idb, out, st)
	return out, nil
}

func (r *Base) delete(ctx context.Context, f filter.Filter, opts *Options) ([]types.Row, error) {
	idb, release, err := r.Conn(ctx, opts, "delete")
	if err != nil {
		return nil, err
	}
	defer release()

	if err := opts.Select.Validate(r.table.HasColumn); err != nil {
		return nil, err
	}
	pred, err := r.compiler.Compile(f)
	if err != nil {
		return nil, err
	}

	st := &statement{}
	st.raw("DELETE FROM ").ident(r.table.Name()).where(pred)

	var out []types.Row
	if returning(idb, feature.Returning) {
		st.raw(" RETURNING ").projection(opts.Select)
		if out, err = scanRaw(ctx, idb, st); err != nil {
			return nil, err
		}
		r.emit(table.EventDeleted, "delete", idb, out, st)
		return out, nil
	}

	err = atomically(ctx, idb, opts.Tx != nil, func(ctx context.Context, db bun.IDB) error {
		var err error
		out, err = scanSelect(ctx, r.selectQuery(db, pred, &Options{Select: opts.Select}, nil))
		if err != nil || len(out) == 0 {
			return err
		}
		_, err = db.ExecContext(ctx, st.query(), st.args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.emit(table.EventDeleted, "delete", idb, out, st)
	return out, nil
}
