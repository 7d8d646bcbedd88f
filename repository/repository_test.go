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
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/tomoncle/tabula/database"
	"github.com/tomoncle/tabula/filter"
	"github.com/tomoncle/tabula/table"
	"github.com/tomoncle/tabula/types"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/dialect/mysqldialect"
)

type logEntry struct {
	level string
	msg   string
}

// recordingLogger keeps every entry for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
}

func (l *recordingLogger) SetLevel(database.LogLevel) {}
func (l *recordingLogger) Debug(msg string, fields ...interface{}) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, fields ...interface{}) { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, fields ...interface{}) { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, fields ...interface{}) { l.add("error", msg) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

type fixture struct {
	manager database.AbstractDatabaseManager
	users   *Base
	logger  *recordingLogger
}

func setup(t *testing.T, enablePulse bool) *fixture {
	t.Helper()
	ctx := context.Background()
	m := database.NewDatabaseManager(&database.ConnectionConfig{
		Type:         database.TypeSQLite,
		DBName:       filepath.Join(t.TempDir(), "repo.db"),
		MaxIdleConns: 2,
		MaxOpenConns: 4,
	})
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = m.Disconnect() })

	stmts := []string{
		"CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL UNIQUE, age INT, nick TEXT)",
	}
	for _, stmt := range stmts {
		if _, err := m.GetDB().ExecContext(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	schemas, err := database.Introspect(ctx, m.GetDB(), "repo")
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	tbl, err := table.New(schemas[0], enablePulse)
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	f := &fixture{manager: m, users: New(m, tbl, nil), logger: &recordingLogger{}}
	f.users.SetLogger(f.logger)
	return f
}

// repo creates another table and binds a repository to it.
func (f *fixture) repo(t *testing.T, ddl, name string) *Base {
	t.Helper()
	ctx := context.Background()
	if _, err := f.manager.GetDB().ExecContext(ctx, ddl); err != nil {
		t.Fatalf("%s: %v", ddl, err)
	}
	schemas, err := database.Introspect(ctx, f.manager.GetDB(), "repo")
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	for _, s := range schemas {
		if s.Name != name {
			continue
		}
		tbl, err := table.New(s, false)
		if err != nil {
			t.Fatalf("table: %v", err)
		}
		return New(f.manager, tbl, nil)
	}
	t.Fatalf("table %s was not introspected", name)
	return nil
}

func (f *fixture) seed(t *testing.T, n int) []types.Row {
	t.Helper()
	rows := make([]types.Row, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, types.Row{"email": string(rune('a'+i-1)) + "@x.com", "age": 10 * i})
	}
	out, err := f.users.Insert(context.Background(), rows, nil)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return out
}

func ids(t *testing.T, rows []types.Row) []int64 {
	t.Helper()
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		id, ok := r.Int64("id")
		if !ok {
			t.Fatalf("row without integer id: %v", r)
		}
		out = append(out, id)
	}
	return out
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)

	inserted, err := f.users.Insert(ctx, []types.Row{{"email": "a@x.com"}}, &Options{Select: filter.Columns("id", "email")})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	want := []types.Row{{"id": int64(1), "email": "a@x.com"}}
	if !reflect.DeepEqual(inserted, want) {
		t.Fatalf("inserted = %v, want %v", inserted, want)
	}

	found, err := f.users.Find(ctx, filter.Where(filter.Element{"email": filter.Ops{"$like": "%@x.com"}}),
		&Options{Select: filter.Columns("id", "email")})
	if err != nil || !reflect.DeepEqual(found, want) {
		t.Fatalf("find = %v, %v", found, err)
	}

	deleted, err := f.users.Delete(ctx, filter.Where(filter.Element{"id": filter.Ops{"$eq": 1}}),
		&Options{Select: filter.Columns("id", "email")})
	if err != nil || !reflect.DeepEqual(deleted, want) {
		t.Fatalf("delete = %v, %v", deleted, err)
	}

	found, err = f.users.Find(ctx, filter.Where(filter.Element{"id": 1}), &Options{ThrowIfNoResult: false})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil || len(found) != 0 {
		t.Errorf("expected an empty non-nil result, got %#v", found)
	}
}

func TestInsertProjection(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)

	all, err := f.users.InsertOne(ctx, types.Row{"email": "a@x.com", "age": 30}, nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !reflect.DeepEqual(all.Keys(), []string{"age", "email", "id", "nick"}) {
		t.Errorf("default projection should return every column, got %v", all)
	}

	aliased, err := filter.Aliased(map[string]interface{}{"email": "mail", "id": true, "age": false})
	if err != nil {
		t.Fatal(err)
	}
	row, err := f.users.InsertOne(ctx, types.Row{"email": "b@x.com"}, &Options{Select: aliased})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	want := types.Row{"mail": "b@x.com", "id": int64(2)}
	if !reflect.DeepEqual(row, want) {
		t.Errorf("row = %v, want %v", row, want)
	}
}

func TestInsertMixedKeys(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)

	rows, err := f.users.Insert(ctx, []types.Row{
		{"email": "a@x.com", "age": 20},
		{"email": "b@x.com", "nick": "bee"},
	}, nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(rows) != 2 || rows[0]["nick"] != nil || rows[1]["age"] != nil || rows[1]["nick"] != "bee" {
		t.Errorf("unexpected rows %v", rows)
	}

	empty, err := f.users.Insert(ctx, nil, nil)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("empty insert = %#v, %v", empty, err)
	}
	if _, err := f.users.Insert(ctx, nil, &Options{ThrowIfNoResult: true}); !types.IsKind(err, types.KindNotCreated) {
		t.Errorf("expected NotCreated, got %v", err)
	}

	// omitted columns keep their defaults in every row of a mixed insert
	items := f.repo(t, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, status TEXT NOT NULL DEFAULT 'new')", "items")
	single, err := items.InsertOne(ctx, types.Row{"name": "a"}, nil)
	if err != nil || single["status"] != "new" {
		t.Fatalf("single insert = %v, %v", single, err)
	}
	rows, err = items.Insert(ctx, []types.Row{
		{"name": "b"},
		{"name": "c", "status": "done"},
		{"name": "d"},
		{},
	}, &Options{Select: filter.Columns("name", "status")})
	if err != nil {
		t.Fatalf("mixed insert: %v", err)
	}
	want := []types.Row{
		{"name": "b", "status": "new"},
		{"name": "c", "status": "done"},
		{"name": "d", "status": "new"},
		{"name": nil, "status": "new"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
	if n, _ := items.Count(ctx, nil, nil); n != 5 {
		t.Errorf("count = %d, want 5", n)
	}
}

func TestNestedValuesAreStoredAsJSON(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)

	rows, err := types.ParseRows([]byte(`{"email": "j@x.com", "nick": {"first": "Jo", "tags": ["a"]}}`))
	if err != nil {
		t.Fatal(err)
	}
	row, err := f.users.InsertOne(ctx, rows[0], &Options{Select: filter.Columns("nick")})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if row["nick"] != `{"first":"Jo","tags":["a"]}` {
		t.Errorf("nick = %v", row["nick"])
	}

	updated, err := f.users.Update(ctx, types.Row{"nick": []interface{}{1, 2}}, filter.Where(filter.Element{"email": "j@x.com"}),
		&Options{Select: filter.Columns("nick")})
	if err != nil || len(updated) != 1 || updated[0]["nick"] != "[1,2]" {
		t.Errorf("update = %v, %v", updated, err)
	}
}

func TestFindPagination(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)
	f.seed(t, 5)

	rows, err := f.users.Find(ctx, nil, &Options{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got := ids(t, rows); !reflect.DeepEqual(got, []int64{2, 3}) {
		t.Errorf("ids = %v, want [2 3]", got)
	}

	rows, err = f.users.Find(ctx, nil, &Options{Offset: 3})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got := ids(t, rows); !reflect.DeepEqual(got, []int64{4, 5}) {
		t.Errorf("offset only ids = %v, want [4 5]", got)
	}

	rows, err = f.users.Find(ctx, nil, &Options{OrderBy: []string{"age DESC"}, Limit: 2})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got := ids(t, rows); !reflect.DeepEqual(got, []int64{5, 4}) {
		t.Errorf("ordered ids = %v, want [5 4]", got)
	}

	if _, err := f.users.Find(ctx, nil, &Options{OrderBy: []string{"nope"}}); !types.IsKind(err, types.KindColumnNotFound) {
		t.Errorf("expected ColumnNotFound, got %v", err)
	}
	if _, err := f.users.Find(ctx, nil, &Options{OrderBy: []string{"age sideways"}}); !types.IsKind(err, types.KindInvalidArgument) {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
	if _, err := f.users.Find(ctx, nil, &Options{Limit: -1}); !types.IsKind(err, types.KindInvalidArgument) {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestPage(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)
	f.seed(t, 5)

	page, err := f.users.Page(ctx, filter.Where(filter.Element{"age": filter.Ops{"$gte": 20}}), types.NewPageRequest(2, 3), nil)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if page.Total != 4 || page.Page != 2 || page.PageSize != 3 {
		t.Errorf("unexpected page %+v", page)
	}
	if got := ids(t, page.Items); !reflect.DeepEqual(got, []int64{5}) {
		t.Errorf("page ids = %v, want [5]", got)
	}

	empty, err := f.users.Page(ctx, filter.Where(filter.Element{"age": 99}), nil, nil)
	if err != nil || empty.Total != 0 || len(empty.Items) != 0 {
		t.Errorf("empty page = %+v, %v", empty, err)
	}
}

func TestFilterSemantics(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)
	f.seed(t, 5)
	if _, err := f.users.Update(ctx, types.Row{"nick": "n"}, filter.Where(filter.Element{"id": filter.Ops{"$in": []int{2, 4}}}), nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter filter.Filter
		want   []int64
	}{
		{"equality ANDs fields", filter.Where(filter.Element{"age": 20, "nick": "n"}), []int64{2}},
		{"equality with no match", filter.Where(filter.Element{"age": 30, "nick": "n"}), []int64{}},
		{"in", filter.Where(filter.Element{"id": filter.Ops{"$in": []int{1, 3, 9}}}), []int64{1, 3}},
		{"nin", filter.Where(filter.Element{"id": filter.Ops{"$nin": []int{1, 3}}}), []int64{2, 4, 5}},
		{"between is inclusive", filter.Where(filter.Element{"age": filter.Ops{"$between": []int{20, 40}}}), []int64{2, 3, 4}},
		{"nbetween", filter.Where(filter.Element{"age": filter.Ops{"$nbetween": []int{20, 40}}}), []int64{1, 5}},
		{"isNull", filter.Where(filter.Element{"nick": filter.Ops{"$isNull": true}}), []int64{1, 3, 5}},
		{"not isNull", filter.Where(filter.Element{"nick": filter.Ops{"$isNull": false}}), []int64{2, 4}},
		{"like", filter.Where(filter.Element{"email": filter.Ops{"$like": "c@*"}}), []int64{3}},
		{"nlike", filter.Where(filter.Element{"email": filter.Ops{"$nlike": "a@"}}), []int64{2, 3, 4, 5}},
		{"range", filter.Where(filter.Element{"age": filter.Ops{"$gt": 10, "$lte": 30}}), []int64{2, 3}},
		{"fields of a complex element are ANDed", filter.Where(filter.Element{"age": filter.Ops{"$gte": 20}, "nick": filter.Ops{"$isNull": true}}), []int64{3, 5}},
		{"elements are ORed", filter.Or(filter.Element{"id": 1}, filter.Element{"age": filter.Ops{"$gte": 50}}), []int64{1, 5}},
		{"search", filter.Where(filter.Element{"$q": "d@"}), []int64{4}},
		{"search over selected fields", filter.Where(filter.Element{"$q": filter.Search{Fields: []string{"age"}, Value: 5}}), []int64{5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := f.users.Find(ctx, tt.filter, &Options{OrderBy: []string{"id"}})
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if got := ids(t, rows); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
		})
	}

	// OR of elements is the union of each element's matches
	a, _ := f.users.Find(ctx, filter.Where(filter.Element{"age": filter.Ops{"$lt": 20}}), &Options{OrderBy: []string{"id"}})
	b, _ := f.users.Find(ctx, filter.Where(filter.Element{"nick": "n"}), &Options{OrderBy: []string{"id"}})
	for _, order := range []filter.Filter{
		filter.Or(filter.Element{"age": filter.Ops{"$lt": 20}}, filter.Element{"nick": "n"}),
		filter.Or(filter.Element{"nick": "n"}, filter.Element{"age": filter.Ops{"$lt": 20}}),
	} {
		rows, err := f.users.Find(ctx, order, &Options{OrderBy: []string{"id"}})
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != len(a)+len(b) {
			t.Errorf("union size = %d, want %d", len(rows), len(a)+len(b))
		}
	}
}

func TestFindOne(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)
	f.seed(t, 3)

	row, err := f.users.FindOne(ctx, filter.Where(filter.Element{"age": filter.Ops{"$gte": 20}}), nil)
	if err != nil {
		t.Fatalf("find one: %v", err)
	}
	if id, _ := row.Int64("id"); id != 2 {
		t.Errorf("expected the lowest matching key, got %v", row)
	}

	row, err = f.users.FindOne(ctx, filter.Where(filter.Element{"age": 99}), nil)
	if err != nil || row != nil {
		t.Errorf("no match = %v, %v", row, err)
	}
	if _, err := f.users.FindOne(ctx, filter.Where(filter.Element{"age": 99}), &Options{ThrowIfNoResult: true}); !types.IsKind(err, types.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)
	f.seed(t, 3)

	rows, err := f.users.Update(ctx, types.Row{"nick": "old"}, filter.Where(filter.Element{"age": filter.Ops{"$gte": 20}}),
		&Options{Select: filter.Columns("id", "nick")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(rows) != 2 || rows[0]["nick"] != "old" || len(rows[0]) != 2 {
		t.Errorf("unexpected rows %v", rows)
	}

	rows, err = f.users.Update(ctx, types.Row{"nick": "x"}, filter.Where(filter.Element{"id": 42}), nil)
	if err != nil || rows == nil || len(rows) != 0 {
		t.Errorf("no match = %#v, %v", rows, err)
	}
	if _, err := f.users.Update(ctx, types.Row{"nick": "x"}, filter.Where(filter.Element{"id": 42}), &Options{ThrowIfNoResult: true}); !types.IsKind(err, types.KindNotUpdated) {
		t.Errorf("expected NotUpdated, got %v", err)
	}
	if _, err := f.users.Update(ctx, types.Row{}, nil, nil); !types.IsKind(err, types.KindInvalidArgument) {
		t.Errorf("expected InvalidArgument for empty data, got %v", err)
	}
	if _, err := f.users.Update(ctx, types.Row{"nope": 1}, nil, nil); !types.IsKind(err, types.KindColumnNotFound) {
		t.Errorf("expected ColumnNotFound, got %v", err)
	}
}

func TestDeleteAndCount(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)
	f.seed(t, 4)

	n, err := f.users.Count(ctx, filter.Where(filter.Element{"age": filter.Ops{"$gt": 20}}), nil)
	if err != nil || n != 2 {
		t.Fatalf("count = %d, %v", n, err)
	}
	n, err = f.users.Count(ctx, filter.Where(filter.Element{"age": 99}), &Options{ThrowIfNoResult: true})
	if err != nil || n != 0 {
		t.Errorf("zero count = %d, %v", n, err)
	}

	rows, err := f.users.Delete(ctx, filter.Where(filter.Element{"age": filter.Ops{"$lte": 20}}), nil)
	if err != nil || len(rows) != 2 {
		t.Fatalf("delete = %v, %v", rows, err)
	}
	if _, err := f.users.Delete(ctx, filter.Where(filter.Element{"id": 1}), &Options{ThrowIfNoResult: true}); !types.IsKind(err, types.KindNotDeleted) {
		t.Errorf("expected NotDeleted, got %v", err)
	}

	rows, err = f.users.Delete(ctx, nil, nil)
	if err != nil || len(rows) != 2 {
		t.Errorf("delete all = %v, %v", rows, err)
	}
	if n, _ := f.users.Count(ctx, nil, nil); n != 0 {
		t.Errorf("count after delete all = %d", n)
	}
}

func TestDuplicateKeyAndFailSoft(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)
	f.seed(t, 1)

	_, err := f.users.Insert(ctx, []types.Row{{"email": "a@x.com"}}, nil)
	if !types.IsKind(err, types.KindDuplicateKey) {
		t.Fatalf("expected DuplicateKey, got %v", err)
	}
	e, _ := types.AsError(err)
	if e.Detail.Table != "users" || e.Detail.Operation != "insert" {
		t.Errorf("missing detail %+v", e.Detail)
	}

	rows, err := f.users.Insert(ctx, []types.Row{{"email": "a@x.com"}}, &Options{IgnoreQueryError: true})
	if err != nil || rows == nil || len(rows) != 0 {
		t.Errorf("fail-soft insert = %#v, %v", rows, err)
	}
	if f.logger.count("warn") != 1 {
		t.Errorf("suppressed failures are logged once at WARN")
	}

	// a query error on count yields zero
	if _, err := f.manager.GetDB().ExecContext(ctx, "DROP TABLE users"); err != nil {
		t.Fatal(err)
	}
	n, err := f.users.Count(ctx, nil, &Options{IgnoreQueryError: true})
	if err != nil || n != 0 {
		t.Errorf("fail-soft count = %d, %v", n, err)
	}
	if _, err := f.users.Count(ctx, nil, nil); !types.IsKind(err, types.KindTableNotFound) {
		t.Errorf("expected TableNotFound, got %v", err)
	}
	row, err := f.users.FindOne(ctx, nil, &Options{IgnoreQueryError: true})
	if err != nil || row != nil {
		t.Errorf("fail-soft find one = %v, %v", row, err)
	}
}

func TestValidationHappensBeforeIO(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)

	if _, err := f.users.Find(ctx, filter.Where(filter.Element{"nope": 1}), nil); !types.IsKind(err, types.KindColumnNotFound) {
		t.Errorf("expected ColumnNotFound, got %v", err)
	}
	if _, err := f.users.Find(ctx, nil, &Options{Select: filter.Columns("nope")}); !types.IsKind(err, types.KindColumnNotFound) {
		t.Errorf("expected ColumnNotFound, got %v", err)
	}
	if _, err := f.users.Insert(ctx, []types.Row{{"nope": 1}}, nil); !types.IsKind(err, types.KindColumnNotFound) {
		t.Errorf("expected ColumnNotFound, got %v", err)
	}
	if _, err := f.users.Delete(ctx, filter.Where(filter.Element{"age": filter.Ops{"$between": 1}}), nil); !types.IsKind(err, types.KindInvalidFilter) {
		t.Errorf("expected InvalidFilter, got %v", err)
	}
}

func TestNotConnectedIsNeverSuppressed(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)
	if err := f.manager.Disconnect(); err != nil {
		t.Fatal(err)
	}
	opts := &Options{IgnoreQueryError: true}
	if _, err := f.users.Find(ctx, nil, opts); !types.IsKind(err, types.KindNotConnected) {
		t.Errorf("find = %v", err)
	}
	if _, err := f.users.Count(ctx, nil, opts); !types.IsKind(err, types.KindNotConnected) {
		t.Errorf("count = %v", err)
	}
	if _, err := f.users.Insert(ctx, []types.Row{{"email": "x"}}, opts); !types.IsKind(err, types.KindNotConnected) {
		t.Errorf("insert = %v", err)
	}
}

func TestTransactionPassthrough(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)
	f.seed(t, 2)

	tx, err := f.manager.GetDB().BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	opts := &Options{Tx: &tx}
	if _, err := f.users.Insert(ctx, []types.Row{{"email": "t@x.com"}}, opts); err != nil {
		t.Fatalf("insert in tx: %v", err)
	}
	if _, err := f.users.Update(ctx, types.Row{"nick": "tx"}, nil, opts); err != nil {
		t.Fatalf("update in tx: %v", err)
	}
	n, err := f.users.Count(ctx, filter.Where(filter.Element{"nick": "tx"}), opts)
	if err != nil || n != 3 {
		t.Fatalf("count in tx = %d, %v", n, err)
	}
	if _, err := f.users.Delete(ctx, filter.Where(filter.Element{"id": 1}), opts); err != nil {
		t.Fatalf("delete in tx: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	n, err = f.users.Count(ctx, nil, nil)
	if err != nil || n != 2 {
		t.Errorf("count after rollback = %d, %v", n, err)
	}
	n, err = f.users.Count(ctx, filter.Where(filter.Element{"nick": "tx"}), nil)
	if err != nil || n != 0 {
		t.Errorf("rolled back update is visible: %d, %v", n, err)
	}
}

func TestPulseEvents(t *testing.T) {
	ctx := context.Background()
	f := setup(t, true)
	tbl := f.users.Table()

	var events []table.Event
	record := func(ev table.Event) { events = append(events, ev) }
	for _, kind := range []table.EventKind{table.EventSelected, table.EventInserted, table.EventUpdated, table.EventDeleted} {
		if _, err := tbl.Subscribe(kind, record); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := f.users.InsertOne(ctx, types.Row{"email": "a@x.com"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.users.Find(ctx, filter.Where(filter.Element{"email": "a@x.com"}), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.users.Update(ctx, types.Row{"age": 5}, filter.Where(filter.Element{"id": 1}), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.users.Delete(ctx, filter.Where(filter.Element{"id": filter.Ops{"$in": []int{1, 2}}}), nil); err != nil {
		t.Fatal(err)
	}

	kinds := make([]table.EventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	want := []table.EventKind{table.EventInserted, table.EventSelected, table.EventUpdated, table.EventDeleted}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}

	sel := events[1]
	if sel.Query.Method != "find" || len(sel.Rows) != 1 || fmt.Sprint(sel.Query.Args) != "[a@x.com]" {
		t.Errorf("unexpected selected event %+v", sel)
	}
	del := events[3]
	if del.Query.Method != "delete" || fmt.Sprint(del.Query.Args) != "[1 2]" || len(del.Rows) != 1 {
		t.Errorf("unexpected deleted event %+v", del)
	}
	for _, ev := range events {
		if ev.Query.Query == "" || ev.Table != "users" {
			t.Errorf("event without statement text: %+v", ev)
		}
	}
}

func TestReturningFollowsDialectFeatures(t *testing.T) {
	f := setup(t, false)
	db := f.manager.GetDB()
	if !returning(db, feature.InsertReturning) || !returning(db, feature.Returning) {
		t.Error("sqlite returns rows from INSERT, UPDATE and DELETE")
	}
	features := mysqldialect.New().Features()
	if features.Has(feature.InsertReturning) || features.Has(feature.Returning) {
		t.Error("mysql rows are read back by primary key")
	}
}
