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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tomoncle/tabula/table"
	"github.com/tomoncle/tabula/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// catalogRow is one column of one base table as reported by the catalog.
// PKPosition is the column's 1-based position in the primary key, 0 if it
// is not part of it.
type catalogRow struct {
	TableName       string `bun:"table_name"`
	ColumnName      string `bun:"column_name"`
	OrdinalPosition int    `bun:"ordinal_position"`
	DataType        string `bun:"data_type"`
	PKPosition      int    `bun:"pk_position"`
}

const sqliteCatalogQuery = `SELECT m.name AS table_name, p.name AS column_name,
 p.cid + 1 AS ordinal_position, p.type AS data_type, p.pk AS pk_position
FROM sqlite_master AS m
JOIN pragma_table_info(m.name) AS p
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`

const postgresCatalogQuery = `SELECT c.table_name::text AS table_name, c.column_name::text AS column_name,
 c.ordinal_position::int AS ordinal_position, c.data_type::text AS data_type,
 COALESCE(k.ordinal_position, 0)::int AS pk_position
FROM information_schema.columns AS c
JOIN information_schema.tables AS t
 ON t.table_schema = c.table_schema AND t.table_name = c.table_name AND t.table_type = 'BASE TABLE'
LEFT JOIN information_schema.table_constraints AS tc
 ON tc.table_schema = c.table_schema AND tc.table_name = c.table_name AND tc.constraint_type = 'PRIMARY KEY'
LEFT JOIN information_schema.key_column_usage AS k
 ON k.constraint_schema = tc.constraint_schema AND k.constraint_name = tc.constraint_name
 AND k.table_name = c.table_name AND k.column_name = c.column_name
WHERE c.table_schema = current_schema()
ORDER BY c.table_name, c.ordinal_position`

const mysqlCatalogQuery = `SELECT c.TABLE_NAME AS table_name, c.COLUMN_NAME AS column_name,
 c.ORDINAL_POSITION AS ordinal_position, c.DATA_TYPE AS data_type,
 COALESCE(k.ORDINAL_POSITION, 0) AS pk_position
FROM INFORMATION_SCHEMA.COLUMNS AS c
JOIN INFORMATION_SCHEMA.TABLES AS t
 ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME AND t.TABLE_TYPE = 'BASE TABLE'
LEFT JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE AS k
 ON k.TABLE_SCHEMA = c.TABLE_SCHEMA AND k.TABLE_NAME = c.TABLE_NAME
 AND k.COLUMN_NAME = c.COLUMN_NAME AND k.CONSTRAINT_NAME = 'PRIMARY'
WHERE c.TABLE_SCHEMA = DATABASE()
ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`

func catalogQuery(name dialect.Name) (string, error) {
	switch name {
	case dialect.SQLite:
		return sqliteCatalogQuery, nil
	case dialect.PG:
		return postgresCatalogQuery, nil
	case dialect.MySQL:
		return mysqlCatalogQuery, nil
	}
	return "", fmt.Errorf("catalog introspection is not supported for dialect %s", name)
}

// Introspect reads every base table of the current schema in one catalog
// query and returns their validated descriptors ordered by table name.
// Failures are reported as ConnectionError.
func Introspect(ctx context.Context, db bun.IDB, database string) ([]table.Schema, error) {
	query, err := catalogQuery(db.Dialect().Name())
	if err != nil {
		return nil, types.NewError(types.KindConnection, "schema introspection failed", err).
			WithTable(database, "").WithOperation("introspect")
	}
	var rows []catalogRow
	if err := db.NewRaw(query).Scan(ctx, &rows); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.KindConnection, "schema introspection failed", err).
			WithTable(database, "").WithOperation("introspect")
	}
	schemas, err := parseCatalog(database, rows)
	if err != nil {
		return nil, types.NewError(types.KindConnection, "schema introspection failed", err).
			WithTable(database, "").WithOperation("introspect")
	}
	return schemas, nil
}

// parseCatalog groups catalog rows by table, orders columns by position and
// picks the first primary key column.
func parseCatalog(database string, rows []catalogRow) ([]table.Schema, error) {
	byTable := make(map[string][]catalogRow)
	for _, r := range rows {
		byTable[r.TableName] = append(byTable[r.TableName], r)
	}
	names := make([]string, 0, len(byTable))
	for name := range byTable {
		names = append(names, name)
	}
	sort.Strings(names)

	schemas := make([]table.Schema, 0, len(names))
	for _, name := range names {
		cols := byTable[name]
		sort.SliceStable(cols, func(i, j int) bool { return cols[i].OrdinalPosition < cols[j].OrdinalPosition })

		s := table.Schema{Database: database, Name: name, Columns: make([]string, 0, len(cols))}
		pkPos := 0
		for _, c := range cols {
			s.Columns = append(s.Columns, c.ColumnName)
			if c.PKPosition > 0 && (pkPos == 0 || c.PKPosition < pkPos) {
				pkPos = c.PKPosition
				s.PrimaryKey = table.PrimaryKey{Column: c.ColumnName, Type: KeyTypeOf(c.DataType)}
			}
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

var integerTypes = map[string]bool{
	"int": true, "integer": true, "smallint": true, "bigint": true,
	"tinyint": true, "mediumint": true,
	"int2": true, "int4": true, "int8": true,
	"serial": true, "smallserial": true, "bigserial": true,
	"serial2": true, "serial4": true, "serial8": true,
}

// KeyTypeOf maps a native column type to the logical key type. Only the
// integer family is NUMBER.
func KeyTypeOf(nativeType string) table.KeyType {
	t := strings.ToLower(strings.TrimSpace(nativeType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "unsigned"))
	if integerTypes[t] {
		return table.KeyNumber
	}
	return table.KeyString
}
