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
	"database/sql/driver"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/tomoncle/tabula/types"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var mysqlKinds = map[uint16]types.ErrorKind{
	1044: types.KindAccessDenied,
	1045: types.KindAccessDenied,
	1142: types.KindPermissionDenied,
	1143: types.KindPermissionDenied,
	1227: types.KindPermissionDenied,
	1064: types.KindSyntaxError,
	1054: types.KindColumnNotFound,
	1146: types.KindTableNotFound,
	1052: types.KindAmbiguousColumn,
	1062: types.KindDuplicateKey,
	1169: types.KindUniqueViolation,
	1586: types.KindUniqueViolation,
	1216: types.KindForeignKeyViolation,
	1217: types.KindForeignKeyViolation,
	1451: types.KindForeignKeyViolation,
	1452: types.KindForeignKeyViolation,
	1048: types.KindNotNullViolation,
	1364: types.KindNotNullViolation,
	3819: types.KindCheckViolation,
	1213: types.KindDeadlock,
	1205: types.KindResourceLocked,
	1099: types.KindResourceLocked,
	1100: types.KindResourceLocked,
	1180: types.KindTransactionAborted,
	1181: types.KindTransactionAborted,
	1037: types.KindInsufficientMemory,
	1038: types.KindInsufficientMemory,
	1041: types.KindInsufficientMemory,
	1021: types.KindInsufficientStorage,
	1114: types.KindInsufficientStorage,
	3024: types.KindQueryTimeout,
	1317: types.KindQueryTimeout,
	1406: types.KindDataTooLong,
	1264: types.KindDataTooLong,
	1265: types.KindDataTooLong,
	1153: types.KindDataTooLong,
	1197: types.KindLogFull,
	1534: types.KindLogFull,
	1040: types.KindConnection,
}

var pgKinds = map[string]types.ErrorKind{
	pgerrcode.InvalidPassword:                        types.KindAccessDenied,
	pgerrcode.InvalidAuthorizationSpecification:      types.KindAuthorizationFailed,
	pgerrcode.InsufficientPrivilege:                  types.KindPermissionDenied,
	pgerrcode.SyntaxError:                            types.KindSyntaxError,
	pgerrcode.UndefinedColumn:                        types.KindColumnNotFound,
	pgerrcode.UndefinedTable:                         types.KindTableNotFound,
	pgerrcode.AmbiguousColumn:                        types.KindAmbiguousColumn,
	pgerrcode.UniqueViolation:                        types.KindDuplicateKey,
	pgerrcode.ForeignKeyViolation:                    types.KindForeignKeyViolation,
	pgerrcode.NotNullViolation:                       types.KindNotNullViolation,
	pgerrcode.CheckViolation:                         types.KindCheckViolation,
	pgerrcode.GeneratedAlways:                        types.KindIdentityViolation,
	pgerrcode.DeadlockDetected:                       types.KindDeadlock,
	pgerrcode.LockNotAvailable:                       types.KindResourceLocked,
	pgerrcode.InFailedSQLTransaction:                 types.KindTransactionAborted,
	pgerrcode.SerializationFailure:                   types.KindTransactionAborted,
	pgerrcode.OutOfMemory:                            types.KindInsufficientMemory,
	pgerrcode.DiskFull:                               types.KindInsufficientStorage,
	pgerrcode.QueryCanceled:                          types.KindQueryTimeout,
	pgerrcode.StringDataRightTruncationDataException: types.KindDataTooLong,
	pgerrcode.ProgramLimitExceeded:                   types.KindDataTooLong,
	pgerrcode.TooManyConnections:                     types.KindConnection,
}

var sqliteKinds = map[int]types.ErrorKind{
	sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY: types.KindDuplicateKey,
	sqlite3.SQLITE_CONSTRAINT_UNIQUE:     types.KindDuplicateKey,
	sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY: types.KindForeignKeyViolation,
	sqlite3.SQLITE_CONSTRAINT_NOTNULL:    types.KindNotNullViolation,
	sqlite3.SQLITE_CONSTRAINT_CHECK:      types.KindCheckViolation,
	sqlite3.SQLITE_PERM:                  types.KindPermissionDenied,
	sqlite3.SQLITE_READONLY:              types.KindPermissionDenied,
	sqlite3.SQLITE_AUTH:                  types.KindAuthorizationFailed,
	sqlite3.SQLITE_BUSY:                  types.KindResourceLocked,
	sqlite3.SQLITE_LOCKED:                types.KindResourceLocked,
	sqlite3.SQLITE_ABORT:                 types.KindTransactionAborted,
	sqlite3.SQLITE_NOMEM:                 types.KindInsufficientMemory,
	sqlite3.SQLITE_FULL:                  types.KindInsufficientStorage,
	sqlite3.SQLITE_INTERRUPT:             types.KindQueryTimeout,
	sqlite3.SQLITE_TOOBIG:                types.KindDataTooLong,
	sqlite3.SQLITE_CANTOPEN:              types.KindConnection,
}

// Classify maps a native driver error onto a domain kind. The second result
// is the native code, empty when the kind was derived from the message.
func Classify(err error) (types.ErrorKind, string) {
	if err == nil {
		return "", ""
	}
	if e, ok := types.AsError(err); ok {
		return e.Kind, e.Detail.Code
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		code := strconv.Itoa(int(myErr.Number))
		if kind, ok := mysqlKinds[myErr.Number]; ok {
			return kind, code
		}
		return types.KindQueryError, code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(string(pqErr.Code)), string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code), pgErr.Code
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if kind, ok := sqliteKinds[code]; ok {
			return kind, strconv.Itoa(code)
		}
		if kind, ok := sqliteKinds[code&0xff]; ok {
			return kind, strconv.Itoa(code)
		}
		// SQLITE_ERROR carries the interesting part in its message
		return classifyMessage(err), strconv.Itoa(code)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.KindQueryTimeout, ""
	case errors.Is(err, sql.ErrTxDone):
		return types.KindTransactionAborted, ""
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return types.KindConnection, ""
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return types.KindQueryTimeout, ""
		}
		return types.KindConnection, ""
	}
	return classifyMessage(err), ""
}

func classifySQLState(code string) types.ErrorKind {
	if kind, ok := pgKinds[code]; ok {
		return kind
	}
	switch {
	case pgerrcode.IsConnectionException(code):
		return types.KindConnection
	case pgerrcode.IsTransactionRollback(code):
		return types.KindTransactionAborted
	case pgerrcode.IsInsufficientResources(code):
		return types.KindInsufficientStorage
	case pgerrcode.IsIntegrityConstraintViolation(code):
		return types.KindCheckViolation
	}
	return types.KindQueryError
}

// classifyMessage is the last resort for drivers without typed errors.
func classifyMessage(err error) types.ErrorKind {
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "no such column"),
		strings.Contains(s, "undefined column"),
		strings.Contains(s, "unknown column"):
		return types.KindColumnNotFound
	case strings.Contains(s, "no such table"),
		strings.Contains(s, "undefined table"):
		return types.KindTableNotFound
	case strings.Contains(s, "ambiguous column"):
		return types.KindAmbiguousColumn
	case strings.Contains(s, "syntax error"):
		return types.KindSyntaxError
	case strings.Contains(s, "unique constraint failed"),
		strings.Contains(s, "duplicate key value"),
		strings.Contains(s, "duplicate entry"):
		return types.KindDuplicateKey
	case strings.Contains(s, "foreign key constraint failed"),
		strings.Contains(s, "foreign key violation"):
		return types.KindForeignKeyViolation
	case strings.Contains(s, "not null constraint failed"),
		strings.Contains(s, "not-null constraint"):
		return types.KindNotNullViolation
	case strings.Contains(s, "check constraint"):
		return types.KindCheckViolation
	case strings.Contains(s, "deadlock"):
		return types.KindDeadlock
	case strings.Contains(s, "database is locked"),
		strings.Contains(s, "lock wait timeout"):
		return types.KindResourceLocked
	case strings.Contains(s, "out of memory"):
		return types.KindInsufficientMemory
	case strings.Contains(s, "disk is full"),
		strings.Contains(s, "database or disk is full"):
		return types.KindInsufficientStorage
	case strings.Contains(s, "string or blob too big"),
		strings.Contains(s, "data too long"),
		strings.Contains(s, "value too long"):
		return types.KindDataTooLong
	case strings.Contains(s, "permission denied"),
		strings.Contains(s, "access denied"):
		return types.KindPermissionDenied
	}
	return types.KindQueryError
}

// Wrap routes err through the classifier. Domain errors pass through and
// only get their missing context filled in.
func Wrap(err error, database, table, operation string) error {
	if err == nil {
		return nil
	}
	if e, ok := types.AsError(err); ok {
		return e.WithTable(database, table).WithOperation(operation)
	}
	kind, code := Classify(err)
	e := types.NewError(kind, operation+" failed", err).WithTable(database, table).WithOperation(operation)
	e.Detail.Code = code
	return e
}
