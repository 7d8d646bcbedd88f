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

package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind is the stable identifier of a domain error.
type ErrorKind string

// Lifecycle and registry kinds.
const (
	KindConnection    ErrorKind = "ConnectionError"
	KindNotConnected  ErrorKind = "NotConnectedError"
	KindDisconnect    ErrorKind = "DisconnectError"
	KindTableNotFound ErrorKind = "TableNotFoundError"
)

// No-result kinds, raised only when the caller opts in.
const (
	KindNotCreated ErrorKind = "NotCreated"
	KindNotFound   ErrorKind = "NotFound"
	KindNotUpdated ErrorKind = "NotUpdated"
	KindNotDeleted ErrorKind = "NotDeleted"
)

// Validation kinds produced before any statement reaches the server.
const (
	KindInvalidFilter   ErrorKind = "InvalidFilter"
	KindInvalidArgument ErrorKind = "InvalidArgument"
)

// Native classifications.
const (
	KindAccessDenied        ErrorKind = "AccessDenied"
	KindAuthorizationFailed ErrorKind = "AuthorizationFailed"
	KindPermissionDenied    ErrorKind = "PermissionDenied"
	KindSyntaxError         ErrorKind = "SyntaxError"
	KindColumnNotFound      ErrorKind = "ColumnNotFound"
	KindAmbiguousColumn     ErrorKind = "AmbiguousColumn"
	KindDuplicateKey        ErrorKind = "DuplicateKey"
	KindUniqueViolation     ErrorKind = "UniqueViolation"
	KindForeignKeyViolation ErrorKind = "ForeignKeyViolation"
	KindNotNullViolation    ErrorKind = "NotNullViolation"
	KindCheckViolation      ErrorKind = "CheckViolation"
	KindIdentityViolation   ErrorKind = "IdentityViolation"
	KindDeadlock            ErrorKind = "Deadlock"
	KindResourceLocked      ErrorKind = "ResourceLocked"
	KindTransactionAborted  ErrorKind = "TransactionAborted"
	KindInsufficientMemory  ErrorKind = "InsufficientMemory"
	KindInsufficientStorage ErrorKind = "InsufficientStorage"
	KindQueryTimeout        ErrorKind = "QueryTimeout"
	KindLogFull             ErrorKind = "LogFull"
	KindDataTooLong         ErrorKind = "DataTooLong"
	KindQueryError          ErrorKind = "QueryError"
)

var statusHints = map[ErrorKind]int{
	KindConnection:          http.StatusServiceUnavailable,
	KindNotConnected:        http.StatusServiceUnavailable,
	KindDisconnect:          http.StatusInternalServerError,
	KindTableNotFound:       http.StatusNotFound,
	KindNotCreated:          http.StatusBadRequest,
	KindNotFound:            http.StatusNotFound,
	KindNotUpdated:          http.StatusNotFound,
	KindNotDeleted:          http.StatusNotFound,
	KindInvalidFilter:       http.StatusBadRequest,
	KindInvalidArgument:     http.StatusBadRequest,
	KindAccessDenied:        http.StatusForbidden,
	KindAuthorizationFailed: http.StatusUnauthorized,
	KindPermissionDenied:    http.StatusForbidden,
	KindSyntaxError:         http.StatusBadRequest,
	KindColumnNotFound:      http.StatusBadRequest,
	KindAmbiguousColumn:     http.StatusBadRequest,
	KindDuplicateKey:        http.StatusConflict,
	KindUniqueViolation:     http.StatusConflict,
	KindForeignKeyViolation: http.StatusConflict,
	KindNotNullViolation:    http.StatusBadRequest,
	KindCheckViolation:      http.StatusBadRequest,
	KindIdentityViolation:   http.StatusBadRequest,
	KindDeadlock:            http.StatusConflict,
	KindResourceLocked:      http.StatusLocked,
	KindTransactionAborted:  http.StatusConflict,
	KindInsufficientMemory:  http.StatusInsufficientStorage,
	KindInsufficientStorage: http.StatusInsufficientStorage,
	KindQueryTimeout:        http.StatusGatewayTimeout,
	KindLogFull:             http.StatusInsufficientStorage,
	KindDataTooLong:         http.StatusRequestEntityTooLarge,
	KindQueryError:          http.StatusInternalServerError,
}

// StatusHint returns the HTTP status usually associated with the kind, or 0.
func (k ErrorKind) StatusHint() int {
	return statusHints[k]
}

// ErrorDetail carries enough context to log an error without re-deriving it.
type ErrorDetail struct {
	Database  string `json:"database,omitempty"`
	Table     string `json:"table,omitempty"`
	Operation string `json:"operation,omitempty"`
	// Code is the native engine code (MySQL number, SQLSTATE, sqlite result code).
	Code string `json:"code,omitempty"`
}

// Error is the domain error returned by every engine and repository operation.
type Error struct {
	Kind    ErrorKind   `json:"kind"`
	Status  int         `json:"status,omitempty"`
	Message string      `json:"message"`
	Detail  ErrorDetail `json:"detail"`
	Cause   error       `json:"-"`
}

// NewError builds an Error of the given kind with its default status hint.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Status:  kind.StatusHint(),
		Message: message,
		Cause:   cause,
	}
}

// Errorf is NewError with a formatted message and no cause.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return NewError(kind, fmt.Sprintf(format, args...), nil)
}

// WithTable fills in the table and database when they are not set yet.
func (e *Error) WithTable(database, table string) *Error {
	if e.Detail.Database == "" {
		e.Detail.Database = database
	}
	if e.Detail.Table == "" {
		e.Detail.Table = table
	}
	return e
}

// WithOperation sets the operation name when it is not set yet.
func (e *Error) WithOperation(op string) *Error {
	if e.Detail.Operation == "" {
		e.Detail.Operation = op
	}
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Detail.Table != "" {
		b.WriteString(" [")
		if e.Detail.Database != "" {
			b.WriteString(e.Detail.Database)
			b.WriteByte('.')
		}
		b.WriteString(e.Detail.Table)
		b.WriteByte(']')
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// AsError extracts the domain error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindQueryError for foreign errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindQueryError
}

// IsKind reports whether err is a domain error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}
