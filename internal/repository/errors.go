// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios. For
// example, ErrForbidden indicates that the current user is not
// authorized to act on a record owned by someone else, while
// ErrDuplicateIdentity signals that a unique username/email constraint
// rejected a write.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
// Handlers should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrDuplicateIdentity is returned when an insert or update collides with
// the unique username or email index. Handlers should translate this
// into an HTTP 409 response.
var ErrDuplicateIdentity = errors.New("username or email already exists")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// MySQL rejections that no retry can fix.
const (
	mysqlBadFieldValue = 1366 // ER_TRUNCATED_WRONG_VALUE_FOR_FIELD
	mysqlDataTooLong   = 1406 // ER_DATA_TOO_LONG
	mysqlNoParentRow   = 1452 // ER_NO_REFERENCED_ROW_2
)

// IsPermanentWriteError reports whether err is a write the database will
// refuse every time: a foreign key naming a deleted row, or a value that does
// not fit its column.
func IsPermanentWriteError(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	switch me.Number {
	case mysqlBadFieldValue, mysqlDataTooLong, mysqlNoParentRow:
		return true
	}
	return false
}
