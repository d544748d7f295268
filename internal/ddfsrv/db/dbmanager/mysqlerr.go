package dbmanager

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// MariaDB/MySQL server error numbers the service reacts to.
const (
	errDupEntry        = 1062
	errRowTooBig       = 1118
	errTooManyColumns  = 1117
	errDeadlock        = 1213
	errTableExists     = 1050
	errAccessDeniedDB  = 1044
	errAccessDeniedUsr = 1045
)

func mysqlErrNumber(err error) uint16 {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}

// IsDuplicateEntry reports a unique key violation.
func IsDuplicateEntry(err error) bool {
	return mysqlErrNumber(err) == errDupEntry
}

// IsDeadlock reports a lock deadlock; the caller may retry.
func IsDeadlock(err error) bool {
	return mysqlErrNumber(err) == errDeadlock
}

// IsTableTooWide reports that a CREATE TABLE exceeded the column count or
// row size limit, the trigger for a wide-table split.
func IsTableTooWide(err error) bool {
	n := mysqlErrNumber(err)
	return n == errRowTooBig || n == errTooManyColumns
}

// IsTableExists reports that the table already exists.
func IsTableExists(err error) bool {
	return mysqlErrNumber(err) == errTableExists
}

// IsAccessDenied reports a privilege failure. The startup migration treats
// this as benign when the table already exists.
func IsAccessDenied(err error) bool {
	n := mysqlErrNumber(err)
	return n == errAccessDeniedDB || n == errAccessDeniedUsr
}
