package models

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"time"
)

/*
   Column      | Type         | Nullable | Default
---------------+--------------+----------+------------------
 name          | VARCHAR(255) | not null |
 version       | VARCHAR(40)  | not null |
 is__default   | BOOLEAN      |          | FALSE
 definition    | JSON         |          |
 imported      | DATETIME     |          | CURRENT_TIMESTAMP
 password      | VARCHAR(80)  | yes      | NULL
*/

// Dataset is a row of the datasets catalog table: one imported version of a
// named dataset. Definition holds the serialized schema model including
// physical table names.
type Dataset struct {
	Name         string          `db:"name"`
	Version      string          `db:"version"`
	IsDefault    bool            `db:"is__default"`
	Definition   json.RawMessage `db:"definition"`
	Imported     time.Time       `db:"imported"`
	PasswordHash string          `db:"password"`
}

// Protected reports whether the version requires HTTP Basic credentials.
func (d *Dataset) Protected() bool {
	return d.PasswordHash != ""
}

// HashPassword returns the hex SHA-256 digest stored in the password
// column.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// CheckPassword verifies a presented password against the stored hash.
func (d *Dataset) CheckPassword(password string) bool {
	if !d.Protected() {
		return true
	}
	presented := HashPassword(password)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(d.PasswordHash)) == 1
}
