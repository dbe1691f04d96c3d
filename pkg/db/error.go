package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if hasPGCode(err, pgUniqueViolation) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsRetryable reports whether err is a transient concurrency failure: a
// serialization failure, a detected deadlock or a lock wait timeout.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if hasPGCode(err, pgSerializationFailure) ||
		hasPGCode(err, pgDeadlockDetected) ||
		hasPGCode(err, pgLockNotAvailable) {
		return true
	}

	msg := err.Error()
	// MySQL deadlock (1213) and lock wait timeout (1205).
	if strings.Contains(msg, "Error 1213") || strings.Contains(msg, "Error 1205") {
		return true
	}
	// SQLite writer contention.
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// PGCode returns the PostgreSQL SQLSTATE carried by err, if any.
func PGCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func hasPGCode(err error, code string) bool {
	return PGCode(err) == code
}
