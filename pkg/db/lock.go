package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForUpdate adds a row lock to the statement on dialects that support it.
// SQLite serializes writers at the database level, so the clause is skipped.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if IsSQLite(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

// SetLocalLockTimeout bounds how long a PostgreSQL transaction waits on row
// locks. It is a no-op on other dialects.
func SetLocalLockTimeout(tx *gorm.DB, timeout time.Duration) error {
	if !IsPostgres(tx) || timeout <= 0 {
		return nil
	}
	return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = %d", timeout.Milliseconds())).Error
}
