package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// IsDuplicateKeyErr reports unique-constraint violations across the
// supported dialects.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return containsAny(err.Error(),
		"duplicate key value violates unique constraint", // postgres 23505
		"Error 1062",                // mysql
		"UNIQUE constraint failed", // sqlite 2067
	)
}

// IsLockContention reports errors caused by concurrent writers on the same
// rows: serialization failures, lock timeouts and busy sqlite files.
func IsLockContention(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
		return false
	}
	return containsAny(err.Error(),
		"SQLSTATE 40001",
		"SQLSTATE 40P01",
		"SQLSTATE 55P03",
		"Error 1213",
		"Error 1205",
		"database is locked",
		"SQLITE_BUSY",
	)
}

func containsAny(msg string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
