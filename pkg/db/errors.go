package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
)

const (
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// driverError is the common view over the postgres and sqlite driver errors.
type driverError struct {
	pgCode     string
	constraint string
	sqlite     *sqlite3.Error
}

func classify(err error) driverError {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return driverError{pgCode: pgxErr.Code, constraint: pgxErr.ConstraintName}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return driverError{pgCode: string(pqErr.Code), constraint: pqErr.Constraint}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return driverError{sqlite: &liteErr}
	}
	return driverError{}
}

func (d driverError) sqliteExtended(codes ...sqlite3.ErrNoExtended) bool {
	if d.sqlite == nil {
		return false
	}
	for _, code := range codes {
		if d.sqlite.ExtendedCode == code {
			return true
		}
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint violation. A
// non-empty constraintName must appear in the constraint name or, for sqlite,
// in the message naming the offending column.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	d := classify(err)
	unique := d.pgCode == pgUniqueViolation ||
		d.sqliteExtended(sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey) ||
		errors.Is(err, gorm.ErrDuplicatedKey)
	if !unique || constraintName == "" {
		return unique
	}
	if d.constraint != "" {
		return strings.Contains(d.constraint, constraintName)
	}
	return strings.Contains(err.Error(), constraintName)
}

// IsCheckViolation reports a CHECK constraint failure.
func IsCheckViolation(err error) bool {
	if err == nil {
		return false
	}
	d := classify(err)
	return d.pgCode == pgCheckViolation || d.sqliteExtended(sqlite3.ErrConstraintCheck)
}

// IsConcurrencyConflict reports transient lock or serialization failures that a caller may retry.
func IsConcurrencyConflict(err error) bool {
	if err == nil {
		return false
	}
	d := classify(err)
	switch d.pgCode {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return true
	}
	if d.sqlite != nil {
		return d.sqlite.Code == sqlite3.ErrBusy || d.sqlite.Code == sqlite3.ErrLocked
	}
	return false
}

// MapError translates a raw storage error into the typed error taxonomy.
// Errors that are already typed pass through untouched.
func MapError(err error, message string) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, message)
	case IsConcurrencyConflict(err):
		return pkgerrors.Wrap(pkgerrors.CodeConcurrency, err, message)
	case IsUniqueViolation(err, ""):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, message)
	default:
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, message)
	}
}
