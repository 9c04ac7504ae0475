// Package sqlgraph classifies the errors of SQL drivers.
package sqlgraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Constraint kinds.
const (
	Unique     = "unique"
	ForeignKey = "foreign_key"
	Check      = "check"
)

// ConstraintError is a driver error caused by a constraint violation.
type ConstraintError struct {
	// Kind is one of Unique, ForeignKey or Check.
	Kind string
	// Name is the violated constraint when the driver reports it.
	Name string
	Err  error
}

// Error implements the error interface.
func (e *ConstraintError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s constraint %q violated: %v", e.Kind, e.Name, e.Err)
	}
	return fmt.Sprintf("%s constraint violated: %v", e.Kind, e.Err)
}

// Unwrap returns the driver error.
func (e *ConstraintError) Unwrap() error { return e.Err }

// ConstraintKind returns the kind of the violated constraint.
func (e *ConstraintError) ConstraintKind() string { return e.Kind }

// Classify wraps err in a ConstraintError when it is a constraint
// violation and returns it unchanged otherwise.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return err
	}
	kind, name := classify(err)
	if kind == "" {
		return err
	}
	return &ConstraintError{Kind: kind, Name: name, Err: err}
}

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	return kindOf(err) != ""
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
// e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	return kindOf(err) == Unique
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	return kindOf(err) == ForeignKey
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
func IsCheckConstraintError(err error) bool {
	return kindOf(err) == Check
}

func kindOf(err error) string {
	if err == nil {
		return ""
	}
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	kind, _ := classify(err)
	return kind
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

func classify(err error) (kind, name string) {
	var (
		pqErr     *pq.Error
		pgErr     *pgconn.PgError
		myErr     *mysql.MySQLError
		sqliteErr *sqlite.Error
	)
	switch {
	case errors.As(err, &pqErr):
		return pgKind(string(pqErr.Code)), pqErr.Constraint
	case errors.As(err, &pgErr):
		return pgKind(pgErr.Code), pgErr.ConstraintName
	case errors.As(err, &myErr):
		switch myErr.Number {
		case mysqlDuplicateEntry:
			return Unique, ""
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return ForeignKey, ""
		case mysqlCheckConstraintViolate:
			return Check, ""
		}
		return "", ""
	case errors.As(err, &sqliteErr):
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return Unique, ""
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ForeignKey, ""
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return Check, ""
		}
	}
	// Drivers without typed errors, or errors flattened to strings.
	msg := err.Error()
	switch {
	case containsAny(msg, "Error 1062", "violates unique constraint", "UNIQUE constraint failed", "Violation of UNIQUE KEY", "Violation of PRIMARY KEY"):
		return Unique, ""
	case containsAny(msg, "Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed", "conflicted with the FOREIGN KEY"):
		return ForeignKey, ""
	case containsAny(msg, "Error 3819", "violates check constraint", "CHECK constraint failed", "conflicted with the CHECK"):
		return Check, ""
	}
	return "", ""
}

func pgKind(code string) string {
	switch code {
	case pgUniqueViolation:
		return Unique
	case pgForeignKeyViolation:
		return ForeignKey
	case pgCheckViolation:
		return Check
	}
	return ""
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
