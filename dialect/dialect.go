package dialect

import (
	"context"
	"database/sql/driver"

	"github.com/syssam/uow/schema"
)

// Dialect names for external usage.
const (
	MySQL     = "mysql"
	SQLite    = "sqlite"
	Postgres  = "postgres"
	SQLServer = "sqlserver"
)

// ExecQuerier wraps the 2 database operations.
type ExecQuerier interface {
	// Exec executes a query that does not return records. For example, in SQL, INSERT or UPDATE.
	// It scans the result into the pointer v. For SQL drivers, it is dialect/sql.Result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a query that returns rows, typically a SELECT in SQL.
	// It scans the result into the pointer v. For SQL drivers, it is *dialect/sql.Rows.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface that wraps all necessary operations for the
// SQL executor and sequence provider.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps the Exec and Query operations in transaction.
type Tx interface {
	ExecQuerier
	driver.Tx
}

// Op is the kind of write a command performs.
type Op uint8

// Write operations.
const (
	Insert Op = iota + 1
	Update
	Delete
)

// String returns the operation name in lower case.
func (o Op) String() string {
	switch o {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Command is a single write handed to an Executor.
type Command struct {
	Op     Op
	Entity *schema.EntityType
	// Key holds the key values identifying the row. For inserts of
	// identity keyed entities it is empty.
	Key map[string]any
	// Values holds the columns to write: every non store-generated
	// property for inserts, the modified properties for updates.
	Values map[string]any
	// Precondition holds the expected stored values of the concurrency
	// tokens. Updates and deletes only affect the row when they match.
	Precondition map[string]any
	// Generated names the properties the store computes and the executor
	// must return in the result.
	Generated []string
}

// Result is the outcome of a command.
type Result struct {
	RowsAffected int64
	// Generated holds the values of the requested store-generated
	// properties.
	Generated map[string]any
	// Actual optionally holds the stored token values when a precondition
	// did not match.
	Actual map[string]any
}

// Executor executes write commands, one at a time, in the order they are
// issued.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(context.Context, Command) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}
