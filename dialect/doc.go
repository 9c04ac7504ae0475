// Package dialect defines the contracts between the persistence engine and
// the stores it writes to.
//
// # Supported Dialects
//
// The following dialects are supported by the SQL executor:
//
//   - Postgres: PostgreSQL database
//   - MySQL: MySQL/MariaDB database
//   - SQLite: SQLite database
//   - SQLServer: Microsoft SQL Server
//
// Each dialect is identified by a constant string:
//
//	dialect.Postgres  = "postgres"
//	dialect.MySQL     = "mysql"
//	dialect.SQLite    = "sqlite"
//	dialect.SQLServer = "sqlserver"
//
// # Executor Interface
//
// The engine hands ordered write commands to an Executor, one at a time:
//
//	type Executor interface {
//	    Execute(ctx context.Context, cmd Command) (Result, error)
//	}
//
// A Command carries the operation (Insert, Update or Delete), the entity
// type, the key values, the values to write, the concurrency precondition
// and the names of store-generated properties to read back. The Result
// reports the number of affected rows and the generated values.
//
// # Driver Interface
//
// SQL executors run statements through a Driver:
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// Tx extends ExecQuerier with Commit and Rollback. Running an executor on
// a Tx makes a whole save atomic:
//
//	tx, err := drv.Tx(ctx)
//	if err != nil {
//	    return err
//	}
//	scope, err := session.New(ctx, schema.Static(model), sql.NewExecutor(tx, drv.Dialect()))
//	...
//	if _, err := scope.SaveChanges(ctx); err != nil {
//	    return errors.Join(err, tx.Rollback())
//	}
//	return tx.Commit()
//
// # Sub-packages
//
//   - dialect/sql: driver wrapper, SQL executor and sequence provider
//   - dialect/sql/sqlgraph: driver error classification
package dialect
