// Package sql executes write commands against SQL databases.
//
// # Driver
//
// Driver wraps a *sql.DB and implements dialect.Driver. Open, OpenDB and
// the dialect specific constructors return one:
//
//	drv, err := sql.OpenPostgres("postgres://localhost/shop")  // pgx
//	drv, err := sql.OpenMySQL("user:pass@/shop")              // go-sql-driver/mysql
//	drv, err := sql.OpenSQLite("shop.db")                     // modernc.org/sqlite
//
// Session variables set through WithVar are applied before every statement
// run with the context.
//
// # Executor
//
// Executor implements dialect.Executor. Each command becomes one INSERT,
// UPDATE or DELETE statement:
//
//	INSERT INTO "orders" ("customer_id", "ship_city") VALUES ($1, $2) RETURNING "order_id"
//	UPDATE "engines" SET "name" = $1 WHERE "id" = $2 AND "name" = $3
//	DELETE FROM "engines" WHERE "id" = $1 AND "name" = $2
//
// Store-generated values are read with RETURNING on PostgreSQL and SQLite,
// OUTPUT INSERTED on SQL Server, and LastInsertId plus a select by key on
// MySQL. When an update or delete with a precondition affects no row, the
// stored token values are read back into the result.
//
// Placeholders follow the dialect ($1, ?, @p1). Identifiers are quoted
// with double quotes, backticks or brackets.
//
// # Sequences
//
// Sequences implements keygen.Provider. PostgreSQL draws blocks with
// nextval over generate_series, SQL Server with NEXT VALUE FOR, and MySQL
// and SQLite keep a hi-lo row per sequence in DefaultSequenceTable.
//
// # Errors
//
// Constraint violations are wrapped in a sqlgraph.ConstraintError, whose
// kind is reported by uow.ExecutionError.Constraint.
package sql
