package sql

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/syssam/uow/dialect"
)

// OpenPostgres opens a PostgreSQL database through pgx.
func OpenPostgres(dsn string) (*Driver, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: parse postgres dsn: %w", err)
	}
	return OpenDB(dialect.Postgres, stdlib.OpenDB(*cfg)), nil
}

// OpenMySQL opens a MySQL database. The connection reports matched rows
// instead of changed rows, so an update writing identical values still
// counts as affecting its row.
func OpenMySQL(dsn string) (*Driver, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: parse mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	cfg.ParseTime = true
	conn, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: mysql connector: %w", err)
	}
	return OpenDB(dialect.MySQL, sql.OpenDB(conn)), nil
}

// OpenSQLite opens a SQLite database with foreign key enforcement on.
func OpenSQLite(path string) (*Driver, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path))
	if err != nil {
		return nil, err
	}
	return OpenDB(dialect.SQLite, db), nil
}
