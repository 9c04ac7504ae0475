package sql

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/uow/dialect"
)

const (
	engineInsertSQL = `INSERT INTO "engines" ("name", "hp") VALUES ($1, $2) RETURNING "id"`
	engineUpdateSQL = `UPDATE "engines" SET "name" = $1 WHERE "id" = $2 AND "name" = $3`
	engineDeleteSQL = `DELETE FROM "engines" WHERE "id" = $1`
)

func TestDriver_Dialect(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{"postgres", dialect.Postgres},
		{"pgx", dialect.Postgres},
		{"mysql", dialect.MySQL},
		{"sqlite", dialect.SQLite},
		{"sqlite3", dialect.SQLite},
		{"sqlserver", dialect.SQLServer},
		{"mssql", dialect.SQLServer},
		{"oracle", "oracle"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			drv, _ := mockDriver(t, tt.driver)
			assert.Equal(t, tt.want, drv.Dialect())
		})
	}
}

func TestConn_Exec(t *testing.T) {
	ctx := context.Background()
	drv, mock := mockDriver(t, dialect.Postgres)
	mock.ExpectExec(engineUpdateSQL).WithArgs("V10", 1, "V8").WillReturnResult(sqlmock.NewResult(0, 1))
	var res Result
	require.NoError(t, drv.Exec(ctx, engineUpdateSQL, []any{"V10", 1, "V8"}, &res))
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mock.ExpectExec(engineDeleteSQL).WithArgs(1).WillReturnError(assert.AnError)
	err = drv.Exec(ctx, engineDeleteSQL, []any{1}, nil)
	require.ErrorIs(t, err, assert.AnError)
	assert.ErrorContains(t, err, "dialect/sql: exec")

	assert.ErrorContains(t, drv.Exec(ctx, engineUpdateSQL, "V10", nil), "expect []any for args")
	assert.ErrorContains(t, drv.Exec(ctx, engineUpdateSQL, []any{}, new(int)), "expect *sql.Result")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_Query(t *testing.T) {
	ctx := context.Background()
	drv, mock := mockDriver(t, dialect.Postgres)
	mock.ExpectQuery(engineInsertSQL).WithArgs("V8", 400).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	var rows Rows
	require.NoError(t, drv.Query(ctx, engineInsertSQL, []any{"V8", 400}, &rows))
	require.True(t, rows.Next())
	var id int64
	require.NoError(t, rows.Scan(&id))
	assert.Equal(t, int64(7), id)
	require.NoError(t, rows.Close())

	assert.ErrorContains(t, drv.Query(ctx, engineInsertSQL, []any{}, new(int)), "expect *sql.Rows")
	assert.ErrorContains(t, drv.Query(ctx, engineInsertSQL, nil, &rows), "expect []any for args")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_Tx(t *testing.T) {
	ctx := context.Background()
	engine := entity(t, garage(t), "Engine")
	drv, mock := mockDriver(t, dialect.Postgres)

	mock.ExpectBegin()
	mock.ExpectExec(engineDeleteSQL).WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	res, err := NewExecutor(tx, drv.Dialect()).Execute(ctx, dialect.Command{
		Op:     dialect.Delete,
		Entity: engine,
		Key:    map[string]any{"ID": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	require.NoError(t, tx.Commit())

	mock.ExpectBegin()
	mock.ExpectRollback()
	tx, err = drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithVar(t *testing.T) {
	ctx := WithVar(WithVar(context.Background(), "statement_timeout", "1s"), "statement_timeout", "5s")
	v, ok := VarFromContext(ctx, "statement_timeout")
	assert.True(t, ok)
	assert.Equal(t, "5s", v, "last value wins")
	_, ok = VarFromContext(ctx, "lock_timeout")
	assert.False(t, ok)

	engine := entity(t, garage(t), "Engine")
	insert := dialect.Command{
		Op:        dialect.Insert,
		Entity:    engine,
		Values:    map[string]any{"Name": "V8", "HP": 400},
		Generated: []string{"ID"},
	}

	t.Run("Pool", func(t *testing.T) {
		drv, mock := mockDriver(t, dialect.Postgres)
		mock.ExpectExec(`SET statement_timeout = '5s'`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(engineInsertSQL).WithArgs("V8", 400).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
		mock.ExpectExec(`RESET statement_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))

		ctx := WithVar(context.Background(), "statement_timeout", "5s")
		res, err := NewExecutor(drv, drv.Dialect()).Execute(ctx, insert)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"ID": int64(7)}, res.Generated)
		require.NoError(t, mock.ExpectationsWereMet(), "the pinned connection is reset before release")
	})

	t.Run("Tx", func(t *testing.T) {
		drv, mock := mockDriver(t, dialect.Postgres)
		mock.ExpectBegin()
		mock.ExpectExec(`SET application_name = 'uow''s apply'`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(engineDeleteSQL).WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		ctx := WithVar(context.Background(), "application_name", "uow's apply")
		_, err = NewExecutor(tx, drv.Dialect()).Execute(ctx, dialect.Command{
			Op:     dialect.Delete,
			Entity: engine,
			Key:    map[string]any{"ID": 1},
		})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InvalidName", func(t *testing.T) {
		drv, mock := mockDriver(t, dialect.Postgres)
		ctx := WithVar(context.Background(), "timeout; DROP TABLE engines", "1")
		_, err := NewExecutor(drv, drv.Dialect()).Execute(ctx, insert)
		assert.ErrorContains(t, err, "invalid session variable name")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unsupported", func(t *testing.T) {
		drv, mock := mockDriver(t, dialect.SQLite)
		ctx := WithVar(context.Background(), "statement_timeout", "5s")
		err := drv.Exec(ctx, engineDeleteSQL, []any{1}, nil)
		assert.ErrorContains(t, err, "not supported by sqlite")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestQuoteLiteral(t *testing.T) {
	tests := []struct {
		dialect string
		in      string
		want    string
	}{
		{dialect.Postgres, "uow's", `'uow''s'`},
		{dialect.MySQL, `a\b'c`, `'a\\b''c'`},
		{dialect.SQLServer, "uow's", `'uow''s'`},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			assert.Equal(t, tt.want, quoteLiteral(tt.dialect, tt.in))
		})
	}
}
