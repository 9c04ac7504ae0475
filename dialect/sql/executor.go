package sql

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/syssam/uow/dialect"
	"github.com/syssam/uow/dialect/sql/sqlgraph"
)

// Executor executes write commands as SQL statements. Run it on a
// dialect.Tx to make a whole save atomic.
type Executor struct {
	conn    dialect.ExecQuerier
	dialect string
	log     *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger receiving one debug record per statement.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.log = l
	}
}

// NewExecutor returns an Executor running statements of the given dialect
// on conn.
func NewExecutor(conn dialect.ExecQuerier, name string, opts ...ExecutorOption) *Executor {
	e := &Executor{
		conn:    conn,
		dialect: dialectOf(name),
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements dialect.Executor. Driver errors caused by constraint
// violations are classified by sqlgraph.
func (e *Executor) Execute(ctx context.Context, cmd dialect.Command) (dialect.Result, error) {
	stmt, err := Build(e.dialect, cmd)
	if err != nil {
		return dialect.Result{}, err
	}
	e.log.DebugContext(ctx, "execute statement",
		"op", cmd.Op.String(), "entity", cmd.Entity.Name, "query", stmt.Query, "args", len(stmt.Args))
	var res dialect.Result
	if len(stmt.Returning) > 0 {
		res, err = e.query(ctx, stmt)
	} else {
		res, err = e.exec(ctx, stmt)
	}
	if err != nil {
		return res, sqlgraph.Classify(err)
	}
	switch {
	case res.RowsAffected == 1 && len(stmt.Reload) > 0:
		key := make(map[string]any, len(cmd.Key)+1)
		for k, v := range cmd.Key {
			key[k] = v
		}
		for k, v := range res.Generated {
			key[k] = v
		}
		values, err := e.selectRow(ctx, cmd, key, stmt.Reload)
		if err != nil {
			return res, fmt.Errorf("dialect/sql: reload %s: %w", cmd.Entity.Name, err)
		}
		if res.Generated == nil {
			res.Generated = make(map[string]any, len(values))
		}
		for k, v := range values {
			res.Generated[k] = v
		}
	case res.RowsAffected == 0 && len(cmd.Precondition) > 0:
		tokens := make([]string, 0, len(cmd.Precondition))
		for _, p := range cmd.Entity.ConcurrencyTokens() {
			tokens = append(tokens, p.Name)
		}
		actual, err := e.selectRow(ctx, cmd, cmd.Key, tokens)
		if err != nil {
			e.log.WarnContext(ctx, "read stored tokens", "entity", cmd.Entity.Name, "error", err)
		}
		res.Actual = actual
	}
	return res, nil
}

func (e *Executor) exec(ctx context.Context, stmt *Statement) (dialect.Result, error) {
	var r Result
	if err := e.conn.Exec(ctx, stmt.Query, stmt.Args, &r); err != nil {
		return dialect.Result{}, err
	}
	res := dialect.Result{RowsAffected: -1}
	if n, err := r.RowsAffected(); err == nil {
		res.RowsAffected = n
	}
	if stmt.LastInsertID != "" && res.RowsAffected != 0 {
		id, err := r.LastInsertId()
		if err != nil {
			return res, fmt.Errorf("dialect/sql: last insert id: %w", err)
		}
		res.Generated = map[string]any{stmt.LastInsertID: id}
	}
	return res, nil
}

// query runs a statement returning the generated values. Every returned
// row is an affected row.
func (e *Executor) query(ctx context.Context, stmt *Statement) (dialect.Result, error) {
	var rows Rows
	if err := e.conn.Query(ctx, stmt.Query, stmt.Args, &rows); err != nil {
		return dialect.Result{}, err
	}
	defer rows.Close()
	var res dialect.Result
	for rows.Next() {
		res.RowsAffected++
		values, err := scanRow(rows, stmt.Returning)
		if err != nil {
			return res, err
		}
		if res.Generated == nil {
			res.Generated = values
		}
	}
	return res, rows.Err()
}

// selectRow reads props of the row with the given key. It returns nil
// when the row does not exist.
func (e *Executor) selectRow(ctx context.Context, cmd dialect.Command, key map[string]any, props []string) (map[string]any, error) {
	if len(props) == 0 {
		return nil, nil
	}
	query, args, err := SelectByKey(e.dialect, cmd.Entity, key, props)
	if err != nil {
		return nil, err
	}
	var rows Rows
	if err := e.conn.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRow(rows, props)
}

func scanRow(rows ColumnScanner, props []string) (map[string]any, error) {
	dest := make([]any, len(props))
	ptrs := make([]any, len(props))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("dialect/sql: scan: %w", err)
	}
	values := make(map[string]any, len(props))
	for i, name := range props {
		values[name] = dest[i]
	}
	return values, nil
}

var _ dialect.Executor = (*Executor)(nil)
