package sql

import (
	"context"
	"fmt"

	"github.com/syssam/uow/dialect"
	"github.com/syssam/uow/keygen"
)

// DefaultSequenceTable is the table backing sequences on dialects without
// native sequences.
const DefaultSequenceTable = "uow_sequences"

// Sequences is a keygen.Provider reading blocks of values from store
// sequences. PostgreSQL and SQL Server use native sequences; MySQL and
// SQLite use a hi-lo table with one row per sequence, which should be
// updated within a transaction.
type Sequences struct {
	conn    dialect.ExecQuerier
	dialect string
	table   string
}

// SequencesOption configures Sequences.
type SequencesOption func(*Sequences)

// WithSequenceTable sets the hi-lo table name.
func WithSequenceTable(name string) SequencesOption {
	return func(s *Sequences) {
		s.table = name
	}
}

// NewSequences returns a sequence provider of the given dialect.
func NewSequences(conn dialect.ExecQuerier, name string, opts ...SequencesOption) *Sequences {
	s := &Sequences{conn: conn, dialect: dialectOf(name), table: DefaultSequenceTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTable creates the hi-lo table if it does not exist.
func (s *Sequences) CreateTable(ctx context.Context) error {
	b := Dialect(s.dialect)
	b.WriteString("CREATE TABLE IF NOT EXISTS ").Ident(s.table).
		WriteString(" (").Ident("name").WriteString(" VARCHAR(255) NOT NULL PRIMARY KEY, ").
		Ident("next_value").WriteString(" BIGINT NOT NULL)")
	query, args := b.Query()
	return s.conn.Exec(ctx, query, args, nil)
}

// NextBlock implements keygen.Provider.
func (s *Sequences) NextBlock(ctx context.Context, req keygen.Request, n int) ([]any, error) {
	if n <= 0 {
		return nil, nil
	}
	switch s.dialect {
	case dialect.Postgres:
		return s.collect(ctx, n, "SELECT nextval($1) FROM generate_series(1, $2)", req.Sequence, n)
	case dialect.SQLServer:
		b := Dialect(s.dialect)
		b.WriteString("SELECT NEXT VALUE FOR ").Ident(req.Sequence)
		query, _ := b.Query()
		values := make([]any, 0, n)
		for range n {
			v, err := s.collect(ctx, 1, query)
			if err != nil {
				return nil, err
			}
			values = append(values, v...)
		}
		return values, nil
	case dialect.MySQL, dialect.SQLite:
		return s.hilo(ctx, req.Sequence, n)
	default:
		return nil, fmt.Errorf("dialect/sql: sequences: unsupported dialect %q", s.dialect)
	}
}

// hilo reserves n values by moving the high mark of the sequence row.
// A missing row starts the sequence at 1.
func (s *Sequences) hilo(ctx context.Context, name string, n int) ([]any, error) {
	b := Dialect(s.dialect)
	b.WriteString("UPDATE ").Ident(s.table).WriteString(" SET ").Ident("next_value").
		WriteString(" = ").Ident("next_value").WriteString(" + ").Arg(n).
		WriteString(" WHERE ").Ident("name").WriteString(" = ").Arg(name)
	query, args := b.Query()
	var r Result
	if err := s.conn.Exec(ctx, query, args, &r); err != nil {
		return nil, fmt.Errorf("dialect/sql: sequence %s: %w", name, err)
	}
	if affected, err := r.RowsAffected(); err == nil && affected == 0 {
		b := Dialect(s.dialect)
		b.WriteString("INSERT INTO ").Ident(s.table).WriteString(" (").Ident("name").WriteString(", ").
			Ident("next_value").WriteString(") VALUES (").Arg(name).WriteString(", ").Arg(n + 1).WriteString(")")
		query, args := b.Query()
		if err := s.conn.Exec(ctx, query, args, nil); err != nil {
			return nil, fmt.Errorf("dialect/sql: sequence %s: %w", name, err)
		}
	}
	b = Dialect(s.dialect)
	b.WriteString("SELECT ").Ident("next_value").WriteString(" FROM ").Ident(s.table).
		WriteString(" WHERE ").Ident("name").WriteString(" = ").Arg(name)
	query, args = b.Query()
	hi, err := s.collect(ctx, 1, query, args...)
	if err != nil {
		return nil, err
	}
	if len(hi) != 1 {
		return nil, fmt.Errorf("dialect/sql: sequence %s: row not found", name)
	}
	next, ok := hi[0].(int64)
	if !ok {
		return nil, fmt.Errorf("dialect/sql: sequence %s: unexpected value %T", name, hi[0])
	}
	values := make([]any, n)
	for i := range values {
		values[i] = next - int64(n) + int64(i)
	}
	return values, nil
}

// collect reads the first column of up to n rows.
func (s *Sequences) collect(ctx context.Context, n int, query string, args ...any) ([]any, error) {
	var rows Rows
	if err := s.conn.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("dialect/sql: sequence: %w", err)
	}
	defer rows.Close()
	values := make([]any, 0, n)
	for rows.Next() && len(values) < n {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("dialect/sql: sequence: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

var _ keygen.Provider = (*Sequences)(nil)
