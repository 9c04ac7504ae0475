package sql

import (
	"context"
	"log/slog"
	"time"

	"github.com/syssam/uow/dialect"
)

// DebugDriver wraps a Driver with statement logging.
type DebugDriver struct {
	*Driver
	log  *slog.Logger
	slow time.Duration
}

// DebugOption configures the DebugDriver.
type DebugOption func(*DebugDriver)

// DebugWithLogger sets the logger. Defaults to slog.Default().
func DebugWithLogger(l *slog.Logger) DebugOption {
	return func(d *DebugDriver) {
		d.log = l
	}
}

// DebugWithSlowThreshold logs statements running longer than t at warn
// level. Zero disables it.
func DebugWithSlowThreshold(t time.Duration) DebugOption {
	return func(d *DebugDriver) {
		d.slow = t
	}
}

// NewDebugDriver wraps a Driver with debug logging.
//
// Example:
//
//	drv, _ := sql.OpenSQLite("app.db")
//	debug := sql.NewDebugDriver(drv, sql.DebugWithSlowThreshold(100*time.Millisecond))
//	exec := sql.NewExecutor(debug, debug.Dialect())
func NewDebugDriver(drv *Driver, opts ...DebugOption) *DebugDriver {
	d := &DebugDriver{Driver: drv, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Query executes a query and logs it.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.record(ctx, "query", query, args, start, err)
	return err
}

// Exec executes a statement and logs it.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	d.record(ctx, "exec", query, args, start, err)
	return err
}

func (d *DebugDriver) record(ctx context.Context, kind, query string, args any, start time.Time, err error) {
	elapsed := time.Since(start)
	attrs := []any{"query", query, "args", args, "duration", elapsed}
	switch {
	case err != nil:
		d.log.DebugContext(ctx, kind+" failed", append(attrs, "error", err)...)
	case d.slow > 0 && elapsed > d.slow:
		d.log.WarnContext(ctx, "slow "+kind, attrs...)
	default:
		d.log.DebugContext(ctx, kind, attrs...)
	}
}

// Tx starts a transaction with debug logging.
func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	d.log.DebugContext(ctx, "begin transaction")
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &DebugTx{Tx: tx, driver: d}, nil
}

// DebugTx wraps a transaction with debug logging.
type DebugTx struct {
	dialect.Tx
	driver *DebugDriver
}

// Query executes a query within the transaction and logs it.
func (tx *DebugTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Query(ctx, query, args, v)
	tx.driver.record(ctx, "tx query", query, args, start, err)
	return err
}

// Exec executes a statement within the transaction and logs it.
func (tx *DebugTx) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Exec(ctx, query, args, v)
	tx.driver.record(ctx, "tx exec", query, args, start, err)
	return err
}

// Commit commits the transaction and logs it.
func (tx *DebugTx) Commit() error {
	tx.driver.log.Debug("commit transaction")
	return tx.Tx.Commit()
}

// Rollback rolls back the transaction and logs it.
func (tx *DebugTx) Rollback() error {
	tx.driver.log.Debug("rollback transaction")
	return tx.Tx.Rollback()
}

var (
	_ dialect.Driver = (*DebugDriver)(nil)
	_ dialect.Tx     = (*DebugTx)(nil)
)
