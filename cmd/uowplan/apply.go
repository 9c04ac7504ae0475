package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/syssam/uow/dialect"
	"github.com/syssam/uow/dialect/sql"
	sqlschema "github.com/syssam/uow/dialect/sql/schema"
	"github.com/syssam/uow/internal/memstore"
	"github.com/syssam/uow/privacy"
	"github.com/syssam/uow/schema"
	"github.com/syssam/uow/session"
)

func newApplyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply CHANGES",
		Short: "Save a change set",
		Long: `Apply loads the change set into a tracking scope and saves it.

With the memory dialect, objects loaded from storage are first written to
an empty in-memory store and the executed commands are printed. With a
SQL dialect the objects are expected to exist in the database and the
save runs in one transaction. Session variables given with --set are
applied to the connection of the transaction on postgres and mysql.`,
		Args: exactArgs(1, "one change set file"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.apply(cmd.Context(), args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("dialect", dialectMemory, "storage dialect (memory, sqlite, postgres, mysql)")
	cmd.Flags().String("dsn", "", "data source name of a SQL dialect")
	cmd.Flags().Int("block-size", 1, "sequence values fetched per round trip")
	cmd.Flags().Bool("create-tables", false, "create missing tables of the model before saving")
	cmd.Flags().StringSlice("read-only", nil, "entity types the save must not write")
	cmd.Flags().StringToString("set", nil, "session variables of a postgres or mysql save (name=value)")
	return cmd
}

func (a *app) apply(ctx context.Context, changes string, w io.Writer) error {
	provider, err := a.model()
	if err != nil {
		return err
	}
	objects, err := readChangeSet(changes)
	if err != nil {
		return err
	}
	name := a.v.GetString(cfgKeyDialect)
	vars := a.v.GetStringMapString(cfgKeySessionVars)
	if name == dialectMemory {
		if len(vars) > 0 {
			return errors.New("session variables need a SQL dialect")
		}
		return a.applyMemory(ctx, provider, objects, w)
	}
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		ctx = sql.WithVar(ctx, k, vars[k])
	}
	return a.applySQL(ctx, name, provider, objects, w)
}

func (a *app) options() []session.Option {
	opts := []session.Option{
		session.WithLogger(a.log),
		session.WithBlockSize(a.v.GetInt(cfgKeyBlockSize)),
	}
	if readOnly := a.v.GetStringSlice(cfgKeyReadOnly); len(readOnly) > 0 {
		opts = append(opts, session.WithPolicy(privacy.Policy{
			privacy.OnEntity(privacy.RuleFunc(func(_ context.Context, cmd dialect.Command) error {
				return privacy.Denyf("%s is read-only", cmd.Entity.Name)
			}), readOnly...),
		}))
	}
	return opts
}

func (a *app) applyMemory(ctx context.Context, provider schema.Provider, objects []*object, w io.Writer) error {
	store := memstore.New(memstore.WithForeignKeys())
	s, err := session.New(ctx, provider, store, append(a.options(), session.WithSequences(store))...)
	if err != nil {
		return err
	}
	if err := track(s, objects, store.Put); err != nil {
		return err
	}
	n, err := s.SaveChanges(ctx)
	io.WriteString(w, store.Log())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d entries written\n", n)
	return err
}

func (a *app) applySQL(ctx context.Context, name string, provider schema.Provider, objects []*object, w io.Writer) (rerr error) {
	drv, err := openDriver(name, a.v.GetString(cfgKeyDSN))
	if err != nil {
		return err
	}
	defer drv.Close()
	dbg := sql.NewDebugDriver(drv, sql.DebugWithLogger(a.log))
	tx, err := dbg.Tx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rerr != nil {
			if err := tx.Rollback(); err != nil {
				rerr = errors.Join(rerr, fmt.Errorf("rollback: %w", err))
			}
		}
	}()
	if a.v.GetBool(cfgKeyCreateTables) {
		m, err := provider.Load(ctx)
		if err != nil {
			return err
		}
		tables, err := sqlschema.Tables(m)
		if err != nil {
			return err
		}
		if err := sqlschema.Create(ctx, tx, drv.Dialect(), tables); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	seq := sql.NewSequences(tx, drv.Dialect())
	if d := drv.Dialect(); d == dialect.SQLite || d == dialect.MySQL {
		if err := seq.CreateTable(ctx); err != nil {
			return fmt.Errorf("create sequence table: %w", err)
		}
	}
	exec := sql.NewExecutor(tx, drv.Dialect(), sql.WithLogger(a.log))
	// A transaction is not shared by concurrent sequence fetches.
	s, err := session.New(ctx, provider, exec, append(a.options(),
		session.WithSequences(seq),
		session.WithWorkers(1),
	)...)
	if err != nil {
		return err
	}
	if err := track(s, objects, nil); err != nil {
		return err
	}
	n, err := s.SaveChanges(ctx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	_, err = fmt.Fprintf(w, "%d entries written\n", n)
	return err
}

func openDriver(name, dsn string) (*sql.Driver, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dialect %s: no dsn", name)
	}
	switch name {
	case dialect.SQLite:
		return sql.OpenSQLite(dsn)
	case dialect.Postgres:
		return sql.OpenPostgres(dsn)
	case dialect.MySQL:
		return sql.OpenMySQL(dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", name)
	}
}
