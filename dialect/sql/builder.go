package sql

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/syssam/uow/dialect"
	"github.com/syssam/uow/schema"
)

// Statement is a rendered write statement.
type Statement struct {
	Query string
	Args  []any
	// Returning lists the properties read from the rows the statement
	// returns, in column order.
	Returning []string
	// LastInsertID names the identity property read from the result of
	// an insert on dialects without RETURNING.
	LastInsertID string
	// Reload lists the store-generated properties read by a separate
	// select after the write.
	Reload []string
}

// Builder renders identifiers and placeholders for one dialect.
type Builder struct {
	dialect string
	sb      strings.Builder
	args    []any
}

// Dialect returns a Builder for the given dialect.
func Dialect(name string) *Builder {
	return &Builder{dialect: name}
}

// WriteString appends s as is.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Ident appends a quoted identifier.
func (b *Builder) Ident(s string) *Builder {
	b.sb.WriteString(b.Quote(s))
	return b
}

// Quote quotes an identifier.
func (b *Builder) Quote(s string) string {
	switch b.dialect {
	case dialect.MySQL:
		return "`" + strings.ReplaceAll(s, "`", "``") + "`"
	case dialect.SQLServer:
		return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
	default:
		return pq.QuoteIdentifier(s)
	}
}

// Arg appends a placeholder for v.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	switch b.dialect {
	case dialect.Postgres:
		b.sb.WriteString("$" + strconv.Itoa(len(b.args)))
	case dialect.SQLServer:
		b.sb.WriteString("@p" + strconv.Itoa(len(b.args)))
	default:
		b.sb.WriteByte('?')
	}
	return b
}

// Query returns the statement text and its arguments.
func (b *Builder) Query() (string, []any) {
	return b.sb.String(), b.args
}

func (b *Builder) join(n int, f func(int)) *Builder {
	for i := range n {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		f(i)
	}
	return b
}

func (b *Builder) columns(props []*schema.Property, prefix string) *Builder {
	return b.join(len(props), func(i int) {
		b.WriteString(prefix).Ident(props[i].Column)
	})
}

// where appends the key and precondition predicates. Nil precondition
// values compare with IS NULL.
func (b *Builder) where(t *schema.EntityType, key, pre map[string]any) error {
	b.WriteString(" WHERE ")
	for i, p := range t.Keys() {
		v, ok := key[p.Name]
		if !ok || v == nil {
			return fmt.Errorf("dialect/sql: %s: missing key value %s", t.Name, p.Name)
		}
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.Ident(p.Column).WriteString(" = ").Arg(v)
	}
	for _, p := range t.Properties {
		v, ok := pre[p.Name]
		if !ok {
			continue
		}
		b.WriteString(" AND ").Ident(p.Column)
		if v == nil {
			b.WriteString(" IS NULL")
		} else {
			b.WriteString(" = ").Arg(v)
		}
	}
	return nil
}

// Build renders the statement of a command for the given dialect.
func Build(name string, cmd dialect.Command) (*Statement, error) {
	if cmd.Entity == nil {
		return nil, errors.New("dialect/sql: command without entity type")
	}
	switch name {
	case dialect.Postgres, dialect.SQLite, dialect.MySQL, dialect.SQLServer:
	default:
		return nil, fmt.Errorf("dialect/sql: unsupported dialect %q", name)
	}
	b := Dialect(name)
	stmt := &Statement{}
	generated, err := properties(cmd.Entity, cmd.Generated)
	if err != nil {
		return nil, err
	}
	switch cmd.Op {
	case dialect.Insert:
		b.insert(cmd, generated, stmt)
	case dialect.Update:
		err = b.update(cmd, generated, stmt)
	case dialect.Delete:
		b.WriteString("DELETE FROM ").Ident(cmd.Entity.Table)
		err = b.where(cmd.Entity, cmd.Key, cmd.Precondition)
	default:
		err = fmt.Errorf("dialect/sql: unknown operation %d", cmd.Op)
	}
	if err != nil {
		return nil, err
	}
	stmt.Query, stmt.Args = b.Query()
	return stmt, nil
}

func (b *Builder) insert(cmd dialect.Command, generated []*schema.Property, stmt *Statement) {
	t := cmd.Entity
	var (
		cols     []*schema.Property
		args     []any
		explicit bool
	)
	for _, p := range t.Properties {
		if slices.Contains(generated, p) {
			continue
		}
		v, ok := cmd.Values[p.Name]
		if !ok {
			v, ok = cmd.Key[p.Name]
		}
		if ok {
			cols = append(cols, p)
			args = append(args, v)
			explicit = explicit || p.Strategy == schema.StoreIdentity
		}
	}
	// SQL Server rejects values for identity columns unless the table
	// allows them for the batch.
	identityInsert := explicit && b.dialect == dialect.SQLServer
	if identityInsert {
		b.WriteString("SET IDENTITY_INSERT ").Ident(t.Table).WriteString(" ON; ")
	}
	b.WriteString("INSERT INTO ").Ident(t.Table)
	if len(cols) > 0 {
		b.WriteString(" (").columns(cols, "").WriteString(")")
	} else if b.dialect == dialect.MySQL {
		b.WriteString(" ()")
	}
	b.output(generated, stmt)
	switch {
	case len(cols) > 0:
		b.WriteString(" VALUES (").join(len(args), func(i int) { b.Arg(args[i]) }).WriteString(")")
	case b.dialect == dialect.MySQL:
		b.WriteString(" VALUES ()")
	default:
		b.WriteString(" DEFAULT VALUES")
	}
	b.returning(generated, stmt)
	if identityInsert {
		b.WriteString("; SET IDENTITY_INSERT ").Ident(t.Table).WriteString(" OFF")
	}
}

func (b *Builder) update(cmd dialect.Command, generated []*schema.Property, stmt *Statement) error {
	t := cmd.Entity
	b.WriteString("UPDATE ").Ident(t.Table).WriteString(" SET ")
	var set []*schema.Property
	for _, p := range t.Properties {
		if _, ok := cmd.Values[p.Name]; ok && !p.Key {
			set = append(set, p)
		}
	}
	if len(set) == 0 {
		// A forced update of an entity without writable columns.
		k := t.Keys()[0].Column
		b.Ident(k).WriteString(" = ").Ident(k)
	}
	b.join(len(set), func(i int) {
		b.Ident(set[i].Column).WriteString(" = ").Arg(cmd.Values[set[i].Name])
	})
	b.output(generated, stmt)
	if err := b.where(t, cmd.Key, cmd.Precondition); err != nil {
		return err
	}
	b.returning(generated, stmt)
	return nil
}

// output appends the SQL Server OUTPUT clause.
func (b *Builder) output(generated []*schema.Property, stmt *Statement) {
	if b.dialect != dialect.SQLServer || len(generated) == 0 {
		return
	}
	b.WriteString(" OUTPUT ").columns(generated, "INSERTED.")
	stmt.Returning = names(generated)
}

// returning appends the RETURNING clause, or records how generated
// values are read back on MySQL.
func (b *Builder) returning(generated []*schema.Property, stmt *Statement) {
	if len(generated) == 0 {
		return
	}
	switch b.dialect {
	case dialect.Postgres, dialect.SQLite:
		b.WriteString(" RETURNING ").columns(generated, "")
		stmt.Returning = names(generated)
	case dialect.MySQL:
		for _, p := range generated {
			if p.Strategy == schema.StoreIdentity {
				stmt.LastInsertID = p.Name
			} else {
				stmt.Reload = append(stmt.Reload, p.Name)
			}
		}
	}
}

// SelectByKey renders a select of the given properties of the row with
// the given key.
func SelectByKey(name string, t *schema.EntityType, key map[string]any, props []string) (string, []any, error) {
	cols, err := properties(t, props)
	if err != nil {
		return "", nil, err
	}
	b := Dialect(name)
	b.WriteString("SELECT ").columns(cols, "").WriteString(" FROM ").Ident(t.Table)
	if err := b.where(t, key, nil); err != nil {
		return "", nil, err
	}
	query, args := b.Query()
	return query, args, nil
}

func properties(t *schema.EntityType, list []string) ([]*schema.Property, error) {
	props := make([]*schema.Property, 0, len(list))
	for _, name := range list {
		p, ok := t.Property(name)
		if !ok {
			return nil, fmt.Errorf("dialect/sql: %s: unknown property %q", t.Name, name)
		}
		props = append(props, p)
	}
	return props, nil
}

func names(props []*schema.Property) []string {
	s := make([]string, len(props))
	for i, p := range props {
		s[i] = p.Name
	}
	return s
}
