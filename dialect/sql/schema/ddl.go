package schema

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	atlas "ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/syssam/uow/dialect"
	"github.com/syssam/uow/dialect/sql"
	"github.com/syssam/uow/graph"
)

// Create creates the sequences and tables missing from the database.
func Create(ctx context.Context, conn dialect.ExecQuerier, name string, tables []*Table) error {
	stmts, err := DDL(ctx, name, tables)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if err := conn.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("dialect/sql/schema: %s: %w", abbrev(stmt), err)
		}
	}
	return nil
}

// DDL returns the statements creating tables and their sequences.
// Referenced tables are created first. SQLite accepts references to
// tables created later, other dialects reject foreign key cycles.
func DDL(ctx context.Context, name string, tables []*Table) ([]string, error) {
	order, err := createOrder(name, tables)
	if err != nil {
		return nil, err
	}
	if name == dialect.SQLServer {
		return sqlserverDDL(order)
	}
	pl, err := planner(name)
	if err != nil {
		return nil, err
	}
	ts, err := atlasTables(name, order)
	if err != nil {
		return nil, err
	}
	var stmts []string
	seen := make(map[string]bool)
	for i, t := range order {
		// MySQL and SQLite sequences live in sql.DefaultSequenceTable.
		for _, seq := range t.Sequences {
			if name != dialect.Postgres || seen[seq] {
				continue
			}
			seen[seq] = true
			b := sql.Dialect(name)
			b.WriteString("CREATE SEQUENCE IF NOT EXISTS ").Ident(seq)
			stmts = append(stmts, query(b))
		}
		plan, err := pl.PlanChanges(ctx, "create_"+t.Name, []atlas.Change{
			&atlas.AddTable{T: ts[i], Extra: []atlas.Clause{&atlas.IfNotExists{}}},
		})
		if err != nil {
			return nil, fmt.Errorf("dialect/sql/schema: plan table %s: %w", t.Name, err)
		}
		for _, c := range plan.Changes {
			stmts = append(stmts, c.Cmd)
		}
	}
	return stmts, nil
}

func planner(name string) (migrate.PlanApplier, error) {
	switch name {
	case dialect.Postgres:
		return postgres.DefaultPlan, nil
	case dialect.MySQL:
		return mysql.DefaultPlan, nil
	case dialect.SQLite:
		return sqlite.DefaultPlan, nil
	default:
		return nil, fmt.Errorf("dialect/sql/schema: unsupported dialect %q", name)
	}
}

// atlasTables converts tables to their atlas form, in the same order.
func atlasTables(name string, tables []*Table) ([]*atlas.Table, error) {
	s := atlas.New("")
	ts := make([]*atlas.Table, len(tables))
	byTable := make(map[*Table]*atlas.Table, len(tables))
	columns := make(map[*Column]*atlas.Column)
	for i, t := range tables {
		at := atlas.NewTable(t.Name)
		var pk []*atlas.Column
		for _, c := range t.Columns {
			typ, err := columnType(name, c, t.keyed(c))
			if err != nil {
				return nil, err
			}
			ac := atlas.NewColumn(c.Name).SetType(typ).SetNull(c.Nullable)
			if c.Identity {
				attr, err := identity(name, t, c)
				if err != nil {
					return nil, err
				}
				ac.AddAttrs(attr)
			}
			at.AddColumns(ac)
			columns[c] = ac
			if slices.Contains(t.PrimaryKey, c) {
				pk = append(pk, ac)
			}
		}
		if len(pk) > 0 {
			at.SetPrimaryKey(atlas.NewPrimaryKey(pk...))
		}
		s.AddTables(at)
		ts[i], byTable[t] = at, at
	}
	for i, t := range tables {
		for _, fk := range t.ForeignKeys {
			ref, ok := byTable[fk.RefTable]
			if !ok {
				ref = atlas.NewTable(fk.RefTable.Name)
			}
			afk := atlas.NewForeignKey(fk.Symbol).SetRefTable(ref)
			for _, c := range fk.Columns {
				afk.AddColumns(columns[c])
			}
			for _, c := range fk.RefColumns {
				rc, ok := columns[c]
				if !ok {
					rc = atlas.NewColumn(c.Name)
				}
				afk.AddRefColumns(rc)
			}
			ts[i].AddForeignKeys(afk)
		}
	}
	return ts, nil
}

// identity returns the attribute making the database assign c on insert.
func identity(name string, t *Table, c *Column) (atlas.Attr, error) {
	switch name {
	case dialect.Postgres:
		return &postgres.Identity{Generation: "BY DEFAULT"}, nil
	case dialect.MySQL:
		return &mysql.AutoIncrement{}, nil
	default:
		// SQLite only assigns rowid values to an INTEGER PRIMARY KEY column.
		if len(t.PrimaryKey) != 1 || t.PrimaryKey[0] != c {
			return nil, fmt.Errorf("dialect/sql/schema: %s: sqlite identity column %s must be the only key column", t.Name, c.Name)
		}
		return &sqlite.AutoIncrement{}, nil
	}
}

// createOrder sorts tables so that referenced tables come first.
func createOrder(name string, tables []*Table) ([]*Table, error) {
	index := make(map[*Table]int, len(tables))
	for i, t := range tables {
		index[t] = i
	}
	g := graph.New(len(tables))
	for i, t := range tables {
		for _, fk := range t.ForeignKeys {
			if j, ok := index[fk.RefTable]; ok && j != i {
				g.AddEdge(j, i)
			}
		}
	}
	order, rest := g.Sort()
	if len(rest) > 0 && name != dialect.SQLite {
		names := make([]string, len(rest))
		for i, n := range rest {
			names[i] = tables[n].Name
		}
		return nil, fmt.Errorf("dialect/sql/schema: foreign key cycle between tables %s", strings.Join(names, ", "))
	}
	sorted := make([]*Table, 0, len(tables))
	for _, n := range append(order, rest...) {
		sorted = append(sorted, tables[n])
	}
	return sorted, nil
}

func query(b *sql.Builder) string {
	q, _ := b.Query()
	return q
}

func abbrev(stmt string) string {
	if len(stmt) > 60 {
		return stmt[:60] + "..."
	}
	return stmt
}
