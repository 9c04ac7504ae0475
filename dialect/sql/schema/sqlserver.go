package schema

import (
	"fmt"
	"strings"

	"github.com/syssam/uow/dialect"
	"github.com/syssam/uow/dialect/sql"
	meta "github.com/syssam/uow/schema"
)

// sqlserverDDL returns the SQL Server statements creating tables, which
// must already be in creation order. Each statement is guarded by an
// OBJECT_ID check since SQL Server has no IF NOT EXISTS clause.
func sqlserverDDL(tables []*Table) ([]string, error) {
	var stmts []string
	seen := make(map[string]bool)
	for _, t := range tables {
		for _, seq := range t.Sequences {
			if seen[seq] {
				continue
			}
			seen[seq] = true
			b := sql.Dialect(dialect.SQLServer)
			b.WriteString("IF OBJECT_ID(N'" + escape(seq) + "', N'SO') IS NULL CREATE SEQUENCE ").
				Ident(seq).WriteString(" AS bigint START WITH 1")
			stmts = append(stmts, query(b))
		}
		stmt, err := sqlserverTable(t)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func sqlserverTable(t *Table) (string, error) {
	b := sql.Dialect(dialect.SQLServer)
	b.WriteString("IF OBJECT_ID(N'" + escape(t.Name) + "', N'U') IS NULL CREATE TABLE ")
	b.Ident(t.Name).WriteString(" (")
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		typ, err := sqlserverType(c, t.keyed(c))
		if err != nil {
			return "", err
		}
		b.Ident(c.Name).WriteString(" " + typ)
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
	}
	if len(t.PrimaryKey) > 0 {
		b.WriteString(", PRIMARY KEY (")
		idents(b, t.PrimaryKey)
		b.WriteString(")")
	}
	for _, fk := range t.ForeignKeys {
		b.WriteString(", CONSTRAINT ").Ident(fk.Symbol).WriteString(" FOREIGN KEY (")
		idents(b, fk.Columns)
		b.WriteString(") REFERENCES ").Ident(fk.RefTable.Name).WriteString(" (")
		idents(b, fk.RefColumns)
		b.WriteString(")")
	}
	b.WriteString(")")
	return query(b), nil
}

func sqlserverType(c *Column, key bool) (string, error) {
	switch c.Type {
	case meta.TypeBool:
		return "bit", nil
	case meta.TypeInt, meta.TypeUint:
		if c.Identity {
			return "bigint IDENTITY(1,1)", nil
		}
		return "bigint", nil
	case meta.TypeFloat:
		return "float", nil
	case meta.TypeString:
		if key {
			return "nvarchar(450)", nil
		}
		return "nvarchar(max)", nil
	case meta.TypeBytes:
		if key {
			return "varbinary(900)", nil
		}
		return "varbinary(max)", nil
	case meta.TypeTime:
		return "datetimeoffset", nil
	case meta.TypeUUID:
		return "uniqueidentifier", nil
	}
	return "", fmt.Errorf("dialect/sql/schema: column %s: no sqlserver type for %s", c.Name, c.Type)
}

func idents(b *sql.Builder, cols []*Column) {
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(c.Name)
	}
}

func escape(s string) string { return strings.ReplaceAll(s, "'", "''") }
