// Package schema maps an entity model to SQL tables and creates them.
//
// Postgres, MySQL and SQLite statements are planned by atlas. Tables are
// created in foreign key order with CREATE TABLE IF NOT EXISTS (an
// OBJECT_ID guard on SQL Server), so Create is safe to run against a
// database that already holds some of them:
//
//	tables, err := schema.Tables(model)
//	if err != nil {
//		return err
//	}
//	if err := schema.Create(ctx, drv, drv.Dialect(), tables); err != nil {
//		return err
//	}
package schema

import (
	"fmt"
	"slices"

	atlas "ariga.io/atlas/sql/schema"

	"github.com/syssam/uow/dialect"
	meta "github.com/syssam/uow/schema"
)

type (
	// Table is the table of an entity type.
	Table struct {
		Name        string
		Entity      string
		Columns     []*Column
		PrimaryKey  []*Column
		ForeignKeys []*ForeignKey
		// Sequences lists the database sequences serving the keys of the
		// table.
		Sequences []string
	}

	// Column is the column of a property.
	Column struct {
		Name     string
		Type     meta.Type
		Nullable bool
		// Identity marks a column whose value the database assigns on
		// insert.
		Identity bool
	}

	// ForeignKey is a foreign key constraint.
	ForeignKey struct {
		Symbol     string
		Columns    []*Column
		RefTable   *Table
		RefColumns []*Column
	}
)

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// keyed reports whether c is part of the primary key or a foreign key,
// which limits string and binary columns to an indexable size.
func (t *Table) keyed(c *Column) bool {
	if slices.Contains(t.PrimaryKey, c) {
		return true
	}
	for _, fk := range t.ForeignKeys {
		if slices.Contains(fk.Columns, c) {
			return true
		}
	}
	return false
}

// Tables returns the tables of the entity types of m, in declaration
// order.
func Tables(m *meta.Model) ([]*Table, error) {
	types := m.Types()
	tables := make([]*Table, len(types))
	byEntity := make(map[string]*Table, len(types))
	columns := make(map[string]map[string]*Column, len(types))
	for i, et := range types {
		t := &Table{Name: et.Table, Entity: et.Name}
		cols := make(map[string]*Column, len(et.Properties))
		for _, p := range et.Properties {
			c := &Column{
				Name:     p.Column,
				Type:     p.Type,
				Nullable: p.Nullable && !p.Key,
				Identity: p.Strategy == meta.StoreIdentity,
			}
			t.Columns = append(t.Columns, c)
			cols[p.Name] = c
			if p.Key {
				t.PrimaryKey = append(t.PrimaryKey, c)
			}
			if p.Strategy == meta.StoreSequence {
				t.Sequences = append(t.Sequences, p.Sequence)
			}
		}
		tables[i], byEntity[et.Name], columns[et.Name] = t, t, cols
	}
	for _, et := range types {
		t := byEntity[et.Name]
		for _, fk := range et.ForeignKeys {
			ref, ok := byEntity[fk.Principal]
			if !ok {
				return nil, fmt.Errorf("dialect/sql/schema: %s: unknown principal %q", et.Name, fk.Principal)
			}
			c := &ForeignKey{Symbol: fk.Name, RefTable: ref}
			for i, name := range fk.Properties {
				col := columns[et.Name][name]
				if !fk.Required && !slices.Contains(t.PrimaryKey, col) {
					col.Nullable = true
				}
				c.Columns = append(c.Columns, col)
				c.RefColumns = append(c.RefColumns, columns[fk.Principal][fk.PrincipalKey[i]])
			}
			t.ForeignKeys = append(t.ForeignKeys, c)
		}
	}
	return tables, nil
}

// columnType returns the column type of c in the given dialect.
func columnType(name string, c *Column, key bool) (atlas.Type, error) {
	switch name {
	case dialect.Postgres:
		return postgresType(c)
	case dialect.MySQL:
		return mysqlType(c, key)
	case dialect.SQLite:
		return sqliteType(c)
	default:
		return nil, fmt.Errorf("dialect/sql/schema: unsupported dialect %q", name)
	}
}

func postgresType(c *Column) (atlas.Type, error) {
	switch c.Type {
	case meta.TypeBool:
		return &atlas.BoolType{T: "boolean"}, nil
	case meta.TypeInt, meta.TypeUint:
		return &atlas.IntegerType{T: "bigint"}, nil
	case meta.TypeFloat:
		return &atlas.FloatType{T: "double precision"}, nil
	case meta.TypeString:
		return &atlas.StringType{T: "text"}, nil
	case meta.TypeBytes:
		return &atlas.BinaryType{T: "bytea"}, nil
	case meta.TypeTime:
		return &atlas.TimeType{T: "timestamptz"}, nil
	case meta.TypeUUID:
		return &atlas.UUIDType{T: "uuid"}, nil
	}
	return nil, fmt.Errorf("dialect/sql/schema: column %s: no postgres type for %s", c.Name, c.Type)
}

func mysqlType(c *Column, key bool) (atlas.Type, error) {
	switch c.Type {
	case meta.TypeBool:
		return &atlas.BoolType{T: "bool"}, nil
	case meta.TypeInt:
		return &atlas.IntegerType{T: "bigint"}, nil
	case meta.TypeUint:
		return &atlas.IntegerType{T: "bigint", Unsigned: true}, nil
	case meta.TypeFloat:
		return &atlas.FloatType{T: "double"}, nil
	case meta.TypeString:
		if key {
			return &atlas.StringType{T: "varchar", Size: 191}, nil
		}
		return &atlas.StringType{T: "varchar", Size: 255}, nil
	case meta.TypeBytes:
		if key {
			size := 255
			return &atlas.BinaryType{T: "varbinary", Size: &size}, nil
		}
		return &atlas.BinaryType{T: "blob"}, nil
	case meta.TypeTime:
		precision := 6
		return &atlas.TimeType{T: "datetime", Precision: &precision}, nil
	case meta.TypeUUID:
		return &atlas.StringType{T: "char", Size: 36}, nil
	}
	return nil, fmt.Errorf("dialect/sql/schema: column %s: no mysql type for %s", c.Name, c.Type)
}

func sqliteType(c *Column) (atlas.Type, error) {
	switch c.Type {
	case meta.TypeBool:
		return &atlas.BoolType{T: "bool"}, nil
	case meta.TypeInt, meta.TypeUint:
		return &atlas.IntegerType{T: "integer"}, nil
	case meta.TypeFloat:
		return &atlas.FloatType{T: "real"}, nil
	case meta.TypeString, meta.TypeUUID:
		return &atlas.StringType{T: "text"}, nil
	case meta.TypeBytes:
		return &atlas.BinaryType{T: "blob"}, nil
	case meta.TypeTime:
		return &atlas.TimeType{T: "datetime"}, nil
	}
	return nil, fmt.Errorf("dialect/sql/schema: column %s: no sqlite type for %s", c.Name, c.Type)
}
