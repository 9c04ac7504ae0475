package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/uow/dialect"
	"github.com/syssam/uow/schema"
)

func garage(t *testing.T) *schema.Model {
	t.Helper()
	m, err := schema.Build(
		schema.Entity("Engine").Table("engines").Properties(
			schema.Int("ID").Column("id").Key().Identity(),
			schema.String("Name").Column("name").ConcurrencyToken().Nullable(),
			schema.Int("HP").Column("hp"),
		),
		schema.Entity("Counter").Table("counters").Properties(
			schema.Int("ID").Column("id").Key().Identity(),
		),
		schema.Entity("Part").Table("parts").Properties(
			schema.String("SKU").Column("sku").Key(),
			schema.Int("Stock").Column("stock"),
			schema.Bytes("Version").Column("version").RowVersion(),
		),
	)
	require.NoError(t, err)
	return m
}

func entity(t *testing.T, m *schema.Model, name string) *schema.EntityType {
	t.Helper()
	et, ok := m.Type(name)
	require.True(t, ok)
	return et
}

func TestBuild(t *testing.T) {
	m := garage(t)
	engine, counter, part := entity(t, m, "Engine"), entity(t, m, "Counter"), entity(t, m, "Part")
	insertEngine := dialect.Command{
		Op:        dialect.Insert,
		Entity:    engine,
		Values:    map[string]any{"Name": "V8", "HP": 400},
		Generated: []string{"ID"},
	}
	updateEngine := dialect.Command{
		Op:           dialect.Update,
		Entity:       engine,
		Key:          map[string]any{"ID": 1},
		Values:       map[string]any{"Name": "V10"},
		Precondition: map[string]any{"Name": "V8"},
	}
	tests := []struct {
		name      string
		dialect   string
		cmd       dialect.Command
		query     string
		args      []any
		returning []string
		lastID    string
		reload    []string
	}{
		{
			name:      "postgres insert identity",
			dialect:   dialect.Postgres,
			cmd:       insertEngine,
			query:     `INSERT INTO "engines" ("name", "hp") VALUES ($1, $2) RETURNING "id"`,
			args:      []any{"V8", 400},
			returning: []string{"ID"},
		},
		{
			name:      "sqlite insert identity",
			dialect:   dialect.SQLite,
			cmd:       insertEngine,
			query:     `INSERT INTO "engines" ("name", "hp") VALUES (?, ?) RETURNING "id"`,
			args:      []any{"V8", 400},
			returning: []string{"ID"},
		},
		{
			name:    "mysql insert identity",
			dialect: dialect.MySQL,
			cmd:     insertEngine,
			query:   "INSERT INTO `engines` (`name`, `hp`) VALUES (?, ?)",
			args:    []any{"V8", 400},
			lastID:  "ID",
		},
		{
			name:      "sqlserver insert identity",
			dialect:   dialect.SQLServer,
			cmd:       insertEngine,
			query:     "INSERT INTO [engines] ([name], [hp]) OUTPUT INSERTED.[id] VALUES (@p1, @p2)",
			args:      []any{"V8", 400},
			returning: []string{"ID"},
		},
		{
			name:    "postgres explicit identity",
			dialect: dialect.Postgres,
			cmd: dialect.Command{
				Op:     dialect.Insert,
				Entity: engine,
				Key:    map[string]any{"ID": 0},
				Values: map[string]any{"Name": "V8", "HP": 400},
			},
			query: `INSERT INTO "engines" ("id", "name", "hp") VALUES ($1, $2, $3)`,
			args:  []any{0, "V8", 400},
		},
		{
			name:    "sqlserver explicit identity",
			dialect: dialect.SQLServer,
			cmd: dialect.Command{
				Op:     dialect.Insert,
				Entity: engine,
				Key:    map[string]any{"ID": 0},
				Values: map[string]any{"Name": "V8", "HP": 400},
			},
			query: "SET IDENTITY_INSERT [engines] ON; INSERT INTO [engines] ([id], [name], [hp]) VALUES (@p1, @p2, @p3); SET IDENTITY_INSERT [engines] OFF",
			args:  []any{0, "V8", 400},
		},
		{
			name:    "postgres update with token",
			dialect: dialect.Postgres,
			cmd:     updateEngine,
			query:   `UPDATE "engines" SET "name" = $1 WHERE "id" = $2 AND "name" = $3`,
			args:    []any{"V10", 1, "V8"},
		},
		{
			name:    "null token",
			dialect: dialect.SQLite,
			cmd: dialect.Command{
				Op:           dialect.Delete,
				Entity:       engine,
				Key:          map[string]any{"ID": 1},
				Precondition: map[string]any{"Name": nil},
			},
			query: `DELETE FROM "engines" WHERE "id" = ? AND "name" IS NULL`,
			args:  []any{1},
		},
		{
			name:    "mysql delete",
			dialect: dialect.MySQL,
			cmd: dialect.Command{
				Op:           dialect.Delete,
				Entity:       engine,
				Key:          map[string]any{"ID": 1},
				Precondition: map[string]any{"Name": "V8"},
			},
			query: "DELETE FROM `engines` WHERE `id` = ? AND `name` = ?",
			args:  []any{1, "V8"},
		},
		{
			name:      "postgres default values",
			dialect:   dialect.Postgres,
			cmd:       dialect.Command{Op: dialect.Insert, Entity: counter, Generated: []string{"ID"}},
			query:     `INSERT INTO "counters" DEFAULT VALUES RETURNING "id"`,
			returning: []string{"ID"},
		},
		{
			name:    "mysql default values",
			dialect: dialect.MySQL,
			cmd:     dialect.Command{Op: dialect.Insert, Entity: counter, Generated: []string{"ID"}},
			query:   "INSERT INTO `counters` () VALUES ()",
			lastID:  "ID",
		},
		{
			name:    "forced update without columns",
			dialect: dialect.Postgres,
			cmd:     dialect.Command{Op: dialect.Update, Entity: counter, Key: map[string]any{"ID": 7}},
			query:   `UPDATE "counters" SET "id" = "id" WHERE "id" = $1`,
			args:    []any{7},
		},
		{
			name:    "client key insert",
			dialect: dialect.Postgres,
			cmd: dialect.Command{
				Op:        dialect.Insert,
				Entity:    part,
				Key:       map[string]any{"SKU": "p-1"},
				Values:    map[string]any{"Stock": 3},
				Generated: []string{"Version"},
			},
			query:     `INSERT INTO "parts" ("sku", "stock") VALUES ($1, $2) RETURNING "version"`,
			args:      []any{"p-1", 3},
			returning: []string{"Version"},
		},
		{
			name:    "mysql row version reload",
			dialect: dialect.MySQL,
			cmd: dialect.Command{
				Op:           dialect.Update,
				Entity:       part,
				Key:          map[string]any{"SKU": "p-1"},
				Values:       map[string]any{"Stock": 2},
				Precondition: map[string]any{"Version": []byte{1}},
				Generated:    []string{"Version"},
			},
			query:  "UPDATE `parts` SET `stock` = ? WHERE `sku` = ? AND `version` = ?",
			args:   []any{2, "p-1", []byte{1}},
			reload: []string{"Version"},
		},
		{
			name:    "sqlserver update output",
			dialect: dialect.SQLServer,
			cmd: dialect.Command{
				Op:        dialect.Update,
				Entity:    part,
				Key:       map[string]any{"SKU": "p-1"},
				Values:    map[string]any{"Stock": 2},
				Generated: []string{"Version"},
			},
			query:     "UPDATE [parts] SET [stock] = @p1 OUTPUT INSERTED.[version] WHERE [sku] = @p2",
			args:      []any{2, "p-1"},
			returning: []string{"Version"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := Build(tt.dialect, tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.query, stmt.Query)
			assert.Equal(t, tt.args, stmt.Args)
			assert.Equal(t, tt.returning, stmt.Returning)
			assert.Equal(t, tt.lastID, stmt.LastInsertID)
			assert.Equal(t, tt.reload, stmt.Reload)
		})
	}
}

func TestBuild_Errors(t *testing.T) {
	m := garage(t)
	engine := entity(t, m, "Engine")
	tests := []struct {
		name    string
		dialect string
		cmd     dialect.Command
		msg     string
	}{
		{"unknown dialect", "oracle", dialect.Command{Op: dialect.Delete, Entity: engine}, "unsupported dialect"},
		{"missing entity", dialect.Postgres, dialect.Command{Op: dialect.Delete}, "without entity"},
		{"missing key", dialect.Postgres, dialect.Command{Op: dialect.Delete, Entity: engine}, "missing key value ID"},
		{"unknown property", dialect.Postgres, dialect.Command{Op: dialect.Insert, Entity: engine, Generated: []string{"Torque"}}, `unknown property "Torque"`},
		{"unknown op", dialect.Postgres, dialect.Command{Entity: engine}, "unknown operation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.dialect, tt.cmd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestSelectByKey(t *testing.T) {
	m := garage(t)
	query, args, err := SelectByKey(dialect.Postgres, entity(t, m, "Engine"), map[string]any{"ID": 5}, []string{"Name", "HP"})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "name", "hp" FROM "engines" WHERE "id" = $1`, query)
	assert.Equal(t, []any{5}, args)
}

func TestBuilder_Quote(t *testing.T) {
	assert.Equal(t, `"we""ird"`, Dialect(dialect.Postgres).Quote(`we"ird`))
	assert.Equal(t, "`we``ird`", Dialect(dialect.MySQL).Quote("we`ird"))
	assert.Equal(t, "[we]]ird]", Dialect(dialect.SQLServer).Quote("we]ird"))
}
