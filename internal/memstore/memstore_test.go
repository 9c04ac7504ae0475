package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/uow/dialect"
	"github.com/syssam/uow/dialect/sql/sqlgraph"
	"github.com/syssam/uow/keygen"
	"github.com/syssam/uow/schema"
)

func model(t *testing.T) (customer, order *schema.EntityType) {
	t.Helper()
	m, err := schema.Build(
		schema.Entity("Customer").Properties(
			schema.String("ID").Key(),
			schema.String("Name").CaseInsensitive().ConcurrencyToken(),
			schema.Bytes("Version").RowVersion(),
		),
		schema.Entity("Order").Properties(
			schema.Int("ID").Key().Identity(),
			schema.String("CustomerID").Nullable(),
			schema.UUID("Ref"),
		).ForeignKeys(schema.References("Customer", "CustomerID")),
	)
	require.NoError(t, err)
	customer, _ = m.Type("Customer")
	order, _ = m.Type("Order")
	return customer, order
}

func TestStore_Insert(t *testing.T) {
	customer, order := model(t)
	s := New()
	ctx := context.Background()

	res, err := s.Execute(ctx, dialect.Command{
		Op:        dialect.Insert,
		Entity:    customer,
		Key:       map[string]any{"ID": "ALFKI"},
		Values:    map[string]any{"Name": "Alfreds"},
		Generated: []string{"Version"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowsAffected)
	assert.Len(t, res.Generated["Version"], 8)

	ref := uuid.New()
	for i := 1; i <= 2; i++ {
		res, err = s.Execute(ctx, dialect.Command{
			Op:        dialect.Insert,
			Entity:    order,
			Values:    map[string]any{"CustomerID": "ALFKI", "Ref": ref},
			Generated: []string{"ID"},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"ID": int64(i)}, res.Generated)
	}
	row, ok := s.Row(order, map[string]any{"ID": 2})
	require.True(t, ok)
	assert.Equal(t, ref.String(), row["Ref"])
	assert.Len(t, s.Rows(order), 2)

	_, err = s.Execute(ctx, dialect.Command{
		Op:     dialect.Insert,
		Entity: customer,
		Key:    map[string]any{"ID": "alfki"},
		Values: map[string]any{"Name": "Other"},
	})
	assert.NoError(t, err, "keys are case sensitive unless configured")

	_, err = s.Execute(ctx, dialect.Command{
		Op:     dialect.Insert,
		Entity: customer,
		Key:    map[string]any{"ID": "ALFKI"},
	})
	require.Error(t, err)
	assert.True(t, sqlgraph.IsUniqueConstraintError(err))
}

func TestStore_Precondition(t *testing.T) {
	customer, _ := model(t)
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(customer, map[string]any{"ID": "ALFKI", "Name": "Alfreds", "Version": []byte{1}}))
	key := map[string]any{"ID": "ALFKI"}

	t.Run("Match", func(t *testing.T) {
		res, err := s.Execute(ctx, dialect.Command{
			Op:           dialect.Update,
			Entity:       customer,
			Key:          key,
			Values:       map[string]any{"Name": "Alfreds Futterkiste"},
			Precondition: map[string]any{"Name": "ALFREDS", "Version": []byte{1}},
			Generated:    []string{"Version"},
		})
		require.NoError(t, err)
		assert.EqualValues(t, 1, res.RowsAffected)
		require.Contains(t, res.Generated, "Version")
		row, _ := s.Row(customer, key)
		assert.Equal(t, "Alfreds Futterkiste", row["Name"])
		assert.Equal(t, res.Generated["Version"], row["Version"])
	})

	t.Run("Stale", func(t *testing.T) {
		res, err := s.Execute(ctx, dialect.Command{
			Op:           dialect.Update,
			Entity:       customer,
			Key:          key,
			Values:       map[string]any{"Name": "Stale"},
			Precondition: map[string]any{"Version": []byte{1}},
		})
		require.NoError(t, err)
		assert.Zero(t, res.RowsAffected)
		require.Contains(t, res.Actual, "Version")
		assert.NotEqual(t, []byte{1}, res.Actual["Version"])
	})

	t.Run("Tampered", func(t *testing.T) {
		row, _ := s.Row(customer, key)
		require.NoError(t, s.Tamper(customer, key, map[string]any{"Name": "Concurrent"}))
		res, err := s.Execute(ctx, dialect.Command{
			Op:           dialect.Delete,
			Entity:       customer,
			Key:          key,
			Precondition: map[string]any{"Version": row["Version"]},
		})
		require.NoError(t, err)
		assert.Zero(t, res.RowsAffected)
	})

	t.Run("Missing", func(t *testing.T) {
		res, err := s.Execute(ctx, dialect.Command{
			Op:     dialect.Delete,
			Entity: customer,
			Key:    map[string]any{"ID": "NOPE"},
		})
		require.NoError(t, err)
		assert.Zero(t, res.RowsAffected)
		assert.Nil(t, res.Actual)
	})
}

func TestStore_ForeignKeys(t *testing.T) {
	customer, order := model(t)
	s := New(WithForeignKeys())
	ctx := context.Background()

	_, err := s.Execute(ctx, dialect.Command{
		Op:        dialect.Insert,
		Entity:    order,
		Values:    map[string]any{"CustomerID": "ALFKI"},
		Generated: []string{"ID"},
	})
	require.Error(t, err)
	assert.True(t, sqlgraph.IsForeignKeyConstraintError(err))

	_, err = s.Execute(ctx, dialect.Command{
		Op:        dialect.Insert,
		Entity:    order,
		Values:    map[string]any{"CustomerID": nil},
		Generated: []string{"ID"},
	})
	require.NoError(t, err, "null references are not checked")

	require.NoError(t, s.Put(customer, map[string]any{"ID": "ALFKI"}))
	_, err = s.Execute(ctx, dialect.Command{
		Op:     dialect.Update,
		Entity: order,
		Key:    map[string]any{"ID": int64(1)},
		Values: map[string]any{"CustomerID": "ALFKI"},
	})
	require.NoError(t, err)

	_, err = s.Execute(ctx, dialect.Command{
		Op:     dialect.Delete,
		Entity: customer,
		Key:    map[string]any{"ID": "ALFKI"},
	})
	require.Error(t, err)
	assert.True(t, sqlgraph.IsForeignKeyConstraintError(err))
}

func TestStore_NextBlock(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := keygen.Request{Entity: "Order", Property: "ID", Sequence: "orders"}
	values, err := s.NextBlock(ctx, req, 3)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, values)
	values, err = s.NextBlock(ctx, req, 1)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(4)}, values)
	values, err = s.NextBlock(ctx, keygen.Request{Sequence: "other"}, 1)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1)}, values)
}

func TestStore_Log(t *testing.T) {
	customer, _ := model(t)
	s := New()
	ctx := context.Background()
	_, err := s.Execute(ctx, dialect.Command{
		Op:     dialect.Insert,
		Entity: customer,
		Key:    map[string]any{"ID": "ALFKI"},
		Values: map[string]any{"Name": "Alfreds"},
	})
	require.NoError(t, err)
	_, err = s.Execute(ctx, dialect.Command{
		Op:           dialect.Delete,
		Entity:       customer,
		Key:          map[string]any{"ID": "ALFKI"},
		Precondition: map[string]any{"Name": "Alfreds"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"insert Customer key{ID=ALFKI} {Name=Alfreds}\ndelete Customer key{ID=ALFKI} if{Name=Alfreds}\n",
		s.Log())
	assert.Len(t, s.Commands(), 2)
}

func TestStore_Failure(t *testing.T) {
	customer, _ := model(t)
	boom := errors.New("boom")
	s := New(WithFailure(func(cmd dialect.Command) error {
		if cmd.Op == dialect.Delete {
			return boom
		}
		return nil
	}))
	require.NoError(t, s.Put(customer, map[string]any{"ID": "ALFKI"}))
	_, err := s.Execute(context.Background(), dialect.Command{
		Op:     dialect.Delete,
		Entity: customer,
		Key:    map[string]any{"ID": "ALFKI"},
	})
	assert.ErrorIs(t, err, boom)
	_, ok := s.Row(customer, map[string]any{"ID": "ALFKI"})
	assert.True(t, ok)
	assert.Empty(t, s.Commands(), "failed commands are not recorded")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Execute(ctx, dialect.Command{Op: dialect.Insert, Entity: customer, Key: map[string]any{"ID": "B"}})
	assert.ErrorIs(t, err, context.Canceled)
}
