package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/uow"
	"github.com/syssam/uow/dialect"
	"github.com/syssam/uow/internal/memstore"
	"github.com/syssam/uow/keygen"
	"github.com/syssam/uow/plan"
	"github.com/syssam/uow/privacy"
	"github.com/syssam/uow/schema"
	"github.com/syssam/uow/session"
	"github.com/syssam/uow/tracker"
)

type (
	Customer struct {
		CustomerID string
		Name       string
		Orders     []*Order
	}
	Order struct {
		OrderID    int
		CustomerID string
		Customer   *Customer
	}
	Engine struct {
		ID   int
		Name string
		HP   int
	}
	Parent struct {
		ID       int
		Name     string
		Children []*Child
	}
	Child struct {
		ID       int
		ParentID *int
		Parent   *Parent
	}
	Document struct {
		ID      int
		Title   string
		Version []byte
	}
)

func shop() *schema.Model {
	return schema.MustBuild(
		schema.Entity("Customer").Properties(
			schema.String("CustomerID").Key(),
			schema.String("Name"),
		),
		schema.Entity("Order").Properties(
			schema.Int("OrderID").Key().Identity(),
			schema.String("CustomerID"),
		).ForeignKeys(
			schema.References("Customer", "CustomerID").Navigation("Customer").Inverse("Orders").Required(),
		),
		schema.Entity("Engine").Properties(
			schema.Int("ID").Key(),
			schema.String("Name").ConcurrencyToken(),
			schema.Int("HP"),
		),
		schema.Entity("Parent").Properties(
			schema.Int("ID").Key().Identity(),
			schema.String("Name"),
		),
		schema.Entity("Child").Properties(
			schema.Int("ID").Key().Identity(),
			schema.Int("ParentID").Nullable(),
		).ForeignKeys(
			schema.References("Parent", "ParentID").Navigation("Parent").Inverse("Children"),
		),
		schema.Entity("Document").Properties(
			schema.Int("ID").Key(),
			schema.String("Title"),
			schema.Bytes("Version").RowVersion(),
		),
	)
}

// mutual returns a model where A and B reference each other through
// identity keys.
func mutual(optional bool) *schema.Model {
	toA := schema.References("A", "AID").Navigation("A")
	if !optional {
		toA.Required()
	}
	return schema.MustBuild(
		schema.Entity("A").Properties(
			schema.Int("ID").Key().Identity(),
			schema.Int("BID").Nullable(),
		).ForeignKeys(schema.References("B", "BID").Navigation("B").Required()),
		schema.Entity("B").Properties(
			schema.Int("ID").Key().Identity(),
			schema.Int("AID").Nullable(),
		).ForeignKeys(toA),
	)
}

func tickets(sentinel int) *schema.Model {
	return schema.MustBuild(
		schema.Entity("Ticket").Properties(
			schema.Int("ID").Key().Sequence("tickets").Sentinel(sentinel),
			schema.String("Title"),
		),
	)
}

type Ticket struct {
	ID    int
	Title string
}

func newScope(t *testing.T, m *schema.Model, exec dialect.Executor, opts ...session.Option) *session.Scope {
	t.Helper()
	s, err := session.New(context.Background(), schema.Static(m), exec, opts...)
	require.NoError(t, err)
	return s
}

func entityType(t *testing.T, s *session.Scope, name string) *schema.EntityType {
	t.Helper()
	et, ok := s.Model().Type(name)
	require.True(t, ok, name)
	return et
}

func state(t *testing.T, s *session.Scope, obj any) uow.State {
	t.Helper()
	e, ok := s.Entry(obj)
	if !ok {
		return uow.Detached
	}
	return e.State()
}

func TestSaveChanges_ClientKeyPrincipal(t *testing.T) {
	store := memstore.New(memstore.WithForeignKeys())
	s := newScope(t, shop(), store)
	customer := &Customer{CustomerID: "ALFKI", Name: "Alfreds"}
	order := &Order{CustomerID: "ALFKI"}
	_, err := s.Add(customer)
	require.NoError(t, err)
	_, err = s.Add(order)
	require.NoError(t, err)

	n, err := s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t,
		"insert Customer key{CustomerID=ALFKI} {Name=Alfreds}\ninsert Order {CustomerID=ALFKI}\n",
		store.Log())
	assert.Equal(t, 1, order.OrderID)
	assert.Equal(t, "ALFKI", order.CustomerID)
	for _, e := range s.Entries() {
		assert.Equal(t, uow.Unchanged, e.State())
		assert.Empty(t, e.ModifiedProperties())
		assert.Equal(t, e.CurrentValues(), e.OriginalValues(), "round trip of %s", e)
	}
	e, ok := s.Lookup("Order", 1)
	require.True(t, ok)
	assert.Same(t, order, e.Object())
}

func TestSaveChanges_Policy(t *testing.T) {
	store := memstore.New(memstore.WithForeignKeys())
	policy := privacy.Policy{
		privacy.HasRole("admin"),
		privacy.OnEntity(privacy.DenyOperationRule(dialect.Insert), "Order"),
	}
	s := newScope(t, shop(), store, session.WithPolicy(policy))
	customer := &Customer{CustomerID: "ALFKI", Name: "Alfreds"}
	order := &Order{CustomerID: "ALFKI"}
	_, err := s.Add(customer)
	require.NoError(t, err)
	_, err = s.Add(order)
	require.NoError(t, err)

	n, err := s.SaveChanges(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, uow.IsExecution(err))
	assert.ErrorIs(t, err, privacy.Deny)
	assert.Equal(t, "insert Customer key{CustomerID=ALFKI} {Name=Alfreds}\n", store.Log())
	assert.Equal(t, uow.Unchanged, state(t, s, customer))
	assert.Equal(t, uow.Added, state(t, s, order))

	ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u1", Roles: []string{"admin"}})
	n, err = s.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, order.OrderID)
}

func TestSaveChanges_IdentityPrincipalFirst(t *testing.T) {
	store := memstore.New(memstore.WithForeignKeys())
	s := newScope(t, shop(), store)
	parent := &Parent{Name: "p"}
	child := &Child{Parent: parent}
	parent.Children = []*Child{child}
	_, err := s.Add(child)
	require.NoError(t, err)

	n, err := s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "insert Parent {Name=p}\ninsert Child {ParentID=1}\n", store.Log())
	assert.Equal(t, 1, parent.ID)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent.ID, *child.ParentID)
	assert.Equal(t, uow.Unchanged, state(t, s, child))
}

func TestSaveChanges_DeleteDependentFirst(t *testing.T) {
	store := memstore.New(memstore.WithForeignKeys())
	s := newScope(t, shop(), store)
	one := 1
	require.NoError(t, store.Put(entityType(t, s, "Parent"), map[string]any{"ID": 1, "Name": "p"}))
	require.NoError(t, store.Put(entityType(t, s, "Child"), map[string]any{"ID": 1, "ParentID": 1}))
	parent := &Parent{ID: 1, Name: "p"}
	child := &Child{ID: 1, ParentID: &one}
	_, err := s.Attach(parent)
	require.NoError(t, err)
	_, err = s.Attach(child)
	require.NoError(t, err)
	require.NoError(t, s.Remove(parent))
	require.NoError(t, s.Remove(child))

	n, err := s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "delete Child key{ID=1}\ndelete Parent key{ID=1}\n", store.Log())
	assert.Empty(t, s.Entries())
	assert.Equal(t, uow.Detached, state(t, s, parent))
}

func TestSaveChanges_Sentinel(t *testing.T) {
	var next int
	generator := schema.GeneratorFunc(func() (any, error) {
		next++
		return 100 + next, nil
	})
	tests := []struct {
		name     string
		key      func() *schema.PropertyBuilder
		sentinel int
		want     []int
		log      string
	}{
		{
			name:     "identity/-1",
			key:      func() *schema.PropertyBuilder { return schema.Int("ID").Key().Identity() },
			sentinel: -1,
			want:     []int{1, 0},
			log:      "insert Ticket {Title=a}\ninsert Ticket key{ID=0} {Title=b}\n",
		},
		{
			name:     "identity/0",
			key:      func() *schema.PropertyBuilder { return schema.Int("ID").Key().Identity() },
			sentinel: 0,
			want:     []int{-1, 1},
			log:      "insert Ticket key{ID=-1} {Title=a}\ninsert Ticket {Title=b}\n",
		},
		{
			name:     "sequence/-1",
			key:      func() *schema.PropertyBuilder { return schema.Int("ID").Key().Sequence("tickets") },
			sentinel: -1,
			want:     []int{1, 0},
			log:      "insert Ticket key{ID=1} {Title=a}\ninsert Ticket key{ID=0} {Title=b}\n",
		},
		{
			name:     "sequence/0",
			key:      func() *schema.PropertyBuilder { return schema.Int("ID").Key().Sequence("tickets") },
			sentinel: 0,
			want:     []int{-1, 1},
			log:      "insert Ticket key{ID=-1} {Title=a}\ninsert Ticket key{ID=1} {Title=b}\n",
		},
		{
			name:     "generator/-1",
			key:      func() *schema.PropertyBuilder { return schema.Int("ID").Key().Generator(generator) },
			sentinel: -1,
			want:     []int{101, 0},
			log:      "insert Ticket key{ID=101} {Title=a}\ninsert Ticket key{ID=0} {Title=b}\n",
		},
		{
			name:     "generator/0",
			key:      func() *schema.PropertyBuilder { return schema.Int("ID").Key().Generator(generator) },
			sentinel: 0,
			want:     []int{-1, 101},
			log:      "insert Ticket key{ID=-1} {Title=a}\ninsert Ticket key{ID=101} {Title=b}\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next = 0
			m := schema.MustBuild(
				schema.Entity("Ticket").Properties(
					tt.key().Sentinel(tt.sentinel),
					schema.String("Title"),
				),
			)
			store := memstore.New()
			s := newScope(t, m, store, session.WithSequences(store))
			a, b := &Ticket{ID: -1, Title: "a"}, &Ticket{ID: 0, Title: "b"}
			_, err := s.Add(a)
			require.NoError(t, err)
			_, err = s.Add(b)
			require.NoError(t, err)
			n, err := s.SaveChanges(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			assert.Equal(t, tt.want, []int{a.ID, b.ID})
			assert.Equal(t, tt.log, store.Log())
		})
	}
}

func TestSaveChanges_ExplicitIdentity(t *testing.T) {
	m := schema.MustBuild(
		schema.Entity("Parent").Properties(
			schema.Int("ID").Key().Identity().Sentinel(-1),
			schema.String("Name"),
		),
		schema.Entity("Child").Properties(
			schema.Int("ID").Key().Identity(),
			schema.Int("ParentID").Nullable(),
		).ForeignKeys(
			schema.References("Parent", "ParentID").Navigation("Parent").Inverse("Children"),
		),
	)
	store := memstore.New(memstore.WithForeignKeys())
	s := newScope(t, m, store)
	parent := &Parent{ID: 0, Name: "explicit zero"}
	child := &Child{Parent: parent}
	parent.Children = []*Child{child}
	e, err := s.Add(parent)
	require.NoError(t, err)
	assert.False(t, e.PendingIdentity())

	n, err := s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, parent.ID, "explicit value kept")
	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent.ID, *child.ParentID)
	assert.Equal(t, 1, child.ID)
	assert.Contains(t, store.Log(), "insert Parent key{ID=0} {Name=explicit zero}\n")
	row, ok := store.Row(entityType(t, s, "Parent"), map[string]any{"ID": 0})
	require.True(t, ok)
	assert.Equal(t, "explicit zero", row["Name"])
}

func TestSaveChanges_ConcurrencyToken(t *testing.T) {
	setup := func(t *testing.T) (*memstore.Store, *session.Scope, *Engine) {
		store := memstore.New()
		s := newScope(t, shop(), store)
		require.NoError(t, store.Put(entityType(t, s, "Engine"), map[string]any{"ID": 1, "Name": "V8", "HP": 400}))
		engine := &Engine{ID: 1, Name: "V8", HP: 400}
		_, err := s.Attach(engine)
		require.NoError(t, err)
		engine.Name = "V10"
		return store, s, engine
	}

	t.Run("Unchanged", func(t *testing.T) {
		store, s, engine := setup(t)
		n, err := s.SaveChanges(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, "update Engine key{ID=1} {Name=V10} if{Name=V8}\n", store.Log())
		e, _ := s.Entry(engine)
		assert.Equal(t, uow.Unchanged, e.State())
		v, _ := e.OriginalValue("Name")
		assert.Equal(t, "V10", v)
		row, _ := store.Row(e.Type(), map[string]any{"ID": 1})
		assert.Equal(t, "V10", row["Name"])
	})

	t.Run("Conflict", func(t *testing.T) {
		store, s, engine := setup(t)
		et := entityType(t, s, "Engine")
		require.NoError(t, store.Tamper(et, map[string]any{"ID": 1}, map[string]any{"Name": "V12"}))

		n, err := s.SaveChanges(context.Background())
		require.Error(t, err)
		assert.Zero(t, n)
		assert.True(t, uow.IsConcurrencyConflict(err))
		assert.True(t, uow.IsRetryable(err))
		var cerr *uow.ConcurrencyConflictError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, map[string]any{"Name": "V8"}, cerr.Expected)
		assert.Equal(t, map[string]any{"Name": "V12"}, cerr.Actual)

		e, _ := s.Entry(engine)
		assert.Equal(t, uow.Modified, e.State())
		v, _ := e.OriginalValue("Name")
		assert.Equal(t, "V8", v)
	})
}

func TestSaveChanges_RowVersion(t *testing.T) {
	store := memstore.New()
	s := newScope(t, shop(), store)
	doc := &Document{ID: 7, Title: "draft"}
	_, err := s.Add(doc)
	require.NoError(t, err)
	_, err = s.SaveChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, doc.Version, 8)
	first := doc.Version

	doc.Title = "final"
	_, err = s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, doc.Version)
	e, _ := s.Entry(doc)
	v, _ := e.OriginalValue("Version")
	assert.Equal(t, doc.Version, v)

	et := entityType(t, s, "Document")
	require.NoError(t, store.Tamper(et, map[string]any{"ID": 7}, nil))
	doc.Title = "stale"
	_, err = s.SaveChanges(context.Background())
	assert.True(t, uow.IsConcurrencyConflict(err))
}

func TestSaveChanges_Cycle(t *testing.T) {
	store := memstore.New()
	s := newScope(t, mutual(false), store)
	a := tracker.NewRecord("A", map[string]any{"ID": 0})
	b := tracker.NewRecord("B", map[string]any{"ID": 0})
	a.SetRef("B", b)
	b.SetRef("A", a)
	_, err := s.Add(a)
	require.NoError(t, err)

	n, err := s.SaveChanges(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)
	assert.True(t, uow.IsCyclicDependency(err))
	assert.False(t, uow.IsRetryable(err))
	assert.Empty(t, store.Commands())
	assert.Equal(t, uow.Added, state(t, s, a))
	assert.Equal(t, uow.Added, state(t, s, b))
}

func TestSaveChanges_BreakOptional(t *testing.T) {
	store := memstore.New(memstore.WithForeignKeys())
	s := newScope(t, mutual(true), store)
	a := tracker.NewRecord("A", map[string]any{"ID": 0})
	b := tracker.NewRecord("B", map[string]any{"ID": 0})
	a.SetRef("B", b)
	b.SetRef("A", a)
	_, err := s.Add(a)
	require.NoError(t, err)

	n, err := s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "insert B {AID=<nil>}\ninsert A {BID=1}\nupdate B key{ID=1} {AID=1}\n", store.Log())
	assert.EqualValues(t, 1, a.Values["ID"])
	assert.EqualValues(t, 1, b.Values["AID"])
	changed, err := s.HasChanges()
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSaveChanges_Canceled(t *testing.T) {
	t.Run("BeforeExecution", func(t *testing.T) {
		store := memstore.New()
		ctx, cancel := context.WithCancel(context.Background())
		provider := keygen.ProviderFunc(func(ctx context.Context, _ keygen.Request, _ int) ([]any, error) {
			cancel()
			return nil, ctx.Err()
		})
		s := newScope(t, tickets(-1), store, session.WithSequences(provider))
		ticket := &Ticket{ID: -1}
		_, err := s.Add(ticket)
		require.NoError(t, err)

		_, err = s.SaveChanges(ctx)
		require.Error(t, err)
		assert.True(t, uow.IsCanceled(err))
		assert.False(t, uow.IsPartialEffect(err))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, -1, ticket.ID)
		assert.Empty(t, store.Commands())
	})

	t.Run("PartialEffect", func(t *testing.T) {
		store := memstore.New()
		ctx, cancel := context.WithCancel(context.Background())
		exec := dialect.ExecutorFunc(func(ctx context.Context, cmd dialect.Command) (dialect.Result, error) {
			res, err := store.Execute(ctx, cmd)
			cancel()
			return res, err
		})
		keys := keygen.New(store)
		s := newScope(t, tickets(-1), exec, session.WithKeyGenerator(keys))
		first, second := &Ticket{ID: -1, Title: "first"}, &Ticket{ID: -1, Title: "second"}
		_, err := s.Add(first)
		require.NoError(t, err)
		_, err = s.Add(second)
		require.NoError(t, err)

		n, err := s.SaveChanges(ctx)
		require.Error(t, err)
		assert.Equal(t, 1, n)
		assert.True(t, uow.IsPartialEffect(err))
		var cerr *uow.CanceledError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, 1, cerr.Executed)

		assert.Equal(t, uow.Unchanged, state(t, s, first))
		assert.Equal(t, 1, first.ID)
		assert.Equal(t, uow.Added, state(t, s, second))
		assert.Equal(t, -1, second.ID, "unexecuted key assignment is reverted")
		assert.Equal(t, 1, keys.Pooled("tickets"))
	})
}

func TestSaveChanges_ExecutionError(t *testing.T) {
	t.Run("Constraint", func(t *testing.T) {
		store := memstore.New(memstore.WithForeignKeys())
		s := newScope(t, shop(), store)
		order := &Order{CustomerID: "NOPE"}
		_, err := s.Add(order)
		require.NoError(t, err)

		_, err = s.SaveChanges(context.Background())
		require.Error(t, err)
		assert.True(t, uow.IsExecution(err))
		var eerr *uow.ExecutionError
		require.ErrorAs(t, err, &eerr)
		assert.Equal(t, "foreign_key", eerr.Constraint())
		assert.Equal(t, "insert", eerr.Op)
		assert.Equal(t, uow.Added, state(t, s, order))
		assert.Zero(t, order.OrderID)
	})

	t.Run("UndoForeignKeyFixup", func(t *testing.T) {
		boom := errors.New("boom")
		store := memstore.New(memstore.WithFailure(func(cmd dialect.Command) error {
			if cmd.Entity.Name == "Child" {
				return boom
			}
			return nil
		}))
		s := newScope(t, shop(), store)
		parent := &Parent{Name: "p"}
		child := &Child{Parent: parent}
		_, err := s.Add(child)
		require.NoError(t, err)

		n, err := s.SaveChanges(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, n)
		assert.Equal(t, uow.Unchanged, state(t, s, parent))
		assert.Equal(t, 1, parent.ID)
		assert.Equal(t, uow.Added, state(t, s, child))
		assert.Nil(t, child.ParentID)
	})
}

func TestSaveChanges_SingleWriter(t *testing.T) {
	store := memstore.New()
	started, release := make(chan struct{}), make(chan struct{})
	exec := dialect.ExecutorFunc(func(ctx context.Context, cmd dialect.Command) (dialect.Result, error) {
		close(started)
		<-release
		return store.Execute(ctx, cmd)
	})
	s := newScope(t, shop(), exec)
	_, err := s.Add(&Customer{CustomerID: "ALFKI"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.SaveChanges(context.Background())
		done <- err
	}()
	<-started
	_, err = s.SaveChanges(context.Background())
	assert.True(t, uow.IsInvalidOperationState(err))
	close(release)
	require.NoError(t, <-done)
}

func TestPlan(t *testing.T) {
	store := memstore.New()
	s := newScope(t, shop(), store)
	parent := &Parent{Name: "p"}
	child := &Child{Parent: parent}
	_, err := s.Add(child)
	require.NoError(t, err)

	steps, err := s.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1. insert Parent#1\n2. insert Child#0\n", plan.Describe(steps))
	assert.Empty(t, store.Commands())
	assert.Zero(t, parent.ID)
	assert.Equal(t, uow.Added, state(t, s, parent))
}

func TestSaveChanges_NothingToDo(t *testing.T) {
	store := memstore.New()
	s := newScope(t, shop(), store)
	_, err := s.Attach(&Engine{ID: 1, Name: "V8"})
	require.NoError(t, err)
	n, err := s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.Commands())
}

func TestNew(t *testing.T) {
	failing := schema.ProviderFunc(func(context.Context) (*schema.Model, error) {
		return nil, errors.New("unreachable")
	})
	_, err := session.New(context.Background(), failing, memstore.New())
	assert.ErrorContains(t, err, "session: load model: unreachable")

	_, err = session.New(context.Background(), schema.Static(shop()), nil)
	assert.Error(t, err)
}
