package privacy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/uow/dialect"
	"github.com/syssam/uow/privacy"
	"github.com/syssam/uow/schema"
)

func customer(t *testing.T) *schema.EntityType {
	t.Helper()
	m := schema.MustBuild(
		schema.Entity("Customer").Properties(
			schema.String("CustomerID").Key(),
			schema.String("Name"),
			schema.String("OwnerID"),
			schema.String("TenantID"),
		),
	)
	et, ok := m.Type("Customer")
	require.True(t, ok)
	return et
}

func TestDecisionErrors(t *testing.T) {
	tests := []struct {
		name      string
		decision  error
		wantAllow bool
		wantDeny  bool
		wantSkip  bool
	}{
		{"allow", privacy.Allow, true, false, false},
		{"deny", privacy.Deny, false, true, false},
		{"skip", privacy.Skip, false, false, true},
		{"allowf", privacy.Allowf("user %s allowed", "admin"), true, false, false},
		{"denyf", privacy.Denyf("user %s denied", "guest"), false, true, false},
		{"skipf", privacy.Skipf("rule %d skipped", 1), false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantAllow, errors.Is(tt.decision, privacy.Allow))
			assert.Equal(t, tt.wantDeny, errors.Is(tt.decision, privacy.Deny))
			assert.Equal(t, tt.wantSkip, errors.Is(tt.decision, privacy.Skip))
		})
	}
	assert.Equal(t, "user guest denied: uow/privacy: deny rule", privacy.Denyf("user %s denied", "guest").Error())
}

func TestPolicy(t *testing.T) {
	ctx := context.Background()
	et := customer(t)
	insert := dialect.Command{Op: dialect.Insert, Entity: et, Key: map[string]any{"CustomerID": "ALFKI"}}
	del := dialect.Command{Op: dialect.Delete, Entity: et, Key: map[string]any{"CustomerID": "ALFKI"}}

	t.Run("Empty", func(t *testing.T) {
		assert.NoError(t, privacy.Policy{}.EvalCommand(ctx, insert))
	})
	t.Run("FirstDecisionWins", func(t *testing.T) {
		p := privacy.Policy{privacy.AlwaysAllowRule(), privacy.AlwaysDenyRule()}
		assert.NoError(t, p.EvalCommand(ctx, insert))
		p = privacy.Policy{privacy.AlwaysDenyRule(), privacy.AlwaysAllowRule()}
		assert.ErrorIs(t, p.EvalCommand(ctx, insert), privacy.Deny)
	})
	t.Run("SkipAndNil", func(t *testing.T) {
		p := privacy.Policy{
			privacy.RuleFunc(func(context.Context, dialect.Command) error { return nil }),
			privacy.RuleFunc(func(context.Context, dialect.Command) error { return privacy.Skipf("abstain") }),
		}
		assert.NoError(t, p.EvalCommand(ctx, insert))
	})
	t.Run("OtherErrors", func(t *testing.T) {
		p := privacy.Policy{privacy.RuleFunc(func(context.Context, dialect.Command) error { return assert.AnError })}
		assert.ErrorIs(t, p.EvalCommand(ctx, insert), assert.AnError)
	})
	t.Run("DenyOperation", func(t *testing.T) {
		p := privacy.Policy{privacy.DenyOperationRule(dialect.Delete)}
		assert.NoError(t, p.EvalCommand(ctx, insert))
		err := p.EvalCommand(ctx, del)
		assert.ErrorIs(t, err, privacy.Deny)
		assert.ErrorContains(t, err, "delete of Customer is not allowed")
	})
	t.Run("OnEntity", func(t *testing.T) {
		p := privacy.Policy{privacy.OnEntity(privacy.AlwaysDenyRule(), "Order")}
		assert.NoError(t, p.EvalCommand(ctx, del))
		p = privacy.Policy{privacy.OnEntity(privacy.AlwaysDenyRule(), "Order", "Customer")}
		assert.ErrorIs(t, p.EvalCommand(ctx, del), privacy.Deny)
	})
	t.Run("DenyChange", func(t *testing.T) {
		p := privacy.Policy{privacy.DenyChangeRule("Name")}
		update := dialect.Command{Op: dialect.Update, Entity: et, Values: map[string]any{"Name": "x"}}
		assert.ErrorContains(t, p.EvalCommand(ctx, update), "Customer.Name is read-only")
		update.Values = map[string]any{"OwnerID": "u1"}
		assert.NoError(t, p.EvalCommand(ctx, update))
		assert.NoError(t, p.EvalCommand(ctx, dialect.Command{Op: dialect.Insert, Entity: et, Values: map[string]any{"Name": "x"}}))
	})
	t.Run("DecisionContext", func(t *testing.T) {
		p := privacy.Policy{privacy.AlwaysDenyRule()}
		assert.NoError(t, p.EvalCommand(privacy.DecisionContext(ctx, privacy.Allow), insert))
		assert.ErrorIs(t, p.EvalCommand(privacy.DecisionContext(ctx, privacy.Skip), insert), privacy.Deny)
		_, ok := privacy.DecisionFromContext(privacy.DecisionContext(ctx, nil))
		assert.False(t, ok)
		decision, ok := privacy.DecisionFromContext(privacy.DecisionContext(ctx, privacy.Deny))
		assert.True(t, ok)
		assert.ErrorIs(t, decision, privacy.Deny)
	})
}

func TestViewerRules(t *testing.T) {
	et := customer(t)
	admin := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u1", Roles: []string{"admin"}, TenantID: "t1"})
	guest := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u2", TenantID: "t1"})
	anonymous := context.Background()
	cmd := dialect.Command{
		Op:     dialect.Update,
		Entity: et,
		Key:    map[string]any{"CustomerID": "ALFKI"},
		Values: map[string]any{"Name": "x"},
		Precondition: map[string]any{
			"OwnerID":  "u2",
			"TenantID": "t1",
		},
	}

	t.Run("ViewerFromContext", func(t *testing.T) {
		assert.Nil(t, privacy.ViewerFromContext(anonymous))
		v := privacy.ViewerFromContext(admin)
		require.NotNil(t, v)
		assert.Equal(t, "u1", v.GetID())
		assert.Equal(t, "t1", v.GetTenantID())
	})
	t.Run("DenyIfNoViewer", func(t *testing.T) {
		p := privacy.Policy{privacy.DenyIfNoViewer()}
		assert.ErrorIs(t, p.EvalCommand(anonymous, cmd), privacy.Deny)
		assert.NoError(t, p.EvalCommand(guest, cmd))
	})
	t.Run("HasRole", func(t *testing.T) {
		p := privacy.Policy{privacy.HasRole("admin"), privacy.AlwaysDenyRule()}
		assert.NoError(t, p.EvalCommand(admin, cmd))
		assert.ErrorIs(t, p.EvalCommand(guest, cmd), privacy.Deny)
		assert.ErrorIs(t, p.EvalCommand(anonymous, cmd), privacy.Deny)
		p = privacy.Policy{privacy.HasAnyRole("editor", "admin"), privacy.AlwaysDenyRule()}
		assert.NoError(t, p.EvalCommand(admin, cmd))
	})
	t.Run("IsOwner", func(t *testing.T) {
		p := privacy.Policy{privacy.IsOwner("OwnerID"), privacy.AlwaysDenyRule()}
		assert.NoError(t, p.EvalCommand(guest, cmd))
		assert.ErrorIs(t, p.EvalCommand(admin, cmd), privacy.Deny)
	})
	t.Run("TenantRule", func(t *testing.T) {
		p := privacy.Policy{privacy.TenantRule("TenantID")}
		assert.NoError(t, p.EvalCommand(guest, cmd))
		other := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u3", TenantID: "t2"})
		assert.ErrorContains(t, p.EvalCommand(other, cmd), "Customer belongs to another tenant")
		assert.NoError(t, p.EvalCommand(anonymous, cmd))
	})
}
