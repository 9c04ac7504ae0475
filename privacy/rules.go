package privacy

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/uow/dialect"
)

// Viewer is the user on whose behalf a save runs.
type Viewer interface {
	GetID() string
	GetRoles() []string
	// GetTenantID returns the tenant of the viewer, or "" without
	// multi-tenancy.
	GetTenantID() string
}

type viewerCtxKey struct{}

// WithViewer returns a context carrying viewer.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext returns the viewer of ctx, or nil.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a plain Viewer.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

func (v *SimpleViewer) GetID() string       { return v.UserID }
func (v *SimpleViewer) GetRoles() []string  { return v.Roles }
func (v *SimpleViewer) GetTenantID() string { return v.TenantID }

// DenyIfNoViewer denies commands of a save without a viewer.
func DenyIfNoViewer() Rule {
	return ContextRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("uow/privacy: viewer required")
		}
		return Skip
	})
}

// HasRole allows commands when the viewer has role.
func HasRole(role string) Rule {
	return HasAnyRole(role)
}

// HasAnyRole allows commands when the viewer has one of roles.
func HasAnyRole(roles ...string) Rule {
	return ContextRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		for _, role := range roles {
			if slices.Contains(viewer.GetRoles(), role) {
				return Allow
			}
		}
		return Skip
	})
}

// IsOwner allows commands whose prop holds the viewer's ID.
func IsOwner(prop string) Rule {
	return RuleFunc(func(ctx context.Context, cmd dialect.Command) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		v, ok := property(cmd, prop)
		if !ok || v == nil {
			return Skip
		}
		if fmt.Sprint(v) == viewer.GetID() {
			return Allow
		}
		return Skip
	})
}

// TenantRule denies commands whose prop holds a tenant other than the
// viewer's. Commands that do not write prop are skipped.
func TenantRule(prop string) Rule {
	return RuleFunc(func(ctx context.Context, cmd dialect.Command) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil || viewer.GetTenantID() == "" {
			return Skip
		}
		v, ok := property(cmd, prop)
		if !ok {
			return Skip
		}
		if fmt.Sprint(v) != viewer.GetTenantID() {
			return Denyf("uow/privacy: %s belongs to another tenant", cmd.Entity)
		}
		return Skip
	})
}

// property returns the value a command writes or matches for name.
func property(cmd dialect.Command, name string) (any, bool) {
	if v, ok := cmd.Values[name]; ok {
		return v, true
	}
	if v, ok := cmd.Key[name]; ok {
		return v, true
	}
	v, ok := cmd.Precondition[name]
	return v, ok
}
