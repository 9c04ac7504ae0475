package privacy

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/syssam/uow/dialect"
)

// Policy decision sentinel errors. Check them with errors.Is.
var (
	// Allow ends the evaluation and lets the command execute.
	Allow = errors.New("uow/privacy: allow rule")
	// Deny ends the evaluation and rejects the command.
	Deny = errors.New("uow/privacy: deny rule")
	// Skip passes the decision to the next rule.
	Skip = errors.New("uow/privacy: skip rule")
)

// Allowf returns a formatted decision wrapping Allow.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted decision wrapping Deny.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted decision wrapping Skip.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Rule decides whether a command may execute.
type Rule interface {
	EvalCommand(context.Context, dialect.Command) error
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(context.Context, dialect.Command) error

// EvalCommand returns f(ctx, cmd).
func (f RuleFunc) EvalCommand(ctx context.Context, cmd dialect.Command) error {
	return f(ctx, cmd)
}

// Policy evaluates its rules in order.
type Policy []Rule

// EvalCommand returns nil when the command is allowed and the deciding
// error otherwise. A decision attached to ctx with DecisionContext takes
// precedence over the rules.
func (p Policy) EvalCommand(ctx context.Context, cmd dialect.Command) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, rule := range p {
		switch decision := rule.EvalCommand(ctx, cmd); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// AlwaysAllowRule returns a rule that allows every command.
func AlwaysAllowRule() Rule {
	return RuleFunc(func(context.Context, dialect.Command) error { return Allow })
}

// AlwaysDenyRule returns a rule that denies every command.
func AlwaysDenyRule() Rule {
	return RuleFunc(func(context.Context, dialect.Command) error { return Deny })
}

// ContextRule returns a rule deciding from ctx alone.
func ContextRule(eval func(context.Context) error) Rule {
	return RuleFunc(func(ctx context.Context, _ dialect.Command) error { return eval(ctx) })
}

// OnOperation evaluates rule only for commands of the given operations.
func OnOperation(rule Rule, ops ...dialect.Op) Rule {
	return RuleFunc(func(ctx context.Context, cmd dialect.Command) error {
		if slices.Contains(ops, cmd.Op) {
			return rule.EvalCommand(ctx, cmd)
		}
		return Skip
	})
}

// OnEntity evaluates rule only for commands on the named entity types.
func OnEntity(rule Rule, names ...string) Rule {
	return RuleFunc(func(ctx context.Context, cmd dialect.Command) error {
		if cmd.Entity != nil && slices.Contains(names, cmd.Entity.Name) {
			return rule.EvalCommand(ctx, cmd)
		}
		return Skip
	})
}

// DenyOperationRule returns a rule denying the given operation.
func DenyOperationRule(op dialect.Op) Rule {
	rule := RuleFunc(func(_ context.Context, cmd dialect.Command) error {
		return Denyf("uow/privacy: %s of %s is not allowed", cmd.Op, cmd.Entity)
	})
	return OnOperation(rule, op)
}

// DenyChangeRule returns a rule denying updates that write any of the
// named properties.
func DenyChangeRule(props ...string) Rule {
	return RuleFunc(func(_ context.Context, cmd dialect.Command) error {
		if cmd.Op != dialect.Update {
			return Skip
		}
		for _, p := range props {
			if _, ok := cmd.Values[p]; ok {
				return Denyf("uow/privacy: %s.%s is read-only", cmd.Entity, p)
			}
		}
		return Skip
	})
}

type decisionCtxKey struct{}

// DecisionContext returns a context carrying a decision that overrides
// every policy evaluated under it.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext returns the decision attached to ctx. An Allow
// decision is returned as nil.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}
