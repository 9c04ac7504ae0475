// Package privacy provides write policies for a tracking scope.
//
// A policy is evaluated against every command of a save, after the command
// is built and before it reaches the executor. A denied command fails the
// save like an execution error: commands executed before it stay executed.
//
// # Rule Evaluation
//
// Rules are evaluated in order until one returns a final decision:
//
//   - Allow: the command executes and evaluation stops
//   - Deny: the save fails and evaluation stops
//   - Skip (or nil): the next rule decides
//
// If all rules skip, the command is allowed.
//
//	policy := privacy.Policy{
//		privacy.DenyIfNoViewer(),
//		privacy.HasRole("admin"),
//		privacy.OnEntity(privacy.DenyOperationRule(dialect.Delete), "Customer"),
//		privacy.DenyChangeRule("CreatedAt"),
//		privacy.TenantRule("TenantID"),
//	}
//	s, err := session.New(ctx, provider, exec, session.WithPolicy(policy))
//
// # Built-in Rules
//
//   - AlwaysAllowRule, AlwaysDenyRule: fixed decisions
//   - ContextRule: decides from the context alone
//   - OnOperation, OnEntity: restrict a rule to some commands
//   - DenyOperationRule: denies inserts, updates or deletes
//   - DenyChangeRule: denies updates writing read-only properties
//   - DenyIfNoViewer, HasRole, HasAnyRole: viewer checks
//   - IsOwner: allows commands on rows owned by the viewer
//   - TenantRule: denies commands on rows of another tenant
//
// # Viewer
//
// The viewer is the user on whose behalf a save runs. It travels in the
// context passed to SaveChanges:
//
//	ctx := privacy.WithViewer(ctx, &privacy.SimpleViewer{
//		UserID: "user-123",
//		Roles:  []string{"admin"},
//	})
//	n, err := s.SaveChanges(ctx)
//
// # Errors
//
// The error of a denied save is an ExecutionError wrapping the decision:
//
//	if errors.Is(err, privacy.Deny) {
//		log.Printf("save denied: %v", err)
//	}
package privacy
