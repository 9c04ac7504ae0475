// Package concurrency builds optimistic concurrency preconditions and
// checks command results against them.
package concurrency

import (
	"github.com/syssam/uow"
	"github.com/syssam/uow/dialect"
	"github.com/syssam/uow/tracker"
)

// BuildPrecondition returns the original values of the concurrency tokens
// of e, or nil when the entry type has no tokens or the entry was never
// persisted.
func BuildPrecondition(e *tracker.Entry) map[string]any {
	tokens := e.Type().ConcurrencyTokens()
	if len(tokens) == 0 || e.OriginalValues() == nil {
		return nil
	}
	pre := make(map[string]any, len(tokens))
	for _, p := range tokens {
		v, _ := e.OriginalValue(p.Name)
		pre[p.Name] = v
	}
	return pre
}

// Validate checks the rows affected by a command. An update or delete
// that affected no row lost a race with another writer and yields a
// ConcurrencyConflictError; any other count than one is an IntegrityError.
// A negative count means the store could not report it and is accepted.
func Validate(e *tracker.Entry, op dialect.Op, pre map[string]any, res dialect.Result) error {
	n := res.RowsAffected
	if n < 0 || n == 1 {
		return nil
	}
	name := e.Type().Name
	if n == 0 && (op == dialect.Update || op == dialect.Delete) {
		return uow.NewConcurrencyConflictError(name, e.Key(), op.String(), pre, res.Actual, n)
	}
	return uow.NewIntegrityError(name, e.Key(), op.String(), 1, n)
}
