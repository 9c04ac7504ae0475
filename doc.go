// Package uow holds the shared vocabulary of the unit-of-work engine: the
// lifecycle states of tracked entries and the typed errors returned by a
// save.
//
// The engine itself is split across sub-packages:
//
//   - schema: entity metadata (keys, generation strategies, sentinels,
//     concurrency tokens, foreign keys)
//   - tracker: entity entries, identity resolution and change detection
//   - keygen: client, identity and sequence key generation
//   - plan: dependency ordering of insert, update and delete commands
//   - concurrency: optimistic concurrency preconditions and validation
//   - session: the tracking scope and its SaveChanges coordinator
//   - dialect, dialect/sql: the command executor contract and a SQL
//     implementation of it
//
// # Errors
//
// Every error returned by a save can be classified with the Is* helpers:
//
//	n, err := scope.SaveChanges(ctx)
//	switch {
//	case uow.IsConcurrencyConflict(err):
//	    // reload and retry
//	case uow.IsCyclicDependency(err):
//	    // model or data fix needed
//	}
//
// IsRetryable is true only for concurrency conflicts.
package uow
