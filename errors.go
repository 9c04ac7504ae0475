package uow

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Standard sentinel errors, matched with errors.Is against the typed errors below.
var (
	// ErrInvalidOperationState is returned when an entry cannot make the
	// requested transition.
	ErrInvalidOperationState = errors.New("uow: invalid operation for entry state")

	// ErrConcurrencyConflict is returned when an update or delete affected
	// no row because its concurrency precondition no longer held.
	ErrConcurrencyConflict = errors.New("uow: concurrency conflict")

	// ErrIntegrity is returned when a command affected an unexpected number
	// of rows that cannot be explained by a conflict.
	ErrIntegrity = errors.New("uow: data integrity violation")

	// ErrCyclicDependency is returned when no valid command order exists.
	ErrCyclicDependency = errors.New("uow: cyclic dependency")

	// ErrKeyGeneration is returned when a key value could not be generated.
	ErrKeyGeneration = errors.New("uow: key generation failed")

	// ErrExecution is returned when the command executor failed.
	ErrExecution = errors.New("uow: command execution failed")

	// ErrCanceled is returned when a save was canceled.
	ErrCanceled = errors.New("uow: save canceled")
)

// InvalidOperationStateError reports an illegal state transition or
// operation requested on a tracked entry.
type InvalidOperationStateError struct {
	Entity string // Entity type name
	Key    any    // Key values of the entry, if known
	From   State  // Current state
	To     State  // Requested state
	Reason string // Optional detail
}

// Error returns the error string.
func (e *InvalidOperationStateError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "uow: %s", e.Entity)
	if e.Key != nil {
		fmt.Fprintf(&sb, " (key=%v)", e.Key)
	}
	if e.From != e.To {
		fmt.Fprintf(&sb, ": cannot change state from %s to %s", e.From, e.To)
	} else {
		fmt.Fprintf(&sb, ": invalid operation in state %s", e.From)
	}
	if e.Reason != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Reason)
	}
	return sb.String()
}

// Is reports whether the target error matches ErrInvalidOperationState.
func (e *InvalidOperationStateError) Is(err error) bool {
	return err == ErrInvalidOperationState
}

// NewInvalidOperationStateError returns a new InvalidOperationStateError.
func NewInvalidOperationStateError(entity string, key any, from, to State, reason string) *InvalidOperationStateError {
	return &InvalidOperationStateError{Entity: entity, Key: key, From: from, To: to, Reason: reason}
}

// IsInvalidOperationState returns true if the error is an InvalidOperationStateError.
func IsInvalidOperationState(err error) bool {
	if err == nil {
		return false
	}
	var e *InvalidOperationStateError
	return errors.As(err, &e) || errors.Is(err, ErrInvalidOperationState)
}

// ConcurrencyConflictError reports that an update or delete did not affect
// the expected row because the stored concurrency tokens changed.
type ConcurrencyConflictError struct {
	Entity       string         // Entity type name
	Key          any            // Key values of the entry
	Op           string         // "update" or "delete"
	Expected     map[string]any // Precondition built from original values
	Actual       map[string]any // Stored values, when the executor reported them
	RowsAffected int64
}

// Error returns the error string.
func (e *ConcurrencyConflictError) Error() string {
	msg := fmt.Sprintf("uow: concurrency conflict on %s %s (key=%v): expected 1 row, affected %d",
		e.Op, e.Entity, e.Key, e.RowsAffected)
	if len(e.Expected) > 0 {
		msg += fmt.Sprintf("; expected %s", formatValues(e.Expected))
	}
	if e.Actual != nil {
		msg += fmt.Sprintf(", actual %s", formatValues(e.Actual))
	}
	return msg
}

// Is reports whether the target error matches ErrConcurrencyConflict.
func (e *ConcurrencyConflictError) Is(err error) bool {
	return err == ErrConcurrencyConflict
}

// NewConcurrencyConflictError returns a new ConcurrencyConflictError.
func NewConcurrencyConflictError(entity string, key any, op string, expected, actual map[string]any, affected int64) *ConcurrencyConflictError {
	return &ConcurrencyConflictError{
		Entity:       entity,
		Key:          key,
		Op:           op,
		Expected:     expected,
		Actual:       actual,
		RowsAffected: affected,
	}
}

// IsConcurrencyConflict returns true if the error is a ConcurrencyConflictError.
func IsConcurrencyConflict(err error) bool {
	if err == nil {
		return false
	}
	var e *ConcurrencyConflictError
	return errors.As(err, &e) || errors.Is(err, ErrConcurrencyConflict)
}

// IntegrityError reports a command that affected a row count no conflict
// can explain, such as an update touching more than one row.
type IntegrityError struct {
	Entity       string
	Key          any
	Op           string
	Expected     int64
	RowsAffected int64
}

// Error returns the error string.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("uow: %s %s (key=%v) affected %d rows, expected %d",
		e.Op, e.Entity, e.Key, e.RowsAffected, e.Expected)
}

// Is reports whether the target error matches ErrIntegrity.
func (e *IntegrityError) Is(err error) bool {
	return err == ErrIntegrity
}

// NewIntegrityError returns a new IntegrityError.
func NewIntegrityError(entity string, key any, op string, expected, affected int64) *IntegrityError {
	return &IntegrityError{Entity: entity, Key: key, Op: op, Expected: expected, RowsAffected: affected}
}

// IsIntegrity returns true if the error is an IntegrityError.
func IsIntegrity(err error) bool {
	if err == nil {
		return false
	}
	var e *IntegrityError
	return errors.As(err, &e) || errors.Is(err, ErrIntegrity)
}

// CyclicDependencyError reports a set of pending entries for which no
// insert or delete order exists.
type CyclicDependencyError struct {
	Cycle []string // Entries on the cycle, first entry repeated at the end
}

// Error returns the error string.
func (e *CyclicDependencyError) Error() string {
	return "uow: cyclic dependency: " + strings.Join(e.Cycle, " -> ")
}

// Is reports whether the target error matches ErrCyclicDependency.
func (e *CyclicDependencyError) Is(err error) bool {
	return err == ErrCyclicDependency
}

// NewCyclicDependencyError returns a new CyclicDependencyError.
func NewCyclicDependencyError(cycle []string) *CyclicDependencyError {
	return &CyclicDependencyError{Cycle: cycle}
}

// IsCyclicDependency returns true if the error is a CyclicDependencyError.
func IsCyclicDependency(err error) bool {
	if err == nil {
		return false
	}
	var e *CyclicDependencyError
	return errors.As(err, &e) || errors.Is(err, ErrCyclicDependency)
}

// KeyGenerationError wraps a failure to produce a key value.
type KeyGenerationError struct {
	Entity   string
	Property string
	Err      error
}

// Error returns the error string.
func (e *KeyGenerationError) Error() string {
	return fmt.Sprintf("uow: generating %s.%s: %v", e.Entity, e.Property, e.Err)
}

// Unwrap returns the underlying error.
func (e *KeyGenerationError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches ErrKeyGeneration.
func (e *KeyGenerationError) Is(err error) bool {
	return err == ErrKeyGeneration
}

// NewKeyGenerationError returns a new KeyGenerationError.
func NewKeyGenerationError(entity, property string, err error) *KeyGenerationError {
	return &KeyGenerationError{Entity: entity, Property: property, Err: err}
}

// IsKeyGeneration returns true if the error is a KeyGenerationError.
func IsKeyGeneration(err error) bool {
	if err == nil {
		return false
	}
	var e *KeyGenerationError
	return errors.As(err, &e) || errors.Is(err, ErrKeyGeneration)
}

// constraintKinder is implemented by executor errors that know which
// database constraint was violated.
type constraintKinder interface {
	ConstraintKind() string
}

// ExecutionError wraps a failure of the command executor.
type ExecutionError struct {
	Entity string
	Key    any
	Op     string
	Err    error
}

// Error returns the error string.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("uow: %s %s (key=%v): %v", e.Op, e.Entity, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches ErrExecution.
func (e *ExecutionError) Is(err error) bool {
	return err == ErrExecution
}

// Constraint returns the kind of violated constraint ("unique",
// "foreign_key", "check") when the executor classified the failure,
// or an empty string.
func (e *ExecutionError) Constraint() string {
	var ck constraintKinder
	if errors.As(e.Err, &ck) {
		return ck.ConstraintKind()
	}
	return ""
}

// NewExecutionError returns a new ExecutionError.
func NewExecutionError(entity string, key any, op string, err error) *ExecutionError {
	return &ExecutionError{Entity: entity, Key: key, Op: op, Err: err}
}

// IsExecution returns true if the error is an ExecutionError.
func IsExecution(err error) bool {
	if err == nil {
		return false
	}
	var e *ExecutionError
	return errors.As(err, &e) || errors.Is(err, ErrExecution)
}

// CanceledError reports a save interrupted by context cancellation.
// PartialEffect is set when at least one command may have reached the
// store, leaving tracked state and persisted state out of sync.
type CanceledError struct {
	Executed      int // Commands applied before cancellation
	PartialEffect bool
	Err           error
}

// Error returns the error string.
func (e *CanceledError) Error() string {
	if e.PartialEffect {
		return fmt.Sprintf("uow: save canceled after %d command(s) with partial effect: %v", e.Executed, e.Err)
	}
	return fmt.Sprintf("uow: save canceled before execution: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *CanceledError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches ErrCanceled.
func (e *CanceledError) Is(err error) bool {
	return err == ErrCanceled
}

// NewCanceledError returns a new CanceledError.
func NewCanceledError(executed int, partial bool, err error) *CanceledError {
	return &CanceledError{Executed: executed, PartialEffect: partial, Err: err}
}

// IsCanceled returns true if the error is a CanceledError.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	var e *CanceledError
	return errors.As(err, &e) || errors.Is(err, ErrCanceled)
}

// IsPartialEffect returns true if the error is a CanceledError whose
// save left already executed commands behind.
func IsPartialEffect(err error) bool {
	var e *CanceledError
	return errors.As(err, &e) && e.PartialEffect
}

// IsRetryable reports whether the save may succeed after the caller
// refreshes its state. Only concurrency conflicts qualify; structural and
// configuration errors need a model or data fix.
func IsRetryable(err error) bool {
	return IsConcurrencyConflict(err)
}

func formatValues(m map[string]any) string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range slices.Sorted(maps.Keys(m)) {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%v", k, m[k])
	}
	sb.WriteByte('}')
	return sb.String()
}
