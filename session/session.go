// Package session persists the changes tracked in a scope.
//
// A Scope combines a change tracker with a command executor. SaveChanges
// detects changes, assigns keys, orders the pending writes by their
// foreign key dependencies and executes them one at a time, checking
// optimistic concurrency tokens along the way.
//
//	s, err := session.New(ctx, schema.Static(model), executor)
//	if err != nil {
//		return err
//	}
//	if _, err := s.Add(order); err != nil {
//		return err
//	}
//	n, err := s.SaveChanges(ctx)
//
// Executed commands are not rolled back when a later one fails. Callers
// needing atomicity run the executor over a transaction.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syssam/uow"
	"github.com/syssam/uow/dialect"
	"github.com/syssam/uow/keygen"
	"github.com/syssam/uow/plan"
	"github.com/syssam/uow/privacy"
	"github.com/syssam/uow/schema"
	"github.com/syssam/uow/tracker"
)

// Scope is a unit of work: the objects tracked since it was created and
// the executor their changes are written to. A Scope is not safe for
// concurrent use; a second SaveChanges running at the same time is
// rejected.
type Scope struct {
	model   *schema.Model
	tr      *tracker.Tracker
	exec    dialect.Executor
	keys    *keygen.Generator
	log     *slog.Logger
	metrics *Metrics
	policy  privacy.Rule
	clock   func() time.Time
	saving  atomic.Bool
}

// New loads the model from provider and returns an empty scope writing to
// exec.
func New(ctx context.Context, provider schema.Provider, exec dialect.Executor, opts ...Option) (*Scope, error) {
	if exec == nil {
		return nil, fmt.Errorf("session: nil executor")
	}
	c := &config{
		log:   slog.New(slog.DiscardHandler),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	model, err := provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: load model: %w", err)
	}
	topts := []tracker.Option{tracker.WithLogger(c.log)}
	if c.accessor != nil {
		topts = append(topts, tracker.WithAccessor(c.accessor))
	}
	keys := c.keys
	if keys == nil {
		keys = keygen.New(c.sequences,
			keygen.WithBlockSize(c.block),
			keygen.WithWorkers(c.workers),
			keygen.WithLogger(c.log),
		)
	}
	return &Scope{
		model:   model,
		tr:      tracker.New(model, topts...),
		exec:    exec,
		keys:    keys,
		log:     c.log,
		metrics: c.metrics,
		policy:  c.policy,
		clock:   c.clock,
	}, nil
}

// Model returns the model of the scope.
func (s *Scope) Model() *schema.Model { return s.model }

// Tracker returns the change tracker of the scope.
func (s *Scope) Tracker() *tracker.Tracker { return s.tr }

// Add tracks obj, and the objects reachable from it, as new.
func (s *Scope) Add(obj any) (*tracker.Entry, error) { return s.tr.Add(obj) }

// Attach tracks obj as persisted and unchanged. Objects without a key
// value are tracked as new.
func (s *Scope) Attach(obj any) (*tracker.Entry, error) { return s.tr.Attach(obj) }

// Remove marks obj as deleted. A new object is no longer tracked.
func (s *Scope) Remove(obj any) error { return s.tr.Remove(obj) }

// Detach stops tracking obj.
func (s *Scope) Detach(obj any) error { return s.tr.Detach(obj) }

// Entry returns the tracking entry of obj.
func (s *Scope) Entry(obj any) (*tracker.Entry, bool) { return s.tr.Entry(obj) }

// Entries returns the tracked entries in discovery order.
func (s *Scope) Entries() []*tracker.Entry { return s.tr.Entries() }

// Lookup returns the entry of the given type holding the key values.
func (s *Scope) Lookup(typeName string, key ...any) (*tracker.Entry, bool) {
	return s.tr.Lookup(typeName, key...)
}

// DetectChanges scans the tracked objects for changes.
func (s *Scope) DetectChanges() error { return s.tr.DetectChanges() }

// HasChanges reports whether a save would write anything.
func (s *Scope) HasChanges() (bool, error) {
	if err := s.tr.DetectChanges(); err != nil {
		return false, err
	}
	for _, e := range s.tr.Entries() {
		if e.State().Pending() {
			return true, nil
		}
	}
	return false, nil
}

// Plan returns the steps a save would execute, without assigning keys or
// executing anything.
func (s *Scope) Plan(ctx context.Context) ([]*plan.Step, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.tr.DetectChanges(); err != nil {
		return nil, err
	}
	return plan.Build(s.tr)
}

// SaveChanges writes all pending changes and returns the number of
// entries written. It stops at the first failing command; entries whose
// commands executed keep their new state, and the others are left as
// they were before the call.
func (s *Scope) SaveChanges(ctx context.Context) (int, error) {
	if !s.saving.CompareAndSwap(false, true) {
		return 0, uow.NewInvalidOperationStateError("Scope", nil, uow.Detached, uow.Detached,
			"SaveChanges is already running on this scope")
	}
	defer s.saving.Store(false)
	start := s.clock()
	n, err := s.save(ctx)
	s.metrics.save(s.clock().Sub(start), err)
	if err != nil {
		s.log.Debug("session: save failed", "written", n, "error", err)
	} else {
		s.log.Debug("session: save completed", "written", n)
	}
	return n, err
}
