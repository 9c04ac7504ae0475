package session

import (
	"context"
	"errors"
	"slices"

	"github.com/syssam/uow"
	"github.com/syssam/uow/concurrency"
	"github.com/syssam/uow/dialect"
	"github.com/syssam/uow/keygen"
	"github.com/syssam/uow/plan"
	"github.com/syssam/uow/schema"
	"github.com/syssam/uow/tracker"
	"github.com/syssam/uow/value"
)

// run is the state of one save.
type run struct {
	*Scope
	// undo holds the values written into entries during the save, oldest
	// first.
	undo     []keygen.Assignment
	done     map[*tracker.Entry]bool
	rels     map[int][]tracker.Relationship
	executed int
	written  int
}

func (s *Scope) save(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, uow.NewCanceledError(0, false, err)
	}
	if err := s.tr.DetectChanges(); err != nil {
		return 0, err
	}
	var pending []*tracker.Entry
	for _, e := range s.tr.Entries() {
		if e.State().Pending() {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}
	r := &run{Scope: s, done: make(map[*tracker.Entry]bool)}
	for _, e := range pending {
		assigned, err := s.keys.GenerateKeyIfNeeded(e)
		r.undo = append(r.undo, assigned...)
		if err != nil {
			return 0, r.abort(err)
		}
	}
	assigned, err := s.keys.Prefetch(ctx, pending)
	if err != nil {
		if ctx.Err() != nil {
			err = uow.NewCanceledError(0, false, ctx.Err())
		}
		return 0, r.abort(err)
	}
	r.undo = append(r.undo, assigned...)

	steps, err := plan.Build(s.tr)
	if err != nil {
		return 0, r.abort(err)
	}
	r.rels = make(map[int][]tracker.Relationship)
	for _, rel := range s.tr.Relationships() {
		if !rel.Original {
			r.rels[rel.Dependent] = append(r.rels[rel.Dependent], rel)
		}
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return r.written, r.abort(uow.NewCanceledError(r.executed, r.executed > 0, err))
		}
		if err := r.execute(ctx, step); err != nil {
			return r.written, r.abort(err)
		}
	}
	return r.written, nil
}

// execute runs the command of one step and applies its result.
func (r *run) execute(ctx context.Context, step *plan.Step) error {
	e := step.Entry
	if step.Op != dialect.Delete {
		if err := r.fixup(step); err != nil {
			return err
		}
	}
	cmd := r.command(step)
	if r.policy != nil {
		if err := r.policy.EvalCommand(ctx, cmd); err != nil {
			r.log.Warn("session: command denied",
				"op", cmd.Op.String(), "entity", e.Type().Name, "key", e.Key(), "error", err)
			return uow.NewExecutionError(e.Type().Name, e.Key(), cmd.Op.String(), err)
		}
	}
	r.log.Debug("session: execute command",
		"op", cmd.Op.String(), "entity", e.Type().Name, "key", e.Key(), "values", len(cmd.Values))
	res, err := r.exec.Execute(ctx, cmd)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return uow.NewCanceledError(r.executed, r.executed > 0, ctxErr)
		}
		return uow.NewExecutionError(e.Type().Name, e.Key(), cmd.Op.String(), err)
	}
	r.executed++
	r.metrics.command(cmd.Op)
	if err := concurrency.Validate(e, cmd.Op, cmd.Precondition, res); err != nil {
		if uow.IsConcurrencyConflict(err) {
			r.log.Warn("session: concurrency conflict",
				"op", cmd.Op.String(), "entity", e.Type().Name, "key", e.Key(),
				"expected", cmd.Precondition, "actual", res.Actual)
		}
		return err
	}
	r.done[e] = true
	if cmd.Op == dialect.Delete {
		err = e.AcceptChanges()
	} else {
		err = e.AcceptStoreValues(res.Generated)
	}
	if err != nil {
		return err
	}
	if !step.FixUp {
		r.written++
	}
	return nil
}

// fixup copies the key values of principals into the foreign keys of the
// step's entry. Principals inserted earlier in the save now have their
// store generated keys.
func (r *run) fixup(step *plan.Step) error {
	e := step.Entry
	for _, rel := range r.rels[e.Index()] {
		fk := rel.ForeignKey
		deferred := slices.Contains(step.Deferred, fk)
		if deferred != step.FixUp {
			continue
		}
		p := r.tr.At(rel.Principal)
		if !p.HasValues(fk.PrincipalKey) {
			continue
		}
		for i, name := range fk.Properties {
			pv, err := p.CurrentValue(fk.PrincipalKey[i])
			if err != nil {
				return err
			}
			cur, err := e.CurrentValue(name)
			if err != nil {
				return err
			}
			prop, _ := e.Type().Property(name)
			if value.Equal(cur, pv, value.For(prop)...) {
				continue
			}
			if err := e.SetCurrentValue(name, pv); err != nil {
				return err
			}
			r.undo = append(r.undo, keygen.Assignment{Entry: e, Property: name, Previous: cur, Value: pv})
		}
	}
	return nil
}

// command builds the write of a step.
func (r *run) command(step *plan.Step) dialect.Command {
	e := step.Entry
	t := e.Type()
	cmd := dialect.Command{Op: step.Op, Entity: t}
	current := e.CurrentValues()
	switch {
	case step.Op == dialect.Insert:
		cmd.Values = make(map[string]any, len(t.Properties))
		for _, p := range t.Properties {
			switch {
			case p.Strategy == schema.StoreIdentity && !e.HasValues([]string{p.Name}):
				cmd.Generated = append(cmd.Generated, p.Name)
			case p.StoreComputed:
				cmd.Generated = append(cmd.Generated, p.Name)
			case p.Key:
				if cmd.Key == nil {
					cmd.Key = make(map[string]any, len(t.Keys()))
				}
				cmd.Key[p.Name] = current[p.Name]
			default:
				cmd.Values[p.Name] = current[p.Name]
			}
		}
		for _, name := range step.Properties() {
			cmd.Values[name] = nil
		}
		return cmd
	case step.FixUp:
		cmd.Values = make(map[string]any)
		for _, name := range step.Properties() {
			cmd.Values[name] = current[name]
		}
	case step.Op == dialect.Update:
		cmd.Values = make(map[string]any)
		for _, name := range e.ModifiedProperties() {
			p, _ := t.Property(name)
			if p.Key || p.StoreComputed {
				continue
			}
			cmd.Values[name] = current[name]
		}
	}
	cmd.Key = make(map[string]any, len(t.Keys()))
	for _, p := range t.Keys() {
		cmd.Key[p.Name] = current[p.Name]
	}
	cmd.Precondition = concurrency.BuildPrecondition(e)
	if step.Op == dialect.Update {
		for _, p := range t.StoreComputed() {
			cmd.Generated = append(cmd.Generated, p.Name)
		}
	}
	return cmd
}

// abort reverts the values written into entries whose commands never
// executed and returns their sequence values to the pool.
func (r *run) abort(err error) error {
	var undo []keygen.Assignment
	for _, a := range r.undo {
		if !r.done[a.Entry] {
			undo = append(undo, a)
		}
	}
	if rerr := keygen.Revert(undo); rerr != nil {
		err = errors.Join(err, rerr)
	}
	r.keys.Return(undo)
	return err
}
