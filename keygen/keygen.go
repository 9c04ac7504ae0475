// Package keygen assigns key values to entries before they are written.
//
// Client assigned keys are produced by the property's ValueGenerator when
// the current value equals the configured sentinel. Sequence keys are
// fetched in blocks from a Provider before the write order is computed, so
// that dependents can carry the final foreign key values. Identity keys are
// left to the store: the entry stays key-pending until the insert result
// is applied.
package keygen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/uow"
	"github.com/syssam/uow/schema"
	"github.com/syssam/uow/tracker"
	"github.com/syssam/uow/value"
)

// ErrNoGenerator is wrapped by the KeyGenerationError returned for a
// property that requires a generated value but has no generator.
var ErrNoGenerator = errors.New("no value generator configured")

type (
	// Request names the sequence a block of values is drawn from.
	Request struct {
		Entity   string
		Property string
		Sequence string
	}

	// Provider hands out values of store sequences.
	Provider interface {
		// NextBlock returns n consecutive values of the requested sequence.
		NextBlock(ctx context.Context, req Request, n int) ([]any, error)
	}

	// ProviderFunc adapts a function to Provider.
	ProviderFunc func(context.Context, Request, int) ([]any, error)

	// Assignment records a value written into an entry, so that it can be
	// reverted when the save is abandoned.
	Assignment struct {
		Entry    *tracker.Entry
		Property string
		Previous any
		Value    any
	}

	// Option configures a Generator.
	Option func(*Generator)

	// Generator assigns keys. A Generator may be shared by scopes; the pooled
	// sequence values are guarded by a mutex.
	Generator struct {
		provider Provider
		block    int
		workers  int
		log      *slog.Logger
		mu       sync.Mutex
		pools    map[string][]any
	}
)

// NextBlock calls f.
func (f ProviderFunc) NextBlock(ctx context.Context, req Request, n int) ([]any, error) {
	return f(ctx, req, n)
}

// WithBlockSize sets the minimal number of values fetched per sequence
// round trip. Values not used by a save are kept for later ones.
func WithBlockSize(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.block = n
		}
	}
}

// WithWorkers limits the number of sequences fetched concurrently.
func WithWorkers(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.workers = n
		}
	}
}

// WithLogger sets the logger of the generator.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.log = l }
}

// New returns a generator drawing sequence values from p. A nil provider
// is valid for models without sequence keys.
func New(p Provider, opts ...Option) *Generator {
	g := &Generator{
		provider: p,
		block:    1,
		workers:  4,
		log:      slog.New(slog.DiscardHandler),
		pools:    make(map[string][]any),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateKeyIfNeeded fills client assigned properties of an added entry
// that still hold their sentinel.
func (g *Generator) GenerateKeyIfNeeded(e *tracker.Entry) ([]Assignment, error) {
	if e.State() != uow.Added {
		return nil, nil
	}
	var assigned []Assignment
	for _, p := range e.Type().Properties {
		if p.Strategy != schema.ClientAssigned || !p.Key && !p.Generated {
			continue
		}
		cur, err := e.CurrentValue(p.Name)
		if err != nil {
			return assigned, uow.NewKeyGenerationError(e.Type().Name, p.Name, err)
		}
		if !unset(p, cur) {
			continue
		}
		if p.Generator == nil {
			if p.Generated {
				return assigned, uow.NewKeyGenerationError(e.Type().Name, p.Name, ErrNoGenerator)
			}
			continue
		}
		v, err := p.Generator.Generate()
		if err != nil {
			return assigned, uow.NewKeyGenerationError(e.Type().Name, p.Name, err)
		}
		if err := e.SetCurrentValue(p.Name, v); err != nil {
			return assigned, uow.NewKeyGenerationError(e.Type().Name, p.Name, err)
		}
		assigned = append(assigned, Assignment{Entry: e, Property: p.Name, Previous: cur, Value: v})
	}
	return assigned, nil
}

func unset(p *schema.Property, v any) bool {
	return value.Normalize(v) == nil || value.IsSentinel(v, p.Sentinel, value.For(p)...)
}

type slot struct {
	entry *tracker.Entry
	prop  *schema.Property
	prev  any
}

// Prefetch assigns sequence values to the added entries whose sequence
// keys hold their sentinel. Each sequence is fetched once, distinct
// sequences concurrently. On error no value is assigned.
func (g *Generator) Prefetch(ctx context.Context, entries []*tracker.Entry) ([]Assignment, error) {
	var (
		order []string
		slots = make(map[string][]slot)
		reqs  = make(map[string]Request)
	)
	for _, e := range entries {
		if e.State() != uow.Added {
			continue
		}
		for _, p := range e.Type().Keys() {
			if p.Strategy != schema.StoreSequence {
				continue
			}
			cur, err := e.CurrentValue(p.Name)
			if err != nil {
				return nil, uow.NewKeyGenerationError(e.Type().Name, p.Name, err)
			}
			if !unset(p, cur) {
				continue
			}
			if _, ok := slots[p.Sequence]; !ok {
				order = append(order, p.Sequence)
				reqs[p.Sequence] = Request{Entity: e.Type().Name, Property: p.Name, Sequence: p.Sequence}
			}
			slots[p.Sequence] = append(slots[p.Sequence], slot{entry: e, prop: p, prev: cur})
		}
	}
	if len(order) == 0 {
		return nil, nil
	}
	values, err := g.take(ctx, order, reqs, slots)
	if err != nil {
		return nil, err
	}
	var assigned []Assignment
	for _, seq := range order {
		for i, s := range slots[seq] {
			v := values[seq][i]
			if err := s.entry.SetCurrentValue(s.prop.Name, v); err != nil {
				revert(assigned)
				return nil, uow.NewKeyGenerationError(s.entry.Type().Name, s.prop.Name, err)
			}
			assigned = append(assigned, Assignment{Entry: s.entry, Property: s.prop.Name, Previous: s.prev, Value: v})
		}
	}
	return assigned, nil
}

// take returns the values for every sequence, serving them from the pool
// first and fetching the rest.
func (g *Generator) take(ctx context.Context, order []string, reqs map[string]Request, slots map[string][]slot) (map[string][]any, error) {
	if g.provider == nil {
		r := reqs[order[0]]
		return nil, uow.NewKeyGenerationError(r.Entity, r.Property, errors.New("no sequence provider configured"))
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	fetched := make([][]any, len(order))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i, seq := range order {
		need := len(slots[seq]) - len(g.pools[seq])
		if need <= 0 {
			continue
		}
		n := max(need, g.block)
		req := reqs[seq]
		eg.Go(func() error {
			vs, err := g.provider.NextBlock(ctx, req, n)
			if err != nil {
				return uow.NewKeyGenerationError(req.Entity, req.Property, err)
			}
			if len(vs) < need {
				return uow.NewKeyGenerationError(req.Entity, req.Property,
					fmt.Errorf("sequence %q returned %d values, want %d", seq, len(vs), need))
			}
			fetched[i] = vs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	values := make(map[string][]any, len(order))
	for i, seq := range order {
		pool := append(g.pools[seq], fetched[i]...)
		n := len(slots[seq])
		values[seq] = pool[:n:n]
		if rest := pool[n:]; len(rest) > 0 {
			g.pools[seq] = rest
		} else {
			delete(g.pools, seq)
		}
		g.log.Debug("keygen: sequence values taken", "sequence", seq, "count", n, "fetched", len(fetched[i]), "pooled", len(pool)-n)
	}
	return values, nil
}

// Return puts unused sequence values back into the pool, ahead of the
// values already pooled.
func (g *Generator) Return(assigned []Assignment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	back := make(map[string][]any)
	var order []string
	for _, a := range assigned {
		p, ok := a.Entry.Type().Property(a.Property)
		if !ok || p.Strategy != schema.StoreSequence {
			continue
		}
		if _, ok := back[p.Sequence]; !ok {
			order = append(order, p.Sequence)
		}
		back[p.Sequence] = append(back[p.Sequence], a.Value)
	}
	for _, seq := range order {
		g.pools[seq] = append(back[seq], g.pools[seq]...)
	}
}

// Pooled returns the number of values held for a sequence.
func (g *Generator) Pooled(sequence string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pools[sequence])
}

// Revert restores the previous values of assignments, newest first.
func Revert(assigned []Assignment) error {
	var errs []error
	for i := len(assigned) - 1; i >= 0; i-- {
		a := assigned[i]
		if err := a.Entry.SetCurrentValue(a.Property, a.Previous); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func revert(assigned []Assignment) { _ = Revert(assigned) }
