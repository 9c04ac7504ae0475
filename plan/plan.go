// Package plan computes a write order for the pending entries of a tracker
// that satisfies their foreign key dependencies.
//
// Edges whose principal key is not known before the principal is inserted
// (identity keys) are hard: they can only be satisfied by ordering. Edges
// to principals whose key is already known are soft: they are honored when
// possible and dropped to resolve a cycle. A cycle of hard edges is broken
// through an optional foreign key when one exists: the dependent is
// inserted with that key null and a later update sets it.
package plan

import (
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/uow"
	"github.com/syssam/uow/dialect"
	"github.com/syssam/uow/graph"
	"github.com/syssam/uow/schema"
	"github.com/syssam/uow/tracker"
)

// Step is one write of the plan.
type Step struct {
	Entry *tracker.Entry
	Op    dialect.Op
	// Deferred lists the foreign keys of an insert that are written as null
	// and set by a later fix-up step.
	Deferred []*schema.ForeignKey
	// FixUp marks the update that sets the deferred foreign keys of an
	// earlier insert.
	FixUp bool
}

// String returns the step in "op entry" form.
func (s *Step) String() string {
	var b strings.Builder
	b.WriteString(s.Op.String())
	b.WriteByte(' ')
	b.WriteString(s.Entry.String())
	if len(s.Deferred) > 0 {
		names := make([]string, len(s.Deferred))
		for i, fk := range s.Deferred {
			names[i] = fk.Name
		}
		if s.FixUp {
			b.WriteString(" set ")
		} else {
			b.WriteString(" defer ")
		}
		b.WriteString(strings.Join(names, ","))
	}
	return b.String()
}

// Properties returns the names of the properties written as null by an
// insert with deferred foreign keys, or set by a fix-up step.
func (s *Step) Properties() []string {
	var names []string
	for _, fk := range s.Deferred {
		names = append(names, fk.Properties...)
	}
	return names
}

type edge struct {
	from, to int
	hard     bool
	// rel is set for insert-to-insert edges, the only ones that can be
	// broken through an optional foreign key.
	rel    *tracker.Relationship
	active bool
}

type builder struct {
	steps []*Step
	node  map[int]int // arena index -> step of the entry
	fixup map[int]int // arena index -> fix-up step
	edges []*edge
}

// Build orders the pending entries of tr. The tracker is expected to have
// run change detection.
func Build(tr *tracker.Tracker) ([]*Step, error) {
	b := &builder{node: make(map[int]int), fixup: make(map[int]int)}
	for _, e := range tr.Entries() {
		var op dialect.Op
		switch e.State() {
		case uow.Added:
			op = dialect.Insert
		case uow.Modified:
			op = dialect.Update
		case uow.Deleted:
			op = dialect.Delete
		default:
			continue
		}
		b.node[e.Index()] = len(b.steps)
		b.steps = append(b.steps, &Step{Entry: e, Op: op})
	}
	rels := tr.Relationships()
	for i := range rels {
		b.relate(&rels[i])
	}
	return b.order()
}

// relate adds the ordering constraint of a relationship, if any.
func (b *builder) relate(rel *tracker.Relationship) {
	dn, ok := b.node[rel.Dependent]
	if !ok {
		return
	}
	pn, ok := b.node[rel.Principal]
	if !ok {
		return
	}
	d, p := b.steps[dn], b.steps[pn]
	switch {
	case p.Op == dialect.Insert && !rel.Original && (d.Op == dialect.Insert || d.Op == dialect.Update):
		e := &edge{from: pn, to: dn, hard: p.Entry.PendingIdentity(), active: true}
		if d.Op == dialect.Insert {
			e.rel = rel
		}
		b.edges = append(b.edges, e)
	case p.Op == dialect.Delete && d.Op == dialect.Delete:
		b.edges = append(b.edges, &edge{from: dn, to: pn, hard: true, active: true})
	case p.Op == dialect.Delete && d.Op == dialect.Update && rel.Original:
		b.edges = append(b.edges, &edge{from: dn, to: pn, hard: true, active: true})
	}
}

func (b *builder) graph() *graph.Graph {
	g := graph.New(len(b.steps))
	for _, e := range b.edges {
		if e.active {
			g.AddEdge(e.from, e.to)
		}
	}
	return g
}

func (b *builder) order() ([]*Step, error) {
	for {
		g := b.graph()
		order, rest := g.Sort()
		if len(rest) == 0 {
			steps := make([]*Step, len(order))
			for i, n := range order {
				steps[i] = b.steps[n]
			}
			return steps, nil
		}
		cycles := g.Cycles()
		if b.dropSoft(cycles) || b.breakOptional(cycles) {
			continue
		}
		return nil, b.cyclic(g, cycles[0])
	}
}

// dropSoft deactivates the soft edges inside the cycles.
func (b *builder) dropSoft(cycles [][]int) bool {
	dropped := false
	for _, scc := range cycles {
		for _, e := range b.edges {
			if e.active && !e.hard && slices.Contains(scc, e.from) && slices.Contains(scc, e.to) {
				e.active = false
				dropped = true
			}
		}
	}
	return dropped
}

// breakOptional defers one optional foreign key per cycle. The candidate
// with the latest dependent insert is chosen, so the earliest discovered
// entries keep their natural order.
func (b *builder) breakOptional(cycles [][]int) bool {
	broken := false
	for _, scc := range cycles {
		var pick *edge
		for _, e := range b.edges {
			if !e.active || e.rel == nil || e.rel.ForeignKey.Required {
				continue
			}
			if !slices.Contains(scc, e.from) || !slices.Contains(scc, e.to) {
				continue
			}
			if pick == nil || e.to > pick.to {
				pick = e
			}
		}
		if pick != nil {
			b.deferKey(pick)
			broken = true
		}
	}
	return broken
}

func (b *builder) deferKey(e *edge) {
	e.active = false
	d := b.steps[e.to]
	fk := e.rel.ForeignKey
	d.Deferred = append(d.Deferred, fk)
	idx := d.Entry.Index()
	fn, ok := b.fixup[idx]
	if !ok {
		fn = len(b.steps)
		b.fixup[idx] = fn
		b.steps = append(b.steps, &Step{Entry: d.Entry, Op: dialect.Update, FixUp: true})
		b.edges = append(b.edges, &edge{from: e.to, to: fn, hard: true, active: true})
	}
	b.steps[fn].Deferred = append(b.steps[fn].Deferred, fk)
	b.edges = append(b.edges, &edge{from: e.from, to: fn, hard: true, active: true})
}

func (b *builder) cyclic(g *graph.Graph, scc []int) error {
	path := g.Path(scc)
	names := make([]string, len(path))
	for i, n := range path {
		names[i] = b.steps[n].Entry.String()
	}
	return uow.NewCyclicDependencyError(names)
}

// Describe renders steps one per line, numbered from 1.
func Describe(steps []*Step) string {
	var b strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return b.String()
}
