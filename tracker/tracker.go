// Package tracker records the state of application objects within one
// tracking scope: which objects are new, modified or deleted, what their
// values were when last synchronized with storage, and how they relate to
// each other through foreign keys.
//
// Entries live in an arena in discovery order. The identity map resolves
// equal key values of one entity type to a single entry.
package tracker

import (
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"

	"github.com/syssam/uow"
	"github.com/syssam/uow/schema"
	"github.com/syssam/uow/value"
)

type (
	// Option configures a Tracker.
	Option func(*Tracker)

	// Tracker is a change tracking scope. It is not safe for concurrent use.
	Tracker struct {
		model    *schema.Model
		acc      Accessor
		log      *slog.Logger
		entries  []*Entry
		byObject map[any]*Entry
		byKey    map[string]*Entry
		links    map[link]*Entry
	}

	link struct {
		dep *Entry
		fk  *schema.ForeignKey
	}

	// Relationship is a foreign key edge from a dependent entry to the entry
	// it references. Entries are named by their arena index.
	Relationship struct {
		Dependent  int
		Principal  int
		ForeignKey *schema.ForeignKey
		// Original is set when the edge was resolved from the dependent's
		// original foreign key values and differs from its current one.
		Original bool
	}
)

// WithAccessor sets the accessor used to read and write objects.
func WithAccessor(acc Accessor) Option {
	return func(t *Tracker) { t.acc = acc }
}

// WithLogger sets the logger for discovery events.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// New returns an empty tracker over the given model.
func New(model *schema.Model, opts ...Option) *Tracker {
	t := &Tracker{
		model:    model,
		acc:      DefaultAccessor,
		log:      slog.New(slog.DiscardHandler),
		byObject: make(map[any]*Entry),
		byKey:    make(map[string]*Entry),
		links:    make(map[link]*Entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Model returns the model of the tracker.
func (t *Tracker) Model() *schema.Model { return t.model }

// Add tracks obj as a new entity and cascades over its navigations.
func (t *Tracker) Add(obj any) (*Entry, error) {
	typ, err := t.typeOf(obj)
	if err != nil {
		return nil, err
	}
	if e, ok := t.byObject[obj]; ok {
		if e.state == uow.Added {
			return e, nil
		}
		return nil, uow.NewInvalidOperationStateError(typ.Name, e.Key(), e.state, uow.Added, "object is already tracked")
	}
	e, err := t.track(obj, typ, uow.Added)
	if err != nil {
		return nil, err
	}
	return e, t.walk(e.index)
}

// Attach tracks obj as an entity loaded from storage. Objects whose key is
// not set are tracked as Added.
func (t *Tracker) Attach(obj any) (*Entry, error) {
	typ, err := t.typeOf(obj)
	if err != nil {
		return nil, err
	}
	if e, ok := t.byObject[obj]; ok {
		if e.state == uow.Unchanged {
			return e, nil
		}
		return nil, uow.NewInvalidOperationStateError(typ.Name, e.Key(), e.state, uow.Unchanged, "object is already tracked")
	}
	state := uow.Unchanged
	if !t.keySet(obj, typ) {
		state = uow.Added
	}
	e, err := t.track(obj, typ, state)
	if err != nil {
		return nil, err
	}
	return e, t.walk(e.index)
}

// Remove marks the entity of obj for deletion. Added entities are detached.
func (t *Tracker) Remove(obj any) error {
	e, ok := t.Entry(obj)
	if !ok {
		return fmt.Errorf("tracker: %T is not tracked", obj)
	}
	return e.SetState(uow.Deleted)
}

// Detach stops tracking obj.
func (t *Tracker) Detach(obj any) error {
	e, ok := t.Entry(obj)
	if !ok {
		return fmt.Errorf("tracker: %T is not tracked", obj)
	}
	return e.SetState(uow.Detached)
}

// Entry returns the entry tracking obj.
func (t *Tracker) Entry(obj any) (*Entry, bool) {
	if obj == nil || !reflect.TypeOf(obj).Comparable() {
		return nil, false
	}
	e, ok := t.byObject[obj]
	return e, ok
}

// At returns the entry at an arena index.
func (t *Tracker) At(i int) *Entry { return t.entries[i] }

// Entries returns the tracked entries in discovery order.
func (t *Tracker) Entries() []*Entry {
	entries := make([]*Entry, 0, len(t.byObject))
	for _, e := range t.entries {
		if e.state != uow.Detached {
			entries = append(entries, e)
		}
	}
	return entries
}

// Lookup returns the entry of the given type holding the key values.
func (t *Tracker) Lookup(typeName string, key ...any) (*Entry, bool) {
	typ, ok := t.model.Type(typeName)
	if !ok || len(key) != len(typ.Keys()) {
		return nil, false
	}
	e, ok := t.byKey[identity(typ, typ.KeyNames(), key)]
	return e, ok
}

// DetectChanges discovers objects reachable through navigations, fixes up
// foreign keys from navigations and recomputes the modified properties of
// persisted entries.
func (t *Tracker) DetectChanges() error {
	clear(t.links)
	if err := t.walk(0); err != nil {
		return err
	}
	if err := t.fixup(); err != nil {
		return err
	}
	for _, e := range t.entries {
		if err := e.DetectChanges(); err != nil {
			return err
		}
	}
	return nil
}

// Relationships returns the foreign key edges among tracked entries.
// Navigations take precedence over foreign key values; deleted entries
// resolve through their original values, and modified entries yield an
// extra edge when their original principal differs from the current one.
func (t *Tracker) Relationships() []Relationship {
	var rels []Relationship
	for _, d := range t.entries {
		if d.state == uow.Detached {
			continue
		}
		for _, fk := range d.typ.ForeignKeys {
			var cur *Entry
			if d.state != uow.Deleted {
				if p, ok := t.links[link{d, fk}]; ok && p.state != uow.Detached {
					cur = p
				} else {
					cur = t.resolve(fk, d.CurrentValues())
				}
			}
			if cur != nil {
				rels = append(rels, Relationship{Dependent: d.index, Principal: cur.index, ForeignKey: fk})
			}
			if d.original == nil {
				continue
			}
			if orig := t.resolve(fk, d.original); orig != nil && orig != cur {
				rels = append(rels, Relationship{Dependent: d.index, Principal: orig.index, ForeignKey: fk, Original: true})
			}
		}
	}
	return rels
}

// resolve finds the principal of fk holding the given foreign key values.
func (t *Tracker) resolve(fk *schema.ForeignKey, values map[string]any) *Entry {
	vs := make([]any, len(fk.Properties))
	for i, name := range fk.Properties {
		if value.Normalize(values[name]) == nil {
			return nil
		}
		vs[i] = values[name]
	}
	principal := fk.PrincipalType()
	if slices.Equal(fk.PrincipalKey, principal.KeyNames()) {
		if e, ok := t.byKey[identity(principal, fk.PrincipalKey, vs)]; ok && e.state != uow.Detached {
			return e
		}
		return nil
	}
	want := identity(principal, fk.PrincipalKey, vs)
	for _, e := range t.entries {
		if e.typ != principal || e.state == uow.Detached {
			continue
		}
		cur := make([]any, len(fk.PrincipalKey))
		for i, name := range fk.PrincipalKey {
			cur[i] = e.value(name)
		}
		if identity(principal, fk.PrincipalKey, cur) == want {
			return e
		}
	}
	return nil
}

// walk discovers objects reachable from the entries at or after index from.
// Entries appended during the walk are visited too, so each object is
// visited once and cyclic graphs terminate.
func (t *Tracker) walk(from int) error {
	for i := from; i < len(t.entries); i++ {
		e := t.entries[i]
		if e.state == uow.Detached || e.state == uow.Deleted {
			continue
		}
		for _, fk := range e.typ.ForeignKeys {
			if fk.Navigation == "" {
				continue
			}
			ref, err := t.acc.Reference(e.obj, fk.Navigation)
			if err != nil {
				return fmt.Errorf("tracker: %s.%s: %w", e.typ.Name, fk.Navigation, err)
			}
			if ref == nil {
				continue
			}
			p, err := t.discover(ref, fk.PrincipalType())
			if err != nil {
				return err
			}
			t.links[link{e, fk}] = p
		}
		for _, fk := range e.typ.Inbound() {
			if fk.Inverse == "" {
				continue
			}
			items, err := t.acc.Collection(e.obj, fk.Inverse)
			if err != nil {
				return fmt.Errorf("tracker: %s.%s: %w", e.typ.Name, fk.Inverse, err)
			}
			for _, item := range items {
				d, err := t.discover(item, fk.Dependent())
				if err != nil {
					return err
				}
				if d.state != uow.Deleted {
					t.links[link{d, fk}] = e
				}
			}
		}
	}
	return nil
}

// discover returns the entry of a reachable object, tracking it when it
// was not seen before.
func (t *Tracker) discover(obj any, want *schema.EntityType) (*Entry, error) {
	typ, err := t.typeOf(obj)
	if err != nil {
		return nil, err
	}
	if typ != want {
		return nil, fmt.Errorf("tracker: navigation to %s holds a %s", want.Name, typ.Name)
	}
	if e, ok := t.byObject[obj]; ok {
		return e, nil
	}
	state := uow.Added
	if t.keySet(obj, typ) {
		keys := make([]any, len(typ.Keys()))
		for i, p := range typ.Keys() {
			keys[i], _ = t.acc.Get(obj, p.Name)
		}
		if e, ok := t.byKey[identity(typ, typ.KeyNames(), keys)]; ok {
			t.log.Debug("tracker: resolved object to tracked identity", "type", typ.Name, "key", e.Key())
			return e, nil
		}
		for _, p := range typ.Keys() {
			if p.StoreGenerated() {
				state = uow.Unchanged
				break
			}
		}
	}
	e, err := t.track(obj, typ, state)
	if err != nil {
		return nil, err
	}
	t.log.Debug("tracker: discovered object", "type", typ.Name, "state", state)
	return e, nil
}

func (t *Tracker) typeOf(obj any) (*schema.EntityType, error) {
	if obj == nil {
		return nil, fmt.Errorf("tracker: nil object")
	}
	if !reflect.TypeOf(obj).Comparable() {
		return nil, fmt.Errorf("tracker: %T cannot be tracked by reference", obj)
	}
	name, err := t.acc.TypeName(obj)
	if err != nil {
		return nil, err
	}
	typ, ok := t.model.Type(name)
	if !ok {
		return nil, fmt.Errorf("tracker: unknown entity type %q", name)
	}
	return typ, nil
}

func (t *Tracker) keySet(obj any, typ *schema.EntityType) bool {
	for _, p := range typ.Keys() {
		v, _ := t.acc.Get(obj, p.Name)
		if !set(p, v) {
			return false
		}
	}
	return true
}

func (t *Tracker) track(obj any, typ *schema.EntityType, state uow.State) (*Entry, error) {
	for _, p := range typ.Properties {
		if _, err := t.acc.Get(obj, p.Name); err != nil {
			return nil, fmt.Errorf("tracker: %s.%s: %w", typ.Name, p.Name, err)
		}
	}
	e := &Entry{t: t, index: len(t.entries), obj: obj, typ: typ, state: state}
	if e.HasKey() {
		if err := t.register(e); err != nil {
			return nil, err
		}
	}
	if state != uow.Added {
		e.original = e.CurrentValues()
	}
	t.entries = append(t.entries, e)
	t.byObject[obj] = e
	return e, nil
}

func (t *Tracker) register(e *Entry) error {
	keys := make([]any, len(e.typ.Keys()))
	for i, p := range e.typ.Keys() {
		keys[i] = e.value(p.Name)
	}
	k := identity(e.typ, e.typ.KeyNames(), keys)
	if other, ok := t.byKey[k]; ok && other != e {
		return uow.NewInvalidOperationStateError(e.typ.Name, e.Key(), other.state, e.state,
			"another instance with the same key is already tracked")
	}
	t.byKey[k] = e
	e.ident = k
	return nil
}

// reindex updates the identity map after a key change of e.
func (t *Tracker) reindex(e *Entry) error {
	prev := e.ident
	if prev != "" && t.byKey[prev] == e {
		delete(t.byKey, prev)
	}
	e.ident = ""
	if !e.HasKey() {
		return nil
	}
	if err := t.register(e); err != nil {
		if prev != "" {
			t.byKey[prev] = e
			e.ident = prev
		}
		return err
	}
	return nil
}

func (t *Tracker) detach(e *Entry) {
	if e.ident != "" && t.byKey[e.ident] == e {
		delete(t.byKey, e.ident)
	}
	delete(t.byObject, e.obj)
	e.ident = ""
	e.state = uow.Detached
	e.modified = nil
}

// fixup copies principal key values into the foreign keys of dependents
// linked by navigation. Persisted dependents linked to a principal whose
// key is not known yet get their foreign key marked modified.
func (t *Tracker) fixup() error {
	for _, d := range t.entries {
		d.pending = nil
		if d.state == uow.Detached || d.state == uow.Deleted {
			continue
		}
		for _, fk := range d.typ.ForeignKeys {
			p, ok := t.links[link{d, fk}]
			if !ok || p.state == uow.Detached {
				continue
			}
			if !p.HasValues(fk.PrincipalKey) {
				if d.original != nil {
					if d.pending == nil {
						d.pending = make(map[string]struct{})
					}
					for _, name := range fk.Properties {
						d.pending[name] = struct{}{}
					}
				}
				continue
			}
			for i, name := range fk.Properties {
				pv := p.value(fk.PrincipalKey[i])
				prop, _ := d.typ.Property(name)
				if value.Equal(d.value(name), pv, value.For(prop)...) {
					continue
				}
				if err := d.SetCurrentValue(name, pv); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func identity(typ *schema.EntityType, names []string, vs []any) string {
	var b strings.Builder
	b.WriteString(typ.Name)
	for i, name := range names {
		p, _ := typ.Property(name)
		b.WriteByte(0x1f)
		b.WriteString(value.Canonical(vs[i], value.For(p)...))
	}
	return b.String()
}
