package tracker

import (
	"bytes"
	"fmt"
	"maps"
	"reflect"

	"github.com/syssam/uow"
	"github.com/syssam/uow/schema"
	"github.com/syssam/uow/value"
)

// Entry is the tracking record of one application object.
type Entry struct {
	t        *Tracker
	index    int
	obj      any
	typ      *schema.EntityType
	state    uow.State
	original map[string]any
	modified map[string]struct{}
	forced   bool
	ident    string
	// pending holds foreign key properties pointing, through a navigation,
	// at a principal whose key is not known yet.
	pending map[string]struct{}
}

// Object returns the tracked application object.
func (e *Entry) Object() any { return e.obj }

// Type returns the entity type of the entry.
func (e *Entry) Type() *schema.EntityType { return e.typ }

// State returns the entry state.
func (e *Entry) State() uow.State { return e.state }

// Index returns the position of the entry in discovery order.
func (e *Entry) Index() int { return e.index }

// CurrentValue returns the current value of a property.
func (e *Entry) CurrentValue(name string) (any, error) {
	if _, ok := e.typ.Property(name); !ok {
		return nil, fmt.Errorf("tracker: %s has no property %q", e.typ.Name, name)
	}
	return e.t.acc.Get(e.obj, name)
}

func (e *Entry) value(name string) any {
	v, _ := e.t.acc.Get(e.obj, name)
	return v
}

// CurrentValues returns a snapshot of all property values. Pointers are
// dereferenced and byte slices copied, so later writes to the object do
// not leak into the snapshot.
func (e *Entry) CurrentValues() map[string]any {
	values := make(map[string]any, len(e.typ.Properties))
	for _, p := range e.typ.Properties {
		values[p.Name] = snapshot(e.value(p.Name))
	}
	return values
}

func snapshot(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return bytes.Clone(x)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return snapshot(rv.Elem().Interface())
	}
	return v
}

// OriginalValues returns a copy of the values last synchronized with
// storage, or nil for entries that were never persisted.
func (e *Entry) OriginalValues() map[string]any {
	if e.original == nil {
		return nil
	}
	return maps.Clone(e.original)
}

// OriginalValue returns the original value of a property.
func (e *Entry) OriginalValue(name string) (any, bool) {
	if e.original == nil {
		return nil, false
	}
	v, ok := e.original[name]
	return v, ok
}

// SetCurrentValue assigns a property through the accessor. Changing a key
// property of a persisted entry is rejected.
func (e *Entry) SetCurrentValue(name string, v any) error {
	p, ok := e.typ.Property(name)
	if !ok {
		return fmt.Errorf("tracker: %s has no property %q", e.typ.Name, name)
	}
	if e.state == uow.Detached {
		return uow.NewInvalidOperationStateError(e.typ.Name, e.Key(), e.state, e.state, "entry is not tracked")
	}
	if p.Key && e.original != nil && !value.Equal(e.original[name], v, value.For(p)...) {
		return uow.NewInvalidOperationStateError(e.typ.Name, e.Key(), e.state, e.state,
			fmt.Sprintf("key property %q of a persisted entry cannot change", name))
	}
	prev := e.value(name)
	if err := e.t.acc.Set(e.obj, name, v); err != nil {
		return fmt.Errorf("tracker: set %s.%s: %w", e.typ.Name, name, err)
	}
	if p.Key {
		if err := e.t.reindex(e); err != nil {
			_ = e.t.acc.Set(e.obj, name, prev)
			return err
		}
	}
	return nil
}

// ModifiedProperties returns the names of modified properties in
// declaration order, as of the last change detection.
func (e *Entry) ModifiedProperties() []string {
	var names []string
	for _, p := range e.typ.Properties {
		if _, ok := e.modified[p.Name]; ok {
			names = append(names, p.Name)
		}
	}
	return names
}

// IsModified reports whether a property was found modified.
func (e *Entry) IsModified(name string) bool {
	_, ok := e.modified[name]
	return ok
}

// Key returns the current key value, or a slice of values for composite keys.
func (e *Entry) Key() any {
	keys := e.typ.Keys()
	if len(keys) == 1 {
		return snapshot(e.value(keys[0].Name))
	}
	vs := make([]any, len(keys))
	for i, p := range keys {
		vs[i] = snapshot(e.value(p.Name))
	}
	return vs
}

// HasKey reports whether every key property holds a value other than its
// sentinel.
func (e *Entry) HasKey() bool {
	for _, p := range e.typ.Keys() {
		if !set(p, e.value(p.Name)) {
			return false
		}
	}
	return true
}

// PendingIdentity reports whether a key property awaits a value assigned
// by the store on insert.
func (e *Entry) PendingIdentity() bool {
	for _, p := range e.typ.Keys() {
		if p.Strategy == schema.StoreIdentity && !set(p, e.value(p.Name)) {
			return true
		}
	}
	return false
}

// HasValues reports whether the named properties all hold set values.
func (e *Entry) HasValues(names []string) bool {
	for _, name := range names {
		p, ok := e.typ.Property(name)
		if !ok || !set(p, e.value(name)) {
			return false
		}
	}
	return true
}

func set(p *schema.Property, v any) bool {
	if value.Normalize(v) == nil {
		return false
	}
	return !value.IsSentinel(v, p.Sentinel, value.For(p)...)
}

// SetState moves the entry to another state. Illegal transitions fail
// with an InvalidOperationStateError and leave the entry untouched.
// Moving a modified or deleted entry to Unchanged restores its original
// values, which keep describing the stored row.
func (e *Entry) SetState(to uow.State) error {
	from := e.state
	illegal := func(reason string) error {
		return uow.NewInvalidOperationStateError(e.typ.Name, e.Key(), from, to, reason)
	}
	if from == uow.Detached {
		return illegal("entry is not tracked")
	}
	if to == uow.Detached {
		e.t.detach(e)
		return nil
	}
	switch from {
	case uow.Added:
		switch to {
		case uow.Added:
		case uow.Deleted:
			e.t.detach(e)
		case uow.Unchanged:
			if !e.HasKey() {
				return illegal("key is not set")
			}
			return e.AcceptChanges()
		case uow.Modified:
			return illegal("an added entry has no stored row to modify")
		default:
			return illegal("unknown state")
		}
	case uow.Unchanged, uow.Modified:
		switch to {
		case uow.Added:
			return illegal("a persisted entry cannot be added")
		case uow.Unchanged:
			if from == uow.Unchanged {
				return nil
			}
			return e.RejectChanges()
		case uow.Modified:
			e.forced = true
			e.state = uow.Modified
			e.markAll()
		case uow.Deleted:
			e.state = uow.Deleted
		default:
			return illegal("unknown state")
		}
	case uow.Deleted:
		switch to {
		case uow.Deleted:
		case uow.Unchanged:
			return e.RejectChanges()
		default:
			return illegal("a deleted entry can only be restored or detached")
		}
	}
	return nil
}

// AcceptChanges marks the current values as persisted. Deleted entries
// are detached.
func (e *Entry) AcceptChanges() error {
	switch e.state {
	case uow.Detached:
		return uow.NewInvalidOperationStateError(e.typ.Name, e.Key(), e.state, uow.Unchanged, "entry is not tracked")
	case uow.Deleted:
		e.t.detach(e)
		return nil
	}
	if err := e.t.reindex(e); err != nil {
		return err
	}
	e.original = e.CurrentValues()
	e.modified = nil
	e.pending = nil
	e.forced = false
	e.state = uow.Unchanged
	return nil
}

// AcceptStoreValues writes values produced by the store into the entry and
// accepts its changes in one step.
func (e *Entry) AcceptStoreValues(values map[string]any) error {
	if e.state == uow.Deleted {
		return e.AcceptChanges()
	}
	for _, p := range e.typ.Properties {
		v, ok := values[p.Name]
		if !ok {
			continue
		}
		if err := e.t.acc.Set(e.obj, p.Name, v); err != nil {
			return fmt.Errorf("tracker: set %s.%s: %w", e.typ.Name, p.Name, err)
		}
	}
	return e.AcceptChanges()
}

// RejectChanges discards pending changes: added entries are detached, and
// modified or deleted entries get their original values back.
func (e *Entry) RejectChanges() error {
	switch e.state {
	case uow.Detached:
		return nil
	case uow.Added:
		e.t.detach(e)
		return nil
	}
	for _, p := range e.typ.Properties {
		if err := e.t.acc.Set(e.obj, p.Name, e.original[p.Name]); err != nil {
			return fmt.Errorf("tracker: restore %s.%s: %w", e.typ.Name, p.Name, err)
		}
	}
	e.modified = nil
	e.pending = nil
	e.forced = false
	e.state = uow.Unchanged
	return nil
}

// DetectChanges recomputes the modified properties of a persisted entry.
func (e *Entry) DetectChanges() error {
	if e.state != uow.Unchanged && e.state != uow.Modified {
		return nil
	}
	modified := make(map[string]struct{})
	for _, p := range e.typ.Properties {
		if value.Equal(e.value(p.Name), e.original[p.Name], value.For(p)...) {
			continue
		}
		if p.Key {
			return uow.NewInvalidOperationStateError(e.typ.Name, e.original[p.Name], e.state, uow.Modified,
				fmt.Sprintf("key property %q of a persisted entry cannot change", p.Name))
		}
		modified[p.Name] = struct{}{}
	}
	for name := range e.pending {
		modified[name] = struct{}{}
	}
	e.modified = modified
	if e.forced {
		e.markAll()
	}
	if len(e.modified) > 0 {
		e.state = uow.Modified
	} else {
		e.state = uow.Unchanged
	}
	return nil
}

func (e *Entry) markAll() {
	if e.modified == nil {
		e.modified = make(map[string]struct{})
	}
	for _, p := range e.typ.Properties {
		if !p.Key && !p.StoreComputed {
			e.modified[p.Name] = struct{}{}
		}
	}
}

// String returns the entry in Type(key) form.
func (e *Entry) String() string {
	if !e.HasKey() {
		return fmt.Sprintf("%s#%d", e.typ.Name, e.index)
	}
	return fmt.Sprintf("%s(%v)", e.typ.Name, e.Key())
}
