package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-openapi/inflect"
)

// names derives table and column names. Acronyms are underscored as one
// word: "CustomerID" becomes "customer_id".
var names = func() *inflect.Ruleset {
	rs := inflect.NewDefaultRuleset()
	for _, acronym := range []string{"UUID", "URL", "API", "ID"} {
		rs.AddAcronym(acronym)
	}
	return rs
}()

// Model is a validated, read-only set of entity types.
type Model struct {
	types map[string]*EntityType
	order []*EntityType
}

// NewModel validates the given entity types, fills defaults (tables,
// columns, sentinels, sequence and foreign key names) and links the
// foreign keys to their principals.
func NewModel(types ...*EntityType) (*Model, error) {
	m := &Model{types: make(map[string]*EntityType, len(types))}
	var errs []error
	for _, t := range types {
		if t == nil || t.Name == "" {
			errs = append(errs, errors.New("schema: entity type without a name"))
			continue
		}
		if _, dup := m.types[t.Name]; dup {
			errs = append(errs, fmt.Errorf("schema: duplicate entity type %q", t.Name))
			continue
		}
		if err := t.index(); err != nil {
			errs = append(errs, err)
			continue
		}
		m.types[t.Name] = t
		m.order = append(m.order, t)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for _, t := range m.order {
		for _, fk := range t.ForeignKeys {
			if err := m.link(t, fk); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return m, nil
}

// MustModel is like NewModel but panics on error.
func MustModel(types ...*EntityType) *Model {
	m, err := NewModel(types...)
	if err != nil {
		panic(err)
	}
	return m
}

// Type returns the named entity type.
func (m *Model) Type(name string) (*EntityType, bool) {
	t, ok := m.types[name]
	return t, ok
}

// Types returns the entity types in declaration order.
func (m *Model) Types() []*EntityType { return m.order }

func (t *EntityType) index() error {
	if t.Table == "" {
		t.Table = names.Pluralize(names.Underscore(t.Name))
	}
	t.byName = make(map[string]*Property, len(t.Properties))
	t.keys, t.tokens, t.store, t.inbound = nil, nil, nil, nil
	identities := 0
	for _, p := range t.Properties {
		if p == nil || p.Name == "" {
			return fmt.Errorf("schema: %s: property without a name", t.Name)
		}
		if _, dup := t.byName[p.Name]; dup {
			return fmt.Errorf("schema: %s: duplicate property %q", t.Name, p.Name)
		}
		t.byName[p.Name] = p
		if p.Column == "" {
			p.Column = names.Underscore(p.Name)
		}
		if p.StoreGenerated() && !p.Key {
			return fmt.Errorf("schema: %s.%s: %s strategy requires a key property", t.Name, p.Name, p.Strategy)
		}
		if p.Strategy == StoreIdentity {
			identities++
		}
		if p.Strategy == StoreSequence && p.Sequence == "" {
			p.Sequence = t.Table + "_" + p.Column + "_seq"
		}
		if p.Sentinel == nil && (p.Key || p.Generated) {
			p.Sentinel = DefaultSentinel(p.Type)
		}
		if p.Key {
			t.keys = append(t.keys, p)
		}
		if p.ConcurrencyToken {
			t.tokens = append(t.tokens, p)
		}
		if p.StoreComputed {
			if p.Key {
				return fmt.Errorf("schema: %s.%s: key properties cannot be store computed", t.Name, p.Name)
			}
			t.store = append(t.store, p)
		}
	}
	if len(t.keys) == 0 {
		return fmt.Errorf("schema: %s: no key property", t.Name)
	}
	if identities > 1 {
		return fmt.Errorf("schema: %s: more than one identity property", t.Name)
	}
	return nil
}

func (m *Model) link(t *EntityType, fk *ForeignKey) error {
	principal, ok := m.types[fk.Principal]
	if !ok {
		return fmt.Errorf("schema: %s: foreign key references unknown type %q", t.Name, fk.Principal)
	}
	if len(fk.Properties) == 0 {
		return fmt.Errorf("schema: %s: foreign key to %s has no properties", t.Name, fk.Principal)
	}
	if len(fk.PrincipalKey) == 0 {
		fk.PrincipalKey = principal.KeyNames()
	}
	if len(fk.PrincipalKey) != len(fk.Properties) {
		return fmt.Errorf("schema: %s: foreign key %v does not match principal key %s%v",
			t.Name, fk.Properties, principal.Name, fk.PrincipalKey)
	}
	for _, name := range fk.Properties {
		if _, ok := t.byName[name]; !ok {
			return fmt.Errorf("schema: %s: foreign key property %q is not declared", t.Name, name)
		}
	}
	for _, name := range fk.PrincipalKey {
		if _, ok := principal.byName[name]; !ok {
			return fmt.Errorf("schema: %s: principal property %q is not declared", principal.Name, name)
		}
	}
	if fk.Name == "" {
		fk.Name = "fk_" + names.Underscore(t.Name) + "_" + names.Underscore(principal.Name) + "_" +
			strings.ToLower(strings.Join(fk.Properties, "_"))
	}
	fk.dependent, fk.principal = t, principal
	principal.inbound = append(principal.inbound, fk)
	return nil
}
