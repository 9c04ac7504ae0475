package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is the storage type of a property.
type Type uint8

// Property types.
const (
	TypeOther Type = iota
	TypeBool
	TypeInt
	TypeUint
	TypeFloat
	TypeString
	TypeBytes
	TypeTime
	TypeUUID
)

var typeNames = [...]string{
	TypeOther:  "other",
	TypeBool:   "bool",
	TypeInt:    "int",
	TypeUint:   "uint",
	TypeFloat:  "float",
	TypeString: "string",
	TypeBytes:  "bytes",
	TypeTime:   "time",
	TypeUUID:   "uuid",
}

// String returns the type name.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// Numeric reports whether the type holds numbers.
func (t Type) Numeric() bool {
	return t == TypeInt || t == TypeUint || t == TypeFloat
}

// ParseType returns the type with the given name.
func ParseType(s string) (Type, error) {
	for i, n := range typeNames {
		if strings.EqualFold(n, s) {
			return Type(i), nil
		}
	}
	return TypeOther, fmt.Errorf("schema: unknown property type %q", s)
}

// DefaultSentinel returns the sentinel builders configure for a type when
// none is given explicitly.
func DefaultSentinel(t Type) any {
	switch t {
	case TypeBool:
		return false
	case TypeInt:
		return 0
	case TypeUint:
		return uint(0)
	case TypeFloat:
		return 0.0
	case TypeString:
		return ""
	case TypeTime:
		return time.Time{}
	case TypeUUID:
		return uuid.Nil
	default:
		return nil
	}
}

// KeyStrategy selects how a key value is produced.
type KeyStrategy uint8

// Key strategies.
const (
	// ClientAssigned values are supplied by the application before save.
	ClientAssigned KeyStrategy = iota
	// StoreIdentity values are assigned by the store while inserting.
	StoreIdentity
	// StoreSequence values are pre-fetched in blocks from a sequence.
	StoreSequence
)

// String returns the strategy name.
func (s KeyStrategy) String() string {
	switch s {
	case ClientAssigned:
		return "client"
	case StoreIdentity:
		return "identity"
	case StoreSequence:
		return "sequence"
	default:
		return fmt.Sprintf("KeyStrategy(%d)", s)
	}
}

// ParseKeyStrategy returns the strategy with the given name.
func ParseKeyStrategy(s string) (KeyStrategy, error) {
	switch strings.ToLower(s) {
	case "", "client", "client_assigned":
		return ClientAssigned, nil
	case "identity", "store_identity":
		return StoreIdentity, nil
	case "sequence", "store_sequence", "hilo":
		return StoreSequence, nil
	default:
		return ClientAssigned, fmt.Errorf("schema: unknown key strategy %q", s)
	}
}

// ValueGenerator produces client-side values for properties that still
// hold their sentinel when an entity is added.
type ValueGenerator interface {
	Generate() (any, error)
}

// GeneratorFunc adapts a function to ValueGenerator.
type GeneratorFunc func() (any, error)

// Generate calls f.
func (f GeneratorFunc) Generate() (any, error) { return f() }

// UUIDGenerator produces random (version 4) UUIDs.
var UUIDGenerator ValueGenerator = GeneratorFunc(func() (any, error) {
	return uuid.NewRandom()
})

// Property describes one persisted property of an entity type.
type Property struct {
	Name   string
	Column string
	Type   Type

	Key      bool
	Strategy KeyStrategy
	// Sentinel is the value meaning "not supplied". A nil Sentinel means
	// only nil is unset.
	Sentinel any
	// Sequence names the store sequence of a StoreSequence property.
	Sequence string
	// Generated requires a value to be generated when the sentinel is
	// present at save time.
	Generated bool
	// Generator assigns client-side values to ClientAssigned properties.
	Generator ValueGenerator

	ConcurrencyToken bool
	// StoreComputed values are produced by the store on insert and update,
	// like a row version.
	StoreComputed   bool
	Nullable        bool
	CaseInsensitive bool
}

// StoreGenerated reports whether the store produces the value.
func (p *Property) StoreGenerated() bool {
	return p.Strategy == StoreIdentity || p.Strategy == StoreSequence
}

// String returns the property name.
func (p *Property) String() string { return p.Name }

// ForeignKey is a relationship from a dependent entity type to a principal.
type ForeignKey struct {
	Name string
	// Properties on the dependent holding the principal key values.
	Properties []string
	// Principal is the name of the referenced entity type.
	Principal string
	// PrincipalKey lists the referenced principal properties; defaults to
	// the principal's key.
	PrincipalKey []string
	Required     bool
	// Navigation is the dependent's reference to its principal object.
	Navigation string
	// Inverse is the principal's collection of dependent objects.
	Inverse string

	dependent *EntityType
	principal *EntityType
}

// Dependent returns the entity type holding the foreign key.
func (fk *ForeignKey) Dependent() *EntityType { return fk.dependent }

// PrincipalType returns the referenced entity type.
func (fk *ForeignKey) PrincipalType() *EntityType { return fk.principal }

// String returns the foreign key name.
func (fk *ForeignKey) String() string { return fk.Name }

// EntityType describes one entity type and its table.
type EntityType struct {
	Name        string
	Table       string
	Properties  []*Property
	ForeignKeys []*ForeignKey

	byName  map[string]*Property
	keys    []*Property
	tokens  []*Property
	store   []*Property
	inbound []*ForeignKey
}

// Property returns the named property.
func (t *EntityType) Property(name string) (*Property, bool) {
	p, ok := t.byName[name]
	return p, ok
}

// Keys returns the key properties in declaration order.
func (t *EntityType) Keys() []*Property { return t.keys }

// KeyNames returns the key property names.
func (t *EntityType) KeyNames() []string {
	names := make([]string, len(t.keys))
	for i, p := range t.keys {
		names[i] = p.Name
	}
	return names
}

// ConcurrencyTokens returns the properties checked on update and delete.
func (t *EntityType) ConcurrencyTokens() []*Property { return t.tokens }

// StoreComputed returns the properties whose values the store produces
// on every insert and update.
func (t *EntityType) StoreComputed() []*Property { return t.store }

// Inbound returns the foreign keys of other types referencing this one.
func (t *EntityType) Inbound() []*ForeignKey { return t.inbound }

// IsKey reports whether the named property is part of the key.
func (t *EntityType) IsKey(name string) bool {
	p, ok := t.byName[name]
	return ok && p.Key
}

// String returns the type name.
func (t *EntityType) String() string { return t.Name }
