package schema

// PropertyBuilder configures a Property.
type PropertyBuilder struct {
	desc *Property
}

func newProperty(name string, t Type) *PropertyBuilder {
	return &PropertyBuilder{desc: &Property{Name: name, Type: t}}
}

// Int returns a builder for a signed integer property.
func Int(name string) *PropertyBuilder { return newProperty(name, TypeInt) }

// Uint returns a builder for an unsigned integer property.
func Uint(name string) *PropertyBuilder { return newProperty(name, TypeUint) }

// Float returns a builder for a floating point property.
func Float(name string) *PropertyBuilder { return newProperty(name, TypeFloat) }

// String returns a builder for a string property.
func String(name string) *PropertyBuilder { return newProperty(name, TypeString) }

// Bool returns a builder for a boolean property.
func Bool(name string) *PropertyBuilder { return newProperty(name, TypeBool) }

// Bytes returns a builder for a binary property.
func Bytes(name string) *PropertyBuilder { return newProperty(name, TypeBytes) }

// Time returns a builder for a timestamp property.
func Time(name string) *PropertyBuilder { return newProperty(name, TypeTime) }

// UUID returns a builder for a UUID property.
func UUID(name string) *PropertyBuilder { return newProperty(name, TypeUUID) }

// Column sets the storage column name.
func (b *PropertyBuilder) Column(name string) *PropertyBuilder {
	b.desc.Column = name
	return b
}

// Key marks the property as part of the entity key.
func (b *PropertyBuilder) Key() *PropertyBuilder {
	b.desc.Key = true
	return b
}

// Identity makes the store assign the key while inserting.
func (b *PropertyBuilder) Identity() *PropertyBuilder {
	b.desc.Strategy = StoreIdentity
	return b
}

// Sequence makes the key come from the named store sequence. An empty
// name derives one from the table and column.
func (b *PropertyBuilder) Sequence(name string) *PropertyBuilder {
	b.desc.Strategy = StoreSequence
	b.desc.Sequence = name
	return b
}

// Sentinel sets the value meaning "not supplied".
func (b *PropertyBuilder) Sentinel(v any) *PropertyBuilder {
	b.desc.Sentinel = v
	return b
}

// Generated requires a value to be generated when the property holds its
// sentinel at save time.
func (b *PropertyBuilder) Generated() *PropertyBuilder {
	b.desc.Generated = true
	return b
}

// Generator registers a client-side generator and implies Generated.
func (b *PropertyBuilder) Generator(g ValueGenerator) *PropertyBuilder {
	b.desc.Generator = g
	b.desc.Generated = true
	return b
}

// ConcurrencyToken includes the property in update and delete preconditions.
func (b *PropertyBuilder) ConcurrencyToken() *PropertyBuilder {
	b.desc.ConcurrencyToken = true
	return b
}

// RowVersion marks a store-computed concurrency token.
func (b *PropertyBuilder) RowVersion() *PropertyBuilder {
	b.desc.ConcurrencyToken = true
	b.desc.StoreComputed = true
	b.desc.Nullable = true
	return b
}

// Nullable allows nil values.
func (b *PropertyBuilder) Nullable() *PropertyBuilder {
	b.desc.Nullable = true
	return b
}

// CaseInsensitive compares string values without regard to case, the way
// a case-insensitive collation does.
func (b *PropertyBuilder) CaseInsensitive() *PropertyBuilder {
	b.desc.CaseInsensitive = true
	return b
}

// Descriptor returns the configured property.
func (b *PropertyBuilder) Descriptor() *Property { return b.desc }

// ForeignKeyBuilder configures a ForeignKey.
type ForeignKeyBuilder struct {
	desc *ForeignKey
}

// References returns a builder for a foreign key from the given dependent
// properties to the principal type's key.
func References(principal string, properties ...string) *ForeignKeyBuilder {
	return &ForeignKeyBuilder{desc: &ForeignKey{Principal: principal, Properties: properties}}
}

// Name sets the constraint name.
func (b *ForeignKeyBuilder) Name(name string) *ForeignKeyBuilder {
	b.desc.Name = name
	return b
}

// PrincipalKey sets the referenced principal properties.
func (b *ForeignKeyBuilder) PrincipalKey(properties ...string) *ForeignKeyBuilder {
	b.desc.PrincipalKey = properties
	return b
}

// Required marks the relationship as mandatory.
func (b *ForeignKeyBuilder) Required() *ForeignKeyBuilder {
	b.desc.Required = true
	return b
}

// Navigation names the dependent's reference to the principal object.
func (b *ForeignKeyBuilder) Navigation(name string) *ForeignKeyBuilder {
	b.desc.Navigation = name
	return b
}

// Inverse names the principal's collection of dependents.
func (b *ForeignKeyBuilder) Inverse(name string) *ForeignKeyBuilder {
	b.desc.Inverse = name
	return b
}

// Descriptor returns the configured foreign key.
func (b *ForeignKeyBuilder) Descriptor() *ForeignKey { return b.desc }

// EntityBuilder configures an EntityType.
type EntityBuilder struct {
	desc *EntityType
}

// Entity returns a builder for the named entity type.
func Entity(name string) *EntityBuilder {
	return &EntityBuilder{desc: &EntityType{Name: name}}
}

// Table sets the table name.
func (b *EntityBuilder) Table(name string) *EntityBuilder {
	b.desc.Table = name
	return b
}

// Properties appends properties.
func (b *EntityBuilder) Properties(props ...*PropertyBuilder) *EntityBuilder {
	for _, p := range props {
		b.desc.Properties = append(b.desc.Properties, p.Descriptor())
	}
	return b
}

// ForeignKeys appends foreign keys.
func (b *EntityBuilder) ForeignKeys(fks ...*ForeignKeyBuilder) *EntityBuilder {
	for _, fk := range fks {
		b.desc.ForeignKeys = append(b.desc.ForeignKeys, fk.Descriptor())
	}
	return b
}

// Descriptor returns the configured entity type.
func (b *EntityBuilder) Descriptor() *EntityType { return b.desc }

// Build creates a Model from entity builders.
func Build(entities ...*EntityBuilder) (*Model, error) {
	types := make([]*EntityType, len(entities))
	for i, e := range entities {
		types[i] = e.Descriptor()
	}
	return NewModel(types...)
}

// MustBuild is like Build but panics on error.
func MustBuild(entities ...*EntityBuilder) *Model {
	m, err := Build(entities...)
	if err != nil {
		panic(err)
	}
	return m
}
