// Package schema describes the entity metadata consumed by the change
// tracker, key generator and command orderer.
//
// A Model is a read-only set of EntityType records. Behavior that differs
// between entity types (key generation strategy, sentinel values,
// concurrency tokens, foreign keys) is data on these records, and the
// algorithms that consume them are type-agnostic.
//
// # Quick Start
//
//	model, err := schema.Build(
//	    schema.Entity("Customer").Properties(
//	        schema.String("CustomerID").Key().CaseInsensitive(),
//	        schema.String("CompanyName"),
//	    ),
//	    schema.Entity("Order").Properties(
//	        schema.Int("OrderID").Key().Identity(),
//	        schema.String("CustomerID").Nullable(),
//	        schema.Bytes("Version").RowVersion(),
//	    ).ForeignKeys(
//	        schema.References("Customer", "CustomerID").Navigation("Customer").Inverse("Orders"),
//	    ),
//	)
//
// # Key Strategies
//
//   - ClientAssigned: the application supplies the value; a registered
//     Generator may fill it when the property still holds its sentinel.
//   - StoreIdentity: the store assigns the value during the insert.
//   - StoreSequence: values are pre-fetched from a named sequence.
//
// # Sentinels
//
// The sentinel is the configured value meaning "not supplied". Builders
// default it to the zero value of the property type; Sentinel overrides it:
//
//	schema.Int("ID").Key().Sequence("engine_ids").Sentinel(-1)
//
// # Loading
//
// Models can also be loaded from YAML through the File provider:
//
//	p := schema.File("model.yaml")
//	model, err := p.Load(ctx)
package schema
