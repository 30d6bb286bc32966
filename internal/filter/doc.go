// Package filter defines the object filter AST used to select objects from
// the object history and the object snapshot.
//
// ObjectFilter is a sealed interface: only the types in this package
// implement it, so compilers can switch over the variants exhaustively.
//
// Variants:
//   - MatchAll, MatchAny, MatchNone: composites over nested filters (may be empty)
//   - Package, MoveModule, StructType: match on the object's Move type
//   - AddressOwner, ObjectOwner: match on ownership
//   - ObjectID, ObjectIDs, Version: match on identity
//
// Filters are plain values. Nothing is validated at construction time: an
// empty ObjectIDs set or an empty MatchAny are legal and have well-defined
// (if degenerate) meaning. Structural equality is reflect.DeepEqual.
//
// Filters arrive from callers as YAML or JSON in the externally tagged form
//
//	{"MatchAll": [{"AddressOwner": "0x5"}, {"StructType": "0x2::coin::Coin"}]}
//
// and are decoded with Parse.
package filter
