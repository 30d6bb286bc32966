package filter

import "github.com/roach88/objidx/internal/types"

// ObjectFilter selects objects. See the package documentation for variants.
type ObjectFilter interface {
	filterNode() // Marker method - seals interface to this package
}

// MatchAll matches objects that satisfy every nested filter.
// An empty list matches everything.
type MatchAll struct {
	Filters []ObjectFilter
}

func (MatchAll) filterNode() {}

// MatchAny matches objects that satisfy at least one nested filter.
// An empty list matches nothing.
type MatchAny struct {
	Filters []ObjectFilter
}

func (MatchAny) filterNode() {}

// MatchNone matches objects that satisfy none of the nested filters.
// An empty list matches everything.
type MatchNone struct {
	Filters []ObjectFilter
}

func (MatchNone) filterNode() {}

// Package matches objects whose type is defined in the package.
type Package struct {
	ID types.ObjectID
}

func (Package) filterNode() {}

// MoveModule matches objects whose type is defined in package::module.
type MoveModule struct {
	Package types.ObjectID
	Module  string
}

func (MoveModule) filterNode() {}

// StructType matches objects of the struct type. A tag without type
// parameters matches every instantiation of the generic type. That match is
// a plain prefix match on the type name, so 0x2::coin::Coin also matches
// 0x2::coin::CoinMetadata. Callers needing an exact name should filter the
// results.
type StructType struct {
	Tag types.StructTag
}

func (StructType) filterNode() {}

// AddressOwner matches objects owned by the address.
type AddressOwner struct {
	Address types.Address
}

func (AddressOwner) filterNode() {}

// ObjectOwner matches objects owned by another object.
type ObjectOwner struct {
	ID types.ObjectID
}

func (ObjectOwner) filterNode() {}

// ObjectID matches a single object.
type ObjectID struct {
	ID types.ObjectID
}

func (ObjectID) filterNode() {}

// ObjectIDs matches any of the listed objects. An empty set does not
// restrict the result.
type ObjectIDs struct {
	IDs []types.ObjectID
}

func (ObjectIDs) filterNode() {}

// Version matches object versions exactly.
type Version struct {
	Version uint64
}

func (Version) filterNode() {}

// All is shorthand for MatchAll{Filters: filters}.
func All(filters ...ObjectFilter) MatchAll {
	return MatchAll{Filters: filters}
}

// Any is shorthand for MatchAny{Filters: filters}.
func Any(filters ...ObjectFilter) MatchAny {
	return MatchAny{Filters: filters}
}

// None is shorthand for MatchNone{Filters: filters}.
func None(filters ...ObjectFilter) MatchNone {
	return MatchNone{Filters: filters}
}
