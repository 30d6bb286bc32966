package filter

import "fmt"

// Analysis reports how a filter will be treated by the snapshot query mode.
//
// The snapshot relation only supports a top-level AddressOwner filter. Any
// other filter is ignored in snapshot mode (the query behaves as if
// unfiltered). That is a documented limitation, not an error, so callers get
// warnings instead of a failure.
type Analysis struct {
	// SnapshotExact is true when snapshot mode applies the filter exactly.
	SnapshotExact bool

	// Warnings lists the parts of the filter that snapshot mode ignores.
	Warnings []string

	// Leaves counts leaf predicates in the filter.
	Leaves int

	// Depth is the maximum composite nesting depth (a bare leaf is 0).
	Depth int
}

// Analyze inspects a filter for snapshot-mode support.
//
// Analyze is a pure function with no side effects.
func Analyze(f ObjectFilter) Analysis {
	a := &analyzer{}
	depth := a.walk(f, 0)

	warnings := []string{}
	switch f.(type) {
	case nil, AddressOwner:
	default:
		warnings = append(warnings, fmt.Sprintf(
			"snapshot queries support only a top-level AddressOwner filter; %s is ignored", variantName(f)))
	}

	return Analysis{
		SnapshotExact: len(warnings) == 0,
		Warnings:      warnings,
		Leaves:        a.leaves,
		Depth:         depth,
	}
}

// analyzer counts leaves during traversal.
type analyzer struct {
	leaves int
}

// walk returns the nesting depth below f.
func (a *analyzer) walk(f ObjectFilter, depth int) int {
	var subs []ObjectFilter
	switch v := f.(type) {
	case nil:
		return depth
	case MatchAll:
		subs = v.Filters
	case MatchAny:
		subs = v.Filters
	case MatchNone:
		subs = v.Filters
	default:
		a.leaves++
		return depth
	}

	deepest := depth + 1
	for _, sub := range subs {
		if d := a.walk(sub, depth+1); d > deepest {
			deepest = d
		}
	}
	return deepest
}

// variantName returns the encoded variant key of f.
func variantName(f ObjectFilter) string {
	switch f.(type) {
	case MatchAll:
		return KeyMatchAll
	case MatchAny:
		return KeyMatchAny
	case MatchNone:
		return KeyMatchNone
	case Package:
		return KeyPackage
	case MoveModule:
		return KeyMoveModule
	case StructType:
		return KeyStructType
	case AddressOwner:
		return KeyAddressOwner
	case ObjectOwner:
		return KeyObjectOwner
	case ObjectID:
		return KeyObjectID
	case ObjectIDs:
		return KeyObjectIDs
	case Version:
		return KeyVersion
	default:
		return fmt.Sprintf("%T", f)
	}
}
