package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/objidx/internal/filter"
	"github.com/roach88/objidx/internal/types"
)

// Row aliases used by the generated fragments. Inner fragments run against
// raw history rows (alias o); outer fragments run against the deduplicated
// row (alias t1).
const (
	innerAlias = "o"
	outerAlias = "t1"
)

// falseLiteral is the boolean-false SQL literal. Both Postgres and SQLite
// (3.23+) accept it.
const falseLiteral = "FALSE"

// CompileInner compiles the pre-deduplication clause of a filter.
// Returns ("", false) when the filter does not restrict history rows.
//
// Composition:
//
//	MatchAll   empty: none      one: fragment   many: (a AND b ...)
//	MatchAny   empty: FALSE     one: fragment   many: (a OR b ...)
//	MatchNone  empty: none      one: NOT (a)    many: NOT (a OR b ...)
//
// "Empty" means empty after dropping nested filters that compile to nothing
// in this pass.
func CompileInner(f filter.ObjectFilter) (string, bool) {
	return innerPass.compile(f)
}

// CompileOuter compiles the post-deduplication clause of a filter.
// Only AddressOwner contributes: it re-checks the current owner of the
// winning version, because the inner pass also accepts rows whose previous
// owner matched. Returns ("", false) for any filter without AddressOwner.
func CompileOuter(f filter.ObjectFilter) (string, bool) {
	return outerPass.compile(f)
}

// CompileLatest compiles the clause for the live objects and snapshot
// relations. Only a top-level AddressOwner is supported; anything else is
// ignored (see filter.Analyze).
func CompileLatest(f filter.ObjectFilter) (string, bool) {
	if a, ok := f.(filter.AddressOwner); ok {
		return fmt.Sprintf("(%s.owner_type = %s AND %s.owner_address = %s)",
			innerAlias, quote(string(types.OwnerAddress)),
			innerAlias, quote(a.Address.String())), true
	}
	return "", false
}

// pass is one compilation of a filter tree. Composites are shared; leaves
// and the empty-MatchAny policy differ per pass.
type pass struct {
	leaf         func(f filter.ObjectFilter) (string, bool)
	falseOnNoAny bool
}

var (
	innerPass = pass{leaf: innerLeaf, falseOnNoAny: true}
	outerPass = pass{leaf: outerLeaf, falseOnNoAny: false}
)

func (p pass) compile(f filter.ObjectFilter) (string, bool) {
	switch v := f.(type) {
	case nil:
		return "", false
	case filter.MatchAll:
		subs := p.compileAll(v.Filters)
		switch len(subs) {
		case 0:
			return "", false
		case 1:
			return subs[0], true
		default:
			return "(" + strings.Join(subs, " AND ") + ")", true
		}
	case filter.MatchAny:
		subs := p.compileAll(v.Filters)
		switch len(subs) {
		case 0:
			if p.falseOnNoAny {
				return falseLiteral, true
			}
			return "", false
		case 1:
			return subs[0], true
		default:
			return "(" + strings.Join(subs, " OR ") + ")", true
		}
	case filter.MatchNone:
		subs := p.compileAll(v.Filters)
		if len(subs) == 0 {
			return "", false
		}
		return "NOT (" + strings.Join(subs, " OR ") + ")", true
	default:
		return p.leaf(f)
	}
}

// compileAll compiles nested filters, dropping those with no fragment.
func (p pass) compileAll(filters []filter.ObjectFilter) []string {
	subs := make([]string, 0, len(filters))
	for _, sub := range filters {
		if s, ok := p.compile(sub); ok {
			subs = append(subs, s)
		}
	}
	return subs
}

// innerLeaf compiles a leaf against raw history rows.
func innerLeaf(f filter.ObjectFilter) (string, bool) {
	o := innerAlias
	switch v := f.(type) {
	case filter.Package:
		return fmt.Sprintf("%s.object_type LIKE %s", o, quote(v.ID.HexLiteral()+"::%")), true
	case filter.MoveModule:
		// A non-identifier cannot appear in a stored type, so it matches
		// nothing; it is never spliced into the pattern.
		if !types.IsIdentifier(v.Module) {
			return falseLiteral, true
		}
		return fmt.Sprintf("%s.object_type LIKE %s", o, quote(v.Package.HexLiteral()+"::"+v.Module+"::%")), true
	case filter.StructType:
		// Without type params the tag matches every instantiation:
		// 0x2::coin::Coin matches 0x2::coin::Coin<0x2::iota::IOTA>.
		// The pattern has no delimiter, so it also matches any struct whose
		// name extends t, such as 0x2::coin::CoinMetadata.
		if len(v.Tag.TypeParams) == 0 {
			return fmt.Sprintf("%s.object_type LIKE %s", o, quote(v.Tag.String()+"%")), true
		}
		return fmt.Sprintf("%s.object_type = %s", o, quote(v.Tag.String())), true
	case filter.AddressOwner:
		return ownerClause(types.OwnerAddress, v.Address), true
	case filter.ObjectOwner:
		return ownerClause(types.OwnerObject, v.ID), true
	case filter.ObjectID:
		return fmt.Sprintf("%s.object_id = %s", o, quote(v.ID.String())), true
	case filter.ObjectIDs:
		if len(v.IDs) == 0 {
			return "", false
		}
		ids := make([]string, len(v.IDs))
		for i, id := range v.IDs {
			ids[i] = quote(id.String())
		}
		return fmt.Sprintf("%s.object_id IN (%s)", o, strings.Join(ids, ", ")), true
	case filter.Version:
		return fmt.Sprintf("%s.version = %d", o, v.Version), true
	default:
		return "", false
	}
}

// ownerClause matches the current or the previous owner of a history row.
func ownerClause(kind types.OwnerType, owner types.Address) string {
	o, k, a := innerAlias, quote(string(kind)), quote(owner.String())
	return fmt.Sprintf("((%s.owner_type = %s AND %s.owner_address = %s) OR (%s.old_owner_type = %s AND %s.old_owner_address = %s))",
		o, k, o, a, o, k, o, a)
}

// outerLeaf compiles a leaf against the deduplicated row.
func outerLeaf(f filter.ObjectFilter) (string, bool) {
	if v, ok := f.(filter.AddressOwner); ok {
		return fmt.Sprintf("%s.owner_address = %s", outerAlias, quote(v.Address.String())), true
	}
	return "", false
}

// quote renders a SQL string literal, doubling embedded single quotes.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
