package filter

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/roach88/objidx/internal/types"
)

// Variant names as they appear in encoded filters.
const (
	KeyMatchAll     = "MatchAll"
	KeyMatchAny     = "MatchAny"
	KeyMatchNone    = "MatchNone"
	KeyPackage      = "Package"
	KeyMoveModule   = "MoveModule"
	KeyStructType   = "StructType"
	KeyAddressOwner = "AddressOwner"
	KeyObjectOwner  = "ObjectOwner"
	KeyObjectID     = "ObjectId"
	KeyObjectIDs    = "ObjectIds"
	KeyVersion      = "Version"
)

// Parse decodes a filter from YAML or JSON (JSON is a subset of YAML).
//
// Each filter is a single-key mapping whose key names the variant:
//
//	MatchAll: [<filter>, ...]        MatchAny / MatchNone likewise
//	Package: "0x2"
//	MoveModule: {package: "0x2", module: "coin"}
//	StructType: "0x2::coin::Coin<0x2::iota::IOTA>"
//	AddressOwner: "0x..."            ObjectOwner / ObjectId likewise
//	ObjectIds: ["0x...", ...]
//	Version: 7                       (a decimal string is accepted too)
func Parse(data []byte) (ObjectFilter, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse filter: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("parse filter: empty document")
	}
	f, err := decodeNode(doc.Content[0])
	if err != nil {
		return nil, fmt.Errorf("parse filter: %w", err)
	}
	return f, nil
}

// Spec wraps a filter so it can be embedded in larger YAML documents.
type Spec struct {
	Filter ObjectFilter
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	f, err := decodeNode(node)
	if err != nil {
		return err
	}
	s.Filter = f
	return nil
}

func decodeNode(n *yaml.Node) (ObjectFilter, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return nil, fmt.Errorf("line %d: filter must be a mapping with exactly one variant key", n.Line)
	}
	key, val := n.Content[0].Value, n.Content[1]

	switch key {
	case KeyMatchAll, KeyMatchAny, KeyMatchNone:
		subs, err := decodeList(key, val)
		if err != nil {
			return nil, err
		}
		switch key {
		case KeyMatchAll:
			return MatchAll{Filters: subs}, nil
		case KeyMatchAny:
			return MatchAny{Filters: subs}, nil
		default:
			return MatchNone{Filters: subs}, nil
		}
	case KeyPackage:
		id, err := decodeAddress(key, val)
		if err != nil {
			return nil, err
		}
		return Package{ID: id}, nil
	case KeyMoveModule:
		return decodeMoveModule(val)
	case KeyStructType:
		if val.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: %s expects a type string", val.Line, key)
		}
		tag, err := types.ParseStructTag(val.Value)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", val.Line, key, err)
		}
		return StructType{Tag: tag}, nil
	case KeyAddressOwner:
		a, err := decodeAddress(key, val)
		if err != nil {
			return nil, err
		}
		return AddressOwner{Address: a}, nil
	case KeyObjectOwner:
		id, err := decodeAddress(key, val)
		if err != nil {
			return nil, err
		}
		return ObjectOwner{ID: id}, nil
	case KeyObjectID:
		id, err := decodeAddress(key, val)
		if err != nil {
			return nil, err
		}
		return ObjectID{ID: id}, nil
	case KeyObjectIDs:
		if val.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("line %d: %s expects a list of ids", val.Line, key)
		}
		var ids []types.ObjectID
		for _, item := range val.Content {
			id, err := decodeAddress(key, item)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ObjectIDs{IDs: ids}, nil
	case KeyVersion:
		if val.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: %s expects an unsigned integer", val.Line, key)
		}
		v, err := strconv.ParseUint(val.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", val.Line, key, err)
		}
		return Version{Version: v}, nil
	default:
		return nil, fmt.Errorf("line %d: unknown filter variant %q", n.Line, key)
	}
}

func decodeList(key string, val *yaml.Node) ([]ObjectFilter, error) {
	if val.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: %s expects a list of filters", val.Line, key)
	}
	// Empty lists decode to nil, the same value All(), Any() and None() build.
	var subs []ObjectFilter
	for _, item := range val.Content {
		f, err := decodeNode(item)
		if err != nil {
			return nil, err
		}
		subs = append(subs, f)
	}
	return subs, nil
}

func decodeAddress(key string, val *yaml.Node) (types.Address, error) {
	if val.Kind != yaml.ScalarNode {
		return types.Address{}, fmt.Errorf("line %d: %s expects a hex address", val.Line, key)
	}
	a, err := types.ParseAddress(val.Value)
	if err != nil {
		return types.Address{}, fmt.Errorf("line %d: %s: %w", val.Line, key, err)
	}
	return a, nil
}

func decodeMoveModule(val *yaml.Node) (ObjectFilter, error) {
	var raw struct {
		Package string `yaml:"package"`
		Module  string `yaml:"module"`
	}
	if err := val.Decode(&raw); err != nil {
		return nil, fmt.Errorf("line %d: %s: %w", val.Line, KeyMoveModule, err)
	}
	pkg, err := types.ParseAddress(raw.Package)
	if err != nil {
		return nil, fmt.Errorf("line %d: %s: %w", val.Line, KeyMoveModule, err)
	}
	// Module names are not validated here; the compiler turns a non-identifier
	// into a predicate that matches nothing.
	return MoveModule{Package: pkg, Module: raw.Module}, nil
}
