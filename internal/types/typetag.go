package types

import (
	"fmt"
	"strings"
)

// TypeTag is a Move type: a primitive, a vector or a struct.
//
// Exactly one of Primitive, Vector or Struct is set.
type TypeTag struct {
	Primitive string     // "bool", "u8", ..., "address", "signer"
	Vector    *TypeTag   // element type of vector<T>
	Struct    *StructTag // struct type
}

// StructTag is a fully qualified Move struct type with optional type
// parameters.
type StructTag struct {
	Address    Address
	Module     string
	Name       string
	TypeParams []TypeTag
}

var primitives = map[string]bool{
	"bool":    true,
	"u8":      true,
	"u16":     true,
	"u32":     true,
	"u64":     true,
	"u128":    true,
	"u256":    true,
	"address": true,
	"signer":  true,
}

// IsIdentifier reports whether s is a valid Move identifier:
// a letter or underscore followed by letters, digits or underscores.
// A lone underscore is not an identifier.
func IsIdentifier(s string) bool {
	if s == "" || s == "_" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// String renders the tag in canonical short-address form.
func (t TypeTag) String() string {
	switch {
	case t.Struct != nil:
		return t.Struct.String()
	case t.Vector != nil:
		return "vector<" + t.Vector.String() + ">"
	default:
		return t.Primitive
	}
}

// String renders the struct tag, e.g. "0x2::coin::Coin<0x2::iota::IOTA>".
func (s StructTag) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s::%s::%s", s.Address.HexLiteral(), s.Module, s.Name)
	if len(s.TypeParams) > 0 {
		b.WriteString("<")
		for i, p := range s.TypeParams {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p.String())
		}
		b.WriteString(">")
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (s StructTag) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *StructTag) UnmarshalText(text []byte) error {
	parsed, err := ParseStructTag(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStructTag parses a struct type such as "0x2::coin::Coin<0x2::iota::IOTA>".
func ParseStructTag(s string) (StructTag, error) {
	tag, err := ParseTypeTag(s)
	if err != nil {
		return StructTag{}, err
	}
	if tag.Struct == nil {
		return StructTag{}, fmt.Errorf("parse struct tag %q: not a struct type", s)
	}
	return *tag.Struct, nil
}

// MustParseStructTag is like ParseStructTag but panics on error.
func MustParseStructTag(s string) StructTag {
	tag, err := ParseStructTag(s)
	if err != nil {
		panic(err)
	}
	return tag
}

// ParseTypeTag parses any Move type tag.
func ParseTypeTag(s string) (TypeTag, error) {
	p := &tagParser{src: s}
	tag, err := p.typeTag()
	if err != nil {
		return TypeTag{}, fmt.Errorf("parse type tag %q: %w", s, err)
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return TypeTag{}, fmt.Errorf("parse type tag %q: unexpected %q at offset %d", s, p.src[p.pos:], p.pos)
	}
	return tag, nil
}

// tagParser is a recursive-descent parser over a type tag string.
type tagParser struct {
	src string
	pos int
}

func (p *tagParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

// word consumes the longest run of identifier characters (hex addresses
// included, since "0x2" is made of the same characters).
func (p *tagParser) word() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *tagParser) consume(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *tagParser) typeTag() (TypeTag, error) {
	w := p.word()
	if w == "" {
		return TypeTag{}, fmt.Errorf("expected type at offset %d", p.pos)
	}
	if w == "vector" {
		if !p.consume("<") {
			return TypeTag{}, fmt.Errorf("expected '<' after vector")
		}
		elem, err := p.typeTag()
		if err != nil {
			return TypeTag{}, err
		}
		if !p.consume(">") {
			return TypeTag{}, fmt.Errorf("expected '>' closing vector")
		}
		return TypeTag{Vector: &elem}, nil
	}
	if primitives[w] {
		return TypeTag{Primitive: w}, nil
	}
	st, err := p.structTag(w)
	if err != nil {
		return TypeTag{}, err
	}
	return TypeTag{Struct: &st}, nil
}

func (p *tagParser) structTag(addr string) (StructTag, error) {
	if !strings.HasPrefix(addr, "0x") {
		return StructTag{}, fmt.Errorf("expected address, got %q", addr)
	}
	a, err := ParseAddress(addr)
	if err != nil {
		return StructTag{}, err
	}
	if !p.consume("::") {
		return StructTag{}, fmt.Errorf("expected '::' after address")
	}
	module := p.word()
	if !IsIdentifier(module) {
		return StructTag{}, fmt.Errorf("invalid module name %q", module)
	}
	if !p.consume("::") {
		return StructTag{}, fmt.Errorf("expected '::' after module")
	}
	name := p.word()
	if !IsIdentifier(name) {
		return StructTag{}, fmt.Errorf("invalid struct name %q", name)
	}
	st := StructTag{Address: a, Module: module, Name: name}
	if p.consume("<") {
		for {
			param, err := p.typeTag()
			if err != nil {
				return StructTag{}, err
			}
			st.TypeParams = append(st.TypeParams, param)
			if p.consume(",") {
				continue
			}
			if p.consume(">") {
				break
			}
			return StructTag{}, fmt.Errorf("expected ',' or '>' at offset %d", p.pos)
		}
	}
	return st, nil
}
