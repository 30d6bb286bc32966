package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLength is the byte length of addresses and object ids.
const AddressLength = 32

// Address is a 32-byte account address.
type Address [AddressLength]byte

// ObjectID identifies an object. Package ids are object ids.
type ObjectID = Address

// ZeroAddress is the all-zero address.
var ZeroAddress Address

// ParseAddress parses a hex address. The "0x" prefix is optional and short
// forms ("0x2") are left-padded with zeros.
func ParseAddress(s string) (Address, error) {
	var a Address
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if digits == "" {
		return a, fmt.Errorf("parse address %q: empty", s)
	}
	if len(digits) > 2*AddressLength {
		return a, fmt.Errorf("parse address %q: longer than %d hex digits", s, 2*AddressLength)
	}
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	raw, err := hex.DecodeString(digits)
	if err != nil {
		return a, fmt.Errorf("parse address %q: %w", s, err)
	}
	copy(a[AddressLength-len(raw):], raw)
	return a, nil
}

// MustParseAddress is like ParseAddress but panics on error.
// Intended for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the full-width form: "0x" followed by 64 hex digits.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// HexLiteral returns the short form with leading zeros trimmed ("0x2").
func (a Address) HexLiteral() string {
	s := strings.TrimLeft(hex.EncodeToString(a[:]), "0")
	if s == "" {
		s = "0"
	}
	return "0x" + s
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressLength)
	copy(b, a[:])
	return b
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
