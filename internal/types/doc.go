// Package types provides the ledger value types shared by the filter
// compiler and the store.
//
// This package contains value types and their parsers only. All other
// internal packages import types; types imports nothing internal.
//
// Key constraints:
//   - Addresses and object ids are 32 bytes and always render as fixed-width
//     lowercase hex ("0x" + 64 digits) from String
//   - Move type tags render in the short-address form used by the ledger
//     ("0x2::coin::Coin<0x2::iota::IOTA>")
//   - Identifiers are validated on parse, so rendered tags never contain
//     quotes or stray "::" separators
package types
