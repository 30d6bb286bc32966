package types

import "fmt"

// OwnerType is the ownership kind of an object version.
type OwnerType string

// Owner kinds as stored in the owner_type columns.
const (
	OwnerAddress   OwnerType = "address_owner"
	OwnerObject    OwnerType = "object_owner"
	OwnerShared    OwnerType = "shared"
	OwnerImmutable OwnerType = "immutable"
)

// Valid reports whether t is a known owner kind.
func (t OwnerType) Valid() bool {
	switch t {
	case OwnerAddress, OwnerObject, OwnerShared, OwnerImmutable:
		return true
	}
	return false
}

// ObjectStatus is the lifecycle status of an object version.
type ObjectStatus string

// Object lifecycle statuses as stored in the object_status columns.
const (
	StatusActive               ObjectStatus = "active"
	StatusDeleted              ObjectStatus = "deleted"
	StatusWrapped              ObjectStatus = "wrapped"
	StatusUnwrapped            ObjectStatus = "unwrapped"
	StatusUnwrappedThenDeleted ObjectStatus = "unwrapped_then_deleted"
)

// NonLiveStatuses are excluded from every object query and never appear in
// the snapshot. The order is the one rendered into SQL.
var NonLiveStatuses = []ObjectStatus{StatusDeleted, StatusWrapped, StatusUnwrappedThenDeleted}

// Live reports whether objects with this status are visible to queries.
func (s ObjectStatus) Live() bool {
	for _, n := range NonLiveStatuses {
		if s == n {
			return false
		}
	}
	return true
}

// Valid reports whether s is a known status.
func (s ObjectStatus) Valid() bool {
	switch s {
	case StatusActive, StatusDeleted, StatusWrapped, StatusUnwrapped, StatusUnwrappedThenDeleted:
		return true
	}
	return false
}

// ParseObjectStatus converts a stored status string.
func ParseObjectStatus(s string) (ObjectStatus, error) {
	st := ObjectStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown object status %q", s)
	}
	return st, nil
}
