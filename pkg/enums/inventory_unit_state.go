package enums

import "fmt"

// InventoryUnitState tracks one unit of fulfillment through its lifecycle.
type InventoryUnitState string

const (
	InventoryUnitOnHand      InventoryUnitState = "on_hand"
	InventoryUnitBackordered InventoryUnitState = "backordered"
	InventoryUnitShipped     InventoryUnitState = "shipped"
	InventoryUnitReturned    InventoryUnitState = "returned"
	InventoryUnitCanceled    InventoryUnitState = "canceled"
)

var validInventoryUnitStates = []InventoryUnitState{
	InventoryUnitOnHand,
	InventoryUnitBackordered,
	InventoryUnitShipped,
	InventoryUnitReturned,
	InventoryUnitCanceled,
}

// String implements fmt.Stringer.
func (s InventoryUnitState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known InventoryUnitState.
func (s InventoryUnitState) IsValid() bool {
	for _, candidate := range validInventoryUnitStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseInventoryUnitState converts raw input into an InventoryUnitState.
func ParseInventoryUnitState(value string) (InventoryUnitState, error) {
	for _, candidate := range validInventoryUnitStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid inventory unit state %q", value)
}
