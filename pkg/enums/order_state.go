package enums

import "fmt"

// OrderState is the checkout phase of an order.
type OrderState string

const (
	OrderStateCart           OrderState = "cart"
	OrderStateAddress        OrderState = "address"
	OrderStateDelivery       OrderState = "delivery"
	OrderStatePayment        OrderState = "payment"
	OrderStateConfirm        OrderState = "confirm"
	OrderStateComplete       OrderState = "complete"
	OrderStateCanceled       OrderState = "canceled"
	OrderStateAwaitingReturn OrderState = "awaiting_return"
	OrderStateReturned       OrderState = "returned"
)

var validOrderStates = []OrderState{
	OrderStateCart,
	OrderStateAddress,
	OrderStateDelivery,
	OrderStatePayment,
	OrderStateConfirm,
	OrderStateComplete,
	OrderStateCanceled,
	OrderStateAwaitingReturn,
	OrderStateReturned,
}

// checkoutOrdinal orders the forward checkout phases. Side branches (canceled,
// return flow) sit outside the ordering and report -1.
var checkoutOrdinal = map[OrderState]int{
	OrderStateCart:     0,
	OrderStateAddress:  1,
	OrderStateDelivery: 2,
	OrderStatePayment:  3,
	OrderStateConfirm:  4,
	OrderStateComplete: 5,
}

// String implements fmt.Stringer.
func (s OrderState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderState.
func (s OrderState) IsValid() bool {
	for _, candidate := range validOrderStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// Ordinal returns the forward checkout position, or -1 for side branches.
func (s OrderState) Ordinal() int {
	if ord, ok := checkoutOrdinal[s]; ok {
		return ord
	}
	return -1
}

// AtLeast reports whether s has reached the given forward phase. Side-branch
// states never compare as reached.
func (s OrderState) AtLeast(other OrderState) bool {
	so, oo := s.Ordinal(), other.Ordinal()
	if so < 0 || oo < 0 {
		return false
	}
	return so >= oo
}

// IsTerminal reports whether no further checkout progress is possible.
func (s OrderState) IsTerminal() bool {
	return s == OrderStateCanceled || s == OrderStateReturned
}

// ParseOrderState converts raw input into an OrderState.
func ParseOrderState(value string) (OrderState, error) {
	for _, candidate := range validOrderStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order state %q", value)
}
