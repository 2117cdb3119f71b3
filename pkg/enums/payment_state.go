package enums

import "fmt"

// PaymentState tracks the lifecycle of a payment against its order.
type PaymentState string

const (
	PaymentStatePending     PaymentState = "pending"
	PaymentStateAuthorizing PaymentState = "authorizing"
	PaymentStateAuthorized  PaymentState = "authorized"
	PaymentStateCapturing   PaymentState = "capturing"
	PaymentStateCompleted   PaymentState = "completed"
	PaymentStateVoid        PaymentState = "void"
	PaymentStateFailed      PaymentState = "failed"
	PaymentStateRefunded    PaymentState = "refunded"
)

var validPaymentStates = []PaymentState{
	PaymentStatePending,
	PaymentStateAuthorizing,
	PaymentStateAuthorized,
	PaymentStateCapturing,
	PaymentStateCompleted,
	PaymentStateVoid,
	PaymentStateFailed,
	PaymentStateRefunded,
}

// String implements fmt.Stringer.
func (p PaymentState) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentState.
func (p PaymentState) IsValid() bool {
	for _, candidate := range validPaymentStates {
		if candidate == p {
			return true
		}
	}
	return false
}

// CountsTowardSufficiency reports whether the payment's amount counts toward
// the order's payment-sufficiency check.
func (p PaymentState) CountsTowardSufficiency() bool {
	return p == PaymentStateAuthorized || p == PaymentStateCompleted
}

// ParsePaymentState converts raw input into a PaymentState.
func ParsePaymentState(value string) (PaymentState, error) {
	for _, candidate := range validPaymentStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment state %q", value)
}
