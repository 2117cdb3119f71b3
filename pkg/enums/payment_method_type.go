package enums

import "fmt"

// PaymentMethodType selects the gateway processor for a payment method.
type PaymentMethodType string

const (
	PaymentMethodCashOnDelivery PaymentMethodType = "cash_on_delivery"
	PaymentMethodStripe         PaymentMethodType = "stripe"
	PaymentMethodSquare         PaymentMethodType = "square"
)

var validPaymentMethodTypes = []PaymentMethodType{
	PaymentMethodCashOnDelivery,
	PaymentMethodStripe,
	PaymentMethodSquare,
}

// String implements fmt.Stringer.
func (p PaymentMethodType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethodType.
func (p PaymentMethodType) IsValid() bool {
	for _, candidate := range validPaymentMethodTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentMethodType converts raw input into a PaymentMethodType.
func ParsePaymentMethodType(value string) (PaymentMethodType, error) {
	for _, candidate := range validPaymentMethodTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method type %q", value)
}
