package orders

import (
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"

	"github.com/mercatto/commerce-core/pkg/enums"
)

// Stable reason identifiers carried on structured errors.
const (
	ReasonNotFound             = "Order.NotFound"
	ReasonInvalidState         = "Order.InvalidState"
	ReasonEmptyCart            = "Order.EmptyCart"
	ReasonMissingEmail         = "Order.MissingEmail"
	ReasonMissingAddress       = "Order.MissingShippingAddress"
	ReasonInvalidAddress       = "Order.InvalidShippingAddress"
	ReasonMissingShipping      = "Order.MissingShippingMethod"
	ReasonInsufficientPayment  = "Order.InsufficientPayment"
	ReasonAlreadyAssociated    = "Order.AlreadyAssociated"
	ReasonCurrencyMismatch     = "Order.CurrencyMismatch"
	ReasonCannotCancelCaptured = "Order.CannotCancelWithCapturedPayment"
	ReasonLineNotFound         = "LineItem.NotFound"
	ReasonInvalidQty           = "LineItem.InvalidQuantity"
	ReasonVariantUnavailable   = "LineItem.VariantUnavailable"
	ReasonNoPrice              = "LineItem.NoPriceForCurrency"
)

// forwardNext maps each checkout phase to its successor. Side branches
// (canceled, return flow) are reached by dedicated commands, not advance.
var forwardNext = map[enums.OrderState]enums.OrderState{
	enums.OrderStateCart:     enums.OrderStateAddress,
	enums.OrderStateAddress:  enums.OrderStateDelivery,
	enums.OrderStateDelivery: enums.OrderStatePayment,
	enums.OrderStatePayment:  enums.OrderStateConfirm,
	enums.OrderStateConfirm:  enums.OrderStateComplete,
}

// cancelableStates lists the phases a cancel command may leave from. Complete
// orders take the refund-then-cancel path guarded separately.
var cancelableStates = map[enums.OrderState]bool{
	enums.OrderStateCart:     true,
	enums.OrderStateAddress:  true,
	enums.OrderStateDelivery: true,
	enums.OrderStatePayment:  true,
	enums.OrderStateConfirm:  true,
	enums.OrderStateComplete: true,
}

// returnNext maps the post-completion return flow.
var returnNext = map[enums.OrderState]enums.OrderState{
	enums.OrderStateComplete:       enums.OrderStateAwaitingReturn,
	enums.OrderStateAwaitingReturn: enums.OrderStateReturned,
}

func errInvalidState(state enums.OrderState, operation string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "operation not allowed in current order state").
		WithReason(ReasonInvalidState).
		WithDetail("state", state.String()).
		WithDetail("operation", operation)
}

func errNotFound() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
		WithReason(ReasonNotFound)
}
