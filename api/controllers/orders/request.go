package orders

import "github.com/mercatto/commerce-core/pkg/types"

type createOrderRequest struct {
	Currency string  `json:"currency" validate:"required,len=3"`
	Email    *string `json:"email,omitempty" validate:"omitempty,email"`
}

type addLineItemRequest struct {
	VariantID string `json:"variant_id" validate:"required,uuid"`
	Qty       int    `json:"qty" validate:"required,min=1"`
}

type setQuantityRequest struct {
	Qty int `json:"qty" validate:"required,min=1"`
}

type overridePriceRequest struct {
	UnitPriceCents int64 `json:"unit_price_cents" validate:"min=0"`
}

type setEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type setShippingAddressRequest struct {
	Address types.Address `json:"address" validate:"required"`
}

type selectShippingMethodRequest struct {
	Method string `json:"method" validate:"required"`
}

type applyCouponRequest struct {
	Code string `json:"code" validate:"required,min=1"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"required,min=1"`
}
