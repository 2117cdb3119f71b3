package payloads

import (
	"time"

	"github.com/google/uuid"
)

// Event payloads are versioned JSON contracts. Fields are additive only;
// breaking changes bump the envelope version.

type LineItemChangedEvent struct {
	OrderID        uuid.UUID `json:"orderId"`
	LineItemID     uuid.UUID `json:"lineItemId"`
	VariantID      uuid.UUID `json:"variantId"`
	Qty            int       `json:"qty"`
	UnitPriceCents int64     `json:"unitPriceCents"`
	Currency       string    `json:"currency"`
}

type OrderStateChangedEvent struct {
	OrderID     uuid.UUID `json:"orderId"`
	Number      string    `json:"number"`
	FromState   string    `json:"fromState"`
	ToState     string    `json:"toState"`
	TriggeredBy string    `json:"triggeredBy"`
}

type OrderCompletedEvent struct {
	OrderID              uuid.UUID `json:"orderId"`
	Number               string    `json:"number"`
	Email                string    `json:"email"`
	Currency             string    `json:"currency"`
	ItemTotalCents       int64     `json:"itemTotalCents"`
	ShipmentTotalCents   int64     `json:"shipmentTotalCents"`
	AdjustmentTotalCents int64     `json:"adjustmentTotalCents"`
	GrandTotalCents      int64     `json:"grandTotalCents"`
	CompletedAt          time.Time `json:"completedAt"`
}

type OrderCanceledEvent struct {
	OrderID     uuid.UUID `json:"orderId"`
	Number      string    `json:"number"`
	FromState   string    `json:"fromState"`
	TriggeredBy string    `json:"triggeredBy"`
	Reason      string    `json:"reason,omitempty"`
}

type CartExpiredEvent struct {
	OrderID   uuid.UUID `json:"orderId"`
	Number    string    `json:"number"`
	ExpiredAt time.Time `json:"expiredAt"`
}

type PromotionAppliedEvent struct {
	OrderID       uuid.UUID `json:"orderId"`
	PromotionID   uuid.UUID `json:"promotionId"`
	Code          string    `json:"code,omitempty"`
	DiscountCents int64     `json:"discountCents"`
}

type PaymentStatusEvent struct {
	PaymentID   uuid.UUID `json:"paymentId"`
	OrderID     uuid.UUID `json:"orderId"`
	State       string    `json:"state"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	ProviderRef *string   `json:"providerRef,omitempty"`
	ErrorCode   *string   `json:"errorCode,omitempty"`
}

type PaymentRefundedEvent struct {
	PaymentID     uuid.UUID `json:"paymentId"`
	OrderID       uuid.UUID `json:"orderId"`
	AmountCents   int64     `json:"amountCents"`
	RefundedCents int64     `json:"refundedCents"`
	Currency      string    `json:"currency"`
	Partial       bool      `json:"partial"`
}

type ShipmentStatusEvent struct {
	ShipmentID     uuid.UUID  `json:"shipmentId"`
	OrderID        uuid.UUID  `json:"orderId"`
	Number         string     `json:"number"`
	State          string     `json:"state"`
	TrackingNumber *string    `json:"trackingNumber,omitempty"`
	OccurredAt     *time.Time `json:"occurredAt,omitempty"`
}

type StockMovedEvent struct {
	StockItemID     uuid.UUID  `json:"stockItemId"`
	VariantID       uuid.UUID  `json:"variantId"`
	StockLocationID uuid.UUID  `json:"stockLocationId"`
	Quantity        int        `json:"quantity"`
	Action          string     `json:"action"`
	OriginatorType  string     `json:"originatorType"`
	OriginatorID    *uuid.UUID `json:"originatorId,omitempty"`
}
