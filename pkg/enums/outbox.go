package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder     OutboxAggregateType = "order"
	AggregatePayment   OutboxAggregateType = "payment"
	AggregateShipment  OutboxAggregateType = "shipment"
	AggregateStockItem OutboxAggregateType = "stock_item"
	AggregatePromotion OutboxAggregateType = "promotion"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
	AggregateShipment,
	AggregateStockItem,
	AggregatePromotion,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventLineItemAdded     OutboxEventType = "line_item_added"
	EventLineItemRemoved   OutboxEventType = "line_item_removed"
	EventOrderStateChanged OutboxEventType = "order_state_changed"
	EventOrderCompleted    OutboxEventType = "order_completed"
	EventOrderCanceled     OutboxEventType = "order_canceled"
	EventCartExpired       OutboxEventType = "cart_expired"
	EventPromotionApplied  OutboxEventType = "promotion_applied"
	EventPaymentAuthorized OutboxEventType = "payment_authorized"
	EventPaymentCaptured   OutboxEventType = "payment_captured"
	EventPaymentFailed     OutboxEventType = "payment_failed"
	EventPaymentRefunded   OutboxEventType = "payment_refunded"
	EventShipmentReady     OutboxEventType = "shipment_ready"
	EventShipmentShipped   OutboxEventType = "shipment_shipped"
	EventShipmentDelivered OutboxEventType = "shipment_delivered"
	EventStockMoved        OutboxEventType = "stock_moved"
)

var validOutboxEventTypes = []OutboxEventType{
	EventLineItemAdded,
	EventLineItemRemoved,
	EventOrderStateChanged,
	EventOrderCompleted,
	EventOrderCanceled,
	EventCartExpired,
	EventPromotionApplied,
	EventPaymentAuthorized,
	EventPaymentCaptured,
	EventPaymentFailed,
	EventPaymentRefunded,
	EventShipmentReady,
	EventShipmentShipped,
	EventShipmentDelivered,
	EventStockMoved,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// OutboxDLQErrorReason classifies why an event landed in the dead letter queue.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
)

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
