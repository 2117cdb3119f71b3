package enums

import "fmt"

// StockMovementAction classifies an append-only stock movement.
type StockMovementAction string

const (
	StockMovementAdjust   StockMovementAction = "adjust"
	StockMovementReserve  StockMovementAction = "reserve"
	StockMovementRelease  StockMovementAction = "release"
	StockMovementTransfer StockMovementAction = "transfer"
	StockMovementReceive  StockMovementAction = "receive"
)

var validStockMovementActions = []StockMovementAction{
	StockMovementAdjust,
	StockMovementReserve,
	StockMovementRelease,
	StockMovementTransfer,
	StockMovementReceive,
}

// String implements fmt.Stringer.
func (a StockMovementAction) String() string {
	return string(a)
}

// IsValid reports whether the value is a known StockMovementAction.
func (a StockMovementAction) IsValid() bool {
	for _, candidate := range validStockMovementActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// AffectsOnHand reports whether movements of this action change on-hand counts
// (as opposed to the reserved counter).
func (a StockMovementAction) AffectsOnHand() bool {
	switch a {
	case StockMovementAdjust, StockMovementTransfer, StockMovementReceive:
		return true
	default:
		return false
	}
}

// ParseStockMovementAction converts raw input into a StockMovementAction.
func ParseStockMovementAction(value string) (StockMovementAction, error) {
	for _, candidate := range validStockMovementActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock movement action %q", value)
}

// StockOriginatorType identifies what initiated a stock movement.
type StockOriginatorType string

const (
	StockOriginatorOrder    StockOriginatorType = "order"
	StockOriginatorShipment StockOriginatorType = "shipment"
	StockOriginatorTransfer StockOriginatorType = "transfer"
	StockOriginatorManual   StockOriginatorType = "manual"
)

var validStockOriginatorTypes = []StockOriginatorType{
	StockOriginatorOrder,
	StockOriginatorShipment,
	StockOriginatorTransfer,
	StockOriginatorManual,
}

// IsValid reports whether the value is a known StockOriginatorType.
func (o StockOriginatorType) IsValid() bool {
	for _, candidate := range validStockOriginatorTypes {
		if candidate == o {
			return true
		}
	}
	return false
}
