package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/enums"
)

// Shipment is a delivery of inventory units from one stock location.
type Shipment struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	Number          string              `gorm:"column:number;not null;uniqueIndex"`
	State           enums.ShipmentState `gorm:"column:state;type:text;not null;default:'pending'"`
	StockLocationID uuid.UUID           `gorm:"column:stock_location_id;type:uuid;not null"`
	TrackingNumber  *string             `gorm:"column:tracking_number"`
	CostCents       int64               `gorm:"column:cost_cents;not null;default:0"`
	ShippingMethod  *string             `gorm:"column:shipping_method"`
	ReadyAt         *time.Time          `gorm:"column:ready_at"`
	ShippedAt       *time.Time          `gorm:"column:shipped_at"`
	DeliveredAt     *time.Time          `gorm:"column:delivered_at"`
	CanceledAt      *time.Time          `gorm:"column:canceled_at"`
	LockVersion     int64               `gorm:"column:lock_version;not null;default:0"`
	Units           []InventoryUnit     `gorm:"foreignKey:ShipmentID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Shipment) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// InventoryUnit ties one unit of fulfillment to a line item and (once
// allocated) a shipment. line_item.qty equals the count of its units.
type InventoryUnit struct {
	ID             uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	VariantID      uuid.UUID                `gorm:"column:variant_id;type:uuid;not null;index"`
	LineItemID     uuid.UUID                `gorm:"column:line_item_id;type:uuid;not null;index"`
	ShipmentID     *uuid.UUID               `gorm:"column:shipment_id;type:uuid;index"`
	State          enums.InventoryUnitState `gorm:"column:state;type:text;not null;default:'on_hand'"`
	StateChangedAt time.Time                `gorm:"column:state_changed_at;not null"`
	CreatedAt      time.Time                `gorm:"column:created_at;autoCreateTime"`
}

func (u *InventoryUnit) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.StateChangedAt.IsZero() {
		u.StateChangedAt = time.Now().UTC()
	}
	return nil
}
