package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/enums"
	"github.com/mercatto/commerce-core/pkg/types"
)

// StockLocation is a warehouse stock ships from. At most one location is the
// default.
type StockLocation struct {
	ID           uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	InternalName string         `gorm:"column:internal_name;not null;uniqueIndex"`
	Presentation string         `gorm:"column:presentation;not null"`
	Active       bool           `gorm:"column:active;not null;default:true"`
	Default      bool           `gorm:"column:is_default;not null;default:false"`
	Address      *types.Address `gorm:"column:address;type:jsonb;serializer:json"`
	LockVersion  int64          `gorm:"column:lock_version;not null;default:0"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *StockLocation) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// StockItem carries the per-(variant, location) counters. Counters are mutated
// only through stock movements within the same transaction.
type StockItem struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	VariantID       uuid.UUID `gorm:"column:variant_id;type:uuid;not null;uniqueIndex:ux_stock_items_variant_location"`
	StockLocationID uuid.UUID `gorm:"column:stock_location_id;type:uuid;not null;uniqueIndex:ux_stock_items_variant_location"`
	SKU             string    `gorm:"column:sku;not null"`
	OnHand          int       `gorm:"column:on_hand;not null;default:0"`
	Reserved        int       `gorm:"column:reserved;not null;default:0"`
	Backorderable   bool      `gorm:"column:backorderable;not null;default:false"`
	BackorderLimit  int       `gorm:"column:backorder_limit;not null;default:0"`
	LockVersion     int64     `gorm:"column:lock_version;not null;default:0"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *StockItem) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// CountAvailable is max(0, on_hand - reserved) plus the backorder window.
func (s StockItem) CountAvailable() int {
	available := s.OnHand - s.Reserved
	if available < 0 {
		available = 0
	}
	if s.Backorderable {
		available += s.BackorderLimit
	}
	return available
}

// InStock reports whether at least one unit can be promised.
func (s StockItem) InStock() bool {
	return s.CountAvailable() > 0
}

// StockMovement is the append-only record of a counter change.
type StockMovement struct {
	ID             uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	StockItemID    uuid.UUID                 `gorm:"column:stock_item_id;type:uuid;not null;index"`
	Quantity       int                       `gorm:"column:quantity;not null"`
	Action         enums.StockMovementAction `gorm:"column:action;type:text;not null"`
	OriginatorType enums.StockOriginatorType `gorm:"column:originator_type;type:text;not null"`
	OriginatorID   *uuid.UUID                `gorm:"column:originator_id;type:uuid"`
	Reason         string                    `gorm:"column:reason;not null;default:''"`
	TransferID     *uuid.UUID                `gorm:"column:transfer_id;type:uuid;index"`
	CreatedAt      time.Time                 `gorm:"column:created_at;autoCreateTime"`
}

func (m *StockMovement) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
