package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LineItem is a quantity-priced entry referring to one variant. UnitPriceCents
// is snapshotted at add time and frozen once the order completes.
type LineItem struct {
	ID             uuid.UUID    `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID    `gorm:"column:order_id;type:uuid;not null;index"`
	VariantID      uuid.UUID    `gorm:"column:variant_id;type:uuid;not null;index"`
	Qty            int          `gorm:"column:qty;not null"`
	UnitPriceCents int64        `gorm:"column:unit_price_cents;not null"`
	TotalCents     int64        `gorm:"column:total_cents;not null;default:0"`
	WeightGrams    int          `gorm:"column:weight_grams;not null;default:0"`
	CreatedAt      time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *LineItem) BeforeCreate(_ *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// SubtotalCents is the line total before line-level adjustments.
func (l LineItem) SubtotalCents() int64 {
	return l.UnitPriceCents * int64(l.Qty)
}
