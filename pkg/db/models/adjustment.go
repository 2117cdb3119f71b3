package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/enums"
)

// Adjustment is a signed monetary delta against an order or a line item.
// (TargetID, PromotionID, ActionKind) is the natural key the promotion engine
// replaces on recomputation, which keeps the engine idempotent.
type Adjustment struct {
	ID          uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID                 `gorm:"column:order_id;type:uuid;not null;index"`
	Target      enums.AdjustmentTarget    `gorm:"column:target;type:text;not null"`
	TargetID    uuid.UUID                 `gorm:"column:target_id;type:uuid;not null;index"`
	AmountCents int64                     `gorm:"column:amount_cents;not null"`
	Description string                    `gorm:"column:description;not null"`
	PromotionID *uuid.UUID                `gorm:"column:promotion_id;type:uuid;index"`
	ActionKind  enums.PromotionActionKind `gorm:"column:action_kind;type:text;not null"`
	IsPromotion bool                      `gorm:"column:is_promotion;not null;default:false"`
	CreatedAt   time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Adjustment) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
