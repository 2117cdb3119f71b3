package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/enums"
	"github.com/mercatto/commerce-core/pkg/types"
)

// OrderHistory is the append-only audit trail of order transitions.
type OrderHistory struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	FromState   enums.OrderState  `gorm:"column:from_state;type:text;not null"`
	ToState     enums.OrderState  `gorm:"column:to_state;type:text;not null"`
	Description string            `gorm:"column:description;not null"`
	TriggeredBy string            `gorm:"column:triggered_by;not null;default:'system'"`
	Context     *types.JSONMap    `gorm:"column:context;type:jsonb;serializer:json"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (h *OrderHistory) BeforeCreate(_ *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}
