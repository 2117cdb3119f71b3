package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/enums"
	"github.com/mercatto/commerce-core/pkg/types"
)

// Order is the aggregate root of the checkout state machine. Totals are minor
// units in the order currency; grand_total_cents = item + shipment + adjustment.
type Order struct {
	ID                  uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Number              string           `gorm:"column:number;not null;uniqueIndex"`
	UserID              *uuid.UUID       `gorm:"column:user_id;type:uuid;index"`
	AdhocCustomerID     *string          `gorm:"column:adhoc_customer_id;index"`
	State               enums.OrderState `gorm:"column:state;type:text;not null;default:'cart'"`
	Currency            enums.Currency   `gorm:"column:currency;type:text;not null;default:'USD'"`
	ItemTotalCents      int64            `gorm:"column:item_total_cents;not null;default:0"`
	ShipmentTotalCents  int64            `gorm:"column:shipment_total_cents;not null;default:0"`
	AdjustmentTotalCents int64           `gorm:"column:adjustment_total_cents;not null;default:0"`
	GrandTotalCents     int64            `gorm:"column:grand_total_cents;not null;default:0"`
	Email               *string          `gorm:"column:email"`
	SpecialInstructions *string          `gorm:"column:special_instructions"`
	ShippingMethod      *string          `gorm:"column:shipping_method"`
	PromotionID         *uuid.UUID       `gorm:"column:promotion_id;type:uuid"`
	PromoCode           *string          `gorm:"column:promo_code"`
	ShippingAddress     *types.Address   `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	CompletedAt         *time.Time       `gorm:"column:completed_at"`
	CanceledAt          *time.Time       `gorm:"column:canceled_at"`
	LockVersion         int64            `gorm:"column:lock_version;not null;default:0"`
	LineItems           []LineItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Adjustments         []Adjustment     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Shipments           []Shipment       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payments            []Payment        `gorm:"foreignKey:OrderID"`
	Histories           []OrderHistory   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt           time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(_ *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
