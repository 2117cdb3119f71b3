package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/enums"
	"github.com/mercatto/commerce-core/pkg/types"
)

// Payment is an authorized or captured monetary claim against an order.
// WebhookSequence records the newest provider event applied so stale webhooks
// are ignored.
type Payment struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID               `gorm:"column:order_id;type:uuid;not null;index"`
	AmountCents       int64                   `gorm:"column:amount_cents;not null"`
	Currency          enums.Currency          `gorm:"column:currency;type:text;not null"`
	State             enums.PaymentState      `gorm:"column:state;type:text;not null;default:'pending'"`
	PaymentMethodID   uuid.UUID               `gorm:"column:payment_method_id;type:uuid;not null"`
	PaymentMethodType enums.PaymentMethodType `gorm:"column:payment_method_type;type:text;not null"`
	ProviderRef       *string                 `gorm:"column:provider_ref;index"`
	AuthCode          *string                 `gorm:"column:auth_code"`
	GatewayErrorCode  *string                 `gorm:"column:gateway_error_code"`
	FailureReason     *string                 `gorm:"column:failure_reason"`
	IdempotencyKey    *string                 `gorm:"column:idempotency_key;uniqueIndex"`
	AttemptCount      int                     `gorm:"column:attempt_count;not null;default:0"`
	RefundedCents     int64                   `gorm:"column:refunded_cents;not null;default:0"`
	WebhookSequence   int64                   `gorm:"column:webhook_sequence;not null;default:0"`
	Aux               *types.JSONMap          `gorm:"column:aux;type:jsonb;serializer:json"`
	AuthorizedAt      *time.Time              `gorm:"column:authorized_at"`
	CapturedAt        *time.Time              `gorm:"column:captured_at"`
	VoidedAt          *time.Time              `gorm:"column:voided_at"`
	LockVersion       int64                   `gorm:"column:lock_version;not null;default:0"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// NetCapturedCents is the captured amount remaining after refunds.
func (p Payment) NetCapturedCents() int64 {
	if p.State != enums.PaymentStateCompleted && p.State != enums.PaymentStateRefunded {
		return 0
	}
	return p.AmountCents - p.RefundedCents
}

// PaymentMethod is gateway configuration selected per payment.
type PaymentMethod struct {
	ID                     uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	Type                   enums.PaymentMethodType `gorm:"column:type;type:text;not null"`
	Name                   string                  `gorm:"column:name;not null"`
	Active                 bool                    `gorm:"column:active;not null;default:true"`
	AutoCapture            bool                    `gorm:"column:auto_capture;not null;default:false"`
	GatewayConfigurationID *uuid.UUID              `gorm:"column:gateway_configuration_id;type:uuid"`
	CreatedAt              time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (m *PaymentMethod) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// GatewayConfiguration stores the encrypted credential blob for a gateway.
// The orchestrator decrypts it only at dispatch time; plaintext secrets never
// reach the event bus or the order aggregate.
type GatewayConfiguration struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name           string    `gorm:"column:name;not null;uniqueIndex"`
	SealedSecrets  []byte    `gorm:"column:sealed_secrets;not null"`
	WebhookSecret  []byte    `gorm:"column:webhook_secret"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (g *GatewayConfiguration) BeforeCreate(_ *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}
