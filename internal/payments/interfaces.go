package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	"github.com/mercatto/commerce-core/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// orderAdvancer lets the reconciler re-enter the checkout machine after a
// payment reaches sufficiency.
type orderAdvancer interface {
	AdvanceTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor outbox.ActorRef) error
}

// dedupeStore marks provider webhook event ids so redeliveries are dropped.
type dedupeStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookDedupeKey(provider, eventID string) string
}

// credentialOpener decrypts sealed gateway blobs at dispatch time.
type credentialOpener interface {
	Open(sealed []byte) ([]byte, error)
}

// Repository defines persistence operations for payments and their gateway
// configuration.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByProviderRef(ctx context.Context, providerRef string) (*models.Payment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	Update(ctx context.Context, payment *models.Payment, updates map[string]any) error

	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindMethod(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error)
	FindActiveMethodByType(ctx context.Context, methodType enums.PaymentMethodType) (*models.PaymentMethod, error)
	FindGatewayConfiguration(ctx context.Context, id uuid.UUID) (*models.GatewayConfiguration, error)
}
