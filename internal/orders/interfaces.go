package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/internal/inventory"
	"github.com/mercatto/commerce-core/internal/promotions"
	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	"github.com/mercatto/commerce-core/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// promoEngine is the slice of the promotions service the order pipeline needs.
type promoEngine interface {
	LookupByCode(ctx context.Context, tx *gorm.DB, code string) (*models.Promotion, error)
	SyncAdjustmentsTx(ctx context.Context, tx *gorm.DB, order *models.Order, lines []models.LineItem) (*promotions.Outcome, error)
	ExplainIneligibilityTx(ctx context.Context, tx *gorm.DB, order *models.Order, lines []models.LineItem, promotion *models.Promotion) (string, error)
	RemoveAdjustmentsTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	CommitUsageForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	RollbackUsageForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

// stockReserver reserves and releases inventory inside order transactions.
type stockReserver interface {
	ReserveForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []inventory.ReservationLine) ([]inventory.LocationAllocation, error)
	ReleaseForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []inventory.ReservationLine) error
}

// paymentChecker answers the payment guards on advance, completion and
// cancellation. Covered counts authorized plus captured amounts; net captured
// subtracts refunds.
type paymentChecker interface {
	CoveredCentsTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
	CapturedCentsTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
	NetCapturedCentsTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
}

// shipmentBuilder materializes shipments and inventory units when checkout
// leaves the delivery phase, and promotes or cancels them later.
type shipmentBuilder interface {
	BuildForOrderTx(ctx context.Context, tx *gorm.DB, order *models.Order, lines []models.LineItem, allocations []inventory.LocationAllocation) (int64, error)
	PromoteForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	CancelForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error
}

// Repository defines persistence operations for order aggregates.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, number string) (*models.Order, error)
	FindCartByUser(ctx context.Context, userID uuid.UUID) (*models.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Order, error)
	FindStaleCarts(ctx context.Context, cutoff int64, limit int) ([]models.Order, error)
	Update(ctx context.Context, order *models.Order, updates map[string]any) error

	FindLineItems(ctx context.Context, orderID uuid.UUID) ([]models.LineItem, error)
	FindLineItem(ctx context.Context, id uuid.UUID) (*models.LineItem, error)
	FindLineItemByVariant(ctx context.Context, orderID, variantID uuid.UUID) (*models.LineItem, error)
	CreateLineItem(ctx context.Context, item *models.LineItem) error
	UpdateLineItem(ctx context.Context, id uuid.UUID, updates map[string]any) error
	DeleteLineItem(ctx context.Context, id uuid.UUID) error
	MoveLineItems(ctx context.Context, fromOrderID, toOrderID uuid.UUID) error

	FindAdjustments(ctx context.Context, orderID uuid.UUID) ([]models.Adjustment, error)

	CreateHistory(ctx context.Context, history *models.OrderHistory) error
	FindHistories(ctx context.Context, orderID uuid.UUID) ([]models.OrderHistory, error)

	FindVariant(ctx context.Context, variantID uuid.UUID) (*models.Variant, error)
	FindPrice(ctx context.Context, variantID uuid.UUID, currency enums.Currency) (*models.VariantPrice, error)
}
