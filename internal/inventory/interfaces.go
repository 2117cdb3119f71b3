package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Repository defines persistence operations for stock tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindStockItem(ctx context.Context, variantID, locationID uuid.UUID) (*models.StockItem, error)
	FindStockItemByID(ctx context.Context, id uuid.UUID) (*models.StockItem, error)
	FindStockItemsByVariant(ctx context.Context, variantID uuid.UUID) ([]models.StockItem, error)
	FindLocation(ctx context.Context, id uuid.UUID) (*models.StockLocation, error)
	ListActiveLocations(ctx context.Context) ([]models.StockLocation, error)
	CreateStockItem(ctx context.Context, item *models.StockItem) error
	UpdateCounters(ctx context.Context, item *models.StockItem, onHand, reserved int) error
	CreateMovement(ctx context.Context, movement *models.StockMovement) error
	ListMovements(ctx context.Context, stockItemID uuid.UUID, limit int) ([]models.StockMovement, error)
}
