package promotions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Repository defines persistence operations for promotions and adjustments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, promotion *models.Promotion) error
	Update(ctx context.Context, id uuid.UUID, lockVersion int64, updates map[string]any) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error)
	FindByCode(ctx context.Context, code string) (*models.Promotion, error)
	FindAutomatic(ctx context.Context, currency enums.Currency) ([]models.Promotion, error)
	List(ctx context.Context, includeInactive bool, limit int) ([]models.Promotion, error)
	IncrementUsage(ctx context.Context, promotion *models.Promotion) error
	DecrementUsage(ctx context.Context, promotion *models.Promotion) error

	FindPromotionAdjustments(ctx context.Context, orderID uuid.UUID) ([]models.Adjustment, error)
	CreateAdjustment(ctx context.Context, adjustment *models.Adjustment) error
	DeleteAdjustment(ctx context.Context, id uuid.UUID) error
	UpdateAdjustmentAmount(ctx context.Context, id uuid.UUID, amountCents int64, description string) error

	TaxonIDsByVariant(ctx context.Context, variantIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error)
	CountCompletedOrders(ctx context.Context, userID uuid.UUID) (int64, error)
}
