package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/internal/repo"
	dbpkg "github.com/mercatto/commerce-core/pkg/db"
	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
)

type gormRepository struct {
	base repo.Base
}

// NewRepository builds the orders repository on the shared base.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{base: repo.NewBase(db)}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{base: repo.NewBase(tx)}
}

func (r *gormRepository) Create(ctx context.Context, order *models.Order) error {
	return r.base.DB(ctx).Create(order).Error
}

func (r *gormRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.base.DB(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) FindByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	if err := r.base.DB(ctx).Where("number = ?", number).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) FindCartByUser(ctx context.Context, userID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.base.DB(ctx).
		Where("user_id = ? AND state = ?", userID, enums.OrderStateCart).
		Order("updated_at DESC").
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Order
	err := r.base.DB(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) FindStaleCarts(ctx context.Context, cutoffUnix int64, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Unix(cutoffUnix, 0)
	var rows []models.Order
	err := r.base.DB(ctx).
		Where("state = ? AND updated_at < ?", enums.OrderStateCart, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) Update(ctx context.Context, order *models.Order, updates map[string]any) error {
	return dbpkg.OptimisticUpdate(r.base.DB(ctx), &models.Order{}, order.ID, order.LockVersion, updates)
}

func (r *gormRepository) FindLineItems(ctx context.Context, orderID uuid.UUID) ([]models.LineItem, error) {
	var rows []models.LineItem
	err := r.base.DB(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) FindLineItem(ctx context.Context, id uuid.UUID) (*models.LineItem, error) {
	var item models.LineItem
	if err := r.base.DB(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *gormRepository) FindLineItemByVariant(ctx context.Context, orderID, variantID uuid.UUID) (*models.LineItem, error) {
	var item models.LineItem
	err := r.base.DB(ctx).
		Where("order_id = ? AND variant_id = ?", orderID, variantID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *gormRepository) CreateLineItem(ctx context.Context, item *models.LineItem) error {
	return r.base.DB(ctx).Create(item).Error
}

func (r *gormRepository) UpdateLineItem(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.base.DB(ctx).Model(&models.LineItem{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *gormRepository) DeleteLineItem(ctx context.Context, id uuid.UUID) error {
	return r.base.DB(ctx).Delete(&models.LineItem{}, "id = ?", id).Error
}

func (r *gormRepository) MoveLineItems(ctx context.Context, fromOrderID, toOrderID uuid.UUID) error {
	return r.base.DB(ctx).Model(&models.LineItem{}).
		Where("order_id = ?", fromOrderID).
		Update("order_id", toOrderID).Error
}

func (r *gormRepository) FindAdjustments(ctx context.Context, orderID uuid.UUID) ([]models.Adjustment, error) {
	var rows []models.Adjustment
	err := r.base.DB(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) CreateHistory(ctx context.Context, history *models.OrderHistory) error {
	return r.base.DB(ctx).Create(history).Error
}

func (r *gormRepository) FindHistories(ctx context.Context, orderID uuid.UUID) ([]models.OrderHistory, error) {
	var rows []models.OrderHistory
	err := r.base.DB(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) FindVariant(ctx context.Context, variantID uuid.UUID) (*models.Variant, error) {
	var variant models.Variant
	if err := r.base.DB(ctx).First(&variant, "id = ?", variantID).Error; err != nil {
		return nil, err
	}
	return &variant, nil
}

func (r *gormRepository) FindPrice(ctx context.Context, variantID uuid.UUID, currency enums.Currency) (*models.VariantPrice, error) {
	var price models.VariantPrice
	err := r.base.DB(ctx).
		Where("variant_id = ? AND currency = ?", variantID, currency).
		First(&price).Error
	if err != nil {
		return nil, err
	}
	return &price, nil
}
