package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/internal/repo"
	dbpkg "github.com/mercatto/commerce-core/pkg/db"
	"github.com/mercatto/commerce-core/pkg/db/models"
)

type gormRepository struct {
	base repo.Base
}

// NewRepository builds the stock repository on the shared base.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{base: repo.NewBase(db)}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{base: repo.NewBase(tx)}
}

func (r *gormRepository) FindStockItem(ctx context.Context, variantID, locationID uuid.UUID) (*models.StockItem, error) {
	var item models.StockItem
	err := r.base.DB(ctx).
		Where("variant_id = ? AND stock_location_id = ?", variantID, locationID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *gormRepository) FindStockItemByID(ctx context.Context, id uuid.UUID) (*models.StockItem, error) {
	var item models.StockItem
	if err := r.base.DB(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *gormRepository) FindStockItemsByVariant(ctx context.Context, variantID uuid.UUID) ([]models.StockItem, error) {
	var items []models.StockItem
	err := r.base.DB(ctx).
		Where("variant_id = ?", variantID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

func (r *gormRepository) ListActiveLocations(ctx context.Context) ([]models.StockLocation, error) {
	var locations []models.StockLocation
	err := r.base.DB(ctx).
		Where("active = ?", true).
		Order("is_default DESC").
		Order("created_at ASC").
		Find(&locations).Error
	return locations, err
}

func (r *gormRepository) FindLocation(ctx context.Context, id uuid.UUID) (*models.StockLocation, error) {
	var location models.StockLocation
	if err := r.base.DB(ctx).First(&location, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &location, nil
}

func (r *gormRepository) CreateStockItem(ctx context.Context, item *models.StockItem) error {
	return r.base.DB(ctx).Create(item).Error
}

func (r *gormRepository) UpdateCounters(ctx context.Context, item *models.StockItem, onHand, reserved int) error {
	return dbpkg.OptimisticUpdate(r.base.DB(ctx), &models.StockItem{}, item.ID, item.LockVersion, map[string]any{
		"on_hand":  onHand,
		"reserved": reserved,
	})
}

func (r *gormRepository) CreateMovement(ctx context.Context, movement *models.StockMovement) error {
	return r.base.DB(ctx).Create(movement).Error
}

func (r *gormRepository) ListMovements(ctx context.Context, stockItemID uuid.UUID, limit int) ([]models.StockMovement, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.StockMovement
	err := r.base.DB(ctx).
		Where("stock_item_id = ?", stockItemID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
