package shipments

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

// NewRepository builds the shipments repository on the shared base.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{base: repo.NewBase(db)}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{base: repo.NewBase(tx)}
}

func (r *gormRepository) Create(ctx context.Context, shipment *models.Shipment) error {
	return r.base.DB(ctx).Create(shipment).Error
}

func (r *gormRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	if err := r.base.DB(ctx).First(&shipment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *gormRepository) FindByNumber(ctx context.Context, number string) (*models.Shipment, error) {
	var shipment models.Shipment
	if err := r.base.DB(ctx).Where("number = ?", number).First(&shipment).Error; err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *gormRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error) {
	var rows []models.Shipment
	err := r.base.DB(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) Update(ctx context.Context, shipment *models.Shipment, updates map[string]any) error {
	return dbpkg.OptimisticUpdate(r.base.DB(ctx), &models.Shipment{}, shipment.ID, shipment.LockVersion, updates)
}

func (r *gormRepository) CreateUnit(ctx context.Context, unit *models.InventoryUnit) error {
	return r.base.DB(ctx).Create(unit).Error
}

func (r *gormRepository) UnitsByShipment(ctx context.Context, shipmentID uuid.UUID) ([]models.InventoryUnit, error) {
	var rows []models.InventoryUnit
	err := r.base.DB(ctx).
		Where("shipment_id = ?", shipmentID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) UpdateUnitStates(ctx context.Context, shipmentID uuid.UUID, from, to enums.InventoryUnitState) (int64, error) {
	result := r.base.DB(ctx).Model(&models.InventoryUnit{}).
		Where("shipment_id = ? AND state = ?", shipmentID, from).
		Updates(map[string]any{
			"state":            to,
			"state_changed_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}
