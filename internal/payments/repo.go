package payments

import (
	"context"

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

// NewRepository builds the payments repository on the shared base.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{base: repo.NewBase(db)}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{base: repo.NewBase(tx)}
}

func (r *gormRepository) Create(ctx context.Context, payment *models.Payment) error {
	return r.base.DB(ctx).Create(payment).Error
}

func (r *gormRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.base.DB(ctx).First(&payment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *gormRepository) FindByProviderRef(ctx context.Context, providerRef string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.base.DB(ctx).Where("provider_ref = ?", providerRef).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *gormRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.base.DB(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) Update(ctx context.Context, payment *models.Payment, updates map[string]any) error {
	return dbpkg.OptimisticUpdate(r.base.DB(ctx), &models.Payment{}, payment.ID, payment.LockVersion, updates)
}

func (r *gormRepository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.base.DB(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) FindMethod(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	if err := r.base.DB(ctx).First(&method, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &method, nil
}

func (r *gormRepository) FindActiveMethodByType(ctx context.Context, methodType enums.PaymentMethodType) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	err := r.base.DB(ctx).
		Where("type = ? AND active = ?", methodType, true).
		Order("created_at ASC").
		First(&method).Error
	if err != nil {
		return nil, err
	}
	return &method, nil
}

func (r *gormRepository) FindGatewayConfiguration(ctx context.Context, id uuid.UUID) (*models.GatewayConfiguration, error) {
	var cfg models.GatewayConfiguration
	if err := r.base.DB(ctx).First(&cfg, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}
