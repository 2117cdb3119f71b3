package promotions

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

// NewRepository builds the promotions repository on the shared base.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{base: repo.NewBase(db)}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{base: repo.NewBase(tx)}
}

func (r *gormRepository) Create(ctx context.Context, promotion *models.Promotion) error {
	return r.base.DB(ctx).Create(promotion).Error
}

func (r *gormRepository) Update(ctx context.Context, id uuid.UUID, lockVersion int64, updates map[string]any) error {
	return dbpkg.OptimisticUpdate(r.base.DB(ctx), &models.Promotion{}, id, lockVersion, updates)
}

func (r *gormRepository) preloaded(ctx context.Context) *gorm.DB {
	return r.base.DB(ctx).
		Preload("Action").
		Preload("Action.FilterTaxonIDs").
		Preload("Rules").
		Preload("Rules.Taxons").
		Preload("Rules.Users").
		Preload("Rules.VariantIDs")
}

func (r *gormRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error) {
	var promotion models.Promotion
	if err := r.preloaded(ctx).First(&promotion, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &promotion, nil
}

func (r *gormRepository) FindByCode(ctx context.Context, code string) (*models.Promotion, error) {
	var promotion models.Promotion
	if err := r.preloaded(ctx).Where("LOWER(code) = LOWER(?)", code).First(&promotion).Error; err != nil {
		return nil, err
	}
	return &promotion, nil
}

func (r *gormRepository) FindAutomatic(ctx context.Context, currency enums.Currency) ([]models.Promotion, error) {
	var rows []models.Promotion
	err := r.preloaded(ctx).
		Where("active = ? AND requires_code = ? AND currency = ?", true, false, currency).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) List(ctx context.Context, includeInactive bool, limit int) ([]models.Promotion, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.preloaded(ctx)
	if !includeInactive {
		query = query.Where("active = ?", true)
	}
	var rows []models.Promotion
	err := query.Order("created_at ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *gormRepository) IncrementUsage(ctx context.Context, promotion *models.Promotion) error {
	return dbpkg.OptimisticUpdate(r.base.DB(ctx), &models.Promotion{}, promotion.ID, promotion.LockVersion, map[string]any{
		"usage_count": promotion.UsageCount + 1,
	})
}

func (r *gormRepository) DecrementUsage(ctx context.Context, promotion *models.Promotion) error {
	next := promotion.UsageCount - 1
	if next < 0 {
		next = 0
	}
	return dbpkg.OptimisticUpdate(r.base.DB(ctx), &models.Promotion{}, promotion.ID, promotion.LockVersion, map[string]any{
		"usage_count": next,
	})
}

func (r *gormRepository) FindPromotionAdjustments(ctx context.Context, orderID uuid.UUID) ([]models.Adjustment, error) {
	var rows []models.Adjustment
	err := r.base.DB(ctx).
		Where("order_id = ? AND is_promotion = ?", orderID, true).
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) CreateAdjustment(ctx context.Context, adjustment *models.Adjustment) error {
	return r.base.DB(ctx).Create(adjustment).Error
}

func (r *gormRepository) DeleteAdjustment(ctx context.Context, id uuid.UUID) error {
	return r.base.DB(ctx).Delete(&models.Adjustment{}, "id = ?", id).Error
}

func (r *gormRepository) UpdateAdjustmentAmount(ctx context.Context, id uuid.UUID, amountCents int64, description string) error {
	return r.base.DB(ctx).Model(&models.Adjustment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"amount_cents": amountCents,
			"description":  description,
		}).Error
}

// TaxonIDsByVariant maps each variant to its taxons plus every ancestor in
// the taxonomy, so rules naming a parent taxon match variants classified
// under its children.
func (r *gormRepository) TaxonIDsByVariant(ctx context.Context, variantIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	direct := make(map[uuid.UUID][]uuid.UUID, len(variantIDs))
	if len(variantIDs) == 0 {
		return direct, nil
	}
	var rows []models.VariantTaxon
	if err := r.base.DB(ctx).Where("variant_id IN ?", variantIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	taxonIDs := make([]uuid.UUID, 0, len(rows))
	seen := make(map[uuid.UUID]bool, len(rows))
	for _, row := range rows {
		direct[row.VariantID] = append(direct[row.VariantID], row.TaxonID)
		if !seen[row.TaxonID] {
			seen[row.TaxonID] = true
			taxonIDs = append(taxonIDs, row.TaxonID)
		}
	}

	parentOf, err := r.loadTaxonParents(ctx, taxonIDs)
	if err != nil {
		return nil, err
	}
	return expandTaxonAncestors(direct, parentOf), nil
}

// loadTaxonParents walks the taxonomy upward level by level until every
// ancestor of the given taxons is known.
func (r *gormRepository) loadTaxonParents(ctx context.Context, taxonIDs []uuid.UUID) (map[uuid.UUID]*uuid.UUID, error) {
	parentOf := make(map[uuid.UUID]*uuid.UUID)
	frontier := taxonIDs
	for len(frontier) > 0 {
		var taxons []models.Taxon
		if err := r.base.DB(ctx).Select("id", "parent_id").Where("id IN ?", frontier).Find(&taxons).Error; err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, taxon := range taxons {
			parentOf[taxon.ID] = taxon.ParentID
			if taxon.ParentID != nil {
				if _, known := parentOf[*taxon.ParentID]; !known {
					frontier = append(frontier, *taxon.ParentID)
				}
			}
		}
	}
	return parentOf, nil
}

// expandTaxonAncestors widens each variant's taxon set with every ancestor
// reachable through parentOf.
func expandTaxonAncestors(direct map[uuid.UUID][]uuid.UUID, parentOf map[uuid.UUID]*uuid.UUID) map[uuid.UUID][]uuid.UUID {
	result := make(map[uuid.UUID][]uuid.UUID, len(direct))
	for variantID, taxons := range direct {
		seen := make(map[uuid.UUID]bool, len(taxons))
		expanded := make([]uuid.UUID, 0, len(taxons))
		for _, taxonID := range taxons {
			for current := &taxonID; current != nil && !seen[*current]; current = parentOf[*current] {
				seen[*current] = true
				expanded = append(expanded, *current)
			}
		}
		result[variantID] = expanded
	}
	return result
}

func (r *gormRepository) CountCompletedOrders(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.base.DB(ctx).Model(&models.Order{}).
		Where("user_id = ? AND state = ?", userID, enums.OrderStateComplete).
		Count(&count).Error
	return count, err
}
