package promotions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/mercatto/commerce-core/pkg/db"
	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
	"github.com/mercatto/commerce-core/pkg/logger"
)

// Stable reason identifiers surfaced to API clients.
const (
	ReasonNotFound          = "Promotion.NotFound"
	ReasonNotEligible       = "Promotion.NotEligible"
	ReasonUsageLimitReached = "Promotion.UsageLimitReached"
	ReasonInvalidDefinition = "Promotion.InvalidDefinition"
)

// CreateInput carries a full promotion definition.
type CreateInput struct {
	Name             string
	Code             *string
	Description      string
	Currency         enums.Currency
	MinOrderCents    *int64
	MaxDiscountCents *int64
	StartsAt         *time.Time
	ExpiresAt        *time.Time
	UsageLimit       *int
	Action           models.PromotionAction
	Rules            []models.PromotionRule
}

// Service exposes promotion management plus the hooks the order pipeline uses.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Promotion, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Promotion, error)
	List(ctx context.Context, includeInactive bool) ([]models.Promotion, error)
	Deactivate(ctx context.Context, id uuid.UUID) error

	// LookupByCode validates a coupon exists and still accepts usages.
	LookupByCode(ctx context.Context, tx *gorm.DB, code string) (*models.Promotion, error)

	// SyncAdjustmentsTx recomputes the applicable promotions for the order and
	// replaces promotion adjustments idempotently by natural key
	// (target_id, promotion_id, action_kind). Returns the outcome, or nil when
	// nothing applies.
	SyncAdjustmentsTx(ctx context.Context, tx *gorm.DB, order *models.Order, lines []models.LineItem) (*Outcome, error)

	// ExplainIneligibilityTx names the first check blocking the promotion for
	// this order, or "" when it would apply.
	ExplainIneligibilityTx(ctx context.Context, tx *gorm.DB, order *models.Order, lines []models.LineItem, promotion *models.Promotion) (string, error)

	// RemoveAdjustmentsTx drops every promotion adjustment from the order.
	RemoveAdjustmentsTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error

	// CommitUsageForOrderTx burns one usage of every promotion holding an
	// adjustment on the order. Runs at order completion.
	CommitUsageForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error

	// RollbackUsageForOrderTx returns those usages when a completed order is
	// canceled.
	RollbackUsageForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

type service struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
}

// NewService builds the promotions service with the required dependencies.
func NewService(repo Repository, tx txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("promotions repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tx: tx, logg: logg}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Promotion, error) {
	if input.Name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promotion name required")
	}
	if !input.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid currency")
	}
	if err := validateAction(input.Action); err != nil {
		return nil, err
	}
	for _, rule := range input.Rules {
		if !rule.Kind.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid rule kind").
				WithReason(ReasonInvalidDefinition).
				WithDetail("kind", string(rule.Kind))
		}
	}
	if input.StartsAt != nil && input.ExpiresAt != nil && !input.StartsAt.Before(*input.ExpiresAt) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "starts_at must precede expires_at").
			WithReason(ReasonInvalidDefinition)
	}

	promotion := &models.Promotion{
		Name:             input.Name,
		Code:             input.Code,
		Description:      input.Description,
		Currency:         input.Currency,
		MinOrderCents:    input.MinOrderCents,
		MaxDiscountCents: input.MaxDiscountCents,
		StartsAt:         input.StartsAt,
		ExpiresAt:        input.ExpiresAt,
		UsageLimit:       input.UsageLimit,
		Active:           true,
		RequiresCode:     input.Code != nil,
		Action:           &input.Action,
		Rules:            input.Rules,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Create(ctx, promotion)
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_promotions_code") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "promotion code already in use")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create promotion")
	}
	return promotion, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Promotion, error) {
	promotion, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "promotion not found").WithReason(ReasonNotFound)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promotion")
	}
	return promotion, nil
}

func (s *service) List(ctx context.Context, includeInactive bool) ([]models.Promotion, error) {
	rows, err := s.repo.List(ctx, includeInactive, 0)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list promotions")
	}
	return rows, nil
}

func (s *service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			promotion, err := repo.FindByID(ctx, id)
			if err != nil {
				if err == gorm.ErrRecordNotFound {
					return pkgerrors.New(pkgerrors.CodeNotFound, "promotion not found").WithReason(ReasonNotFound)
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promotion")
			}
			if !promotion.Active {
				return nil
			}
			return repo.Update(ctx, promotion.ID, promotion.LockVersion, map[string]any{"active": false})
		})
	})
}

func (s *service) LookupByCode(ctx context.Context, tx *gorm.DB, code string) (*models.Promotion, error) {
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code required")
	}
	promotion, err := s.repo.WithTx(tx).FindByCode(ctx, code)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found").WithReason(ReasonNotFound)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
	}
	if !promotion.Active {
		return nil, pkgerrors.New(pkgerrors.CodeBusinessRule, "coupon is inactive").WithReason(ReasonNotEligible)
	}
	if promotion.UsageLimit != nil && promotion.UsageCount >= *promotion.UsageLimit {
		return nil, pkgerrors.New(pkgerrors.CodeBusinessRule, "coupon usage limit reached").WithReason(ReasonUsageLimitReached)
	}
	return promotion, nil
}

func (s *service) SyncAdjustmentsTx(ctx context.Context, tx *gorm.DB, order *models.Order, lines []models.LineItem) (*Outcome, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)

	octx, err := s.buildContext(ctx, repo, order, lines)
	if err != nil {
		return nil, err
	}

	candidates, err := s.loadCandidates(ctx, repo, order)
	if err != nil {
		return nil, err
	}

	outcome := Compute(candidates, octx)
	if err := s.replaceAdjustments(ctx, repo, order.ID, outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *service) ExplainIneligibilityTx(ctx context.Context, tx *gorm.DB, order *models.Order, lines []models.LineItem, promotion *models.Promotion) (string, error) {
	if tx == nil {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	octx, err := s.buildContext(ctx, s.repo.WithTx(tx), order, lines)
	if err != nil {
		return "", err
	}
	return FirstFailure(promotion, octx), nil
}

func (s *service) RemoveAdjustmentsTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	existing, err := repo.FindPromotionAdjustments(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promotion adjustments")
	}
	for _, adj := range existing {
		if err := repo.DeleteAdjustment(ctx, adj.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete promotion adjustment")
		}
	}
	return nil
}

func (s *service) CommitUsageForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	ids, err := s.appliedPromotionIDs(ctx, repo, orderID)
	if err != nil {
		return err
	}
	for _, promotionID := range ids {
		promotion, err := repo.FindByID(ctx, promotionID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "promotion not found").WithReason(ReasonNotFound)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promotion")
		}
		if promotion.UsageLimit != nil && promotion.UsageCount >= *promotion.UsageLimit {
			return pkgerrors.New(pkgerrors.CodeBusinessRule, "coupon usage limit reached").WithReason(ReasonUsageLimitReached)
		}
		if err := repo.IncrementUsage(ctx, promotion); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) RollbackUsageForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	ids, err := s.appliedPromotionIDs(ctx, repo, orderID)
	if err != nil {
		return err
	}
	for _, promotionID := range ids {
		promotion, err := repo.FindByID(ctx, promotionID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "promotion not found").WithReason(ReasonNotFound)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promotion")
		}
		if err := repo.DecrementUsage(ctx, promotion); err != nil {
			return err
		}
	}
	return nil
}

// appliedPromotionIDs lists the distinct promotions holding adjustments on the
// order, in adjustment order.
func (s *service) appliedPromotionIDs(ctx context.Context, repo Repository, orderID uuid.UUID) ([]uuid.UUID, error) {
	adjustments, err := repo.FindPromotionAdjustments(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promotion adjustments")
	}
	seen := make(map[uuid.UUID]bool, len(adjustments))
	ids := make([]uuid.UUID, 0, len(adjustments))
	for _, adj := range adjustments {
		if adj.PromotionID == nil || seen[*adj.PromotionID] {
			continue
		}
		seen[*adj.PromotionID] = true
		ids = append(ids, *adj.PromotionID)
	}
	return ids, nil
}

func (s *service) buildContext(ctx context.Context, repo Repository, order *models.Order, lines []models.LineItem) (OrderContext, error) {
	variantIDs := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		variantIDs = append(variantIDs, line.VariantID)
	}
	taxons, err := repo.TaxonIDsByVariant(ctx, variantIDs)
	if err != nil {
		return OrderContext{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variant taxons")
	}

	firstOrder := false
	if order.UserID != nil {
		completed, err := repo.CountCompletedOrders(ctx, *order.UserID)
		if err != nil {
			return OrderContext{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count completed orders")
		}
		firstOrder = completed == 0
	}

	return OrderContext{
		Order:           order,
		Lines:           lines,
		TaxonsByVariant: taxons,
		IsFirstOrder:    firstOrder,
		Now:             time.Now(),
	}, nil
}

func (s *service) loadCandidates(ctx context.Context, repo Repository, order *models.Order) ([]models.Promotion, error) {
	candidates, err := repo.FindAutomatic(ctx, order.Currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load automatic promotions")
	}
	if order.PromoCode != nil {
		coded, err := repo.FindByCode(ctx, *order.PromoCode)
		if err != nil {
			if err != gorm.ErrRecordNotFound {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon promotion")
			}
		} else {
			candidates = append(candidates, *coded)
		}
	}
	return candidates, nil
}

type naturalKey struct {
	targetID    uuid.UUID
	promotionID uuid.UUID
	actionKind  enums.PromotionActionKind
}

// replaceAdjustments diffs existing promotion adjustments against the computed
// set: matching natural keys update in place, stale rows delete, new rows
// insert. Re-running with unchanged inputs is a no-op.
func (s *service) replaceAdjustments(ctx context.Context, repo Repository, orderID uuid.UUID, outcome *Outcome) error {
	existing, err := repo.FindPromotionAdjustments(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promotion adjustments")
	}
	byKey := make(map[naturalKey]models.Adjustment, len(existing))
	for _, adj := range existing {
		if adj.PromotionID == nil {
			continue
		}
		byKey[naturalKey{adj.TargetID, *adj.PromotionID, adj.ActionKind}] = adj
	}

	if outcome != nil {
		for _, computed := range outcome.Adjustments {
			promotionID := computed.PromotionID
			key := naturalKey{computed.TargetID, promotionID, computed.ActionKind}
			if current, ok := byKey[key]; ok {
				delete(byKey, key)
				if current.AmountCents == computed.AmountCents && current.Description == computed.Description {
					continue
				}
				if err := repo.UpdateAdjustmentAmount(ctx, current.ID, computed.AmountCents, computed.Description); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update promotion adjustment")
				}
				continue
			}
			row := &models.Adjustment{
				OrderID:     orderID,
				Target:      computed.Target,
				TargetID:    computed.TargetID,
				AmountCents: computed.AmountCents,
				Description: computed.Description,
				PromotionID: &promotionID,
				ActionKind:  computed.ActionKind,
				IsPromotion: true,
			}
			if err := repo.CreateAdjustment(ctx, row); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create promotion adjustment")
			}
		}
	}

	for _, stale := range byKey {
		if err := repo.DeleteAdjustment(ctx, stale.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete stale adjustment")
		}
	}
	return nil
}

func validateAction(action models.PromotionAction) error {
	if !action.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid action kind").WithReason(ReasonInvalidDefinition)
	}
	switch action.Kind {
	case enums.ActionOrderPercentDiscount, enums.ActionLineItemPercentDiscount:
		if action.PercentBps == nil || *action.PercentBps <= 0 || *action.PercentBps > percentDenominatorBps {
			return pkgerrors.New(pkgerrors.CodeValidation, "percent_bps must be within (0, 10000]").
				WithReason(ReasonInvalidDefinition)
		}
	case enums.ActionOrderFlatDiscount:
		if action.AmountCents == nil || *action.AmountCents <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "amount_cents must be positive").
				WithReason(ReasonInvalidDefinition)
		}
	}
	return nil
}
