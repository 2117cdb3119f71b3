package promotions

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	"github.com/mercatto/commerce-core/pkg/money"
)

const percentDenominatorBps = 10_000

// OrderContext carries everything eligibility and action computation need.
// Building it is the repository's job so the engine stays pure.
type OrderContext struct {
	Order           *models.Order
	Lines           []models.LineItem
	TaxonsByVariant map[uuid.UUID][]uuid.UUID
	IsFirstOrder    bool
	Now             time.Time
}

// ComputedAdjustment is one discount row an applied promotion produces.
// AmountCents is always negative.
type ComputedAdjustment struct {
	Target      enums.AdjustmentTarget
	TargetID    uuid.UUID
	PromotionID uuid.UUID
	AmountCents int64
	Description string
	ActionKind  enums.PromotionActionKind
}

// AppliedPromotion is one promotion's contribution to the outcome.
type AppliedPromotion struct {
	Promotion     *models.Promotion
	Adjustments   []ComputedAdjustment
	DiscountCents int64
}

// Outcome is the engine's verdict for one order. Applied holds every surviving
// promotion in application order; Adjustments flattens their rows in the same
// order.
type Outcome struct {
	Applied       []AppliedPromotion
	Adjustments   []ComputedAdjustment
	DiscountCents int64
}

// Primary returns the coupon-bound promotion when one applied, else the
// highest-ranked applied promotion. The order row records it as promotion_id.
func (o *Outcome) Primary() *models.Promotion {
	if o == nil || len(o.Applied) == 0 {
		return nil
	}
	for _, applied := range o.Applied {
		if applied.Promotion.RequiresCode {
			return applied.Promotion
		}
	}
	return o.Applied[0].Promotion
}

// Eligible reports whether every rule passes (AND) and the promotion window,
// usage limit and currency allow application.
func Eligible(promotion *models.Promotion, octx OrderContext) bool {
	return FirstFailure(promotion, octx) == ""
}

// FirstFailure names the first check blocking the promotion, or "" when it is
// eligible. Coupon rejections surface this identifier to the caller.
func FirstFailure(promotion *models.Promotion, octx OrderContext) string {
	if promotion == nil || !promotion.Active {
		return "inactive"
	}
	if promotion.Currency != octx.Order.Currency {
		return "currency_mismatch"
	}
	now := octx.Now
	if now.IsZero() {
		now = time.Now()
	}
	if promotion.StartsAt != nil && now.Before(*promotion.StartsAt) {
		return "not_started"
	}
	if promotion.ExpiresAt != nil && !now.Before(*promotion.ExpiresAt) {
		return "expired"
	}
	if promotion.UsageLimit != nil && promotion.UsageCount >= *promotion.UsageLimit {
		return "usage_limit_reached"
	}
	if promotion.MinOrderCents != nil && octx.Order.ItemTotalCents < *promotion.MinOrderCents {
		return "min_order_amount"
	}
	for _, rule := range promotion.Rules {
		if !rulePasses(rule, octx) {
			return string(rule.Kind)
		}
	}
	return ""
}

func rulePasses(rule models.PromotionRule, octx OrderContext) bool {
	switch rule.Kind {
	case enums.RuleUserLoggedIn:
		return octx.Order.UserID != nil
	case enums.RuleFirstOrder:
		return octx.Order.UserID != nil && octx.IsFirstOrder
	case enums.RuleMinQuantity:
		if rule.Value == nil {
			return false
		}
		total := 0
		for _, line := range octx.Lines {
			total += line.Qty
		}
		return int64(total) >= *rule.Value
	case enums.RuleMinOrderAmount:
		if rule.Value == nil {
			return false
		}
		return octx.Order.ItemTotalCents >= *rule.Value
	case enums.RuleProductInCart:
		wanted := make(map[uuid.UUID]bool, len(rule.VariantIDs))
		for _, v := range rule.VariantIDs {
			wanted[v.VariantID] = true
		}
		for _, line := range octx.Lines {
			if wanted[line.VariantID] {
				return true
			}
		}
		return false
	case enums.RuleTaxonInCart:
		wanted := make(map[uuid.UUID]bool, len(rule.Taxons))
		for _, t := range rule.Taxons {
			wanted[t.TaxonID] = true
		}
		for _, line := range octx.Lines {
			for _, taxonID := range octx.TaxonsByVariant[line.VariantID] {
				if wanted[taxonID] {
					return true
				}
			}
		}
		return false
	case enums.RuleUserAllowList:
		if octx.Order.UserID == nil {
			return false
		}
		for _, u := range rule.Users {
			if u.UserID == *octx.Order.UserID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// rank derives a promotion's application priority: coupon-bound promotions
// sort above automatic ones, flat discounts above percentage ones within a
// tier, free shipping last. Ties break on created_at ascending.
func rank(promotion *models.Promotion) int {
	value := 0
	if promotion.RequiresCode {
		value += 100
	}
	if promotion.Action != nil {
		switch promotion.Action.Kind {
		case enums.ActionOrderFlatDiscount:
			value += 10
		case enums.ActionOrderPercentDiscount, enums.ActionLineItemPercentDiscount:
			value += 5
		}
	}
	return value
}

// discountBase tracks the remaining discountable amounts as promotions apply
// in rank order. Percentage actions compute on the figure earlier flat
// discounts already reduced.
type discountBase struct {
	orderCents    int64
	lineCents     map[uuid.UUID]int64
	shipmentCents int64
}

func newDiscountBase(octx OrderContext) *discountBase {
	base := &discountBase{
		orderCents:    octx.Order.ItemTotalCents,
		lineCents:     make(map[uuid.UUID]int64, len(octx.Lines)),
		shipmentCents: octx.Order.ShipmentTotalCents,
	}
	for _, line := range octx.Lines {
		base.lineCents[line.ID] = line.SubtotalCents()
	}
	return base
}

func (b *discountBase) consume(adjustments []ComputedAdjustment) {
	for _, adj := range adjustments {
		switch {
		case adj.ActionKind == enums.ActionFreeShipping:
			b.shipmentCents = clampZero(b.shipmentCents + adj.AmountCents)
		case adj.Target == enums.AdjustmentTargetLineItem:
			b.lineCents[adj.TargetID] = clampZero(b.lineCents[adj.TargetID] + adj.AmountCents)
			b.orderCents = clampZero(b.orderCents + adj.AmountCents)
		default:
			b.orderCents = clampZero(b.orderCents + adj.AmountCents)
		}
	}
}

func clampZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// Compute applies every eligible candidate in derived-priority order and
// accumulates their adjustments, each capped at its own max_discount.
// Candidates must carry preloaded rules and action. A nil outcome means
// nothing applies.
func Compute(candidates []models.Promotion, octx OrderContext) *Outcome {
	ranked := make([]models.Promotion, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := rank(&ranked[i]), rank(&ranked[j])
		if ri != rj {
			return ri > rj
		}
		return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
	})

	base := newDiscountBase(octx)
	outcome := &Outcome{}
	for i := range ranked {
		promotion := &ranked[i]
		if !Eligible(promotion, octx) {
			continue
		}
		adjustments := applyAction(promotion, octx, base)
		if len(adjustments) == 0 {
			continue
		}
		adjustments = capDiscount(promotion, octx.Order.Currency, adjustments)
		total := int64(0)
		for _, adj := range adjustments {
			total += -adj.AmountCents
		}
		if total <= 0 {
			continue
		}
		base.consume(adjustments)
		outcome.Applied = append(outcome.Applied, AppliedPromotion{
			Promotion:     promotion,
			Adjustments:   adjustments,
			DiscountCents: total,
		})
		outcome.Adjustments = append(outcome.Adjustments, adjustments...)
		outcome.DiscountCents += total
	}
	if len(outcome.Applied) == 0 {
		return nil
	}
	return outcome
}

func applyAction(promotion *models.Promotion, octx OrderContext, base *discountBase) []ComputedAdjustment {
	action := promotion.Action
	if action == nil {
		return nil
	}
	order := octx.Order

	switch action.Kind {
	case enums.ActionOrderPercentDiscount:
		if action.PercentBps == nil || *action.PercentBps <= 0 {
			return nil
		}
		remaining := money.New(base.orderCents, order.Currency)
		discount, err := remaining.MulRat(*action.PercentBps, percentDenominatorBps)
		if err != nil || discount.Cents <= 0 {
			return nil
		}
		return []ComputedAdjustment{{
			Target:      enums.AdjustmentTargetOrder,
			TargetID:    order.ID,
			PromotionID: promotion.ID,
			AmountCents: -discount.Cents,
			Description: fmt.Sprintf("%s (%s%% off)", promotion.Name, formatBps(*action.PercentBps)),
			ActionKind:  action.Kind,
		}}

	case enums.ActionOrderFlatDiscount:
		if action.AmountCents == nil || *action.AmountCents <= 0 {
			return nil
		}
		// Never discount below a zero item total.
		discount := *action.AmountCents
		if discount > base.orderCents {
			discount = base.orderCents
		}
		if discount <= 0 {
			return nil
		}
		return []ComputedAdjustment{{
			Target:      enums.AdjustmentTargetOrder,
			TargetID:    order.ID,
			PromotionID: promotion.ID,
			AmountCents: -discount,
			Description: promotion.Name,
			ActionKind:  action.Kind,
		}}

	case enums.ActionLineItemPercentDiscount:
		if action.PercentBps == nil || *action.PercentBps <= 0 {
			return nil
		}
		filter := make(map[uuid.UUID]bool, len(action.FilterTaxonIDs))
		for _, t := range action.FilterTaxonIDs {
			filter[t.TaxonID] = true
		}
		var adjustments []ComputedAdjustment
		for _, line := range octx.Lines {
			if !action.MatchAllLines && !lineMatchesTaxons(line, filter, octx.TaxonsByVariant) {
				continue
			}
			remaining := money.New(base.lineCents[line.ID], order.Currency)
			discount, err := remaining.MulRat(*action.PercentBps, percentDenominatorBps)
			if err != nil || discount.Cents <= 0 {
				continue
			}
			adjustments = append(adjustments, ComputedAdjustment{
				Target:      enums.AdjustmentTargetLineItem,
				TargetID:    line.ID,
				PromotionID: promotion.ID,
				AmountCents: -discount.Cents,
				Description: fmt.Sprintf("%s (%s%% off)", promotion.Name, formatBps(*action.PercentBps)),
				ActionKind:  action.Kind,
			})
		}
		return adjustments

	case enums.ActionFreeShipping:
		if base.shipmentCents <= 0 {
			return nil
		}
		return []ComputedAdjustment{{
			Target:      enums.AdjustmentTargetOrder,
			TargetID:    order.ID,
			PromotionID: promotion.ID,
			AmountCents: -base.shipmentCents,
			Description: fmt.Sprintf("%s (free shipping)", promotion.Name),
			ActionKind:  action.Kind,
		}}

	default:
		return nil
	}
}

func lineMatchesTaxons(line models.LineItem, filter map[uuid.UUID]bool, taxonsByVariant map[uuid.UUID][]uuid.UUID) bool {
	if len(filter) == 0 {
		return false
	}
	for _, taxonID := range taxonsByVariant[line.VariantID] {
		if filter[taxonID] {
			return true
		}
	}
	return false
}

// capDiscount scales adjustments proportionally when the total discount
// exceeds max_discount, reconciling remainder cents against the largest parts.
func capDiscount(promotion *models.Promotion, currency enums.Currency, adjustments []ComputedAdjustment) []ComputedAdjustment {
	if promotion.MaxDiscountCents == nil {
		return adjustments
	}
	cap := *promotion.MaxDiscountCents
	total := int64(0)
	for _, adj := range adjustments {
		total += -adj.AmountCents
	}
	if total <= cap {
		return adjustments
	}

	parts := make([]money.Money, len(adjustments))
	for i, adj := range adjustments {
		parts[i] = money.New(adj.AmountCents, currency)
	}
	scaled, err := money.ScaleProportionally(parts, money.New(-cap, currency))
	if err != nil {
		return adjustments
	}
	capped := make([]ComputedAdjustment, len(adjustments))
	for i, adj := range adjustments {
		adj.AmountCents = scaled[i].Cents
		capped[i] = adj
	}
	return capped
}

func formatBps(bps int64) string {
	whole := bps / 100
	frac := bps % 100
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	return fmt.Sprintf("%d.%02d", whole, frac)
}
