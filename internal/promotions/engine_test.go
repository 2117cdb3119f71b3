package promotions

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
)

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func testOrderContext(itemTotal int64, lines ...models.LineItem) OrderContext {
	userID := uuid.New()
	return OrderContext{
		Order: &models.Order{
			ID:             uuid.New(),
			UserID:         &userID,
			Currency:       enums.CurrencyUSD,
			ItemTotalCents: itemTotal,
		},
		Lines: lines,
		Now:   time.Now(),
	}
}

func percentPromotion(name string, bps int64) models.Promotion {
	return models.Promotion{
		ID:       uuid.New(),
		Name:     name,
		Active:   true,
		Currency: enums.CurrencyUSD,
		Action: &models.PromotionAction{
			Kind:       enums.ActionOrderPercentDiscount,
			PercentBps: int64Ptr(bps),
		},
	}
}

func TestFirstFailureChecks(t *testing.T) {
	octx := testOrderContext(5000)

	inactive := percentPromotion("off", 1000)
	inactive.Active = false
	assert.Equal(t, "inactive", FirstFailure(&inactive, octx))

	mismatch := percentPromotion("off", 1000)
	mismatch.Currency = enums.CurrencyEUR
	assert.Equal(t, "currency_mismatch", FirstFailure(&mismatch, octx))

	future := time.Now().Add(time.Hour)
	notStarted := percentPromotion("off", 1000)
	notStarted.StartsAt = &future
	assert.Equal(t, "not_started", FirstFailure(&notStarted, octx))

	past := time.Now().Add(-time.Hour)
	expired := percentPromotion("off", 1000)
	expired.ExpiresAt = &past
	assert.Equal(t, "expired", FirstFailure(&expired, octx))

	exhausted := percentPromotion("off", 1000)
	exhausted.UsageLimit = intPtr(5)
	exhausted.UsageCount = 5
	assert.Equal(t, "usage_limit_reached", FirstFailure(&exhausted, octx))

	tooSmall := percentPromotion("off", 1000)
	tooSmall.MinOrderCents = int64Ptr(10_000)
	assert.Equal(t, "min_order_amount", FirstFailure(&tooSmall, octx))

	ok := percentPromotion("off", 1000)
	assert.Equal(t, "", FirstFailure(&ok, octx))
	assert.True(t, Eligible(&ok, octx))
}

func TestRuleChecks(t *testing.T) {
	variant := uuid.New()
	line := models.LineItem{ID: uuid.New(), VariantID: variant, Qty: 2, UnitPriceCents: 1000}
	octx := testOrderContext(2000, line)

	minQty := percentPromotion("qty", 1000)
	minQty.Rules = []models.PromotionRule{{Kind: enums.RuleMinQuantity, Value: int64Ptr(3)}}
	assert.Equal(t, string(enums.RuleMinQuantity), FirstFailure(&minQty, octx))
	minQty.Rules[0].Value = int64Ptr(2)
	assert.Equal(t, "", FirstFailure(&minQty, octx))

	inCart := percentPromotion("product", 1000)
	inCart.Rules = []models.PromotionRule{{
		Kind:       enums.RuleProductInCart,
		VariantIDs: []models.PromotionRuleVariant{{VariantID: uuid.New()}},
	}}
	assert.Equal(t, string(enums.RuleProductInCart), FirstFailure(&inCart, octx))
	inCart.Rules[0].VariantIDs = []models.PromotionRuleVariant{{VariantID: variant}}
	assert.Equal(t, "", FirstFailure(&inCart, octx))

	allowList := percentPromotion("vip", 1000)
	allowList.Rules = []models.PromotionRule{{
		Kind:  enums.RuleUserAllowList,
		Users: []models.PromotionRuleUser{{UserID: uuid.New()}},
	}}
	assert.Equal(t, string(enums.RuleUserAllowList), FirstFailure(&allowList, octx))
	allowList.Rules[0].Users = []models.PromotionRuleUser{{UserID: *octx.Order.UserID}}
	assert.Equal(t, "", FirstFailure(&allowList, octx))

	firstOrder := percentPromotion("welcome", 1000)
	firstOrder.Rules = []models.PromotionRule{{Kind: enums.RuleFirstOrder}}
	assert.Equal(t, string(enums.RuleFirstOrder), FirstFailure(&firstOrder, octx))
	octx.IsFirstOrder = true
	assert.Equal(t, "", FirstFailure(&firstOrder, octx))
}

func TestComputeOrderPercentDiscount(t *testing.T) {
	octx := testOrderContext(10_000)
	promo := percentPromotion("20 off", 2000)

	outcome := Compute([]models.Promotion{promo}, octx)
	require.NotNil(t, outcome)
	assert.Equal(t, int64(2000), outcome.DiscountCents)
	require.Len(t, outcome.Adjustments, 1)
	assert.Equal(t, int64(-2000), outcome.Adjustments[0].AmountCents)
	assert.Equal(t, enums.AdjustmentTargetOrder, outcome.Adjustments[0].Target)
}

func TestComputeFlatDiscountClampsAtItemTotal(t *testing.T) {
	octx := testOrderContext(1500)
	promo := models.Promotion{
		ID:       uuid.New(),
		Name:     "flat",
		Active:   true,
		Currency: enums.CurrencyUSD,
		Action: &models.PromotionAction{
			Kind:        enums.ActionOrderFlatDiscount,
			AmountCents: int64Ptr(2000),
		},
	}

	outcome := Compute([]models.Promotion{promo}, octx)
	require.NotNil(t, outcome)
	assert.Equal(t, int64(1500), outcome.DiscountCents)
}

func TestComputeFreeShipping(t *testing.T) {
	octx := testOrderContext(5000)
	octx.Order.ShipmentTotalCents = 700
	promo := models.Promotion{
		ID:       uuid.New(),
		Name:     "ship free",
		Active:   true,
		Currency: enums.CurrencyUSD,
		Action:   &models.PromotionAction{Kind: enums.ActionFreeShipping},
	}

	outcome := Compute([]models.Promotion{promo}, octx)
	require.NotNil(t, outcome)
	assert.Equal(t, int64(700), outcome.DiscountCents)

	// Nothing to discount without a shipment charge.
	octx.Order.ShipmentTotalCents = 0
	assert.Nil(t, Compute([]models.Promotion{promo}, octx))
}

func TestComputeLineItemPercentWithTaxonFilter(t *testing.T) {
	taxon := uuid.New()
	discounted := models.LineItem{ID: uuid.New(), VariantID: uuid.New(), Qty: 1, UnitPriceCents: 4000}
	fullPrice := models.LineItem{ID: uuid.New(), VariantID: uuid.New(), Qty: 1, UnitPriceCents: 6000}

	octx := testOrderContext(10_000, discounted, fullPrice)
	octx.TaxonsByVariant = map[uuid.UUID][]uuid.UUID{
		discounted.VariantID: {taxon},
	}

	promo := models.Promotion{
		ID:       uuid.New(),
		Name:     "category sale",
		Active:   true,
		Currency: enums.CurrencyUSD,
		Action: &models.PromotionAction{
			Kind:           enums.ActionLineItemPercentDiscount,
			PercentBps:     int64Ptr(2500),
			MatchAllLines:  false,
			FilterTaxonIDs: []models.PromotionActionTaxon{{TaxonID: taxon}},
		},
	}

	outcome := Compute([]models.Promotion{promo}, octx)
	require.NotNil(t, outcome)
	require.Len(t, outcome.Adjustments, 1)
	assert.Equal(t, discounted.ID, outcome.Adjustments[0].TargetID)
	assert.Equal(t, int64(-1000), outcome.Adjustments[0].AmountCents)
	assert.Equal(t, enums.AdjustmentTargetLineItem, outcome.Adjustments[0].Target)
}

func flatPromotion(name string, amount int64) models.Promotion {
	return models.Promotion{
		ID:       uuid.New(),
		Name:     name,
		Active:   true,
		Currency: enums.CurrencyUSD,
		Action: &models.PromotionAction{
			Kind:        enums.ActionOrderFlatDiscount,
			AmountCents: int64Ptr(amount),
		},
	}
}

func TestComputeStacksAllEligiblePromotions(t *testing.T) {
	octx := testOrderContext(10_000)

	flat := flatPromotion("flat 500", 500)
	percent := percentPromotion("10 off", 1000)

	outcome := Compute([]models.Promotion{percent, flat}, octx)
	require.NotNil(t, outcome)
	require.Len(t, outcome.Applied, 2)

	// The flat discount lands first, so the percent computes on the reduced
	// base: 500 + 10% of 9500.
	assert.Equal(t, "flat 500", outcome.Applied[0].Promotion.Name)
	assert.Equal(t, int64(500), outcome.Applied[0].DiscountCents)
	assert.Equal(t, "10 off", outcome.Applied[1].Promotion.Name)
	assert.Equal(t, int64(950), outcome.Applied[1].DiscountCents)
	assert.Equal(t, int64(1450), outcome.DiscountCents)
	require.Len(t, outcome.Adjustments, 2)
	assert.Equal(t, flat.ID, outcome.Adjustments[0].PromotionID)
	assert.Equal(t, percent.ID, outcome.Adjustments[1].PromotionID)
}

func TestComputeOrdersCouponAboveAutomatic(t *testing.T) {
	octx := testOrderContext(10_000)

	automatic := flatPromotion("auto flat", 500)
	code := "welcome10"
	coupon := percentPromotion("coupon 10", 1000)
	coupon.Code = &code
	coupon.RequiresCode = true
	octx.Order.PromoCode = &code

	outcome := Compute([]models.Promotion{automatic, coupon}, octx)
	require.NotNil(t, outcome)
	require.Len(t, outcome.Applied, 2)

	// The coupon outranks the automatic promotion, so its percent computes on
	// the full item total.
	assert.Equal(t, "coupon 10", outcome.Applied[0].Promotion.Name)
	assert.Equal(t, int64(1000), outcome.Applied[0].DiscountCents)
	assert.Equal(t, int64(500), outcome.Applied[1].DiscountCents)
	assert.Equal(t, int64(1500), outcome.DiscountCents)
	require.NotNil(t, outcome.Primary())
	assert.Equal(t, coupon.ID, outcome.Primary().ID)
}

func TestComputeBreaksTiesByCreation(t *testing.T) {
	octx := testOrderContext(10_000)

	older := percentPromotion("older", 1000)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := percentPromotion("newer", 1000)
	newer.CreatedAt = time.Now()

	outcome := Compute([]models.Promotion{newer, older}, octx)
	require.NotNil(t, outcome)
	require.Len(t, outcome.Applied, 2)
	assert.Equal(t, "older", outcome.Applied[0].Promotion.Name)
	assert.Equal(t, int64(1000), outcome.Applied[0].DiscountCents)
	assert.Equal(t, int64(900), outcome.Applied[1].DiscountCents)
}

func TestComputeSkipsIneligible(t *testing.T) {
	octx := testOrderContext(10_000)

	blocked := percentPromotion("blocked", 5000)
	blocked.MinOrderCents = int64Ptr(100_000)
	fallback := percentPromotion("fallback", 1000)

	outcome := Compute([]models.Promotion{blocked, fallback}, octx)
	require.NotNil(t, outcome)
	require.Len(t, outcome.Applied, 1)
	assert.Equal(t, "fallback", outcome.Applied[0].Promotion.Name)
	require.NotNil(t, outcome.Primary())
	assert.Equal(t, "fallback", outcome.Primary().Name)
}

func TestComputeCapsDiscount(t *testing.T) {
	octx := testOrderContext(10_000)
	promo := percentPromotion("capped", 2000)
	promo.MaxDiscountCents = int64Ptr(1500)

	outcome := Compute([]models.Promotion{promo}, octx)
	require.NotNil(t, outcome)
	assert.Equal(t, int64(1500), outcome.DiscountCents)
	assert.Equal(t, int64(-1500), outcome.Adjustments[0].AmountCents)
}

func TestComputeNothingApplies(t *testing.T) {
	octx := testOrderContext(0)
	promo := percentPromotion("zero base", 2000)
	assert.Nil(t, Compute([]models.Promotion{promo}, octx))
}
