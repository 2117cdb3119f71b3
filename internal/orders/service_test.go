package orders

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/internal/inventory"
	"github.com/mercatto/commerce-core/internal/promotions"
	"github.com/mercatto/commerce-core/pkg/config"
	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
	"github.com/mercatto/commerce-core/pkg/logger"
	"github.com/mercatto/commerce-core/pkg/metrics"
	"github.com/mercatto/commerce-core/pkg/outbox"
	"github.com/mercatto/commerce-core/pkg/types"
)

type priceKey struct {
	variantID uuid.UUID
	currency  enums.Currency
}

type stubOrdersRepo struct {
	mu          sync.Mutex
	orders      map[uuid.UUID]*models.Order
	lines       map[uuid.UUID]*models.LineItem
	adjustments map[uuid.UUID][]models.Adjustment
	histories   map[uuid.UUID][]models.OrderHistory
	variants    map[uuid.UUID]*models.Variant
	prices      map[priceKey]*models.VariantPrice

	// updateConflicts makes the next N order updates fail with a stale lock
	// version, the same error the optimistic write produces.
	updateConflicts int
}

func newStubOrdersRepo() *stubOrdersRepo {
	return &stubOrdersRepo{
		orders:      make(map[uuid.UUID]*models.Order),
		lines:       make(map[uuid.UUID]*models.LineItem),
		adjustments: make(map[uuid.UUID][]models.Adjustment),
		histories:   make(map[uuid.UUID][]models.OrderHistory),
		variants:    make(map[uuid.UUID]*models.Variant),
		prices:      make(map[priceKey]*models.VariantPrice),
	}
}

func (s *stubOrdersRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubOrdersRepo) Create(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.CreatedAt = time.Now()
	order.UpdatedAt = time.Now()
	clone := *order
	s.orders[order.ID] = &clone
	return nil
}

func (s *stubOrdersRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *order
	return &clone, nil
}

func (s *stubOrdersRepo) FindByNumber(_ context.Context, number string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.Number == number {
			clone := *order
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrdersRepo) FindCartByUser(_ context.Context, userID uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.UserID != nil && *order.UserID == userID && order.State == enums.OrderStateCart {
			clone := *order
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrdersRepo) ListByUser(_ context.Context, userID uuid.UUID, _ int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []models.Order
	for _, order := range s.orders {
		if order.UserID != nil && *order.UserID == userID {
			rows = append(rows, *order)
		}
	}
	return rows, nil
}

func (s *stubOrdersRepo) FindStaleCarts(_ context.Context, cutoffUnix int64, limit int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Unix(cutoffUnix, 0)
	var rows []models.Order
	for _, order := range s.orders {
		if order.State == enums.OrderStateCart && order.UpdatedAt.Before(cutoff) {
			rows = append(rows, *order)
		}
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func (s *stubOrdersRepo) Update(_ context.Context, order *models.Order, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.orders[order.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if s.updateConflicts > 0 {
		s.updateConflicts--
		return pkgerrors.New(pkgerrors.CodeConcurrency, "row version mismatch")
	}
	for column, value := range updates {
		switch column {
		case "state":
			stored.State = value.(enums.OrderState)
		case "user_id":
			id := value.(uuid.UUID)
			stored.UserID = &id
		case "email":
			email := value.(string)
			stored.Email = &email
		case "promo_code":
			if value == nil {
				stored.PromoCode = nil
			} else {
				code := value.(string)
				stored.PromoCode = &code
			}
		case "promotion_id":
			switch v := value.(type) {
			case uuid.UUID:
				stored.PromotionID = &v
			default:
				stored.PromotionID = nil
			}
		case "shipping_address":
			var address types.Address
			if err := json.Unmarshal([]byte(value.(string)), &address); err != nil {
				return err
			}
			stored.ShippingAddress = &address
		case "shipping_method":
			if value == nil {
				stored.ShippingMethod = nil
			} else {
				name := value.(string)
				stored.ShippingMethod = &name
			}
		case "item_total_cents":
			stored.ItemTotalCents = value.(int64)
		case "shipment_total_cents":
			stored.ShipmentTotalCents = value.(int64)
		case "adjustment_total_cents":
			stored.AdjustmentTotalCents = value.(int64)
		case "grand_total_cents":
			stored.GrandTotalCents = value.(int64)
		case "completed_at":
			at := value.(time.Time)
			stored.CompletedAt = &at
		case "canceled_at":
			at := value.(time.Time)
			stored.CanceledAt = &at
		}
	}
	stored.LockVersion++
	return nil
}

func (s *stubOrdersRepo) FindLineItems(_ context.Context, orderID uuid.UUID) ([]models.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []models.LineItem
	for _, line := range s.lines {
		if line.OrderID == orderID {
			rows = append(rows, *line)
		}
	}
	return rows, nil
}

func (s *stubOrdersRepo) FindLineItem(_ context.Context, id uuid.UUID) (*models.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, ok := s.lines[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *line
	return &clone, nil
}

func (s *stubOrdersRepo) FindLineItemByVariant(_ context.Context, orderID, variantID uuid.UUID) (*models.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range s.lines {
		if line.OrderID == orderID && line.VariantID == variantID {
			clone := *line
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrdersRepo) CreateLineItem(_ context.Context, item *models.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.CreatedAt = time.Now()
	clone := *item
	s.lines[item.ID] = &clone
	return nil
}

func (s *stubOrdersRepo) UpdateLineItem(_ context.Context, id uuid.UUID, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, ok := s.lines[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for column, value := range updates {
		switch column {
		case "qty":
			line.Qty = value.(int)
		case "unit_price_cents":
			line.UnitPriceCents = value.(int64)
		case "total_cents":
			line.TotalCents = value.(int64)
		case "order_id":
			line.OrderID = value.(uuid.UUID)
		}
	}
	return nil
}

func (s *stubOrdersRepo) DeleteLineItem(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lines, id)
	return nil
}

func (s *stubOrdersRepo) MoveLineItems(_ context.Context, fromOrderID, toOrderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range s.lines {
		if line.OrderID == fromOrderID {
			line.OrderID = toOrderID
		}
	}
	return nil
}

func (s *stubOrdersRepo) FindAdjustments(_ context.Context, orderID uuid.UUID) ([]models.Adjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Adjustment(nil), s.adjustments[orderID]...), nil
}

func (s *stubOrdersRepo) CreateHistory(_ context.Context, history *models.OrderHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[history.OrderID] = append(s.histories[history.OrderID], *history)
	return nil
}

func (s *stubOrdersRepo) FindHistories(_ context.Context, orderID uuid.UUID) ([]models.OrderHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OrderHistory(nil), s.histories[orderID]...), nil
}

func (s *stubOrdersRepo) FindVariant(_ context.Context, variantID uuid.UUID) (*models.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	variant, ok := s.variants[variantID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *variant
	return &clone, nil
}

func (s *stubOrdersRepo) FindPrice(_ context.Context, variantID uuid.UUID, currency enums.Currency) (*models.VariantPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[priceKey{variantID, currency}]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *price
	return &clone, nil
}

type ordersRepoState struct {
	orders map[uuid.UUID]*models.Order
	lines  map[uuid.UUID]*models.LineItem
}

func (s *stubOrdersRepo) snapshot() ordersRepoState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := ordersRepoState{
		orders: make(map[uuid.UUID]*models.Order, len(s.orders)),
		lines:  make(map[uuid.UUID]*models.LineItem, len(s.lines)),
	}
	for id, order := range s.orders {
		clone := *order
		state.orders[id] = &clone
	}
	for id, line := range s.lines {
		clone := *line
		state.lines[id] = &clone
	}
	return state
}

func (s *stubOrdersRepo) restore(state ordersRepoState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = state.orders
	s.lines = state.lines
}

type stubOrdersTx struct{}

func (stubOrdersTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

func (stubOrdersTx) WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

// rollbackTx serializes transactions and restores the stub state when the
// callback fails, mirroring a database rollback.
type rollbackTx struct {
	mu     sync.Mutex
	repo   *stubOrdersRepo
	outbox *stubOrdersOutbox
}

func (s *rollbackTx) run(fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	repoState := s.repo.snapshot()
	events := s.outbox.snapshot()
	if err := fn(&gorm.DB{}); err != nil {
		s.repo.restore(repoState)
		s.outbox.restore(events)
		return err
	}
	return nil
}

func (s *rollbackTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return s.run(fn)
}

func (s *rollbackTx) WithSerializableTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return s.run(fn)
}

type stubPromoEngine struct {
	mu         sync.Mutex
	promotions map[string]*models.Promotion
	failure    string
	outcome    *promotions.Outcome
	committed  []uuid.UUID
	rolledBack []uuid.UUID
	removed    []uuid.UUID
}

func newStubPromoEngine() *stubPromoEngine {
	return &stubPromoEngine{promotions: make(map[string]*models.Promotion)}
}

func (s *stubPromoEngine) LookupByCode(_ context.Context, _ *gorm.DB, code string) (*models.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	promotion, ok := s.promotions[code]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "promotion not found").
			WithReason("Promotion.NotFound")
	}
	return promotion, nil
}

func (s *stubPromoEngine) SyncAdjustmentsTx(_ context.Context, _ *gorm.DB, _ *models.Order, _ []models.LineItem) (*promotions.Outcome, error) {
	return s.outcome, nil
}

func (s *stubPromoEngine) ExplainIneligibilityTx(_ context.Context, _ *gorm.DB, _ *models.Order, _ []models.LineItem, _ *models.Promotion) (string, error) {
	return s.failure, nil
}

func (s *stubPromoEngine) RemoveAdjustmentsTx(_ context.Context, _ *gorm.DB, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, orderID)
	return nil
}

func (s *stubPromoEngine) CommitUsageForOrderTx(_ context.Context, _ *gorm.DB, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, orderID)
	return nil
}

func (s *stubPromoEngine) RollbackUsageForOrderTx(_ context.Context, _ *gorm.DB, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolledBack = append(s.rolledBack, orderID)
	return nil
}

type stubStock struct {
	mu         sync.Mutex
	locationID uuid.UUID
	reserved   []uuid.UUID
	released   []uuid.UUID
	err        error
}

func (s *stubStock) ReserveForOrderTx(_ context.Context, _ *gorm.DB, orderID uuid.UUID, lines []inventory.ReservationLine) ([]inventory.LocationAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.reserved = append(s.reserved, orderID)
	allocation := inventory.LocationAllocation{LocationID: s.locationID}
	for _, line := range lines {
		allocation.Lines = append(allocation.Lines, inventory.AllocatedLine{VariantID: line.VariantID, Qty: line.Qty})
	}
	return []inventory.LocationAllocation{allocation}, nil
}

func (s *stubStock) ReleaseForOrderTx(_ context.Context, _ *gorm.DB, orderID uuid.UUID, _ []inventory.ReservationLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, orderID)
	return nil
}

type stubChecker struct {
	covered  int64
	captured int64
	net      int64
}

func (s *stubChecker) CoveredCentsTx(_ context.Context, _ *gorm.DB, _ uuid.UUID) (int64, error) {
	return s.covered, nil
}

func (s *stubChecker) CapturedCentsTx(_ context.Context, _ *gorm.DB, _ uuid.UUID) (int64, error) {
	return s.captured, nil
}

func (s *stubChecker) NetCapturedCentsTx(_ context.Context, _ *gorm.DB, _ uuid.UUID) (int64, error) {
	return s.net, nil
}

type stubShipments struct {
	mu          sync.Mutex
	rate        int64
	built       []uuid.UUID
	allocations []inventory.LocationAllocation
	promoted    []uuid.UUID
	canceled    []uuid.UUID
}

func (s *stubShipments) BuildForOrderTx(_ context.Context, _ *gorm.DB, order *models.Order, _ []models.LineItem, allocations []inventory.LocationAllocation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.built = append(s.built, order.ID)
	s.allocations = allocations
	return s.rate, nil
}

func (s *stubShipments) PromoteForOrderTx(_ context.Context, _ *gorm.DB, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoted = append(s.promoted, orderID)
	return nil
}

func (s *stubShipments) CancelForOrderTx(_ context.Context, _ *gorm.DB, orderID uuid.UUID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, orderID)
	return nil
}

type stubOrdersOutbox struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
}

func (s *stubOrdersOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubOrdersOutbox) EmitIfNotExists(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.events {
		if existing.EventType == event.EventType && existing.AggregateID == event.AggregateID {
			return nil
		}
	}
	s.events = append(s.events, event)
	return nil
}

func (s *stubOrdersOutbox) has(eventType enums.OutboxEventType) bool {
	return s.count(eventType) > 0
}

func (s *stubOrdersOutbox) count(eventType enums.OutboxEventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, event := range s.events {
		if event.EventType == eventType {
			n++
		}
	}
	return n
}

func (s *stubOrdersOutbox) snapshot() []outbox.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.DomainEvent(nil), s.events...)
}

func (s *stubOrdersOutbox) restore(events []outbox.DomainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
}

type ordersFixture struct {
	repo      *stubOrdersRepo
	promos    *stubPromoEngine
	stock     *stubStock
	checker   *stubChecker
	shipments *stubShipments
	outbox    *stubOrdersOutbox
	svc       Service
}

func newOrdersFixture(t *testing.T) *ordersFixture {
	t.Helper()

	f := &ordersFixture{
		repo:      newStubOrdersRepo(),
		promos:    newStubPromoEngine(),
		stock:     &stubStock{locationID: uuid.New()},
		checker:   &stubChecker{},
		shipments: &stubShipments{},
		outbox:    &stubOrdersOutbox{},
	}
	svc, err := NewService(Deps{
		Repo:      f.repo,
		Tx:        stubOrdersTx{},
		Promos:    f.promos,
		Stock:     f.stock,
		Payments:  f.checker,
		Shipments: f.shipments,
		Outbox:    f.outbox,
		Checkout: config.CheckoutConfig{
			CartTTL:                 time.Hour,
			GuestMergeRepriceWindow: 10 * time.Minute,
		},
		Metrics: metrics.NewCommandMetrics(nil),
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *ordersFixture) seedVariant(priceCents int64) *models.Variant {
	variant := &models.Variant{
		ID:          uuid.New(),
		SKU:         "SKU-" + uuid.NewString()[:8],
		Name:        "widget",
		Active:      true,
		WeightGrams: 250,
	}
	f.repo.variants[variant.ID] = variant
	f.repo.prices[priceKey{variant.ID, enums.CurrencyUSD}] = &models.VariantPrice{
		ID:          uuid.New(),
		VariantID:   variant.ID,
		Currency:    enums.CurrencyUSD,
		AmountCents: priceCents,
	}
	return variant
}

func (f *ordersFixture) seedCart(t *testing.T) *models.Order {
	t.Helper()
	userID := uuid.New()
	order, err := f.svc.Create(context.Background(), CreateInput{UserID: &userID})
	require.NoError(t, err)
	return order
}

func (f *ordersFixture) readyForAdvance(t *testing.T, order *models.Order) {
	t.Helper()
	stored := f.repo.orders[order.ID]
	email := "shopper@example.com"
	stored.Email = &email
	stored.ShippingAddress = &types.Address{
		Line1:      "1 Market St",
		City:       "Springfield",
		State:      "CA",
		PostalCode: "94000",
		Country:    "US",
	}
	method := enums.ShippingMethodStandard.String()
	stored.ShippingMethod = &method
}

func TestCreateDefaultsAndValidation(t *testing.T) {
	f := newOrdersFixture(t)

	userID := uuid.New()
	order, err := f.svc.Create(context.Background(), CreateInput{UserID: &userID})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStateCart, order.State)
	assert.Equal(t, enums.CurrencyUSD, order.Currency)
	assert.True(t, strings.HasPrefix(order.Number, "ORD-"))

	_, err = f.svc.Create(context.Background(), CreateInput{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestAddLineItemComputesTotals(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)
	variant := f.seedVariant(1999)

	updated, err := f.svc.AddLineItem(context.Background(), order.ID, variant.ID, 2, outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, int64(3998), updated.ItemTotalCents)
	assert.Equal(t, int64(3998), updated.GrandTotalCents)
	assert.True(t, f.outbox.has(enums.EventLineItemAdded))

	// Adding the same variant merges into the existing line.
	updated, err = f.svc.AddLineItem(context.Background(), order.ID, variant.ID, 1, outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, int64(5997), updated.ItemTotalCents)
	lines, err := f.svc.Lines(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Qty)
}

func TestAddLineItemGuards(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)
	variant := f.seedVariant(1000)

	_, err := f.svc.AddLineItem(context.Background(), order.ID, variant.ID, 0, outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, ReasonInvalidQty, pkgerrors.As(err).Reason())

	f.repo.variants[variant.ID].Discontinued = true
	_, err = f.svc.AddLineItem(context.Background(), order.ID, variant.ID, 1, outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, ReasonVariantUnavailable, pkgerrors.As(err).Reason())

	f.repo.variants[variant.ID].Discontinued = false
	delete(f.repo.prices, priceKey{variant.ID, enums.CurrencyUSD})
	_, err = f.svc.AddLineItem(context.Background(), order.ID, variant.ID, 1, outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, ReasonNoPrice, pkgerrors.As(err).Reason())

	f.repo.orders[order.ID].State = enums.OrderStateComplete
	_, err = f.svc.AddLineItem(context.Background(), order.ID, variant.ID, 1, outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestSetQuantityZeroRemovesLine(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)
	variant := f.seedVariant(500)

	_, err := f.svc.AddLineItem(context.Background(), order.ID, variant.ID, 2, outbox.ActorRef{})
	require.NoError(t, err)
	lines, err := f.svc.Lines(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	updated, err := f.svc.SetQuantity(context.Background(), order.ID, lines[0].ID, 0, outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated.ItemTotalCents)
	assert.True(t, f.outbox.has(enums.EventLineItemRemoved))

	lines, err = f.svc.Lines(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestAdvanceWalksToCompleteWhenFullyCaptured(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)
	variant := f.seedVariant(2000)
	f.shipments.rate = 500

	_, err := f.svc.AddLineItem(context.Background(), order.ID, variant.ID, 2, outbox.ActorRef{})
	require.NoError(t, err)
	f.readyForAdvance(t, order)
	f.checker.covered = 4500
	f.checker.captured = 4500

	final, err := f.svc.Advance(context.Background(), order.ID, outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStateComplete, final.State)
	assert.NotNil(t, final.CompletedAt)
	assert.Equal(t, int64(500), final.ShipmentTotalCents)
	assert.Equal(t, int64(4500), final.GrandTotalCents)
	assert.Len(t, f.stock.reserved, 1)
	assert.Len(t, f.shipments.promoted, 1)
	assert.Equal(t, []uuid.UUID{order.ID}, f.promos.committed)
	assert.True(t, f.outbox.has(enums.EventOrderCompleted))
}

func TestAdvanceStopsAtFirstUnsatisfiedGuard(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)
	variant := f.seedVariant(1000)

	_, err := f.svc.AddLineItem(context.Background(), order.ID, variant.ID, 1, outbox.ActorRef{})
	require.NoError(t, err)

	// No address or email yet: advance commits cart -> address and stops.
	updated, err := f.svc.Advance(context.Background(), order.ID, outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStateAddress, updated.State)
}

func TestAdvanceEmptyCartFails(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)

	_, err := f.svc.Advance(context.Background(), order.ID, outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, ReasonEmptyCart, pkgerrors.As(err).Reason())
}

func TestAdvanceStopsAtPaymentWithoutCoverage(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)
	variant := f.seedVariant(2000)
	f.shipments.rate = 500

	_, err := f.svc.AddLineItem(context.Background(), order.ID, variant.ID, 1, outbox.ActorRef{})
	require.NoError(t, err)
	f.readyForAdvance(t, order)

	updated, err := f.svc.Advance(context.Background(), order.ID, outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatePayment, updated.State)
	assert.Len(t, f.stock.reserved, 1)
	assert.Len(t, f.shipments.built, 1)

	// The shipment builder works from the reservation's allocation plan.
	require.Len(t, f.shipments.allocations, 1)
	assert.Equal(t, f.stock.locationID, f.shipments.allocations[0].LocationID)
	require.Len(t, f.shipments.allocations[0].Lines, 1)
	assert.Equal(t, variant.ID, f.shipments.allocations[0].Lines[0].VariantID)
	assert.Equal(t, 1, f.shipments.allocations[0].Lines[0].Qty)
}

func TestCancelRefusesCapturedBalance(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)
	f.repo.orders[order.ID].State = enums.OrderStatePayment
	f.checker.net = 1500

	_, err := f.svc.Cancel(context.Background(), order.ID, "changed my mind", outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, ReasonCannotCancelCaptured, pkgerrors.As(err).Reason())
}

func TestCancelReleasesShipmentsPastDelivery(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)
	f.repo.orders[order.ID].State = enums.OrderStatePayment

	canceled, err := f.svc.Cancel(context.Background(), order.ID, "abandoned", outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStateCanceled, canceled.State)
	assert.NotNil(t, canceled.CanceledAt)
	assert.Len(t, f.shipments.canceled, 1)
	assert.True(t, f.outbox.has(enums.EventOrderCanceled))
}

func TestCancelCompleteRollsBackPromotionUsage(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)
	promoID := uuid.New()
	stored := f.repo.orders[order.ID]
	stored.State = enums.OrderStateComplete
	stored.PromotionID = &promoID

	_, err := f.svc.Cancel(context.Background(), order.ID, "", outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{order.ID}, f.promos.rolledBack)
}

func TestApplyCoupon(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)
	variant := f.seedVariant(5000)
	_, err := f.svc.AddLineItem(context.Background(), order.ID, variant.ID, 1, outbox.ActorRef{})
	require.NoError(t, err)

	promotion := &models.Promotion{ID: uuid.New(), Name: "spring sale"}
	f.promos.promotions["spring10"] = promotion

	updated, err := f.svc.ApplyCoupon(context.Background(), order.ID, "  SPRING10 ", outbox.ActorRef{})
	require.NoError(t, err)
	require.NotNil(t, updated.PromoCode)
	assert.Equal(t, "spring10", *updated.PromoCode)
	assert.True(t, f.outbox.has(enums.EventPromotionApplied))

	f.promos.failure = "minimum order not met"
	_, err = f.svc.ApplyCoupon(context.Background(), order.ID, "spring10", outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeBusinessRule, pkgerrors.As(err).Code())
}

func TestRemoveCoupon(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)
	code := "spring10"
	f.repo.orders[order.ID].PromoCode = &code

	updated, err := f.svc.RemoveCoupon(context.Background(), order.ID, outbox.ActorRef{})
	require.NoError(t, err)
	assert.Nil(t, updated.PromoCode)
}

func TestSetEmailValidation(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)

	_, err := f.svc.SetEmail(context.Background(), order.ID, "not-an-email", outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	updated, err := f.svc.SetEmail(context.Background(), order.ID, "shopper@example.com", outbox.ActorRef{})
	require.NoError(t, err)
	require.NotNil(t, updated.Email)
	assert.Equal(t, "shopper@example.com", *updated.Email)
}

func TestSelectShippingMethod(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)

	_, err := f.svc.SelectShippingMethod(context.Background(), order.ID, enums.ShippingMethodStandard, outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	f.repo.orders[order.ID].State = enums.OrderStateDelivery
	updated, err := f.svc.SelectShippingMethod(context.Background(), order.ID, enums.ShippingMethodExpress, outbox.ActorRef{})
	require.NoError(t, err)
	require.NotNil(t, updated.ShippingMethod)
	assert.Equal(t, enums.ShippingMethodExpress.String(), *updated.ShippingMethod)
	assert.Equal(t, enums.ShippingMethodExpress.RateCents(), updated.ShipmentTotalCents)
}

func TestAssociateRejectsOwnedOrder(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)

	_, err := f.svc.Associate(context.Background(), order.ID, uuid.New(), outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, ReasonAlreadyAssociated, pkgerrors.As(err).Reason())
}

func TestAssociateMergesGuestCart(t *testing.T) {
	f := newOrdersFixture(t)
	userID := uuid.New()
	variant := f.seedVariant(1000)

	// The user's existing cart carries one line.
	existing, err := f.svc.Create(context.Background(), CreateInput{UserID: &userID})
	require.NoError(t, err)
	_, err = f.svc.AddLineItem(context.Background(), existing.ID, variant.ID, 1, outbox.ActorRef{})
	require.NoError(t, err)

	guestID := "guest-session"
	guest, err := f.svc.Create(context.Background(), CreateInput{AdhocCustomerID: &guestID})
	require.NoError(t, err)
	_, err = f.svc.AddLineItem(context.Background(), guest.ID, variant.ID, 2, outbox.ActorRef{})
	require.NoError(t, err)

	merged, err := f.svc.Associate(context.Background(), guest.ID, userID, outbox.ActorRef{})
	require.NoError(t, err)
	require.NotNil(t, merged.UserID)
	assert.Equal(t, userID, *merged.UserID)
	assert.Equal(t, int64(3000), merged.ItemTotalCents)

	previous, err := f.svc.Get(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStateCanceled, previous.State)
}

func TestExpireStaleCarts(t *testing.T) {
	f := newOrdersFixture(t)
	stale := f.seedCart(t)
	fresh := f.seedCart(t)
	f.repo.orders[stale.ID].UpdatedAt = time.Now().Add(-2 * time.Hour)

	expired, err := f.svc.ExpireStaleCarts(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	canceled, err := f.svc.Get(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStateCanceled, canceled.State)
	assert.True(t, f.outbox.has(enums.EventCartExpired))

	untouched, err := f.svc.Get(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStateCart, untouched.State)
}

func TestReturnFlow(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)
	f.repo.orders[order.ID].State = enums.OrderStateComplete

	returned, err := f.svc.BeginReturn(context.Background(), order.ID, outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStateAwaitingReturn, returned.State)

	returned, err = f.svc.MarkReturned(context.Background(), order.ID, outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStateReturned, returned.State)

	_, err = f.svc.MarkReturned(context.Background(), order.ID, outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestEmptyFromDeliveryResetsShipping(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)
	variant := f.seedVariant(1200)

	_, err := f.svc.AddLineItem(context.Background(), order.ID, variant.ID, 1, outbox.ActorRef{})
	require.NoError(t, err)

	stored := f.repo.orders[order.ID]
	stored.State = enums.OrderStateDelivery
	method := enums.ShippingMethodExpress.String()
	stored.ShippingMethod = &method
	stored.ShipmentTotalCents = enums.ShippingMethodExpress.RateCents()

	emptied, err := f.svc.Empty(context.Background(), order.ID, outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStateCart, emptied.State)
	assert.Nil(t, emptied.ShippingMethod)
	assert.Equal(t, int64(0), emptied.ShipmentTotalCents)
	assert.Equal(t, int64(0), emptied.GrandTotalCents)

	lines, err := f.svc.Lines(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestApplyCouponAllowedUntilComplete(t *testing.T) {
	f := newOrdersFixture(t)
	order := f.seedCart(t)
	variant := f.seedVariant(8000)
	_, err := f.svc.AddLineItem(context.Background(), order.ID, variant.ID, 1, outbox.ActorRef{})
	require.NoError(t, err)
	f.promos.promotions["vip"] = &models.Promotion{ID: uuid.New(), Name: "vip"}

	// A coupon may still land while the order sits at confirmation.
	f.repo.orders[order.ID].State = enums.OrderStateConfirm
	updated, err := f.svc.ApplyCoupon(context.Background(), order.ID, "vip", outbox.ActorRef{})
	require.NoError(t, err)
	require.NotNil(t, updated.PromoCode)
	assert.Equal(t, "vip", *updated.PromoCode)

	f.repo.orders[order.ID].State = enums.OrderStateComplete
	_, err = f.svc.ApplyCoupon(context.Background(), order.ID, "vip", outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	f.repo.orders[order.ID].State = enums.OrderStateCanceled
	_, err = f.svc.ApplyCoupon(context.Background(), order.ID, "vip", outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestConcurrentAddLineItemMergesUnderRetry(t *testing.T) {
	repo := newStubOrdersRepo()
	events := &stubOrdersOutbox{}
	svc, err := NewService(Deps{
		Repo:      repo,
		Tx:        &rollbackTx{repo: repo, outbox: events},
		Promos:    newStubPromoEngine(),
		Stock:     &stubStock{locationID: uuid.New()},
		Payments:  &stubChecker{},
		Shipments: &stubShipments{},
		Outbox:    events,
		Checkout: config.CheckoutConfig{
			CartTTL:                 time.Hour,
			GuestMergeRepriceWindow: 10 * time.Minute,
		},
		Metrics: metrics.NewCommandMetrics(nil),
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)

	userID := uuid.New()
	order, err := svc.Create(context.Background(), CreateInput{UserID: &userID})
	require.NoError(t, err)
	variant := &models.Variant{ID: uuid.New(), SKU: "SKU-RACE", Name: "widget", Active: true}
	repo.variants[variant.ID] = variant
	repo.prices[priceKey{variant.ID, enums.CurrencyUSD}] = &models.VariantPrice{
		ID:          uuid.New(),
		VariantID:   variant.ID,
		Currency:    enums.CurrencyUSD,
		AmountCents: 1500,
	}

	// One writer loses the optimistic lock, rolls back and retries against
	// the state the winner committed.
	repo.updateConflicts = 1

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AddLineItem(context.Background(), order.ID, variant.ID, 1, outbox.ActorRef{})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	lines, err := svc.Lines(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Qty)
	assert.Equal(t, int64(3000), lines[0].TotalCents)

	final, err := svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), final.ItemTotalCents)
	assert.Equal(t, int64(3000), final.GrandTotalCents)
	assert.Equal(t, 2, events.count(enums.EventLineItemAdded))
}
