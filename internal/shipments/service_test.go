package shipments

import (
	"context"
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
	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
	"github.com/mercatto/commerce-core/pkg/logger"
	"github.com/mercatto/commerce-core/pkg/outbox"
)

type stubShipmentRepo struct {
	mu        sync.Mutex
	shipments map[uuid.UUID]*models.Shipment
	units     []*models.InventoryUnit
}

func newStubShipmentRepo() *stubShipmentRepo {
	return &stubShipmentRepo{shipments: make(map[uuid.UUID]*models.Shipment)}
}

func (s *stubShipmentRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubShipmentRepo) Create(_ context.Context, shipment *models.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if shipment.ID == uuid.Nil {
		shipment.ID = uuid.New()
	}
	clone := *shipment
	s.shipments[shipment.ID] = &clone
	return nil
}

func (s *stubShipmentRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shipment, ok := s.shipments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *shipment
	return &clone, nil
}

func (s *stubShipmentRepo) FindByNumber(_ context.Context, number string) (*models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, shipment := range s.shipments {
		if shipment.Number == number {
			clone := *shipment
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubShipmentRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []models.Shipment
	for _, shipment := range s.shipments {
		if shipment.OrderID == orderID {
			rows = append(rows, *shipment)
		}
	}
	return rows, nil
}

func (s *stubShipmentRepo) Update(_ context.Context, shipment *models.Shipment, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.shipments[shipment.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for column, value := range updates {
		switch column {
		case "state":
			stored.State = value.(enums.ShipmentState)
		case "tracking_number":
			tracking := value.(string)
			stored.TrackingNumber = &tracking
		case "ready_at":
			at := value.(time.Time)
			stored.ReadyAt = &at
		case "shipped_at":
			at := value.(time.Time)
			stored.ShippedAt = &at
		case "delivered_at":
			at := value.(time.Time)
			stored.DeliveredAt = &at
		case "canceled_at":
			at := value.(time.Time)
			stored.CanceledAt = &at
		}
	}
	stored.LockVersion++
	return nil
}

func (s *stubShipmentRepo) CreateUnit(_ context.Context, unit *models.InventoryUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unit.ID == uuid.Nil {
		unit.ID = uuid.New()
	}
	clone := *unit
	s.units = append(s.units, &clone)
	return nil
}

func (s *stubShipmentRepo) UnitsByShipment(_ context.Context, shipmentID uuid.UUID) ([]models.InventoryUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []models.InventoryUnit
	for _, unit := range s.units {
		if unit.ShipmentID != nil && *unit.ShipmentID == shipmentID {
			rows = append(rows, *unit)
		}
	}
	return rows, nil
}

func (s *stubShipmentRepo) UpdateUnitStates(_ context.Context, shipmentID uuid.UUID, from, to enums.InventoryUnitState) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flipped int64
	for _, unit := range s.units {
		if unit.ShipmentID != nil && *unit.ShipmentID == shipmentID && unit.State == from {
			unit.State = to
			flipped++
		}
	}
	return flipped, nil
}

type moverCall struct {
	shipmentID uuid.UUID
	lines      []inventory.ReservationLine
}

type stubMover struct {
	mu        sync.Mutex
	unstocked []moverCall
	released  []moverCall
	received  []moverCall
}

func (s *stubMover) UnstockForShipmentTx(_ context.Context, _ *gorm.DB, shipmentID, _ uuid.UUID, lines []inventory.ReservationLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unstocked = append(s.unstocked, moverCall{shipmentID, lines})
	return nil
}

func (s *stubMover) ReleaseForShipmentTx(_ context.Context, _ *gorm.DB, shipmentID, _ uuid.UUID, lines []inventory.ReservationLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, moverCall{shipmentID, lines})
	return nil
}

func (s *stubMover) ReceiveForShipmentTx(_ context.Context, _ *gorm.DB, shipmentID, _ uuid.UUID, lines []inventory.ReservationLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, moverCall{shipmentID, lines})
	return nil
}

type stubShipmentTx struct{}

func (stubShipmentTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type stubShipmentOutbox struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
}

func (s *stubShipmentOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubShipmentOutbox) types() []enums.OutboxEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]enums.OutboxEventType, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.EventType)
	}
	return out
}

type shipmentsFixture struct {
	repo       *stubShipmentRepo
	locationID uuid.UUID
	mover      *stubMover
	outbox     *stubShipmentOutbox
	svc        Service
}

func newShipmentsFixture(t *testing.T) *shipmentsFixture {
	t.Helper()
	f := &shipmentsFixture{
		repo:       newStubShipmentRepo(),
		locationID: uuid.New(),
		mover:      &stubMover{},
		outbox:     &stubShipmentOutbox{},
	}
	svc, err := NewService(Deps{
		Repo:   f.repo,
		Mover:  f.mover,
		Tx:     stubShipmentTx{},
		Outbox: f.outbox,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *shipmentsFixture) allocation(variantID uuid.UUID, qty, backordered int) inventory.LocationAllocation {
	return inventory.LocationAllocation{
		LocationID: f.locationID,
		Lines:      []inventory.AllocatedLine{{VariantID: variantID, Qty: qty, Backordered: backordered}},
	}
}

func (f *shipmentsFixture) seedShipment(orderID uuid.UUID, state enums.ShipmentState) *models.Shipment {
	shipment := &models.Shipment{
		ID:              uuid.New(),
		OrderID:         orderID,
		Number:          generateShipmentNumber(),
		State:           state,
		StockLocationID: f.locationID,
		CostCents:       599,
	}
	f.repo.shipments[shipment.ID] = shipment
	return shipment
}

func (f *shipmentsFixture) seedUnits(shipment *models.Shipment, variantID uuid.UUID, qty int, state enums.InventoryUnitState) {
	lineItemID := uuid.New()
	for i := 0; i < qty; i++ {
		f.repo.units = append(f.repo.units, &models.InventoryUnit{
			ID:         uuid.New(),
			VariantID:  variantID,
			LineItemID: lineItemID,
			ShipmentID: &shipment.ID,
			State:      state,
		})
	}
}

func shippingMethod(m enums.ShippingMethod) *string {
	v := m.String()
	return &v
}

func TestBuildForOrderAllocatesUnitsAndBackorders(t *testing.T) {
	f := newShipmentsFixture(t)
	variantID := uuid.New()
	order := &models.Order{ID: uuid.New(), ShippingMethod: shippingMethod(enums.ShippingMethodStandard)}
	line := models.LineItem{ID: uuid.New(), VariantID: variantID, Qty: 3}

	cost, err := f.svc.BuildForOrderTx(context.Background(), &gorm.DB{}, order, []models.LineItem{line},
		[]inventory.LocationAllocation{f.allocation(variantID, 3, 1)})
	require.NoError(t, err)
	assert.Equal(t, int64(599), cost)

	shipments, err := f.svc.ListByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, shipments, 1)
	assert.Equal(t, enums.ShipmentStatePending, shipments[0].State)
	assert.Equal(t, f.locationID, shipments[0].StockLocationID)
	assert.True(t, strings.HasPrefix(shipments[0].Number, "SHP-"))

	units, err := f.svc.Units(context.Background(), shipments[0].ID)
	require.NoError(t, err)
	require.Len(t, units, 3)
	backordered := 0
	for _, unit := range units {
		assert.Equal(t, line.ID, unit.LineItemID)
		if unit.State == enums.InventoryUnitBackordered {
			backordered++
		}
	}
	// The allocation covered one unit beyond free stock.
	assert.Equal(t, 1, backordered)
}

func TestBuildForOrderCreatesShipmentPerLocation(t *testing.T) {
	f := newShipmentsFixture(t)
	variantID := uuid.New()
	order := &models.Order{ID: uuid.New(), ShippingMethod: shippingMethod(enums.ShippingMethodStandard)}
	line := models.LineItem{ID: uuid.New(), VariantID: variantID, Qty: 5}
	secondLocation := uuid.New()

	cost, err := f.svc.BuildForOrderTx(context.Background(), &gorm.DB{}, order, []models.LineItem{line},
		[]inventory.LocationAllocation{
			f.allocation(variantID, 2, 0),
			{
				LocationID: secondLocation,
				Lines:      []inventory.AllocatedLine{{VariantID: variantID, Qty: 3}},
			},
		})
	require.NoError(t, err)
	// Each location ships separately and each shipment charges the method rate.
	assert.Equal(t, int64(1198), cost)

	shipments, err := f.svc.ListByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, shipments, 2)
	unitTotal := 0
	for _, shipment := range shipments {
		units, err := f.svc.Units(context.Background(), shipment.ID)
		require.NoError(t, err)
		unitTotal += len(units)
	}
	assert.Equal(t, 5, unitTotal)
}

func TestBuildForOrderIsIdempotentWithLiveShipment(t *testing.T) {
	f := newShipmentsFixture(t)
	variantID := uuid.New()
	order := &models.Order{ID: uuid.New(), ShippingMethod: shippingMethod(enums.ShippingMethodExpress)}
	line := models.LineItem{ID: uuid.New(), VariantID: variantID, Qty: 2}
	allocations := []inventory.LocationAllocation{f.allocation(variantID, 2, 0)}

	first, err := f.svc.BuildForOrderTx(context.Background(), &gorm.DB{}, order, []models.LineItem{line}, allocations)
	require.NoError(t, err)
	assert.Equal(t, int64(1499), first)

	again, err := f.svc.BuildForOrderTx(context.Background(), &gorm.DB{}, order, []models.LineItem{line}, allocations)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	shipments, err := f.svc.ListByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Len(t, shipments, 1)
}

func TestBuildForOrderRequiresShippingMethod(t *testing.T) {
	f := newShipmentsFixture(t)
	order := &models.Order{ID: uuid.New()}

	_, err := f.svc.BuildForOrderTx(context.Background(), &gorm.DB{}, order, nil, nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeBusinessRule, pkgerrors.As(err).Code())
}

func TestBuildForOrderFullyBackorderedAllocation(t *testing.T) {
	f := newShipmentsFixture(t)
	variantID := uuid.New()
	order := &models.Order{ID: uuid.New(), ShippingMethod: shippingMethod(enums.ShippingMethodPickup)}
	line := models.LineItem{ID: uuid.New(), VariantID: variantID, Qty: 2}

	cost, err := f.svc.BuildForOrderTx(context.Background(), &gorm.DB{}, order, []models.LineItem{line},
		[]inventory.LocationAllocation{f.allocation(variantID, 2, 2)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), cost)

	shipments, _ := f.svc.ListByOrder(context.Background(), order.ID)
	require.Len(t, shipments, 1)
	units, _ := f.svc.Units(context.Background(), shipments[0].ID)
	require.Len(t, units, 2)
	for _, unit := range units {
		assert.Equal(t, enums.InventoryUnitBackordered, unit.State)
	}
}

func TestPromoteForOrderMarksReadyWhenAllOnHand(t *testing.T) {
	f := newShipmentsFixture(t)
	orderID := uuid.New()
	ready := f.seedShipment(orderID, enums.ShipmentStatePending)
	f.seedUnits(ready, uuid.New(), 2, enums.InventoryUnitOnHand)
	blocked := f.seedShipment(orderID, enums.ShipmentStatePending)
	f.seedUnits(blocked, uuid.New(), 1, enums.InventoryUnitBackordered)

	err := f.svc.PromoteForOrderTx(context.Background(), &gorm.DB{}, orderID)
	require.NoError(t, err)

	assert.Equal(t, enums.ShipmentStateReady, f.repo.shipments[ready.ID].State)
	assert.NotNil(t, f.repo.shipments[ready.ID].ReadyAt)
	assert.Equal(t, enums.ShipmentStatePending, f.repo.shipments[blocked.ID].State)
	assert.Contains(t, f.outbox.types(), enums.EventShipmentReady)
}

func TestShipUnstocksAndMarksUnitsShipped(t *testing.T) {
	f := newShipmentsFixture(t)
	variantID := uuid.New()
	shipment := f.seedShipment(uuid.New(), enums.ShipmentStateReady)
	f.seedUnits(shipment, variantID, 2, enums.InventoryUnitOnHand)

	updated, err := f.svc.Ship(context.Background(), shipment.ID, "TRACK123", outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStateShipped, updated.State)
	require.NotNil(t, updated.TrackingNumber)
	assert.Equal(t, "TRACK123", *updated.TrackingNumber)
	assert.NotNil(t, updated.ShippedAt)

	require.Len(t, f.mover.unstocked, 1)
	require.Len(t, f.mover.unstocked[0].lines, 1)
	assert.Equal(t, inventory.ReservationLine{VariantID: variantID, Qty: 2}, f.mover.unstocked[0].lines[0])

	units, _ := f.svc.Units(context.Background(), shipment.ID)
	for _, unit := range units {
		assert.Equal(t, enums.InventoryUnitShipped, unit.State)
	}
	assert.Contains(t, f.outbox.types(), enums.EventShipmentShipped)
}

func TestShipRequiresTrackingNumber(t *testing.T) {
	f := newShipmentsFixture(t)
	shipment := f.seedShipment(uuid.New(), enums.ShipmentStateReady)

	_, err := f.svc.Ship(context.Background(), shipment.ID, "", outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, ReasonMissingTracking, pkgerrors.As(err).Reason())
}

func TestShipRejectsPendingShipment(t *testing.T) {
	f := newShipmentsFixture(t)
	shipment := f.seedShipment(uuid.New(), enums.ShipmentStatePending)

	_, err := f.svc.Ship(context.Background(), shipment.ID, "TRACK123", outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, ReasonInvalidState, pkgerrors.As(err).Reason())
}

func TestMarkDelivered(t *testing.T) {
	f := newShipmentsFixture(t)
	shipment := f.seedShipment(uuid.New(), enums.ShipmentStateShipped)

	updated, err := f.svc.MarkDelivered(context.Background(), shipment.ID, outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStateDelivered, updated.State)
	assert.NotNil(t, updated.DeliveredAt)
	assert.Contains(t, f.outbox.types(), enums.EventShipmentDelivered)

	_, err = f.svc.MarkDelivered(context.Background(), shipment.ID, outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, ReasonInvalidState, pkgerrors.As(err).Reason())
}

func TestCancelReleasesReservedUnits(t *testing.T) {
	f := newShipmentsFixture(t)
	variantID := uuid.New()
	shipment := f.seedShipment(uuid.New(), enums.ShipmentStatePending)
	f.seedUnits(shipment, variantID, 2, enums.InventoryUnitOnHand)
	f.seedUnits(shipment, variantID, 1, enums.InventoryUnitBackordered)

	updated, err := f.svc.Cancel(context.Background(), shipment.ID, "customer request", outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStateCanceled, updated.State)
	assert.NotNil(t, updated.CanceledAt)

	require.Len(t, f.mover.released, 1)
	require.Len(t, f.mover.released[0].lines, 1)
	assert.Equal(t, 3, f.mover.released[0].lines[0].Qty)

	units, _ := f.svc.Units(context.Background(), shipment.ID)
	for _, unit := range units {
		assert.Equal(t, enums.InventoryUnitCanceled, unit.State)
	}
}

func TestCancelRejectsShippedShipment(t *testing.T) {
	f := newShipmentsFixture(t)
	shipment := f.seedShipment(uuid.New(), enums.ShipmentStateShipped)

	_, err := f.svc.Cancel(context.Background(), shipment.ID, "too late", outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, ReasonAlreadyShipped, pkgerrors.As(err).Reason())
}

func TestCancelForOrderRefusesWhenAnyShipped(t *testing.T) {
	f := newShipmentsFixture(t)
	orderID := uuid.New()
	f.seedShipment(orderID, enums.ShipmentStateShipped)

	err := f.svc.CancelForOrderTx(context.Background(), &gorm.DB{}, orderID, "cancel order")
	require.Error(t, err)
	assert.Equal(t, ReasonAlreadyShipped, pkgerrors.As(err).Reason())
}

func TestCancelForOrderSkipsAlreadyCanceled(t *testing.T) {
	f := newShipmentsFixture(t)
	orderID := uuid.New()
	live := f.seedShipment(orderID, enums.ShipmentStatePending)
	f.seedShipment(orderID, enums.ShipmentStateCanceled)

	err := f.svc.CancelForOrderTx(context.Background(), &gorm.DB{}, orderID, "cancel order")
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStateCanceled, f.repo.shipments[live.ID].State)
}

func TestReceiveBackorderedPromotesShipment(t *testing.T) {
	f := newShipmentsFixture(t)
	variantID := uuid.New()
	shipment := f.seedShipment(uuid.New(), enums.ShipmentStatePending)
	f.seedUnits(shipment, variantID, 1, enums.InventoryUnitOnHand)
	f.seedUnits(shipment, variantID, 2, enums.InventoryUnitBackordered)

	updated, err := f.svc.ReceiveBackordered(context.Background(), shipment.ID, outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStateReady, updated.State)

	require.Len(t, f.mover.received, 1)
	require.Len(t, f.mover.received[0].lines, 1)
	assert.Equal(t, 2, f.mover.received[0].lines[0].Qty)

	units, _ := f.svc.Units(context.Background(), shipment.ID)
	for _, unit := range units {
		assert.Equal(t, enums.InventoryUnitOnHand, unit.State)
	}
	assert.Contains(t, f.outbox.types(), enums.EventShipmentReady)
}

func TestReceiveBackorderedWithNothingPendingIsNoOp(t *testing.T) {
	f := newShipmentsFixture(t)
	shipment := f.seedShipment(uuid.New(), enums.ShipmentStatePending)
	f.seedUnits(shipment, uuid.New(), 1, enums.InventoryUnitOnHand)

	updated, err := f.svc.ReceiveBackordered(context.Background(), shipment.ID, outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStatePending, updated.State)
	assert.Empty(t, f.mover.received)
}

func TestGenerateShipmentNumberFormat(t *testing.T) {
	number := generateShipmentNumber()
	require.Len(t, number, 17)
	assert.True(t, strings.HasPrefix(number, "SHP-"))
	for _, r := range number[4:] {
		assert.Contains(t, crockford, string(r))
	}
}
