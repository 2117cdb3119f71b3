package shipments

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/internal/inventory"
	dbpkg "github.com/mercatto/commerce-core/pkg/db"
	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
	"github.com/mercatto/commerce-core/pkg/logger"
	"github.com/mercatto/commerce-core/pkg/outbox"
	"github.com/mercatto/commerce-core/pkg/outbox/payloads"
)

// Stable reason identifiers carried on structured errors.
const (
	ReasonNotFound        = "Shipment.NotFound"
	ReasonInvalidState    = "Shipment.InvalidState"
	ReasonAlreadyShipped  = "Shipment.AlreadyShipped"
	ReasonMissingTracking = "Shipment.MissingTrackingNumber"
)

// Service covers fulfillment: allocation when checkout leaves delivery,
// promotion at completion, and the ship/deliver/cancel lifecycle.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Shipment, error)
	GetByNumber(ctx context.Context, number string) (*models.Shipment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error)
	Units(ctx context.Context, shipmentID uuid.UUID) ([]models.InventoryUnit, error)

	Ship(ctx context.Context, shipmentID uuid.UUID, trackingNumber string, actor outbox.ActorRef) (*models.Shipment, error)
	MarkDelivered(ctx context.Context, shipmentID uuid.UUID, actor outbox.ActorRef) (*models.Shipment, error)
	Cancel(ctx context.Context, shipmentID uuid.UUID, reason string, actor outbox.ActorRef) (*models.Shipment, error)
	ReceiveBackordered(ctx context.Context, shipmentID uuid.UUID, actor outbox.ActorRef) (*models.Shipment, error)

	// Order-transaction hooks used by the checkout pipeline.
	BuildForOrderTx(ctx context.Context, tx *gorm.DB, order *models.Order, lines []models.LineItem, allocations []inventory.LocationAllocation) (int64, error)
	PromoteForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	CancelForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error
}

// Deps carries the collaborators the shipment service needs.
type Deps struct {
	Repo   Repository
	Mover  stockMover
	Tx     txRunner
	Outbox outboxPublisher
	Logger *logger.Logger
}

type service struct {
	repo      Repository
	mover     stockMover
	tx        txRunner
	outboxSvc outboxPublisher
	logg      *logger.Logger
}

// NewService builds the shipment service with the required dependencies.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("shipments repository required")
	}
	if deps.Mover == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      deps.Repo,
		mover:     deps.Mover,
		tx:        deps.Tx,
		outboxSvc: deps.Outbox,
		logg:      deps.Logger,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	shipment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return shipment, nil
}

func (s *service) GetByNumber(ctx context.Context, number string) (*models.Shipment, error) {
	shipment, err := s.repo.FindByNumber(ctx, number)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return shipment, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

func (s *service) Units(ctx context.Context, shipmentID uuid.UUID) ([]models.InventoryUnit, error) {
	return s.repo.UnitsByShipment(ctx, shipmentID)
}

// BuildForOrderTx materializes one shipment per location allocation and
// returns the summed shipment cost. Allocated units beyond free on-hand stock
// start backordered. Calling again with live shipments is a no-op returning
// the existing total.
func (s *service) BuildForOrderTx(ctx context.Context, tx *gorm.DB, order *models.Order, lines []models.LineItem, allocations []inventory.LocationAllocation) (int64, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)

	existing, err := repo.ListByOrder(ctx, order.ID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipments")
	}
	liveTotal := int64(0)
	live := false
	for _, shipment := range existing {
		if shipment.State != enums.ShipmentStateCanceled {
			live = true
			liveTotal += shipment.CostCents
		}
	}
	if live {
		return liveTotal, nil
	}

	if order.ShippingMethod == nil {
		return 0, pkgerrors.New(pkgerrors.CodeBusinessRule, "shipping method required").
			WithReason("Order.MissingShippingMethod")
	}
	method, err := enums.ParseShippingMethod(*order.ShippingMethod)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse shipping method")
	}

	lineByVariant := make(map[uuid.UUID]*models.LineItem, len(lines))
	for i := range lines {
		lineByVariant[lines[i].VariantID] = &lines[i]
	}

	total := int64(0)
	for _, allocation := range allocations {
		shipment := &models.Shipment{
			OrderID:         order.ID,
			Number:          generateShipmentNumber(),
			State:           enums.ShipmentStatePending,
			StockLocationID: allocation.LocationID,
			CostCents:       method.RateCents(),
			ShippingMethod:  order.ShippingMethod,
		}
		if err := repo.Create(ctx, shipment); err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create shipment")
		}
		total += shipment.CostCents

		for _, allocated := range allocation.Lines {
			line := lineByVariant[allocated.VariantID]
			if line == nil {
				return 0, pkgerrors.New(pkgerrors.CodeInternal, "allocation references unknown variant").
					WithDetail("variant_id", allocated.VariantID.String())
			}
			for i := 0; i < allocated.Qty; i++ {
				state := enums.InventoryUnitOnHand
				if i >= allocated.Qty-allocated.Backordered {
					state = enums.InventoryUnitBackordered
				}
				unit := &models.InventoryUnit{
					VariantID:  allocated.VariantID,
					LineItemID: line.ID,
					ShipmentID: &shipment.ID,
					State:      state,
				}
				if err := repo.CreateUnit(ctx, unit); err != nil {
					return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create inventory unit")
				}
			}
		}
	}
	return total, nil
}

// PromoteForOrderTx moves pending shipments whose units are all on hand to
// ready and emits shipment_ready for each.
func (s *service) PromoteForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	shipments, err := repo.ListByOrder(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipments")
	}
	for i := range shipments {
		shipment := &shipments[i]
		if shipment.State != enums.ShipmentStatePending {
			continue
		}
		units, err := repo.UnitsByShipment(ctx, shipment.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory units")
		}
		if !allUnitsOnHand(units) {
			continue
		}
		if err := s.markReady(ctx, tx, repo, shipment); err != nil {
			return err
		}
	}
	return nil
}

// CancelForOrderTx cancels every live shipment of the order, releasing its
// reservations. A shipped or delivered shipment refuses cancellation.
func (s *service) CancelForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	shipments, err := repo.ListByOrder(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipments")
	}
	for i := range shipments {
		shipment := &shipments[i]
		switch shipment.State {
		case enums.ShipmentStateCanceled:
			continue
		case enums.ShipmentStateShipped, enums.ShipmentStateDelivered:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "shipped shipment cannot be canceled").
				WithReason(ReasonAlreadyShipped).
				WithDetail("shipment_id", shipment.ID.String())
		}
		if err := s.cancelTx(ctx, tx, repo, shipment); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) Ship(ctx context.Context, shipmentID uuid.UUID, trackingNumber string, actor outbox.ActorRef) (*models.Shipment, error) {
	if trackingNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking number required").
			WithReason(ReasonMissingTracking)
	}
	err := dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			shipment, err := repo.FindByID(ctx, shipmentID)
			if err != nil {
				return mapNotFound(err)
			}
			if shipment.State != enums.ShipmentStateReady {
				return errInvalidState(shipment.State, "ship")
			}
			units, err := repo.UnitsByShipment(ctx, shipment.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory units")
			}
			lines := groupUnits(units, enums.InventoryUnitOnHand)
			if err := s.mover.UnstockForShipmentTx(ctx, tx, shipment.ID, shipment.StockLocationID, lines); err != nil {
				return err
			}
			if _, err := repo.UpdateUnitStates(ctx, shipment.ID, enums.InventoryUnitOnHand, enums.InventoryUnitShipped); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark units shipped")
			}
			now := time.Now().UTC()
			if err := repo.Update(ctx, shipment, map[string]any{
				"state":           enums.ShipmentStateShipped,
				"shipped_at":      now,
				"tracking_number": trackingNumber,
			}); err != nil {
				return err
			}
			return s.emit(ctx, tx, enums.EventShipmentShipped, shipment, actor, payloads.ShipmentStatusEvent{
				ShipmentID:     shipment.ID,
				OrderID:        shipment.OrderID,
				Number:         shipment.Number,
				State:          enums.ShipmentStateShipped.String(),
				TrackingNumber: &trackingNumber,
				OccurredAt:     &now,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, shipmentID)
}

func (s *service) MarkDelivered(ctx context.Context, shipmentID uuid.UUID, actor outbox.ActorRef) (*models.Shipment, error) {
	err := dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			shipment, err := repo.FindByID(ctx, shipmentID)
			if err != nil {
				return mapNotFound(err)
			}
			if shipment.State != enums.ShipmentStateShipped {
				return errInvalidState(shipment.State, "mark_delivered")
			}
			now := time.Now().UTC()
			if err := repo.Update(ctx, shipment, map[string]any{
				"state":        enums.ShipmentStateDelivered,
				"delivered_at": now,
			}); err != nil {
				return err
			}
			return s.emit(ctx, tx, enums.EventShipmentDelivered, shipment, actor, payloads.ShipmentStatusEvent{
				ShipmentID:     shipment.ID,
				OrderID:        shipment.OrderID,
				Number:         shipment.Number,
				State:          enums.ShipmentStateDelivered.String(),
				TrackingNumber: shipment.TrackingNumber,
				OccurredAt:     &now,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, shipmentID)
}

func (s *service) Cancel(ctx context.Context, shipmentID uuid.UUID, reason string, actor outbox.ActorRef) (*models.Shipment, error) {
	err := dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			shipment, err := repo.FindByID(ctx, shipmentID)
			if err != nil {
				return mapNotFound(err)
			}
			switch shipment.State {
			case enums.ShipmentStatePending, enums.ShipmentStateReady:
				return s.cancelTx(ctx, tx, repo, shipment)
			case enums.ShipmentStateShipped, enums.ShipmentStateDelivered:
				return pkgerrors.New(pkgerrors.CodeStateConflict, "shipped shipment cannot be canceled").
					WithReason(ReasonAlreadyShipped)
			default:
				return errInvalidState(shipment.State, "cancel")
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, shipmentID)
}

// ReceiveBackordered receives stock for the shipment's backordered units and
// flips them on hand. When every unit is on hand the shipment becomes ready.
func (s *service) ReceiveBackordered(ctx context.Context, shipmentID uuid.UUID, actor outbox.ActorRef) (*models.Shipment, error) {
	err := dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			shipment, err := repo.FindByID(ctx, shipmentID)
			if err != nil {
				return mapNotFound(err)
			}
			if shipment.State != enums.ShipmentStatePending {
				return errInvalidState(shipment.State, "receive_backordered")
			}
			units, err := repo.UnitsByShipment(ctx, shipment.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory units")
			}
			lines := groupUnits(units, enums.InventoryUnitBackordered)
			if len(lines) == 0 {
				return nil
			}
			if err := s.mover.ReceiveForShipmentTx(ctx, tx, shipment.ID, shipment.StockLocationID, lines); err != nil {
				return err
			}
			if _, err := repo.UpdateUnitStates(ctx, shipment.ID, enums.InventoryUnitBackordered, enums.InventoryUnitOnHand); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete backordered units")
			}
			return s.markReady(ctx, tx, repo, shipment)
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, shipmentID)
}

func (s *service) cancelTx(ctx context.Context, tx *gorm.DB, repo Repository, shipment *models.Shipment) error {
	units, err := repo.UnitsByShipment(ctx, shipment.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory units")
	}
	lines := groupUnits(units, enums.InventoryUnitOnHand, enums.InventoryUnitBackordered)
	if len(lines) > 0 {
		if err := s.mover.ReleaseForShipmentTx(ctx, tx, shipment.ID, shipment.StockLocationID, lines); err != nil {
			return err
		}
	}
	if _, err := repo.UpdateUnitStates(ctx, shipment.ID, enums.InventoryUnitOnHand, enums.InventoryUnitCanceled); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel on-hand units")
	}
	if _, err := repo.UpdateUnitStates(ctx, shipment.ID, enums.InventoryUnitBackordered, enums.InventoryUnitCanceled); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel backordered units")
	}
	return repo.Update(ctx, shipment, map[string]any{
		"state":       enums.ShipmentStateCanceled,
		"canceled_at": time.Now().UTC(),
	})
}

func (s *service) markReady(ctx context.Context, tx *gorm.DB, repo Repository, shipment *models.Shipment) error {
	now := time.Now().UTC()
	if err := repo.Update(ctx, shipment, map[string]any{
		"state":    enums.ShipmentStateReady,
		"ready_at": now,
	}); err != nil {
		return err
	}
	shipment.LockVersion++
	shipment.State = enums.ShipmentStateReady
	return s.emit(ctx, tx, enums.EventShipmentReady, shipment, outbox.ActorRef{}, payloads.ShipmentStatusEvent{
		ShipmentID: shipment.ID,
		OrderID:    shipment.OrderID,
		Number:     shipment.Number,
		State:      enums.ShipmentStateReady.String(),
		OccurredAt: &now,
	})
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, shipment *models.Shipment, actor outbox.ActorRef, data any) error {
	var ref *outbox.ActorRef
	if actor.UserID != uuid.Nil || actor.Role != "" {
		ref = &actor
	}
	return s.outboxSvc.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateShipment,
		AggregateID:   shipment.ID,
		Actor:         ref,
		Data:          data,
	})
}

func allUnitsOnHand(units []models.InventoryUnit) bool {
	for _, unit := range units {
		if unit.State == enums.InventoryUnitCanceled {
			continue
		}
		if unit.State != enums.InventoryUnitOnHand {
			return false
		}
	}
	return true
}

func groupUnits(units []models.InventoryUnit, states ...enums.InventoryUnitState) []inventory.ReservationLine {
	wanted := make(map[enums.InventoryUnitState]bool, len(states))
	for _, state := range states {
		wanted[state] = true
	}
	counts := map[uuid.UUID]int{}
	order := []uuid.UUID{}
	for _, unit := range units {
		if !wanted[unit.State] {
			continue
		}
		if _, seen := counts[unit.VariantID]; !seen {
			order = append(order, unit.VariantID)
		}
		counts[unit.VariantID]++
	}
	lines := make([]inventory.ReservationLine, 0, len(order))
	for _, variantID := range order {
		lines = append(lines, inventory.ReservationLine{VariantID: variantID, Qty: counts[variantID]})
	}
	return lines
}

func errInvalidState(state enums.ShipmentState, operation string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "operation not allowed in current shipment state").
		WithReason(ReasonInvalidState).
		WithDetail("state", state.String()).
		WithDetail("operation", operation)
}

func mapNotFound(err error) error {
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found").
			WithReason(ReasonNotFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
}
