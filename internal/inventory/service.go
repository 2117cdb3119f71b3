package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/mercatto/commerce-core/pkg/db"
	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
	"github.com/mercatto/commerce-core/pkg/logger"
	"github.com/mercatto/commerce-core/pkg/outbox"
	"github.com/mercatto/commerce-core/pkg/outbox/payloads"
)

// Stable reason identifiers surfaced to API clients.
const (
	ReasonOutOfStock           = "Stock.OutOfStock"
	ReasonInsufficientOnHand   = "Stock.InsufficientOnHand"
	ReasonReservationUnderflow = "Stock.ReservationUnderflow"
	ReasonNoDefaultLocation    = "Stock.NoDefaultLocation"
)

// ReservationLine is one variant/quantity pair reserved or released together.
type ReservationLine struct {
	VariantID uuid.UUID
	Qty       int
}

// AllocatedLine is one variant's share of a location allocation. Backordered
// counts the units beyond free on-hand stock, covered by the item's backorder
// limit.
type AllocatedLine struct {
	VariantID   uuid.UUID
	Qty         int
	Backordered int
}

// LocationAllocation groups the units one stock location fulfills for an
// order. The shipment builder creates one shipment per allocation.
type LocationAllocation struct {
	LocationID uuid.UUID
	Lines      []AllocatedLine
}

// AdjustInput is a manual correction to on-hand stock.
type AdjustInput struct {
	VariantID  uuid.UUID
	LocationID uuid.UUID
	Qty        int
	Reason     string
}

// ReceiveInput books units arriving at a location.
type ReceiveInput struct {
	VariantID    uuid.UUID
	LocationID   uuid.UUID
	Qty          int
	OriginatorID *uuid.UUID
}

// TransferInput moves on-hand units between two locations atomically.
type TransferInput struct {
	VariantID      uuid.UUID
	FromLocationID uuid.UUID
	ToLocationID   uuid.UUID
	Qty            int
}

// Service exposes the stock ledger operations.
type Service interface {
	Adjust(ctx context.Context, input AdjustInput) (*models.StockItem, error)
	Receive(ctx context.Context, input ReceiveInput) (*models.StockItem, error)
	Transfer(ctx context.Context, input TransferInput) error
	Availability(ctx context.Context, variantID uuid.UUID) (int, error)

	// Tx-scoped operations compose into order and shipment transactions.
	ReserveForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []ReservationLine) ([]LocationAllocation, error)
	ReleaseForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []ReservationLine) error
	UnstockForShipmentTx(ctx context.Context, tx *gorm.DB, shipmentID, locationID uuid.UUID, lines []ReservationLine) error
	ReleaseForShipmentTx(ctx context.Context, tx *gorm.DB, shipmentID, locationID uuid.UUID, lines []ReservationLine) error
	ReceiveForShipmentTx(ctx context.Context, tx *gorm.DB, shipmentID, locationID uuid.UUID, lines []ReservationLine) error
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
}

// NewService builds the inventory service with the required dependencies.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tx: tx, outbox: outboxSvc, logg: logg}, nil
}

func (s *service) Adjust(ctx context.Context, input AdjustInput) (*models.StockItem, error) {
	if input.VariantID == uuid.Nil || input.LocationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant and location ids required")
	}
	if input.Qty == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be non-zero")
	}

	var updated *models.StockItem
	err := dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			item, err := s.findOrCreateItem(ctx, repo, input.VariantID, input.LocationID)
			if err != nil {
				return err
			}
			newOnHand := item.OnHand + input.Qty
			if newOnHand < 0 {
				return pkgerrors.New(pkgerrors.CodeBusinessRule, "adjustment would drive on-hand negative").
					WithReason(ReasonInsufficientOnHand).
					WithDetail("on_hand", item.OnHand).
					WithDetail("qty", input.Qty)
			}
			if err := repo.UpdateCounters(ctx, item, newOnHand, item.Reserved); err != nil {
				return err
			}
			movement := &models.StockMovement{
				StockItemID:    item.ID,
				Quantity:       input.Qty,
				Action:         enums.StockMovementAdjust,
				OriginatorType: enums.StockOriginatorManual,
				Reason:         input.Reason,
			}
			if err := repo.CreateMovement(ctx, movement); err != nil {
				return err
			}
			if err := s.emitStockMoved(ctx, tx, item, movement); err != nil {
				return err
			}
			item.OnHand = newOnHand
			item.LockVersion++
			updated = item
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) Receive(ctx context.Context, input ReceiveInput) (*models.StockItem, error) {
	if input.VariantID == uuid.Nil || input.LocationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant and location ids required")
	}
	if input.Qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
	}

	var updated *models.StockItem
	err := dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			item, err := s.findOrCreateItem(ctx, repo, input.VariantID, input.LocationID)
			if err != nil {
				return err
			}
			if err := repo.UpdateCounters(ctx, item, item.OnHand+input.Qty, item.Reserved); err != nil {
				return err
			}
			movement := &models.StockMovement{
				StockItemID:    item.ID,
				Quantity:       input.Qty,
				Action:         enums.StockMovementReceive,
				OriginatorType: enums.StockOriginatorShipment,
				OriginatorID:   input.OriginatorID,
			}
			if input.OriginatorID == nil {
				movement.OriginatorType = enums.StockOriginatorManual
			}
			if err := repo.CreateMovement(ctx, movement); err != nil {
				return err
			}
			if err := s.emitStockMoved(ctx, tx, item, movement); err != nil {
				return err
			}
			item.OnHand += input.Qty
			item.LockVersion++
			updated = item
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) Transfer(ctx context.Context, input TransferInput) error {
	if input.VariantID == uuid.Nil || input.FromLocationID == uuid.Nil || input.ToLocationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "variant and location ids required")
	}
	if input.FromLocationID == input.ToLocationID {
		return pkgerrors.New(pkgerrors.CodeValidation, "source and destination must differ")
	}
	if input.Qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
	}

	transferID := uuid.New()
	return dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			source, err := repo.FindStockItem(ctx, input.VariantID, input.FromLocationID)
			if err != nil {
				if err == gorm.ErrRecordNotFound {
					return pkgerrors.New(pkgerrors.CodeNotFound, "source stock item not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load source stock item")
			}
			// Reserved units stay put. Only free on-hand stock moves.
			free := source.OnHand - source.Reserved
			if input.Qty > free {
				return pkgerrors.New(pkgerrors.CodeBusinessRule, "not enough unreserved stock to transfer").
					WithReason(ReasonInsufficientOnHand).
					WithDetail("free", free).
					WithDetail("qty", input.Qty)
			}
			dest, err := s.findOrCreateItem(ctx, repo, input.VariantID, input.ToLocationID)
			if err != nil {
				return err
			}

			if err := repo.UpdateCounters(ctx, source, source.OnHand-input.Qty, source.Reserved); err != nil {
				return err
			}
			if err := repo.UpdateCounters(ctx, dest, dest.OnHand+input.Qty, dest.Reserved); err != nil {
				return err
			}

			outMove := &models.StockMovement{
				StockItemID:    source.ID,
				Quantity:       -input.Qty,
				Action:         enums.StockMovementTransfer,
				OriginatorType: enums.StockOriginatorTransfer,
				TransferID:     &transferID,
			}
			inMove := &models.StockMovement{
				StockItemID:    dest.ID,
				Quantity:       input.Qty,
				Action:         enums.StockMovementTransfer,
				OriginatorType: enums.StockOriginatorTransfer,
				TransferID:     &transferID,
			}
			if err := repo.CreateMovement(ctx, outMove); err != nil {
				return err
			}
			if err := repo.CreateMovement(ctx, inMove); err != nil {
				return err
			}
			if err := s.emitStockMoved(ctx, tx, source, outMove); err != nil {
				return err
			}
			return s.emitStockMoved(ctx, tx, dest, inMove)
		})
	})
}

func (s *service) Availability(ctx context.Context, variantID uuid.UUID) (int, error) {
	if variantID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
	}
	items, err := s.repo.FindStockItemsByVariant(ctx, variantID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock items")
	}
	total := 0
	for _, item := range items {
		total += item.CountAvailable()
	}
	return total, nil
}

// ReserveForOrderTx reserves every line across the active locations or none
// at all. Allocation prefers the default location, then locations with the
// highest free stock, minimizing the number of locations touched. Units no
// location can cover on hand backorder only when every short variant has a
// backorderable stock item with capacity; otherwise nothing is reserved.
func (s *service) ReserveForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []ReservationLine) ([]LocationAllocation, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	locations, err := repo.ListActiveLocations(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock locations")
	}
	if len(locations) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeBusinessRule, "no active stock location configured").
			WithReason(ReasonNoDefaultLocation)
	}

	items, err := s.loadItemsByLocation(ctx, repo, locations, lines)
	if err != nil {
		return nil, err
	}
	allocations, short := planAllocation(locations, items, lines)
	if len(short) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeBusinessRule, "insufficient stock for order").
			WithReason(ReasonOutOfStock).
			WithDetail("lines", short)
	}

	for _, allocation := range allocations {
		for _, line := range allocation.Lines {
			item := items[allocation.LocationID][line.VariantID]
			if err := repo.UpdateCounters(ctx, item, item.OnHand, item.Reserved+line.Qty); err != nil {
				return nil, err
			}
			movement := &models.StockMovement{
				StockItemID:    item.ID,
				Quantity:       line.Qty,
				Action:         enums.StockMovementReserve,
				OriginatorType: enums.StockOriginatorOrder,
				OriginatorID:   &orderID,
			}
			if err := repo.CreateMovement(ctx, movement); err != nil {
				return nil, err
			}
			if err := s.emitStockMoved(ctx, tx, item, movement); err != nil {
				return nil, err
			}
			item.Reserved += line.Qty
			item.LockVersion++
		}
	}
	return allocations, nil
}

func (s *service) loadItemsByLocation(ctx context.Context, repo Repository, locations []models.StockLocation, lines []ReservationLine) (map[uuid.UUID]map[uuid.UUID]*models.StockItem, error) {
	items := make(map[uuid.UUID]map[uuid.UUID]*models.StockItem, len(locations))
	for _, location := range locations {
		items[location.ID] = make(map[uuid.UUID]*models.StockItem, len(lines))
		for _, line := range lines {
			if line.Qty <= 0 {
				continue
			}
			item, err := repo.FindStockItem(ctx, line.VariantID, location.ID)
			if err != nil {
				if err == gorm.ErrRecordNotFound {
					continue
				}
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock item")
			}
			items[location.ID][line.VariantID] = item
		}
	}
	return items, nil
}

// ReleaseForOrderTx returns reservations taken by ReserveForOrderTx, draining
// each variant's reserved counters across locations.
func (s *service) ReleaseForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []ReservationLine) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		if line.Qty <= 0 {
			continue
		}
		items, err := repo.FindStockItemsByVariant(ctx, line.VariantID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock items")
		}
		remaining := line.Qty
		for i := range items {
			if remaining == 0 {
				break
			}
			item := &items[i]
			if item.Reserved <= 0 {
				continue
			}
			take := remaining
			if take > item.Reserved {
				take = item.Reserved
			}
			if err := s.releaseAt(ctx, tx, repo, ReservationLine{VariantID: line.VariantID, Qty: take}, item.StockLocationID, enums.StockOriginatorOrder, orderID); err != nil {
				return err
			}
			remaining -= take
		}
		if remaining > 0 {
			return pkgerrors.New(pkgerrors.CodeBusinessRule, "release exceeds reserved units").
				WithReason(ReasonReservationUnderflow).
				WithDetail("variant_id", line.VariantID.String()).
				WithDetail("unreleased", remaining)
		}
	}
	return nil
}

// UnstockForShipmentTx consumes reserved units when a shipment leaves the dock:
// both on-hand and reserved drop together.
func (s *service) UnstockForShipmentTx(ctx context.Context, tx *gorm.DB, shipmentID, locationID uuid.UUID, lines []ReservationLine) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		if line.Qty <= 0 {
			continue
		}
		item, err := repo.FindStockItem(ctx, line.VariantID, locationID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock item")
		}
		if line.Qty > item.Reserved {
			return pkgerrors.New(pkgerrors.CodeBusinessRule, "shipment exceeds reserved units").
				WithReason(ReasonReservationUnderflow).
				WithDetail("variant_id", line.VariantID.String()).
				WithDetail("reserved", item.Reserved)
		}
		newOnHand := item.OnHand - line.Qty
		if newOnHand < 0 {
			// Backordered units ship from stock that never arrived on hand.
			newOnHand = 0
		}
		if err := repo.UpdateCounters(ctx, item, newOnHand, item.Reserved-line.Qty); err != nil {
			return err
		}
		movement := &models.StockMovement{
			StockItemID:    item.ID,
			Quantity:       -line.Qty,
			Action:         enums.StockMovementAdjust,
			OriginatorType: enums.StockOriginatorShipment,
			OriginatorID:   &shipmentID,
			Reason:         "shipped",
		}
		if err := repo.CreateMovement(ctx, movement); err != nil {
			return err
		}
		if err := s.emitStockMoved(ctx, tx, item, movement); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseForShipmentTx returns a shipment's reservations without touching on-hand.
func (s *service) ReleaseForShipmentTx(ctx context.Context, tx *gorm.DB, shipmentID, locationID uuid.UUID, lines []ReservationLine) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		if line.Qty <= 0 {
			continue
		}
		if err := s.releaseAt(ctx, tx, repo, line, locationID, enums.StockOriginatorShipment, shipmentID); err != nil {
			return err
		}
	}
	return nil
}

// ReceiveForShipmentTx books returned or backordered units back on hand.
func (s *service) ReceiveForShipmentTx(ctx context.Context, tx *gorm.DB, shipmentID, locationID uuid.UUID, lines []ReservationLine) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		if line.Qty <= 0 {
			continue
		}
		item, err := s.findOrCreateItem(ctx, repo, line.VariantID, locationID)
		if err != nil {
			return err
		}
		if err := repo.UpdateCounters(ctx, item, item.OnHand+line.Qty, item.Reserved); err != nil {
			return err
		}
		movement := &models.StockMovement{
			StockItemID:    item.ID,
			Quantity:       line.Qty,
			Action:         enums.StockMovementReceive,
			OriginatorType: enums.StockOriginatorShipment,
			OriginatorID:   &shipmentID,
		}
		if err := repo.CreateMovement(ctx, movement); err != nil {
			return err
		}
		if err := s.emitStockMoved(ctx, tx, item, movement); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) releaseAt(ctx context.Context, tx *gorm.DB, repo Repository, line ReservationLine, locationID uuid.UUID, originator enums.StockOriginatorType, originatorID uuid.UUID) error {
	item, err := repo.FindStockItem(ctx, line.VariantID, locationID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock item")
	}
	if line.Qty > item.Reserved {
		return pkgerrors.New(pkgerrors.CodeBusinessRule, "release exceeds reserved units").
			WithReason(ReasonReservationUnderflow).
			WithDetail("variant_id", line.VariantID.String()).
			WithDetail("reserved", item.Reserved)
	}
	if err := repo.UpdateCounters(ctx, item, item.OnHand, item.Reserved-line.Qty); err != nil {
		return err
	}
	movement := &models.StockMovement{
		StockItemID:    item.ID,
		Quantity:       -line.Qty,
		Action:         enums.StockMovementRelease,
		OriginatorType: originator,
		OriginatorID:   &originatorID,
	}
	if err := repo.CreateMovement(ctx, movement); err != nil {
		return err
	}
	return s.emitStockMoved(ctx, tx, item, movement)
}

func (s *service) findOrCreateItem(ctx context.Context, repo Repository, variantID, locationID uuid.UUID) (*models.StockItem, error) {
	item, err := repo.FindStockItem(ctx, variantID, locationID)
	if err == nil {
		return item, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock item")
	}
	fresh := &models.StockItem{
		VariantID:       variantID,
		StockLocationID: locationID,
	}
	if err := repo.CreateStockItem(ctx, fresh); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_stock_items_variant_location") {
			return repo.FindStockItem(ctx, variantID, locationID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stock item")
	}
	return fresh, nil
}

func (s *service) emitStockMoved(ctx context.Context, tx *gorm.DB, item *models.StockItem, movement *models.StockMovement) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventStockMoved,
		AggregateType: enums.AggregateStockItem,
		AggregateID:   item.ID,
		Version:       1,
		Data: payloads.StockMovedEvent{
			StockItemID:     item.ID,
			VariantID:       item.VariantID,
			StockLocationID: item.StockLocationID,
			Quantity:        movement.Quantity,
			Action:          string(movement.Action),
			OriginatorType:  string(movement.OriginatorType),
			OriginatorID:    movement.OriginatorID,
		},
	})
}
