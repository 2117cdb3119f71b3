package shipments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/internal/inventory"
	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	"github.com/mercatto/commerce-core/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// stockMover is the slice of the inventory service fulfillment drives.
type stockMover interface {
	UnstockForShipmentTx(ctx context.Context, tx *gorm.DB, shipmentID, locationID uuid.UUID, lines []inventory.ReservationLine) error
	ReleaseForShipmentTx(ctx context.Context, tx *gorm.DB, shipmentID, locationID uuid.UUID, lines []inventory.ReservationLine) error
	ReceiveForShipmentTx(ctx context.Context, tx *gorm.DB, shipmentID, locationID uuid.UUID, lines []inventory.ReservationLine) error
}

// Repository defines persistence operations for shipments and their units.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, shipment *models.Shipment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error)
	FindByNumber(ctx context.Context, number string) (*models.Shipment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error)
	Update(ctx context.Context, shipment *models.Shipment, updates map[string]any) error

	CreateUnit(ctx context.Context, unit *models.InventoryUnit) error
	UnitsByShipment(ctx context.Context, shipmentID uuid.UUID) ([]models.InventoryUnit, error)
	UpdateUnitStates(ctx context.Context, shipmentID uuid.UUID, from, to enums.InventoryUnitState) (int64, error)
}
