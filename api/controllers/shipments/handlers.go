package shipments

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mercatto/commerce-core/api/middleware"
	"github.com/mercatto/commerce-core/api/responses"
	"github.com/mercatto/commerce-core/api/validators"
	internalshipments "github.com/mercatto/commerce-core/internal/shipments"
	"github.com/mercatto/commerce-core/pkg/db/models"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
	"github.com/mercatto/commerce-core/pkg/logger"
	"github.com/mercatto/commerce-core/pkg/outbox"
)

type shipRequest struct {
	TrackingNumber string `json:"tracking_number" validate:"required,min=1"`
}

type cancelShipmentRequest struct {
	Reason string `json:"reason" validate:"required,min=1"`
}

type shipmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	OrderID         uuid.UUID  `json:"order_id"`
	Number          string     `json:"number"`
	State           string     `json:"state"`
	StockLocationID uuid.UUID  `json:"stock_location_id"`
	TrackingNumber  *string    `json:"tracking_number,omitempty"`
	CostCents       int64      `json:"cost_cents"`
	ShippingMethod  *string    `json:"shipping_method,omitempty"`
	ShippedAt       *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`
	CanceledAt      *time.Time `json:"canceled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type unitResponse struct {
	ID         uuid.UUID `json:"id"`
	VariantID  uuid.UUID `json:"variant_id"`
	LineItemID uuid.UUID `json:"line_item_id"`
	State      string    `json:"state"`
}

func toShipmentResponse(shipment *models.Shipment) shipmentResponse {
	return shipmentResponse{
		ID:              shipment.ID,
		OrderID:         shipment.OrderID,
		Number:          shipment.Number,
		State:           string(shipment.State),
		StockLocationID: shipment.StockLocationID,
		TrackingNumber:  shipment.TrackingNumber,
		CostCents:       shipment.CostCents,
		ShippingMethod:  shipment.ShippingMethod,
		ShippedAt:       shipment.ShippedAt,
		DeliveredAt:     shipment.DeliveredAt,
		CanceledAt:      shipment.CanceledAt,
		CreatedAt:       shipment.CreatedAt,
	}
}

func Detail(svc internalshipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shipmentID, err := parseShipmentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipment, err := svc.Get(r.Context(), shipmentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toShipmentResponse(shipment))
	}
}

func ListByOrder(svc internalshipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
		orderID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}
		shipments, err := svc.ListByOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]shipmentResponse, 0, len(shipments))
		for i := range shipments {
			out = append(out, toShipmentResponse(&shipments[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// Units lists the inventory units attached to one shipment.
func Units(svc internalshipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shipmentID, err := parseShipmentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		units, err := svc.Units(r.Context(), shipmentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]unitResponse, 0, len(units))
		for _, unit := range units {
			out = append(out, unitResponse{
				ID:         unit.ID,
				VariantID:  unit.VariantID,
				LineItemID: unit.LineItemID,
				State:      string(unit.State),
			})
		}
		responses.WriteSuccess(w, out)
	}
}

func Ship(svc internalshipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shipmentID, err := parseShipmentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload shipRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipment, err := svc.Ship(r.Context(), shipmentID, payload.TrackingNumber, actorFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toShipmentResponse(shipment))
	}
}

func MarkDelivered(svc internalshipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shipmentID, err := parseShipmentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipment, err := svc.MarkDelivered(r.Context(), shipmentID, actorFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toShipmentResponse(shipment))
	}
}

func Cancel(svc internalshipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shipmentID, err := parseShipmentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload cancelShipmentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipment, err := svc.Cancel(r.Context(), shipmentID, payload.Reason, actorFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toShipmentResponse(shipment))
	}
}

// ReceiveBackordered promotes a backordered shipment once stock arrives.
func ReceiveBackordered(svc internalshipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shipmentID, err := parseShipmentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipment, err := svc.ReceiveBackordered(r.Context(), shipmentID, actorFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toShipmentResponse(shipment))
	}
}

func parseShipmentID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "shipmentId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipment id")
	}
	return id, nil
}

func actorFromRequest(r *http.Request) outbox.ActorRef {
	actor := outbox.ActorRef{Role: middleware.RoleFromContext(r.Context())}
	if raw := middleware.UserIDFromContext(r.Context()); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			actor.UserID = id
		}
	}
	return actor
}
