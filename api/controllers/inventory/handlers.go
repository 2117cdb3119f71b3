package inventory

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mercatto/commerce-core/api/responses"
	"github.com/mercatto/commerce-core/api/validators"
	internalinventory "github.com/mercatto/commerce-core/internal/inventory"
	"github.com/mercatto/commerce-core/pkg/db/models"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
	"github.com/mercatto/commerce-core/pkg/logger"
)

type adjustRequest struct {
	VariantID  string `json:"variant_id" validate:"required,uuid"`
	LocationID string `json:"location_id" validate:"required,uuid"`
	Qty        int    `json:"qty" validate:"required"`
	Reason     string `json:"reason" validate:"required,min=1"`
}

type receiveRequest struct {
	VariantID    string  `json:"variant_id" validate:"required,uuid"`
	LocationID   string  `json:"location_id" validate:"required,uuid"`
	Qty          int     `json:"qty" validate:"required,min=1"`
	OriginatorID *string `json:"originator_id,omitempty" validate:"omitempty,uuid"`
}

type transferRequest struct {
	VariantID      string `json:"variant_id" validate:"required,uuid"`
	FromLocationID string `json:"from_location_id" validate:"required,uuid"`
	ToLocationID   string `json:"to_location_id" validate:"required,uuid"`
	Qty            int    `json:"qty" validate:"required,min=1"`
}

type stockItemResponse struct {
	ID              uuid.UUID `json:"id"`
	VariantID       uuid.UUID `json:"variant_id"`
	StockLocationID uuid.UUID `json:"stock_location_id"`
	SKU             string    `json:"sku"`
	OnHand          int       `json:"on_hand"`
	Reserved        int       `json:"reserved"`
	Backorderable   bool      `json:"backorderable"`
	CountAvailable  int       `json:"count_available"`
}

func toStockItemResponse(item *models.StockItem) stockItemResponse {
	return stockItemResponse{
		ID:              item.ID,
		VariantID:       item.VariantID,
		StockLocationID: item.StockLocationID,
		SKU:             item.SKU,
		OnHand:          item.OnHand,
		Reserved:        item.Reserved,
		Backorderable:   item.Backorderable,
		CountAvailable:  item.CountAvailable(),
	}
}

// Adjust applies a signed correction to on-hand stock. Admin surface.
func Adjust(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload adjustRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		variantID, locationID, err := parseVariantAndLocation(payload.VariantID, payload.LocationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := svc.Adjust(r.Context(), internalinventory.AdjustInput{
			VariantID:  variantID,
			LocationID: locationID,
			Qty:        payload.Qty,
			Reason:     payload.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toStockItemResponse(item))
	}
}

// Receive books arriving units, waking any backordered shipments.
func Receive(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload receiveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		variantID, locationID, err := parseVariantAndLocation(payload.VariantID, payload.LocationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := internalinventory.ReceiveInput{
			VariantID:  variantID,
			LocationID: locationID,
			Qty:        payload.Qty,
		}
		if payload.OriginatorID != nil {
			originatorID, err := uuid.Parse(*payload.OriginatorID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid originator id"))
				return
			}
			input.OriginatorID = &originatorID
		}
		item, err := svc.Receive(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toStockItemResponse(item))
	}
}

// Transfer moves on-hand units between locations atomically.
func Transfer(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload transferRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		variantID, fromID, err := parseVariantAndLocation(payload.VariantID, payload.FromLocationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		toID, err := uuid.Parse(payload.ToLocationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid to location id"))
			return
		}
		if err := svc.Transfer(r.Context(), internalinventory.TransferInput{
			VariantID:      variantID,
			FromLocationID: fromID,
			ToLocationID:   toID,
			Qty:            payload.Qty,
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// Availability returns the promisable count across locations for one variant.
func Availability(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(chi.URLParam(r, "variantId"))
		variantID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid variant id"))
			return
		}
		available, err := svc.Availability(r.Context(), variantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"variant_id":      variantID,
			"count_available": available,
		})
	}
}

func parseVariantAndLocation(rawVariant, rawLocation string) (uuid.UUID, uuid.UUID, error) {
	variantID, err := uuid.Parse(rawVariant)
	if err != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid variant id")
	}
	locationID, err := uuid.Parse(rawLocation)
	if err != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid location id")
	}
	return variantID, locationID, nil
}
