package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/types"
)

type orderResponse struct {
	ID                   uuid.UUID            `json:"id"`
	Number               string               `json:"number"`
	State                string               `json:"state"`
	Currency             string               `json:"currency"`
	ItemTotalCents       int64                `json:"item_total_cents"`
	ShipmentTotalCents   int64                `json:"shipment_total_cents"`
	AdjustmentTotalCents int64                `json:"adjustment_total_cents"`
	GrandTotalCents      int64                `json:"grand_total_cents"`
	Email                *string              `json:"email,omitempty"`
	ShippingMethod       *string              `json:"shipping_method,omitempty"`
	PromoCode            *string              `json:"promo_code,omitempty"`
	ShippingAddress      *types.Address       `json:"shipping_address,omitempty"`
	CompletedAt          *time.Time           `json:"completed_at,omitempty"`
	CanceledAt           *time.Time           `json:"canceled_at,omitempty"`
	LineItems            []lineItemResponse   `json:"line_items,omitempty"`
	Adjustments          []adjustmentResponse `json:"adjustments,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

type lineItemResponse struct {
	ID             uuid.UUID `json:"id"`
	VariantID      uuid.UUID `json:"variant_id"`
	Qty            int       `json:"qty"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	TotalCents     int64     `json:"total_cents"`
}

type adjustmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	Target      string     `json:"target"`
	TargetID    uuid.UUID  `json:"target_id"`
	AmountCents int64      `json:"amount_cents"`
	Description string     `json:"description"`
	PromotionID *uuid.UUID `json:"promotion_id,omitempty"`
}

type historyResponse struct {
	ID          uuid.UUID `json:"id"`
	FromState   string    `json:"from_state"`
	ToState     string    `json:"to_state"`
	Description string    `json:"description"`
	TriggeredBy string    `json:"triggered_by"`
	CreatedAt   time.Time `json:"created_at"`
}

func toOrderResponse(order *models.Order, lines []models.LineItem, adjustments []models.Adjustment) orderResponse {
	resp := orderResponse{
		ID:                   order.ID,
		Number:               order.Number,
		State:                string(order.State),
		Currency:             string(order.Currency),
		ItemTotalCents:       order.ItemTotalCents,
		ShipmentTotalCents:   order.ShipmentTotalCents,
		AdjustmentTotalCents: order.AdjustmentTotalCents,
		GrandTotalCents:      order.GrandTotalCents,
		Email:                order.Email,
		ShippingMethod:       order.ShippingMethod,
		PromoCode:            order.PromoCode,
		ShippingAddress:      order.ShippingAddress,
		CompletedAt:          order.CompletedAt,
		CanceledAt:           order.CanceledAt,
		CreatedAt:            order.CreatedAt,
		UpdatedAt:            order.UpdatedAt,
	}
	for _, line := range lines {
		resp.LineItems = append(resp.LineItems, lineItemResponse{
			ID:             line.ID,
			VariantID:      line.VariantID,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
			TotalCents:     line.TotalCents,
		})
	}
	for _, adj := range adjustments {
		resp.Adjustments = append(resp.Adjustments, adjustmentResponse{
			ID:          adj.ID,
			Target:      string(adj.Target),
			TargetID:    adj.TargetID,
			AmountCents: adj.AmountCents,
			Description: adj.Description,
			PromotionID: adj.PromotionID,
		})
	}
	return resp
}

func toHistoryResponses(histories []models.OrderHistory) []historyResponse {
	out := make([]historyResponse, 0, len(histories))
	for _, h := range histories {
		out = append(out, historyResponse{
			ID:          h.ID,
			FromState:   string(h.FromState),
			ToState:     string(h.ToState),
			Description: h.Description,
			TriggeredBy: h.TriggeredBy,
			CreatedAt:   h.CreatedAt,
		})
	}
	return out
}
