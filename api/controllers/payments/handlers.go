package payments

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mercatto/commerce-core/api/middleware"
	"github.com/mercatto/commerce-core/api/responses"
	"github.com/mercatto/commerce-core/api/validators"
	internalpayments "github.com/mercatto/commerce-core/internal/payments"
	"github.com/mercatto/commerce-core/pkg/db/models"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
	"github.com/mercatto/commerce-core/pkg/logger"
	"github.com/mercatto/commerce-core/pkg/outbox"
)

type createPaymentRequest struct {
	OrderID         string `json:"order_id" validate:"required,uuid"`
	PaymentMethodID string `json:"payment_method_id" validate:"required,uuid"`
	AmountCents     int64  `json:"amount_cents" validate:"required,min=1"`
	SourceID        string `json:"source_id,omitempty"`
}

type refundPaymentRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"required,min=1"`
	Reason      string `json:"reason" validate:"required,min=1"`
}

type paymentResponse struct {
	ID               uuid.UUID  `json:"id"`
	OrderID          uuid.UUID  `json:"order_id"`
	AmountCents      int64      `json:"amount_cents"`
	RefundedCents    int64      `json:"refunded_cents"`
	Currency         string     `json:"currency"`
	State            string     `json:"state"`
	PaymentMethodID  uuid.UUID  `json:"payment_method_id"`
	MethodType       string     `json:"method_type"`
	ProviderRef      *string    `json:"provider_ref,omitempty"`
	GatewayErrorCode *string    `json:"gateway_error_code,omitempty"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	AuthorizedAt     *time.Time `json:"authorized_at,omitempty"`
	CapturedAt       *time.Time `json:"captured_at,omitempty"`
	VoidedAt         *time.Time `json:"voided_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toPaymentResponse(payment *models.Payment) paymentResponse {
	return paymentResponse{
		ID:               payment.ID,
		OrderID:          payment.OrderID,
		AmountCents:      payment.AmountCents,
		RefundedCents:    payment.RefundedCents,
		Currency:         string(payment.Currency),
		State:            string(payment.State),
		PaymentMethodID:  payment.PaymentMethodID,
		MethodType:       string(payment.PaymentMethodType),
		ProviderRef:      payment.ProviderRef,
		GatewayErrorCode: payment.GatewayErrorCode,
		FailureReason:    payment.FailureReason,
		AuthorizedAt:     payment.AuthorizedAt,
		CapturedAt:       payment.CapturedAt,
		VoidedAt:         payment.VoidedAt,
		CreatedAt:        payment.CreatedAt,
	}
}

// Create opens a payment against an order and dispatches the gateway intent.
func Create(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := uuid.Parse(payload.OrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}
		methodID, err := uuid.Parse(payload.PaymentMethodID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method id"))
			return
		}

		payment, err := svc.Create(r.Context(), internalpayments.CreateInput{
			OrderID:         orderID,
			PaymentMethodID: methodID,
			AmountCents:     payload.AmountCents,
			SourceID:        payload.SourceID,
		}, actorFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toPaymentResponse(payment))
	}
}

func Detail(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := parsePaymentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payment, err := svc.Get(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPaymentResponse(payment))
	}
}

// ListByOrder returns every payment attempt against one order.
func ListByOrder(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
		orderID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}
		payments, err := svc.ListByOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]paymentResponse, 0, len(payments))
		for i := range payments {
			out = append(out, toPaymentResponse(&payments[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func Capture(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := parsePaymentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payment, err := svc.Capture(r.Context(), paymentID, actorFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPaymentResponse(payment))
	}
}

func Refund(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := parsePaymentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload refundPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payment, err := svc.Refund(r.Context(), paymentID, payload.AmountCents, payload.Reason, actorFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPaymentResponse(payment))
	}
}

func Void(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := parsePaymentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payment, err := svc.Void(r.Context(), paymentID, actorFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPaymentResponse(payment))
	}
}

func parsePaymentID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "paymentId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id")
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
