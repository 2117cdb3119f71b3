package payments

import (
	"context"
	stdErrors "errors"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
)

// stripeProcessor drives manual-capture PaymentIntents. The API key comes
// from the sealed gateway configuration, so clients are built per dispatch.
type stripeProcessor struct{}

// NewStripeProcessor builds the Stripe gateway processor.
func NewStripeProcessor() Processor {
	return &stripeProcessor{}
}

func (p *stripeProcessor) Type() enums.PaymentMethodType {
	return enums.PaymentMethodStripe
}

func (p *stripeProcessor) intents(creds Credentials) *paymentintent.Client {
	return &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: creds.APIKey}
}

func (p *stripeProcessor) refunds(creds Credentials) *refund.Client {
	return &refund.Client{B: stripe.GetBackend(stripe.APIBackend), Key: creds.APIKey}
}

func (p *stripeProcessor) CreateIntent(ctx context.Context, creds Credentials, req IntentRequest) (*GatewayResult, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(req.IdempotencyKey),
		},
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(strings.ToLower(string(req.Currency))),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	if req.SourceID != "" {
		params.PaymentMethod = stripe.String(req.SourceID)
		params.Confirm = stripe.Bool(true)
	}
	params.AddMetadata("payment_id", req.PaymentID.String())
	params.AddMetadata("order_number", req.OrderNumber)

	intent, err := p.intents(creds).New(params)
	if err != nil {
		return stripeFailure(err, "create payment intent")
	}
	return &GatewayResult{
		ProviderRef: intent.ID,
		Status:      stripeIntentStatus(intent.Status),
	}, nil
}

func (p *stripeProcessor) Capture(ctx context.Context, creds Credentials, payment *models.Payment, idempotencyKey string) (*GatewayResult, error) {
	params := &stripe.PaymentIntentCaptureParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(idempotencyKey),
		},
	}
	intent, err := p.intents(creds).Capture(providerRef(payment), params)
	if err != nil {
		return stripeFailure(err, "capture payment intent")
	}
	return &GatewayResult{
		ProviderRef: intent.ID,
		Status:      stripeIntentStatus(intent.Status),
	}, nil
}

func (p *stripeProcessor) Refund(ctx context.Context, creds Credentials, payment *models.Payment, amountCents int64, reason, idempotencyKey string) (*GatewayResult, error) {
	params := &stripe.RefundParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(idempotencyKey),
		},
		PaymentIntent: stripe.String(providerRef(payment)),
		Amount:        stripe.Int64(amountCents),
	}
	if reason != "" {
		params.AddMetadata("reason", reason)
	}
	created, err := p.refunds(creds).New(params)
	if err != nil {
		return stripeFailure(err, "refund payment intent")
	}
	status := GatewayStatusRefunded
	if created.Status == stripe.RefundStatusFailed {
		status = GatewayStatusFailed
	}
	return &GatewayResult{ProviderRef: providerRef(payment), Status: status}, nil
}

func (p *stripeProcessor) Void(ctx context.Context, creds Credentials, payment *models.Payment, idempotencyKey string) (*GatewayResult, error) {
	params := &stripe.PaymentIntentCancelParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(idempotencyKey),
		},
	}
	intent, err := p.intents(creds).Cancel(providerRef(payment), params)
	if err != nil {
		return stripeFailure(err, "cancel payment intent")
	}
	status := GatewayStatusVoided
	if intent.Status != stripe.PaymentIntentStatusCanceled {
		status = stripeIntentStatus(intent.Status)
	}
	return &GatewayResult{ProviderRef: intent.ID, Status: status}, nil
}

func (p *stripeProcessor) ValidateWebhook(payload []byte, signature string, secret []byte) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, string(secret))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verify stripe signature").
			WithReason(ReasonWebhookSignature)
	}

	kind := WebhookKindIgnored
	switch event.Type {
	case stripe.EventTypePaymentIntentAmountCapturableUpdated:
		kind = WebhookKindAuthorized
	case stripe.EventTypePaymentIntentSucceeded:
		kind = WebhookKindCaptured
	case stripe.EventTypePaymentIntentPaymentFailed:
		kind = WebhookKindFailed
	}

	paymentID, _ := uuid.Parse(event.GetObjectValue("metadata", "payment_id"))
	return &WebhookEvent{
		Provider:    enums.PaymentMethodStripe,
		EventID:     event.ID,
		Kind:        kind,
		ProviderRef: event.GetObjectValue("id"),
		PaymentID:   paymentID,
		Sequence:    event.Created,
		ErrorCode:   event.GetObjectValue("last_payment_error", "code"),
	}, nil
}

// stripeFailure turns a card decline into a failed result and everything else
// into a typed dispatch error.
func stripeFailure(err error, op string) (*GatewayResult, error) {
	var stripeErr *stripe.Error
	if stdErrors.As(err, &stripeErr) {
		if stripeErr.Type == stripe.ErrorTypeCard {
			return &GatewayResult{
				Status:        GatewayStatusFailed,
				ErrorCode:     string(stripeErr.Code),
				FailureReason: stripeErr.Msg,
			}, nil
		}
		switch {
		case stripeErr.HTTPStatusCode == 401 || stripeErr.HTTPStatusCode == 403:
			return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "stripe "+op+" rejected credentials")
		case stripeErr.HTTPStatusCode == 429 || stripeErr.HTTPStatusCode >= 500:
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stripe "+op+" unavailable")
		default:
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "stripe "+op+" rejected request")
		}
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stripe "+op+" failed")
}

func stripeIntentStatus(status stripe.PaymentIntentStatus) GatewayStatus {
	switch status {
	case stripe.PaymentIntentStatusRequiresCapture:
		return GatewayStatusAuthorized
	case stripe.PaymentIntentStatusSucceeded:
		return GatewayStatusCaptured
	case stripe.PaymentIntentStatusProcessing:
		return GatewayStatusPending
	case stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresPaymentMethod:
		return GatewayStatusRequiresAction
	case stripe.PaymentIntentStatusCanceled:
		return GatewayStatusFailed
	default:
		return GatewayStatusPending
	}
}
