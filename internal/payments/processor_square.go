package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
)

const (
	squareSandboxURL    = "https://connect.squareupsandbox.com"
	squareProductionURL = "https://connect.squareup.com"
)

// squareProcessor creates delayed-capture payments and completes them on
// capture. Clients are built per dispatch from the sealed credentials.
type squareProcessor struct{}

// NewSquareProcessor builds the Square gateway processor.
func NewSquareProcessor() Processor {
	return &squareProcessor{}
}

func (p *squareProcessor) Type() enums.PaymentMethodType {
	return enums.PaymentMethodSquare
}

func (p *squareProcessor) sdk(creds Credentials) *sqclient.Client {
	baseURL := squareSandboxURL
	if strings.EqualFold(creds.Environment, "production") {
		baseURL = squareProductionURL
	}
	return sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(creds.AccessToken),
	)
}

func (p *squareProcessor) CreateIntent(ctx context.Context, creds Credentials, req IntentRequest) (*GatewayResult, error) {
	autocomplete := false
	currency := sq.Currency(strings.ToUpper(string(req.Currency)))
	amount := req.AmountCents
	request := &sq.CreatePaymentRequest{
		IdempotencyKey: req.IdempotencyKey,
		SourceID:       req.SourceID,
		Autocomplete:   &autocomplete,
		AmountMoney: &sq.Money{
			Amount:   &amount,
			Currency: &currency,
		},
		ReferenceID: ptrString(req.PaymentID.String()),
	}
	if creds.LocationID != "" {
		request.LocationID = ptrString(creds.LocationID)
	}

	resp, err := p.sdk(creds).Payments.Create(ctx, request)
	if err != nil {
		return squareFailure(err, "create payment")
	}
	payment := resp.GetPayment()
	return &GatewayResult{
		ProviderRef: stringValue(payment.GetID()),
		Status:      squarePaymentStatus(stringValue(payment.GetStatus())),
	}, nil
}

func (p *squareProcessor) Capture(ctx context.Context, creds Credentials, payment *models.Payment, _ string) (*GatewayResult, error) {
	resp, err := p.sdk(creds).Payments.Complete(ctx, &sq.CompletePaymentRequest{
		PaymentID: providerRef(payment),
	})
	if err != nil {
		return squareFailure(err, "complete payment")
	}
	completed := resp.GetPayment()
	return &GatewayResult{
		ProviderRef: stringValue(completed.GetID()),
		Status:      squarePaymentStatus(stringValue(completed.GetStatus())),
	}, nil
}

func (p *squareProcessor) Refund(ctx context.Context, creds Credentials, payment *models.Payment, amountCents int64, reason, idempotencyKey string) (*GatewayResult, error) {
	currency := sq.Currency(strings.ToUpper(string(payment.Currency)))
	request := &sq.RefundPaymentRequest{
		IdempotencyKey: idempotencyKey,
		PaymentID:      ptrString(providerRef(payment)),
		AmountMoney: &sq.Money{
			Amount:   &amountCents,
			Currency: &currency,
		},
	}
	if reason != "" {
		request.Reason = ptrString(reason)
	}

	resp, err := p.sdk(creds).Refunds.RefundPayment(ctx, request)
	if err != nil {
		return squareFailure(err, "refund payment")
	}
	created := resp.GetRefund()
	status := GatewayStatusRefunded
	if strings.EqualFold(stringValue(created.GetStatus()), "FAILED") {
		status = GatewayStatusFailed
	}
	return &GatewayResult{ProviderRef: providerRef(payment), Status: status}, nil
}

func (p *squareProcessor) Void(ctx context.Context, creds Credentials, payment *models.Payment, _ string) (*GatewayResult, error) {
	resp, err := p.sdk(creds).Payments.Cancel(ctx, &sq.CancelPaymentsRequest{
		PaymentID: providerRef(payment),
	})
	if err != nil {
		return squareFailure(err, "cancel payment")
	}
	canceled := resp.GetPayment()
	status := GatewayStatusVoided
	if !strings.EqualFold(stringValue(canceled.GetStatus()), "CANCELED") {
		status = squarePaymentStatus(stringValue(canceled.GetStatus()))
	}
	return &GatewayResult{ProviderRef: stringValue(canceled.GetID()), Status: status}, nil
}

// squareWebhookBody is the slice of the notification payload the reconciler
// needs.
type squareWebhookBody struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		Object struct {
			Payment struct {
				ID          string `json:"id"`
				Status      string `json:"status"`
				ReferenceID string `json:"reference_id"`
			} `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

func (p *squareProcessor) ValidateWebhook(payload []byte, signature string, secret []byte) (*WebhookEvent, error) {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "square webhook signature mismatch").
			WithReason(ReasonWebhookSignature)
	}

	var body squareWebhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square webhook")
	}

	kind := WebhookKindIgnored
	switch squarePaymentStatus(body.Data.Object.Payment.Status) {
	case GatewayStatusAuthorized:
		kind = WebhookKindAuthorized
	case GatewayStatusCaptured:
		kind = WebhookKindCaptured
	case GatewayStatusFailed:
		kind = WebhookKindFailed
	}

	sequence := int64(0)
	if ts, err := time.Parse(time.RFC3339, body.CreatedAt); err == nil {
		sequence = ts.UnixMilli()
	}
	paymentID, _ := uuid.Parse(body.Data.Object.Payment.ReferenceID)
	return &WebhookEvent{
		Provider:    enums.PaymentMethodSquare,
		EventID:     body.EventID,
		Kind:        kind,
		ProviderRef: body.Data.Object.Payment.ID,
		PaymentID:   paymentID,
		Sequence:    sequence,
	}, nil
}

// squareFailure maps a payment-method rejection to a failed result and other
// API errors to typed dispatch errors.
func squareFailure(err error, op string) (*GatewayResult, error) {
	var apiErr *sqcore.APIError
	if stdErrors.As(err, &apiErr) {
		for _, sqErr := range squareErrors(apiErr) {
			if sqErr == nil {
				continue
			}
			if sqErr.Category == sq.ErrorCategoryPaymentMethodError {
				return &GatewayResult{
					Status:        GatewayStatusFailed,
					ErrorCode:     string(sqErr.Code),
					FailureReason: stringValue(sqErr.Detail),
				}, nil
			}
		}
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "square "+op+" rejected credentials")
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "square "+op+" unavailable")
		default:
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "square "+op+" rejected request")
		}
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "square "+op+" failed")
}

func squareErrors(apiErr *sqcore.APIError) []*sq.Error {
	if apiErr == nil {
		return nil
	}
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(inner.Error()), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

func squarePaymentStatus(status string) GatewayStatus {
	switch strings.ToUpper(status) {
	case "APPROVED":
		return GatewayStatusAuthorized
	case "COMPLETED":
		return GatewayStatusCaptured
	case "PENDING":
		return GatewayStatusPending
	case "FAILED", "CANCELED":
		return GatewayStatusFailed
	default:
		return GatewayStatusPending
	}
}

func ptrString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
