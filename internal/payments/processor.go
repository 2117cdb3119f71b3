package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
)

// GatewayStatus is the normalized outcome of a gateway dispatch.
type GatewayStatus string

const (
	GatewayStatusAuthorized     GatewayStatus = "authorized"
	GatewayStatusCaptured       GatewayStatus = "captured"
	GatewayStatusRefunded       GatewayStatus = "refunded"
	GatewayStatusVoided         GatewayStatus = "voided"
	GatewayStatusPending        GatewayStatus = "pending"
	GatewayStatusRequiresAction GatewayStatus = "requires_action"
	GatewayStatusFailed         GatewayStatus = "failed"
)

// Credentials is the decrypted gateway configuration blob. Each processor
// reads only the fields its provider needs.
type Credentials struct {
	APIKey      string `json:"api_key,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	Environment string `json:"environment,omitempty"`
	LocationID  string `json:"location_id,omitempty"`
}

// IntentRequest carries the inputs for an authorization dispatch.
type IntentRequest struct {
	PaymentID      uuid.UUID
	OrderNumber    string
	AmountCents    int64
	Currency       enums.Currency
	SourceID       string
	IdempotencyKey string
}

// GatewayResult is a processor's answer. A decline comes back as
// GatewayStatusFailed with the provider's error code, not as a Go error;
// errors are reserved for dispatch problems (network, 5xx, bad credentials).
type GatewayResult struct {
	ProviderRef   string
	Status        GatewayStatus
	AuthCode      string
	ErrorCode     string
	FailureReason string
	Aux           map[string]any
}

// WebhookKind classifies the minimal transition a provider event implies.
type WebhookKind string

const (
	WebhookKindAuthorized WebhookKind = "authorized"
	WebhookKindCaptured   WebhookKind = "captured"
	WebhookKindFailed     WebhookKind = "failed"
	WebhookKindIgnored    WebhookKind = "ignored"
)

// WebhookEvent is a validated, provider-agnostic webhook notification.
// Sequence is derived from provider timestamps and drives the stale guard.
type WebhookEvent struct {
	Provider    enums.PaymentMethodType
	EventID     string
	Kind        WebhookKind
	ProviderRef string
	PaymentID   uuid.UUID
	Sequence    int64
	ErrorCode   string
}

// Processor is the uniform gateway surface. Implementations must dedupe on
// the supplied idempotency key upstream.
type Processor interface {
	Type() enums.PaymentMethodType
	CreateIntent(ctx context.Context, creds Credentials, req IntentRequest) (*GatewayResult, error)
	Capture(ctx context.Context, creds Credentials, payment *models.Payment, idempotencyKey string) (*GatewayResult, error)
	Refund(ctx context.Context, creds Credentials, payment *models.Payment, amountCents int64, reason, idempotencyKey string) (*GatewayResult, error)
	Void(ctx context.Context, creds Credentials, payment *models.Payment, idempotencyKey string) (*GatewayResult, error)
	ValidateWebhook(payload []byte, signature string, secret []byte) (*WebhookEvent, error)
}

// Registry resolves processors by payment method type. It is populated at
// startup and read-only afterwards; CashOnDelivery is always present.
type Registry struct {
	procs map[enums.PaymentMethodType]Processor
}

func NewRegistry(procs ...Processor) (*Registry, error) {
	byType := map[enums.PaymentMethodType]Processor{
		enums.PaymentMethodCashOnDelivery: NewCashOnDeliveryProcessor(),
	}
	for _, proc := range procs {
		if proc == nil {
			continue
		}
		if !proc.Type().IsValid() {
			return nil, fmt.Errorf("processor has invalid type %q", proc.Type())
		}
		if _, dup := byType[proc.Type()]; dup && proc.Type() != enums.PaymentMethodCashOnDelivery {
			return nil, fmt.Errorf("duplicate processor for type %q", proc.Type())
		}
		byType[proc.Type()] = proc
	}
	return &Registry{procs: byType}, nil
}

func (r *Registry) Resolve(methodType enums.PaymentMethodType) (Processor, error) {
	if r != nil {
		if proc, ok := r.procs[methodType]; ok {
			return proc, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("no processor registered for %q", methodType)).
		WithReason(ReasonProcessorUnavailable)
}
