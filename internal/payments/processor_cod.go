package payments

import (
	"context"
	"fmt"

	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
)

// codProcessor settles out of band: intents stay pending until an operator
// captures on delivery. Every mutation succeeds locally.
type codProcessor struct{}

// NewCashOnDeliveryProcessor builds the offline processor.
func NewCashOnDeliveryProcessor() Processor {
	return &codProcessor{}
}

func (p *codProcessor) Type() enums.PaymentMethodType {
	return enums.PaymentMethodCashOnDelivery
}

func (p *codProcessor) CreateIntent(_ context.Context, _ Credentials, req IntentRequest) (*GatewayResult, error) {
	return &GatewayResult{
		ProviderRef: fmt.Sprintf("cod_%s", req.PaymentID),
		Status:      GatewayStatusPending,
	}, nil
}

func (p *codProcessor) Capture(_ context.Context, _ Credentials, payment *models.Payment, _ string) (*GatewayResult, error) {
	return &GatewayResult{ProviderRef: providerRef(payment), Status: GatewayStatusCaptured}, nil
}

func (p *codProcessor) Refund(_ context.Context, _ Credentials, payment *models.Payment, _ int64, _, _ string) (*GatewayResult, error) {
	return &GatewayResult{ProviderRef: providerRef(payment), Status: GatewayStatusRefunded}, nil
}

func (p *codProcessor) Void(_ context.Context, _ Credentials, payment *models.Payment, _ string) (*GatewayResult, error) {
	return &GatewayResult{ProviderRef: providerRef(payment), Status: GatewayStatusVoided}, nil
}

func (p *codProcessor) ValidateWebhook(_ []byte, _ string, _ []byte) (*WebhookEvent, error) {
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "cash on delivery emits no webhooks").
		WithReason(ReasonWebhookUnsupported)
}

func providerRef(payment *models.Payment) string {
	if payment == nil || payment.ProviderRef == nil {
		return ""
	}
	return *payment.ProviderRef
}
