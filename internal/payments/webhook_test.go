package payments

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
)

func (f *paymentsFixture) seedGateway(method *models.PaymentMethod, webhookSecret string) {
	cfg := &models.GatewayConfiguration{
		ID:            uuid.New(),
		Name:          string(method.Type),
		SealedSecrets: []byte(`{"api_key":"sk_test"}`),
		WebhookSecret: []byte(webhookSecret),
	}
	f.repo.configs[cfg.ID] = cfg
	method.GatewayConfigurationID = &cfg.ID
}

func webhookFixture(t *testing.T, proc *fakeGatewayProcessor) (*paymentsFixture, *models.Payment) {
	t.Helper()
	f := newPaymentsFixture(t, proc)
	order := f.seedOrder(enums.OrderStatePayment, 3000)
	method := f.seedMethod(proc.methodType, true, false)
	f.seedGateway(method, "whsec_test")
	payment := f.seedPayment(order, method, enums.PaymentStateAuthorizing, 3000)
	ref := "pi_123"
	payment.ProviderRef = &ref
	return f, payment
}

func TestHandleWebhookCapturedAdvancesPaymentAndOrder(t *testing.T) {
	proc := &fakeGatewayProcessor{methodType: enums.PaymentMethodStripe}
	f, payment := webhookFixture(t, proc)
	proc.webhookEvent = &WebhookEvent{
		Provider:  enums.PaymentMethodStripe,
		EventID:   "evt_1",
		Kind:      WebhookKindCaptured,
		PaymentID: payment.ID,
		Sequence:  10,
	}

	err := f.svc.HandleWebhook(context.Background(), enums.PaymentMethodStripe, []byte(`{}`), "sig")
	require.NoError(t, err)

	stored, err := f.repo.FindByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStateCompleted, stored.State)
	assert.NotNil(t, stored.CapturedAt)
	assert.NotNil(t, stored.AuthorizedAt)
	assert.Equal(t, int64(10), stored.WebhookSequence)
	assert.Contains(t, f.outbox.typesEmitted(), enums.EventPaymentCaptured)
	assert.Equal(t, 1, f.advancer.calls())
}

func TestHandleWebhookDuplicateEventIsDropped(t *testing.T) {
	proc := &fakeGatewayProcessor{methodType: enums.PaymentMethodStripe}
	f, payment := webhookFixture(t, proc)
	proc.webhookEvent = &WebhookEvent{
		Provider:  enums.PaymentMethodStripe,
		EventID:   "evt_1",
		Kind:      WebhookKindCaptured,
		PaymentID: payment.ID,
		Sequence:  10,
	}

	require.NoError(t, f.svc.HandleWebhook(context.Background(), enums.PaymentMethodStripe, []byte(`{}`), "sig"))
	require.NoError(t, f.svc.HandleWebhook(context.Background(), enums.PaymentMethodStripe, []byte(`{}`), "sig"))

	assert.Equal(t, 1, f.advancer.calls())
	events := 0
	for _, eventType := range f.outbox.typesEmitted() {
		if eventType == enums.EventPaymentCaptured {
			events++
		}
	}
	assert.Equal(t, 1, events)
}

func TestHandleWebhookStaleSequenceIsIgnored(t *testing.T) {
	proc := &fakeGatewayProcessor{methodType: enums.PaymentMethodStripe}
	f, payment := webhookFixture(t, proc)
	f.repo.payments[payment.ID].WebhookSequence = 20
	proc.webhookEvent = &WebhookEvent{
		Provider:  enums.PaymentMethodStripe,
		EventID:   "evt_old",
		Kind:      WebhookKindCaptured,
		PaymentID: payment.ID,
		Sequence:  10,
	}

	err := f.svc.HandleWebhook(context.Background(), enums.PaymentMethodStripe, []byte(`{}`), "sig")
	require.NoError(t, err)

	stored, err := f.repo.FindByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStateAuthorizing, stored.State)
	assert.Equal(t, int64(20), stored.WebhookSequence)
	assert.Equal(t, 0, f.advancer.calls())
}

func TestHandleWebhookBadSignatureDoesNotMarkSeen(t *testing.T) {
	proc := &fakeGatewayProcessor{
		methodType: enums.PaymentMethodStripe,
		webhookErr: pkgerrors.New(pkgerrors.CodeUnauthorized, "signature mismatch").
			WithReason(ReasonWebhookSignature),
	}
	f, _ := webhookFixture(t, proc)

	err := f.svc.HandleWebhook(context.Background(), enums.PaymentMethodStripe, []byte(`{}`), "bad")
	require.Error(t, err)
	assert.Equal(t, ReasonWebhookSignature, pkgerrors.As(err).Reason())
	assert.Empty(t, f.dedupe.seen)
}

func TestHandleWebhookFailedEventMarksPaymentFailed(t *testing.T) {
	proc := &fakeGatewayProcessor{methodType: enums.PaymentMethodStripe}
	f, payment := webhookFixture(t, proc)
	proc.webhookEvent = &WebhookEvent{
		Provider:  enums.PaymentMethodStripe,
		EventID:   "evt_fail",
		Kind:      WebhookKindFailed,
		PaymentID: payment.ID,
		Sequence:  5,
		ErrorCode: "card_declined",
	}

	err := f.svc.HandleWebhook(context.Background(), enums.PaymentMethodStripe, []byte(`{}`), "sig")
	require.NoError(t, err)

	stored, err := f.repo.FindByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStateFailed, stored.State)
	require.NotNil(t, stored.GatewayErrorCode)
	assert.Equal(t, "card_declined", *stored.GatewayErrorCode)
	assert.Contains(t, f.outbox.typesEmitted(), enums.EventPaymentFailed)
	assert.Equal(t, 0, f.advancer.calls())
}

func TestHandleWebhookLocatesByProviderRef(t *testing.T) {
	proc := &fakeGatewayProcessor{methodType: enums.PaymentMethodStripe}
	f, payment := webhookFixture(t, proc)
	proc.webhookEvent = &WebhookEvent{
		Provider:    enums.PaymentMethodStripe,
		EventID:     "evt_ref",
		Kind:        WebhookKindAuthorized,
		ProviderRef: "pi_123",
		Sequence:    3,
	}

	err := f.svc.HandleWebhook(context.Background(), enums.PaymentMethodStripe, []byte(`{}`), "sig")
	require.NoError(t, err)

	stored, err := f.repo.FindByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStateAuthorized, stored.State)
	assert.Equal(t, 1, f.advancer.calls())
}

func TestHandleWebhookIgnoredKindIsAcknowledged(t *testing.T) {
	proc := &fakeGatewayProcessor{methodType: enums.PaymentMethodStripe}
	f, _ := webhookFixture(t, proc)
	proc.webhookEvent = &WebhookEvent{
		Provider: enums.PaymentMethodStripe,
		EventID:  "evt_noise",
		Kind:     WebhookKindIgnored,
	}

	err := f.svc.HandleWebhook(context.Background(), enums.PaymentMethodStripe, []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Empty(t, f.dedupe.seen)
	assert.Equal(t, 0, f.advancer.calls())
}

func TestHandleWebhookWithoutGatewayConfiguration(t *testing.T) {
	proc := &fakeGatewayProcessor{methodType: enums.PaymentMethodStripe}
	f := newPaymentsFixture(t, proc)
	f.seedMethod(enums.PaymentMethodStripe, true, false)

	err := f.svc.HandleWebhook(context.Background(), enums.PaymentMethodStripe, []byte(`{}`), "sig")
	require.Error(t, err)
	assert.Equal(t, ReasonWebhookUnsupported, pkgerrors.As(err).Reason())
}

func TestCashOnDeliveryProcessorRejectsWebhooks(t *testing.T) {
	proc := NewCashOnDeliveryProcessor()
	_, err := proc.ValidateWebhook([]byte(`{}`), "sig", nil)
	require.Error(t, err)
	assert.Equal(t, ReasonWebhookUnsupported, pkgerrors.As(err).Reason())
}
