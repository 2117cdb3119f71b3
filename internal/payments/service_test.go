package payments

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/config"
	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
	"github.com/mercatto/commerce-core/pkg/logger"
	"github.com/mercatto/commerce-core/pkg/metrics"
	"github.com/mercatto/commerce-core/pkg/outbox"
)

type stubPaymentsRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*models.Payment
	orders   map[uuid.UUID]*models.Order
	methods  map[uuid.UUID]*models.PaymentMethod
	configs  map[uuid.UUID]*models.GatewayConfiguration
}

func newStubPaymentsRepo() *stubPaymentsRepo {
	return &stubPaymentsRepo{
		payments: make(map[uuid.UUID]*models.Payment),
		orders:   make(map[uuid.UUID]*models.Order),
		methods:  make(map[uuid.UUID]*models.PaymentMethod),
		configs:  make(map[uuid.UUID]*models.GatewayConfiguration),
	}
}

func (s *stubPaymentsRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubPaymentsRepo) Create(_ context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	clone := *payment
	s.payments[payment.ID] = &clone
	return nil
}

func (s *stubPaymentsRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *payment
	return &clone, nil
}

func (s *stubPaymentsRepo) FindByProviderRef(_ context.Context, providerRef string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, payment := range s.payments {
		if payment.ProviderRef != nil && *payment.ProviderRef == providerRef {
			clone := *payment
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubPaymentsRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []models.Payment
	for _, payment := range s.payments {
		if payment.OrderID == orderID {
			rows = append(rows, *payment)
		}
	}
	return rows, nil
}

func (s *stubPaymentsRepo) Update(_ context.Context, payment *models.Payment, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.payments[payment.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for column, value := range updates {
		switch column {
		case "state":
			stored.State = value.(enums.PaymentState)
		case "idempotency_key":
			key := value.(string)
			stored.IdempotencyKey = &key
		case "provider_ref":
			ref := value.(string)
			stored.ProviderRef = &ref
		case "auth_code":
			code := value.(string)
			stored.AuthCode = &code
		case "gateway_error_code":
			code := value.(string)
			stored.GatewayErrorCode = &code
		case "failure_reason":
			reason := value.(string)
			stored.FailureReason = &reason
		case "refunded_cents":
			stored.RefundedCents = value.(int64)
		case "attempt_count":
			stored.AttemptCount = value.(int)
		case "webhook_sequence":
			stored.WebhookSequence = value.(int64)
		case "authorized_at":
			at := value.(time.Time)
			stored.AuthorizedAt = &at
		case "captured_at":
			at := value.(time.Time)
			stored.CapturedAt = &at
		case "voided_at":
			at := value.(time.Time)
			stored.VoidedAt = &at
		}
	}
	stored.LockVersion++
	return nil
}

func (s *stubPaymentsRepo) FindOrder(_ context.Context, id uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *order
	return &clone, nil
}

func (s *stubPaymentsRepo) FindMethod(_ context.Context, id uuid.UUID) (*models.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	method, ok := s.methods[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *method
	return &clone, nil
}

func (s *stubPaymentsRepo) FindActiveMethodByType(_ context.Context, methodType enums.PaymentMethodType) (*models.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, method := range s.methods {
		if method.Type == methodType && method.Active {
			clone := *method
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubPaymentsRepo) FindGatewayConfiguration(_ context.Context, id uuid.UUID) (*models.GatewayConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *cfg
	return &clone, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type stubOutbox struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
}

func (s *stubOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubOutbox) typesEmitted() []enums.OutboxEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]enums.OutboxEventType, 0, len(s.events))
	for _, event := range s.events {
		types = append(types, event.EventType)
	}
	return types
}

type stubAdvancer struct {
	mu     sync.Mutex
	orders []uuid.UUID
	err    error
}

func (s *stubAdvancer) AdvanceTx(_ context.Context, _ *gorm.DB, orderID uuid.UUID, _ outbox.ActorRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.orders = append(s.orders, orderID)
	return nil
}

func (s *stubAdvancer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type stubDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newStubDedupe() *stubDedupe {
	return &stubDedupe{seen: make(map[string]bool)}
}

func (s *stubDedupe) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *stubDedupe) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.seen, key)
	}
	return nil
}

func (s *stubDedupe) WebhookDedupeKey(provider, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", provider, eventID)
}

// identitySealer hands sealed blobs back unchanged so fixtures can store
// plaintext secrets.
type identitySealer struct{}

func (identitySealer) Open(sealed []byte) ([]byte, error) { return sealed, nil }

// fakeGatewayProcessor scripts gateway verdicts per operation.
type fakeGatewayProcessor struct {
	methodType enums.PaymentMethodType

	intentResult  *GatewayResult
	intentErr     error
	captureResult *GatewayResult
	captureErr    error
	refundResult  *GatewayResult
	refundErr     error
	voidResult    *GatewayResult
	voidErr       error

	webhookEvent *WebhookEvent
	webhookErr   error

	mu   sync.Mutex
	keys []string
}

func (f *fakeGatewayProcessor) Type() enums.PaymentMethodType { return f.methodType }

func (f *fakeGatewayProcessor) recordKey(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
}

func (f *fakeGatewayProcessor) CreateIntent(_ context.Context, _ Credentials, req IntentRequest) (*GatewayResult, error) {
	f.recordKey(req.IdempotencyKey)
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	return f.intentResult, nil
}

func (f *fakeGatewayProcessor) Capture(_ context.Context, _ Credentials, _ *models.Payment, key string) (*GatewayResult, error) {
	f.recordKey(key)
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return f.captureResult, nil
}

func (f *fakeGatewayProcessor) Refund(_ context.Context, _ Credentials, _ *models.Payment, _ int64, _, key string) (*GatewayResult, error) {
	f.recordKey(key)
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return f.refundResult, nil
}

func (f *fakeGatewayProcessor) Void(_ context.Context, _ Credentials, _ *models.Payment, key string) (*GatewayResult, error) {
	f.recordKey(key)
	if f.voidErr != nil {
		return nil, f.voidErr
	}
	return f.voidResult, nil
}

func (f *fakeGatewayProcessor) ValidateWebhook(_ []byte, _ string, _ []byte) (*WebhookEvent, error) {
	if f.webhookErr != nil {
		return nil, f.webhookErr
	}
	return f.webhookEvent, nil
}

type paymentsFixture struct {
	repo     *stubPaymentsRepo
	outbox   *stubOutbox
	advancer *stubAdvancer
	dedupe   *stubDedupe
	svc      Service
}

func newPaymentsFixture(t *testing.T, procs ...Processor) *paymentsFixture {
	t.Helper()

	repo := newStubPaymentsRepo()
	outboxSvc := &stubOutbox{}
	advancer := &stubAdvancer{}
	dedupe := newStubDedupe()

	registry, err := NewRegistry(procs...)
	require.NoError(t, err)

	svc, err := NewService(Deps{
		Repo:     repo,
		Tx:       stubTxRunner{},
		Outbox:   outboxSvc,
		Orders:   advancer,
		Registry: registry,
		Sealer:   identitySealer{},
		Dedupe:   dedupe,
		Config: config.PaymentsConfig{
			GatewayTimeout:   time.Second,
			WebhookDedupeTTL: time.Hour,
		},
		Metrics:  metrics.NewCommandMetrics(nil),
		Webhooks: metrics.NewWebhookMetrics(nil),
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)

	return &paymentsFixture{
		repo:     repo,
		outbox:   outboxSvc,
		advancer: advancer,
		dedupe:   dedupe,
		svc:      svc,
	}
}

func (f *paymentsFixture) seedOrder(state enums.OrderState, grandTotalCents int64) *models.Order {
	order := &models.Order{
		ID:              uuid.New(),
		Number:          "R100000001",
		State:           state,
		Currency:        enums.CurrencyUSD,
		GrandTotalCents: grandTotalCents,
	}
	f.repo.orders[order.ID] = order
	return order
}

func (f *paymentsFixture) seedMethod(methodType enums.PaymentMethodType, active, autoCapture bool) *models.PaymentMethod {
	method := &models.PaymentMethod{
		ID:          uuid.New(),
		Type:        methodType,
		Name:        string(methodType),
		Active:      active,
		AutoCapture: autoCapture,
	}
	f.repo.methods[method.ID] = method
	return method
}

func (f *paymentsFixture) seedPayment(order *models.Order, method *models.PaymentMethod, state enums.PaymentState, amountCents int64) *models.Payment {
	payment := &models.Payment{
		ID:                uuid.New(),
		OrderID:           order.ID,
		AmountCents:       amountCents,
		Currency:          order.Currency,
		State:             state,
		PaymentMethodID:   method.ID,
		PaymentMethodType: method.Type,
	}
	f.repo.payments[payment.ID] = payment
	return payment
}

func TestCreateCashOnDeliveryAutoCaptures(t *testing.T) {
	f := newPaymentsFixture(t)
	order := f.seedOrder(enums.OrderStatePayment, 4498)
	method := f.seedMethod(enums.PaymentMethodCashOnDelivery, true, true)

	payment, err := f.svc.Create(context.Background(), CreateInput{
		OrderID:         order.ID,
		PaymentMethodID: method.ID,
		AmountCents:     4498,
	}, outbox.ActorRef{UserID: uuid.New()})
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStateCompleted, payment.State)
	assert.NotNil(t, payment.CapturedAt)
	assert.NotNil(t, payment.AuthorizedAt)
	assert.Equal(t, int64(4498), payment.AmountCents)
	assert.Contains(t, f.outbox.typesEmitted(), enums.EventPaymentCaptured)
	assert.Equal(t, 1, f.advancer.calls())
}

func TestCreateRejectsNonPositiveAmount(t *testing.T) {
	f := newPaymentsFixture(t)

	_, err := f.svc.Create(context.Background(), CreateInput{
		OrderID:         uuid.New(),
		PaymentMethodID: uuid.New(),
		AmountCents:     0,
	}, outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestCreateRejectsOrderNotPayable(t *testing.T) {
	f := newPaymentsFixture(t)
	order := f.seedOrder(enums.OrderStateCart, 1000)
	method := f.seedMethod(enums.PaymentMethodCashOnDelivery, true, false)

	_, err := f.svc.Create(context.Background(), CreateInput{
		OrderID:         order.ID,
		PaymentMethodID: method.ID,
		AmountCents:     1000,
	}, outbox.ActorRef{})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
	assert.Equal(t, ReasonOrderNotPayable, typed.Reason())
}

func TestCreateRejectsAmountExceedingOutstanding(t *testing.T) {
	f := newPaymentsFixture(t)
	order := f.seedOrder(enums.OrderStatePayment, 5000)
	method := f.seedMethod(enums.PaymentMethodCashOnDelivery, true, false)
	f.seedPayment(order, method, enums.PaymentStateCompleted, 3000)

	_, err := f.svc.Create(context.Background(), CreateInput{
		OrderID:         order.ID,
		PaymentMethodID: method.ID,
		AmountCents:     2500,
	}, outbox.ActorRef{})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	assert.Equal(t, pkgerrors.CodeBusinessRule, typed.Code())
	assert.Equal(t, ReasonAmountExceedsOutstanding, typed.Reason())
}

func TestCreateRejectsInactiveMethod(t *testing.T) {
	f := newPaymentsFixture(t)
	order := f.seedOrder(enums.OrderStatePayment, 1000)
	method := f.seedMethod(enums.PaymentMethodCashOnDelivery, false, false)

	_, err := f.svc.Create(context.Background(), CreateInput{
		OrderID:         order.ID,
		PaymentMethodID: method.ID,
		AmountCents:     1000,
	}, outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, ReasonMethodInactive, pkgerrors.As(err).Reason())
}

func TestCreateGatewayDeclineMarksFailed(t *testing.T) {
	proc := &fakeGatewayProcessor{
		methodType: enums.PaymentMethodStripe,
		intentResult: &GatewayResult{
			Status:        GatewayStatusFailed,
			ErrorCode:     "card_declined",
			FailureReason: "insufficient funds",
		},
	}
	f := newPaymentsFixture(t, proc)
	order := f.seedOrder(enums.OrderStatePayment, 2000)
	method := f.seedMethod(enums.PaymentMethodStripe, true, true)

	_, err := f.svc.Create(context.Background(), CreateInput{
		OrderID:         order.ID,
		PaymentMethodID: method.ID,
		AmountCents:     2000,
		SourceID:        "tok_visa",
	}, outbox.ActorRef{})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	assert.Equal(t, pkgerrors.CodeBusinessRule, typed.Code())
	assert.Equal(t, ReasonGatewayDeclined, typed.Reason())

	rows, listErr := f.repo.ListByOrder(context.Background(), order.ID)
	require.NoError(t, listErr)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PaymentStateFailed, rows[0].State)
	require.NotNil(t, rows[0].GatewayErrorCode)
	assert.Equal(t, "card_declined", *rows[0].GatewayErrorCode)
	assert.Contains(t, f.outbox.typesEmitted(), enums.EventPaymentFailed)
	assert.Equal(t, 0, f.advancer.calls())
}

func TestCreateDispatchFailureRollsBackAndCountsAttempt(t *testing.T) {
	proc := &fakeGatewayProcessor{
		methodType: enums.PaymentMethodStripe,
		intentErr:  pkgerrors.New(pkgerrors.CodeDependency, "gateway timeout"),
	}
	f := newPaymentsFixture(t, proc)
	order := f.seedOrder(enums.OrderStatePayment, 2000)
	method := f.seedMethod(enums.PaymentMethodStripe, true, true)

	_, err := f.svc.Create(context.Background(), CreateInput{
		OrderID:         order.ID,
		PaymentMethodID: method.ID,
		AmountCents:     2000,
		SourceID:        "tok_visa",
	}, outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())

	rows, listErr := f.repo.ListByOrder(context.Background(), order.ID)
	require.NoError(t, listErr)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PaymentStatePending, rows[0].State)
	assert.Equal(t, 1, rows[0].AttemptCount)
}

func TestCaptureFromAuthorized(t *testing.T) {
	f := newPaymentsFixture(t)
	order := f.seedOrder(enums.OrderStateConfirm, 3000)
	method := f.seedMethod(enums.PaymentMethodCashOnDelivery, true, false)
	seeded := f.seedPayment(order, method, enums.PaymentStateAuthorized, 3000)

	payment, err := f.svc.Capture(context.Background(), seeded.ID, outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStateCompleted, payment.State)
	assert.NotNil(t, payment.CapturedAt)
	require.NotNil(t, payment.IdempotencyKey)
	assert.Equal(t, fmt.Sprintf("pay_%s_capture_0", seeded.ID), *payment.IdempotencyKey)
	assert.Contains(t, f.outbox.typesEmitted(), enums.EventPaymentCaptured)
	assert.Equal(t, 1, f.advancer.calls())
}

func TestCaptureRejectsTerminalState(t *testing.T) {
	f := newPaymentsFixture(t)
	order := f.seedOrder(enums.OrderStatePayment, 3000)
	method := f.seedMethod(enums.PaymentMethodCashOnDelivery, true, false)
	seeded := f.seedPayment(order, method, enums.PaymentStateVoid, 3000)

	_, err := f.svc.Capture(context.Background(), seeded.ID, outbox.ActorRef{})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
	assert.Equal(t, ReasonInvalidState, typed.Reason())
}

func TestRefundPartialKeepsCompleted(t *testing.T) {
	f := newPaymentsFixture(t)
	order := f.seedOrder(enums.OrderStateComplete, 5000)
	method := f.seedMethod(enums.PaymentMethodCashOnDelivery, true, false)
	seeded := f.seedPayment(order, method, enums.PaymentStateCompleted, 5000)

	payment, err := f.svc.Refund(context.Background(), seeded.ID, 2000, "damaged item", outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStateCompleted, payment.State)
	assert.Equal(t, int64(2000), payment.RefundedCents)
	assert.Contains(t, f.outbox.typesEmitted(), enums.EventPaymentRefunded)
}

func TestRefundFullTransitionsToRefunded(t *testing.T) {
	f := newPaymentsFixture(t)
	order := f.seedOrder(enums.OrderStateComplete, 5000)
	method := f.seedMethod(enums.PaymentMethodCashOnDelivery, true, false)
	seeded := f.seedPayment(order, method, enums.PaymentStateCompleted, 5000)

	_, err := f.svc.Refund(context.Background(), seeded.ID, 2000, "", outbox.ActorRef{})
	require.NoError(t, err)
	payment, err := f.svc.Refund(context.Background(), seeded.ID, 3000, "", outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStateRefunded, payment.State)
	assert.Equal(t, int64(5000), payment.RefundedCents)
	assert.Equal(t, int64(0), payment.NetCapturedCents())
}

func TestRefundRejectsExceedingCaptured(t *testing.T) {
	f := newPaymentsFixture(t)
	order := f.seedOrder(enums.OrderStateComplete, 5000)
	method := f.seedMethod(enums.PaymentMethodCashOnDelivery, true, false)
	seeded := f.seedPayment(order, method, enums.PaymentStateCompleted, 5000)
	seeded.RefundedCents = 4000

	_, err := f.svc.Refund(context.Background(), seeded.ID, 2000, "", outbox.ActorRef{})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	assert.Equal(t, pkgerrors.CodeBusinessRule, typed.Code())
	assert.Equal(t, ReasonRefundExceedsCaptured, typed.Reason())
}

func TestVoidFromAuthorized(t *testing.T) {
	f := newPaymentsFixture(t)
	order := f.seedOrder(enums.OrderStatePayment, 3000)
	method := f.seedMethod(enums.PaymentMethodCashOnDelivery, true, false)
	seeded := f.seedPayment(order, method, enums.PaymentStateAuthorized, 3000)

	payment, err := f.svc.Void(context.Background(), seeded.ID, outbox.ActorRef{})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStateVoid, payment.State)
	assert.NotNil(t, payment.VoidedAt)
}

func TestVoidRejectsCompletedPayment(t *testing.T) {
	f := newPaymentsFixture(t)
	order := f.seedOrder(enums.OrderStateComplete, 3000)
	method := f.seedMethod(enums.PaymentMethodCashOnDelivery, true, false)
	seeded := f.seedPayment(order, method, enums.PaymentStateCompleted, 3000)

	_, err := f.svc.Void(context.Background(), seeded.ID, outbox.ActorRef{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestRegistryRejectsUnknownProvider(t *testing.T) {
	registry, err := NewRegistry()
	require.NoError(t, err)

	_, err = registry.Resolve(enums.PaymentMethodStripe)
	require.Error(t, err)
	assert.Equal(t, ReasonProcessorUnavailable, pkgerrors.As(err).Reason())

	proc, err := registry.Resolve(enums.PaymentMethodCashOnDelivery)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentMethodCashOnDelivery, proc.Type())
}

func TestCheckerSums(t *testing.T) {
	f := newPaymentsFixture(t)
	order := f.seedOrder(enums.OrderStatePayment, 10000)
	method := f.seedMethod(enums.PaymentMethodCashOnDelivery, true, false)
	f.seedPayment(order, method, enums.PaymentStateAuthorized, 4000)
	captured := f.seedPayment(order, method, enums.PaymentStateCompleted, 5000)
	captured.RefundedCents = 1000
	f.seedPayment(order, method, enums.PaymentStateFailed, 9999)

	checker := NewChecker(f.repo)
	covered, err := checker.CoveredCentsTx(context.Background(), nil, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), covered)

	capturedCents, err := checker.CapturedCentsTx(context.Background(), nil, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), capturedCents)

	net, err := checker.NetCapturedCentsTx(context.Background(), nil, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), net)
}
