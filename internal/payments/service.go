package payments

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/config"
	dbpkg "github.com/mercatto/commerce-core/pkg/db"
	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
	"github.com/mercatto/commerce-core/pkg/logger"
	"github.com/mercatto/commerce-core/pkg/metrics"
	"github.com/mercatto/commerce-core/pkg/outbox"
	"github.com/mercatto/commerce-core/pkg/outbox/payloads"
	"github.com/mercatto/commerce-core/pkg/types"
)

const (
	ReasonNotFound                 = "Payment.NotFound"
	ReasonInvalidState             = "Payment.InvalidStateTransition"
	ReasonOrderNotPayable          = "Payment.OrderNotPayable"
	ReasonAmountExceedsOutstanding = "Payment.AmountExceedsOutstanding"
	ReasonMethodInactive           = "Payment.MethodInactive"
	ReasonRefundExceedsCaptured    = "Payment.RefundExceedsCaptured"
	ReasonGatewayDeclined          = "Payment.GatewayDeclined"
	ReasonProcessorUnavailable     = "Payment.ProcessorUnavailable"
	ReasonWebhookSignature         = "Payment.InvalidWebhookSignature"
	ReasonWebhookUnsupported       = "Payment.WebhookUnsupported"
)

// CreateInput starts a payment against an order. SourceID is the gateway
// token for the customer's instrument; CashOnDelivery needs none.
type CreateInput struct {
	OrderID         uuid.UUID
	PaymentMethodID uuid.UUID
	AmountCents     int64
	SourceID        string
}

// Service is the payment command surface. State mutations run in their own
// transactions; gateway calls happen between them under a dispatch timeout so
// no row lock spans an HTTP round-trip.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)

	Create(ctx context.Context, input CreateInput, actor outbox.ActorRef) (*models.Payment, error)
	Capture(ctx context.Context, paymentID uuid.UUID, actor outbox.ActorRef) (*models.Payment, error)
	Refund(ctx context.Context, paymentID uuid.UUID, amountCents int64, reason string, actor outbox.ActorRef) (*models.Payment, error)
	Void(ctx context.Context, paymentID uuid.UUID, actor outbox.ActorRef) (*models.Payment, error)

	// HandleWebhook reconciles a signed provider notification against the
	// persisted payment and re-enters the order machine on sufficiency.
	HandleWebhook(ctx context.Context, provider enums.PaymentMethodType, payload []byte, signature string) error
}

// Deps carries the collaborators the payment service needs.
type Deps struct {
	Repo     Repository
	Tx       txRunner
	Outbox   outboxPublisher
	Orders   orderAdvancer
	Registry *Registry
	Sealer   credentialOpener
	Dedupe   dedupeStore
	Config   config.PaymentsConfig
	Metrics  *metrics.CommandMetrics
	Webhooks *metrics.WebhookMetrics
	Logger   *logger.Logger
}

type service struct {
	repo      Repository
	tx        txRunner
	outboxSvc outboxPublisher
	orders    orderAdvancer
	registry  *Registry
	sealer    credentialOpener
	dedupe    dedupeStore
	cfg       config.PaymentsConfig
	checker   *Checker
	metrics   *metrics.CommandMetrics
	webhooks  *metrics.WebhookMetrics
	logg      *logger.Logger
}

// NewService builds the payment orchestrator.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("order advancer required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("processor registry required")
	}
	if deps.Dedupe == nil {
		return nil, fmt.Errorf("webhook dedupe store required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      deps.Repo,
		tx:        deps.Tx,
		outboxSvc: deps.Outbox,
		orders:    deps.Orders,
		registry:  deps.Registry,
		sealer:    deps.Sealer,
		dedupe:    deps.Dedupe,
		cfg:       deps.Config,
		checker:   NewChecker(deps.Repo),
		metrics:   deps.Metrics,
		webhooks:  deps.Webhooks,
		logg:      deps.Logger,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapPaymentNotFound(err)
	}
	return payment, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return rows, nil
}

func (s *service) Create(ctx context.Context, input CreateInput, actor outbox.ActorRef) (*models.Payment, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive").
			WithDetail("amount_cents", input.AmountCents)
	}

	var paymentID uuid.UUID
	err := s.instrument(ctx, "payment_create", func(ctx context.Context) error {
		err := dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
			return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
				repo := s.repo.WithTx(tx)
				order, err := repo.FindOrder(ctx, input.OrderID)
				if err != nil {
					if stdErrors.Is(err, gorm.ErrRecordNotFound) {
						return pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
							WithReason("Order.NotFound")
					}
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
				}
				if order.State != enums.OrderStatePayment && order.State != enums.OrderStateConfirm {
					return pkgerrors.New(pkgerrors.CodeStateConflict,
						fmt.Sprintf("order in state %s accepts no payments", order.State)).
						WithReason(ReasonOrderNotPayable).
						WithDetail("state", order.State.String())
				}
				covered, err := s.checker.CoveredCentsTx(ctx, tx, order.ID)
				if err != nil {
					return err
				}
				outstanding := order.GrandTotalCents - covered
				if input.AmountCents > outstanding {
					return pkgerrors.New(pkgerrors.CodeBusinessRule, "amount exceeds outstanding balance").
						WithReason(ReasonAmountExceedsOutstanding).
						WithDetail("outstanding_cents", outstanding)
				}

				method, err := repo.FindMethod(ctx, input.PaymentMethodID)
				if err != nil {
					if stdErrors.Is(err, gorm.ErrRecordNotFound) {
						return pkgerrors.New(pkgerrors.CodeNotFound, "payment method not found").
							WithReason(ReasonNotFound)
					}
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment method")
				}
				if !method.Active {
					return pkgerrors.New(pkgerrors.CodeBusinessRule, "payment method is inactive").
						WithReason(ReasonMethodInactive)
				}
				if _, err := s.registry.Resolve(method.Type); err != nil {
					return err
				}

				row := &models.Payment{
					OrderID:           order.ID,
					AmountCents:       input.AmountCents,
					Currency:          order.Currency,
					State:             enums.PaymentStatePending,
					PaymentMethodID:   method.ID,
					PaymentMethodType: method.Type,
				}
				if input.SourceID != "" {
					aux := types.JSONMap{"source_id": input.SourceID}
					row.Aux = &aux
				}
				if err := repo.Create(ctx, row); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
				}
				paymentID = row.ID
				return nil
			})
		})
		if err != nil {
			return err
		}
		return s.authorize(ctx, paymentID, actor)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, paymentID)
}

func (s *service) Capture(ctx context.Context, paymentID uuid.UUID, actor outbox.ActorRef) (*models.Payment, error) {
	err := s.instrument(ctx, "payment_capture", func(ctx context.Context) error {
		return s.capture(ctx, paymentID, actor)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, paymentID)
}

func (s *service) Refund(ctx context.Context, paymentID uuid.UUID, amountCents int64, reason string, actor outbox.ActorRef) (*models.Payment, error) {
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive").
			WithDetail("amount_cents", amountCents)
	}
	err := s.instrument(ctx, "payment_refund", func(ctx context.Context) error {
		target, err := s.markDispatch(ctx, paymentID, "refund",
			[]enums.PaymentState{enums.PaymentStateCompleted}, enums.PaymentStateCompleted)
		if err != nil {
			return err
		}
		remaining := target.payment.AmountCents - target.payment.RefundedCents
		if amountCents > remaining {
			return pkgerrors.New(pkgerrors.CodeBusinessRule, "refund exceeds captured balance").
				WithReason(ReasonRefundExceedsCaptured).
				WithDetail("refundable_cents", remaining)
		}

		gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()
		result, dispatchErr := target.proc.Refund(gctx, target.creds, target.payment, amountCents, reason, *target.payment.IdempotencyKey)
		if dispatchErr != nil {
			return s.recordDispatchFailure(ctx, target, dispatchErr)
		}
		if result.Status != GatewayStatusRefunded {
			return s.recordDecline(ctx, target, result, actor)
		}

		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			payment := target.payment
			refunded := payment.RefundedCents + amountCents
			updates := map[string]any{"refunded_cents": refunded}
			if refunded >= payment.AmountCents {
				updates["state"] = enums.PaymentStateRefunded
				payment.State = enums.PaymentStateRefunded
			}
			if err := repo.Update(ctx, payment, updates); err != nil {
				return err
			}
			payment.LockVersion++
			payment.RefundedCents = refunded
			return s.emit(ctx, tx, enums.EventPaymentRefunded, payment, actor, payloads.PaymentRefundedEvent{
				PaymentID:     payment.ID,
				OrderID:       payment.OrderID,
				AmountCents:   amountCents,
				RefundedCents: refunded,
				Currency:      string(payment.Currency),
				Partial:       refunded < payment.AmountCents,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, paymentID)
}

func (s *service) Void(ctx context.Context, paymentID uuid.UUID, actor outbox.ActorRef) (*models.Payment, error) {
	err := s.instrument(ctx, "payment_void", func(ctx context.Context) error {
		target, err := s.markDispatch(ctx, paymentID, "void",
			[]enums.PaymentState{enums.PaymentStateAuthorized}, enums.PaymentStateAuthorized)
		if err != nil {
			return err
		}

		gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()
		result, dispatchErr := target.proc.Void(gctx, target.creds, target.payment, *target.payment.IdempotencyKey)
		if dispatchErr != nil {
			return s.recordDispatchFailure(ctx, target, dispatchErr)
		}
		if result.Status != GatewayStatusVoided {
			return s.recordDecline(ctx, target, result, actor)
		}

		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			payment := target.payment
			if err := repo.Update(ctx, payment, map[string]any{
				"state":     enums.PaymentStateVoid,
				"voided_at": time.Now().UTC(),
			}); err != nil {
				return err
			}
			payment.LockVersion++
			payment.State = enums.PaymentStateVoid
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, paymentID)
}

// authorize dispatches the intent for a pending payment and applies the
// gateway's verdict. Auto-capture methods chain straight into capture.
func (s *service) authorize(ctx context.Context, paymentID uuid.UUID, actor outbox.ActorRef) error {
	target, err := s.markDispatch(ctx, paymentID, "intent",
		[]enums.PaymentState{enums.PaymentStatePending}, enums.PaymentStateAuthorizing)
	if err != nil {
		return err
	}

	req := IntentRequest{
		PaymentID:      target.payment.ID,
		OrderNumber:    target.orderNumber,
		AmountCents:    target.payment.AmountCents,
		Currency:       target.payment.Currency,
		SourceID:       auxString(target.payment, "source_id"),
		IdempotencyKey: *target.payment.IdempotencyKey,
	}
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	result, dispatchErr := target.proc.CreateIntent(gctx, target.creds, req)
	if dispatchErr != nil {
		return s.recordDispatchFailure(ctx, target, dispatchErr)
	}

	var captured, authorized bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment := target.payment
		now := time.Now().UTC()
		updates := map[string]any{}
		if result.ProviderRef != "" {
			updates["provider_ref"] = result.ProviderRef
			payment.ProviderRef = &result.ProviderRef
		}
		if result.AuthCode != "" {
			updates["auth_code"] = result.AuthCode
		}

		switch result.Status {
		case GatewayStatusAuthorized:
			updates["state"] = enums.PaymentStateAuthorized
			updates["authorized_at"] = now
			payment.State = enums.PaymentStateAuthorized
			authorized = true
		case GatewayStatusCaptured:
			updates["state"] = enums.PaymentStateCompleted
			updates["authorized_at"] = now
			updates["captured_at"] = now
			payment.State = enums.PaymentStateCompleted
			captured = true
		case GatewayStatusFailed:
			updates["state"] = enums.PaymentStateFailed
			updates["gateway_error_code"] = result.ErrorCode
			updates["failure_reason"] = result.FailureReason
			payment.State = enums.PaymentStateFailed
		default:
			// Pending or RequiresAction: the client finishes off-site and the
			// webhook moves the payment forward.
			updates["state"] = enums.PaymentStatePending
			payment.State = enums.PaymentStatePending
		}
		if err := repo.Update(ctx, payment, updates); err != nil {
			return err
		}
		payment.LockVersion++

		switch payment.State {
		case enums.PaymentStateAuthorized:
			return s.emitStatus(ctx, tx, enums.EventPaymentAuthorized, payment, actor, "")
		case enums.PaymentStateCompleted:
			if err := s.emitStatus(ctx, tx, enums.EventPaymentCaptured, payment, actor, ""); err != nil {
				return err
			}
			return s.advanceOrder(ctx, tx, payment.OrderID)
		case enums.PaymentStateFailed:
			return s.emitStatus(ctx, tx, enums.EventPaymentFailed, payment, actor, result.ErrorCode)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if target.payment.State == enums.PaymentStateFailed {
		return gatewayDeclined(result, "authorization")
	}
	// Offline processors answer the intent with Pending and settle on capture,
	// so auto-capture chains from Pending as well as Authorized.
	if !captured && target.method.AutoCapture &&
		(authorized || result.Status == GatewayStatusPending) {
		return s.capture(ctx, paymentID, actor)
	}
	return nil
}

func (s *service) capture(ctx context.Context, paymentID uuid.UUID, actor outbox.ActorRef) error {
	target, err := s.markDispatch(ctx, paymentID, "capture",
		[]enums.PaymentState{enums.PaymentStateAuthorized, enums.PaymentStatePending}, enums.PaymentStateCapturing)
	if err != nil {
		return err
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	result, dispatchErr := target.proc.Capture(gctx, target.creds, target.payment, *target.payment.IdempotencyKey)
	if dispatchErr != nil {
		return s.recordDispatchFailure(ctx, target, dispatchErr)
	}
	if result.Status != GatewayStatusCaptured {
		if result.Status == GatewayStatusFailed {
			return s.recordCaptureFailure(ctx, target, result, actor)
		}
		// The provider did not settle synchronously; fall back to the
		// authorized state and let the webhook finish the capture.
		return s.recordDispatchFailure(ctx, target,
			pkgerrors.New(pkgerrors.CodeDependency, "capture did not settle synchronously"))
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment := target.payment
		now := time.Now().UTC()
		updates := map[string]any{
			"state":       enums.PaymentStateCompleted,
			"captured_at": now,
		}
		if payment.AuthorizedAt == nil {
			updates["authorized_at"] = now
		}
		if err := repo.Update(ctx, payment, updates); err != nil {
			return err
		}
		payment.LockVersion++
		payment.State = enums.PaymentStateCompleted
		if err := s.emitStatus(ctx, tx, enums.EventPaymentCaptured, payment, actor, ""); err != nil {
			return err
		}
		return s.advanceOrder(ctx, tx, payment.OrderID)
	})
}

// recordCaptureFailure persists the terminal failure and surfaces the decline.
func (s *service) recordCaptureFailure(ctx context.Context, target *dispatchTarget, result *GatewayResult, actor outbox.ActorRef) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment := target.payment
		if err := repo.Update(ctx, payment, map[string]any{
			"state":              enums.PaymentStateFailed,
			"gateway_error_code": result.ErrorCode,
			"failure_reason":     result.FailureReason,
		}); err != nil {
			return err
		}
		payment.LockVersion++
		payment.State = enums.PaymentStateFailed
		return s.emitStatus(ctx, tx, enums.EventPaymentFailed, payment, actor, result.ErrorCode)
	})
	if err != nil {
		return err
	}
	return gatewayDeclined(result, "capture")
}

// recordDecline rolls nothing back: refund and void leave the payment in its
// prior state and report the gateway's refusal.
func (s *service) recordDecline(ctx context.Context, target *dispatchTarget, result *GatewayResult, _ outbox.ActorRef) error {
	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment := target.payment
		if err := repo.Update(ctx, payment, map[string]any{
			"gateway_error_code": result.ErrorCode,
			"failure_reason":     result.FailureReason,
		}); err != nil {
			return err
		}
		payment.LockVersion++
		return nil
	})
	if txErr != nil && s.logg != nil {
		s.logg.Error(ctx, "record gateway decline", txErr)
	}
	return gatewayDeclined(result, target.op)
}

// recordDispatchFailure rolls the payment back to its pre-dispatch state. A
// retriable failure advances the attempt counter so the next try carries a
// fresh idempotency key.
func (s *service) recordDispatchFailure(ctx context.Context, target *dispatchTarget, dispatchErr error) error {
	retriable := pkgerrors.MetadataFor(pkgerrors.As(dispatchErr).Code()).Retryable
	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment := target.payment
		updates := map[string]any{
			"state":          target.rollback,
			"failure_reason": dispatchErr.Error(),
		}
		if retriable {
			updates["attempt_count"] = payment.AttemptCount + 1
		}
		if err := repo.Update(ctx, payment, updates); err != nil {
			return err
		}
		payment.LockVersion++
		payment.State = target.rollback
		if retriable {
			payment.AttemptCount++
		}
		return nil
	})
	if txErr != nil && s.logg != nil {
		s.logg.Error(ctx, "record dispatch failure", txErr)
	}
	return dispatchErr
}

// dispatchTarget is everything one gateway round-trip needs, loaded and
// locked in before the HTTP call.
type dispatchTarget struct {
	payment     *models.Payment
	method      *models.PaymentMethod
	proc        Processor
	creds       Credentials
	orderNumber string
	op          string
	rollback    enums.PaymentState
}

// markDispatch guards the state transition into the dispatch, stamps the
// deterministic idempotency key, and gathers processor plus credentials.
func (s *service) markDispatch(ctx context.Context, paymentID uuid.UUID, op string, from []enums.PaymentState, to enums.PaymentState) (*dispatchTarget, error) {
	var target *dispatchTarget
	err := dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			payment, err := repo.FindByID(ctx, paymentID)
			if err != nil {
				return mapPaymentNotFound(err)
			}
			if !stateIn(payment.State, from) {
				return pkgerrors.New(pkgerrors.CodeStateConflict,
					fmt.Sprintf("payment in state %s cannot %s", payment.State, op)).
					WithReason(ReasonInvalidState).
					WithDetail("state", payment.State.String())
			}
			rollback := payment.State

			key := idempotencyKey(payment.ID, op, payment.AttemptCount)
			updates := map[string]any{"idempotency_key": key}
			if to != payment.State {
				updates["state"] = to
			}
			if err := repo.Update(ctx, payment, updates); err != nil {
				return err
			}
			payment.LockVersion++
			payment.State = to
			payment.IdempotencyKey = &key

			method, err := repo.FindMethod(ctx, payment.PaymentMethodID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment method")
			}
			proc, err := s.registry.Resolve(method.Type)
			if err != nil {
				return err
			}
			creds, err := s.openCredentials(ctx, repo, method)
			if err != nil {
				return err
			}
			order, err := repo.FindOrder(ctx, payment.OrderID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
			}
			target = &dispatchTarget{
				payment:     payment,
				method:      method,
				proc:        proc,
				creds:       creds,
				orderNumber: order.Number,
				op:          op,
				rollback:    rollback,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

// openCredentials decrypts the sealed gateway blob. Methods without a gateway
// configuration (CashOnDelivery) dispatch with empty credentials.
func (s *service) openCredentials(ctx context.Context, repo Repository, method *models.PaymentMethod) (Credentials, error) {
	if method.GatewayConfigurationID == nil {
		return Credentials{}, nil
	}
	cfg, err := repo.FindGatewayConfiguration(ctx, *method.GatewayConfigurationID)
	if err != nil {
		return Credentials{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load gateway configuration")
	}
	if s.sealer == nil {
		return Credentials{}, pkgerrors.New(pkgerrors.CodeInternal, "credential sealer not configured")
	}
	plain, err := s.sealer.Open(cfg.SealedSecrets)
	if err != nil {
		return Credentials{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open gateway credentials")
	}
	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return Credentials{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode gateway credentials")
	}
	return creds, nil
}

// advanceOrder nudges the checkout forward once a capture lands. Guards that
// are still unsatisfied are not an error here.
func (s *service) advanceOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	order, err := s.repo.WithTx(tx).FindOrder(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.State != enums.OrderStatePayment && order.State != enums.OrderStateConfirm {
		return nil
	}
	if err := s.orders.AdvanceTx(ctx, tx, orderID, outbox.ActorRef{}); err != nil {
		typed := pkgerrors.As(err)
		if typed != nil && (typed.Code() == pkgerrors.CodeStateConflict || typed.Code() == pkgerrors.CodeBusinessRule) {
			return nil
		}
		return err
	}
	return nil
}

func (s *service) emitStatus(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payment *models.Payment, actor outbox.ActorRef, errorCode string) error {
	event := payloads.PaymentStatusEvent{
		PaymentID:   payment.ID,
		OrderID:     payment.OrderID,
		State:       payment.State.String(),
		AmountCents: payment.AmountCents,
		Currency:    string(payment.Currency),
		ProviderRef: payment.ProviderRef,
	}
	if errorCode != "" {
		event.ErrorCode = &errorCode
	}
	return s.emit(ctx, tx, eventType, payment, actor, event)
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payment *models.Payment, actor outbox.ActorRef, data any) error {
	return s.outboxSvc.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         actorRef(actor),
		Data:          data,
	})
}

func (s *service) instrument(ctx context.Context, command string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx = s.logg.WithCommand(ctx, command)
	err := fn(ctx)
	s.metrics.ObserveDuration(command, time.Since(start))
	if err != nil {
		s.metrics.IncFailure(command, string(pkgerrors.As(err).Code()))
		return err
	}
	s.metrics.IncSuccess(command)
	return nil
}

func idempotencyKey(paymentID uuid.UUID, op string, attempt int) string {
	return fmt.Sprintf("pay_%s_%s_%d", paymentID, op, attempt)
}

func gatewayDeclined(result *GatewayResult, op string) error {
	err := pkgerrors.New(pkgerrors.CodeBusinessRule, fmt.Sprintf("gateway declined %s", op)).
		WithReason(ReasonGatewayDeclined)
	if result.ErrorCode != "" {
		err = err.WithDetail("gateway_error_code", result.ErrorCode)
	}
	return err
}

func stateIn(state enums.PaymentState, states []enums.PaymentState) bool {
	for _, candidate := range states {
		if candidate == state {
			return true
		}
	}
	return false
}

func auxString(payment *models.Payment, key string) string {
	if payment == nil || payment.Aux == nil {
		return ""
	}
	if value, ok := (*payment.Aux)[key].(string); ok {
		return value
	}
	return ""
}

func mapPaymentNotFound(err error) error {
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found").
			WithReason(ReasonNotFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
}

func actorRef(actor outbox.ActorRef) *outbox.ActorRef {
	if actor.UserID == uuid.Nil && actor.Role == "" {
		return nil
	}
	return &actor
}
