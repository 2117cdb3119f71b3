package payments

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/mercatto/commerce-core/pkg/db"
	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
	"github.com/mercatto/commerce-core/pkg/outbox"
)

// HandleWebhook validates, dedupes and reconciles one provider notification.
// Redeliveries and out-of-order events are acknowledged without effect.
func (s *service) HandleWebhook(ctx context.Context, provider enums.PaymentMethodType, payload []byte, signature string) error {
	proc, err := s.registry.Resolve(provider)
	if err != nil {
		return err
	}
	secret, err := s.webhookSecret(ctx, provider)
	if err != nil {
		return err
	}
	event, err := proc.ValidateWebhook(payload, signature, secret)
	if err != nil {
		return err
	}
	s.webhooks.IncReceived(string(provider), string(event.Kind))
	if event.Kind == WebhookKindIgnored {
		return nil
	}

	key := s.dedupe.WebhookDedupeKey(string(provider), event.EventID)
	fresh, err := s.dedupe.SetNX(ctx, key, "1", s.cfg.WebhookDedupeTTL)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark webhook seen")
	}
	if !fresh {
		s.webhooks.IncDuplicate(string(provider))
		return nil
	}

	if err := s.reconcile(ctx, event); err != nil {
		_ = s.dedupe.Del(ctx, key)
		return err
	}
	return nil
}

// webhookSecret opens the sealed signing secret for the provider's active
// payment method.
func (s *service) webhookSecret(ctx context.Context, provider enums.PaymentMethodType) ([]byte, error) {
	method, err := s.repo.FindActiveMethodByType(ctx, provider)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active payment method for provider").
				WithReason(ReasonNotFound).
				WithDetail("provider", string(provider))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment method")
	}
	if method.GatewayConfigurationID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider has no gateway configuration").
			WithReason(ReasonWebhookUnsupported)
	}
	cfg, err := s.repo.FindGatewayConfiguration(ctx, *method.GatewayConfigurationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load gateway configuration")
	}
	if len(cfg.WebhookSecret) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway has no webhook secret").
			WithReason(ReasonWebhookUnsupported)
	}
	if s.sealer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credential sealer not configured")
	}
	secret, err := s.sealer.Open(cfg.WebhookSecret)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open webhook secret")
	}
	return secret, nil
}

// reconcile applies the minimal transition the event implies under the row
// version lock, then re-enters the order machine when the change can satisfy
// a payment guard.
func (s *service) reconcile(ctx context.Context, event *WebhookEvent) error {
	return dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			payment, err := s.locate(ctx, repo, event)
			if err != nil {
				return err
			}
			if event.Sequence <= payment.WebhookSequence {
				s.webhooks.IncStale(string(event.Provider))
				return nil
			}

			now := time.Now().UTC()
			updates := map[string]any{"webhook_sequence": event.Sequence}
			if event.ProviderRef != "" && payment.ProviderRef == nil {
				updates["provider_ref"] = event.ProviderRef
				payment.ProviderRef = &event.ProviderRef
			}

			var emitType enums.OutboxEventType
			switch event.Kind {
			case WebhookKindAuthorized:
				if payment.State == enums.PaymentStatePending || payment.State == enums.PaymentStateAuthorizing {
					updates["state"] = enums.PaymentStateAuthorized
					updates["authorized_at"] = now
					payment.State = enums.PaymentStateAuthorized
					emitType = enums.EventPaymentAuthorized
				}
			case WebhookKindCaptured:
				switch payment.State {
				case enums.PaymentStatePending, enums.PaymentStateAuthorizing,
					enums.PaymentStateAuthorized, enums.PaymentStateCapturing:
					updates["state"] = enums.PaymentStateCompleted
					updates["captured_at"] = now
					if payment.AuthorizedAt == nil {
						updates["authorized_at"] = now
					}
					payment.State = enums.PaymentStateCompleted
					emitType = enums.EventPaymentCaptured
				}
			case WebhookKindFailed:
				switch payment.State {
				case enums.PaymentStatePending, enums.PaymentStateAuthorizing,
					enums.PaymentStateAuthorized, enums.PaymentStateCapturing:
					updates["state"] = enums.PaymentStateFailed
					updates["gateway_error_code"] = event.ErrorCode
					payment.State = enums.PaymentStateFailed
					emitType = enums.EventPaymentFailed
				}
			}

			if err := repo.Update(ctx, payment, updates); err != nil {
				return err
			}
			payment.LockVersion++

			if emitType == "" {
				return nil
			}
			if err := s.emitStatus(ctx, tx, emitType, payment, outbox.ActorRef{}, event.ErrorCode); err != nil {
				return err
			}
			if payment.State.CountsTowardSufficiency() {
				return s.advanceOrder(ctx, tx, payment.OrderID)
			}
			return nil
		})
	})
}

// locate resolves the event to a payment row, preferring the payment id we
// stamped into the intent metadata and falling back to the provider ref.
func (s *service) locate(ctx context.Context, repo Repository, event *WebhookEvent) (*models.Payment, error) {
	if event.PaymentID != uuid.Nil {
		payment, err := repo.FindByID(ctx, event.PaymentID)
		if err == nil {
			return payment, nil
		}
		if !stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
	}
	if event.ProviderRef != "" {
		payment, err := repo.FindByProviderRef(ctx, event.ProviderRef)
		if err == nil {
			return payment, nil
		}
		if !stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found for webhook").
		WithReason(ReasonNotFound).
		WithDetail("event_id", event.EventID)
}
