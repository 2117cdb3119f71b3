package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	"github.com/mercatto/commerce-core/pkg/logger"
)

// DomainEvent is the unit commands hand to the outbox inside their own
// transaction. The row commits or rolls back together with the state change.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          interface{}
	Version       int
	OccurredAt    time.Time
}

// Subscriber runs synchronously inside the emitting transaction, after the
// outbox row is written and before commit. A non-nil error aborts the whole
// transaction, state change and event row included.
type Subscriber func(ctx context.Context, tx *gorm.DB, event DomainEvent) error

type Service struct {
	repo *Repository
	logg *logger.Logger

	mu          sync.RWMutex
	subscribers map[enums.OutboxEventType][]Subscriber
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{
		repo:        repo,
		logg:        logg,
		subscribers: map[enums.OutboxEventType][]Subscriber{},
	}
}

// Subscribe registers a before-commit subscriber for the event type.
// Subscribers fire in registration order, in emission order across events.
func (s *Service) Subscribe(eventType enums.OutboxEventType, fn Subscriber) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[eventType] = append(s.subscribers[eventType], fn)
}

func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if event.Version == 0 {
		event.Version = 1
	}
	envelope := PayloadEnvelope{
		Version:    event.Version,
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt,
		Actor:      event.Actor,
		Data:       payload,
	}
	payloadJSON, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	row := models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       json.RawMessage(payloadJSON),
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return err
	}
	if err := s.notify(ctx, tx, event); err != nil {
		return err
	}
	if s.logg != nil {
		fields := map[string]any{
			"event_id":       envelope.EventID,
			"event_type":     event.EventType,
			"aggregate_id":   event.AggregateID.String(),
			"aggregate_type": event.AggregateType,
		}
		logCtx := s.logg.WithFields(ctx, fields)
		s.logg.Info(logCtx, "outbox event queued")
	}
	return nil
}

func (s *Service) notify(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	s.mu.RLock()
	subs := s.subscribers[event.EventType]
	s.mu.RUnlock()
	for _, fn := range subs {
		if err := fn(ctx, tx, event); err != nil {
			return err
		}
	}
	return nil
}

// EmitIfNotExists queues the event only when no row with the same type and
// aggregate exists yet. Used for one-shot events such as cart_expired.
func (s *Service) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	exists, err := s.repo.ExistsTx(tx, event.EventType, event.AggregateType, event.AggregateID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.Emit(ctx, tx, event)
}
