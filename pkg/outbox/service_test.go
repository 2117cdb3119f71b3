package outbox

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
)

func setupOutboxTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`
	require.NoError(t, db.Exec(ddl).Error)
	return db
}

func orderEvent(eventType enums.OutboxEventType) DomainEvent {
	return DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Data:          map[string]string{"source": "test"},
	}
}

func countOutboxRows(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	return count
}

func TestEmitNotifiesSubscribersInOrder(t *testing.T) {
	db := setupOutboxTestDB(t)
	svc := NewService(NewRepository(db), nil)

	var calls []string
	svc.Subscribe(enums.EventOrderCompleted, func(_ context.Context, tx *gorm.DB, event DomainEvent) error {
		assert.NotNil(t, tx)
		calls = append(calls, "first:"+event.AggregateID.String())
		return nil
	})
	svc.Subscribe(enums.EventOrderCompleted, func(_ context.Context, _ *gorm.DB, event DomainEvent) error {
		calls = append(calls, "second:"+event.AggregateID.String())
		return nil
	})
	svc.Subscribe(enums.EventOrderCanceled, func(_ context.Context, _ *gorm.DB, _ DomainEvent) error {
		calls = append(calls, "wrong-type")
		return nil
	})

	event := orderEvent(enums.EventOrderCompleted)
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, event)
	})
	require.NoError(t, err)

	id := event.AggregateID.String()
	assert.Equal(t, []string{"first:" + id, "second:" + id}, calls)
	assert.Equal(t, int64(1), countOutboxRows(t, db))
}

func TestEmitSubscriberSeesOutboxRow(t *testing.T) {
	db := setupOutboxTestDB(t)
	svc := NewService(NewRepository(db), nil)

	// The row is written before subscribers run, visible inside the same tx.
	var rowsSeen int64
	svc.Subscribe(enums.EventOrderCompleted, func(_ context.Context, tx *gorm.DB, _ DomainEvent) error {
		return tx.Model(&models.OutboxEvent{}).Count(&rowsSeen).Error
	})

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, orderEvent(enums.EventOrderCompleted))
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rowsSeen)
}

func TestEmitSubscriberErrorRollsBackTransaction(t *testing.T) {
	db := setupOutboxTestDB(t)
	svc := NewService(NewRepository(db), nil)

	boom := pkgerrors.New(pkgerrors.CodeBusinessRule, "projection rejected event")
	svc.Subscribe(enums.EventOrderCompleted, func(_ context.Context, _ *gorm.DB, _ DomainEvent) error {
		return boom
	})

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, orderEvent(enums.EventOrderCompleted))
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeBusinessRule, pkgerrors.As(err).Code())
	assert.Equal(t, int64(0), countOutboxRows(t, db))
}
