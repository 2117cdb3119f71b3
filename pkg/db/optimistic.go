package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
)

const (
	conflictRetryAttempts = 3
	conflictRetryBase     = 25 * time.Millisecond
)

// OptimisticUpdate applies updates to one row guarded by its lock_version.
// Zero affected rows means another writer advanced the version first.
func OptimisticUpdate(tx *gorm.DB, model any, id uuid.UUID, lockVersion int64, updates map[string]any) error {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["lock_version"] = lockVersion + 1

	result := tx.Model(model).
		Where("id = ? AND lock_version = ?", id, lockVersion).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConcurrency, "row version mismatch").
			WithDetail("id", id.String())
	}
	return nil
}

// RetryOnConflict reruns fn on CONCURRENCY_CONFLICT with jittered backoff,
// surfacing the conflict after the attempts are exhausted. Other errors pass
// through immediately.
func RetryOnConflict(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(conflictRetryAttempts-1, retry.WithJitter(
		conflictRetryBase/2, retry.NewExponential(conflictRetryBase),
	))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if pkgerrors.IsCode(err, pkgerrors.CodeConcurrency) {
			return retry.RetryableError(err)
		}
		return err
	})
}
