package cron

import (
	"context"
	"fmt"

	"github.com/mercatto/commerce-core/pkg/logger"
)

const cartExpiryBatchSize = 200

// cartExpirer is the slice of the order service the sweep drives.
type cartExpirer interface {
	ExpireStaleCarts(ctx context.Context, limit int) (int, error)
}

// CartExpiryJobParams configure the stale cart sweep.
type CartExpiryJobParams struct {
	Logger *logger.Logger
	Orders cartExpirer
}

// NewCartExpiryJob builds the job that cancels carts idle past the TTL and
// releases anything they still hold.
func NewCartExpiryJob(params CartExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	return &cartExpiryJob{logg: params.Logger, orders: params.Orders}, nil
}

type cartExpiryJob struct {
	logg   *logger.Logger
	orders cartExpirer
}

func (j *cartExpiryJob) Name() string { return "cart-expiry" }

// Run drains stale carts in batches until a sweep comes back short, so one
// cycle catches up even after downtime.
func (j *cartExpiryJob) Run(ctx context.Context) error {
	total := 0
	for {
		expired, err := j.orders.ExpireStaleCarts(ctx, cartExpiryBatchSize)
		total += expired
		if err != nil {
			return fmt.Errorf("expire stale carts: %w", err)
		}
		if expired < cartExpiryBatchSize {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": total})
	j.logg.Info(logCtx, "cart expiry sweep complete")
	return nil
}
