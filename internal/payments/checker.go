package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
)

// Checker answers the order machine's payment guards. It is a thin read-only
// slice over the payments table so the order service can depend on it without
// pulling in the orchestrator.
type Checker struct {
	repo Repository
}

func NewChecker(repo Repository) *Checker {
	return &Checker{repo: repo}
}

// CoveredCentsTx sums amounts in states that count toward sufficiency.
func (c *Checker) CoveredCentsTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	rows, err := c.repo.WithTx(tx).ListByOrder(ctx, orderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payments")
	}
	total := int64(0)
	for _, payment := range rows {
		if payment.State.CountsTowardSufficiency() {
			total += payment.AmountCents
		}
	}
	return total, nil
}

// CapturedCentsTx sums captured amounts regardless of later partial refunds.
func (c *Checker) CapturedCentsTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	rows, err := c.repo.WithTx(tx).ListByOrder(ctx, orderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payments")
	}
	total := int64(0)
	for _, payment := range rows {
		if payment.State == enums.PaymentStateCompleted {
			total += payment.AmountCents
		}
	}
	return total, nil
}

// NetCapturedCentsTx sums captured amounts minus refunds. The cancel guard
// refuses orders whose net captured balance is still positive.
func (c *Checker) NetCapturedCentsTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	rows, err := c.repo.WithTx(tx).ListByOrder(ctx, orderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payments")
	}
	total := int64(0)
	for _, payment := range rows {
		total += payment.NetCapturedCents()
	}
	return total, nil
}
