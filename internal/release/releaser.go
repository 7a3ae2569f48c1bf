package release

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/giftwell/fulfillment/internal/logger"
	"github.com/giftwell/fulfillment/internal/types/order"
	"go.uber.org/zap"
)

var ErrOrderNotFound = errors.New("order not found")

type Repository interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	ListDueScheduled(ctx context.Context, cutoff time.Time) ([]order.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status order.OrderStatus) error
	UpdateScheduledDate(ctx context.Context, id string, date time.Time) error
}

// Releaser promotes scheduled orders whose delivery date has come within
// vendor lead time, so the next orchestrator pass picks them up.
type Releaser struct {
	repo     Repository
	leadTime time.Duration
}

func NewReleaser(repo Repository, leadTime time.Duration) *Releaser {
	return &Releaser{repo: repo, leadTime: leadTime}
}

// Run performs one sweep. Called from the cron schedule.
func (r *Releaser) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(r.leadTime)

	due, err := r.repo.ListDueScheduled(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list due scheduled orders: %w", err)
	}

	for _, o := range due {
		target := order.StatusPending
		if o.PaymentStatus == order.PaymentSucceeded {
			target = order.StatusPaymentConfirmed
		}
		if err := r.repo.UpdateOrderStatus(ctx, o.ID, target); err != nil {
			logger.Log.Error("failed to release scheduled order",
				zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		logger.Log.Info("released scheduled order",
			zap.String("order_id", o.ID),
			zap.String("status", string(target)),
			zap.Timep("scheduled_delivery_date", o.ScheduledDeliveryDate),
		)
	}
	return nil
}

// UpdateOrderDate corrects a scheduled order's delivery date without the
// customer re-entering checkout.
func (r *Releaser) UpdateOrderDate(ctx context.Context, orderID string, newDate time.Time) error {
	if _, err := r.repo.GetOrder(ctx, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return fmt.Errorf("get order %s: %w", orderID, err)
	}
	if err := r.repo.UpdateScheduledDate(ctx, orderID, newDate.UTC()); err != nil {
		return fmt.Errorf("update scheduled date for order %s: %w", orderID, err)
	}
	return nil
}
