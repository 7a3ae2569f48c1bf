package timeout

import (
	"context"
	"fmt"
	"time"

	"github.com/giftwell/fulfillment/internal/logger"
	"github.com/giftwell/fulfillment/internal/retry"
	"github.com/giftwell/fulfillment/internal/types/alert"
	"github.com/giftwell/fulfillment/internal/types/order"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReasonTimeoutRecovery marks orders reclassified because the vendor
// accepted a submission but never reported an outcome.
const ReasonTimeoutRecovery = "timeout_recovery"

type Repository interface {
	ListStuckSubmitted(ctx context.Context, cutoff time.Time) ([]order.Order, error)
	ScheduleRetry(ctx context.Context, id, reason string, nextRetryAt time.Time) error
}

type AlertRepository interface {
	CreateAlert(ctx context.Context, a *alert.Alert) error
}

// Monitor bounds the worst-case time an order can silently stall. Orders
// sitting with a live vendor claim or an unresolved submission for longer
// than staleAfter are moved back into the retry pipeline; scheduling the
// retry releases an orphaned 'submitting' claim.
type Monitor struct {
	repo       Repository
	alerts     AlertRepository
	backoff    *retry.Backoff
	staleAfter time.Duration
}

func NewMonitor(repo Repository, alerts AlertRepository, backoff *retry.Backoff, staleAfter time.Duration) *Monitor {
	return &Monitor{repo: repo, alerts: alerts, backoff: backoff, staleAfter: staleAfter}
}

// Run performs one sweep. Called from the cron schedule.
func (m *Monitor) Run(ctx context.Context) error {
	now := time.Now().UTC()
	cutoff := now.Add(-m.staleAfter)

	stuck, err := m.repo.ListStuckSubmitted(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stuck orders: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	var fixed, failed int
	for _, o := range stuck {
		next := m.backoff.NextRetryAt(o.RetryCount, now)
		if err := m.repo.ScheduleRetry(ctx, o.ID, ReasonTimeoutRecovery, next); err != nil {
			failed++
			logger.Log.Error("failed to reclassify stuck order",
				zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		fixed++
		logger.Log.Warn("stuck order reclassified for retry",
			zap.String("order_id", o.ID),
			zap.Time("updated_at", o.UpdatedAt),
			zap.Time("next_retry_at", next),
		)
	}

	a := &alert.Alert{
		ID:         uuid.NewString(),
		Kind:       alert.KindTimeoutRecovery,
		Message:    fmt.Sprintf("timeout monitor reclassified %d stuck orders (%d failed) older than %s", fixed, failed, m.staleAfter),
		OrderCount: fixed,
		FailCount:  failed,
		CreatedAt:  now,
	}
	if err := m.alerts.CreateAlert(ctx, a); err != nil {
		logger.Log.Error("failed to create timeout recovery alert", zap.Error(err))
	}
	return nil
}
