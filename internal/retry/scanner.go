package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/giftwell/fulfillment/internal/logger"
	"github.com/giftwell/fulfillment/internal/orchestrator"
	"github.com/giftwell/fulfillment/internal/types/alert"
	"github.com/giftwell/fulfillment/internal/types/order"
	"github.com/giftwell/fulfillment/internal/types/signal"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Orchestrator interface {
	Handle(ctx context.Context, orderID string, source signal.TriggerSource, metadata map[string]any) (*orchestrator.Result, error)
}

type Repository interface {
	ListDueRetries(ctx context.Context, now time.Time) ([]order.Order, error)
	IncrementRetryCount(ctx context.Context, id string) (int, error)
	ScheduleRetry(ctx context.Context, id, reason string, nextRetryAt time.Time) error
}

type AlertRepository interface {
	CreateAlert(ctx context.Context, a *alert.Alert) error
}

// Scanner re-drives retry_pending orders whose next_retry_at has arrived
// through the orchestrator front door, with trigger source cron.
type Scanner struct {
	repo    Repository
	alerts  AlertRepository
	orch    Orchestrator
	backoff *Backoff

	// triageThreshold is the retry count at which a repeatedly failing
	// order surfaces to a human. Retries continue regardless.
	triageThreshold int
}

func NewScanner(repo Repository, alerts AlertRepository, orch Orchestrator, backoff *Backoff, triageThreshold int) *Scanner {
	return &Scanner{repo: repo, alerts: alerts, orch: orch, backoff: backoff, triageThreshold: triageThreshold}
}

func (s *Scanner) process(ctx context.Context, o order.Order) {
	count, err := s.repo.IncrementRetryCount(ctx, o.ID)
	if err != nil {
		logger.Log.Error("failed to increment retry count",
			zap.String("order_id", o.ID), zap.Error(err))
		return
	}

	if count == s.triageThreshold {
		a := &alert.Alert{
			ID:         uuid.NewString(),
			Kind:       alert.KindRetryTriage,
			Message:    fmt.Sprintf("order %s reached %d fulfillment retries (last reason: %s)", o.Number, count, derefString(o.RetryReason)),
			OrderCount: 1,
			CreatedAt:  time.Now().UTC(),
		}
		if aerr := s.alerts.CreateAlert(ctx, a); aerr != nil {
			logger.Log.Error("failed to create retry triage alert",
				zap.String("order_id", o.ID), zap.Error(aerr))
		}
	}

	res, err := s.orch.Handle(ctx, o.ID, signal.SourceCron, map[string]any{
		"retry_count": count,
		"reason":      derefString(o.RetryReason),
	})
	if err != nil {
		// Push next_retry_at forward so a failure upstream of the submitter
		// (processor outage, unverified payment) still honors the backoff
		// table instead of re-firing every scan tick.
		next := s.backoff.NextRetryAt(count, time.Now().UTC())
		if rerr := s.repo.ScheduleRetry(ctx, o.ID, err.Error(), next); rerr != nil {
			logger.Log.Error("failed to reschedule retry",
				zap.String("order_id", o.ID), zap.Error(rerr))
		}
		logger.Log.Warn("retry attempt failed",
			zap.String("order_id", o.ID),
			zap.Int("retry_count", count),
			zap.Time("next_retry_at", next),
			zap.Error(err),
		)
		return
	}
	logger.Log.Info("retry attempt finished",
		zap.String("order_id", o.ID),
		zap.Int("retry_count", count),
		zap.Bool("processed", res.Processed),
		zap.String("status", string(res.Status)),
	)
}

func workerLoop(ctx context.Context, id int, jobs <-chan order.Order, s *Scanner) {
	logger.Log.Info("retry worker started", zap.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("retry worker stopping", zap.Int("worker", id))
			return
		case o, ok := <-jobs:
			if !ok {
				logger.Log.Info("retry jobs channel closed", zap.Int("worker", id))
				return
			}
			s.process(ctx, o)
		}
	}
}

// DispatcherLoop scans for due retries on a fixed interval and fans them out
// to a worker pool. Blocks until ctx is cancelled.
func (s *Scanner) DispatcherLoop(ctx context.Context, workerCount int, interval time.Duration) {
	jobs := make(chan order.Order, workerCount*3)

	for i := 1; i <= workerCount; i++ {
		go workerLoop(ctx, i, jobs, s)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Log.Info("retry dispatcher started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("retry dispatcher stopping, closing jobs")
			close(jobs)
			return
		case <-ticker.C:
			due, err := s.repo.ListDueRetries(ctx, time.Now().UTC())
			if err != nil {
				logger.Log.Error("failed to list due retries", zap.Error(err))
				continue
			}
			if len(due) == 0 {
				continue
			}
			logger.Log.Info("due retries found", zap.Int("count", len(due)))
			for _, o := range due {
				select {
				case jobs <- o:
				default:
					logger.Log.Warn("retry jobs channel full, skipping this cycle",
						zap.String("order_id", o.ID))
				}
			}
		}
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
