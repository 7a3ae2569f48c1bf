package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/giftwell/fulfillment/internal/fulfillment"
	"github.com/giftwell/fulfillment/internal/logger"
	"github.com/giftwell/fulfillment/internal/payment"
	"github.com/giftwell/fulfillment/internal/types/order"
	"github.com/giftwell/fulfillment/internal/types/signal"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrUnknownTrigger     = errors.New("unknown trigger source")
	ErrPaymentNotVerified = errors.New("payment not verified")
)

type Result struct {
	Processed  bool              `json:"processed"`
	Status     order.OrderStatus `json:"status"`
	ZincStatus string            `json:"zincStatus,omitempty"`
}

type Verifier interface {
	Verify(ctx context.Context, o *order.Order) (*payment.Result, error)
}

type Submitter interface {
	Submit(ctx context.Context, o *order.Order) (*fulfillment.Result, error)
	Refresh(ctx context.Context, o *order.Order) (*fulfillment.Result, error)
}

// Service is the single front door of the pipeline: every trigger source
// (webhook, poll, cron, operator) lands here and is arbitrated the same way.
type Service struct {
	orders   OrderRepository
	signals  SignalRepository
	verifier Verifier
	submit   Submitter

	// graceDelay is the head start a secondary trigger gives the primary.
	// Latency optimization only; ClaimSubmission is what makes the race safe.
	graceDelay time.Duration
}

func NewService(orders OrderRepository, signals SignalRepository, verifier Verifier, submit Submitter, graceDelay time.Duration) *Service {
	return &Service{
		orders:     orders,
		signals:    signals,
		verifier:   verifier,
		submit:     submit,
		graceDelay: graceDelay,
	}
}

func (s *Service) Handle(ctx context.Context, orderID string, source signal.TriggerSource, metadata map[string]any) (*Result, error) {
	if !source.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTrigger, source)
	}

	s.recordSignal(ctx, orderID, source, metadata)

	o, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !needsProcessing(o) {
		if o.ZincOrderID != nil && o.Status == order.StatusRetryPending {
			return s.refresh(ctx, o)
		}
		return noop(o), nil
	}

	if !source.Primary() && s.graceDelay > 0 {
		// Give an in-flight primary trigger time to win, then re-check.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.graceDelay):
		}
		if o, err = s.getOrder(ctx, orderID); err != nil {
			return nil, err
		}
		if !needsProcessing(o) {
			return noop(o), nil
		}
	}

	vr, err := s.verifier.Verify(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("verify payment for order %s: %w", orderID, err)
	}
	if !vr.Verified {
		return nil, fmt.Errorf("%w: payment intent is %q", ErrPaymentNotVerified, vr.PaymentStatus)
	}

	res, err := s.submit.Submit(ctx, o)
	if err != nil {
		if errors.Is(err, fulfillment.ErrAlreadySubmitted) {
			// A concurrent trigger won the claim; report an idempotent no-op.
			if cur, gerr := s.getOrder(ctx, orderID); gerr == nil {
				return noop(cur), nil
			}
			return &Result{Processed: false, Status: o.Status}, nil
		}
		return nil, err
	}

	return &Result{Processed: true, Status: res.Status, ZincStatus: res.ZincStatus}, nil
}

func (s *Service) refresh(ctx context.Context, o *order.Order) (*Result, error) {
	res, err := s.submit.Refresh(ctx, o)
	if err != nil {
		return nil, err
	}
	return &Result{Processed: true, Status: res.Status, ZincStatus: res.ZincStatus}, nil
}

func (s *Service) getOrder(ctx context.Context, orderID string) (*order.Order, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return o, nil
}

// recordSignal is best-effort audit: a failed write is logged and ignored,
// never allowed onto the critical path.
func (s *Service) recordSignal(ctx context.Context, orderID string, source signal.TriggerSource, metadata map[string]any) {
	sig := &signal.ProcessingSignal{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Source:    source,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.signals.CreateSignal(ctx, sig); err != nil {
		logger.Log.Warn("failed to record processing signal",
			zap.String("order_id", orderID),
			zap.String("source", string(source)),
			zap.Error(err),
		)
	}
}

// needsProcessing is the idempotency pre-check. Repeated and concurrent
// invocations for the same order all reduce to this read.
func needsProcessing(o *order.Order) bool {
	if o.PaymentStatus != order.PaymentSucceeded {
		return false
	}
	if o.ZincOrderID != nil {
		return false
	}
	if o.ZincStatus != nil && *o.ZincStatus == order.ZincSubmitting {
		return false
	}
	if o.Status.Terminal() {
		return false
	}
	return true
}

func noop(o *order.Order) *Result {
	r := &Result{Processed: false, Status: o.Status}
	if o.ZincStatus != nil {
		r.ZincStatus = *o.ZincStatus
	}
	return r
}
