package recovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/giftwell/fulfillment/internal/logger"
	"github.com/giftwell/fulfillment/internal/orchestrator"
	"github.com/giftwell/fulfillment/internal/payment"
	"github.com/giftwell/fulfillment/internal/types/order"
	"github.com/giftwell/fulfillment/internal/types/signal"
	"go.uber.org/zap"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrPaymentNotVerified = errors.New("payment not verified")
)

type Repository interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
}

type Verifier interface {
	Verify(ctx context.Context, o *order.Order) (*payment.Result, error)
}

type Orchestrator interface {
	Handle(ctx context.Context, orderID string, source signal.TriggerSource, metadata map[string]any) (*orchestrator.Result, error)
}

type Result struct {
	Order   *order.Order         `json:"order"`
	Trigger *orchestrator.Result `json:"trigger,omitempty"`
	Warning string               `json:"warning,omitempty"`
}

// Service is the operator path for a single stuck order: re-verify payment
// with the processor, then re-drive the order through the normal pipeline.
// Safe to call repeatedly; it rides the orchestrator's idempotency check.
type Service struct {
	repo     Repository
	verifier Verifier
	orch     Orchestrator
}

func NewService(repo Repository, verifier Verifier, orch Orchestrator) *Service {
	return &Service{repo: repo, verifier: verifier, orch: orch}
}

func (s *Service) Recover(ctx context.Context, orderID string) (*Result, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}

	vr, err := s.verifier.Verify(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("verify payment for order %s: %w", orderID, err)
	}
	if !vr.Verified {
		// Deliberately refuse to guess a state we cannot confirm.
		return nil, fmt.Errorf("%w: processor reports %q for intent %s; check the payment dashboard directly",
			ErrPaymentNotVerified, vr.PaymentStatus, o.PaymentIntentID)
	}

	tr, err := s.orch.Handle(ctx, orderID, signal.SourceManualRecovery, map[string]any{
		"operator": true,
	})
	if err != nil {
		// Payment repair already persisted; surface the trigger failure as
		// a warning rather than losing the repair.
		logger.Log.Warn("manual recovery: payment verified but re-trigger failed",
			zap.String("order_id", orderID), zap.Error(err))
		return &Result{
			Order:   o,
			Warning: fmt.Sprintf("payment verified but fulfillment re-trigger failed: %v", err),
		}, nil
	}

	return &Result{Order: o, Trigger: tr}, nil
}
