package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/giftwell/fulfillment/internal/logger"
	"github.com/giftwell/fulfillment/internal/types/order"
	"go.uber.org/zap"
)

var ErrNoPaymentIntent = errors.New("order has no payment intent reference")

type Result struct {
	Verified      bool   `json:"verified"`
	PaymentStatus string `json:"payment_status"`
}

type Repository interface {
	UpdatePaymentStatus(ctx context.Context, id string, ps order.PaymentStatus, st order.OrderStatus) error
}

// Verifier confirms with the processor that funds were actually captured.
// Only the processor's answer counts; the local payment_status is repaired
// to match it when they disagree.
type Verifier struct {
	repo   Repository
	client Client
}

func NewVerifier(repo Repository, client Client) *Verifier {
	return &Verifier{repo: repo, client: client}
}

func (v *Verifier) Verify(ctx context.Context, o *order.Order) (*Result, error) {
	if o.PaymentIntentID == "" {
		return nil, ErrNoPaymentIntent
	}

	in, err := v.client.GetPaymentIntent(ctx, o.PaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", o.PaymentIntentID, err)
	}

	if in.Status != IntentSucceeded {
		return &Result{Verified: false, PaymentStatus: in.Status}, nil
	}

	if o.PaymentStatus != order.PaymentSucceeded {
		// Missed webhook: the processor captured funds but the local row
		// never heard about it. Repair before reporting verified.
		if err := v.repo.UpdatePaymentStatus(ctx, o.ID, order.PaymentSucceeded, order.StatusPaymentConfirmed); err != nil {
			return nil, fmt.Errorf("repair payment status for order %s: %w", o.ID, err)
		}
		logger.Log.Info("repaired payment status from processor",
			zap.String("order_id", o.ID),
			zap.String("payment_intent", o.PaymentIntentID),
		)
		o.PaymentStatus = order.PaymentSucceeded
		if !o.Status.Terminal() {
			o.Status = order.StatusPaymentConfirmed
		}
	}

	return &Result{Verified: true, PaymentStatus: IntentSucceeded}, nil
}
