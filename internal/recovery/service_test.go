package recovery

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/giftwell/fulfillment/internal/orchestrator"
	"github.com/giftwell/fulfillment/internal/payment"
	"github.com/giftwell/fulfillment/internal/types/order"
	"github.com/giftwell/fulfillment/internal/types/signal"
	"github.com/stretchr/testify/assert"
)

type mockRepo struct {
	getOrderFn func(ctx context.Context, id string) (*order.Order, error)
}

func (m *mockRepo) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return m.getOrderFn(ctx, id)
}

type mockVerifier struct {
	verifyFn func(ctx context.Context, o *order.Order) (*payment.Result, error)
}

func (m *mockVerifier) Verify(ctx context.Context, o *order.Order) (*payment.Result, error) {
	return m.verifyFn(ctx, o)
}

type mockOrchestrator struct {
	handleFn func(ctx context.Context, orderID string, source signal.TriggerSource, metadata map[string]any) (*orchestrator.Result, error)
	calls    int
}

func (m *mockOrchestrator) Handle(ctx context.Context, orderID string, source signal.TriggerSource, metadata map[string]any) (*orchestrator.Result, error) {
	m.calls++
	return m.handleFn(ctx, orderID, source, metadata)
}

func stuckOrder() *order.Order {
	return &order.Order{
		ID:              "ord-1",
		PaymentIntentID: "pi_1",
		PaymentStatus:   order.PaymentPending,
		Status:          order.StatusPending,
	}
}

func TestRecoverOrderNotFound(t *testing.T) {
	repo := &mockRepo{
		getOrderFn: func(ctx context.Context, id string) (*order.Order, error) {
			return nil, sql.ErrNoRows
		},
	}
	orch := &mockOrchestrator{}
	svc := NewService(repo, &mockVerifier{}, orch)

	_, err := svc.Recover(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Zero(t, orch.calls)
}

func TestRecoverPaymentNotVerified(t *testing.T) {
	repo := &mockRepo{
		getOrderFn: func(ctx context.Context, id string) (*order.Order, error) {
			return stuckOrder(), nil
		},
	}
	verifier := &mockVerifier{
		verifyFn: func(ctx context.Context, o *order.Order) (*payment.Result, error) {
			return &payment.Result{Verified: false, PaymentStatus: "requires_action"}, nil
		},
	}
	orch := &mockOrchestrator{}
	svc := NewService(repo, verifier, orch)

	_, err := svc.Recover(context.Background(), "ord-1")
	assert.ErrorIs(t, err, ErrPaymentNotVerified)
	assert.Contains(t, err.Error(), "requires_action")
	assert.Zero(t, orch.calls, "unverified payment must not reach the orchestrator")
}

func TestRecoverVerifiedRetriggers(t *testing.T) {
	repo := &mockRepo{
		getOrderFn: func(ctx context.Context, id string) (*order.Order, error) {
			return stuckOrder(), nil
		},
	}
	verifier := &mockVerifier{
		verifyFn: func(ctx context.Context, o *order.Order) (*payment.Result, error) {
			return &payment.Result{Verified: true, PaymentStatus: "succeeded"}, nil
		},
	}
	var gotSource signal.TriggerSource
	orch := &mockOrchestrator{
		handleFn: func(ctx context.Context, orderID string, source signal.TriggerSource, metadata map[string]any) (*orchestrator.Result, error) {
			gotSource = source
			return &orchestrator.Result{Processed: true, Status: order.StatusProcessing}, nil
		},
	}
	svc := NewService(repo, verifier, orch)

	res, err := svc.Recover(context.Background(), "ord-1")
	assert.NoError(t, err)
	assert.Equal(t, signal.SourceManualRecovery, gotSource)
	assert.Empty(t, res.Warning)
	assert.NotNil(t, res.Trigger)
	assert.True(t, res.Trigger.Processed)
}

func TestRecoverTriggerFailureReturnsWarning(t *testing.T) {
	repo := &mockRepo{
		getOrderFn: func(ctx context.Context, id string) (*order.Order, error) {
			return stuckOrder(), nil
		},
	}
	verifier := &mockVerifier{
		verifyFn: func(ctx context.Context, o *order.Order) (*payment.Result, error) {
			return &payment.Result{Verified: true, PaymentStatus: "succeeded"}, nil
		},
	}
	orch := &mockOrchestrator{
		handleFn: func(ctx context.Context, orderID string, source signal.TriggerSource, metadata map[string]any) (*orchestrator.Result, error) {
			return nil, errors.New("vendor unreachable")
		},
	}
	svc := NewService(repo, verifier, orch)

	res, err := svc.Recover(context.Background(), "ord-1")
	// The payment repair already stuck; the trigger failure is a warning, not an error.
	assert.NoError(t, err)
	assert.NotNil(t, res)
	assert.Contains(t, res.Warning, "vendor unreachable")
	assert.Nil(t, res.Trigger)
}

func TestRecoverVerifierError(t *testing.T) {
	repo := &mockRepo{
		getOrderFn: func(ctx context.Context, id string) (*order.Order, error) {
			return stuckOrder(), nil
		},
	}
	verifier := &mockVerifier{
		verifyFn: func(ctx context.Context, o *order.Order) (*payment.Result, error) {
			return nil, errors.New("processor unavailable")
		},
	}
	orch := &mockOrchestrator{}
	svc := NewService(repo, verifier, orch)

	_, err := svc.Recover(context.Background(), "ord-1")
	assert.Error(t, err)
	assert.Zero(t, orch.calls)
}
