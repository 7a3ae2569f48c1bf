package fulfillment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/giftwell/fulfillment/internal/types/order"
	"github.com/stretchr/testify/assert"
)

// testBackoff mirrors the production retry table: 30m, 1h, 4h, then flat 12h.
type testBackoff struct{}

func (testBackoff) NextRetryAt(retryCount int, now time.Time) time.Time {
	steps := []time.Duration{30 * time.Minute, time.Hour, 4 * time.Hour}
	if retryCount >= 0 && retryCount < len(steps) {
		return now.Add(steps[retryCount])
	}
	return now.Add(12 * time.Hour)
}

type mockRepo struct {
	listOrderItemsFn     func(ctx context.Context, orderID string) ([]order.OrderItem, error)
	claimSubmissionFn    func(ctx context.Context, id string) (bool, error)
	recordSubmissionFn   func(ctx context.Context, id, zincOrderID string) error
	updateVendorStatusFn func(ctx context.Context, id, zincStatus string, st order.OrderStatus) error
	scheduleRetryFn      func(ctx context.Context, id, reason string, nextRetryAt time.Time) error
}

func (m *mockRepo) ListOrderItems(ctx context.Context, orderID string) ([]order.OrderItem, error) {
	if m.listOrderItemsFn != nil {
		return m.listOrderItemsFn(ctx, orderID)
	}
	return []order.OrderItem{{ProductID: "prod-1", Quantity: 1}}, nil
}
func (m *mockRepo) ClaimSubmission(ctx context.Context, id string) (bool, error) {
	return m.claimSubmissionFn(ctx, id)
}
func (m *mockRepo) RecordSubmission(ctx context.Context, id, zincOrderID string) error {
	return m.recordSubmissionFn(ctx, id, zincOrderID)
}
func (m *mockRepo) UpdateVendorStatus(ctx context.Context, id, zincStatus string, st order.OrderStatus) error {
	return m.updateVendorStatusFn(ctx, id, zincStatus, st)
}
func (m *mockRepo) ScheduleRetry(ctx context.Context, id, reason string, nextRetryAt time.Time) error {
	return m.scheduleRetryFn(ctx, id, reason, nextRetryAt)
}

type mockVendor struct {
	createOrderFn func(ctx context.Context, req *OrderRequest) (*OrderResponse, error)
	getOrderFn    func(ctx context.Context, requestID string) (*OrderResponse, error)
	createCalls   int
}

func (m *mockVendor) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	m.createCalls++
	return m.createOrderFn(ctx, req)
}
func (m *mockVendor) GetOrder(ctx context.Context, requestID string) (*OrderResponse, error) {
	return m.getOrderFn(ctx, requestID)
}

func verifiedOrder() *order.Order {
	return &order.Order{
		ID:            "ord-1",
		Number:        "GW-0000000001",
		Total:         49.99,
		Currency:      "usd",
		PaymentStatus: order.PaymentSucceeded,
		Status:        order.StatusPaymentConfirmed,
	}
}

func TestSubmitPaymentGate(t *testing.T) {
	vendor := &mockVendor{}
	sub := NewSubmitter(&mockRepo{}, vendor, testBackoff{})

	o := verifiedOrder()
	o.PaymentStatus = order.PaymentPending

	_, err := sub.Submit(context.Background(), o)
	assert.ErrorIs(t, err, ErrPaymentNotVerified)
	assert.Zero(t, vendor.createCalls, "payment gate must block the vendor call")
}

func TestSubmitAlreadySubmittedDefensiveCheck(t *testing.T) {
	handle := "V123"
	o := verifiedOrder()
	o.ZincOrderID = &handle

	vendor := &mockVendor{}
	sub := NewSubmitter(&mockRepo{}, vendor, testBackoff{})

	_, err := sub.Submit(context.Background(), o)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Zero(t, vendor.createCalls)
}

func TestSubmitClaimLost(t *testing.T) {
	repo := &mockRepo{
		claimSubmissionFn: func(ctx context.Context, id string) (bool, error) { return false, nil },
	}
	vendor := &mockVendor{}
	sub := NewSubmitter(repo, vendor, testBackoff{})

	_, err := sub.Submit(context.Background(), verifiedOrder())
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Zero(t, vendor.createCalls, "losing the claim must not produce a vendor call")
}

func TestSubmitSuccess(t *testing.T) {
	var claimedBefore bool
	var recordedHandle string
	repo := &mockRepo{
		claimSubmissionFn: func(ctx context.Context, id string) (bool, error) {
			claimedBefore = true
			return true, nil
		},
		recordSubmissionFn: func(ctx context.Context, id, zincOrderID string) error {
			recordedHandle = zincOrderID
			return nil
		},
	}
	vendor := &mockVendor{
		createOrderFn: func(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
			assert.True(t, claimedBefore, "claim must be written before the vendor call")
			assert.Equal(t, "ord-1", req.IdempotencyKey)
			return &OrderResponse{RequestID: "V123", Status: "request_processing"}, nil
		},
	}
	sub := NewSubmitter(repo, vendor, testBackoff{})

	res, err := sub.Submit(context.Background(), verifiedOrder())
	assert.NoError(t, err)
	assert.Equal(t, "V123", res.ZincOrderID)
	assert.Equal(t, order.ZincSubmitted, res.ZincStatus)
	assert.Equal(t, order.StatusProcessing, res.Status)
	assert.Equal(t, "V123", recordedHandle)
}

func TestSubmitItemsReadFailureLeavesNoClaim(t *testing.T) {
	var claims int
	repo := &mockRepo{
		listOrderItemsFn: func(ctx context.Context, orderID string) ([]order.OrderItem, error) {
			return nil, errors.New("db timeout")
		},
		claimSubmissionFn: func(ctx context.Context, id string) (bool, error) {
			claims++
			return true, nil
		},
	}
	vendor := &mockVendor{}
	sub := NewSubmitter(repo, vendor, testBackoff{})

	_, err := sub.Submit(context.Background(), verifiedOrder())
	assert.Error(t, err)
	assert.Zero(t, claims, "a failed item read must not leave a claim behind")
	assert.Zero(t, vendor.createCalls)
}

func TestSubmitRecordFailureReleasesClaim(t *testing.T) {
	var gotReason string
	var gotNext time.Time
	before := time.Now().UTC()
	repo := &mockRepo{
		claimSubmissionFn: func(ctx context.Context, id string) (bool, error) { return true, nil },
		recordSubmissionFn: func(ctx context.Context, id, zincOrderID string) error {
			return errors.New("db timeout")
		},
		scheduleRetryFn: func(ctx context.Context, id, reason string, nextRetryAt time.Time) error {
			gotReason = reason
			gotNext = nextRetryAt
			return nil
		},
	}
	vendor := &mockVendor{
		createOrderFn: func(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
			return &OrderResponse{RequestID: "V123", Status: "request_processing"}, nil
		},
	}
	sub := NewSubmitter(repo, vendor, testBackoff{})

	_, err := sub.Submit(context.Background(), verifiedOrder())
	assert.Error(t, err)
	// The claim is handed back to the retry pipeline, not left dangling.
	assert.Equal(t, "record submission failed", gotReason)
	assert.WithinDuration(t, before.Add(30*time.Minute), gotNext, 5*time.Second)
}

func TestSubmitVendorRejectionSchedulesRetry(t *testing.T) {
	var gotReason string
	var gotNext time.Time
	before := time.Now().UTC()
	repo := &mockRepo{
		claimSubmissionFn: func(ctx context.Context, id string) (bool, error) { return true, nil },
		scheduleRetryFn: func(ctx context.Context, id, reason string, nextRetryAt time.Time) error {
			gotReason = reason
			gotNext = nextRetryAt
			return nil
		},
	}
	vendor := &mockVendor{
		createOrderFn: func(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
			return nil, &VendorError{Code: "out_of_stock", Message: "product unavailable"}
		},
	}
	sub := NewSubmitter(repo, vendor, testBackoff{})

	_, err := sub.Submit(context.Background(), verifiedOrder())
	var serr *SubmissionError
	assert.ErrorAs(t, err, &serr)
	assert.Contains(t, gotReason, "out_of_stock")
	// First failure: 30 minutes out.
	assert.WithinDuration(t, before.Add(30*time.Minute), gotNext, 5*time.Second)
}

func TestSubmitVendorRejectionBackoffCeiling(t *testing.T) {
	var gotNext time.Time
	before := time.Now().UTC()
	repo := &mockRepo{
		claimSubmissionFn: func(ctx context.Context, id string) (bool, error) { return true, nil },
		scheduleRetryFn: func(ctx context.Context, id, reason string, nextRetryAt time.Time) error {
			gotNext = nextRetryAt
			return nil
		},
	}
	vendor := &mockVendor{
		createOrderFn: func(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
			return nil, &VendorError{Code: "account_issue", Message: "billing hold"}
		},
	}
	sub := NewSubmitter(repo, vendor, testBackoff{})

	o := verifiedOrder()
	o.RetryCount = 7
	_, err := sub.Submit(context.Background(), o)
	assert.Error(t, err)
	assert.WithinDuration(t, before.Add(12*time.Hour), gotNext, 5*time.Second)
}

func TestRefreshWithoutHandle(t *testing.T) {
	sub := NewSubmitter(&mockRepo{}, &mockVendor{}, testBackoff{})
	_, err := sub.Refresh(context.Background(), verifiedOrder())
	assert.ErrorIs(t, err, ErrNotSubmitted)
}

func TestRefreshMapsVendorStatuses(t *testing.T) {
	tests := []struct {
		vendorStatus string
		wantStatus   order.OrderStatus
		wantZinc     string
	}{
		{"shipped", order.StatusShipped, "shipped"},
		{"delivered", order.StatusCompleted, "delivered"},
		{"cancelled", order.StatusCancelled, "cancelled"},
		{"request_processing", order.StatusProcessing, order.ZincSubmitted},
	}
	for _, tc := range tests {
		handle := "V123"
		o := verifiedOrder()
		o.Status = order.StatusRetryPending
		o.ZincOrderID = &handle

		var gotZinc string
		var gotStatus order.OrderStatus
		repo := &mockRepo{
			updateVendorStatusFn: func(ctx context.Context, id, zincStatus string, st order.OrderStatus) error {
				gotZinc = zincStatus
				gotStatus = st
				return nil
			},
		}
		vendor := &mockVendor{
			getOrderFn: func(ctx context.Context, requestID string) (*OrderResponse, error) {
				return &OrderResponse{RequestID: requestID, Status: tc.vendorStatus}, nil
			},
		}
		sub := NewSubmitter(repo, vendor, testBackoff{})

		res, err := sub.Refresh(context.Background(), o)
		assert.NoError(t, err, "vendor status %s", tc.vendorStatus)
		assert.Equal(t, tc.wantStatus, res.Status)
		assert.Equal(t, tc.wantZinc, gotZinc)
		assert.Equal(t, tc.wantStatus, gotStatus)
	}
}

func TestRefreshVendorUnavailableSchedulesRetry(t *testing.T) {
	handle := "V123"
	o := verifiedOrder()
	o.ZincOrderID = &handle

	var retried bool
	repo := &mockRepo{
		scheduleRetryFn: func(ctx context.Context, id, reason string, nextRetryAt time.Time) error {
			retried = true
			return nil
		},
	}
	vendor := &mockVendor{
		getOrderFn: func(ctx context.Context, requestID string) (*OrderResponse, error) {
			return nil, errors.New("connection refused")
		},
	}
	sub := NewSubmitter(repo, vendor, testBackoff{})

	_, err := sub.Refresh(context.Background(), o)
	var serr *SubmissionError
	assert.ErrorAs(t, err, &serr)
	assert.True(t, retried)
}
