package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giftwell/fulfillment/internal/logger"
	"github.com/giftwell/fulfillment/internal/types/order"
	"go.uber.org/zap"
)

var (
	ErrPaymentNotVerified = errors.New("payment not verified")
	ErrAlreadySubmitted   = errors.New("order already submitted to vendor")
	ErrNotSubmitted       = errors.New("order has no vendor handle")
)

// SubmissionError wraps a vendor rejection after the retry has been
// scheduled; the order is left in retry_pending.
type SubmissionError struct {
	Reason string
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed: %s", e.Reason)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

type Result struct {
	ZincOrderID string `json:"zinc_order_id"`
	ZincStatus  string `json:"zinc_status"`
	Status      order.OrderStatus
}

// RetryPolicy computes the next attempt time; satisfied by retry.Backoff.
type RetryPolicy interface {
	NextRetryAt(retryCount int, now time.Time) time.Time
}

type Repository interface {
	ListOrderItems(ctx context.Context, orderID string) ([]order.OrderItem, error)
	ClaimSubmission(ctx context.Context, id string) (bool, error)
	RecordSubmission(ctx context.Context, id, zincOrderID string) error
	UpdateVendorStatus(ctx context.Context, id, zincStatus string, st order.OrderStatus) error
	ScheduleRetry(ctx context.Context, id, reason string, nextRetryAt time.Time) error
}

// Submitter drives a verified order to the vendor. The submitting claim is
// written before the vendor call so a crash mid-call leaves a detectable
// state instead of a silent double-submit on retry.
type Submitter struct {
	repo    Repository
	vendor  VendorClient
	backoff RetryPolicy
}

func NewSubmitter(repo Repository, vendor VendorClient, backoff RetryPolicy) *Submitter {
	return &Submitter{repo: repo, vendor: vendor, backoff: backoff}
}

func (s *Submitter) Submit(ctx context.Context, o *order.Order) (*Result, error) {
	if o.PaymentStatus != order.PaymentSucceeded {
		return nil, ErrPaymentNotVerified
	}
	if o.ZincOrderID != nil {
		return nil, ErrAlreadySubmitted
	}

	// Items are read before the claim so a read failure cannot strand a
	// claimed row.
	items, err := s.repo.ListOrderItems(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("list items for order %s: %w", o.ID, err)
	}

	claimed, err := s.repo.ClaimSubmission(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("claim submission for order %s: %w", o.ID, err)
	}
	if !claimed {
		// Lost the race at the storage layer; a concurrent trigger holds
		// the claim or has already recorded the vendor handle.
		logger.Log.Warn("duplicate submission attempt rejected",
			zap.String("order_id", o.ID))
		return nil, ErrAlreadySubmitted
	}

	resp, err := s.vendor.CreateOrder(ctx, buildRequest(o, items))
	if err != nil {
		reason := err.Error()
		var verr *VendorError
		if errors.As(err, &verr) {
			reason = fmt.Sprintf("%s: %s", verr.Code, verr.Message)
		}
		s.scheduleRetry(ctx, o, reason)
		return nil, &SubmissionError{Reason: reason, Err: err}
	}

	if err := s.repo.RecordSubmission(ctx, o.ID, resp.RequestID); err != nil {
		// Release the claim so the retry path reclaims; the idempotency key
		// makes the repeated vendor call safe.
		s.scheduleRetry(ctx, o, "record submission failed")
		return nil, fmt.Errorf("record submission for order %s: %w", o.ID, err)
	}
	logger.Log.Info("order submitted to vendor",
		zap.String("order_id", o.ID),
		zap.String("zinc_order_id", resp.RequestID),
	)
	return &Result{ZincOrderID: resp.RequestID, ZincStatus: order.ZincSubmitted, Status: order.StatusProcessing}, nil
}

// Refresh re-polls the vendor for an order that already holds a handle and
// mirrors the vendor status onto the row. Used when timeout recovery has
// reclassified a submitted order: there is nothing to resubmit, only an
// outcome to observe.
func (s *Submitter) Refresh(ctx context.Context, o *order.Order) (*Result, error) {
	if o.ZincOrderID == nil {
		return nil, ErrNotSubmitted
	}

	resp, err := s.vendor.GetOrder(ctx, *o.ZincOrderID)
	if err != nil {
		s.scheduleRetry(ctx, o, "vendor status unavailable")
		return nil, &SubmissionError{Reason: "vendor status unavailable", Err: err}
	}

	st := statusFromVendor(resp.Status)
	zincStatus := resp.Status
	if st == order.StatusProcessing {
		// Still in flight at the vendor: keep the row in the shape the
		// timeout monitor watches, with a fresh updated_at.
		zincStatus = order.ZincSubmitted
	}
	if err := s.repo.UpdateVendorStatus(ctx, o.ID, zincStatus, st); err != nil {
		return nil, fmt.Errorf("update vendor status for order %s: %w", o.ID, err)
	}
	return &Result{ZincOrderID: *o.ZincOrderID, ZincStatus: zincStatus, Status: st}, nil
}

func (s *Submitter) scheduleRetry(ctx context.Context, o *order.Order, reason string) {
	next := s.backoff.NextRetryAt(o.RetryCount, time.Now().UTC())
	if err := s.repo.ScheduleRetry(ctx, o.ID, reason, next); err != nil {
		logger.Log.Error("failed to schedule retry",
			zap.String("order_id", o.ID), zap.Error(err))
	}
}

func statusFromVendor(vendorStatus string) order.OrderStatus {
	switch vendorStatus {
	case "shipped":
		return order.StatusShipped
	case "delivered", "completed":
		return order.StatusCompleted
	case "cancelled":
		return order.StatusCancelled
	default:
		return order.StatusProcessing
	}
}
