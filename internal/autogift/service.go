package autogift

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/giftwell/fulfillment/internal/logger"
	"github.com/giftwell/fulfillment/internal/types/autogift"
	"github.com/giftwell/fulfillment/internal/types/order"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrTokenNotFound     = errors.New("approval token not found")
	ErrTokenConsumed     = errors.New("approval token already used or expired")
	ErrNoProducts        = errors.New("selection has no products")
	ErrAlreadyDecided    = errors.New("execution already decided")
)

type Repository interface {
	CreateExecution(ctx context.Context, e *autogift.AutoGiftExecution) error
	GetExecution(ctx context.Context, id string) (*autogift.AutoGiftExecution, error)
	TransitionExecution(ctx context.Context, id string, from, to autogift.ExecutionStatus) (bool, error)
	AttachOrder(ctx context.Context, executionID, orderID string) error
	CreateToken(ctx context.Context, t *autogift.ApprovalToken) error
	GetTokenByValue(ctx context.Context, token string) (*autogift.ApprovalToken, error)
	ConsumeToken(ctx context.Context, token, via string, now time.Time) (bool, error)
	ListExpiredAwaiting(ctx context.Context, now time.Time) ([]autogift.AutoGiftExecution, error)
	ListApprovedWithoutOrder(ctx context.Context) ([]autogift.AutoGiftExecution, error)
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, o *order.Order, items []order.OrderItem) error
}

// Selection is what the advisor hands over when it autonomously picks a gift.
type Selection struct {
	RuleID          string                     `json:"rule_id"`
	RecipientID     string                     `json:"recipient_id"`
	Products        []autogift.SelectedProduct `json:"products"`
	Confidence      float64                    `json:"confidence"`
	DiscoveryMethod string                     `json:"discovery_method"`
	Currency        string                     `json:"currency"`
	ShippingCost    float64                    `json:"shipping_cost"`
}

// Service runs the approval gate between an autonomous selection and money
// being spent. No order exists until an approval, automatic or manual, is
// recorded on the one-time token.
type Service struct {
	repo   Repository
	orders OrderRepository

	autoApproveConfidence float64
	approvalTTL           time.Duration
}

func NewService(repo Repository, orders OrderRepository, autoApproveConfidence float64, approvalTTL time.Duration) *Service {
	return &Service{
		repo:                  repo,
		orders:                orders,
		autoApproveConfidence: autoApproveConfidence,
		approvalTTL:           approvalTTL,
	}
}

// RecordSelection persists a new execution with its approval token. High
// confidence selections are approved immediately; the rest wait for a human.
func (s *Service) RecordSelection(ctx context.Context, sel Selection) (*autogift.AutoGiftExecution, error) {
	if len(sel.Products) == 0 {
		return nil, ErrNoProducts
	}

	now := time.Now().UTC()
	exec := &autogift.AutoGiftExecution{
		ID:              uuid.NewString(),
		RuleID:          sel.RuleID,
		RecipientID:     sel.RecipientID,
		Products:        sel.Products,
		Confidence:      sel.Confidence,
		DiscoveryMethod: sel.DiscoveryMethod,
		Status:          autogift.StatusSelected,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	token := &autogift.ApprovalToken{
		ID:          uuid.NewString(),
		Token:       uuid.NewString(),
		ExecutionID: exec.ID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.approvalTTL),
	}
	if err := s.repo.CreateToken(ctx, token); err != nil {
		return nil, fmt.Errorf("create approval token: %w", err)
	}
	exec.TokenID = &token.ID

	if sel.Confidence >= s.autoApproveConfidence {
		return s.approve(ctx, exec, token.Token, autogift.ApprovedViaAuto, sel)
	}

	if _, err := s.repo.TransitionExecution(ctx, exec.ID, autogift.StatusSelected, autogift.StatusAwaitingApproval); err != nil {
		return nil, fmt.Errorf("transition execution %s: %w", exec.ID, err)
	}
	exec.Status = autogift.StatusAwaitingApproval
	logger.Log.Info("auto-gift awaiting approval",
		zap.String("execution_id", exec.ID),
		zap.Float64("confidence", sel.Confidence),
	)
	return exec, nil
}

// GetExecution returns a single execution by id.
func (s *Service) GetExecution(ctx context.Context, id string) (*autogift.AutoGiftExecution, error) {
	exec, err := s.repo.GetExecution(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
		}
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return exec, nil
}

// Approve consumes a one-time token on behalf of a human.
func (s *Service) Approve(ctx context.Context, tokenValue string) (*autogift.AutoGiftExecution, error) {
	token, err := s.repo.GetTokenByValue(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("get approval token: %w", err)
	}

	exec, err := s.repo.GetExecution(ctx, token.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", token.ExecutionID, err)
	}
	if exec.Status != autogift.StatusAwaitingApproval {
		return nil, fmt.Errorf("%w: status is %s", ErrAlreadyDecided, exec.Status)
	}

	sel := Selection{
		RuleID:      exec.RuleID,
		RecipientID: exec.RecipientID,
		Products:    exec.Products,
		Confidence:  exec.Confidence,
		Currency:    "usd",
	}
	return s.approve(ctx, exec, tokenValue, autogift.ApprovedViaManual, sel)
}

// Reject marks an awaiting execution as permanently declined.
func (s *Service) Reject(ctx context.Context, tokenValue string) (*autogift.AutoGiftExecution, error) {
	token, err := s.repo.GetTokenByValue(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("get approval token: %w", err)
	}

	ok, err := s.repo.TransitionExecution(ctx, token.ExecutionID, autogift.StatusAwaitingApproval, autogift.StatusRejected)
	if err != nil {
		return nil, fmt.Errorf("transition execution %s: %w", token.ExecutionID, err)
	}
	if !ok {
		return nil, ErrAlreadyDecided
	}
	return s.repo.GetExecution(ctx, token.ExecutionID)
}

func (s *Service) approve(ctx context.Context, exec *autogift.AutoGiftExecution, tokenValue, via string, sel Selection) (*autogift.AutoGiftExecution, error) {
	now := time.Now().UTC()

	consumed, err := s.repo.ConsumeToken(ctx, tokenValue, via, now)
	if err != nil {
		return nil, fmt.Errorf("consume approval token: %w", err)
	}
	if !consumed {
		return nil, ErrTokenConsumed
	}

	from := exec.Status
	if ok, err := s.repo.TransitionExecution(ctx, exec.ID, from, autogift.StatusApproved); err != nil {
		return nil, fmt.Errorf("transition execution %s: %w", exec.ID, err)
	} else if !ok {
		return nil, ErrAlreadyDecided
	}
	exec.Status = autogift.StatusApproved

	// The token is spent; order creation must not invalidate the approval.
	// On failure the execution stays approved and RetryStalledApprovals
	// finishes the job on the next sweep.
	if err := s.createOrder(ctx, exec, sel); err != nil {
		logger.Log.Error("approved execution left without order",
			zap.String("execution_id", exec.ID), zap.Error(err))
		return exec, nil
	}

	logger.Log.Info("auto-gift approved, order created",
		zap.String("execution_id", exec.ID),
		zap.String("order_id", *exec.OrderID),
		zap.String("approved_via", via),
	)
	return exec, nil
}

func (s *Service) createOrder(ctx context.Context, exec *autogift.AutoGiftExecution, sel Selection) error {
	now := time.Now().UTC()
	o, items := buildOrder(exec, sel, now)
	if err := s.orders.CreateOrder(ctx, o, items); err != nil {
		return fmt.Errorf("create order for execution %s: %w", exec.ID, err)
	}
	if err := s.repo.AttachOrder(ctx, exec.ID, o.ID); err != nil {
		return fmt.Errorf("attach order to execution %s: %w", exec.ID, err)
	}
	exec.OrderID = &o.ID
	exec.Status = autogift.StatusOrderCreated
	return nil
}

// RetryStalledApprovals finishes approved executions that never got an order,
// typically because order creation failed right after the token was consumed.
// Called from the cron schedule; returns the number recovered.
func (s *Service) RetryStalledApprovals(ctx context.Context) (int, error) {
	stalled, err := s.repo.ListApprovedWithoutOrder(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stalled approvals: %w", err)
	}

	var recovered int
	for i := range stalled {
		e := &stalled[i]
		sel := Selection{
			RuleID:      e.RuleID,
			RecipientID: e.RecipientID,
			Products:    e.Products,
			Confidence:  e.Confidence,
			Currency:    "usd",
		}
		if err := s.createOrder(ctx, e, sel); err != nil {
			logger.Log.Error("failed to recover stalled approval",
				zap.String("execution_id", e.ID), zap.Error(err))
			continue
		}
		recovered++
		logger.Log.Info("stalled approval recovered",
			zap.String("execution_id", e.ID),
			zap.String("order_id", *e.OrderID),
		)
	}
	return recovered, nil
}

// ExpireStale terminates awaiting executions whose token TTL has passed.
// Called from the cron schedule; returns the number expired.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.repo.ListExpiredAwaiting(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("list expired executions: %w", err)
	}

	var expired int
	for _, e := range stale {
		ok, err := s.repo.TransitionExecution(ctx, e.ID, autogift.StatusAwaitingApproval, autogift.StatusExpired)
		if err != nil {
			logger.Log.Error("failed to expire execution",
				zap.String("execution_id", e.ID), zap.Error(err))
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		logger.Log.Info("expired stale auto-gift executions", zap.Int("count", expired))
	}
	return expired, nil
}

func buildOrder(exec *autogift.AutoGiftExecution, sel Selection, now time.Time) (*order.Order, []order.OrderItem) {
	var subtotal float64
	for _, p := range sel.Products {
		qty := p.Quantity
		if qty == 0 {
			qty = 1
		}
		subtotal += p.UnitPrice * float64(qty)
	}

	currency := sel.Currency
	if currency == "" {
		currency = "usd"
	}

	orderID := uuid.NewString()
	o := &order.Order{
		ID:                  orderID,
		Number:              orderNumber(orderID),
		Subtotal:            subtotal,
		ShippingCost:        sel.ShippingCost,
		Total:               subtotal + sel.ShippingCost,
		Currency:            currency,
		PaymentStatus:       order.PaymentPending,
		Status:              order.StatusPending,
		AutoGift:            true,
		AutoGiftExecutionID: &exec.ID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	items := make([]order.OrderItem, 0, len(sel.Products))
	for _, p := range sel.Products {
		qty := p.Quantity
		if qty == 0 {
			qty = 1
		}
		recipient := exec.RecipientID
		items = append(items, order.OrderItem{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			ProductID:   p.ProductID,
			Name:        p.Name,
			Quantity:    qty,
			UnitPrice:   p.UnitPrice,
			RecipientID: &recipient,
		})
	}
	return o, items
}

func orderNumber(orderID string) string {
	return "GW-" + strings.ToUpper(strings.ReplaceAll(orderID, "-", "")[:10])
}
