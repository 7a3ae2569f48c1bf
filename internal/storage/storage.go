package storage

import (
	"context"
	"time"

	"github.com/giftwell/fulfillment/internal/types/alert"
	"github.com/giftwell/fulfillment/internal/types/autogift"
	"github.com/giftwell/fulfillment/internal/types/operator"
	"github.com/giftwell/fulfillment/internal/types/order"
	"github.com/giftwell/fulfillment/internal/types/signal"
)

// OrderRepository covers every order mutation the pipeline performs. All
// writes are narrow field-level updates; nothing overwrites a full row.
type OrderRepository interface {
	CreateOrder(ctx context.Context, o *order.Order, items []order.OrderItem) error
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	ListOrderItems(ctx context.Context, orderID string) ([]order.OrderItem, error)

	// UpdateOrderStatus refuses to move an order out of a terminal status.
	UpdateOrderStatus(ctx context.Context, id string, status order.OrderStatus) error
	UpdatePaymentStatus(ctx context.Context, id string, ps order.PaymentStatus, st order.OrderStatus) error

	// ClaimSubmission is the storage-level exclusivity guarantee: a
	// compare-and-set that only one concurrent writer can win.
	ClaimSubmission(ctx context.Context, id string) (bool, error)
	RecordSubmission(ctx context.Context, id, zincOrderID string) error
	UpdateVendorStatus(ctx context.Context, id, zincStatus string, st order.OrderStatus) error

	ScheduleRetry(ctx context.Context, id, reason string, nextRetryAt time.Time) error
	IncrementRetryCount(ctx context.Context, id string) (int, error)
	ListDueRetries(ctx context.Context, now time.Time) ([]order.Order, error)

	ListStuckSubmitted(ctx context.Context, cutoff time.Time) ([]order.Order, error)

	ListDueScheduled(ctx context.Context, cutoff time.Time) ([]order.Order, error)
	UpdateScheduledDate(ctx context.Context, id string, date time.Time) error
}

// SignalRepository is append-only.
type SignalRepository interface {
	CreateSignal(ctx context.Context, s *signal.ProcessingSignal) error
	ListSignalsByOrder(ctx context.Context, orderID string) ([]signal.ProcessingSignal, error)
}

type AutoGiftRepository interface {
	CreateExecution(ctx context.Context, e *autogift.AutoGiftExecution) error
	GetExecution(ctx context.Context, id string) (*autogift.AutoGiftExecution, error)
	// TransitionExecution moves id from exactly `from` to `to`; reports
	// whether the transition was applied.
	TransitionExecution(ctx context.Context, id string, from, to autogift.ExecutionStatus) (bool, error)
	AttachOrder(ctx context.Context, executionID, orderID string) error

	CreateToken(ctx context.Context, t *autogift.ApprovalToken) error
	GetTokenByValue(ctx context.Context, token string) (*autogift.ApprovalToken, error)
	// ConsumeToken records approval exactly once; reports false when the
	// token was already consumed or has expired.
	ConsumeToken(ctx context.Context, token, via string, now time.Time) (bool, error)

	ListExpiredAwaiting(ctx context.Context, now time.Time) ([]autogift.AutoGiftExecution, error)
	ListApprovedWithoutOrder(ctx context.Context) ([]autogift.AutoGiftExecution, error)
}

type OperatorRepository interface {
	// CreateOperator reports false when the login is already taken.
	CreateOperator(ctx context.Context, o *operator.Operator) (bool, error)
	GetOperatorByLogin(ctx context.Context, login string) (*operator.Operator, error)
}

type AlertRepository interface {
	CreateAlert(ctx context.Context, a *alert.Alert) error
	ListAlerts(ctx context.Context, unresolvedOnly bool) ([]alert.Alert, error)
	ResolveAlert(ctx context.Context, id string) error
}

// Storage bundles every repository.
type Storage interface {
	OrderRepository
	SignalRepository
	AutoGiftRepository
	OperatorRepository
	AlertRepository

	Ping(ctx context.Context) error
	Close() error
}
