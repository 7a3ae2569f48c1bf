package orchestrator

import (
	"context"

	"github.com/giftwell/fulfillment/internal/types/order"
	"github.com/giftwell/fulfillment/internal/types/signal"
)

type OrderRepository interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
}

type SignalRepository interface {
	CreateSignal(ctx context.Context, s *signal.ProcessingSignal) error
}
