package operator

import (
	"context"

	"github.com/giftwell/fulfillment/internal/types/operator"
)

type Repository interface {
	// CreateOperator reports false when the login is already taken.
	CreateOperator(ctx context.Context, o *operator.Operator) (bool, error)
	GetOperatorByLogin(ctx context.Context, login string) (*operator.Operator, error)
}
