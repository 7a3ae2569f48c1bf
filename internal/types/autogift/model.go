package autogift

import "time"

type ExecutionStatus string

const (
	StatusSelected         ExecutionStatus = "selected"
	StatusAwaitingApproval ExecutionStatus = "awaiting_approval"
	StatusApproved         ExecutionStatus = "approved"
	StatusOrderCreated     ExecutionStatus = "order_created"
	StatusRejected         ExecutionStatus = "rejected"
	StatusExpired          ExecutionStatus = "expired"
)

func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusOrderCreated, StatusRejected, StatusExpired:
		return true
	}
	return false
}

const (
	ApprovedViaAuto   = "auto"
	ApprovedViaManual = "manual"
)

// SelectedProduct is one product the advisor picked for the recipient.
type SelectedProduct struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// AutoGiftExecution tracks an autonomous gift selection from the moment the
// advisor picks a product until the resulting order is created. Never deleted.
type AutoGiftExecution struct {
	ID              string            `db:"id" json:"id"`
	RuleID          string            `db:"rule_id" json:"rule_id"`
	RecipientID     string            `db:"recipient_id" json:"recipient_id"`
	Products        []SelectedProduct `db:"products" json:"products"`
	Confidence      float64           `db:"confidence" json:"confidence"`
	DiscoveryMethod string            `db:"discovery_method" json:"discovery_method"`
	OrderID         *string           `db:"order_id" json:"order_id,omitempty"`
	TokenID         *string           `db:"token_id" json:"-"`
	Status          ExecutionStatus   `db:"status" json:"status"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// ApprovalToken is the one-time credential gating an execution. Immutable
// once ApprovedAt is set.
type ApprovalToken struct {
	ID          string     `db:"id" json:"-"`
	Token       string     `db:"token" json:"token"`
	ExecutionID string     `db:"execution_id" json:"execution_id"`
	ApprovedAt  *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	ApprovedVia *string    `db:"approved_via" json:"approved_via,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expires_at"`
}
