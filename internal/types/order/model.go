package order

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

type OrderStatus string

const (
	StatusPending          OrderStatus = "pending"
	StatusPaymentConfirmed OrderStatus = "payment_confirmed"
	StatusProcessing       OrderStatus = "processing"
	StatusSubmitted        OrderStatus = "submitted"
	StatusRetryPending     OrderStatus = "retry_pending"
	StatusScheduled        OrderStatus = "scheduled"
	StatusCompleted        OrderStatus = "completed"
	StatusShipped          OrderStatus = "shipped"
	StatusCancelled        OrderStatus = "cancelled"
)

// Terminal reports whether s is a final state that must never regress.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusShipped, StatusCancelled:
		return true
	}
	return false
}

// Vendor submission phases mirrored on the order row. Any other value in
// ZincStatus is the vendor's own status string, stored as-is.
const (
	ZincSubmitting = "submitting"
	ZincSubmitted  = "submitted"
)

type Order struct {
	ID                    string        `db:"id" json:"id"`
	Number                string        `db:"number" json:"number"`
	Subtotal              float64       `db:"subtotal" json:"subtotal"`
	ShippingCost          float64       `db:"shipping_cost" json:"shipping_cost"`
	Tax                   float64       `db:"tax" json:"tax"`
	Total                 float64       `db:"total" json:"total"`
	Currency              string        `db:"currency" json:"currency"`
	PaymentIntentID       string        `db:"payment_intent_id" json:"-"`
	PaymentStatus         PaymentStatus `db:"payment_status" json:"payment_status"`
	Status                OrderStatus   `db:"status" json:"status"`
	ZincOrderID           *string       `db:"zinc_order_id" json:"zinc_order_id,omitempty"`
	ZincStatus            *string       `db:"zinc_status" json:"zinc_status,omitempty"`
	ScheduledDeliveryDate *time.Time    `db:"scheduled_delivery_date" json:"scheduled_delivery_date,omitempty"`
	AutoGift              bool          `db:"auto_gift" json:"auto_gift"`
	AutoGiftExecutionID   *string       `db:"auto_gift_execution_id" json:"-"`
	RetryCount            int           `db:"retry_count" json:"-"`
	NextRetryAt           *time.Time    `db:"next_retry_at" json:"-"`
	RetryReason           *string       `db:"retry_reason" json:"-"`
	CreatedAt             time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time     `db:"updated_at" json:"updated_at"`
}

type OrderItem struct {
	ID            string  `db:"id" json:"id"`
	OrderID       string  `db:"order_id" json:"-"`
	ProductID     string  `db:"product_id" json:"product_id"`
	Name          string  `db:"name" json:"name"`
	Quantity      int     `db:"quantity" json:"quantity"`
	UnitPrice     float64 `db:"unit_price" json:"unit_price"`
	RecipientID   *string `db:"recipient_id" json:"recipient_id,omitempty"`
	DeliveryGroup *string `db:"delivery_group" json:"delivery_group,omitempty"`
}
