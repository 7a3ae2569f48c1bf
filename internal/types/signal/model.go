package signal

import "time"

type TriggerSource string

const (
	SourceStripeWebhook  TriggerSource = "stripe-webhook"
	SourceClientPoll     TriggerSource = "client-poll"
	SourceCron           TriggerSource = "cron"
	SourceManualRecovery TriggerSource = "manual-recovery"
)

func (s TriggerSource) Valid() bool {
	switch s {
	case SourceStripeWebhook, SourceClientPoll, SourceCron, SourceManualRecovery:
		return true
	}
	return false
}

// Primary reports whether s is the authoritative trigger that may proceed
// without the secondary grace delay.
func (s TriggerSource) Primary() bool {
	return s == SourceStripeWebhook
}

// ProcessingSignal is one row per orchestration invocation. Append-only,
// audit only: the idempotency decision never depends on it.
type ProcessingSignal struct {
	ID        string         `db:"id" json:"id"`
	OrderID   string         `db:"order_id" json:"order_id"`
	Source    TriggerSource  `db:"source" json:"source"`
	Metadata  map[string]any `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
