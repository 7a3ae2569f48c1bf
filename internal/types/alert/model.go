package alert

import "time"

const (
	KindTimeoutRecovery = "timeout_recovery"
	KindRetryTriage     = "retry_triage"
)

// Alert is an operator-facing record of an automated intervention.
// Append-only; resolution is the only mutation.
type Alert struct {
	ID         string     `db:"id" json:"id"`
	Kind       string     `db:"kind" json:"kind"`
	Message    string     `db:"message" json:"message"`
	OrderCount int        `db:"order_count" json:"order_count"`
	FailCount  int        `db:"fail_count" json:"fail_count"`
	Resolved   bool       `db:"resolved" json:"resolved"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}
