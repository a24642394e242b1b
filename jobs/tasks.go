// Package jobs runs the background maintenance tasks: expiring stale pending
// vouchers and pruning old audit entries.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskVoucherExpiry cancels vouchers left pending past their TTL.
	TaskVoucherExpiry = "ledger:expire_pending"
	// TaskAuditRetention prunes audit entries past the retention window.
	TaskAuditRetention = "audit:retention"
)

// VoucherExpiryPayload carries the pending TTL for one expiry sweep.
type VoucherExpiryPayload struct {
	TTL time.Duration `json:"ttl"`
}

// NewVoucherExpiryTask constructs an expiry sweep task.
func NewVoucherExpiryTask(ttl time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(VoucherExpiryPayload{TTL: ttl})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVoucherExpiry, body, asynq.Queue(QueueDefault)), nil
}

// AuditRetentionPayload carries the retention window for one cleanup run.
type AuditRetentionPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewAuditRetentionTask constructs an audit cleanup task.
func NewAuditRetentionTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(AuditRetentionPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, body, asynq.Queue(QueueDefault)), nil
}
