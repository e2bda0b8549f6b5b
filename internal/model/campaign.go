// internal/model/campaign.go
package model

import "time"

// Campaign statuses. Only scheduled and sending campaigns are picked up
// by the batch processor.
const (
    StatusDraft     = "draft"
    StatusScheduled = "scheduled"
    StatusSending   = "sending"
    StatusCompleted = "completed"
    StatusCancelled = "cancelled"
    StatusFailed    = "failed"
)

type Campaign struct {
    ID            int64      `db:"id" json:"id"`
    TenantID      int64      `db:"tenant_id" json:"tenant_id"`
    Name          string     `db:"name" json:"name"`
    Status        string     `db:"status" json:"status"`
    BaseTemplate  string     `db:"base_template" json:"base_template"`
    ListIDs       []int64    `db:"list_ids" json:"list_ids"`
    DailyLimit    int        `db:"daily_limit" json:"daily_limit"`
    ScheduledAt   *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
    FailureReason string     `db:"failure_reason" json:"failure_reason,omitempty"`
    CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`

    // Progress is nil until the first batch execution seeds it.
    Progress *Progress `json:"progress,omitempty"`

    // Claim fields. A non-null token marks the campaign as being
    // processed by an in-flight invocation.
    ProcessingToken     *string    `db:"processing_token" json:"-"`
    ProcessingStartedAt *time.Time `db:"processing_started_at" json:"-"`

    CreatedAt time.Time  `db:"created_at" json:"created_at"`
    UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Progress holds the contact bookkeeping for a campaign. Remaining is
// ordered (stable list order); Processed and Failed are sets stored as
// slices. The three are pairwise disjoint and their union is the full
// target contact set for the lifetime of the campaign.
type Progress struct {
    Remaining          []int64    `json:"contacts_remaining"`
    Processed          []int64    `json:"contacts_processed"`
    Failed             []int64    `json:"contacts_failed"`
    CurrentBatchNumber int        `json:"current_batch_number"`
    FirstBatchSentAt   *time.Time `json:"first_batch_sent_at,omitempty"`
    NextBatchSendTime  *time.Time `json:"next_batch_send_time,omitempty"`
}

// TargetSize returns the size of the full target contact set.
func (p *Progress) TargetSize() int {
    return len(p.Remaining) + len(p.Processed) + len(p.Failed)
}

// Eligible reports whether the campaign status allows batch execution.
func (c *Campaign) Eligible() bool {
    return c.Status == StatusScheduled || c.Status == StatusSending
}

// Terminal reports whether the campaign can never execute another batch.
func (c *Campaign) Terminal() bool {
    return c.Status == StatusCompleted || c.Status == StatusCancelled || c.Status == StatusFailed
}
