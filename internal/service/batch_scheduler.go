// internal/service/batch_scheduler.go
package service

import (
    "time"

    "github.com/coldpitch/outreach-backend/internal/model"
)

const (
    // BatchCadence is the fixed spacing between batches. It is anchored
    // to when the batch fired, not to how long dispatch took, so a
    // campaign stays at one batch per calendar day without drift.
    BatchCadence = 24 * time.Hour

    // EligibilityTolerance absorbs jitter in the external trigger's
    // firing interval: a batch missed by a few minutes is still due,
    // without any risk of firing a day early.
    EligibilityTolerance = 5 * time.Minute

    // ClaimStaleness is the age after which a processing claim is
    // considered abandoned by a crashed invocation and reclaimable.
    ClaimStaleness = 10 * time.Minute
)

// BatchScheduler is the state machine deciding when a campaign's next
// batch fires and how its status moves after a batch executes.
type BatchScheduler struct{}

// IsEligible reports whether the campaign is due for a batch at `now`.
func (BatchScheduler) IsEligible(c *model.Campaign, now time.Time) bool {
    switch c.Status {
    case model.StatusScheduled:
        // No start time means send-now.
        return c.ScheduledAt == nil || !c.ScheduledAt.After(now)
    case model.StatusSending:
        if c.Progress == nil || c.Progress.NextBatchSendTime == nil {
            // Sending with no pending batch timestamp is a repair
            // condition; pick it up immediately.
            return true
        }
        return c.Progress.NextBatchSendTime.Sub(now) <= EligibilityTolerance
    }
    return false
}

// Advance applies the post-batch transition after outcomes have been
// folded: stamps first_batch_sent_at on the first batch, increments the
// batch number, and either schedules the next batch a fixed cadence out
// or completes the campaign when nothing remains. Returns the immutable
// history record for the batch that just executed.
func (BatchScheduler) Advance(c *model.Campaign, now time.Time, sentCount, failedCount int) *model.BatchRecord {
    p := c.Progress
    batch := &model.BatchRecord{
        CampaignID:     c.ID,
        BatchNumber:    p.CurrentBatchNumber,
        SentCount:      sentCount,
        FailedCount:    failedCount,
        RemainingAfter: len(p.Remaining),
        ExecutedAt:     now,
    }

    if p.FirstBatchSentAt == nil {
        t := now
        p.FirstBatchSentAt = &t
    }
    p.CurrentBatchNumber++

    if len(p.Remaining) == 0 {
        complete(c, now)
    } else {
        c.Status = model.StatusSending
        next := now.Add(BatchCadence)
        p.NextBatchSendTime = &next
    }

    return batch
}

// Complete forces the completed transition without executing a batch.
// Used when an eligible campaign turns out to have nothing remaining
// (e.g. all contacts reconciled from prior send history).
func (BatchScheduler) Complete(c *model.Campaign, now time.Time) {
    complete(c, now)
}

func complete(c *model.Campaign, now time.Time) {
    c.Status = model.StatusCompleted
    c.Progress.NextBatchSendTime = nil
    t := now
    c.CompletedAt = &t
}
