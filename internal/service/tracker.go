// internal/service/tracker.go
package service

import (
    "github.com/coldpitch/outreach-backend/internal/model"
    "github.com/coldpitch/outreach-backend/internal/repository"
)

// Outcome is the per-contact result reported by the dispatcher.
type Outcome struct {
    ContactID int64
    Success   bool
    Reason    string
}

// ReasonContactNotFound marks a target contact id that does not exist in
// the contact store. It consumes its batch slot as a failure instead of
// silently shrinking the batch.
const ReasonContactNotFound = "contact_not_found"

// ContactTracker owns the remaining/processed/failed bookkeeping for a
// campaign. Initialize touches the collaborators; everything else is
// pure logic over the progress struct.
type ContactTracker struct {
    ContactRepo  repository.ContactRepositoryInterface
    OutboundRepo repository.OutboundMessageRepositoryInterface
}

// Initialize seeds the progress sets from the campaign's target lists.
// Called only when progress is wholly absent. Contacts that already have
// a terminal send recorded in the outbound log are placed straight into
// processed/failed; this reconciles campaigns created before progress
// tracking existed. A contact whose prior send predates the outbound log
// cannot be detected here and would be sent once more during the
// transition; known gap, kept deliberately.
func (t *ContactTracker) Initialize(c *model.Campaign) (*model.Progress, error) {
    ids, err := t.ContactRepo.ResolveListMembers(c.TenantID, c.ListIDs)
    if err != nil {
        return nil, err
    }

    history, err := t.OutboundRepo.SendHistory(c.ID)
    if err != nil {
        return nil, err
    }

    p := &model.Progress{
        Remaining:          []int64{},
        Processed:          []int64{},
        Failed:             []int64{},
        CurrentBatchNumber: 1,
    }
    for _, id := range ids {
        switch history[id] {
        case "sent":
            p.Processed = append(p.Processed, id)
        case "failed":
            p.Failed = append(p.Failed, id)
        default:
            p.Remaining = append(p.Remaining, id)
        }
    }
    return p, nil
}

// NextBatch returns the first min(dailyLimit, |remaining|) contact ids in
// stable order. Pure; the returned slice is a copy.
func NextBatch(p *model.Progress, dailyLimit int) []int64 {
    if dailyLimit <= 0 || len(p.Remaining) == 0 {
        return []int64{}
    }
    n := dailyLimit
    if n > len(p.Remaining) {
        n = len(p.Remaining)
    }
    batch := make([]int64, n)
    copy(batch, p.Remaining[:n])
    return batch
}

// RecordOutcome moves a contact out of remaining into processed or
// failed. Recording an outcome for a contact already moved out of
// remaining is a no-op, which tolerates at-least-once delivery of
// outcome reports.
func RecordOutcome(p *model.Progress, o Outcome) {
    if containsID(p.Processed, o.ContactID) || containsID(p.Failed, o.ContactID) {
        return
    }
    if !containsID(p.Remaining, o.ContactID) {
        // Not part of the target set; ignore.
        return
    }
    p.Remaining = removeID(p.Remaining, o.ContactID)
    if o.Success {
        p.Processed = append(p.Processed, o.ContactID)
    } else {
        p.Failed = append(p.Failed, o.ContactID)
    }
}

func containsID(ids []int64, id int64) bool {
    for _, v := range ids {
        if v == id {
            return true
        }
    }
    return false
}

// removeID keeps order and never returns nil: the progress sets must
// persist as empty arrays, not nulls.
func removeID(ids []int64, id int64) []int64 {
    out := make([]int64, 0, len(ids))
    for _, v := range ids {
        if v != id {
            out = append(out, v)
        }
    }
    return out
}
