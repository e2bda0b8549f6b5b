// internal/service/processor.go
package service

import (
    "context"
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/google/uuid"

    appErrors "github.com/coldpitch/outreach-backend/internal/errors"
    "github.com/coldpitch/outreach-backend/internal/model"
    "github.com/coldpitch/outreach-backend/internal/repository"
)

// Clock lets tests drive time deterministically.
type Clock func() time.Time

// CampaignProcessor is the single entry point invoked by the trigger
// source. Invocations may overlap; the per-campaign claim keeps any one
// campaign on a single invocation at a time.
type CampaignProcessor struct {
    CampaignRepo   repository.CampaignRepositoryInterface
    Tracker        *ContactTracker
    Scheduler      BatchScheduler
    Dispatcher     Dispatcher
    Now            Clock
    ClaimStaleness time.Duration
}

func NewCampaignProcessor(campaignRepo repository.CampaignRepositoryInterface, tracker *ContactTracker, dispatcher Dispatcher) *CampaignProcessor {
    return &CampaignProcessor{
        CampaignRepo:   campaignRepo,
        Tracker:        tracker,
        Dispatcher:     dispatcher,
        Now:            time.Now,
        ClaimStaleness: ClaimStaleness,
    }
}

// ProcessSummary reports what one trigger invocation did.
type ProcessSummary struct {
    Examined  int `json:"examined"`
    Skipped   int `json:"skipped"`
    Batches   int `json:"batches"`
    Completed int `json:"completed"`
    Failed    int `json:"failed"`
    Errors    int `json:"errors"`
}

// ProcessDueCampaigns selects eligible campaigns and executes one batch
// for each. Campaigns are independent; an error on one never stops the
// rest.
func (p *CampaignProcessor) ProcessDueCampaigns(ctx context.Context) (*ProcessSummary, error) {
    now := p.Now()
    due, err := p.CampaignRepo.ListDue(ctx)
    if err != nil {
        return nil, fmt.Errorf("list due campaigns: %w", err)
    }

    summary := &ProcessSummary{Examined: len(due)}
    for _, c := range due {
        if !p.Scheduler.IsEligible(c, now) {
            summary.Skipped++
            continue
        }

        err := p.processOne(ctx, c.ID)
        switch {
        case err == nil:
            summary.Batches++
        case errors.Is(err, appErrors.ErrClaimHeld):
            // Another invocation owns it; pick it up next cycle.
            summary.Skipped++
        case errors.Is(err, errCampaignCompleted):
            summary.Completed++
        case errors.Is(err, errCampaignFailed):
            summary.Failed++
        default:
            log.Println("⚠️ campaign", c.ID, "batch error:", err)
            summary.Errors++
        }
    }
    return summary, nil
}

// Internal markers so the summary can tell apart the terminal paths.
var (
    errCampaignCompleted = errors.New("campaign completed without a batch")
    errCampaignFailed    = errors.New("campaign failed")
)

// processOne runs a single batch for one campaign under an exclusive
// claim.
func (p *CampaignProcessor) processOne(ctx context.Context, campaignID int64) error {
    now := p.Now()
    token := uuid.New().String()

    ok, err := p.CampaignRepo.Claim(ctx, campaignID, token, now, p.ClaimStaleness)
    if err != nil {
        return fmt.Errorf("claim: %w", err)
    }
    if !ok {
        return appErrors.ErrClaimHeld
    }
    // Released success or failure: a crashed write must not wedge the
    // campaign past the staleness threshold.
    defer func() {
        if rerr := p.CampaignRepo.ReleaseClaim(context.Background(), campaignID, token); rerr != nil {
            log.Println("⚠️ failed to release claim for campaign", campaignID, ":", rerr)
        }
    }()

    // Re-read after winning the claim; the row may have moved while we
    // raced (cancel, another invocation's batch).
    c, err := p.CampaignRepo.GetByID(campaignID)
    if err != nil {
        return err
    }
    if !c.Eligible() || !p.Scheduler.IsEligible(c, now) {
        return appErrors.ErrClaimHeld
    }

    if c.DailyLimit <= 0 {
        reason := fmt.Sprintf("invalid daily limit %d", c.DailyLimit)
        if err := p.CampaignRepo.MarkFailed(ctx, c.ID, reason); err != nil {
            return err
        }
        log.Println("⚠️ campaign", c.ID, "failed:", reason)
        return errCampaignFailed
    }

    // Lazy progress initialization, only when wholly absent. Present but
    // stale progress is never re-derived: it is the send-safety record.
    if c.Progress == nil {
        progress, err := p.Tracker.Initialize(c)
        if err != nil {
            return fmt.Errorf("initialize progress: %w", err)
        }
        c.Progress = progress
    }
    if c.Progress.TargetSize() == 0 {
        if err := p.CampaignRepo.MarkFailed(ctx, c.ID, "no contacts"); err != nil {
            return err
        }
        log.Println("⚠️ campaign", c.ID, "failed: no contacts resolved from target lists")
        return errCampaignFailed
    }

    slice := NextBatch(c.Progress, c.DailyLimit)
    if len(slice) == 0 {
        // Nothing left to attempt (e.g. every contact reconciled from
        // prior send history). Force the completed transition.
        p.Scheduler.Complete(c, now)
        if err := p.CampaignRepo.CommitBatch(ctx, c, nil); err != nil {
            return fmt.Errorf("commit completion: %w", err)
        }
        log.Println("✅ campaign", c.ID, "completed with no pending contacts")
        return errCampaignCompleted
    }

    outcomes, dispatchErr := p.dispatchSlice(ctx, c, slice)
    if len(outcomes) == 0 {
        // Transport unreachable before anything went out: no state
        // change, retry whole batch next cycle.
        return fmt.Errorf("no contacts dispatched: %w", dispatchErr)
    }

    sent, failed := 0, 0
    for _, o := range outcomes {
        RecordOutcome(c.Progress, o)
        if o.Success {
            sent++
        } else {
            failed++
        }
    }

    batch := p.Scheduler.Advance(c, now, sent, failed)

    if err := p.CampaignRepo.CommitBatch(ctx, c, batch); err != nil {
        // Dispatch already happened but the durable record is untouched.
        // The next invocation replays the same slice; the dispatcher's
        // outbound log reports the same outcomes without re-sending.
        return fmt.Errorf("commit batch %d: %w", batch.BatchNumber, err)
    }

    if dispatchErr != nil {
        log.Println("⚠️ campaign", c.ID, "batch", batch.BatchNumber,
            "cut short, transport unavailable after", len(outcomes), "of", len(slice), "contacts:", dispatchErr)
    } else {
        log.Println("✅ campaign", c.ID, "batch", batch.BatchNumber,
            "sent:", sent, "failed:", failed, "remaining:", len(c.Progress.Remaining))
    }
    return nil
}

// dispatchSlice collects one outcome per contact. Per-contact failures
// never abort the batch; only total transport unavailability stops the
// loop, and outcomes already obtained are still folded so those contacts
// are never re-sent.
func (p *CampaignProcessor) dispatchSlice(ctx context.Context, c *model.Campaign, slice []int64) ([]Outcome, error) {
    outcomes := make([]Outcome, 0, len(slice))
    for _, contactID := range slice {
        o, err := p.Dispatcher.Dispatch(ctx, c, contactID)
        if err != nil {
            return outcomes, err
        }
        outcomes = append(outcomes, o)
    }
    return outcomes, nil
}
