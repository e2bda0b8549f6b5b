package repository

import (
    "context"
    "database/sql"
    "fmt"
    "time"

    "github.com/lib/pq"

    appErrors "github.com/coldpitch/outreach-backend/internal/errors"
    "github.com/coldpitch/outreach-backend/internal/model"
)

type CampaignRepositoryInterface interface {
    // Campaign CRUD
    Create(c *model.Campaign) error
    GetByID(id int64) (*model.Campaign, error)
    ListCampaigns(offset, limit int, tenantID int64, status string) ([]*model.Campaign, int, error)
    UpdateStatus(campaignID int64, status string) error
    Activate(campaignID int64) error
    Cancel(campaignID int64) error
    ForceEligible(campaignID int64) error
    ListBatchHistory(campaignID int64) ([]model.BatchRecord, error)

    // Batch processing path
    ListDue(ctx context.Context) ([]*model.Campaign, error)
    Claim(ctx context.Context, campaignID int64, token string, now time.Time, staleness time.Duration) (bool, error)
    ReleaseClaim(ctx context.Context, campaignID int64, token string) error
    MarkFailed(ctx context.Context, campaignID int64, reason string) error
    CommitBatch(ctx context.Context, c *model.Campaign, batch *model.BatchRecord) error
}

type CampaignRepository struct {
    DB *sql.DB
}

const campaignColumns = `id, tenant_id, name, status, base_template, list_ids, daily_limit,
        scheduled_at, failure_reason, completed_at,
        contacts_remaining, contacts_processed, contacts_failed,
        current_batch_number, first_batch_sent_at, next_batch_send_time,
        processing_token, processing_started_at, created_at, updated_at`

type rowScanner interface {
    Scan(dest ...interface{}) error
}

// scanCampaign reads one campaign row, reconstructing the progress
// sub-structure. A zero batch number means progress has never been
// initialized; a positive batch number with NULL id-sets is a malformed
// legacy record and is rejected here rather than corrupting later folds.
func scanCampaign(row rowScanner) (*model.Campaign, error) {
    var c model.Campaign
    var listIDs, remaining, processed, failed pq.Int64Array
    var batchNumber int
    var failureReason sql.NullString
    var firstSent, nextSend sql.NullTime

    err := row.Scan(
        &c.ID, &c.TenantID, &c.Name, &c.Status, &c.BaseTemplate, &listIDs, &c.DailyLimit,
        &c.ScheduledAt, &failureReason, &c.CompletedAt,
        &remaining, &processed, &failed,
        &batchNumber, &firstSent, &nextSend,
        &c.ProcessingToken, &c.ProcessingStartedAt, &c.CreatedAt, &c.UpdatedAt,
    )
    if err != nil {
        return nil, err
    }

    c.ListIDs = []int64(listIDs)
    c.FailureReason = failureReason.String

    if batchNumber > 0 {
        if remaining == nil || processed == nil || failed == nil {
            return nil, fmt.Errorf("campaign %d: malformed progress record (batch %d with missing id sets)", c.ID, batchNumber)
        }
        p := &model.Progress{
            Remaining:          []int64(remaining),
            Processed:          []int64(processed),
            Failed:             []int64(failed),
            CurrentBatchNumber: batchNumber,
        }
        if firstSent.Valid {
            t := firstSent.Time
            p.FirstBatchSentAt = &t
        }
        if nextSend.Valid {
            t := nextSend.Time
            p.NextBatchSendTime = &t
        }
        c.Progress = p
    }

    return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(c *model.Campaign) error {
    c.CreatedAt = time.Now()
    if c.Status == "" {
        c.Status = model.StatusDraft
    }
    query := `
        INSERT INTO campaigns (tenant_id, name, status, base_template, list_ids, daily_limit, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
    return r.DB.QueryRow(query,
        c.TenantID, c.Name, c.Status, c.BaseTemplate, pq.Array(c.ListIDs), c.DailyLimit, c.ScheduledAt, c.CreatedAt,
    ).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(id int64) (*model.Campaign, error) {
    query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
    c, err := scanCampaign(r.DB.QueryRow(query, id))
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, appErrors.NewCampaignNotFound(id)
        }
        return nil, err
    }
    return c, nil
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, tenantID int64, status string) ([]*model.Campaign, int, error) {
    campaigns := []*model.Campaign{}
    query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
    args := []interface{}{}
    argPos := 1

    if tenantID != 0 {
        query += fmt.Sprintf(" AND tenant_id=$%d", argPos)
        args = append(args, tenantID)
        argPos++
    }
    if status != "" {
        query += fmt.Sprintf(" AND status=$%d", argPos)
        args = append(args, status)
        argPos++
    }

    query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
    args = append(args, limit, offset)

    rows, err := r.DB.Query(query, args...)
    if err != nil {
        return nil, 0, err
    }
    defer rows.Close()

    for rows.Next() {
        c, err := scanCampaign(rows)
        if err != nil {
            return nil, 0, err
        }
        campaigns = append(campaigns, c)
    }

    // Count total
    countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
    argsCount := []interface{}{}
    argPosCount := 1
    if tenantID != 0 {
        countQuery += fmt.Sprintf(" AND tenant_id=$%d", argPosCount)
        argsCount = append(argsCount, tenantID)
        argPosCount++
    }
    if status != "" {
        countQuery += fmt.Sprintf(" AND status=$%d", argPosCount)
        argsCount = append(argsCount, status)
    }

    var total int
    if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
        return nil, 0, err
    }

    return campaigns, total, nil
}

func (r *CampaignRepository) UpdateStatus(campaignID int64, status string) error {
    query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`
    _, err := r.DB.Exec(query, status, time.Now(), campaignID)
    return err
}

// Activate moves a draft campaign into the scheduled status. Campaigns
// without a scheduled_at are treated as send-now by the eligibility check.
func (r *CampaignRepository) Activate(campaignID int64) error {
    query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3`
    res, err := r.DB.Exec(query, model.StatusScheduled, campaignID, model.StatusDraft)
    if err != nil {
        return err
    }
    if n, _ := res.RowsAffected(); n == 0 {
        return fmt.Errorf("campaign %d is not a draft", campaignID)
    }
    return nil
}

// Cancel is terminal; the processor stops selecting the campaign on its
// next eligibility check. An in-flight batch is not interrupted.
func (r *CampaignRepository) Cancel(campaignID int64) error {
    query := `
        UPDATE campaigns SET status=$1, next_batch_send_time=NULL, updated_at=NOW()
        WHERE id=$2 AND status IN ($3, $4, $5)
    `
    res, err := r.DB.Exec(query, model.StatusCancelled, campaignID,
        model.StatusDraft, model.StatusScheduled, model.StatusSending)
    if err != nil {
        return err
    }
    if n, _ := res.RowsAffected(); n == 0 {
        return fmt.Errorf("campaign %d cannot be cancelled", campaignID)
    }
    return nil
}

// ForceEligible pulls the campaign's next due time to now so the next
// trigger picks it up immediately. Plain timestamp mutation; the
// processor's eligibility check needs no separate code path.
func (r *CampaignRepository) ForceEligible(campaignID int64) error {
    query := `
        UPDATE campaigns
        SET scheduled_at = CASE WHEN status=$2 THEN NOW() ELSE scheduled_at END,
            next_batch_send_time = CASE WHEN status=$3 THEN NOW() ELSE next_batch_send_time END,
            updated_at = NOW()
        WHERE id=$1 AND status IN ($2, $3)
    `
    res, err := r.DB.Exec(query, campaignID, model.StatusScheduled, model.StatusSending)
    if err != nil {
        return err
    }
    if n, _ := res.RowsAffected(); n == 0 {
        return fmt.Errorf("campaign %d is not scheduled or sending", campaignID)
    }
    return nil
}

func (r *CampaignRepository) ListBatchHistory(campaignID int64) ([]model.BatchRecord, error) {
    query := `
        SELECT id, campaign_id, batch_number, sent_count, failed_count, remaining_after, executed_at
        FROM campaign_batches
        WHERE campaign_id=$1
        ORDER BY batch_number ASC
    `
    rows, err := r.DB.Query(query, campaignID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    history := []model.BatchRecord{}
    for rows.Next() {
        var b model.BatchRecord
        if err := rows.Scan(&b.ID, &b.CampaignID, &b.BatchNumber, &b.SentCount, &b.FailedCount, &b.RemainingAfter, &b.ExecutedAt); err != nil {
            return nil, err
        }
        history = append(history, b)
    }
    return history, rows.Err()
}

// ====================== Batch processing path ======================

// ListDue returns campaigns in a status eligible for batch execution.
// Fine-grained timing (scheduled_at, next_batch_send_time) is evaluated
// in memory by the scheduler so it stays testable with a fake clock.
func (r *CampaignRepository) ListDue(ctx context.Context) ([]*model.Campaign, error) {
    query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status IN ($1, $2) ORDER BY id ASC`
    rows, err := r.DB.QueryContext(ctx, query, model.StatusScheduled, model.StatusSending)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    campaigns := []*model.Campaign{}
    for rows.Next() {
        c, err := scanCampaign(rows)
        if err != nil {
            return nil, err
        }
        campaigns = append(campaigns, c)
    }
    return campaigns, rows.Err()
}

// Claim performs the conditional update that gives one invocation
// exclusive ownership of a campaign for the duration of a batch. It
// succeeds only when no claim is held, or the held claim is older than
// the staleness threshold (an abandoned claim from a crashed invocation).
func (r *CampaignRepository) Claim(ctx context.Context, campaignID int64, token string, now time.Time, staleness time.Duration) (bool, error) {
    query := `
        UPDATE campaigns
        SET processing_token=$2, processing_started_at=$3, updated_at=NOW()
        WHERE id=$1
          AND (processing_token IS NULL OR processing_started_at < $4)
    `
    res, err := r.DB.ExecContext(ctx, query, campaignID, token, now, now.Add(-staleness))
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, err
    }
    return n == 1, nil
}

// ReleaseClaim clears the claim if this invocation still owns it.
func (r *CampaignRepository) ReleaseClaim(ctx context.Context, campaignID int64, token string) error {
    query := `
        UPDATE campaigns
        SET processing_token=NULL, processing_started_at=NULL, updated_at=NOW()
        WHERE id=$1 AND processing_token=$2
    `
    _, err := r.DB.ExecContext(ctx, query, campaignID, token)
    return err
}

// MarkFailed is terminal: unrecoverable configuration errors only.
func (r *CampaignRepository) MarkFailed(ctx context.Context, campaignID int64, reason string) error {
    query := `
        UPDATE campaigns
        SET status=$2, failure_reason=$3, next_batch_send_time=NULL, updated_at=NOW()
        WHERE id=$1
    `
    _, err := r.DB.ExecContext(ctx, query, campaignID, model.StatusFailed, reason)
    return err
}

// CommitBatch persists the full post-batch state in one transaction:
// status, all progress fields and, when a batch actually executed, the
// new batch-history entry. Everything lands together or not at all.
func (r *CampaignRepository) CommitBatch(ctx context.Context, c *model.Campaign, batch *model.BatchRecord) error {
    if c.Progress == nil {
        return fmt.Errorf("campaign %d: commit without progress", c.ID)
    }

    tx, err := r.DB.BeginTx(ctx, nil)
    if err != nil {
        return err
    }
    defer tx.Rollback()

    query := `
        UPDATE campaigns
        SET status=$2, failure_reason=$3, completed_at=$4,
            contacts_remaining=$5, contacts_processed=$6, contacts_failed=$7,
            current_batch_number=$8, first_batch_sent_at=$9, next_batch_send_time=$10,
            updated_at=NOW()
        WHERE id=$1
    `
    var failureReason sql.NullString
    if c.FailureReason != "" {
        failureReason = sql.NullString{String: c.FailureReason, Valid: true}
    }
    p := c.Progress
    _, err = tx.ExecContext(ctx, query,
        c.ID, c.Status, failureReason, c.CompletedAt,
        pq.Array(p.Remaining), pq.Array(p.Processed), pq.Array(p.Failed),
        p.CurrentBatchNumber, p.FirstBatchSentAt, p.NextBatchSendTime,
    )
    if err != nil {
        return err
    }

    if batch != nil {
        insert := `
            INSERT INTO campaign_batches (campaign_id, batch_number, sent_count, failed_count, remaining_after, executed_at)
            VALUES ($1, $2, $3, $4, $5, $6)
        `
        if _, err := tx.ExecContext(ctx, insert,
            batch.CampaignID, batch.BatchNumber, batch.SentCount, batch.FailedCount, batch.RemainingAfter, batch.ExecutedAt,
        ); err != nil {
            return err
        }
    }

    return tx.Commit()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
