// internal/model/batch.go
package model

import "time"

// BatchRecord is one entry in a campaign's batch history. Written once
// per executed batch, immutable afterwards.
type BatchRecord struct {
    ID             int64     `db:"id" json:"id"`
    CampaignID     int64     `db:"campaign_id" json:"campaign_id"`
    BatchNumber    int       `db:"batch_number" json:"batch_number"`
    SentCount      int       `db:"sent_count" json:"sent_count"`
    FailedCount    int       `db:"failed_count" json:"failed_count"`
    RemainingAfter int       `db:"remaining_after" json:"remaining_after"`
    ExecutedAt     time.Time `db:"executed_at" json:"executed_at"`
}
