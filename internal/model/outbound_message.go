// internal/model/outbound_message.go
package model

import "time"

type OutboundMessage struct {
    ID              int64     `db:"id" json:"id"`
    CampaignID      int64     `db:"campaign_id" json:"campaign_id"`
    ContactID       int64     `db:"contact_id" json:"contact_id"`
    Status          string    `db:"status" json:"status"` // pending, sent, failed
    RenderedContent string    `db:"rendered_content" json:"rendered_content"`
    LastError       string    `db:"last_error,omitempty" json:"last_error,omitempty"`
    RetryCount      int       `db:"retry_count" json:"retry_count"`
    CreatedAt       time.Time `db:"created_at" json:"created_at"`
    UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
