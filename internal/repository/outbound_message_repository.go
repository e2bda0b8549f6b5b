package repository

import (
	"database/sql"
	"time"

	"github.com/coldpitch/outreach-backend/internal/model"
)

// OutboundMessageRepositoryInterface is the dispatcher's durable send
// log. It doubles as the send-history collaborator the tracker consults
// when reconciling campaigns created before progress tracking existed.
type OutboundMessageRepositoryInterface interface {
	GetOrCreate(campaignID, contactID int64) (*model.OutboundMessage, error)
	GetByID(id int64) (*model.OutboundMessage, error)
	Update(msg *model.OutboundMessage) error
	UpdateStatus(id int64, status, lastError string) error
	UpdateContent(id int64, content string) error
	SendHistory(campaignID int64) (map[int64]string, error)
}

type OutboundMessageRepository struct {
	DB *sql.DB
}

// GetOrCreate returns the existing outbound message for the campaign and
// contact, or inserts a fresh pending one. The idempotent insert is what
// keeps a retried batch from producing duplicate sends.
func (r *OutboundMessageRepository) GetOrCreate(campaignID, contactID int64) (*model.OutboundMessage, error) {
	existing, err := r.get(campaignID, contactID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	query := `
        INSERT INTO outbound_messages (campaign_id, contact_id, status, retry_count, created_at, updated_at)
        VALUES ($1, $2, 'pending', 0, NOW(), NOW())
        RETURNING id, status, retry_count, created_at, updated_at
    `
	var msg model.OutboundMessage
	err = r.DB.QueryRow(query, campaignID, contactID).Scan(&msg.ID, &msg.Status, &msg.RetryCount, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return nil, err
	}

	msg.CampaignID = campaignID
	msg.ContactID = contactID
	return &msg, nil
}

func (r *OutboundMessageRepository) get(campaignID, contactID int64) (*model.OutboundMessage, error) {
	query := `SELECT id, campaign_id, contact_id, status, rendered_content, last_error, retry_count, created_at, updated_at
              FROM outbound_messages
              WHERE campaign_id=$1 AND contact_id=$2`
	var msg model.OutboundMessage
	err := r.DB.QueryRow(query, campaignID, contactID).Scan(
		&msg.ID, &msg.CampaignID, &msg.ContactID, &msg.Status,
		&msg.RenderedContent, &msg.LastError, &msg.RetryCount,
		&msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// GetByID fetches an outbound message by its ID
func (r *OutboundMessageRepository) GetByID(id int64) (*model.OutboundMessage, error) {
	query := `
        SELECT id, campaign_id, contact_id, status, rendered_content, last_error, retry_count, created_at, updated_at
        FROM outbound_messages
        WHERE id=$1
    `
	var msg model.OutboundMessage
	err := r.DB.QueryRow(query, id).Scan(
		&msg.ID,
		&msg.CampaignID,
		&msg.ContactID,
		&msg.Status,
		&msg.RenderedContent,
		&msg.LastError,
		&msg.RetryCount,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// Update updates an existing outbound message (e.g., status, last_error, retry_count)
func (r *OutboundMessageRepository) Update(msg *model.OutboundMessage) error {
	msg.UpdatedAt = time.Now()
	query := `
        UPDATE outbound_messages
        SET status=$1, last_error=$2, retry_count=$3, updated_at=$4
        WHERE id=$5
    `
	_, err := r.DB.Exec(query, msg.Status, msg.LastError, msg.RetryCount, msg.UpdatedAt, msg.ID)
	return err
}

func (r *OutboundMessageRepository) UpdateStatus(id int64, status, lastError string) error {
	query := `UPDATE outbound_messages SET status=$1, last_error=$2, retry_count=retry_count+1, updated_at=NOW() WHERE id=$3`
	_, err := r.DB.Exec(query, status, lastError, id)
	return err
}

func (r *OutboundMessageRepository) UpdateContent(id int64, content string) error {
	query := `UPDATE outbound_messages SET rendered_content=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, content, id)
	return err
}

// SendHistory returns the terminal dispatch outcome per contact for a
// campaign: contact id -> "sent" or "failed". Pending rows are omitted
// so an interrupted dispatch can be attempted again.
func (r *OutboundMessageRepository) SendHistory(campaignID int64) (map[int64]string, error) {
	query := `
        SELECT contact_id, status
        FROM outbound_messages
        WHERE campaign_id=$1 AND status IN ('sent', 'failed')
    `
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := map[int64]string{}
	for rows.Next() {
		var contactID int64
		var status string
		if err := rows.Scan(&contactID, &status); err != nil {
			return nil, err
		}
		history[contactID] = status
	}
	return history, rows.Err()
}

var _ OutboundMessageRepositoryInterface = (*OutboundMessageRepository)(nil)
