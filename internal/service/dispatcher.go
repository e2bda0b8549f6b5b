// internal/service/dispatcher.go
package service

import (
    "context"
    "fmt"
    "log"

    appErrors "github.com/coldpitch/outreach-backend/internal/errors"
    "github.com/coldpitch/outreach-backend/internal/model"
    "github.com/coldpitch/outreach-backend/internal/queue"
    "github.com/coldpitch/outreach-backend/internal/repository"
)

// DispatchTopic is the queue the transport worker consumes.
const DispatchTopic = "campaign_dispatch"

// Dispatcher hands one contact's message to the transport and reports a
// per-contact outcome. A non-nil error means the transport could not be
// reached at all; the cycle aborts and the campaign is retried on the
// next trigger.
type Dispatcher interface {
    Dispatch(ctx context.Context, campaign *model.Campaign, contactID int64) (Outcome, error)
}

// DispatchJob is the wire payload handed to the transport worker.
type DispatchJob struct {
    OutboundMessageID int64 `json:"outbound_message_id"`
}

// QueueDispatcher renders the contact's message, records it in the
// outbound log and publishes a job for the transport worker. Accepted by
// the queue counts as Success; the outbound log carries the eventual
// transport result.
type QueueDispatcher struct {
    ContactRepo  repository.ContactRepositoryInterface
    OutboundRepo repository.OutboundMessageRepositoryInterface
    Templates    *TemplateService
    Queue        queue.Queue
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, campaign *model.Campaign, contactID int64) (Outcome, error) {
    contact, err := d.ContactRepo.GetByID(contactID)
    if err != nil {
        return Outcome{}, fmt.Errorf("load contact %d: %w", contactID, err)
    }
    if contact == nil {
        // The list referenced a contact that no longer exists. Failure
        // outcome, slot consumed.
        msg, err := d.OutboundRepo.GetOrCreate(campaign.ID, contactID)
        if err == nil && msg.Status == "pending" {
            if uerr := d.OutboundRepo.UpdateStatus(msg.ID, "failed", ReasonContactNotFound); uerr != nil {
                log.Println("⚠️ failed to record missing contact:", uerr)
            }
        }
        return Outcome{ContactID: contactID, Success: false, Reason: ReasonContactNotFound}, nil
    }

    msg, err := d.OutboundRepo.GetOrCreate(campaign.ID, contactID)
    if err != nil {
        return Outcome{}, fmt.Errorf("outbound record for contact %d: %w", contactID, err)
    }

    // The outbound log is the idempotency point: a batch replayed after
    // a failed commit sees the earlier terminal rows and reports the
    // same outcomes without re-sending.
    switch msg.Status {
    case "sent":
        return Outcome{ContactID: contactID, Success: true}, nil
    case "failed":
        return Outcome{ContactID: contactID, Success: false, Reason: msg.LastError}, nil
    }

    if msg.RenderedContent == "" {
        rendered, err := d.Templates.Render(campaign.BaseTemplate, contact)
        if err != nil {
            if uerr := d.OutboundRepo.UpdateStatus(msg.ID, "failed", err.Error()); uerr != nil {
                log.Println("⚠️ failed to record render failure:", uerr)
            }
            return Outcome{ContactID: contactID, Success: false, Reason: "render: " + err.Error()}, nil
        }
        if err := d.OutboundRepo.UpdateContent(msg.ID, rendered); err != nil {
            return Outcome{}, fmt.Errorf("store rendered content: %w", err)
        }
        msg.RenderedContent = rendered
    }

    if err := d.Queue.Publish(DispatchTopic, DispatchJob{OutboundMessageID: msg.ID}); err != nil {
        return Outcome{}, fmt.Errorf("%w: %v", appErrors.ErrDispatcherUnavailable, err)
    }

    return Outcome{ContactID: contactID, Success: true}, nil
}
