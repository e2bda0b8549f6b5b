package service

import (
	"encoding/json"
	"log"

	"github.com/coldpitch/outreach-backend/internal/queue"
	"github.com/coldpitch/outreach-backend/internal/repository"
)

// TransportWorker performs the actual send for queued dispatch jobs and
// writes the terminal result to the outbound log.
type TransportWorker struct {
	OutboundRepo repository.OutboundMessageRepositoryInterface
	SendFunc     func(content string) error
}

// Constructor
func NewTransportWorker(repo repository.OutboundMessageRepositoryInterface, sendFunc func(content string) error) *TransportWorker {
	return &TransportWorker{
		OutboundRepo: repo,
		SendFunc:     sendFunc,
	}
}

// HandleJob decodes a queued dispatch job and processes it.
func (w *TransportWorker) HandleJob(body []byte) error {
	var job DispatchJob
	if err := json.Unmarshal(body, &job); err != nil {
		log.Println("⚠️ Invalid dispatch job:", err)
		return nil // malformed, no retry
	}
	return w.ProcessOutboundMessage(job.OutboundMessageID)
}

// ProcessOutboundMessage sends one outbound message. A message already
// marked sent is skipped, so a duplicate job (replayed batch, requeued
// delivery) never reaches the recipient twice.
func (w *TransportWorker) ProcessOutboundMessage(id int64) error {
	msg, err := w.OutboundRepo.GetByID(id)
	if err != nil {
		log.Println("⚠️ Failed to fetch outbound message:", err)
		return err
	}
	if msg == nil {
		log.Println("⚠️ Outbound message not found for ID:", id)
		return nil // no retry
	}
	if msg.Status == "sent" {
		return nil
	}

	if err := w.SendFunc(msg.RenderedContent); err != nil {
		if uerr := w.OutboundRepo.UpdateStatus(id, "failed", err.Error()); uerr != nil {
			log.Println("⚠️ Failed to update message status:", uerr)
		}
		return err // triggers queue retry
	}

	if err := w.OutboundRepo.UpdateStatus(id, "sent", ""); err != nil {
		log.Println("⚠️ Failed to update message status:", err)
		return err
	}

	return nil
}

// StartDispatchSubscriber wires a transport worker to the dispatch
// topic. Used with the in-memory queue when no broker is configured.
func StartDispatchSubscriber(q queue.Queue, outboundRepo repository.OutboundMessageRepositoryInterface, sendFunc func(content string) error) {
	worker := NewTransportWorker(outboundRepo, sendFunc)
	if err := q.Subscribe(DispatchTopic, worker.HandleJob); err != nil {
		log.Println("⚠️ Failed to start subscriber for", DispatchTopic, ":", err)
	}
}
