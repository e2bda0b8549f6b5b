package queue

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Queue interface. Payloads cross the wire as JSON, so handlers always
// receive the encoded body regardless of backend.
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(body []byte) error) error
}

// InMemoryQueue is an in-process queue with retry, used in development
// and tests when no broker is configured.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(body []byte) error
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func(body []byte) error),
	}
}

// jobPayload wraps a message body with retry info
type jobPayload struct {
	Body       []byte
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	job := jobPayload{
		Body:       body,
		RetryCount: 0,
		MaxRetries: 3,
	}

	for _, handler := range handlers {
		go q.processJob(handler, job)
	}

	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler func(body []byte) error, job jobPayload) {
	for job.RetryCount <= job.MaxRetries {
		err := handler(job.Body)
		if err == nil {
			return // ACK
		}

		job.RetryCount++
		log.Printf("Job failed (attempt %d/%d): %s, error: %v\n", job.RetryCount, job.MaxRetries, job.Body, err)

		if job.RetryCount > job.MaxRetries {
			log.Printf("Job permanently failed after %d attempts: %s\n", job.MaxRetries, job.Body)
			return // No requeue
		}

		// Exponential backoff before retry
		time.Sleep(time.Duration(job.RetryCount*500) * time.Millisecond)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(body []byte) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)
