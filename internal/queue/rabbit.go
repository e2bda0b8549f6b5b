package queue

import (
	"encoding/json"
	"log"

	"github.com/streadway/amqp"
)

// RabbitQueue is the RabbitMQ-backed implementation used in production.
type RabbitQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewRabbitQueue dials the broker and opens a channel.
func NewRabbitQueue(url string) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &RabbitQueue{conn: conn, ch: ch}, nil
}

func (q *RabbitQueue) Close() {
	if q.ch != nil {
		q.ch.Close()
	}
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *RabbitQueue) declare(topic string) (amqp.Queue, error) {
	return q.ch.QueueDeclare(
		topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

// Publish marshals the payload and publishes it on the durable queue.
func (q *RabbitQueue) Publish(topic string, payload any) error {
	queue, err := q.declare(topic)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return q.ch.Publish(
		"",
		queue.Name,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// Subscribe consumes the queue with manual acks, requeueing failed jobs
// up to three times via the x-retry-count header.
func (q *RabbitQueue) Subscribe(topic string, handler func(body []byte) error) error {
	queue, err := q.declare(topic)
	if err != nil {
		return err
	}

	msgs, err := q.ch.Consume(
		queue.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			err := handler(d.Body)
			if err != nil {
				log.Println("Failed to process job:", err)
				var retryCount int32
				if v, ok := d.Headers["x-retry-count"].(int32); ok {
					retryCount = v
				}
				if retryCount < 3 {
					d.Nack(false, true) // requeue
					continue
				}
			}
			d.Ack(false)
		}
	}()

	return nil
}

var _ Queue = (*RabbitQueue)(nil)
