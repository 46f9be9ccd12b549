package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/scoutkit/creator-pipeline/internal/common"
)

// AMQPPublisher publishes envelopes to RabbitMQ for the local relay to
// deliver as signed HTTP callbacks. Delayed messages go through the retry
// queue with a per-message TTL that dead-letters back into the main queue.
type AMQPPublisher struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	baseURL string
}

func NewAMQPPublisher(url, queue, callbackBaseURL string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &AMQPPublisher{
		conn:    conn,
		ch:      ch,
		queue:   queue,
		baseURL: strings.TrimRight(callbackBaseURL, "/"),
	}, nil
}

// DeclareTopology declares the main/retry/DLQ trio shared by publisher and
// relay. Retry dead-letters into main; main dead-letters into the DLQ on
// nack(requeue=false).
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"

	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	); err != nil {
		return err
	}

	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, path string, msg *Message, delay time.Duration) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	msgID, err := common.NewULID()
	if err != nil {
		return "", err
	}

	env := Envelope{
		MessageID:   msgID,
		Destination: p.baseURL + path,
		Body:        body,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         raw,
		Timestamp:    time.Now(),
	}

	routingKey := p.queue
	if delay > 0 {
		// TTL expiry dead-letters the message back into the main queue.
		routingKey = p.queue + ".retry"
		pub.Expiration = formatMillis(delay)
	}

	if err := p.ch.PublishWithContext(cctx,
		"", // default exchange
		routingKey,
		false,
		false,
		pub,
	); err != nil {
		return "", err
	}
	return msgID, nil
}

// RepublishRetry re-enqueues a failed delivery with a backoff TTL. Used by
// the relay; bumps the retried counter so delivery attempts are bounded.
func RepublishRetry(ctx context.Context, ch *amqp.Channel, queue string, env Envelope, backoff time.Duration) error {
	env.Retried++
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(cctx,
		"",
		queue+".retry",
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         raw,
			Expiration:   formatMillis(backoff),
			Timestamp:    time.Now(),
		},
	)
}

func formatMillis(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}
