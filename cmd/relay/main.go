package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/scoutkit/creator-pipeline/internal/config"
	"github.com/scoutkit/creator-pipeline/internal/observability"
	"github.com/scoutkit/creator-pipeline/internal/queue"
)

// The relay is the local stand-in for a hosted push queue: it consumes
// broker envelopes and delivers them as signed HTTP callbacks, retrying with
// backoff until the endpoint answers 2xx or the retry budget runs out.

const maxRetries = 5

func relayConcurrency() int {
	v := os.Getenv("RELAY_CONCURRENCY")
	if v == "" {
		return 4
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 4
	}
	if n > 50 {
		return 50
	}
	return n
}

func retryBackoff(retried int) time.Duration {
	// 2s, 4s, 8s... capped at a minute
	d := time.Duration(1<<uint(retried)) * 2 * time.Second
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, closeLog := observability.NewLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()

	signer := queue.NewSigner(cfg.QueueSigningKey, cfg.QueueNextSigningKey)
	client := &http.Client{Timeout: 60 * time.Second}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := queue.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := relayConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("relay started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				var env queue.Envelope
				if err := json.Unmarshal(d.Body, &env); err != nil || env.Destination == "" {
					logger.Error("bad envelope, dead-lettering", "worker", workerID, "error", err)
					_ = d.Nack(false, false)
					continue
				}

				if err := deliver(ctx, client, signer, env); err != nil {
					if env.Retried >= maxRetries {
						logger.Error("delivery exhausted retries, dead-lettering",
							"worker", workerID, "message_id", env.MessageID,
							"destination", env.Destination, "error", err)
						_ = d.Nack(false, false)
						continue
					}
					backoff := retryBackoff(env.Retried)
					if rErr := queue.RepublishRetry(ctx, ch, cfg.RabbitQueue, env, backoff); rErr != nil {
						logger.Error("republish failed, requeueing",
							"worker", workerID, "message_id", env.MessageID, "error", rErr)
						_ = d.Nack(false, true)
						continue
					}
					logger.Warn("delivery failed, scheduled retry",
						"worker", workerID, "message_id", env.MessageID,
						"retried", env.Retried, "backoff", backoff, "error", err)
					_ = d.Ack(false)
					continue
				}

				if err := d.Ack(false); err != nil {
					logger.Error("ack failed", "worker", workerID, "message_id", env.MessageID, "error", err)
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("relay shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			deliveries <- d
		}
	}
}

// deliver posts one envelope to its destination with the queue headers and a
// signature bound to that exact URL. Any non-2xx answer counts as a failed
// delivery; business failures are the endpoint's to absorb with a 200.
func deliver(ctx context.Context, client *http.Client, signer *queue.Signer, env queue.Envelope) error {
	start := time.Now()

	token, err := signer.Sign(env.Destination, env.Body)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, env.Destination, bytes.NewReader(env.Body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(queue.HeaderSignature, token)
	req.Header.Set(queue.HeaderMessageID, env.MessageID)
	req.Header.Set(queue.HeaderRetried, strconv.Itoa(env.Retried))

	resp, err := client.Do(req)
	if err != nil {
		observability.MessagesProcessed.WithLabelValues("relay", "failed").Inc()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.MessagesProcessed.WithLabelValues("relay", "failed").Inc()
		return fmt.Errorf("delivery to %s: status %d", env.Destination, resp.StatusCode)
	}

	observability.MessagesProcessed.WithLabelValues("relay", "processed").Inc()
	observability.WorkerDuration.WithLabelValues("relay").Observe(time.Since(start).Seconds())
	return nil
}
