package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/scoutkit/creator-pipeline/internal/common"
)

// Publisher dispatches a message to a worker callback path, optionally after
// a delay. It returns the message id the delivery will carry in
// X-Queue-Message-Id, which doubles as the idempotency event id.
type Publisher interface {
	Publish(ctx context.Context, path string, msg *Message, delay time.Duration) (string, error)
}

// Envelope is the broker-side wrapper around a message body: everything the
// relay needs to deliver it as a signed HTTP callback.
type Envelope struct {
	MessageID   string          `json:"message_id"`
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body"`
	Retried     int             `json:"retried"`
}

// HTTPPublisher publishes through a hosted push-queue service
// (POST {publishURL}/{destination} with the delay in a header).
type HTTPPublisher struct {
	publishURL string
	token      string
	baseURL    string
	client     *http.Client
}

func NewHTTPPublisher(publishURL, token, callbackBaseURL string) *HTTPPublisher {
	return &HTTPPublisher{
		publishURL: strings.TrimRight(publishURL, "/"),
		token:      token,
		baseURL:    strings.TrimRight(callbackBaseURL, "/"),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPPublisher) Publish(ctx context.Context, path string, msg *Message, delay time.Duration) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	msgID, err := common.NewULID()
	if err != nil {
		return "", err
	}

	dest := p.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.publishURL+"/"+dest, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set(HeaderMessageID, msgID)
	if delay > 0 {
		req.Header.Set(HeaderDelay, delay.String())
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("push queue publish: status %d", resp.StatusCode)
	}
	return msgID, nil
}
