package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	maxErrorBodySize      = 4096
	webhookQueueSize      = 256
)

var (
	// ErrWebhookUnauthorized indicates the receiver rejected the token.
	ErrWebhookUnauthorized = errors.New("webhook unauthorized")
	// ErrWebhookRejected indicates the receiver refused the payload.
	ErrWebhookRejected = errors.New("webhook rejected payload")
)

// Webhook posts terminal job events to an external receiver. Delivery runs
// on its own goroutine so job execution never waits on the receiver.
type Webhook struct {
	url    string
	token  string
	client *http.Client
	queue  chan domain.Event
	log    *slog.Logger
}

// NewWebhook validates the target URL.
func NewWebhook(url, token string, client *http.Client, logger *slog.Logger) (*Webhook, error) {
	trimmed := strings.TrimSpace(url)
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		return nil, fmt.Errorf("webhook url must be http(s): %q", url)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultWebhookTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:    trimmed,
		token:  strings.TrimSpace(token),
		client: client,
		queue:  make(chan domain.Event, webhookQueueSize),
		log:    logger,
	}, nil
}

// Publish implements jobs.Publisher. Only terminal transitions are queued.
func (w *Webhook) Publish(event domain.Event) {
	if !event.Status.Terminal() {
		return
	}
	select {
	case w.queue <- event:
	default:
		w.log.Warn("webhook queue full, dropping event", "job_id", event.JobID, "status", event.Status)
	}
}

// Run delivers queued events until ctx is done.
func (w *Webhook) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.queue:
			if err := w.Deliver(ctx, event); err != nil {
				w.log.Warn("webhook delivery failed", "job_id", event.JobID, "status", event.Status, "error", err)
			}
		}
	}
}

// Deliver sends one event.
func (w *Webhook) Deliver(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shipit-Event", "job."+string(event.Status))
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrWebhookUnauthorized, summary)
	case resp.StatusCode < http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", ErrWebhookRejected, summary)
	default:
		return fmt.Errorf("webhook receiver failed: %s", summary)
	}
}
