package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// SendPushArgs is the payload of a queued push notification.
type SendPushArgs struct {
	AccountID uuid.UUID `json:"account_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
}

func (SendPushArgs) Kind() string { return "send_push" }

// Pusher delivers one notification to one account's devices.
type Pusher interface {
	Push(ctx context.Context, accountID uuid.UUID, title, body string) error
}

// HTTPPusher posts to the push-delivery service.
type HTTPPusher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPPusher(baseURL, apiKey string) *HTTPPusher {
	return &HTTPPusher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

var _ Pusher = (*HTTPPusher)(nil)

func (p *HTTPPusher) Push(ctx context.Context, accountID uuid.UUID, title, body string) error {
	payload, err := json.Marshal(map[string]string{
		"account_id": accountID.String(),
		"title":      title,
		"body":       body,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push service status %d", resp.StatusCode)
	}
	return nil
}

// NopPusher is used when no push service is configured.
type NopPusher struct{}

func (NopPusher) Push(context.Context, uuid.UUID, string, string) error { return nil }

// SendPushWorker drains queued notifications. Delivery is fire-and-forget:
// a failed push is logged and swallowed, never retried and never surfaced
// to the operation that enqueued it.
type SendPushWorker struct {
	river.WorkerDefaults[SendPushArgs]
	pusher Pusher
	log    *slog.Logger
}

func NewSendPushWorker(pusher Pusher, log *slog.Logger) *SendPushWorker {
	if log == nil {
		log = slog.Default()
	}
	return &SendPushWorker{pusher: pusher, log: log}
}

func (w *SendPushWorker) Work(ctx context.Context, job *river.Job[SendPushArgs]) error {
	args := job.Args
	if err := w.pusher.Push(ctx, args.AccountID, args.Title, args.Body); err != nil {
		w.log.Warn("push delivery failed", "account_id", args.AccountID, "error", err)
	}
	return nil
}
