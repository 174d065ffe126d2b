package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kernelq/internal/job"
	logx "kernelq/pkg/logx"
)

// WebhookPayload is the WEBHOOK job payload. Body is forwarded verbatim as
// the POST body; when empty, the job id is sent as a minimal JSON envelope.
type WebhookPayload struct {
	URL  string          `json:"url"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Webhook POSTs the payload to the target URL. Any transport error or
// non-2xx response is a transient failure handled by retry accounting.
type Webhook struct {
	client *http.Client
	log    logx.Logger
}

func NewWebhook(client *http.Client, log logx.Logger) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Webhook{client: client, log: log}
}

func (w *Webhook) Run(ctx context.Context, j *job.Job) error {
	var p WebhookPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return fmt.Errorf("webhook payload: %w", err)
	}
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("webhook payload: missing url")
	}
	if _, err := url.ParseRequestURI(p.URL); err != nil {
		return fmt.Errorf("webhook payload: bad url: %w", err)
	}

	body := []byte(p.Body)
	if len(body) == 0 {
		body = []byte(fmt.Sprintf(`{"job_id":%q}`, j.ID))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Kernelq-Job", j.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post %s: %w", p.URL, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook post %s: status %d", p.URL, resp.StatusCode)
	}
	w.log.Info("webhook delivered",
		logx.String("job_id", j.ID),
		logx.String("url", p.URL),
		logx.Int("status", resp.StatusCode),
	)
	return nil
}
