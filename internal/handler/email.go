package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"kernelq/internal/job"
	logx "kernelq/pkg/logx"
)

// EmailPayload is the EMAIL job payload.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
}

// Email validates and "sends" an email payload. There is no SMTP transport
// wired; delivery is a structured log line, which keeps the job lifecycle
// (validation failures, retries) fully exercisable.
type Email struct {
	log logx.Logger
}

func NewEmail(log logx.Logger) *Email {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Email{log: log}
}

func (e *Email) Run(_ context.Context, j *job.Job) error {
	var p EmailPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return fmt.Errorf("email payload: %w", err)
	}
	if strings.TrimSpace(p.To) == "" {
		return fmt.Errorf("email payload: missing recipient")
	}
	e.log.Info("email dispatched",
		logx.String("job_id", j.ID),
		logx.String("to", p.To),
		logx.String("subject", p.Subject),
	)
	return nil
}
