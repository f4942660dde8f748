// Package notify implements the notification stage: a summary email per
// processed document, delivered through the Resend HTTP API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openoverheid/docpipe/internal/envelope"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/internal/pipeline"
	"github.com/openoverheid/docpipe/pkg/logger"
)

const defaultEndpoint = "https://api.resend.com/emails"

type Config struct {
	APIKey   string `yaml:"apiKey"`
	To       string `yaml:"to"`
	From     string `yaml:"from"`
	Endpoint string `yaml:"endpoint"`
}

// Email is one outbound message.
type Email struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

// Sender is the delivery seam; Send returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, email Email) (string, error)
}

// ResendSender delivers through the Resend REST API.
type ResendSender struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

func NewResendSender(cfg Config) *ResendSender {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &ResendSender{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *ResendSender) Send(ctx context.Context, email Email) (string, error) {
	body, err := json.Marshal(email)
	if err != nil {
		return "", fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("email delivery failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return result.ID, nil
}

type Stage struct {
	sender Sender
	to     string
	from   string
	ledger ledger.Ledger
	log    logger.Logger
}

func New(sender Sender, cfg Config, led ledger.Ledger, log logger.Logger) *Stage {
	from := cfg.From
	if from == "" {
		from = "onboarding@resend.dev"
	}
	return &Stage{
		sender: sender,
		to:     cfg.To,
		from:   from,
		ledger: led,
		log:    log.Named(pipeline.StageNotification),
	}
}

func (s *Stage) Name() string { return pipeline.StageNotification }

func (s *Stage) Process(ctx context.Context, env *envelope.Envelope) (pipeline.Outcome, error) {
	docID := env.DocumentID()
	s.upsert(ctx, docID, ledger.StatusStarted, nil)

	if s.to == "" {
		s.log.Error("No notification address configured, cannot send email")
		s.upsert(ctx, docID, ledger.StatusSkipped, map[string]any{"reason": "no_recipient"})
		return pipeline.Discard("no notification recipient configured"), nil
	}

	source := "unknown"
	if env.Document != nil && env.Document.Source != "" {
		source = env.Document.Source
	}
	subject := fmt.Sprintf("New message from pipeline (source: %s)", source)

	id, err := s.sender.Send(ctx, Email{
		From:    s.from,
		To:      []string{s.to},
		Subject: subject,
		HTML:    htmlBody(subject, env),
		Text:    textBody(subject, env),
	})
	if err != nil {
		s.log.Error("Failed to send notification email",
			logger.String("documentId", docID),
			logger.Error(err),
		)
		s.upsert(ctx, docID, ledger.StatusError, map[string]any{"reason": err.Error()})
		return pipeline.Discard(fmt.Sprintf("notification failed: %v", err)), nil
	}

	s.log.Info("Notification email sent",
		logger.String("documentId", docID),
		logger.String("emailId", id),
	)
	s.upsert(ctx, docID, ledger.StatusOK, map[string]any{"email_id": id})
	return pipeline.Forward(env), nil
}

func prettyEnvelope(env *envelope.Envelope) string {
	body, err := envelope.Encode(env)
	if err != nil {
		return fmt.Sprintf("%+v", env)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return string(body)
	}
	return pretty.String()
}

func htmlBody(subject string, env *envelope.Envelope) string {
	return fmt.Sprintf(
		`<h2>New pipeline message</h2>
<p><strong>Subject:</strong> %s</p>
<pre style="background:#f6f8fa;padding:12px;border-radius:6px;white-space:pre-wrap;">%s</pre>`,
		subject, prettyEnvelope(env),
	)
}

func textBody(subject string, env *envelope.Envelope) string {
	return fmt.Sprintf("Subject: %s\n\n%s", subject, prettyEnvelope(env))
}

func (s *Stage) upsert(ctx context.Context, docID, status string, extra map[string]any) {
	if docID == "" || s.ledger == nil {
		return
	}
	if _, err := s.ledger.Upsert(ctx, docID, pipeline.StageNotification, status, extra); err != nil {
		s.log.Error("Failed to update status ledger",
			logger.String("documentId", docID),
			logger.Error(err),
		)
	}
}
