// Package mailer delivers rendered outbox notifications.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/outbox"
	"go.uber.org/zap"
)

const (
	// DefaultBrevoEndpoint is the transactional email endpoint of the Brevo API.
	DefaultBrevoEndpoint = "https://api.brevo.com/v3/smtp/email"
	defaultTimeout       = 10 * time.Second
	maxErrorBodyBytes    = 2048
)

var ErrInvalidSenderConfig = errors.New("invalid sender config")

// BrevoConfig configures BrevoSender.
type BrevoConfig struct {
	APIKey      string
	SenderEmail string
	SenderName  string
	Endpoint    string
	Timeout     time.Duration
}

// BrevoSender implements outbox.Sender over the Brevo HTTP API.
type BrevoSender struct {
	config BrevoConfig
	client *http.Client
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoPayload struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

// NewBrevoSender validates config. A nil client gets one with config.Timeout.
func NewBrevoSender(config BrevoConfig, client *http.Client) (*BrevoSender, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("%w: api key is empty", ErrInvalidSenderConfig)
	}
	if !strings.Contains(config.SenderEmail, "@") {
		return nil, fmt.Errorf("%w: sender email %q", ErrInvalidSenderConfig, config.SenderEmail)
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultBrevoEndpoint
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &BrevoSender{config: config, client: client}, nil
}

// Send posts one email. Any non-201 answer is a delivery failure the worker may retry.
func (sender *BrevoSender) Send(ctx context.Context, to string, subject string, htmlBody string) error {
	if !strings.Contains(to, "@") {
		return fmt.Errorf("%w: invalid recipient %q", outbox.ErrDelivery, to)
	}
	body, err := json.Marshal(brevoPayload{
		Sender:      brevoContact{Email: sender.config.SenderEmail, Name: sender.config.SenderName},
		To:          []brevoContact{{Email: to, Name: to[:strings.Index(to, "@")]}},
		Subject:     subject,
		HTMLContent: htmlBody,
	})
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", outbox.ErrDelivery, err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, sender.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", outbox.ErrDelivery, err)
	}
	request.Header.Set("accept", "application/json")
	request.Header.Set("api-key", sender.config.APIKey)
	request.Header.Set("content-type", "application/json")

	response, err := sender.client.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", outbox.ErrDelivery, err)
	}
	defer response.Body.Close()
	responseBody, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	if response.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: brevo status %d: %s", outbox.ErrDelivery, response.StatusCode, strings.TrimSpace(string(responseBody)))
	}
	return nil
}

// LogSender logs notifications instead of sending them. The daemon uses it when no email
// provider is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender returns a LogSender; a nil logger discards output.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (sender *LogSender) Send(ctx context.Context, to string, subject string, htmlBody string) error {
	sender.logger.Info("notification not sent: email provider disabled",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(htmlBody)),
	)
	return nil
}
