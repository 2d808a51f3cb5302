// Package outbox implements the durable notification queue: producers enqueue entries inside
// their own unit of work and a polling Worker claims, renders and delivers them.
package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status is the delivery state of an outbox entry.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
)

// ParseStatus validates a stored status.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// String returns the stored representation.
func (status Status) String() string {
	return string(status)
}

// Payload carries the template variables of a notification.
type Payload map[string]string

// Message is a validated notification ready to be enqueued.
type Message struct {
	recipient string
	subject   string
	template  string
	payload   Payload
}

// NewMessage validates recipient, subject and template identifier.
func NewMessage(recipient string, subject string, template string, payload Payload) (Message, error) {
	trimmedRecipient := strings.TrimSpace(recipient)
	if trimmedRecipient == "" {
		return Message{}, fmt.Errorf("%w: empty recipient", ErrInvalidMessage)
	}
	trimmedTemplate := strings.TrimSpace(template)
	if trimmedTemplate == "" {
		return Message{}, fmt.Errorf("%w: empty template", ErrInvalidMessage)
	}
	trimmedSubject := strings.TrimSpace(subject)
	if trimmedSubject == "" {
		return Message{}, fmt.Errorf("%w: empty subject", ErrInvalidMessage)
	}
	copied := make(Payload, len(payload))
	for key, value := range payload {
		copied[key] = value
	}
	return Message{
		recipient: trimmedRecipient,
		subject:   trimmedSubject,
		template:  trimmedTemplate,
		payload:   copied,
	}, nil
}

// Recipient returns the delivery address.
func (message Message) Recipient() string { return message.recipient }

// Subject returns the email subject line.
func (message Message) Subject() string { return message.subject }

// Template returns the template identifier.
func (message Message) Template() string { return message.template }

// Payload returns the template variables.
func (message Message) Payload() Payload { return message.payload }

// Entry is a stored outbox row.
type Entry struct {
	ID          string
	Recipient   string
	Subject     string
	Template    string
	Payload     Payload
	Status      Status
	Attempts    int
	NextRetryAt *time.Time
	LastError   *string
	SentAt      *time.Time
	CreatedAt   time.Time
}

// Queue is the producer-side persistence contract. Implementations join the caller's
// transaction when one is carried by ctx.
type Queue interface {
	Insert(ctx context.Context, message Message, at time.Time) (Entry, error)
}

// Store is the worker-side persistence contract.
type Store interface {
	// ListDue returns PENDING entries whose next retry is unset or not after now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	// Claim moves an entry from PENDING to PROCESSING and reports whether this caller won.
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkRetry(ctx context.Context, id string, attempts int, nextRetryAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, attempts int, lastError string) error
	// ReclaimStale returns PROCESSING entries last touched before claimedBefore to PENDING
	// and reports how many moved.
	ReclaimStale(ctx context.Context, claimedBefore time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

// Sender delivers a rendered notification.
type Sender interface {
	Send(ctx context.Context, to string, subject string, htmlBody string) error
}

// Stats summarises the queue for operators.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
}

// RunResult counts what one poll cycle did.
type RunResult struct {
	Due     int
	Skipped int
	Sent    int
	Retried int
	Failed  int
}
