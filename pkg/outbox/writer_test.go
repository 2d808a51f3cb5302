package outbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWriterEnqueuesPendingEntry(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := newManualClock()
	writer, err := NewWriter(store, clock.Now)
	if err != nil {
		test.Fatalf("new writer: %v", err)
	}
	if err := writer.Enqueue(context.Background(), mustMessage(test, templateApproved)); err != nil {
		test.Fatalf("enqueue: %v", err)
	}
	entry := store.snapshot(test, "outbox-1")
	if entry.Status != StatusPending || entry.Attempts != 0 || entry.Template != templateApproved {
		test.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Payload["name"] != "Amina" {
		test.Fatalf("expected payload to be stored, got %v", entry.Payload)
	}
}

func TestWriterWrapsQueueErrors(test *testing.T) {
	test.Parallel()
	queueFailure := errors.New("tx aborted")
	writer, err := NewWriter(failingQueue{err: queueFailure}, time.Now)
	if err != nil {
		test.Fatalf("new writer: %v", err)
	}
	if err := writer.Enqueue(context.Background(), mustMessage(test, templateApproved)); !errors.Is(err, queueFailure) {
		test.Fatalf("expected queue failure, got %v", err)
	}
	if _, err := NewWriter(nil, time.Now); !errors.Is(err, ErrInvalidWorkerConfig) {
		test.Fatalf("expected ErrInvalidWorkerConfig, got %v", err)
	}
}

func TestNewMessageValidation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		recipient string
		subject   string
		template  string
	}{
		{name: "blank recipient", recipient: " ", subject: "s", template: "t"},
		{name: "blank subject", recipient: "a@b.c", subject: "", template: "t"},
		{name: "blank template", recipient: "a@b.c", subject: "s", template: "\n"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if _, err := NewMessage(testCase.recipient, testCase.subject, testCase.template, nil); !errors.Is(err, ErrInvalidMessage) {
				test.Fatalf("expected ErrInvalidMessage, got %v", err)
			}
		})
	}

	source := Payload{"teacher": "Otieno"}
	message, err := NewMessage("a@b.c", "subject", "booking_requested", source)
	if err != nil {
		test.Fatalf("new message: %v", err)
	}
	source["teacher"] = "changed"
	if message.Payload()["teacher"] != "Otieno" {
		test.Fatalf("expected payload to be copied")
	}
}

func TestTemplateRegistry(test *testing.T) {
	test.Parallel()
	registry := mustRegistry(test, "booking_requested", "booking_approved")
	body, err := registry.Render("booking_requested", Payload{"name": "Wanjiru"})
	if err != nil {
		test.Fatalf("render: %v", err)
	}
	if body != "<p>booking_requested for Wanjiru</p>" {
		test.Fatalf("unexpected body %q", body)
	}
	if _, err := registry.Render("booking_missing", nil); !errors.Is(err, ErrUnknownTemplate) {
		test.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
	if err := registry.Register("booking_approved", func(Payload) (string, error) { return "", nil }); !errors.Is(err, ErrDuplicateTemplate) {
		test.Fatalf("expected ErrDuplicateTemplate, got %v", err)
	}
	if err := registry.Register("booking_nil", nil); !errors.Is(err, ErrInvalidTemplateEntry) {
		test.Fatalf("expected ErrInvalidTemplateEntry, got %v", err)
	}
	ids := registry.IDs()
	if len(ids) != 2 || ids[0] != "booking_approved" || ids[1] != "booking_requested" {
		test.Fatalf("unexpected ids %v", ids)
	}
}

func TestParseStatus(test *testing.T) {
	test.Parallel()
	for _, status := range []Status{StatusPending, StatusProcessing, StatusSent, StatusFailed} {
		parsed, err := ParseStatus(status.String())
		if err != nil || parsed != status {
			test.Fatalf("parse %s: %v", status, err)
		}
	}
	if _, err := ParseStatus("QUEUED"); !errors.Is(err, ErrInvalidStatus) {
		test.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

type failingQueue struct {
	err error
}

func (queue failingQueue) Insert(ctx context.Context, message Message, at time.Time) (Entry, error) {
	return Entry{}, queue.err
}
