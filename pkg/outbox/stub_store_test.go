package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

type stubStore struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	nextID     int
	claimMiss  map[string]bool
	claimedAt  map[string]time.Time
	listError  error
	claimCalls int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{entries: make(map[string]*Entry), claimMiss: make(map[string]bool), claimedAt: make(map[string]time.Time)}
}

func (store *stubStore) Insert(ctx context.Context, message Message, at time.Time) (Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.nextID++
	entry := &Entry{
		ID:        fmt.Sprintf("outbox-%d", store.nextID),
		Recipient: message.Recipient(),
		Subject:   message.Subject(),
		Template:  message.Template(),
		Payload:   message.Payload(),
		Status:    StatusPending,
		CreatedAt: at.Add(time.Duration(store.nextID) * time.Millisecond),
	}
	store.entries[entry.ID] = entry
	return *entry, nil
}

func (store *stubStore) ListDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.listError != nil {
		return nil, store.listError
	}
	var due []Entry
	for _, entry := range store.entries {
		if entry.Status != StatusPending {
			continue
		}
		if entry.NextRetryAt != nil && entry.NextRetryAt.After(now) {
			continue
		}
		due = append(due, *entry)
	}
	sort.Slice(due, func(left, right int) bool { return due[left].CreatedAt.Before(due[right].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (store *stubStore) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.claimCalls++
	if store.claimMiss[id] {
		return false, nil
	}
	entry, ok := store.entries[id]
	if !ok || entry.Status != StatusPending {
		return false, nil
	}
	entry.Status = StatusProcessing
	store.claimedAt[id] = at
	return true, nil
}

func (store *stubStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	entry, ok := store.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	sentAt := at
	entry.Status = StatusSent
	entry.SentAt = &sentAt
	return nil
}

func (store *stubStore) MarkRetry(ctx context.Context, id string, attempts int, nextRetryAt time.Time, lastError string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	entry, ok := store.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	retryAt := nextRetryAt
	message := lastError
	entry.Status = StatusPending
	entry.Attempts = attempts
	entry.NextRetryAt = &retryAt
	entry.LastError = &message
	return nil
}

func (store *stubStore) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	entry, ok := store.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	message := lastError
	entry.Status = StatusFailed
	entry.Attempts = attempts
	entry.LastError = &message
	return nil
}

func (store *stubStore) ReclaimStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var reclaimed int64
	for id, entry := range store.entries {
		if entry.Status == StatusProcessing && store.claimedAt[id].Before(claimedBefore) {
			entry.Status = StatusPending
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (store *stubStore) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	counts := make(map[Status]int64)
	for _, entry := range store.entries {
		counts[entry.Status]++
	}
	return counts, nil
}

func (store *stubStore) snapshot(test *testing.T, id string) Entry {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	entry, ok := store.entries[id]
	if !ok {
		test.Fatalf("entry %s not found", id)
	}
	return *entry
}

type recordingSender struct {
	mu       sync.Mutex
	failures int
	failWith error
	sent     []sentMessage
	calls    int
}

type sentMessage struct {
	to      string
	subject string
	body    string
}

func (sender *recordingSender) Send(ctx context.Context, to string, subject string, htmlBody string) error {
	sender.mu.Lock()
	defer sender.mu.Unlock()
	sender.calls++
	if sender.failures != 0 {
		if sender.failures > 0 {
			sender.failures--
		}
		return sender.failWith
	}
	sender.sent = append(sender.sent, sentMessage{to: to, subject: subject, body: htmlBody})
	return nil
}

func (sender *recordingSender) callCount() int {
	sender.mu.Lock()
	defer sender.mu.Unlock()
	return sender.calls
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (clock *manualClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *manualClock) Advance(duration time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(duration)
}

func mustMessage(test *testing.T, template string) Message {
	test.Helper()
	message, err := NewMessage("parent@example.com", "Booking update", template, Payload{"name": "Amina"})
	if err != nil {
		test.Fatalf("new message: %v", err)
	}
	return message
}

func mustRegistry(test *testing.T, ids ...string) *TemplateRegistry {
	test.Helper()
	registry := NewTemplateRegistry()
	for _, id := range ids {
		templateID := id
		if err := registry.Register(templateID, func(payload Payload) (string, error) {
			return "<p>" + templateID + " for " + payload["name"] + "</p>", nil
		}); err != nil {
			test.Fatalf("register %s: %v", templateID, err)
		}
	}
	return registry
}

func mustEnqueue(test *testing.T, store *stubStore, clock *manualClock, template string) Entry {
	test.Helper()
	entry, err := store.Insert(context.Background(), mustMessage(test, template), clock.Now())
	if err != nil {
		test.Fatalf("insert: %v", err)
	}
	return entry
}

func mustWorker(test *testing.T, store Store, registry *TemplateRegistry, sender Sender, clock *manualClock, options ...WorkerOption) *Worker {
	test.Helper()
	worker, err := NewWorker(store, registry, sender, clock.Now, nil, options...)
	if err != nil {
		test.Fatalf("new worker: %v", err)
	}
	return worker
}
