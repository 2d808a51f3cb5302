package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/outbox"
	"github.com/MarkoPoloResearchLab/tutorbook/pkg/wallet"
	"github.com/shopspring/decimal"
)

type journalKey struct{}

// journal collects undo steps for one stub transaction.
type journal struct {
	mu    sync.Mutex
	undos []func()
}

func (entries *journal) record(undo func()) {
	entries.mu.Lock()
	defer entries.mu.Unlock()
	entries.undos = append(entries.undos, undo)
}

func (entries *journal) rollback() {
	entries.mu.Lock()
	defer entries.mu.Unlock()
	for index := len(entries.undos) - 1; index >= 0; index-- {
		entries.undos[index]()
	}
	entries.undos = nil
}

func recordUndo(ctx context.Context, undo func()) {
	if entries, ok := ctx.Value(journalKey{}).(*journal); ok {
		entries.record(undo)
	}
}

type stubStore struct {
	mu       sync.Mutex
	bookings map[string]Booking
	nextID   int
	casCalls int
	getHook  func()
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{bookings: make(map[string]Booking)}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if _, joined := ctx.Value(journalKey{}).(*journal); joined {
		return fn(ctx, store)
	}
	entries := &journal{}
	if err := fn(context.WithValue(ctx, journalKey{}, entries), store); err != nil {
		entries.rollback()
		return err
	}
	return nil
}

func (store *stubStore) Insert(ctx context.Context, booking Booking) (Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.nextID++
	booking.ID = fmt.Sprintf("booking-%d", store.nextID)
	store.bookings[booking.ID] = booking
	recordUndo(ctx, func() {
		store.mu.Lock()
		defer store.mu.Unlock()
		delete(store.bookings, booking.ID)
	})
	return booking, nil
}

func (store *stubStore) Get(ctx context.Context, id string) (Booking, error) {
	store.mu.Lock()
	booking, ok := store.bookings[id]
	hook := store.getHook
	store.mu.Unlock()
	if hook != nil {
		hook()
	}
	if !ok {
		return Booking{}, fmt.Errorf("%w: booking %s", ErrNotFound, id)
	}
	return booking, nil
}

func (store *stubStore) CompareAndSwap(ctx context.Context, id string, from Status, change Change) (Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.casCalls++
	booking, ok := store.bookings[id]
	if !ok {
		return Booking{}, fmt.Errorf("%w: booking %s", ErrNotFound, id)
	}
	if booking.Status != from {
		return Booking{}, fmt.Errorf("%w: booking %s is %s", ErrInvalidStateTransition, id, booking.Status)
	}
	previous := booking
	booking.Status = change.To
	booking.UpdatedAt = change.At
	if change.MeetingLink != nil {
		booking.MeetingLink = change.MeetingLink
	}
	if change.CancelReason != nil {
		booking.CancelReason = change.CancelReason
	}
	if change.ConfirmationDeadline != nil {
		booking.ConfirmationDeadline = change.ConfirmationDeadline
	}
	store.bookings[id] = booking
	recordUndo(ctx, func() {
		store.mu.Lock()
		defer store.mu.Unlock()
		store.bookings[id] = previous
	})
	return booking, nil
}

func (store *stubStore) list(match func(Booking) bool, limit int) []Booking {
	store.mu.Lock()
	defer store.mu.Unlock()
	var out []Booking
	for _, booking := range store.bookings {
		if match(booking) {
			out = append(out, booking)
		}
	}
	sort.Slice(out, func(left, right int) bool { return out[left].ID < out[right].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (store *stubStore) ListCreatedBefore(ctx context.Context, status Status, before time.Time, limit int) ([]Booking, error) {
	return store.list(func(booking Booking) bool {
		return booking.Status == status && booking.CreatedAt.Before(before)
	}, limit), nil
}

func (store *stubStore) ListEndedBefore(ctx context.Context, status Status, before time.Time, limit int) ([]Booking, error) {
	return store.list(func(booking Booking) bool {
		return booking.Status == status && !booking.EndTime.After(before)
	}, limit), nil
}

func (store *stubStore) ListConfirmationDue(ctx context.Context, now time.Time, limit int) ([]Booking, error) {
	return store.list(func(booking Booking) bool {
		return booking.Status == StatusPendingConfirmation && booking.ConfirmationDeadline != nil && !booking.ConfirmationDeadline.After(now)
	}, limit), nil
}

func (store *stubStore) mustBooking(test *testing.T, id string) Booking {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	booking, ok := store.bookings[id]
	if !ok {
		test.Fatalf("booking %s not found", id)
	}
	return booking
}

type balance struct {
	available decimal.Decimal
	pending   decimal.Decimal
}

// memoryLedger mirrors the wallet guard rules in memory.
type memoryLedger struct {
	mu        sync.Mutex
	balances  map[string]balance
	calls     []string
	failNext  error
	lockCalls int
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{balances: make(map[string]balance)}
}

func (ledger *memoryLedger) fund(userID string, available string) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	ledger.balances[userID] = balance{available: decimal.RequireFromString(available)}
}

func (ledger *memoryLedger) balanceOf(userID string) balance {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	current, ok := ledger.balances[userID]
	if !ok {
		return balance{available: decimal.Zero, pending: decimal.Zero}
	}
	return current
}

func (ledger *memoryLedger) apply(ctx context.Context, userID string, availableDelta decimal.Decimal, pendingDelta decimal.Decimal, guardError error) error {
	current := ledger.balances[userID]
	next := balance{available: current.available.Add(availableDelta), pending: current.pending.Add(pendingDelta)}
	if next.available.IsNegative() || next.pending.IsNegative() {
		return guardError
	}
	ledger.balances[userID] = next
	recordUndo(ctx, func() {
		ledger.mu.Lock()
		defer ledger.mu.Unlock()
		ledger.balances[userID] = current
	})
	return nil
}

func (ledger *memoryLedger) takeFailure() error {
	err := ledger.failNext
	ledger.failNext = nil
	return err
}

func (ledger *memoryLedger) LockFunds(ctx context.Context, userID wallet.UserID, referenceID wallet.ReferenceID, amount wallet.PositiveAmount) (wallet.Transaction, error) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	ledger.lockCalls++
	if err := ledger.takeFailure(); err != nil {
		return wallet.Transaction{}, err
	}
	if err := ledger.apply(ctx, userID.String(), amount.Decimal().Neg(), amount.Decimal(), wallet.ErrInsufficientFunds); err != nil {
		return wallet.Transaction{}, err
	}
	ledger.calls = append(ledger.calls, "lock:"+referenceID.String()+":"+amount.String())
	return wallet.Transaction{Type: wallet.TransactionPaymentLock, Amount: amount.Decimal(), ReferenceID: referenceID.String()}, nil
}

func (ledger *memoryLedger) ReleaseFunds(ctx context.Context, payerID wallet.UserID, payeeID wallet.UserID, referenceID wallet.ReferenceID, amount wallet.PositiveAmount, rate wallet.CommissionRate) (wallet.Transaction, error) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if err := ledger.takeFailure(); err != nil {
		return wallet.Transaction{}, err
	}
	if err := ledger.apply(ctx, payerID.String(), decimal.Zero, amount.Decimal().Neg(), wallet.ErrInsufficientPendingFunds); err != nil {
		return wallet.Transaction{}, err
	}
	if err := ledger.apply(ctx, payeeID.String(), rate.PayeeShare(amount), decimal.Zero, wallet.ErrBalanceGuard); err != nil {
		return wallet.Transaction{}, err
	}
	ledger.calls = append(ledger.calls, "release:"+referenceID.String()+":"+amount.String())
	return wallet.Transaction{Type: wallet.TransactionPaymentRelease, Amount: amount.Decimal(), ReferenceID: referenceID.String()}, nil
}

func (ledger *memoryLedger) Refund(ctx context.Context, userID wallet.UserID, referenceID wallet.ReferenceID, amount wallet.PositiveAmount) (wallet.Transaction, error) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if err := ledger.takeFailure(); err != nil {
		return wallet.Transaction{}, err
	}
	if err := ledger.apply(ctx, userID.String(), amount.Decimal(), amount.Decimal().Neg(), wallet.ErrInsufficientPendingFunds); err != nil {
		return wallet.Transaction{}, err
	}
	ledger.calls = append(ledger.calls, "refund:"+referenceID.String()+":"+amount.String())
	return wallet.Transaction{Type: wallet.TransactionRefund, Amount: amount.Decimal(), ReferenceID: referenceID.String()}, nil
}

func (ledger *memoryLedger) callLog() []string {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	return append([]string(nil), ledger.calls...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []outbox.Message
	err      error
}

func (notifier *recordingNotifier) Enqueue(ctx context.Context, message outbox.Message) error {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if notifier.err != nil {
		return notifier.err
	}
	notifier.messages = append(notifier.messages, message)
	index := len(notifier.messages) - 1
	recordUndo(ctx, func() {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		notifier.messages = notifier.messages[:index]
	})
	return nil
}

func (notifier *recordingNotifier) templatesFor(recipient string) []string {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	var out []string
	for _, message := range notifier.messages {
		if message.Recipient() == recipient {
			out = append(out, message.Template())
		}
	}
	return out
}

func (notifier *recordingNotifier) count() int {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	return len(notifier.messages)
}

type stubCatalog struct {
	offerings map[string]Offering
}

func (catalog stubCatalog) Offering(ctx context.Context, teacherID string, subjectID string) (Offering, error) {
	offering, ok := catalog.offerings[teacherID+"/"+subjectID]
	if !ok {
		return Offering{}, fmt.Errorf("%w: teacher %s does not offer %s", ErrNotFound, teacherID, subjectID)
	}
	return offering, nil
}

type stubDirectory struct {
	parents  map[string]string
	contacts map[string]Contact
}

func (directory stubDirectory) ParentOf(ctx context.Context, studentID string) (string, error) {
	parentID, ok := directory.parents[studentID]
	if !ok {
		return "", fmt.Errorf("%w: student %s", ErrNotFound, studentID)
	}
	return parentID, nil
}

func (directory stubDirectory) ContactOf(ctx context.Context, userID string) (Contact, error) {
	contact, ok := directory.contacts[userID]
	if !ok {
		return Contact{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return contact, nil
}

type fixedCommission struct {
	rate wallet.CommissionRate
}

func (policy *fixedCommission) CurrentRate(ctx context.Context) (wallet.CommissionRate, error) {
	return policy.rate, nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
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

const (
	parentID     = "parent-1"
	teacherID    = "teacher-1"
	studentID    = "student-1"
	subjectID    = "math"
	parentEmail  = "parent@example.com"
	teacherEmail = "teacher@example.com"
)

type fixture struct {
	service    *Service
	store      *stubStore
	ledger     *memoryLedger
	notifier   *recordingNotifier
	commission *fixedCommission
	clock      *manualClock
	parent     Actor
	teacher    Actor
	admin      Actor
}

func newFixture(test *testing.T, options ...ServiceOption) *fixture {
	test.Helper()
	clock := &manualClock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	store := newStubStore(test)
	ledger := newMemoryLedger()
	notifier := &recordingNotifier{}
	commission := &fixedCommission{rate: mustRate(test, "0.15")}
	catalog := stubCatalog{offerings: map[string]Offering{
		teacherID + "/" + subjectID: {TeacherID: teacherID, SubjectID: subjectID, HourlyRate: decimal.RequireFromString("1000")},
		teacherID + "/free":         {TeacherID: teacherID, SubjectID: "free", HourlyRate: decimal.Zero},
	}}
	directory := stubDirectory{
		parents: map[string]string{studentID: parentID, "student-2": "parent-2"},
		contacts: map[string]Contact{
			parentID:  {UserID: parentID, Email: parentEmail, FullName: "Amina Parent"},
			teacherID: {UserID: teacherID, Email: teacherEmail, FullName: "Otieno Teacher"},
		},
	}
	service, err := NewService(store, ledger, notifier, catalog, directory, commission, clock.Now, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return &fixture{
		service:    service,
		store:      store,
		ledger:     ledger,
		notifier:   notifier,
		commission: commission,
		clock:      clock,
		parent:     mustActor(test, parentID, RoleParent),
		teacher:    mustActor(test, teacherID, RoleTeacher),
		admin:      mustActor(test, "admin-1", RoleAdmin),
	}
}

// create books a one hour math session starting a day from now.
func (f *fixture) create(test *testing.T) Booking {
	test.Helper()
	start := f.clock.Now().Add(24 * time.Hour)
	booking, err := f.service.Create(context.Background(), f.parent, CreateRequest{
		TeacherID: teacherID,
		StudentID: studentID,
		SubjectID: subjectID,
		StartTime: start,
		EndTime:   start.Add(time.Hour),
	})
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	return booking
}

func (f *fixture) scheduled(test *testing.T) Booking {
	test.Helper()
	f.ledger.fund(parentID, "1000")
	booking := f.create(test)
	if _, err := f.service.Approve(context.Background(), f.teacher, booking.ID, ""); err != nil {
		test.Fatalf("approve: %v", err)
	}
	if _, err := f.service.Pay(context.Background(), f.parent, booking.ID); err != nil {
		test.Fatalf("pay: %v", err)
	}
	return f.store.mustBooking(test, booking.ID)
}

func (f *fixture) awaitingConfirmation(test *testing.T) Booking {
	test.Helper()
	booking := f.scheduled(test)
	f.clock.Advance(26 * time.Hour)
	updated, err := f.service.MarkComplete(context.Background(), f.teacher, booking.ID)
	if err != nil {
		test.Fatalf("mark complete: %v", err)
	}
	return updated
}

func mustActor(test *testing.T, userID string, role Role) Actor {
	test.Helper()
	actor, err := NewActor(userID, role)
	if err != nil {
		test.Fatalf("actor: %v", err)
	}
	return actor
}

func mustRate(test *testing.T, raw string) wallet.CommissionRate {
	test.Helper()
	rate, err := wallet.ParseCommissionRate(raw)
	if err != nil {
		test.Fatalf("rate: %v", err)
	}
	return rate
}

func assertDecimal(test *testing.T, label string, got decimal.Decimal, want string) {
	test.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		test.Fatalf("%s: expected %s, got %s", label, want, got.String())
	}
}
