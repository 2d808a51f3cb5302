package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Service drives the booking lifecycle. Every transition, its ledger call and its outbox
// rows run inside one Store.WithTx unit of work.
type Service struct {
	store              Store
	ledger             Ledger
	notifier           Notifier
	catalog            Catalog
	directory          Directory
	commission         CommissionPolicy
	nowFn              func() time.Time
	logger             TransitionLogger
	approvalDeadline   time.Duration
	confirmationWindow time.Duration
}

// NewService wires a Service. All collaborators are required.
func NewService(store Store, ledger Ledger, notifier Notifier, catalog Catalog, directory Directory, commission CommissionPolicy, now func() time.Time, options ...ServiceOption) (*Service, error) {
	switch {
	case store == nil:
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	case ledger == nil:
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	case notifier == nil:
		return nil, fmt.Errorf("%w: notifier dependency is nil", ErrInvalidServiceConfig)
	case catalog == nil:
		return nil, fmt.Errorf("%w: catalog dependency is nil", ErrInvalidServiceConfig)
	case directory == nil:
		return nil, fmt.Errorf("%w: directory dependency is nil", ErrInvalidServiceConfig)
	case commission == nil:
		return nil, fmt.Errorf("%w: commission policy is nil", ErrInvalidServiceConfig)
	case now == nil:
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:              store,
		ledger:             ledger,
		notifier:           notifier,
		catalog:            catalog,
		directory:          directory,
		commission:         commission,
		nowFn:              now,
		approvalDeadline:   defaultApprovalDeadline,
		confirmationWindow: defaultConfirmationWindow,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Get returns a booking the actor is party to.
func (service *Service) Get(ctx context.Context, actor Actor, id string) (Booking, error) {
	booking, err := service.store.Get(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if err := authorizeParty(actor, booking); err != nil {
		return Booking{}, err
	}
	return booking, nil
}

// Create records a parent's request for a session. Price is the teacher's hourly rate times
// the session length; the current platform commission is snapshotted onto the row.
func (service *Service) Create(ctx context.Context, actor Actor, request CreateRequest) (Booking, error) {
	var created Booking
	operationError := service.create(ctx, actor, request, &created)
	service.logTransition(ctx, TransitionLog{
		Operation: operationCreate,
		BookingID: created.ID,
		Actor:     actor,
		To:        StatusPendingTeacherApproval,
		Error:     operationError,
	})
	return created, operationError
}

func (service *Service) create(ctx context.Context, actor Actor, request CreateRequest, created *Booking) error {
	if actor.Role != RoleParent {
		return fmt.Errorf("%w: only parents create bookings", ErrForbidden)
	}
	teacherID := strings.TrimSpace(request.TeacherID)
	studentID := strings.TrimSpace(request.StudentID)
	subjectID := strings.TrimSpace(request.SubjectID)
	if teacherID == "" || studentID == "" || subjectID == "" {
		return fmt.Errorf("%w: teacher, student and subject are required", ErrInvalidInput)
	}
	nowUTC := service.now()
	if !request.StartTime.Before(request.EndTime) {
		return fmt.Errorf("%w: start must precede end", ErrInvalidTimeRange)
	}
	if request.StartTime.Before(nowUTC) {
		return fmt.Errorf("%w: start is in the past", ErrInvalidTimeRange)
	}
	parentID, err := service.directory.ParentOf(ctx, studentID)
	if err != nil {
		return err
	}
	if parentID != actor.UserID {
		return fmt.Errorf("%w: student %s does not belong to parent", ErrForbidden, studentID)
	}
	offering, err := service.catalog.Offering(ctx, teacherID, subjectID)
	if err != nil {
		return err
	}
	rate, err := service.commission.CurrentRate(ctx)
	if err != nil {
		return err
	}
	booking := Booking{
		TeacherID:      teacherID,
		ParentID:       parentID,
		StudentID:      studentID,
		SubjectID:      subjectID,
		StartTime:      request.StartTime.UTC(),
		EndTime:        request.EndTime.UTC(),
		Price:          sessionPrice(offering.HourlyRate, request.EndTime.Sub(request.StartTime)),
		CommissionRate: rate.Decimal(),
		Status:         StatusPendingTeacherApproval,
		CreatedAt:      nowUTC,
		UpdatedAt:      nowUTC,
	}
	return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		inserted, err := transactionStore.Insert(ctx, booking)
		if err != nil {
			return err
		}
		if err := service.notify(ctx, inserted, TemplateRequested, "", inserted.TeacherID); err != nil {
			return err
		}
		*created = inserted
		return nil
	})
}

// transition is the single path every status change takes: load, authorize, match the
// expected source status, check the time guard, then compare-and-swap. The effect runs on
// the swapped row inside the same unit of work.
type transition struct {
	operation string
	from      []Status
	to        Status
	authorize func(actor Actor, booking Booking) error
	guard     func(booking Booking, now time.Time) error
	change    func(booking Booking, now time.Time) Change
	effect    func(ctx context.Context, before Booking, after Booking) error
}

func (service *Service) apply(ctx context.Context, actor Actor, bookingID string, rule transition) (Booking, error) {
	var (
		updated Booking
		from    Status
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		from = current.Status
		if err := rule.authorize(actor, current); err != nil {
			return err
		}
		if !statusIn(current.Status, rule.from) || !CanTransition(current.Status, rule.to) {
			return fmt.Errorf("%w: %s cannot %s", ErrInvalidStateTransition, current.Status, rule.operation)
		}
		nowUTC := service.now()
		if rule.guard != nil {
			if err := rule.guard(current, nowUTC); err != nil {
				return err
			}
		}
		change := Change{To: rule.to, At: nowUTC}
		if rule.change != nil {
			change = rule.change(current, nowUTC)
			change.To = rule.to
			change.At = nowUTC
		}
		swapped, err := transactionStore.CompareAndSwap(ctx, current.ID, current.Status, change)
		if err != nil {
			return err
		}
		if rule.effect != nil {
			if err := rule.effect(ctx, current, swapped); err != nil {
				return err
			}
		}
		updated = swapped
		return nil
	})
	service.logTransition(ctx, TransitionLog{
		Operation: rule.operation,
		BookingID: bookingID,
		Actor:     actor,
		From:      from,
		To:        rule.to,
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	return updated, nil
}

func (service *Service) now() time.Time {
	return service.nowFn().UTC()
}

func (service *Service) logTransition(ctx context.Context, entry TransitionLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogTransition(ctx, entry)
}

func sessionPrice(hourlyRate decimal.Decimal, duration time.Duration) decimal.Decimal {
	hours := decimal.NewFromInt(int64(duration / time.Minute)).Div(decimal.NewFromInt(60))
	return hourlyRate.Mul(hours).Round(pricePrecision)
}

func statusIn(status Status, candidates []Status) bool {
	for _, candidate := range candidates {
		if candidate == status {
			return true
		}
	}
	return false
}

func optionalText(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	runes := []rune(trimmed)
	if len(runes) > maxReasonLength {
		trimmed = string(runes[:maxReasonLength])
	}
	return &trimmed
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
