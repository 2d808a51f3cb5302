package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/outbox"
	"github.com/MarkoPoloResearchLab/tutorbook/pkg/wallet"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPendingTeacherApproval Status = "PENDING_TEACHER_APPROVAL"
	StatusWaitingForPayment      Status = "WAITING_FOR_PAYMENT"
	StatusScheduled              Status = "SCHEDULED"
	StatusPendingConfirmation    Status = "PENDING_CONFIRMATION"
	StatusCompleted              Status = "COMPLETED"
	StatusRejectedByTeacher      Status = "REJECTED_BY_TEACHER"
	StatusDisputed               Status = "DISPUTED"
	StatusRefunded               Status = "REFUNDED"
	StatusPartiallyRefunded      Status = "PARTIALLY_REFUNDED"
	StatusCancelledByParent      Status = "CANCELLED_BY_PARENT"
	StatusCancelledByAdmin       Status = "CANCELLED_BY_ADMIN"
	StatusExpired                Status = "EXPIRED"
)

// ParseStatus validates a stored status.
func ParseStatus(raw string) (Status, error) {
	status := Status(raw)
	if _, known := transitionTable[status]; !known {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
	}
	return status, nil
}

// String returns the stored representation.
func (status Status) String() string {
	return string(status)
}

// IsTerminal reports whether no further transition can leave status.
func (status Status) IsTerminal() bool {
	return len(transitionTable[status]) == 0
}

// holdsLockedFunds reports whether the parent's payment sits in pending balance.
func (status Status) holdsLockedFunds() bool {
	switch status {
	case StatusScheduled, StatusPendingConfirmation, StatusDisputed:
		return true
	default:
		return false
	}
}

// Role is the kind of actor invoking an operation.
type Role string

const (
	RoleParent  Role = "PARENT"
	RoleTeacher Role = "TEACHER"
	RoleAdmin   Role = "ADMIN"
	RoleSystem  Role = "SYSTEM"
)

// Actor is the authenticated caller supplied by the request layer.
type Actor struct {
	UserID string
	Role   Role
}

// NewActor validates an actor identity.
func NewActor(userID string, role Role) (Actor, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return Actor{}, fmt.Errorf("%w: empty actor id", ErrInvalidInput)
	}
	switch role {
	case RoleParent, RoleTeacher, RoleAdmin:
	default:
		return Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	return Actor{UserID: trimmed, Role: role}, nil
}

// SystemActor is the identity used by the escrow scheduler.
func SystemActor() Actor {
	return Actor{UserID: systemActorID, Role: RoleSystem}
}

// Booking is one tutoring session between a teacher and a parent's student.
type Booking struct {
	ID                   string
	TeacherID            string
	ParentID             string
	StudentID            string
	SubjectID            string
	StartTime            time.Time
	EndTime              time.Time
	Price                decimal.Decimal
	CommissionRate       decimal.Decimal
	Status               Status
	MeetingLink          *string
	CancelReason         *string
	ConfirmationDeadline *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CreateRequest carries the parent's booking request.
type CreateRequest struct {
	TeacherID string
	StudentID string
	SubjectID string
	StartTime time.Time
	EndTime   time.Time
}

// Change is the write applied by a successful compare-and-swap.
type Change struct {
	To                   Status
	At                   time.Time
	MeetingLink          *string
	CancelReason         *string
	ConfirmationDeadline *time.Time
}

// Offering is a teacher's rate for one subject.
type Offering struct {
	TeacherID  string
	SubjectID  string
	HourlyRate decimal.Decimal
}

// Contact is the notification address of a user.
type Contact struct {
	UserID   string
	Email    string
	FullName string
}

// ResolutionOutcome selects how an admin settles a dispute.
type ResolutionOutcome string

const (
	ResolutionRelease ResolutionOutcome = "RELEASE"
	ResolutionRefund  ResolutionOutcome = "REFUND"
	ResolutionSplit   ResolutionOutcome = "SPLIT"
)

// Resolution is an admin decision on a disputed booking. RefundAmount is used only by SPLIT.
type Resolution struct {
	Outcome      ResolutionOutcome
	RefundAmount decimal.Decimal
	Note         string
}

// Store persists bookings. CompareAndSwap must be a single conditional update on (id, status).
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	Insert(ctx context.Context, booking Booking) (Booking, error)
	Get(ctx context.Context, id string) (Booking, error)
	// CompareAndSwap applies change only while the stored status equals from and returns the
	// updated row; a miss returns ErrInvalidStateTransition.
	CompareAndSwap(ctx context.Context, id string, from Status, change Change) (Booking, error)
	ListCreatedBefore(ctx context.Context, status Status, before time.Time, limit int) ([]Booking, error)
	ListEndedBefore(ctx context.Context, status Status, before time.Time, limit int) ([]Booking, error)
	ListConfirmationDue(ctx context.Context, now time.Time, limit int) ([]Booking, error)
}

// Ledger is the subset of the wallet service used by booking transitions.
type Ledger interface {
	LockFunds(ctx context.Context, userID wallet.UserID, referenceID wallet.ReferenceID, amount wallet.PositiveAmount) (wallet.Transaction, error)
	ReleaseFunds(ctx context.Context, payerID wallet.UserID, payeeID wallet.UserID, referenceID wallet.ReferenceID, amount wallet.PositiveAmount, rate wallet.CommissionRate) (wallet.Transaction, error)
	Refund(ctx context.Context, userID wallet.UserID, referenceID wallet.ReferenceID, amount wallet.PositiveAmount) (wallet.Transaction, error)
}

// Notifier enqueues notifications inside the caller's unit of work.
type Notifier interface {
	Enqueue(ctx context.Context, message outbox.Message) error
}

// Catalog resolves teacher-subject offerings.
type Catalog interface {
	Offering(ctx context.Context, teacherID string, subjectID string) (Offering, error)
}

// Directory resolves student ownership and user contacts.
type Directory interface {
	ParentOf(ctx context.Context, studentID string) (string, error)
	ContactOf(ctx context.Context, userID string) (Contact, error)
}

// CommissionPolicy returns the platform rate snapshotted onto new bookings.
type CommissionPolicy interface {
	CurrentRate(ctx context.Context) (wallet.CommissionRate, error)
}
