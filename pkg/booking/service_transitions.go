package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/wallet"
	"github.com/shopspring/decimal"
)

// Approve accepts a pending request. The optional meeting link is stored on the booking.
func (service *Service) Approve(ctx context.Context, actor Actor, bookingID string, meetingLink string) (Booking, error) {
	return service.apply(ctx, actor, bookingID, transition{
		operation: operationApprove,
		from:      []Status{StatusPendingTeacherApproval},
		to:        StatusWaitingForPayment,
		authorize: authorizeTeacher,
		change: func(booking Booking, now time.Time) Change {
			return Change{MeetingLink: optionalText(meetingLink)}
		},
		effect: func(ctx context.Context, before Booking, after Booking) error {
			return service.notify(ctx, after, TemplateApproved, "", after.ParentID)
		},
	})
}

// Reject declines a pending request with an optional reason.
func (service *Service) Reject(ctx context.Context, actor Actor, bookingID string, reason string) (Booking, error) {
	cancelReason := optionalText(reason)
	return service.apply(ctx, actor, bookingID, transition{
		operation: operationReject,
		from:      []Status{StatusPendingTeacherApproval},
		to:        StatusRejectedByTeacher,
		authorize: authorizeTeacher,
		change: func(booking Booking, now time.Time) Change {
			return Change{CancelReason: cancelReason}
		},
		effect: func(ctx context.Context, before Booking, after Booking) error {
			return service.notify(ctx, after, TemplateRejected, textOf(cancelReason), after.ParentID)
		},
	})
}

// Expire closes a request the teacher never answered within the approval deadline.
func (service *Service) Expire(ctx context.Context, actor Actor, bookingID string) (Booking, error) {
	return service.apply(ctx, actor, bookingID, transition{
		operation: operationExpire,
		from:      []Status{StatusPendingTeacherApproval},
		to:        StatusExpired,
		authorize: authorizeSystem,
		guard: func(booking Booking, now time.Time) error {
			if now.Sub(booking.CreatedAt) <= service.approvalDeadline {
				return fmt.Errorf("%w: approval open until %s", ErrDeadlineNotReached, booking.CreatedAt.Add(service.approvalDeadline).Format(time.RFC3339))
			}
			return nil
		},
		effect: func(ctx context.Context, before Booking, after Booking) error {
			return service.notify(ctx, after, TemplateExpired, "", after.ParentID)
		},
	})
}

// Pay locks the booking price in the parent's wallet and schedules the session. A ledger
// failure aborts the transition and leaves the booking in WAITING_FOR_PAYMENT.
func (service *Service) Pay(ctx context.Context, actor Actor, bookingID string) (Booking, error) {
	return service.apply(ctx, actor, bookingID, transition{
		operation: operationPay,
		from:      []Status{StatusWaitingForPayment},
		to:        StatusScheduled,
		authorize: authorizeParent,
		effect: func(ctx context.Context, before Booking, after Booking) error {
			if err := service.lock(ctx, after); err != nil {
				return err
			}
			return service.notify(ctx, after, TemplateScheduled, "", after.ParentID, after.TeacherID)
		},
	})
}

// MarkComplete moves an ended session into the confirmation window.
func (service *Service) MarkComplete(ctx context.Context, actor Actor, bookingID string) (Booking, error) {
	return service.apply(ctx, actor, bookingID, transition{
		operation: operationMarkComplete,
		from:      []Status{StatusScheduled},
		to:        StatusPendingConfirmation,
		authorize: authorizeTeacherOrSystem,
		guard: func(booking Booking, now time.Time) error {
			if now.Before(booking.EndTime) {
				return fmt.Errorf("%w: ends at %s", ErrSessionNotEnded, booking.EndTime.Format(time.RFC3339))
			}
			return nil
		},
		change: func(booking Booking, now time.Time) Change {
			deadline := now.Add(service.confirmationWindow)
			return Change{ConfirmationDeadline: &deadline}
		},
		effect: func(ctx context.Context, before Booking, after Booking) error {
			return service.notify(ctx, after, TemplateAwaitingConfirmation, "", after.ParentID)
		},
	})
}

// Confirm releases the escrowed price to the teacher, net of the snapshotted commission.
func (service *Service) Confirm(ctx context.Context, actor Actor, bookingID string) (Booking, error) {
	return service.apply(ctx, actor, bookingID, transition{
		operation: operationConfirm,
		from:      []Status{StatusPendingConfirmation},
		to:        StatusCompleted,
		authorize: authorizeParent,
		effect:    service.completeEffect,
	})
}

// AutoRelease completes a booking whose confirmation window elapsed without a dispute.
func (service *Service) AutoRelease(ctx context.Context, actor Actor, bookingID string) (Booking, error) {
	return service.apply(ctx, actor, bookingID, transition{
		operation: operationAutoRelease,
		from:      []Status{StatusPendingConfirmation},
		to:        StatusCompleted,
		authorize: authorizeSystem,
		guard: func(booking Booking, now time.Time) error {
			if booking.ConfirmationDeadline == nil {
				return ErrConfirmationMissing
			}
			if now.Before(*booking.ConfirmationDeadline) {
				return fmt.Errorf("%w: confirmation open until %s", ErrDeadlineNotReached, booking.ConfirmationDeadline.Format(time.RFC3339))
			}
			return nil
		},
		effect: service.completeEffect,
	})
}

// Dispute freezes the release until an admin resolves it.
func (service *Service) Dispute(ctx context.Context, actor Actor, bookingID string, reason string) (Booking, error) {
	disputeReason := optionalText(reason)
	return service.apply(ctx, actor, bookingID, transition{
		operation: operationDispute,
		from:      []Status{StatusPendingConfirmation},
		to:        StatusDisputed,
		authorize: authorizeParent,
		change: func(booking Booking, now time.Time) Change {
			return Change{CancelReason: disputeReason}
		},
		effect: func(ctx context.Context, before Booking, after Booking) error {
			return service.notify(ctx, after, TemplateDisputed, textOf(disputeReason), after.TeacherID)
		},
	})
}

// AdminCancel cancels any non-terminal booking and refunds the parent when funds are locked.
func (service *Service) AdminCancel(ctx context.Context, actor Actor, bookingID string, reason string) (Booking, error) {
	cancelReason := optionalText(reason)
	return service.apply(ctx, actor, bookingID, transition{
		operation: operationAdminCancel,
		from:      nonTerminalStatuses(),
		to:        StatusCancelledByAdmin,
		authorize: authorizeAdmin,
		change: func(booking Booking, now time.Time) Change {
			return Change{CancelReason: cancelReason}
		},
		effect: func(ctx context.Context, before Booking, after Booking) error {
			if before.Status.holdsLockedFunds() {
				if err := service.refund(ctx, after, after.Price); err != nil {
					return err
				}
			}
			return service.notify(ctx, after, TemplateCancelled, textOf(cancelReason), after.ParentID, after.TeacherID)
		},
	})
}

// CancelByParent withdraws a request, or a paid session before it starts with a full refund.
func (service *Service) CancelByParent(ctx context.Context, actor Actor, bookingID string, reason string) (Booking, error) {
	cancelReason := optionalText(reason)
	return service.apply(ctx, actor, bookingID, transition{
		operation: operationCancelByParent,
		from:      []Status{StatusPendingTeacherApproval, StatusWaitingForPayment, StatusScheduled},
		to:        StatusCancelledByParent,
		authorize: authorizeParent,
		guard: func(booking Booking, now time.Time) error {
			if booking.Status == StatusScheduled && !now.Before(booking.StartTime) {
				return fmt.Errorf("%w: started at %s", ErrSessionStarted, booking.StartTime.Format(time.RFC3339))
			}
			return nil
		},
		change: func(booking Booking, now time.Time) Change {
			return Change{CancelReason: cancelReason}
		},
		effect: func(ctx context.Context, before Booking, after Booking) error {
			if before.Status.holdsLockedFunds() {
				if err := service.refund(ctx, after, after.Price); err != nil {
					return err
				}
			}
			return service.notify(ctx, after, TemplateCancelled, textOf(cancelReason), after.TeacherID, after.ParentID)
		},
	})
}

// ResolveDispute settles a disputed booking: release to the teacher, refund the parent, or
// refund part and release the rest.
func (service *Service) ResolveDispute(ctx context.Context, actor Actor, bookingID string, resolution Resolution) (Booking, error) {
	target, err := resolutionTarget(resolution)
	if err != nil {
		service.logTransition(ctx, TransitionLog{Operation: operationResolveDispute, BookingID: bookingID, Actor: actor, Error: err})
		return Booking{}, err
	}
	note := optionalText(resolution.Note)
	refundAmount := resolution.RefundAmount.Round(pricePrecision)
	return service.apply(ctx, actor, bookingID, transition{
		operation: operationResolveDispute,
		from:      []Status{StatusDisputed},
		to:        target,
		authorize: authorizeAdmin,
		guard: func(booking Booking, now time.Time) error {
			if resolution.Outcome != ResolutionSplit {
				return nil
			}
			if !refundAmount.IsPositive() || !refundAmount.LessThan(booking.Price) {
				return fmt.Errorf("%w: split refund must be within (0, %s)", ErrInvalidResolution, booking.Price.StringFixed(pricePrecision))
			}
			return nil
		},
		change: func(booking Booking, now time.Time) Change {
			return Change{CancelReason: note}
		},
		effect: func(ctx context.Context, before Booking, after Booking) error {
			switch resolution.Outcome {
			case ResolutionRelease:
				if err := service.release(ctx, after, after.Price); err != nil {
					return err
				}
			case ResolutionRefund:
				if err := service.refund(ctx, after, after.Price); err != nil {
					return err
				}
			case ResolutionSplit:
				if err := service.refund(ctx, after, refundAmount); err != nil {
					return err
				}
				if err := service.release(ctx, after, after.Price.Sub(refundAmount)); err != nil {
					return err
				}
			}
			return service.notify(ctx, after, TemplateDisputeResolved, textOf(note), after.ParentID, after.TeacherID)
		},
	})
}

func (service *Service) completeEffect(ctx context.Context, before Booking, after Booking) error {
	if err := service.release(ctx, after, after.Price); err != nil {
		return err
	}
	return service.notify(ctx, after, TemplateCompleted, "", after.TeacherID, after.ParentID)
}

func (service *Service) lock(ctx context.Context, booking Booking) error {
	if !booking.Price.IsPositive() {
		return nil
	}
	parentID, referenceID, amount, err := ledgerArguments(booking, booking.Price)
	if err != nil {
		return err
	}
	_, err = service.ledger.LockFunds(ctx, parentID, referenceID, amount)
	return err
}

func (service *Service) release(ctx context.Context, booking Booking, value decimal.Decimal) error {
	if !value.IsPositive() {
		return nil
	}
	parentID, referenceID, amount, err := ledgerArguments(booking, value)
	if err != nil {
		return err
	}
	teacherID, err := wallet.NewUserID(booking.TeacherID)
	if err != nil {
		return err
	}
	rate, err := wallet.NewCommissionRate(booking.CommissionRate)
	if err != nil {
		return err
	}
	_, err = service.ledger.ReleaseFunds(ctx, parentID, teacherID, referenceID, amount, rate)
	return err
}

func (service *Service) refund(ctx context.Context, booking Booking, value decimal.Decimal) error {
	if !value.IsPositive() {
		return nil
	}
	parentID, referenceID, amount, err := ledgerArguments(booking, value)
	if err != nil {
		return err
	}
	_, err = service.ledger.Refund(ctx, parentID, referenceID, amount)
	return err
}

func ledgerArguments(booking Booking, value decimal.Decimal) (wallet.UserID, wallet.ReferenceID, wallet.PositiveAmount, error) {
	parentID, err := wallet.NewUserID(booking.ParentID)
	if err != nil {
		return wallet.UserID{}, wallet.ReferenceID{}, wallet.PositiveAmount{}, err
	}
	referenceID, err := wallet.NewReferenceID(booking.ID)
	if err != nil {
		return wallet.UserID{}, wallet.ReferenceID{}, wallet.PositiveAmount{}, err
	}
	amount, err := wallet.NewPositiveAmount(value)
	if err != nil {
		return wallet.UserID{}, wallet.ReferenceID{}, wallet.PositiveAmount{}, err
	}
	return parentID, referenceID, amount, nil
}

func resolutionTarget(resolution Resolution) (Status, error) {
	switch resolution.Outcome {
	case ResolutionRelease:
		return StatusCompleted, nil
	case ResolutionRefund:
		return StatusRefunded, nil
	case ResolutionSplit:
		return StatusPartiallyRefunded, nil
	default:
		return "", fmt.Errorf("%w: unknown outcome %q", ErrInvalidResolution, resolution.Outcome)
	}
}

func nonTerminalStatuses() []Status {
	statuses := make([]Status, 0, len(transitionTable))
	for status, targets := range transitionTable {
		if len(targets) > 0 {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

func textOf(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
