package booking

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/outbox"
)

// Template identifiers emitted into the outbox.
const (
	TemplateRequested            = "booking_requested"
	TemplateApproved             = "booking_approved"
	TemplateRejected             = "booking_rejected"
	TemplateExpired              = "booking_expired"
	TemplateScheduled            = "booking_scheduled"
	TemplateAwaitingConfirmation = "booking_awaiting_confirmation"
	TemplateCompleted            = "booking_completed"
	TemplateDisputed             = "booking_disputed"
	TemplateCancelled            = "booking_cancelled"
	TemplateDisputeResolved      = "booking_dispute_resolved"
)

var templateSubjects = map[string]string{
	TemplateRequested:            "New booking request",
	TemplateApproved:             "Your booking was approved",
	TemplateRejected:             "Your booking was declined",
	TemplateExpired:              "Your booking request expired",
	TemplateScheduled:            "Session scheduled",
	TemplateAwaitingConfirmation: "Please confirm your session",
	TemplateCompleted:            "Session completed",
	TemplateDisputed:             "A session was disputed",
	TemplateCancelled:            "Booking cancelled",
	TemplateDisputeResolved:      "Dispute resolved",
}

// Templates lists every template identifier the booking machine emits.
func Templates() []string {
	return []string{
		TemplateRequested,
		TemplateApproved,
		TemplateRejected,
		TemplateExpired,
		TemplateScheduled,
		TemplateAwaitingConfirmation,
		TemplateCompleted,
		TemplateDisputed,
		TemplateCancelled,
		TemplateDisputeResolved,
	}
}

// Payload keys shared with template renderers.
const (
	PayloadBookingID     = "booking_id"
	PayloadStatus        = "status"
	PayloadRecipientName = "recipient_name"
	PayloadStartTime     = "start_time"
	PayloadEndTime       = "end_time"
	PayloadPrice         = "price"
	PayloadMeetingLink   = "meeting_link"
	PayloadReason        = "reason"
	PayloadDeadline      = "confirmation_deadline"
)

// notify enqueues template for each recipient. Users without a contact address are skipped.
func (service *Service) notify(ctx context.Context, booking Booking, template string, reason string, recipientIDs ...string) error {
	for _, recipientID := range recipientIDs {
		contact, err := service.directory.ContactOf(ctx, recipientID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return err
		}
		if contact.Email == "" {
			continue
		}
		message, err := outbox.NewMessage(contact.Email, templateSubjects[template], template, bookingPayload(booking, contact, reason))
		if err != nil {
			return err
		}
		if err := service.notifier.Enqueue(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func bookingPayload(booking Booking, contact Contact, reason string) outbox.Payload {
	payload := outbox.Payload{
		PayloadBookingID:     booking.ID,
		PayloadStatus:        booking.Status.String(),
		PayloadRecipientName: contact.FullName,
		PayloadStartTime:     booking.StartTime.Format(time.RFC3339),
		PayloadEndTime:       booking.EndTime.Format(time.RFC3339),
		PayloadPrice:         booking.Price.StringFixed(pricePrecision),
	}
	if booking.MeetingLink != nil {
		payload[PayloadMeetingLink] = *booking.MeetingLink
	}
	if booking.ConfirmationDeadline != nil {
		payload[PayloadDeadline] = booking.ConfirmationDeadline.Format(time.RFC3339)
	}
	if reason != "" {
		payload[PayloadReason] = reason
	}
	return payload
}
