package mailer

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/booking"
	"github.com/MarkoPoloResearchLab/tutorbook/pkg/outbox"
)

const bookingLayout = `<html><body>
<p>Hello {{ index .Payload "recipient_name" }},</p>
<p>{{ .Lead }}</p>
<ul>
<li>Booking: {{ index .Payload "booking_id" }}</li>
<li>Status: {{ index .Payload "status" }}</li>
<li>Session: {{ index .Payload "start_time" }} to {{ index .Payload "end_time" }}</li>
<li>Price: {{ index .Payload "price" }}</li>
{{- with index .Payload "meeting_link" }}
<li>Meeting link: <a href="{{ . }}">{{ . }}</a></li>
{{- end }}
{{- with index .Payload "confirmation_deadline" }}
<li>Confirm before: {{ . }}</li>
{{- end }}
{{- with index .Payload "reason" }}
<li>Reason: {{ . }}</li>
{{- end }}
</ul>
</body></html>`

var bookingLeads = map[string]string{
	booking.TemplateRequested:            "A parent has requested a session with you. Please approve or decline it within 24 hours.",
	booking.TemplateApproved:             "Your booking was approved. Pay from your wallet to confirm the session.",
	booking.TemplateRejected:             "The teacher declined your booking request.",
	booking.TemplateExpired:              "Your booking request expired before the teacher answered it.",
	booking.TemplateScheduled:            "The session is paid and scheduled. Funds are held until the session is confirmed.",
	booking.TemplateAwaitingConfirmation: "The session has ended. Confirm it or raise a dispute before the deadline.",
	booking.TemplateCompleted:            "The session is complete and payment was released to the teacher.",
	booking.TemplateDisputed:             "The parent disputed this session. An administrator will review it.",
	booking.TemplateCancelled:            "This booking was cancelled. Any held funds were returned to the parent's wallet.",
	booking.TemplateDisputeResolved:      "An administrator resolved the dispute on this session.",
}

type bookingView struct {
	Lead    string
	Payload outbox.Payload
}

// BookingTemplates returns a registry holding a renderer for every booking notification.
func BookingTemplates() (*outbox.TemplateRegistry, error) {
	layout, err := template.New("booking").Option("missingkey=zero").Parse(bookingLayout)
	if err != nil {
		return nil, fmt.Errorf("parse booking layout: %w", err)
	}
	registry := outbox.NewTemplateRegistry()
	for _, id := range booking.Templates() {
		lead, ok := bookingLeads[id]
		if !ok {
			return nil, fmt.Errorf("%w: no text for %s", outbox.ErrInvalidTemplateEntry, id)
		}
		if err := registry.Register(id, renderWith(layout, lead)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func renderWith(layout *template.Template, lead string) outbox.RenderFunc {
	return func(payload outbox.Payload) (string, error) {
		var buffer bytes.Buffer
		if err := layout.Execute(&buffer, bookingView{Lead: lead, Payload: payload}); err != nil {
			return "", err
		}
		return buffer.String(), nil
	}
}
