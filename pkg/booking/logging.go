package booking

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// TransitionLogger records every attempted booking transition.
type TransitionLogger interface {
	LogTransition(ctx context.Context, entry TransitionLog)
}

// TransitionLog describes one attempted transition.
type TransitionLog struct {
	Operation string
	BookingID string
	Actor     Actor
	From      Status
	To        Status
	Status    string
	Error     error
}

// WithTransitionLogger wires a logger that receives callbacks for every transition.
func WithTransitionLogger(logger TransitionLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithApprovalDeadline overrides how long a request may wait for the teacher.
func WithApprovalDeadline(deadline time.Duration) ServiceOption {
	return func(service *Service) {
		if deadline > 0 {
			service.approvalDeadline = deadline
		}
	}
}

// WithConfirmationWindow overrides how long a parent has to confirm or dispute.
func WithConfirmationWindow(window time.Duration) ServiceOption {
	return func(service *Service) {
		if window > 0 {
			service.confirmationWindow = window
		}
	}
}
