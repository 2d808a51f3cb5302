package booking

import "context"

// StaleApprovals lists requests still waiting on the teacher past the approval deadline.
func (service *Service) StaleApprovals(ctx context.Context, limit int) ([]Booking, error) {
	before := service.now().Add(-service.approvalDeadline)
	return service.store.ListCreatedBefore(ctx, StatusPendingTeacherApproval, before, limit)
}

// ConfirmationDue lists PENDING_CONFIRMATION bookings whose window has elapsed. Disputed
// bookings have left that status and are never returned.
func (service *Service) ConfirmationDue(ctx context.Context, limit int) ([]Booking, error) {
	return service.store.ListConfirmationDue(ctx, service.now(), limit)
}

// EndedSessions lists SCHEDULED bookings whose end time has passed.
func (service *Service) EndedSessions(ctx context.Context, limit int) ([]Booking, error) {
	return service.store.ListEndedBefore(ctx, StatusScheduled, service.now(), limit)
}
