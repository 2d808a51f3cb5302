package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/booking"
	"gorm.io/gorm"
)

const defaultBookingListLimit = 100

// BookingStore implements booking.Store.
type BookingStore struct {
	*Store
}

// Bookings returns the booking.Store view of the store.
func (store *Store) Bookings() *BookingStore {
	return &BookingStore{Store: store}
}

// WithTx executes fn within a transaction, joining one already carried by ctx.
func (bookingStore *BookingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return bookingStore.withTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, bookingStore)
	})
}

func (bookingStore *BookingStore) Insert(ctx context.Context, record booking.Booking) (booking.Booking, error) {
	row := BookingModel{
		ID:             record.ID,
		TeacherID:      record.TeacherID,
		ParentID:       record.ParentID,
		StudentID:      record.StudentID,
		SubjectID:      record.SubjectID,
		StartTime:      record.StartTime.UTC(),
		EndTime:        record.EndTime.UTC(),
		Price:          record.Price,
		CommissionRate: record.CommissionRate,
		Status:         record.Status.String(),
		MeetingLink:    record.MeetingLink,
		CreatedAt:      record.CreatedAt.UTC(),
		UpdatedAt:      record.UpdatedAt.UTC(),
	}
	if err := bookingStore.conn(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInsert, fmt.Errorf("%w: duplicate booking id %s", booking.ErrInvalidInput, record.ID))
		}
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInsert, err)
	}
	return mapBooking(row)
}

func (bookingStore *BookingStore) Get(ctx context.Context, id string) (booking.Booking, error) {
	if !validUUID(id) {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, fmt.Errorf("%w: booking %q", booking.ErrNotFound, id))
	}
	var row BookingModel
	err := bookingStore.conn(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, fmt.Errorf("%w: booking %s", booking.ErrNotFound, id))
	}
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	return mapBooking(row)
}

// CompareAndSwap is one UPDATE ... WHERE id = ? AND status = ?; of two racing writers only
// the first matches the row.
func (bookingStore *BookingStore) CompareAndSwap(ctx context.Context, id string, from booking.Status, change booking.Change) (booking.Booking, error) {
	if !validUUID(id) {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeUpdate, fmt.Errorf("%w: booking %q", booking.ErrNotFound, id))
	}
	updates := map[string]interface{}{
		"status":     change.To.String(),
		"updated_at": change.At.UTC(),
	}
	if change.MeetingLink != nil {
		updates["meeting_link"] = *change.MeetingLink
	}
	if change.CancelReason != nil {
		updates["cancel_reason"] = *change.CancelReason
	}
	if change.ConfirmationDeadline != nil {
		updates["confirmation_deadline"] = change.ConfirmationDeadline.UTC()
	}
	result := bookingStore.conn(ctx).
		Model(&BookingModel{}).
		Where("id = ? AND status = ?", id, from.String()).
		Updates(updates)
	if result.Error != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		current, err := bookingStore.Get(ctx, id)
		if err != nil {
			return booking.Booking{}, err
		}
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeUpdate, fmt.Errorf("%w: booking %s is %s, expected %s", booking.ErrInvalidStateTransition, id, current.Status, from))
	}
	return bookingStore.Get(ctx, id)
}

func (bookingStore *BookingStore) ListCreatedBefore(ctx context.Context, status booking.Status, before time.Time, limit int) ([]booking.Booking, error) {
	return bookingStore.list(ctx, limit, "created_at",
		bookingStore.conn(ctx).Where("status = ? AND created_at < ?", status.String(), before.UTC()))
}

func (bookingStore *BookingStore) ListEndedBefore(ctx context.Context, status booking.Status, before time.Time, limit int) ([]booking.Booking, error) {
	return bookingStore.list(ctx, limit, "end_time",
		bookingStore.conn(ctx).Where("status = ? AND end_time < ?", status.String(), before.UTC()))
}

func (bookingStore *BookingStore) ListConfirmationDue(ctx context.Context, now time.Time, limit int) ([]booking.Booking, error) {
	return bookingStore.list(ctx, limit, "confirmation_deadline",
		bookingStore.conn(ctx).Where("status = ? AND confirmation_deadline IS NOT NULL AND confirmation_deadline < ?", booking.StatusPendingConfirmation.String(), now.UTC()))
}

func (bookingStore *BookingStore) list(_ context.Context, limit int, orderColumn string, query *gorm.DB) ([]booking.Booking, error) {
	var rows []BookingModel
	err := query.Order(orderColumn).Order("id").Limit(clampLimit(limit, defaultBookingListLimit)).Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	bookings := make([]booking.Booking, 0, len(rows))
	for _, row := range rows {
		record, err := mapBooking(row)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, record)
	}
	return bookings, nil
}

func mapBooking(row BookingModel) (booking.Booking, error) {
	status, err := booking.ParseStatus(row.Status)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeDecode, err)
	}
	var deadline *time.Time
	if row.ConfirmationDeadline != nil {
		value := row.ConfirmationDeadline.UTC()
		deadline = &value
	}
	return booking.Booking{
		ID:                   row.ID,
		TeacherID:            row.TeacherID,
		ParentID:             row.ParentID,
		StudentID:            row.StudentID,
		SubjectID:            row.SubjectID,
		StartTime:            row.StartTime.UTC(),
		EndTime:              row.EndTime.UTC(),
		Price:                row.Price.Round(2),
		CommissionRate:       row.CommissionRate,
		Status:               status,
		MeetingLink:          row.MeetingLink,
		CancelReason:         row.CancelReason,
		ConfirmationDeadline: deadline,
		CreatedAt:            row.CreatedAt.UTC(),
		UpdatedAt:            row.UpdatedAt.UTC(),
	}, nil
}
