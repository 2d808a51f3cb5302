package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/booking"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DirectoryStore resolves catalog offerings, student ownership and user contacts. It
// implements booking.Catalog and booking.Directory.
type DirectoryStore struct {
	*Store
}

// Directory returns the directory view of the store.
func (store *Store) Directory() *DirectoryStore {
	return &DirectoryStore{Store: store}
}

// User is a directory record.
type User struct {
	UserID   string
	Email    string
	FullName string
	Role     booking.Role
}

func (directoryStore *DirectoryStore) Offering(ctx context.Context, teacherID string, subjectID string) (booking.Offering, error) {
	var row TeacherSubjectModel
	err := directoryStore.conn(ctx).
		Where("teacher_id = ? AND subject_id = ?", teacherID, subjectID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.Offering{}, wrapStoreError(errorSubjectDirectory, errorCodeGet, fmt.Errorf("%w: teacher %s does not teach %s", booking.ErrNotFound, teacherID, subjectID))
	}
	if err != nil {
		return booking.Offering{}, wrapStoreError(errorSubjectDirectory, errorCodeGet, err)
	}
	return booking.Offering{TeacherID: row.TeacherID, SubjectID: row.SubjectID, HourlyRate: row.HourlyRate}, nil
}

func (directoryStore *DirectoryStore) ParentOf(ctx context.Context, studentID string) (string, error) {
	var row StudentModel
	err := directoryStore.conn(ctx).Where("student_id = ?", studentID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", wrapStoreError(errorSubjectDirectory, errorCodeGet, fmt.Errorf("%w: student %s", booking.ErrNotFound, studentID))
	}
	if err != nil {
		return "", wrapStoreError(errorSubjectDirectory, errorCodeGet, err)
	}
	return row.ParentID, nil
}

func (directoryStore *DirectoryStore) ContactOf(ctx context.Context, userID string) (booking.Contact, error) {
	var row UserModel
	err := directoryStore.conn(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.Contact{}, wrapStoreError(errorSubjectDirectory, errorCodeGet, fmt.Errorf("%w: user %s", booking.ErrNotFound, userID))
	}
	if err != nil {
		return booking.Contact{}, wrapStoreError(errorSubjectDirectory, errorCodeGet, err)
	}
	return booking.Contact{UserID: row.UserID, Email: row.Email, FullName: row.FullName}, nil
}

// SaveUser inserts or updates a directory user.
func (directoryStore *DirectoryStore) SaveUser(ctx context.Context, user User) error {
	if strings.TrimSpace(user.UserID) == "" {
		return fmt.Errorf("%w: user id is required", booking.ErrInvalidInput)
	}
	row := UserModel{UserID: user.UserID, Email: strings.TrimSpace(user.Email), FullName: user.FullName, Role: string(user.Role)}
	return directoryStore.upsert(ctx, &row, []string{"user_id"}, []string{"email", "full_name", "role", "updated_at"})
}

// SaveStudent links studentID to parentID.
func (directoryStore *DirectoryStore) SaveStudent(ctx context.Context, studentID string, parentID string, fullName string) error {
	if strings.TrimSpace(studentID) == "" || strings.TrimSpace(parentID) == "" {
		return fmt.Errorf("%w: student and parent ids are required", booking.ErrInvalidInput)
	}
	row := StudentModel{StudentID: studentID, ParentID: parentID, FullName: fullName}
	return directoryStore.upsert(ctx, &row, []string{"student_id"}, []string{"parent_id", "full_name", "updated_at"})
}

// SaveOffering sets the hourly rate a teacher charges for a subject.
func (directoryStore *DirectoryStore) SaveOffering(ctx context.Context, offering booking.Offering) error {
	if strings.TrimSpace(offering.TeacherID) == "" || strings.TrimSpace(offering.SubjectID) == "" {
		return fmt.Errorf("%w: teacher and subject ids are required", booking.ErrInvalidInput)
	}
	if offering.HourlyRate.IsNegative() {
		return fmt.Errorf("%w: hourly rate %s is negative", booking.ErrInvalidInput, offering.HourlyRate)
	}
	row := TeacherSubjectModel{TeacherID: offering.TeacherID, SubjectID: offering.SubjectID, HourlyRate: offering.HourlyRate.Round(2)}
	return directoryStore.upsert(ctx, &row, []string{"teacher_id", "subject_id"}, []string{"hourly_rate", "updated_at"})
}

func (directoryStore *DirectoryStore) upsert(ctx context.Context, row interface{}, keys []string, columns []string) error {
	conflictColumns := make([]clause.Column, 0, len(keys))
	for _, key := range keys {
		conflictColumns = append(conflictColumns, clause.Column{Name: key})
	}
	err := directoryStore.conn(ctx).
		Clauses(clause.OnConflict{Columns: conflictColumns, DoUpdates: clause.AssignmentColumns(columns)}).
		Create(row).Error
	if err != nil {
		return wrapStoreError(errorSubjectDirectory, errorCodeUpsert, err)
	}
	return nil
}
