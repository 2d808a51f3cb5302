package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/outbox"
	"gorm.io/datatypes"
)

// OutboxStore implements outbox.Queue and outbox.Store.
type OutboxStore struct {
	*Store
}

// Outbox returns the notification outbox view of the store.
func (store *Store) Outbox() *OutboxStore {
	return &OutboxStore{Store: store}
}

// Insert writes a PENDING entry, joining the caller's transaction when ctx carries one.
func (outboxStore *OutboxStore) Insert(ctx context.Context, message outbox.Message, at time.Time) (outbox.Entry, error) {
	payload, err := json.Marshal(message.Payload())
	if err != nil {
		return outbox.Entry{}, wrapStoreError(errorSubjectOutbox, errorCodeInsert, err)
	}
	row := OutboxModel{
		Recipient: message.Recipient(),
		Subject:   message.Subject(),
		Template:  message.Template(),
		Payload:   datatypes.JSON(payload),
		Status:    outbox.StatusPending.String(),
		CreatedAt: at.UTC(),
		UpdatedAt: at.UTC(),
	}
	if err := outboxStore.conn(ctx).Create(&row).Error; err != nil {
		return outbox.Entry{}, wrapStoreError(errorSubjectOutbox, errorCodeInsert, err)
	}
	return mapOutboxEntry(row)
}

func (outboxStore *OutboxStore) ListDue(ctx context.Context, now time.Time, limit int) ([]outbox.Entry, error) {
	var rows []OutboxModel
	err := outboxStore.conn(ctx).
		Where("status = ?", outbox.StatusPending.String()).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now.UTC()).
		Order("created_at").
		Order("outbox_id").
		Limit(clampLimit(limit, outbox.DefaultWorkerConfig().BatchSize)).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectOutbox, errorCodeList, err)
	}
	entries := make([]outbox.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapOutboxEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Claim flips PENDING to PROCESSING; a zero row count means another worker won.
func (outboxStore *OutboxStore) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	if !validUUID(id) {
		return false, nil
	}
	result := outboxStore.conn(ctx).
		Model(&OutboxModel{}).
		Where("outbox_id = ? AND status = ?", id, outbox.StatusPending.String()).
		Updates(map[string]interface{}{
			"status":     outbox.StatusProcessing.String(),
			"updated_at": at.UTC(),
		})
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectOutbox, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (outboxStore *OutboxStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	return outboxStore.finish(ctx, id, map[string]interface{}{
		"status":     outbox.StatusSent.String(),
		"sent_at":    at.UTC(),
		"updated_at": at.UTC(),
	})
}

func (outboxStore *OutboxStore) MarkRetry(ctx context.Context, id string, attempts int, nextRetryAt time.Time, lastError string) error {
	return outboxStore.finish(ctx, id, map[string]interface{}{
		"status":        outbox.StatusPending.String(),
		"attempts":      attempts,
		"next_retry_at": nextRetryAt.UTC(),
		"last_error":    lastError,
	})
}

func (outboxStore *OutboxStore) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	return outboxStore.finish(ctx, id, map[string]interface{}{
		"status":     outbox.StatusFailed.String(),
		"attempts":   attempts,
		"last_error": lastError,
	})
}

// finish only touches entries this worker claimed.
func (outboxStore *OutboxStore) finish(ctx context.Context, id string, updates map[string]interface{}) error {
	if !validUUID(id) {
		return wrapStoreError(errorSubjectOutbox, errorCodeUpdate, fmt.Errorf("%w: %q", outbox.ErrEntryNotFound, id))
	}
	result := outboxStore.conn(ctx).
		Model(&OutboxModel{}).
		Where("outbox_id = ? AND status = ?", id, outbox.StatusProcessing.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectOutbox, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectOutbox, errorCodeUpdate, fmt.Errorf("%w: %s is not processing", outbox.ErrEntryNotFound, id))
	}
	return nil
}

func (outboxStore *OutboxStore) ReclaimStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	result := outboxStore.conn(ctx).
		Model(&OutboxModel{}).
		Where("status = ? AND updated_at < ?", outbox.StatusProcessing.String(), claimedBefore.UTC()).
		Updates(map[string]interface{}{
			"status":     outbox.StatusPending.String(),
			"updated_at": claimedBefore.UTC(),
		})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectOutbox, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected, nil
}

func (outboxStore *OutboxStore) CountByStatus(ctx context.Context) (map[outbox.Status]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := outboxStore.conn(ctx).
		Model(&OutboxModel{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectOutbox, errorCodeCount, err)
	}
	counts := make(map[outbox.Status]int64, len(rows))
	for _, row := range rows {
		status, err := outbox.ParseStatus(row.Status)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOutbox, errorCodeDecode, err)
		}
		counts[status] = row.Total
	}
	return counts, nil
}

// Entry loads one outbox row; used by operators and tests.
func (outboxStore *OutboxStore) Entry(ctx context.Context, id string) (outbox.Entry, error) {
	if !validUUID(id) {
		return outbox.Entry{}, wrapStoreError(errorSubjectOutbox, errorCodeGet, outbox.ErrEntryNotFound)
	}
	var rows []OutboxModel
	if err := outboxStore.conn(ctx).Where("outbox_id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return outbox.Entry{}, wrapStoreError(errorSubjectOutbox, errorCodeGet, err)
	}
	if len(rows) == 0 {
		return outbox.Entry{}, wrapStoreError(errorSubjectOutbox, errorCodeGet, outbox.ErrEntryNotFound)
	}
	return mapOutboxEntry(rows[0])
}

func mapOutboxEntry(row OutboxModel) (outbox.Entry, error) {
	status, err := outbox.ParseStatus(row.Status)
	if err != nil {
		return outbox.Entry{}, wrapStoreError(errorSubjectOutbox, errorCodeDecode, err)
	}
	payload := outbox.Payload{}
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return outbox.Entry{}, wrapStoreError(errorSubjectOutbox, errorCodeDecode, err)
		}
	}
	return outbox.Entry{
		ID:          row.OutboxID,
		Recipient:   row.Recipient,
		Subject:     row.Subject,
		Template:    row.Template,
		Payload:     payload,
		Status:      status,
		Attempts:    row.Attempts,
		NextRetryAt: utcPointer(row.NextRetryAt),
		LastError:   row.LastError,
		SentAt:      utcPointer(row.SentAt),
		CreatedAt:   row.CreatedAt.UTC(),
	}, nil
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	converted := value.UTC()
	return &converted
}
