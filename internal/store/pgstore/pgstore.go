// Package pgstore is the notification outbox store used by the daemon when the database is
// PostgreSQL. It talks to the pool directly so the worker never contends with GORM sessions.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/operror"
	"github.com/MarkoPoloResearchLab/tutorbook/pkg/outbox"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	errorOperationStore = "store"
	errorSubjectOutbox  = "outbox"
	errorCodeClaim      = "claim"
	errorCodeCount      = "count"
	errorCodeDecode     = "decode"
	errorCodeInsert     = "insert"
	errorCodeList       = "list"
	errorCodeUpdate     = "update"

	sqlInsertEntry = `insert into notification_outbox(outbox_id, recipient, subject, template, payload, status, attempts, created_at, updated_at) values(gen_random_uuid(), $1, $2, $3, $4::jsonb, 'PENDING', 0, $5, $5) returning outbox_id::text`

	sqlListDue = `select outbox_id::text, recipient, subject, template, payload::text, status, attempts, next_retry_at, last_error, sent_at, created_at from notification_outbox where status = 'PENDING' and (next_retry_at is null or next_retry_at <= $1) order by created_at, outbox_id limit $2`

	sqlClaim = `update notification_outbox set status = 'PROCESSING', updated_at = $2 where outbox_id = $1::uuid and status = 'PENDING'`

	sqlMarkSent = `update notification_outbox set status = 'SENT', sent_at = $2, updated_at = $2 where outbox_id = $1::uuid and status = 'PROCESSING'`

	sqlMarkRetry = `update notification_outbox set status = 'PENDING', attempts = $2, next_retry_at = $3, last_error = $4, updated_at = now() where outbox_id = $1::uuid and status = 'PROCESSING'`

	sqlMarkFailed = `update notification_outbox set status = 'FAILED', attempts = $2, last_error = $3, updated_at = now() where outbox_id = $1::uuid and status = 'PROCESSING'`

	sqlReclaimStale = `update notification_outbox set status = 'PENDING', updated_at = now() where status = 'PROCESSING' and updated_at < $1`

	sqlCountByStatus = `select status, count(*) from notification_outbox group by status`
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements outbox.Queue and outbox.Store with pgx (autocommit).
type Store struct {
	db DB
}

// New returns a Store backed by a pgx pool.
func New(db DB) *Store {
	return &Store{db: db}
}

func (store *Store) Insert(ctx context.Context, message outbox.Message, at time.Time) (outbox.Entry, error) {
	payload, err := json.Marshal(message.Payload())
	if err != nil {
		return outbox.Entry{}, wrapStoreError(errorCodeInsert, err)
	}
	createdAt := at.UTC()
	var id string
	err = store.db.QueryRow(ctx, sqlInsertEntry,
		message.Recipient(),
		message.Subject(),
		message.Template(),
		string(payload),
		createdAt,
	).Scan(&id)
	if err != nil {
		return outbox.Entry{}, wrapStoreError(errorCodeInsert, err)
	}
	return outbox.Entry{
		ID:        id,
		Recipient: message.Recipient(),
		Subject:   message.Subject(),
		Template:  message.Template(),
		Payload:   message.Payload(),
		Status:    outbox.StatusPending,
		CreatedAt: createdAt,
	}, nil
}

func (store *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]outbox.Entry, error) {
	if limit <= 0 {
		limit = outbox.DefaultWorkerConfig().BatchSize
	}
	rows, err := store.db.Query(ctx, sqlListDue, now.UTC(), limit)
	if err != nil {
		return nil, wrapStoreError(errorCodeList, err)
	}
	defer rows.Close()

	var entries []outbox.Entry
	for rows.Next() {
		var (
			entry       outbox.Entry
			payloadText string
			statusText  string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.Recipient,
			&entry.Subject,
			&entry.Template,
			&payloadText,
			&statusText,
			&entry.Attempts,
			&entry.NextRetryAt,
			&entry.LastError,
			&entry.SentAt,
			&entry.CreatedAt,
		); err != nil {
			return nil, wrapStoreError(errorCodeList, err)
		}
		status, err := outbox.ParseStatus(statusText)
		if err != nil {
			return nil, wrapStoreError(errorCodeDecode, err)
		}
		entry.Status = status
		entry.Payload = outbox.Payload{}
		if payloadText != "" {
			if err := json.Unmarshal([]byte(payloadText), &entry.Payload); err != nil {
				return nil, wrapStoreError(errorCodeDecode, err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorCodeList, err)
	}
	return entries, nil
}

// Claim reports whether this worker moved the entry to PROCESSING.
func (store *Store) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := store.db.Exec(ctx, sqlClaim, id, at.UTC())
	if err != nil {
		return false, wrapStoreError(errorCodeClaim, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (store *Store) MarkSent(ctx context.Context, id string, at time.Time) error {
	return store.finish(ctx, id, sqlMarkSent, id, at.UTC())
}

func (store *Store) MarkRetry(ctx context.Context, id string, attempts int, nextRetryAt time.Time, lastError string) error {
	return store.finish(ctx, id, sqlMarkRetry, id, attempts, nextRetryAt.UTC(), lastError)
}

func (store *Store) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	return store.finish(ctx, id, sqlMarkFailed, id, attempts, lastError)
}

func (store *Store) finish(ctx context.Context, id string, statement string, args ...any) error {
	tag, err := store.db.Exec(ctx, statement, args...)
	if err != nil {
		return wrapStoreError(errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorCodeUpdate, fmt.Errorf("%w: %s is not processing", outbox.ErrEntryNotFound, id))
	}
	return nil
}

func (store *Store) ReclaimStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	tag, err := store.db.Exec(ctx, sqlReclaimStale, claimedBefore.UTC())
	if err != nil {
		return 0, wrapStoreError(errorCodeUpdate, err)
	}
	return tag.RowsAffected(), nil
}

func (store *Store) CountByStatus(ctx context.Context) (map[outbox.Status]int64, error) {
	rows, err := store.db.Query(ctx, sqlCountByStatus)
	if err != nil {
		return nil, wrapStoreError(errorCodeCount, err)
	}
	defer rows.Close()

	counts := make(map[outbox.Status]int64)
	for rows.Next() {
		var (
			statusText string
			total      int64
		)
		if err := rows.Scan(&statusText, &total); err != nil {
			return nil, wrapStoreError(errorCodeCount, err)
		}
		status, err := outbox.ParseStatus(statusText)
		if err != nil {
			return nil, wrapStoreError(errorCodeDecode, err)
		}
		counts[status] = total
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorCodeCount, err)
	}
	return counts, nil
}

func wrapStoreError(code string, err error) error {
	return operror.Wrap(errorOperationStore, errorSubjectOutbox, code, err)
}

