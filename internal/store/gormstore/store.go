package gormstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/operror"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectWallet    = "wallet"
	errorSubjectEntry     = "transaction"
	errorSubjectBooking   = "booking"
	errorSubjectOutbox    = "outbox"
	errorSubjectDirectory = "directory"
	errorSubjectSettings  = "settings"
	errorSubjectSchema    = "schema"
	errorCodeCount        = "count"
	errorCodeCreate       = "create"
	errorCodeDecode       = "decode"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeList         = "list"
	errorCodeMigrate      = "migrate"
	errorCodeUpdate       = "update"
	errorCodeUpsert       = "upsert"
)

type txKey struct{}

// Store implements the wallet, booking and outbox persistence contracts over one gorm.DB.
// A transaction opened by any WithTx travels in ctx, so the three contracts share a unit of
// work when their services are composed.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates every table the store uses.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

// withTransaction joins the transaction carried by ctx or opens a new one.
func (store *Store) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, transaction))
	})
}

// conn returns the handle every query must use so that work inside WithTx stays on the
// transaction's connection.
func (store *Store) conn(ctx context.Context) *gorm.DB {
	if transaction, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return transaction.WithContext(ctx)
	}
	return store.db.WithContext(ctx)
}

func wrapStoreError(subject string, code string, err error) error {
	return operror.Wrap(errorOperationStore, subject, code, err)
}

// validUUID guards uuid columns: PostgreSQL rejects malformed literals with a syntax error,
// which callers should see as a missing row instead.
func validUUID(raw string) bool {
	_, err := uuid.Parse(raw)
	return err == nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func clampLimit(limit int, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}
