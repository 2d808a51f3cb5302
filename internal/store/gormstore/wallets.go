package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/wallet"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultTransactionListLimit = 50

// WalletStore implements wallet.Store.
type WalletStore struct {
	*Store
}

// Wallets returns the wallet.Store view of the store.
func (store *Store) Wallets() *WalletStore {
	return &WalletStore{Store: store}
}

// WithTx executes fn within a transaction, joining one already carried by ctx.
func (walletStore *WalletStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return walletStore.withTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, walletStore)
	})
}

func (walletStore *WalletStore) GetOrCreateWallet(ctx context.Context, userID wallet.UserID, currency string) (wallet.Wallet, error) {
	candidate := WalletModel{UserID: userID.String(), Currency: currency}
	err := walletStore.conn(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&candidate).Error
	if err != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeCreate, err)
	}
	return walletStore.GetWallet(ctx, userID)
}

func (walletStore *WalletStore) GetWallet(ctx context.Context, userID wallet.UserID) (wallet.Wallet, error) {
	var row WalletModel
	err := walletStore.conn(ctx).Where("user_id = ?", userID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, wallet.ErrWalletNotFound)
	}
	if err != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	return mapWallet(row)
}

func (walletStore *WalletStore) WalletByID(ctx context.Context, walletID string) (wallet.Wallet, error) {
	if !validUUID(walletID) {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, wallet.ErrWalletNotFound)
	}
	var row WalletModel
	err := walletStore.conn(ctx).Where("wallet_id = ?", walletID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, wallet.ErrWalletNotFound)
	}
	if err != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	return mapWallet(row)
}

// ApplyBalanceDelta is a single conditional UPDATE: both balances move together and only
// when neither result is negative, so concurrent debits cannot overdraw a wallet.
func (walletStore *WalletStore) ApplyBalanceDelta(ctx context.Context, walletID string, delta wallet.BalanceDelta, at time.Time) (wallet.Wallet, error) {
	if !validUUID(walletID) {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeUpdate, wallet.ErrWalletNotFound)
	}
	result := walletStore.conn(ctx).
		Model(&WalletModel{}).
		Where("wallet_id = ?", walletID).
		Where("ROUND(available_balance + ?, 2) >= 0 AND ROUND(pending_balance + ?, 2) >= 0", delta.Available, delta.Pending).
		Updates(map[string]interface{}{
			"available_balance": gorm.Expr("ROUND(available_balance + ?, 2)", delta.Available),
			"pending_balance":   gorm.Expr("ROUND(pending_balance + ?, 2)", delta.Pending),
			"updated_at":        at.UTC(),
		})
	if result.Error != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		current, err := walletStore.WalletByID(ctx, walletID)
		if err != nil {
			return wallet.Wallet{}, err
		}
		return current, wrapStoreError(errorSubjectWallet, errorCodeUpdate, fmt.Errorf("%w: wallet %s", wallet.ErrBalanceGuard, walletID))
	}
	return walletStore.WalletByID(ctx, walletID)
}

func (walletStore *WalletStore) InsertTransaction(ctx context.Context, input wallet.TransactionInput) (wallet.Transaction, error) {
	row := WalletTransactionModel{
		WalletID:       input.WalletID(),
		Type:           input.Type().String(),
		Status:         input.Status().String(),
		Amount:         input.Amount().Decimal(),
		ReferenceID:    input.ReferenceID(),
		ReferenceImage: input.ReferenceImage(),
		CreatedAt:      input.CreatedAt(),
		UpdatedAt:      input.CreatedAt(),
	}
	if err := walletStore.conn(ctx).Create(&row).Error; err != nil {
		return wallet.Transaction{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return mapTransaction(row)
}

func (walletStore *WalletStore) GetTransaction(ctx context.Context, transactionID wallet.TransactionID) (wallet.Transaction, error) {
	if !validUUID(transactionID.String()) {
		return wallet.Transaction{}, wrapStoreError(errorSubjectEntry, errorCodeGet, wallet.ErrTransactionNotFound)
	}
	var row WalletTransactionModel
	err := walletStore.conn(ctx).Where("transaction_id = ?", transactionID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Transaction{}, wrapStoreError(errorSubjectEntry, errorCodeGet, wallet.ErrTransactionNotFound)
	}
	if err != nil {
		return wallet.Transaction{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	return mapTransaction(row)
}

func (walletStore *WalletStore) UpdateTransactionStatus(ctx context.Context, transactionID wallet.TransactionID, from, to wallet.TransactionStatus, note *string, at time.Time) error {
	if !validUUID(transactionID.String()) {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdate, wallet.ErrTransactionNotFound)
	}
	updates := map[string]interface{}{
		"status":     to.String(),
		"updated_at": at.UTC(),
	}
	if note != nil {
		updates["admin_note"] = *note
	}
	result := walletStore.conn(ctx).
		Model(&WalletTransactionModel{}).
		Where("transaction_id = ? AND status = ?", transactionID.String(), from.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := walletStore.GetTransaction(ctx, transactionID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectEntry, errorCodeUpdate, fmt.Errorf("%w: %s is no longer %s", wallet.ErrTransactionStatus, transactionID.String(), from))
	}
	return nil
}

// ListTransactions returns the newest rows of a wallet first.
func (walletStore *WalletStore) ListTransactions(ctx context.Context, walletID string, limit int) ([]wallet.Transaction, error) {
	if !validUUID(walletID) {
		return nil, nil
	}
	var rows []WalletTransactionModel
	err := walletStore.conn(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at desc").
		Order("transaction_id desc").
		Limit(clampLimit(limit, defaultTransactionListLimit)).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	transactions := make([]wallet.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func mapWallet(row WalletModel) (wallet.Wallet, error) {
	userID, err := wallet.NewUserID(row.UserID)
	if err != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeDecode, err)
	}
	return wallet.Wallet{
		WalletID:         row.WalletID,
		UserID:           userID,
		AvailableBalance: row.AvailableBalance.Round(2),
		PendingBalance:   row.PendingBalance.Round(2),
		Currency:         row.Currency,
	}, nil
}

func mapTransaction(row WalletTransactionModel) (wallet.Transaction, error) {
	transactionType, err := wallet.ParseTransactionType(row.Type)
	if err != nil {
		return wallet.Transaction{}, wrapStoreError(errorSubjectEntry, errorCodeDecode, err)
	}
	status, err := wallet.ParseTransactionStatus(row.Status)
	if err != nil {
		return wallet.Transaction{}, wrapStoreError(errorSubjectEntry, errorCodeDecode, err)
	}
	return wallet.Transaction{
		TransactionID:  row.TransactionID,
		WalletID:       row.WalletID,
		Type:           transactionType,
		Status:         status,
		Amount:         row.Amount.Round(2),
		ReferenceID:    row.ReferenceID,
		ReferenceImage: row.ReferenceImage,
		AdminNote:      row.AdminNote,
		CreatedAt:      row.CreatedAt.UTC(),
	}, nil
}
