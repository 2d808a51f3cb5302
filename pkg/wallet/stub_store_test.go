package wallet

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubStore struct {
	wallets      map[string]Wallet
	transactions []Transaction
	nextID       int

	getWalletError    error
	applyDeltaError   error
	insertError       error
	getTransactionErr error
	updateStatusError error
	listError         error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{wallets: make(map[string]Wallet)}
}

// WithTx restores the pre-call state when fn fails so tests observe all-or-nothing behaviour.
func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	walletSnapshot := make(map[string]Wallet, len(store.wallets))
	for key, value := range store.wallets {
		walletSnapshot[key] = value
	}
	transactionSnapshot := append([]Transaction(nil), store.transactions...)
	if err := fn(ctx, store); err != nil {
		store.wallets = walletSnapshot
		store.transactions = transactionSnapshot
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateWallet(ctx context.Context, userID UserID, currency string) (Wallet, error) {
	if store.getWalletError != nil {
		return Wallet{}, store.getWalletError
	}
	if wallet, ok := store.wallets[userID.String()]; ok {
		return wallet, nil
	}
	store.nextID++
	wallet := Wallet{
		WalletID:         fmt.Sprintf("wallet-%d", store.nextID),
		UserID:           userID,
		AvailableBalance: decimal.Zero,
		PendingBalance:   decimal.Zero,
		Currency:         currency,
	}
	store.wallets[userID.String()] = wallet
	return wallet, nil
}

func (store *stubStore) GetWallet(ctx context.Context, userID UserID) (Wallet, error) {
	wallet, ok := store.wallets[userID.String()]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return wallet, nil
}

func (store *stubStore) WalletByID(ctx context.Context, walletID string) (Wallet, error) {
	for _, wallet := range store.wallets {
		if wallet.WalletID == walletID {
			return wallet, nil
		}
	}
	return Wallet{}, ErrWalletNotFound
}

func (store *stubStore) ApplyBalanceDelta(ctx context.Context, walletID string, delta BalanceDelta, at time.Time) (Wallet, error) {
	if store.applyDeltaError != nil {
		return Wallet{}, store.applyDeltaError
	}
	for key, wallet := range store.wallets {
		if wallet.WalletID != walletID {
			continue
		}
		available := wallet.AvailableBalance.Add(delta.Available)
		pending := wallet.PendingBalance.Add(delta.Pending)
		if available.IsNegative() || pending.IsNegative() {
			return Wallet{}, ErrBalanceGuard
		}
		wallet.AvailableBalance = available
		wallet.PendingBalance = pending
		store.wallets[key] = wallet
		return wallet, nil
	}
	return Wallet{}, ErrWalletNotFound
}

func (store *stubStore) InsertTransaction(ctx context.Context, input TransactionInput) (Transaction, error) {
	if store.insertError != nil {
		return Transaction{}, store.insertError
	}
	store.nextID++
	transaction := Transaction{
		TransactionID:  fmt.Sprintf("tx-%d", store.nextID),
		WalletID:       input.WalletID(),
		Type:           input.Type(),
		Status:         input.Status(),
		Amount:         input.Amount().Decimal(),
		ReferenceID:    input.ReferenceID(),
		ReferenceImage: input.ReferenceImage(),
		CreatedAt:      input.CreatedAt(),
	}
	store.transactions = append(store.transactions, transaction)
	return transaction, nil
}

func (store *stubStore) GetTransaction(ctx context.Context, transactionID TransactionID) (Transaction, error) {
	if store.getTransactionErr != nil {
		return Transaction{}, store.getTransactionErr
	}
	for _, transaction := range store.transactions {
		if transaction.TransactionID == transactionID.String() {
			return transaction, nil
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

func (store *stubStore) UpdateTransactionStatus(ctx context.Context, transactionID TransactionID, from, to TransactionStatus, note *string, at time.Time) error {
	if store.updateStatusError != nil {
		return store.updateStatusError
	}
	for index, transaction := range store.transactions {
		if transaction.TransactionID != transactionID.String() {
			continue
		}
		if transaction.Status != from {
			return ErrTransactionStatus
		}
		store.transactions[index].Status = to
		store.transactions[index].AdminNote = note
		return nil
	}
	return ErrTransactionNotFound
}

func (store *stubStore) ListTransactions(ctx context.Context, walletID string, limit int) ([]Transaction, error) {
	if store.listError != nil {
		return nil, store.listError
	}
	var out []Transaction
	for index := len(store.transactions) - 1; index >= 0 && len(out) < limit; index-- {
		if store.transactions[index].WalletID == walletID {
			out = append(out, store.transactions[index])
		}
	}
	return out, nil
}

func (store *stubStore) seed(test *testing.T, userID UserID, available string, pending string) Wallet {
	test.Helper()
	wallet, err := store.GetOrCreateWallet(context.Background(), userID, defaultCurrency)
	if err != nil {
		test.Fatalf("seed wallet: %v", err)
	}
	wallet.AvailableBalance = decimal.RequireFromString(available)
	wallet.PendingBalance = decimal.RequireFromString(pending)
	store.wallets[userID.String()] = wallet
	return wallet
}

func (store *stubStore) mustWallet(test *testing.T, userID UserID) Wallet {
	test.Helper()
	wallet, ok := store.wallets[userID.String()]
	if !ok {
		test.Fatalf("wallet %s not found", userID.String())
	}
	return wallet
}

func (store *stubStore) transactionsOfType(transactionType TransactionType) []Transaction {
	var out []Transaction
	for _, transaction := range store.transactions {
		if transaction.Type == transactionType {
			out = append(out, transaction)
		}
	}
	return out
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time { return time.Unix(100, 0) }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustReferenceID(test *testing.T, raw string) ReferenceID {
	test.Helper()
	value, err := NewReferenceID(raw)
	if err != nil {
		test.Fatalf("reference id: %v", err)
	}
	return value
}

func mustTransactionID(test *testing.T, raw string) TransactionID {
	test.Helper()
	value, err := NewTransactionID(raw)
	if err != nil {
		test.Fatalf("transaction id: %v", err)
	}
	return value
}

func mustAmount(test *testing.T, raw string) PositiveAmount {
	test.Helper()
	value, err := ParsePositiveAmount(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}

func mustRate(test *testing.T, raw string) CommissionRate {
	test.Helper()
	value, err := ParseCommissionRate(raw)
	if err != nil {
		test.Fatalf("commission rate: %v", err)
	}
	return value
}

func assertDecimal(test *testing.T, label string, got decimal.Decimal, want string) {
	test.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		test.Fatalf("%s: expected %s, got %s", label, want, got.String())
	}
}
