package gormstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/tutorbook/pkg/wallet"
	"github.com/shopspring/decimal"
)

var fixedTime = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func TestGetOrCreateWalletIsIdempotent(test *testing.T) {
	store, _ := openTestStore(test)
	wallets := store.Wallets()
	ctx := context.Background()
	userID := mustUserID(test, "parent-1")

	first, err := wallets.GetOrCreateWallet(ctx, userID, "KES")
	if err != nil {
		test.Fatalf("create wallet: %v", err)
	}
	second, err := wallets.GetOrCreateWallet(ctx, userID, "KES")
	if err != nil {
		test.Fatalf("second create: %v", err)
	}
	if first.WalletID == "" || first.WalletID != second.WalletID {
		test.Fatalf("expected one wallet, got %q and %q", first.WalletID, second.WalletID)
	}
	assertDecimal(test, "available", first.AvailableBalance, "0")
	assertDecimal(test, "pending", first.PendingBalance, "0")
}

func TestGetWalletReportsMissing(test *testing.T) {
	store, _ := openTestStore(test)
	_, err := store.Wallets().GetWallet(context.Background(), mustUserID(test, "nobody"))
	if !errors.Is(err, wallet.ErrWalletNotFound) {
		test.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
	_, err = store.Wallets().WalletByID(context.Background(), "not-a-uuid")
	if !errors.Is(err, wallet.ErrWalletNotFound) {
		test.Fatalf("expected ErrWalletNotFound for malformed id, got %v", err)
	}
}

func TestApplyBalanceDeltaGuardsNegativeBalances(test *testing.T) {
	store, _ := openTestStore(test)
	wallets := store.Wallets()
	ctx := context.Background()
	created, err := wallets.GetOrCreateWallet(ctx, mustUserID(test, "parent-1"), "KES")
	if err != nil {
		test.Fatalf("create wallet: %v", err)
	}

	updated, err := wallets.ApplyBalanceDelta(ctx, created.WalletID, wallet.BalanceDelta{Available: decimal.RequireFromString("100.10"), Pending: decimal.Zero}, fixedTime)
	if err != nil {
		test.Fatalf("credit: %v", err)
	}
	assertDecimal(test, "available", updated.AvailableBalance, "100.10")

	_, err = wallets.ApplyBalanceDelta(ctx, created.WalletID, wallet.BalanceDelta{Available: decimal.RequireFromString("-100.11"), Pending: decimal.RequireFromString("100.11")}, fixedTime)
	if !errors.Is(err, wallet.ErrBalanceGuard) {
		test.Fatalf("expected ErrBalanceGuard, got %v", err)
	}

	moved, err := wallets.ApplyBalanceDelta(ctx, created.WalletID, wallet.BalanceDelta{Available: decimal.RequireFromString("-100.10"), Pending: decimal.RequireFromString("100.10")}, fixedTime)
	if err != nil {
		test.Fatalf("lock everything: %v", err)
	}
	assertDecimal(test, "available", moved.AvailableBalance, "0")
	assertDecimal(test, "pending", moved.PendingBalance, "100.10")
}

func TestUpdateTransactionStatusIsConditional(test *testing.T) {
	store, _ := openTestStore(test)
	wallets := store.Wallets()
	ctx := context.Background()
	created, err := wallets.GetOrCreateWallet(ctx, mustUserID(test, "parent-1"), "KES")
	if err != nil {
		test.Fatalf("create wallet: %v", err)
	}
	proof := "receipts/1.png"
	input, err := wallet.NewTransactionInput(created.WalletID, wallet.TransactionDeposit, wallet.TransactionPending, mustAmount(test, "500"), "deposit-1", &proof, fixedTime)
	if err != nil {
		test.Fatalf("input: %v", err)
	}
	inserted, err := wallets.InsertTransaction(ctx, input)
	if err != nil {
		test.Fatalf("insert: %v", err)
	}
	transactionID, err := wallet.NewTransactionID(inserted.TransactionID)
	if err != nil {
		test.Fatalf("transaction id: %v", err)
	}

	note := "checked"
	if err := wallets.UpdateTransactionStatus(ctx, transactionID, wallet.TransactionPending, wallet.TransactionApproved, &note, fixedTime); err != nil {
		test.Fatalf("approve: %v", err)
	}
	err = wallets.UpdateTransactionStatus(ctx, transactionID, wallet.TransactionPending, wallet.TransactionRejected, nil, fixedTime)
	if !errors.Is(err, wallet.ErrTransactionStatus) {
		test.Fatalf("expected ErrTransactionStatus, got %v", err)
	}

	stored, err := wallets.GetTransaction(ctx, transactionID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if stored.Status != wallet.TransactionApproved || stored.AdminNote == nil || *stored.AdminNote != note {
		test.Fatalf("unexpected stored transaction: %+v", stored)
	}
	if stored.ReferenceImage == nil || *stored.ReferenceImage != proof {
		test.Fatalf("expected proof to round trip, got %v", stored.ReferenceImage)
	}

	missing, _ := wallet.NewTransactionID("7b0f7d8e-4b7e-4a43-9f0e-5f1d3c2b1a00")
	err = wallets.UpdateTransactionStatus(ctx, missing, wallet.TransactionPending, wallet.TransactionApproved, nil, fixedTime)
	if !errors.Is(err, wallet.ErrTransactionNotFound) {
		test.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestWalletServiceOverGormRollsBackFailedUnitOfWork(test *testing.T) {
	store, _ := openTestStore(test)
	ctx := context.Background()
	service, err := wallet.NewService(store.Wallets(), func() time.Time { return fixedTime })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	parentID := mustUserID(test, "parent-1")
	seedBalance(test, store.Wallets(), parentID, "100")

	if _, err := service.LockFunds(ctx, parentID, mustReferenceID(test, "booking-1"), mustAmount(test, "150")); !errors.Is(err, wallet.ErrInsufficientFunds) {
		test.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	balance, err := service.Balance(ctx, parentID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	assertDecimal(test, "available", balance.AvailableBalance, "100")
	assertDecimal(test, "pending", balance.PendingBalance, "0")
	transactions, err := service.ListTransactions(ctx, parentID, 10)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(transactions) != 0 {
		test.Fatalf("expected no ledger rows after rollback, got %d", len(transactions))
	}
}

func TestConcurrentLocksNeverOverdraw(test *testing.T) {
	store, _ := openTestStore(test)
	ctx := context.Background()
	service, err := wallet.NewService(store.Wallets(), func() time.Time { return fixedTime })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	parentID := mustUserID(test, "parent-1")
	seedBalance(test, store.Wallets(), parentID, "1000")

	referenceID := mustReferenceID(test, "booking-concurrent")
	amount := mustAmount(test, "300")
	const attempts = 8
	var (
		waitGroup sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for index := 0; index < attempts; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, lockErr := service.LockFunds(ctx, parentID, referenceID, amount)
			if lockErr == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	waitGroup.Wait()

	if succeeded != 3 {
		test.Fatalf("expected exactly 3 locks of 300 from 1000, got %d", succeeded)
	}
	balance, err := service.Balance(ctx, parentID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	assertDecimal(test, "available", balance.AvailableBalance, "100")
	assertDecimal(test, "pending", balance.PendingBalance, "900")
}

func seedBalance(test *testing.T, wallets *gormstore.WalletStore, userID wallet.UserID, available string) {
	test.Helper()
	ctx := context.Background()
	created, err := wallets.GetOrCreateWallet(ctx, userID, "KES")
	if err != nil {
		test.Fatalf("seed wallet: %v", err)
	}
	if _, err := wallets.ApplyBalanceDelta(ctx, created.WalletID, wallet.BalanceDelta{Available: decimal.RequireFromString(available), Pending: decimal.Zero}, fixedTime); err != nil {
		test.Fatalf("seed balance: %v", err)
	}
}
