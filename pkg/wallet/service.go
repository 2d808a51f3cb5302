package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/operror"
	"github.com/shopspring/decimal"
)

// Service is the sole authority for mutating wallet balances.
type Service struct {
	store         Store
	nowFn         func() time.Time
	logger        OperationLogger
	depositLimits DepositLimits
	currency      string
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:         store,
		nowFn:         now,
		depositLimits: DefaultDepositLimits(),
		currency:      defaultCurrency,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.depositLimits.Min.IsNegative() || service.depositLimits.Max.LessThan(service.depositLimits.Min) {
		return nil, fmt.Errorf("%w: deposit limits %s..%s", ErrInvalidServiceConfig, service.depositLimits.Min, service.depositLimits.Max)
	}
	return service, nil
}

// Balance returns the wallet for userID, creating an empty one on first use.
func (service *Service) Balance(ctx context.Context, userID UserID) (Wallet, error) {
	return service.store.GetOrCreateWallet(ctx, userID, service.currency)
}

// LockFunds moves amount from available to pending and records a PAYMENT_LOCK row.
func (service *Service) LockFunds(ctx context.Context, userID UserID, referenceID ReferenceID, amount PositiveAmount) (Transaction, error) {
	var transaction Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		wallet, err := transactionStore.GetOrCreateWallet(ctx, userID, service.currency)
		if err != nil {
			return err
		}
		nowUTC := service.now()
		delta := BalanceDelta{Available: amount.Decimal().Neg(), Pending: amount.Decimal()}
		if _, err := transactionStore.ApplyBalanceDelta(ctx, wallet.WalletID, delta, nowUTC); err != nil {
			return mapGuardError(err, errorSubjectWallet, ErrInsufficientFunds)
		}
		input, err := NewTransactionInput(wallet.WalletID, TransactionPaymentLock, TransactionApproved, amount, referenceID.String(), nil, nowUTC)
		if err != nil {
			return err
		}
		transaction, err = transactionStore.InsertTransaction(ctx, input)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationLock,
		UserID:      userID,
		ReferenceID: referenceID.String(),
		Amount:      amount.Decimal(),
		Error:       operationError,
	})
	return transaction, operationError
}

// ReleaseFunds settles a lock: the payer's pending balance drops by amount and the payee is
// credited amount*(1-rate). The commission stays with the platform.
func (service *Service) ReleaseFunds(ctx context.Context, payerID UserID, payeeID UserID, referenceID ReferenceID, amount PositiveAmount, rate CommissionRate) (Transaction, error) {
	var payerTransaction Transaction
	payeeShare := rate.PayeeShare(amount)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		payerWallet, err := transactionStore.GetOrCreateWallet(ctx, payerID, service.currency)
		if err != nil {
			return err
		}
		nowUTC := service.now()
		payerDelta := BalanceDelta{Available: decimal.Zero, Pending: amount.Decimal().Neg()}
		if _, err := transactionStore.ApplyBalanceDelta(ctx, payerWallet.WalletID, payerDelta, nowUTC); err != nil {
			return mapGuardError(err, errorSubjectPayer, ErrInsufficientPendingFunds)
		}
		payerInput, err := NewTransactionInput(payerWallet.WalletID, TransactionPaymentRelease, TransactionApproved, amount, referenceID.String(), nil, nowUTC)
		if err != nil {
			return err
		}
		payerTransaction, err = transactionStore.InsertTransaction(ctx, payerInput)
		if err != nil {
			return err
		}
		if !payeeShare.IsPositive() {
			return nil
		}
		payeeWallet, err := transactionStore.GetOrCreateWallet(ctx, payeeID, service.currency)
		if err != nil {
			return err
		}
		payeeDelta := BalanceDelta{Available: payeeShare, Pending: decimal.Zero}
		if _, err := transactionStore.ApplyBalanceDelta(ctx, payeeWallet.WalletID, payeeDelta, nowUTC); err != nil {
			return mapGuardError(err, errorSubjectPayee, ErrBalanceGuard)
		}
		payeeAmount, err := NewPositiveAmount(payeeShare)
		if err != nil {
			return err
		}
		payeeInput, err := NewTransactionInput(payeeWallet.WalletID, TransactionEscrowRelease, TransactionApproved, payeeAmount, referenceID.String(), nil, nowUTC)
		if err != nil {
			return err
		}
		_, err = transactionStore.InsertTransaction(ctx, payeeInput)
		return err
	})
	payeeRef := payeeID
	service.logOperation(ctx, OperationLog{
		Operation:     operationRelease,
		UserID:        payerID,
		CounterpartID: &payeeRef,
		ReferenceID:   referenceID.String(),
		Amount:        amount.Decimal(),
		Error:         operationError,
	})
	return payerTransaction, operationError
}

// Refund reverses a lock, returning amount from pending to available.
func (service *Service) Refund(ctx context.Context, userID UserID, referenceID ReferenceID, amount PositiveAmount) (Transaction, error) {
	var transaction Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		wallet, err := transactionStore.GetOrCreateWallet(ctx, userID, service.currency)
		if err != nil {
			return err
		}
		nowUTC := service.now()
		delta := BalanceDelta{Available: amount.Decimal(), Pending: amount.Decimal().Neg()}
		if _, err := transactionStore.ApplyBalanceDelta(ctx, wallet.WalletID, delta, nowUTC); err != nil {
			return mapGuardError(err, errorSubjectWallet, ErrInsufficientPendingFunds)
		}
		input, err := NewTransactionInput(wallet.WalletID, TransactionRefund, TransactionApproved, amount, referenceID.String(), nil, nowUTC)
		if err != nil {
			return err
		}
		transaction, err = transactionStore.InsertTransaction(ctx, input)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationRefund,
		UserID:      userID,
		ReferenceID: referenceID.String(),
		Amount:      amount.Decimal(),
		Error:       operationError,
	})
	return transaction, operationError
}

func (service *Service) now() time.Time {
	return service.nowFn().UTC()
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func mapGuardError(err error, subject string, domainError error) error {
	if errors.Is(err, ErrBalanceGuard) {
		return operror.Wrap(errorOperationService, subject, errorCodeGuard, domainError)
	}
	return err
}
