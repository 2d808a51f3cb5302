package wallet

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/operror"
	"github.com/shopspring/decimal"
)

// Deposit records a PENDING deposit backed by proof. The balance is credited only by ApproveDeposit.
func (service *Service) Deposit(ctx context.Context, userID UserID, amount PositiveAmount, proof string) (Transaction, error) {
	var transaction Transaction
	operationError := service.validateDeposit(amount)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			wallet, err := transactionStore.GetOrCreateWallet(ctx, userID, service.currency)
			if err != nil {
				return err
			}
			var referenceImage *string
			if proof != "" {
				referenceImage = &proof
			}
			input, err := NewTransactionInput(wallet.WalletID, TransactionDeposit, TransactionPending, amount, "", referenceImage, service.now())
			if err != nil {
				return err
			}
			transaction, err = transactionStore.InsertTransaction(ctx, input)
			return err
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationDeposit,
		UserID:    userID,
		Amount:    amount.Decimal(),
		Error:     operationError,
	})
	return transaction, operationError
}

// ApproveDeposit flips a PENDING deposit to APPROVED and credits the available balance once.
func (service *Service) ApproveDeposit(ctx context.Context, transactionID TransactionID, note string) (Transaction, error) {
	return service.settleDeposit(ctx, operationApproveDeposit, transactionID, TransactionApproved, note)
}

// RejectDeposit flips a PENDING deposit to REJECTED; the balance is untouched.
func (service *Service) RejectDeposit(ctx context.Context, transactionID TransactionID, note string) (Transaction, error) {
	return service.settleDeposit(ctx, operationRejectDeposit, transactionID, TransactionRejected, note)
}

// ListTransactions returns the newest ledger rows for a user's wallet.
func (service *Service) ListTransactions(ctx context.Context, userID UserID, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	wallet, err := service.store.GetOrCreateWallet(ctx, userID, service.currency)
	if err != nil {
		return nil, err
	}
	return service.store.ListTransactions(ctx, wallet.WalletID, limit)
}

func (service *Service) settleDeposit(ctx context.Context, operation string, transactionID TransactionID, target TransactionStatus, note string) (Transaction, error) {
	var (
		settled Transaction
		owner   UserID
		amount  decimal.Decimal
	)
	var adminNote *string
	if note != "" {
		adminNote = &note
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		transaction, err := transactionStore.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		amount = transaction.Amount
		if transaction.Type != TransactionDeposit {
			return operror.Wrap(errorOperationService, errorSubjectDeposit, errorCodeStatus, fmt.Errorf("%w: %s is not a deposit", ErrInvalidTransactionType, transactionID.String()))
		}
		wallet, err := transactionStore.WalletByID(ctx, transaction.WalletID)
		if err != nil {
			return err
		}
		owner = wallet.UserID
		nowUTC := service.now()
		if err := transactionStore.UpdateTransactionStatus(ctx, transactionID, TransactionPending, target, adminNote, nowUTC); err != nil {
			return err
		}
		if target == TransactionApproved {
			delta := BalanceDelta{Available: transaction.Amount, Pending: decimal.Zero}
			if _, err := transactionStore.ApplyBalanceDelta(ctx, wallet.WalletID, delta, nowUTC); err != nil {
				return mapGuardError(err, errorSubjectDeposit, ErrBalanceGuard)
			}
		}
		transaction.Status = target
		transaction.AdminNote = adminNote
		settled = transaction
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operation,
		UserID:      owner,
		ReferenceID: transactionID.String(),
		Amount:      amount,
		Error:       operationError,
	})
	return settled, operationError
}

func (service *Service) validateDeposit(amount PositiveAmount) error {
	value := amount.Decimal()
	if value.LessThan(service.depositLimits.Min) || value.GreaterThan(service.depositLimits.Max) {
		return fmt.Errorf("%w: %s not within %s..%s", ErrDepositOutOfBounds, amount.String(), service.depositLimits.Min.String(), service.depositLimits.Max.String())
	}
	return nil
}
