package wallet

import "errors"

// Domain-level error values returned by the wallet ledger.
var (
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrInsufficientPendingFunds = errors.New("insufficient pending funds")
	ErrBalanceGuard             = errors.New("balance guard rejected update")
	ErrWalletNotFound           = errors.New("wallet not found")
	ErrTransactionNotFound      = errors.New("transaction not found")
	ErrTransactionStatus        = errors.New("transaction status conflict")
	ErrInvalidUserID            = errors.New("invalid user id")
	ErrInvalidReferenceID       = errors.New("invalid reference id")
	ErrInvalidTransactionID     = errors.New("invalid transaction id")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidCommissionRate    = errors.New("invalid commission rate")
	ErrInvalidTransactionType   = errors.New("invalid transaction type")
	ErrInvalidTransactionStatus = errors.New("invalid transaction status")
	ErrDepositOutOfBounds       = errors.New("deposit amount out of bounds")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)
