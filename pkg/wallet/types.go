package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UserID identifies a wallet owner.
type UserID struct {
	value string
}

// ReferenceID links a ledger row to the booking or external document that caused it.
type ReferenceID struct {
	value string
}

// TransactionID identifies a stored wallet transaction.
type TransactionID struct {
	value string
}

// PositiveAmount is a strictly positive money amount.
type PositiveAmount struct {
	value decimal.Decimal
}

// CommissionRate is the platform share of a released payment, within [0,1].
type CommissionRate struct {
	value decimal.Decimal
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewReferenceID validates and normalizes a reference id.
func NewReferenceID(raw string) (ReferenceID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ReferenceID{}, fmt.Errorf("%w: empty value", ErrInvalidReferenceID)
	}
	return ReferenceID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ReferenceID) String() string {
	return id.value
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// NewPositiveAmount validates an amount and ensures it is strictly positive.
// The check applies after rounding to cents, so sub-cent values are rejected.
func NewPositiveAmount(value decimal.Decimal) (PositiveAmount, error) {
	rounded := value.Round(amountPrecision)
	if !rounded.IsPositive() {
		return PositiveAmount{}, fmt.Errorf("%w: %s must be at least 0.01", ErrInvalidAmount, value.String())
	}
	return PositiveAmount{value: rounded}, nil
}

// ParsePositiveAmount parses a decimal string into a PositiveAmount.
func ParsePositiveAmount(raw string) (PositiveAmount, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return PositiveAmount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return NewPositiveAmount(value)
}

// Decimal returns the underlying decimal value.
func (amount PositiveAmount) Decimal() decimal.Decimal {
	return amount.value
}

// String renders the amount with two decimal places.
func (amount PositiveAmount) String() string {
	return amount.value.StringFixed(amountPrecision)
}

// NewCommissionRate validates that the rate is a fraction in [0,1] with at most
// four decimal places, the precision the bookings table stores.
func NewCommissionRate(value decimal.Decimal) (CommissionRate, error) {
	if value.IsNegative() || value.GreaterThan(decimal.NewFromInt(1)) {
		return CommissionRate{}, fmt.Errorf("%w: %s outside [0,1]", ErrInvalidCommissionRate, value.String())
	}
	if !value.Equal(value.Round(commissionRatePrecision)) {
		return CommissionRate{}, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidCommissionRate, value.String(), commissionRatePrecision)
	}
	return CommissionRate{value: value}, nil
}

// ParseCommissionRate parses a decimal string into a CommissionRate.
func ParseCommissionRate(raw string) (CommissionRate, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return CommissionRate{}, fmt.Errorf("%w: %v", ErrInvalidCommissionRate, err)
	}
	return NewCommissionRate(value)
}

// Decimal returns the underlying fraction.
func (rate CommissionRate) Decimal() decimal.Decimal {
	return rate.value
}

// PayeeShare returns amount*(1-rate), rounded to cents.
func (rate CommissionRate) PayeeShare(amount PositiveAmount) decimal.Decimal {
	return amount.Decimal().Mul(decimal.NewFromInt(1).Sub(rate.value)).Round(amountPrecision)
}

// TransactionType enumerates ledger row kinds.
type TransactionType string

const (
	TransactionDeposit                  TransactionType = "DEPOSIT"
	TransactionPaymentLock              TransactionType = "PAYMENT_LOCK"
	TransactionPaymentRelease           TransactionType = "PAYMENT_RELEASE"
	TransactionRefund                   TransactionType = "REFUND"
	TransactionPackagePurchase          TransactionType = "PACKAGE_PURCHASE"
	TransactionPackageRelease           TransactionType = "PACKAGE_RELEASE"
	TransactionEscrowRelease            TransactionType = "ESCROW_RELEASE"
	TransactionCancellationCompensation TransactionType = "CANCELLATION_COMPENSATION"
	TransactionWithdrawal               TransactionType = "WITHDRAWAL"
	TransactionWithdrawalCompleted      TransactionType = "WITHDRAWAL_COMPLETED"
	TransactionWithdrawalRefunded       TransactionType = "WITHDRAWAL_REFUNDED"
	TransactionDepositApproved          TransactionType = "DEPOSIT_APPROVED"
)

// ParseTransactionType validates a stored transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionDeposit, TransactionPaymentLock, TransactionPaymentRelease, TransactionRefund,
		TransactionPackagePurchase, TransactionPackageRelease, TransactionEscrowRelease,
		TransactionCancellationCompensation, TransactionWithdrawal, TransactionWithdrawalCompleted,
		TransactionWithdrawalRefunded, TransactionDepositApproved:
		return TransactionType(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
	}
}

// String returns the stored representation.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// TransactionStatus defines the administrative lifecycle of a ledger row.
type TransactionStatus string

const (
	TransactionPending  TransactionStatus = "PENDING"
	TransactionApproved TransactionStatus = "APPROVED"
	TransactionRejected TransactionStatus = "REJECTED"
	TransactionPaid     TransactionStatus = "PAID"
)

// ParseTransactionStatus validates a stored transaction status.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(raw) {
	case TransactionPending, TransactionApproved, TransactionRejected, TransactionPaid:
		return TransactionStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionStatus, raw)
	}
}

// String returns the stored representation.
func (status TransactionStatus) String() string {
	return string(status)
}

// Wallet is the balance view for one user.
type Wallet struct {
	WalletID         string
	UserID           UserID
	AvailableBalance decimal.Decimal
	PendingBalance   decimal.Decimal
	Currency         string
}

// BalanceDelta is applied atomically to both balance columns of a wallet.
type BalanceDelta struct {
	Available decimal.Decimal
	Pending   decimal.Decimal
}

// Transaction is a single append-only ledger row.
type Transaction struct {
	TransactionID  string
	WalletID       string
	Type           TransactionType
	Status         TransactionStatus
	Amount         decimal.Decimal
	ReferenceID    string
	ReferenceImage *string
	AdminNote      *string
	CreatedAt      time.Time
}

// TransactionInput is a validated row ready to be inserted.
type TransactionInput struct {
	walletID       string
	kind           TransactionType
	status         TransactionStatus
	amount         PositiveAmount
	referenceID    string
	referenceImage *string
	createdAt      time.Time
}

// NewTransactionInput validates the pieces of a ledger row.
func NewTransactionInput(walletID string, transactionType TransactionType, status TransactionStatus, amount PositiveAmount, referenceID string, referenceImage *string, createdAt time.Time) (TransactionInput, error) {
	if strings.TrimSpace(walletID) == "" {
		return TransactionInput{}, fmt.Errorf("%w: wallet id is empty", ErrWalletNotFound)
	}
	if _, err := ParseTransactionType(string(transactionType)); err != nil {
		return TransactionInput{}, err
	}
	if _, err := ParseTransactionStatus(string(status)); err != nil {
		return TransactionInput{}, err
	}
	if !amount.Decimal().IsPositive() {
		return TransactionInput{}, fmt.Errorf("%w: transaction amount must be positive", ErrInvalidAmount)
	}
	return TransactionInput{
		walletID:       walletID,
		kind:           transactionType,
		status:         status,
		amount:         amount,
		referenceID:    referenceID,
		referenceImage: referenceImage,
		createdAt:      createdAt.UTC(),
	}, nil
}

// WalletID returns the owning wallet.
func (input TransactionInput) WalletID() string { return input.walletID }

// Type returns the row kind.
func (input TransactionInput) Type() TransactionType { return input.kind }

// Status returns the initial status.
func (input TransactionInput) Status() TransactionStatus { return input.status }

// Amount returns the row amount.
func (input TransactionInput) Amount() PositiveAmount { return input.amount }

// ReferenceID returns the linked reference.
func (input TransactionInput) ReferenceID() string { return input.referenceID }

// ReferenceImage returns the optional proof image.
func (input TransactionInput) ReferenceImage() *string { return input.referenceImage }

// CreatedAt returns the row timestamp.
func (input TransactionInput) CreatedAt() time.Time { return input.createdAt }

// DepositLimits bounds the amount accepted by Deposit.
type DepositLimits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// DefaultDepositLimits returns the 1 … 1,000,000 range.
func DefaultDepositLimits() DepositLimits {
	return DepositLimits{Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(1_000_000)}
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateWallet(ctx context.Context, userID UserID, currency string) (Wallet, error)
	GetWallet(ctx context.Context, userID UserID) (Wallet, error)
	// ApplyBalanceDelta adds delta to both balances only if neither would go negative; a
	// rejected guard returns ErrBalanceGuard.
	ApplyBalanceDelta(ctx context.Context, walletID string, delta BalanceDelta, at time.Time) (Wallet, error)
	InsertTransaction(ctx context.Context, input TransactionInput) (Transaction, error)
	GetTransaction(ctx context.Context, transactionID TransactionID) (Transaction, error)
	// UpdateTransactionStatus flips status only while it still equals from.
	UpdateTransactionStatus(ctx context.Context, transactionID TransactionID, from, to TransactionStatus, note *string, at time.Time) error
	WalletByID(ctx context.Context, walletID string) (Wallet, error)
	ListTransactions(ctx context.Context, walletID string, limit int) ([]Transaction, error)
}
