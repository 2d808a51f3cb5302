package wallet

import (
	"context"

	"github.com/shopspring/decimal"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing wallet operation.
type OperationLog struct {
	Operation     string
	UserID        UserID
	CounterpartID *UserID
	ReferenceID   string
	Amount        decimal.Decimal
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithDepositLimits overrides the accepted deposit range.
func WithDepositLimits(limits DepositLimits) ServiceOption {
	return func(service *Service) {
		service.depositLimits = limits
	}
}

// WithCurrency sets the currency stamped on lazily created wallets.
func WithCurrency(currency string) ServiceOption {
	return func(service *Service) {
		if currency != "" {
			service.currency = currency
		}
	}
}
