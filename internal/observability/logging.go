// Package observability adapts domain callbacks to zap and Prometheus.
package observability

import (
	"context"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/booking"
	"github.com/MarkoPoloResearchLab/tutorbook/pkg/wallet"
	"go.uber.org/zap"
)

// WalletLogger implements wallet.OperationLogger.
type WalletLogger struct {
	logger *zap.Logger
}

// NewWalletLogger returns a WalletLogger; a nil logger discards output.
func NewWalletLogger(logger *zap.Logger) *WalletLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletLogger{logger: logger.Named("wallet")}
}

func (walletLogger *WalletLogger) LogOperation(ctx context.Context, entry wallet.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("reference_id", entry.ReferenceID),
		zap.String("amount", entry.Amount.StringFixed(2)),
		zap.String("status", entry.Status),
	}
	if entry.CounterpartID != nil {
		fields = append(fields, zap.String("counterpart_id", entry.CounterpartID.String()))
	}
	if entry.Error != nil {
		walletLogger.logger.Warn("wallet operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	walletLogger.logger.Info("wallet operation", fields...)
}

// BookingLogger implements booking.TransitionLogger.
type BookingLogger struct {
	logger *zap.Logger
}

// NewBookingLogger returns a BookingLogger; a nil logger discards output.
func NewBookingLogger(logger *zap.Logger) *BookingLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingLogger{logger: logger.Named("booking")}
}

func (bookingLogger *BookingLogger) LogTransition(ctx context.Context, entry booking.TransitionLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("booking_id", entry.BookingID),
		zap.String("actor_id", entry.Actor.UserID),
		zap.String("actor_role", string(entry.Actor.Role)),
		zap.String("from", entry.From.String()),
		zap.String("to", entry.To.String()),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		bookingLogger.logger.Warn("booking transition rejected", append(fields, zap.Error(entry.Error))...)
		return
	}
	bookingLogger.logger.Info("booking transition", fields...)
}

// CronLogger adapts zap to the cron.Logger interface.
type CronLogger struct {
	logger *zap.SugaredLogger
}

// NewCronLogger returns a CronLogger; a nil logger discards output.
func NewCronLogger(logger *zap.Logger) CronLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return CronLogger{logger: logger.Named("cron").Sugar()}
}

func (cronLogger CronLogger) Info(msg string, keysAndValues ...interface{}) {
	cronLogger.logger.Debugw(msg, keysAndValues...)
}

func (cronLogger CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	cronLogger.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
