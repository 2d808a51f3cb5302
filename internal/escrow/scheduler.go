// Package escrow runs the time-driven booking transitions: stale requests expire, ended
// sessions move to confirmation, and unconfirmed sessions release their escrow.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/booking"
	"go.uber.org/zap"
)

// Job names used in logs and metrics.
const (
	JobExpire       = "expire"
	JobAutoRelease  = "auto_release"
	JobAutoComplete = "auto_complete"
)

// Item outcomes used in logs and metrics.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

const defaultBatchSize = 100

var ErrInvalidSchedulerConfig = errors.New("invalid scheduler config")

// Bookings is the subset of booking.Service the scheduler drives.
type Bookings interface {
	StaleApprovals(ctx context.Context, limit int) ([]booking.Booking, error)
	ConfirmationDue(ctx context.Context, limit int) ([]booking.Booking, error)
	EndedSessions(ctx context.Context, limit int) ([]booking.Booking, error)
	Expire(ctx context.Context, actor booking.Actor, bookingID string) (booking.Booking, error)
	AutoRelease(ctx context.Context, actor booking.Actor, bookingID string) (booking.Booking, error)
	MarkComplete(ctx context.Context, actor booking.Actor, bookingID string) (booking.Booking, error)
}

// Metrics receives per-item outcomes and per-run timings.
type Metrics interface {
	ObserveEscrowItem(job string, outcome string)
	ObserveEscrowRun(result Result, elapsed time.Duration)
}

// Result counts what one run did.
type Result struct {
	Expired   int
	Released  int
	Completed int
	Skipped   int
	Failed    int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBatchSize caps how many bookings each job handles per run.
func WithBatchSize(size int) Option {
	return func(scheduler *Scheduler) {
		if size > 0 {
			scheduler.batchSize = size
		}
	}
}

// WithMetrics wires a metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(scheduler *Scheduler) {
		scheduler.metrics = metrics
	}
}

// Scheduler applies overdue transitions as the system actor.
type Scheduler struct {
	bookings  Bookings
	logger    *zap.Logger
	metrics   Metrics
	batchSize int
	now       func() time.Time
}

type job struct {
	name  string
	list  func(ctx context.Context, limit int) ([]booking.Booking, error)
	apply func(ctx context.Context, actor booking.Actor, bookingID string) (booking.Booking, error)
	count func(result *Result)
}

// NewScheduler wires a Scheduler. A nil logger discards output.
func NewScheduler(bookings Bookings, now func() time.Time, logger *zap.Logger, options ...Option) (*Scheduler, error) {
	if bookings == nil {
		return nil, fmt.Errorf("%w: bookings dependency is nil", ErrInvalidSchedulerConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidSchedulerConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	scheduler := &Scheduler{bookings: bookings, logger: logger, batchSize: defaultBatchSize, now: now}
	for _, option := range options {
		if option != nil {
			option(scheduler)
		}
	}
	return scheduler, nil
}

// RunOnce expires stale requests, releases unconfirmed sessions, then moves ended sessions to
// confirmation. One failing booking never stops the rest of the batch; list failures are
// returned joined after every job has run.
func (scheduler *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	startedAt := scheduler.now()
	var (
		result   Result
		failures []error
	)
	for _, current := range scheduler.jobs() {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		candidates, err := current.list(ctx, scheduler.batchSize)
		if err != nil {
			scheduler.logger.Error("escrow job listing failed", zap.String("job", current.name), zap.Error(err))
			failures = append(failures, fmt.Errorf("%s: %w", current.name, err))
			continue
		}
		for _, candidate := range candidates {
			outcome := scheduler.applyIsolated(ctx, current, candidate)
			switch outcome {
			case OutcomeApplied:
				current.count(&result)
			case OutcomeSkipped:
				result.Skipped++
			default:
				result.Failed++
			}
			if scheduler.metrics != nil {
				scheduler.metrics.ObserveEscrowItem(current.name, outcome)
			}
		}
	}
	elapsed := scheduler.now().Sub(startedAt)
	if scheduler.metrics != nil {
		scheduler.metrics.ObserveEscrowRun(result, elapsed)
	}
	if result.Expired+result.Released+result.Completed+result.Failed > 0 {
		scheduler.logger.Info("escrow run finished",
			zap.Int("expired", result.Expired),
			zap.Int("released", result.Released),
			zap.Int("completed", result.Completed),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
			zap.Duration("elapsed", elapsed),
		)
	}
	return result, errors.Join(failures...)
}

func (scheduler *Scheduler) jobs() []job {
	return []job{
		{
			name:  JobExpire,
			list:  scheduler.bookings.StaleApprovals,
			apply: scheduler.bookings.Expire,
			count: func(result *Result) { result.Expired++ },
		},
		{
			name:  JobAutoRelease,
			list:  scheduler.bookings.ConfirmationDue,
			apply: scheduler.bookings.AutoRelease,
			count: func(result *Result) { result.Released++ },
		},
		{
			name:  JobAutoComplete,
			list:  scheduler.bookings.EndedSessions,
			apply: scheduler.bookings.MarkComplete,
			count: func(result *Result) { result.Completed++ },
		},
	}
}

func (scheduler *Scheduler) applyIsolated(ctx context.Context, current job, candidate booking.Booking) (outcome string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			scheduler.logger.Error("escrow item panicked",
				zap.String("job", current.name),
				zap.String("booking_id", candidate.ID),
				zap.Any("panic", recovered),
			)
			outcome = OutcomeFailed
		}
	}()
	_, err := current.apply(ctx, booking.SystemActor(), candidate.ID)
	switch {
	case err == nil:
		return OutcomeApplied
	case errors.Is(err, booking.ErrInvalidStateTransition):
		// A user acted on the booking between listing and applying.
		scheduler.logger.Debug("escrow item skipped", zap.String("job", current.name), zap.String("booking_id", candidate.ID), zap.Error(err))
		return OutcomeSkipped
	default:
		scheduler.logger.Error("escrow item failed", zap.String("job", current.name), zap.String("booking_id", candidate.ID), zap.Error(err))
		return OutcomeFailed
	}
}
