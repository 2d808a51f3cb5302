package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBatchSize    = 10
	defaultMaxAttempts  = 5
	defaultStuckTimeout = 2 * time.Minute
	lastErrorLimit      = 500

	OutcomeSent    = "sent"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// WorkerConfig tunes the poll cycle.
type WorkerConfig struct {
	BatchSize    int
	MaxAttempts  int
	StuckTimeout time.Duration
}

// DefaultWorkerConfig returns batch 10, five attempts and a two minute watchdog.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:    defaultBatchSize,
		MaxAttempts:  defaultMaxAttempts,
		StuckTimeout: defaultStuckTimeout,
	}
}

// Metrics receives per-entry outcomes and per-cycle timings.
type Metrics interface {
	ObserveDelivery(template string, outcome string)
	ObserveCycle(result RunResult, elapsed time.Duration)
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerConfig overrides the defaults; zero fields keep their default.
func WithWorkerConfig(config WorkerConfig) WorkerOption {
	return func(worker *Worker) {
		if config.BatchSize > 0 {
			worker.config.BatchSize = config.BatchSize
		}
		if config.MaxAttempts > 0 {
			worker.config.MaxAttempts = config.MaxAttempts
		}
		if config.StuckTimeout > 0 {
			worker.config.StuckTimeout = config.StuckTimeout
		}
	}
}

// WithMetrics wires a metrics sink.
func WithMetrics(metrics Metrics) WorkerOption {
	return func(worker *Worker) {
		worker.metrics = metrics
	}
}

// Worker drains the outbox.
type Worker struct {
	store    Store
	registry *TemplateRegistry
	sender   Sender
	nowFn    func() time.Time
	logger   *zap.Logger
	metrics  Metrics
	config   WorkerConfig

	mu         sync.Mutex
	running    bool
	startedAt  time.Time
	generation uint64
}

// NewWorker wires a Worker. A nil logger discards output.
func NewWorker(store Store, registry *TemplateRegistry, sender Sender, now func() time.Time, logger *zap.Logger, options ...WorkerOption) (*Worker, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidWorkerConfig)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: template registry is nil", ErrInvalidWorkerConfig)
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: sender dependency is nil", ErrInvalidWorkerConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidWorkerConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	worker := &Worker{
		store:    store,
		registry: registry,
		sender:   sender,
		nowFn:    now,
		logger:   logger,
		config:   DefaultWorkerConfig(),
	}
	for _, option := range options {
		if option != nil {
			option(worker)
		}
	}
	return worker, nil
}

// Config returns the effective configuration.
func (worker *Worker) Config() WorkerConfig {
	return worker.config
}

// Tick runs one cycle unless a previous cycle is still in flight and younger than
// StuckTimeout. It reports whether a cycle ran.
func (worker *Worker) Tick(ctx context.Context) bool {
	worker.mu.Lock()
	now := worker.now()
	if worker.running {
		inFlight := now.Sub(worker.startedAt)
		if inFlight < worker.config.StuckTimeout {
			worker.mu.Unlock()
			worker.logger.Debug("outbox cycle still running; tick skipped", zap.Duration("in_flight", inFlight))
			return false
		}
		worker.logger.Warn("outbox cycle exceeded stuck timeout; starting a new one",
			zap.Duration("in_flight", inFlight),
			zap.Duration("stuck_timeout", worker.config.StuckTimeout),
		)
	}
	worker.generation++
	generation := worker.generation
	worker.running = true
	worker.startedAt = now
	worker.mu.Unlock()

	defer func() {
		worker.mu.Lock()
		if worker.generation == generation {
			worker.running = false
		}
		worker.mu.Unlock()
	}()
	defer func() {
		if recovered := recover(); recovered != nil {
			worker.logger.Error("outbox cycle panicked", zap.Any("panic", recovered))
		}
	}()

	if _, err := worker.RunOnce(ctx); err != nil {
		worker.logger.Error("outbox cycle failed", zap.Error(err))
	}
	return true
}

// RunOnce polls one batch. Only a failure to list due entries is returned; per-entry
// failures are recorded on the entry and logged.
func (worker *Worker) RunOnce(ctx context.Context) (RunResult, error) {
	started := worker.now()
	var result RunResult
	entries, err := worker.store.ListDue(ctx, started, worker.config.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list due outbox entries: %w", err)
	}
	result.Due = len(entries)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		outcome := worker.processIsolated(ctx, entry)
		switch outcome {
		case OutcomeSent:
			result.Sent++
		case OutcomeRetry:
			result.Retried++
		case OutcomeFailed:
			result.Failed++
		default:
			result.Skipped++
		}
		if worker.metrics != nil {
			worker.metrics.ObserveDelivery(entry.Template, outcome)
		}
	}
	elapsed := worker.now().Sub(started)
	if worker.metrics != nil {
		worker.metrics.ObserveCycle(result, elapsed)
	}
	if result.Due > 0 {
		worker.logger.Info("outbox batch processed",
			zap.Int("due", result.Due),
			zap.Int("sent", result.Sent),
			zap.Int("retried", result.Retried),
			zap.Int("failed", result.Failed),
			zap.Int("skipped", result.Skipped),
			zap.Duration("elapsed", elapsed),
		)
	}
	return result, nil
}

// Reclaim puts entries claimed more than StuckTimeout ago back in the queue. A crash between
// Claim and the terminal mark otherwise leaves them in PROCESSING for good. Delivery is at
// least once: an entry that was sent but never marked SENT goes out again.
func (worker *Worker) Reclaim(ctx context.Context) (int64, error) {
	cutoff := worker.now().Add(-worker.config.StuckTimeout)
	reclaimed, err := worker.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale outbox entries: %w", err)
	}
	if reclaimed > 0 {
		worker.logger.Warn("outbox entries reclaimed from processing",
			zap.Int64("reclaimed", reclaimed),
			zap.Time("claimed_before", cutoff),
		)
	}
	return reclaimed, nil
}

// Stats counts entries per status.
func (worker *Worker) Stats(ctx context.Context) (Stats, error) {
	counts, err := worker.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:    counts[StatusPending],
		Processing: counts[StatusProcessing],
		Sent:       counts[StatusSent],
		Failed:     counts[StatusFailed],
	}, nil
}

func (worker *Worker) processIsolated(ctx context.Context, entry Entry) (outcome string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			worker.logger.Error("outbox entry panicked", zap.String("outbox_id", entry.ID), zap.Any("panic", recovered))
			outcome = OutcomeError
		}
	}()
	return worker.process(ctx, entry)
}

func (worker *Worker) process(ctx context.Context, entry Entry) string {
	logger := worker.logger.With(zap.String("outbox_id", entry.ID), zap.String("template", entry.Template))
	claimed, err := worker.store.Claim(ctx, entry.ID, worker.now())
	if err != nil {
		logger.Error("outbox claim failed", zap.Error(err))
		return OutcomeError
	}
	if !claimed {
		logger.Debug("outbox entry claimed elsewhere")
		return OutcomeSkipped
	}

	deliveryErr := worker.deliver(ctx, entry)
	if deliveryErr == nil {
		if err := worker.store.MarkSent(ctx, entry.ID, worker.now()); err != nil {
			logger.Error("outbox mark sent failed; entry left in processing", zap.Error(err))
		}
		return OutcomeSent
	}

	attempts := entry.Attempts + 1
	lastError := truncate(deliveryErr.Error(), lastErrorLimit)
	if attempts >= worker.config.MaxAttempts {
		if err := worker.store.MarkFailed(ctx, entry.ID, attempts, lastError); err != nil {
			logger.Error("outbox mark failed failed", zap.Error(err))
		}
		logger.Error("outbox entry permanently failed", zap.Int("attempts", attempts), zap.Error(deliveryErr))
		return OutcomeFailed
	}
	nextRetryAt := worker.now().Add(Backoff(attempts))
	if err := worker.store.MarkRetry(ctx, entry.ID, attempts, nextRetryAt, lastError); err != nil {
		logger.Error("outbox mark retry failed", zap.Error(err))
	}
	logger.Warn("outbox delivery failed; retry scheduled",
		zap.Int("attempts", attempts),
		zap.Time("next_retry_at", nextRetryAt),
		zap.Error(deliveryErr),
	)
	return OutcomeRetry
}

func (worker *Worker) deliver(ctx context.Context, entry Entry) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: panic: %v", ErrDelivery, recovered)
		}
	}()
	body, err := worker.registry.Render(entry.Template, entry.Payload)
	if err != nil {
		return err
	}
	if err := worker.sender.Send(ctx, entry.Recipient, entry.Subject, body); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

func (worker *Worker) now() time.Time {
	return worker.nowFn().UTC()
}

func truncate(message string, limit int) string {
	runes := []rune(message)
	if len(runes) <= limit {
		return message
	}
	return string(runes[:limit])
}
