// Package app composes the tutord runtime: stores, services, the escrow scheduler, the
// notification worker and the ops API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/internal/config"
	"github.com/MarkoPoloResearchLab/tutorbook/internal/escrow"
	"github.com/MarkoPoloResearchLab/tutorbook/internal/mailer"
	"github.com/MarkoPoloResearchLab/tutorbook/internal/observability"
	"github.com/MarkoPoloResearchLab/tutorbook/internal/opsapi"
	"github.com/MarkoPoloResearchLab/tutorbook/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/tutorbook/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/tutorbook/pkg/booking"
	"github.com/MarkoPoloResearchLab/tutorbook/pkg/outbox"
	"github.com/MarkoPoloResearchLab/tutorbook/pkg/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const emailTimeout = 10 * time.Second

// Runtime holds the wired services of one tutord process.
type Runtime struct {
	Config    config.Config
	Store     *gormstore.Store
	Settings  *gormstore.SettingsStore
	Wallets   *wallet.Service
	Bookings  *booking.Service
	Worker    *outbox.Worker
	Scheduler *escrow.Scheduler
	Registry  *prometheus.Registry

	db      *gorm.DB
	driver  string
	logger  *zap.Logger
	closers []func() error
	clock   func() time.Time
}

// Option customizes a Runtime.
type Option func(*Runtime)

// WithClock replaces the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(runtime *Runtime) {
		if clock != nil {
			runtime.clock = clock
		}
	}
}

// New opens the database and wires every service. Close releases what New opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, options ...Option) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runtime := &Runtime{
		Config: cfg,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		if option != nil {
			option(runtime)
		}
	}
	if err := runtime.wire(ctx); err != nil {
		_ = runtime.Close()
		return nil, err
	}
	return runtime, nil
}

func (runtime *Runtime) wire(ctx context.Context) error {
	cfg := runtime.Config
	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	runtime.closers = append(runtime.closers, cleanup)
	runtime.db = gormDB
	runtime.driver = driver
	if err := prepareSchema(ctx, gormDB, driver); err != nil {
		return err
	}

	fallbackRate, err := cfg.CommissionRate()
	if err != nil {
		return err
	}
	depositLimits, err := cfg.DepositLimits()
	if err != nil {
		return err
	}

	runtime.Store = gormstore.New(gormDB)
	runtime.Settings = runtime.Store.Settings(fallbackRate)
	runtime.Registry = prometheus.NewRegistry()
	runtime.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(runtime.Registry)

	runtime.Wallets, err = wallet.NewService(runtime.Store.Wallets(), runtime.clock,
		wallet.WithOperationLogger(observability.NewWalletLogger(runtime.logger)),
		wallet.WithDepositLimits(depositLimits),
		wallet.WithCurrency(cfg.Currency),
	)
	if err != nil {
		return fmt.Errorf("wallet service init: %w", err)
	}

	writer, err := outbox.NewWriter(runtime.Store.Outbox(), runtime.clock)
	if err != nil {
		return fmt.Errorf("outbox writer init: %w", err)
	}
	directory := runtime.Store.Directory()
	runtime.Bookings, err = booking.NewService(runtime.Store.Bookings(), runtime.Wallets, writer, directory, directory, runtime.Settings, runtime.clock,
		booking.WithTransitionLogger(observability.NewBookingLogger(runtime.logger)),
		booking.WithApprovalDeadline(cfg.ApprovalDeadline),
		booking.WithConfirmationWindow(cfg.ConfirmationWindow),
	)
	if err != nil {
		return fmt.Errorf("booking service init: %w", err)
	}

	runtime.Scheduler, err = escrow.NewScheduler(runtime.Bookings, runtime.clock, runtime.logger.Named("escrow"), escrow.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("escrow scheduler init: %w", err)
	}

	workerStore, err := runtime.workerStore(ctx)
	if err != nil {
		return err
	}
	registry, err := mailer.BookingTemplates()
	if err != nil {
		return fmt.Errorf("email templates: %w", err)
	}
	sender, err := runtime.sender()
	if err != nil {
		return err
	}
	runtime.Worker, err = outbox.NewWorker(workerStore, registry, sender, runtime.clock, runtime.logger.Named("outbox"),
		outbox.WithWorkerConfig(cfg.WorkerConfig()),
		outbox.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("outbox worker init: %w", err)
	}
	return nil
}

// workerStore polls PostgreSQL through pgx; sqlite shares the gorm store.
func (runtime *Runtime) workerStore(ctx context.Context) (outbox.Store, error) {
	if runtime.driver != driverPostgres {
		return runtime.Store.Outbox(), nil
	}
	pool, err := newOutboxPool(ctx, runtime.Config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("outbox pool: %w", err)
	}
	runtime.closers = append(runtime.closers, func() error {
		pool.Close()
		return nil
	})
	return pgstore.New(pool), nil
}

func (runtime *Runtime) sender() (outbox.Sender, error) {
	if !runtime.Config.EmailEnabled() {
		runtime.logger.Warn("brevo api key not set; notifications are logged instead of sent")
		return mailer.NewLogSender(runtime.logger), nil
	}
	sender, err := mailer.NewBrevoSender(mailer.BrevoConfig{
		APIKey:      runtime.Config.BrevoAPIKey,
		SenderEmail: runtime.Config.EmailSender,
		SenderName:  runtime.Config.EmailSenderName,
		Timeout:     emailTimeout,
	}, &http.Client{Timeout: emailTimeout})
	if err != nil {
		return nil, fmt.Errorf("email sender init: %w", err)
	}
	return sender, nil
}

// Migrate creates or updates every table regardless of driver.
func (runtime *Runtime) Migrate(ctx context.Context) error {
	return gormstore.Migrate(ctx, runtime.db)
}

// Ping reports whether the database answers.
func (runtime *Runtime) Ping(ctx context.Context) error {
	sqlDB, err := runtime.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Serve runs the periodic jobs and the ops API until ctx is cancelled.
func (runtime *Runtime) Serve(ctx context.Context) error {
	if _, err := runtime.Worker.Reclaim(ctx); err != nil {
		runtime.logger.Warn("outbox reclaim failed", zap.Error(err))
	}
	jobs, err := runtime.newCron(ctx)
	if err != nil {
		return err
	}
	jobs.Start()
	defer func() {
		<-jobs.Stop().Done()
		runtime.logger.Info("periodic jobs stopped")
	}()

	server, err := opsapi.NewServer(opsapi.Config{
		ListenAddr:     runtime.Config.OpsListenAddr,
		AllowedOrigins: runtime.Config.OpsAllowedOrigins,
	}, runtime.Worker, runtime.Ping, runtime.Registry, runtime.logger.Named("opsapi"))
	if err != nil {
		return err
	}
	return server.Run(ctx)
}

// newCron schedules the escrow run and the outbox tick. The escrow job is skipped while a
// previous run is active; the outbox tick carries its own watchdog.
func (runtime *Runtime) newCron(ctx context.Context) (*cron.Cron, error) {
	cronLogger := observability.NewCronLogger(runtime.logger)
	jobs := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
	)
	escrowJob := cron.NewChain(cron.SkipIfStillRunning(cronLogger)).Then(cron.FuncJob(func() {
		runtime.runEscrow(ctx)
	}))
	if _, err := jobs.AddJob(every(runtime.Config.SchedulerInterval), escrowJob); err != nil {
		return nil, fmt.Errorf("schedule escrow job: %w", err)
	}
	if _, err := jobs.AddFunc(every(runtime.Config.OutboxInterval), func() {
		runtime.Worker.Tick(ctx)
	}); err != nil {
		return nil, fmt.Errorf("schedule outbox job: %w", err)
	}
	return jobs, nil
}

func (runtime *Runtime) runEscrow(ctx context.Context) {
	if _, err := runtime.Scheduler.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		runtime.logger.Error("escrow run incomplete", zap.Error(err))
	}
}

// Close releases the database handles.
func (runtime *Runtime) Close() error {
	var failures []error
	for index := len(runtime.closers) - 1; index >= 0; index-- {
		if err := runtime.closers[index](); err != nil {
			failures = append(failures, err)
		}
	}
	runtime.closers = nil
	return errors.Join(failures...)
}

func every(interval time.Duration) string {
	return "@every " + interval.String()
}
