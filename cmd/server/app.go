package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	grpcHandlers "github.com/wekeepgrowing/semo-dunning/internal/adapter/handler/grpc"
	httpHandlers "github.com/wekeepgrowing/semo-dunning/internal/adapter/handler/http"
	"github.com/wekeepgrowing/semo-dunning/internal/config"
	"github.com/wekeepgrowing/semo-dunning/internal/infrastructure/access"
	"github.com/wekeepgrowing/semo-dunning/internal/infrastructure/database"
	grpcServer "github.com/wekeepgrowing/semo-dunning/internal/infrastructure/grpc"
	httpServer "github.com/wekeepgrowing/semo-dunning/internal/infrastructure/http"
	"github.com/wekeepgrowing/semo-dunning/internal/infrastructure/lock"
	"github.com/wekeepgrowing/semo-dunning/internal/infrastructure/metrics"
	"github.com/wekeepgrowing/semo-dunning/internal/infrastructure/notification"
	"github.com/wekeepgrowing/semo-dunning/internal/infrastructure/provider"
	"github.com/wekeepgrowing/semo-dunning/internal/usecase"
	"github.com/wekeepgrowing/semo-dunning/pkg/logger"
	"github.com/wekeepgrowing/semo-dunning/pkg/messaging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

// app holds the wired service graph
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *gorm.DB
	redis    *redis.Client
	registry *prometheus.Registry

	dunning   *usecase.DunningService
	billing   *usecase.BillingEventService
	scheduler *usecase.DurableRetryScheduler
	sweep     *usecase.EscalationSweep
	health    *grpcHandlers.HealthHandler
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.NewZapLogger(logger.Config{
		Service:     cfg.Service.Name,
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		FilePath:    cfg.Log.FilePath,
		Development: cfg.Log.Development,
	})
}

func runMigrate(cfg *config.Config) error {
	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		return err
	}
	defer database.Close(db, log)

	return database.Migrate(db, log)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: log}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	ladder, err := cfg.Dunning.BuildLadder()
	if err != nil {
		return err
	}

	// Initialize database connection
	a.db, err = database.NewConnection(&cfg.Database, log)
	if err != nil {
		return err
	}
	repos := database.NewRepositories(a.db, log)

	// Redis carries the retry lock, notifications and access events
	a.redis, err = messaging.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	publisher := messaging.NewRedisClient(a.redis)

	gateway, err := provider.NewFactory(cfg, log).GetGatewayFromString(cfg.Service.PaymentProvider)
	if err != nil {
		return err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(a.registry)

	a.scheduler = usecase.NewRetryScheduler(repos.RetryTask, cfg.Scheduler, log.Named("scheduler"),
		usecase.WithSchedulerMetrics(recorder))

	a.dunning, err = usecase.NewDunningService(usecase.DunningDeps{
		Episodes:  repos.Episode,
		Scheduler: a.scheduler,
		Gateway:   gateway,
		Notifier:  notification.NewRedisNotifier(publisher, cfg.Dunning.NotificationChannel, log),
		Access:    access.NewRedisAccessControl(a.redis, publisher, cfg.Dunning.AccessKeyPrefix, cfg.Dunning.AccessChannel, log),
		Guard:     lock.NewRedisGuard(a.redis, cfg.Dunning.LockTTL, log),
	}, ladder, log.Named("dunning"),
		usecase.WithMetrics(recorder),
		usecase.WithMaxConflictRetries(cfg.Dunning.MaxConflictRetries),
		usecase.WithMinRetryDelay(cfg.Dunning.MinRetryDelay),
	)
	if err != nil {
		return err
	}

	a.billing = usecase.NewBillingEventService(repos.Webhook, a.dunning, log.Named("billing"))

	a.sweep = usecase.NewEscalationSweep(a.dunning, repos.Episode, cfg.Sweep, log.Named("sweep"),
		usecase.WithSweepMetrics(recorder),
		usecase.WithEventRedelivery(a.billing),
	)

	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	a.health = grpcHandlers.NewHealthHandler(cfg.Service.Name, map[string]grpcHandlers.Probe{
		"database": sqlDB.PingContext,
		"redis": func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		},
	}, log)

	return nil
}

// Serve runs every component until ctx is cancelled or one of them fails
func (a *app) Serve(ctx context.Context) error {
	log := a.logger

	httpSrv := httpServer.NewServer(a.cfg, log, httpServer.Handlers{
		Dunning: httpHandlers.NewDunningHandler(a.dunning, log),
		Webhook: httpHandlers.NewWebhookHandler(log, a.cfg.Stripe.WebhookSecret, a.billing),
		Metrics: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}),
	})
	grpcSrv := grpcServer.NewServer(a.cfg, log, a.health.Server())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(httpSrv.Start)
	g.Go(grpcSrv.Start)
	g.Go(func() error {
		a.health.Run(ctx, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		return a.scheduler.Run(ctx, a.dunning.RetryPayment)
	})
	if !a.cfg.Sweep.Disabled {
		g.Go(func() error {
			return a.sweep.Run(ctx)
		})
	} else {
		log.Info("Escalation sweep disabled")
	}

	// Shut the servers down once anything stops
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down servers...")

		a.health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := grpcSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("grpc shutdown: %w", err))
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Servers shut down successfully")
	return nil
}

// Sweep runs one pass, or the cron schedule when once is false
func (a *app) Sweep(ctx context.Context, once bool) error {
	if !once {
		return a.sweep.Run(ctx)
	}

	report, err := a.sweep.RunOnce(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("Sweep finished",
		zap.Int("overdue", report.Overdue),
		zap.Int("retried", report.Retried),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("effects_redriven", report.EffectsRedriven),
		zap.Int("events_redelivered", report.EventsRedelivered),
		zap.Duration("duration", report.Duration))
	return nil
}

// Close releases connections in reverse order of creation
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := database.Close(a.db, a.logger); err != nil {
			a.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
