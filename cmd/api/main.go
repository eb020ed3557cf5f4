// Package main - точка входа API-сервиса движка оценки и рекомендаций.
//
// Процесс обслуживает HTTP API, доставляет события завершения уроков
// слушателям (статистика, рекомендации, аудит уровней) и запускает
// фоновые задачи планировщика.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/lingvohub/lingvo-engine/config"
	"github.com/lingvohub/lingvo-engine/internal/application/command"
	"github.com/lingvohub/lingvo-engine/internal/application/eventhandler"
	"github.com/lingvohub/lingvo-engine/internal/application/query"
	"github.com/lingvohub/lingvo-engine/internal/domain/grading"
	"github.com/lingvohub/lingvo-engine/internal/domain/level"
	"github.com/lingvohub/lingvo-engine/internal/domain/recommendation"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
	"github.com/lingvohub/lingvo-engine/internal/infrastructure/messaging"
	"github.com/lingvohub/lingvo-engine/internal/infrastructure/scheduler"
	"github.com/lingvohub/lingvo-engine/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/lingvohub/lingvo-engine/internal/interface/http"
	"github.com/lingvohub/lingvo-engine/internal/interface/http/handlers"
	"github.com/lingvohub/lingvo-engine/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting lingvo-engine API",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩА (PostgreSQL или память) И REDIS
	// ─────────────────────────────────────────────────────────────────────────
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS И ДИСПЕТЧЕР
	// ─────────────────────────────────────────────────────────────────────────
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		LanesPerSubscription: cfg.Events.LanesPerListener,
		Logger:               log,
		EnableMetrics:        cfg.Observability.MetricsEnabled,
	})
	dispatcher := messaging.NewDispatcher(messaging.DispatcherConfig{
		EventBus: bus,
		RetryConfig: messaging.RetryConfig{
			MaxRetries:     cfg.Events.ListenerMaxRetries,
			InitialBackoff: cfg.Events.ListenerBackoff,
			HandlerTimeout: cfg.Events.ListenerTimeout,
		},
		EnableDeadLetterQueue: true,
		DeadLetterQueueSize:   cfg.Events.DeadLetterQueueSize,
		Logger:                log,
	})
	dispatcher.Use(messaging.RecoveryMiddleware(log))
	dispatcher.Use(messaging.LoggingMiddleware(log))
	dispatcher.Use(messaging.MetricsMiddleware(dispatcher.Metrics()))

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ДОМЕННЫЕ СЕРВИСЫ
	// ─────────────────────────────────────────────────────────────────────────
	grader := grading.NewGrader(cfg.Rules.Grading)
	evaluator := level.NewEvaluator(cfg.Rules.Level)
	manager := recommendation.NewManager(recommendation.ManagerConfig{
		Repository: store.recommendations,
		Stats:      store.stats,
		Generator:  recommendation.NewGenerator(cfg.Rules.Recommendations, cfg.Features.RecommendationGate()),
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 6. РЕГИСТРАЦИЯ EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	audit := eventhandler.NewLevelAudit(log)
	for _, reg := range []struct {
		eventType shared.EventType
		name      string
		handler   shared.EventHandler
	}{
		{shared.EventLessonCompleted, eventhandler.StatsAggregatorName, eventhandler.NewStatsAggregator(store.stats, log).Handle},
		{shared.EventLessonCompleted, eventhandler.RecommendationManagerName, eventhandler.NewRecommendationListener(manager, log).Handle},
		{shared.EventLevelUpgraded, eventhandler.LevelAuditName, audit.Handle},
	} {
		if err := dispatcher.Register(reg.eventType, reg.name, reg.handler); err != nil {
			return fmt.Errorf("register %s: %w", reg.name, err)
		}
	}
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION LAYER (Commands, Queries)
	// ─────────────────────────────────────────────────────────────────────────
	submitCfg := command.DefaultSubmitLessonHandlerConfig()
	submitCfg.CASMaxAttempts = cfg.Events.CASMaxAttempts
	submitCfg.Logger = log
	if store.guard != nil && cfg.Features.IsEnabled(config.FeatureDuplicateGuard, nil) {
		submitCfg.Guard = store.guard
	}
	submitLesson := command.NewSubmitLessonHandler(
		store.catalog, grader, evaluator, store.accounts, store.stats, bus, submitCfg,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = newScheduler(cfg, log, manager, dispatcher)
		if err != nil {
			return err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	for name, p := range store.pingers {
		health.AddCheck(name, handlers.NewPingCheck(p))
	}

	metrics := map[string]func() any{
		"dispatcher":     func() any { return dispatcher.Metrics().Snapshot() },
		"dead_letters":   func() any { return dispatcher.DeadLetterQueue().Size() },
		"level_upgrades": func() any { return audit.Snapshot() },
		"pending_events": func() any { return bus.Pending() },
		"feature_flags":  func() any { return featureStates(cfg.Features) },
	}
	if busMetrics := bus.Metrics(); busMetrics != nil {
		metrics["event_bus"] = func() any { return busMetrics.Snapshot() }
	}
	if sched != nil {
		metrics["scheduler"] = func() any { return sched.ListJobs() }
	}

	srvCfg := httpapi.DefaultConfig()
	srvCfg.Host = cfg.HTTP.Host
	srvCfg.Port = cfg.HTTP.Port
	srvCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	srvCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	srvCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	srvCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	srvCfg.MaxRequestBytes = cfg.HTTP.MaxRequestBytes
	srvCfg.EnableMetrics = cfg.Observability.MetricsEnabled
	srvCfg.Auth = handlers.AuthConfig{
		Disabled: cfg.Auth.Disabled,
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
	}

	server := httpapi.NewServer(srvCfg, httpapi.Dependencies{
		SubmitLesson:         submitLesson,
		RecordRecommendation: command.NewRecordRecommendationHandler(manager, log),
		ListRecommendations:  query.NewListRecommendationsHandler(manager, nil),
		GetProgress:          query.NewGetProgressHandler(store.accounts, store.stats, cfg.Rules.Level),
		HealthChecker:        health,
		MetricsSources:       metrics,
		Logger:               log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ЗАПУСК СЕРВИСОВ
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	if sched != nil {
		g.Go(func() error { return sched.Run(gctx) })
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// Сначала перестаём принимать запросы, затем дожидаемся доставки
	// уже опубликованных событий.
	// ─────────────────────────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.App.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := bus.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("event bus drain: %w", err))
		}
		if n := dispatcher.DeadLetterQueue().Size(); n > 0 {
			log.Warn("dead letters left unreplayed at shutdown", slog.Int("count", n))
		}
		return errors.Join(errs...)
	})

	log.Info("lingvo-engine API is running", "address", srvCfg.Address())

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = logger.Format(cfg.Observability.LogFormat)
	opts.Service = cfg.App.Name
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	log := logger.New(opts)
	slog.SetDefault(log)
	return log
}

// newScheduler регистрирует периодические задачи.
func newScheduler(cfg *config.Config, log *slog.Logger, manager *recommendation.Manager, dispatcher *messaging.Dispatcher) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:            log,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		JobTimeout:        cfg.Scheduler.JobTimeout,
		EnableMetrics:     true,
	})

	expireSchedule, err := scheduler.ParseCron(cfg.Scheduler.ExpireRecommendationsCron)
	if err != nil {
		return nil, fmt.Errorf("SCHEDULER_EXPIRE_CRON: %w", err)
	}
	if err := sched.Register(jobs.NewExpireRecommendationsJob(manager, nil, log), expireSchedule); err != nil {
		return nil, err
	}
	if err := sched.Register(
		jobs.NewReplayDeadLettersJob(dispatcher, cfg.Scheduler.ReplayBatchSize, log),
		scheduler.NewIntervalSchedule(cfg.Scheduler.ReplayDeadLettersInterval),
	); err != nil {
		return nil, err
	}
	return sched, nil
}

// featureStates возвращает включённые флаги для /metrics.
func featureStates(ff *config.FeatureFlags) map[string]int {
	out := make(map[string]int)
	for name, f := range ff.GetAllFeatures() {
		if f.Enabled {
			out[name] = f.RolloutPercent
		}
	}
	return out
}
