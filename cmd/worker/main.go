// Package main - точка входа для фоновых процессов (Worker) lingvo-engine.
//
// Worker обслуживает базу данных отдельно от API:
//   - migrate  - применяет недостающие миграции
//   - status   - печатает состояние миграций
//   - rollback - откатывает последнюю миграцию
//   - sweep    - считает истёкшие рекомендации (однократно или по cron)
//
// Повтор недоставленных событий выполняется внутри API, потому что
// очередь недоставленных событий хранится в памяти его процесса.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/lingvohub/lingvo-engine/config"
	"github.com/lingvohub/lingvo-engine/internal/domain/recommendation"
	"github.com/lingvohub/lingvo-engine/internal/infrastructure/persistence/postgres"
	"github.com/lingvohub/lingvo-engine/internal/infrastructure/scheduler"
	"github.com/lingvohub/lingvo-engine/internal/infrastructure/scheduler/jobs"
	"github.com/lingvohub/lingvo-engine/pkg/logger"
)

var errUsage = errors.New("usage: worker <migrate|status|rollback|sweep> [-once]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	command := args[0]

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	once := fs.Bool("once", false, "run the sweep once and exit")
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = logger.Format(cfg.Observability.LogFormat)
	opts.Service = cfg.App.Name + "-worker"
	log := logger.New(opts)
	slog.SetDefault(log)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ
	// ─────────────────────────────────────────────────────────────────────────
	pgCfg := postgres.DefaultConfig(cfg.Database.URL)
	pgCfg.MaxConns = 2
	pgCfg.MinConns = 1
	if cfg.Database.QueryTimeout > 0 {
		pgCfg.QueryTimeout = cfg.Database.QueryTimeout
	}
	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	migrator := postgres.NewMigrator(conn)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ВЫПОЛНЕНИЕ КОМАНДЫ
	// ─────────────────────────────────────────────────────────────────────────
	switch command {
	case "migrate":
		applied, err := migrator.Migrate(ctx)
		if err != nil {
			return err
		}
		log.Info("migrations applied", slog.Int("count", applied))
		return nil

	case "status":
		migrations, err := migrator.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(migrations)
		return nil

	case "rollback":
		if err := migrator.Rollback(ctx); err != nil {
			return err
		}
		log.Info("last migration rolled back")
		return nil

	case "sweep":
		manager := recommendation.NewManager(recommendation.ManagerConfig{
			Repository: postgres.NewRecommendationRepository(conn),
			Stats:      postgres.NewStatsStore(conn),
		})
		job := jobs.NewExpireRecommendationsJob(manager, nil, log)
		if *once {
			return job.Run(ctx)
		}
		return runSweeps(ctx, cfg, log, job)

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

// runSweeps запускает задачу по расписанию до сигнала остановки.
func runSweeps(ctx context.Context, cfg *config.Config, log *slog.Logger, job scheduler.Job) error {
	schedule, err := scheduler.ParseCron(cfg.Scheduler.ExpireRecommendationsCron)
	if err != nil {
		return fmt.Errorf("SCHEDULER_EXPIRE_CRON: %w", err)
	}

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:            log,
		MaxConcurrentJobs: 1,
		JobTimeout:        cfg.Scheduler.JobTimeout,
	})
	if err := sched.Register(job, schedule); err != nil {
		return err
	}

	log.Info("worker is running", slog.String("schedule", schedule.String()))
	return sched.Run(ctx)
}

func printStatus(migrations []postgres.Migration) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
	for _, m := range migrations {
		applied := "-"
		if m.IsApplied {
			applied = m.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", m.Version, m.Name, applied)
	}
	_ = w.Flush()
}
