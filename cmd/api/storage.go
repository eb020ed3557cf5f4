package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lingvohub/lingvo-engine/config"
	"github.com/lingvohub/lingvo-engine/internal/domain/grading"
	"github.com/lingvohub/lingvo-engine/internal/domain/level"
	"github.com/lingvohub/lingvo-engine/internal/domain/progress"
	"github.com/lingvohub/lingvo-engine/internal/domain/recommendation"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
	"github.com/lingvohub/lingvo-engine/internal/infrastructure/persistence/memory"
	"github.com/lingvohub/lingvo-engine/internal/infrastructure/persistence/postgres"
	"github.com/lingvohub/lingvo-engine/internal/infrastructure/persistence/redis"
	"github.com/lingvohub/lingvo-engine/internal/interface/http/handlers"
	"github.com/lingvohub/lingvo-engine/pkg/logger"
)

// storage собирает хранилища процесса.
type storage struct {
	catalog         grading.Catalog
	accounts        level.AccountRepository
	stats           progress.Store
	recommendations recommendation.Repository
	guard           *redis.SubmissionGuard

	pingers map[string]handlers.Pinger
	closers []func()
}

// Close освобождает соединения в обратном порядке.
func (s *storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStorage выбирает PostgreSQL, если задан DATABASE_URL, иначе память.
// Redis подключается поверх любого варианта и не обязателен.
func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (*storage, error) {
	s := &storage{pingers: make(map[string]handlers.Pinger)}

	if cfg.Database.URL != "" {
		if err := s.openPostgres(ctx, cfg, log); err != nil {
			s.Close()
			return nil, err
		}
	} else {
		if err := s.openMemory(cfg, log); err != nil {
			return nil, err
		}
	}

	if !cfg.Redis.Disabled {
		s.openRedis(ctx, cfg, log)
	}
	return s, nil
}

func (s *storage) openPostgres(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	pgCfg := postgres.DefaultConfig(cfg.Database.URL)
	if cfg.Database.MaxOpenConns > 0 {
		pgCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MinConns > 0 {
		pgCfg.MinConns = int32(cfg.Database.MinConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	}
	if cfg.Database.QueryTimeout > 0 {
		pgCfg.QueryTimeout = cfg.Database.QueryTimeout
	}

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.closers = append(s.closers, conn.Close)
	s.pingers["postgres"] = conn
	log.Info("connected to PostgreSQL")

	if cfg.Database.AutoMigrate {
		applied, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("migrations applied", slog.Int("count", applied))
	}

	catalog := postgres.NewLessonCatalog(conn)
	if cfg.App.LessonsFile != "" {
		seed, err := memory.LoadLessonCatalog(cfg.App.LessonsFile)
		if err != nil {
			return fmt.Errorf("failed to load lessons: %w", err)
		}
		for _, l := range seed.Lessons() {
			if err := catalog.Upsert(ctx, l); err != nil {
				return fmt.Errorf("seed lesson %s: %w", l.ID, err)
			}
		}
		log.Info("lesson catalog seeded", slog.Int("lessons", seed.Len()))
	}

	s.catalog = catalog
	s.accounts = postgres.NewAccountRepository(conn)
	s.stats = postgres.NewStatsStore(conn)
	s.recommendations = postgres.NewRecommendationRepository(conn)
	return nil
}

func (s *storage) openMemory(cfg *config.Config, log *slog.Logger) error {
	log.Warn("DATABASE_URL is not set, state is kept in memory")

	var (
		catalog *memory.LessonCatalog
		err     error
	)
	if cfg.App.LessonsFile != "" {
		catalog, err = memory.LoadLessonCatalog(cfg.App.LessonsFile)
	} else {
		catalog, err = memory.NewLessonCatalog()
	}
	if err != nil {
		return fmt.Errorf("failed to load lessons: %w", err)
	}
	log.Info("lesson catalog loaded", slog.Int("lessons", catalog.Len()))

	s.catalog = catalog
	s.accounts = memory.NewAccountRepository()
	s.stats = memory.NewStatsStore()
	s.recommendations = memory.NewRecommendationRepository()
	return nil
}

// openRedis подключает кэш рекомендаций и защиту от повторов.
// Без Redis сервис продолжает работу.
func (s *storage) openRedis(ctx context.Context, cfg *config.Config, log *slog.Logger) {
	rcfg := redis.DefaultConfig()
	rcfg.URL = cfg.Redis.URL
	rcfg.Host = cfg.Redis.Host
	rcfg.Port = cfg.Redis.Port
	rcfg.Password = cfg.Redis.Password
	rcfg.DB = cfg.Redis.DB
	if cfg.Redis.PoolSize > 0 {
		rcfg.PoolSize = cfg.Redis.PoolSize
	}
	if cfg.Redis.MinIdleConns > 0 {
		rcfg.MinIdleConns = cfg.Redis.MinIdleConns
	}
	if cfg.Redis.DialTimeout > 0 {
		rcfg.DialTimeout = cfg.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout > 0 {
		rcfg.ReadTimeout = cfg.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout > 0 {
		rcfg.WriteTimeout = cfg.Redis.WriteTimeout
	}

	cache, err := redis.NewCache(ctx, rcfg)
	if err != nil {
		log.Warn("redis unavailable, continuing without cache", logger.Err(err))
		return
	}
	s.closers = append(s.closers, func() { _ = cache.Close() })
	s.pingers["redis"] = cache
	log.Info("connected to Redis")

	features := cfg.Features
	s.recommendations = redis.NewRecommendationCache(s.recommendations, cache, redis.RecommendationCacheConfig{
		TTL: cfg.Redis.RecommendationsTTL,
		Enabled: func(userID shared.UserID) bool {
			return features.IsEnabled(config.FeatureRecommendationCache, &config.FeatureContext{UserID: userID.String()})
		},
		Logger: log,
	})
	s.guard = redis.NewSubmissionGuard(cache, cfg.Redis.DuplicateWindow, nil, log)
}
