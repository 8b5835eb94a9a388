package main

import (
	"context"
	"fmt"

	"github.com/alem-hub/progression-hub/config"
	"github.com/alem-hub/progression-hub/internal/domain/bonus"
	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/internal/domain/student"
	"github.com/alem-hub/progression-hub/internal/infrastructure/catalogseed"
	"github.com/alem-hub/progression-hub/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/progression-hub/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/progression-hub/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE WIRING
// ══════════════════════════════════════════════════════════════════════════════

// app держит хранилища процесса. PostgreSQL используется, когда задан
// DATABASE_URL, иначе всё живёт в памяти.
type app struct {
	cfg *config.Config
	log *logger.Logger

	db    *postgres.Connection
	mem   *memory.Store
	cache *redis.Cache

	settings   progression.SettingsRepository
	progress   student.ProgressRepository
	ledger     student.Ledger
	catalog    cosmetic.CatalogRepository
	unlocks    cosmetic.UnlockRepository
	selections cosmetic.SelectionRepository
	purchases  cosmetic.PurchaseStore
	claims     bonus.ClaimStore
	lock       bonus.ClaimLock

	closers []func()
}

// openApp подключает хранилище и, если разрешено, накатывает миграции.
func openApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL is empty, using the in-memory store")
		a.useMemory(memory.NewStore())
		return a, nil
	}

	log.Info("connecting to database...")
	conn, err := postgres.Connect(ctx, cfg.Database.URL, poolSettings(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, func() {
		log.Info("closing database connection...")
		conn.Close()
	})
	a.useDatabase(conn)
	log.Info("database connection established")

	if cfg.Database.AutoMigrate {
		n, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date", logger.Int("applied", n))
	}
	return a, nil
}

func poolSettings(db config.DatabaseConfig) postgres.PoolSettings {
	ps := postgres.DefaultPoolSettings()
	if db.MaxConns > 0 {
		ps.MaxConns = int32(db.MaxConns)
	}
	if db.MinConns > 0 {
		ps.MinConns = int32(db.MinConns)
	}
	if db.ConnMaxLifetime > 0 {
		ps.MaxConnLifetime = db.ConnMaxLifetime
	}
	if db.ConnMaxIdleTime > 0 {
		ps.MaxConnIdleTime = db.ConnMaxIdleTime
	}
	return ps
}

func (a *app) useDatabase(conn *postgres.Connection) {
	progress := postgres.NewProgressRepository(conn)
	selections := postgres.NewSelectionRepository(conn)
	tx := postgres.NewTransactionStore(conn)

	a.db = conn
	a.settings = postgres.NewSettingsRepository(conn)
	a.progress = progress
	a.ledger = progress
	a.catalog = postgres.NewCatalogRepository(conn)
	a.unlocks = selections
	a.selections = selections
	a.purchases = tx
	a.claims = tx
}

func (a *app) useMemory(store *memory.Store) {
	a.mem = store
	a.settings = store
	a.progress = store
	a.ledger = store
	a.catalog = store
	a.unlocks = store
	a.selections = store
	a.purchases = store
	a.claims = store
	a.lock = store
}

// connectRedis подключает Redis. Ошибка подключения не фатальна: процесс
// продолжает работу с локальной шиной и без общего кеша.
func (a *app) connectRedis(ctx context.Context) {
	if a.cfg.Redis.Disabled {
		return
	}
	rc := a.cfg.Redis
	a.log.Info("connecting to Redis...")
	cache, err := redis.NewCache(ctx, redis.Config{
		URL:          rc.URL,
		Addr:         rc.Addr(),
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
		Logger:       a.log,
	})
	if err != nil {
		a.log.Warn("failed to connect to Redis, running single-instance", logger.Err(err))
		return
	}
	a.cache = cache
	a.lock = redis.NewClaimLock(cache)
	a.closers = append(a.closers, func() {
		a.log.Info("closing Redis connection...")
		_ = cache.Close()
	})
	a.log.Info("Redis connection established")
}

// bootstrap применяет сид каталога (только для памяти) и сохраняет кривую
// из конфигурации, если в хранилище её ещё нет.
func (a *app) bootstrap(ctx context.Context) error {
	if a.mem != nil && a.cfg.Catalog.SeedOnStart && a.cfg.Catalog.SeedFile != "" {
		seed, err := catalogseed.LoadFile(a.cfg.Catalog.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to load catalog seed: %w", err)
		}
		if _, err := catalogseed.Apply(ctx, seed, a.catalog, a.settings, a.log); err != nil {
			return fmt.Errorf("failed to apply catalog seed: %w", err)
		}
	}
	return a.ensureSettings(ctx)
}

func (a *app) ensureSettings(ctx context.Context) error {
	_, err := a.settings.GetSettings(ctx)
	if err == nil {
		return nil
	}
	if !shared.IsNotFound(err) {
		return fmt.Errorf("failed to read level settings: %w", err)
	}

	s := progression.Settings{
		BaseJump:      a.cfg.Progression.DefaultBaseJump,
		DifficultyPct: a.cfg.Progression.DefaultDifficultyPct,
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if err := a.settings.SaveSettings(ctx, s); err != nil {
		return fmt.Errorf("failed to store default level settings: %w", err)
	}
	a.log.Info("stored default level settings",
		logger.Float64("base_jump", s.BaseJump),
		logger.Float64("difficulty_pct", s.DifficultyPct),
	)
	return nil
}

// Close освобождает ресурсы в обратном порядке.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
