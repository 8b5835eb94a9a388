package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/progression-hub/config"
	"github.com/alem-hub/progression-hub/internal/application/command"
	"github.com/alem-hub/progression-hub/internal/application/eventhandler"
	"github.com/alem-hub/progression-hub/internal/application/query"
	"github.com/alem-hub/progression-hub/internal/application/view"
	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/internal/infrastructure/messaging"
	"github.com/alem-hub/progression-hub/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/progression-hub/internal/infrastructure/scheduler"
	"github.com/alem-hub/progression-hub/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/progression-hub/internal/infrastructure/service"
	httpapi "github.com/alem-hub/progression-hub/internal/interface/http"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

// devJWTSecret подписывает токены, когда HTTP_JWT_SECRET не задан.
// В production конфигурация без секрета не проходит валидацию.
const devJWTSecret = "progression-hub-dev-secret"

// eventBus - шина с управляемым временем жизни.
type eventBus interface {
	shared.EventBus
	Close() error
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event handlers and the scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting Progression Hub",
		logger.String("version", cfg.App.Version),
		logger.Bool("debug", cfg.App.Debug),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ХРАНИЛИЩЕ (PostgreSQL или память) И МИГРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (опционально: блокировка claim, шина, кеш порогов)
	// ─────────────────────────────────────────────────────────────────────────
	a.connectRedis(ctx)

	if err := a.bootstrap(ctx); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus, err := newEventBus(a)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. КРИВАЯ УРОВНЕЙ И ЗАГРУЗЧИК СТУДЕНТОВ
	// ─────────────────────────────────────────────────────────────────────────
	var tables progression.ThresholdCache
	if a.cache != nil && cfg.Features.IsEnabled(config.FeatureRedisCurveCache, nil) {
		tables = redis.NewThresholdCache(a.cache, cfg.Progression.CurveCacheTTL)
		log.Info("sharing threshold tables through Redis")
	}
	curve := service.NewCurveService(a.settings, tables, cfg.Progression.MaxLevel, log)
	loader := view.NewLoader(curve, a.progress, a.catalog, a.unlocks, a.selections)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ОБРАБОТЧИКИ КОМАНД И ЗАПРОСОВ
	// ─────────────────────────────────────────────────────────────────────────
	features := cfg.Features
	deps := httpapi.Dependencies{
		GetProgression: query.NewGetProgressionHandler(loader, cfg.Progression.DailyCooldown, time.Now),
		PurchaseUnlock: command.NewPurchaseUnlockHandler(loader, a.purchases, a.selections, bus, command.PurchaseUnlockHandlerConfig{
			Purchases: features.ForStudent(config.FeatureCosmeticPurchase),
			Clock:     time.Now,
		}),
		SetAvatarSettings: command.NewSetAvatarSettingsHandler(loader, a.selections, bus, time.Now),
		ClaimDailyBonus: command.NewClaimDailyBonusHandler(loader, a.claims, a.lock, bus, command.ClaimDailyBonusHandlerConfig{
			Cooldown: cfg.Progression.DailyCooldown,
			LockTTL:  cfg.Progression.ClaimLockTTL,
			Enabled:  features.ForStudent(config.FeatureDailyBonus),
			Clock:    time.Now,
		}),
		AwardRulePoints:     command.NewAwardRulePointsHandler(loader, a.progress, a.ledger, bus, time.Now),
		UpdateLevelSettings: command.NewUpdateLevelSettingsHandler(a.settings, bus, cfg.Progression.MaxLevel),
		CatalogItems:        command.NewCatalogItemHandler(a.catalog, bus),
		Curve:               curve,
		Catalog:             a.catalog,
		Unlocks:             a.unlocks,
		Logger:              log,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ПОДПИСЧИКИ СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	revalidate := eventhandler.NewRevalidateHandler(loader, a.selections, bus, curve, log, eventhandler.RevalidateConfig{
		SweepPageSize:    cfg.Progression.SweepPageSize,
		SweepConcurrency: cfg.Progression.SweepConcurrency,
		Enabled:          features.ForStudent(config.FeatureAutoRevoke),
	})
	if err := revalidate.Register(bus); err != nil {
		return fmt.Errorf("failed to register revalidation handler: %w", err)
	}
	if err := bus.Subscribe(shared.EventSettingsChanged, curve.OnSettingsChanged); err != nil {
		return fmt.Errorf("failed to subscribe curve service: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: log})
	sweepEvery := cfg.Progression.SweepInterval
	if err := sched.Register(
		jobs.NewRevalidateSelectionsJob(revalidate, jobs.DefaultRevalidateSelectionsConfig(), log),
		&scheduler.IntervalSchedule{Interval: sweepEvery, Jitter: sweepEvery / 10},
	); err != nil {
		return err
	}
	if err := sched.Register(jobs.NewRefreshCurveJob(curve, log), scheduler.Every(cfg.Progression.CurveCacheTTL)); err != nil {
		return err
	}
	if err := sched.Start(ctx, false); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() { _ = sched.Stop() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	health := httpapi.NewHealthChecker(cfg.App.Version)
	if a.db != nil {
		health.AddCheck("postgres", httpapi.PingCheck(a.db))
	}
	if a.cache != nil {
		health.AddCheck("redis", httpapi.PingCheck(a.cache))
	}
	deps.Health = health

	srvCfg := httpapi.DefaultConfig()
	srvCfg.Addr = cfg.HTTP.Addr
	srvCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	srvCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	srvCfg.AllowedOrigins = cfg.HTTP.CORSOrigins
	srvCfg.JWTSecret = jwtSecret(cfg, log)
	srvCfg.BaseRulePoints = cfg.Progression.BaseRulePoints
	srvCfg.Version = cfg.App.Version

	server := httpapi.NewServer(srvCfg, deps)
	errCh := server.StartAsync()

	log.Info("Progression Hub is running", logger.String("address", srvCfg.Addr))

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", logger.Err(err))
	}
	log.Info("shutdown completed")
	return nil
}

// newEventBus выбирает шину: через Redis, если он подключён, иначе локальную.
func newEventBus(a *app) (eventBus, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.AsyncMode = true
	local.Logger = a.log

	if a.cache == nil {
		return messaging.NewInMemoryEventBus(local), nil
	}
	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         redis.NewPubSub(a.cache),
		LocalBusConfig: local,
		Logger:         a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start redis event bus: %w", err)
	}
	return bus, nil
}

// jwtSecret возвращает секрет подписи токенов.
func jwtSecret(cfg *config.Config, log *logger.Logger) string {
	if cfg.HTTP.JWTSecret != "" {
		return cfg.HTTP.JWTSecret
	}
	log.Warn("HTTP_JWT_SECRET is empty, using the development secret")
	return devJWTSecret
}
