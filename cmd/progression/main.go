// Package main - точка входа Progression Hub.
//
// Один бинарь, несколько команд:
//   - serve   - HTTP API, обработчики событий и планировщик
//   - migrate - миграции схемы PostgreSQL
//   - seed    - загрузка каталога косметики из YAML
//   - curve   - печать таблицы порогов уровней
//   - token   - выпуск bearer-токена для локальной разработки
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alem-hub/progression-hub/config"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY POINT
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	// Корневой контекст отменяется по SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions - глобальные флаги, общие для всех команд.
type rootOptions struct {
	configDirs []string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "progression",
		Short: "Progression Hub - levels, cosmetic unlocks and daily bonuses",
		Long: `Progression Hub turns lifetime points into levels, gates cosmetic items
behind level and point costs, and grants the avatar daily bonus.

Configuration comes from the environment and an optional app.env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringSliceVar(&opts.configDirs, "config-dir", []string{"."}, "directories searched for app.env")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newSeedCmd(opts),
		newCurveCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

// load читает конфигурацию и настраивает логгер.
// Логи пишутся в stderr, чтобы stdout оставался за выводом команд.
func (o *rootOptions) load() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(o.configDirs...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Observability.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	log := logger.New(logger.Options{
		Output:    os.Stderr,
		Level:     logger.ParseLevel(level),
		Format:    cfg.Observability.LogFormat,
		AddCaller: true,
	}).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
	return cfg, log, nil
}
