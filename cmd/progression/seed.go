package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/infrastructure/catalogseed"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "seed [file]",
		Short: "Load level settings and cosmetic items from a YAML file",
		Long: `Upserts the catalog items and, when present, the level settings of a seed
file. Re-running a seed is safe. Without an argument CATALOG_SEED_FILE is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			path := cfg.Catalog.SeedFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return errors.New("no seed file: pass one or set CATALOG_SEED_FILE")
			}

			seed, err := catalogseed.LoadFile(path)
			if err != nil {
				return err
			}
			if dryRun {
				printSeedSummary(cmd, seed)
				return nil
			}
			if cfg.Database.URL == "" {
				return errNoDatabase
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := catalogseed.Apply(ctx, seed, a.catalog, a.settings, log)
			if err != nil {
				return err
			}
			log.Info("seed applied", logger.String("file", path), logger.Bool("settings", stats.SettingsSaved))
			printSeedSummary(cmd, seed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing anything")
	return cmd
}

func printSeedSummary(cmd *cobra.Command, seed catalogseed.Seed) {
	w := cmd.OutOrStdout()
	if s := seed.Settings; s != nil {
		fmt.Fprintf(w, "settings: base_jump=%g difficulty_pct=%g\n", s.BaseJump, s.DifficultyPct)
	}
	counts := make(map[cosmetic.Category]int)
	for _, it := range seed.Items {
		counts[it.Category()]++
	}
	categories := make([]string, 0, len(counts))
	for c := range counts {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)
	for _, c := range categories {
		fmt.Fprintf(w, "%s: %d\n", c, counts[cosmetic.Category(c)])
	}
}
