package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alem-hub/progression-hub/internal/domain/progression"
)

// curveOptions - флаги команды curve. Нулевые значения берутся из конфигурации.
type curveOptions struct {
	baseJump   float64
	difficulty float64
	levels     int
	points     float64
	asJSON     bool
}

func newCurveCmd(opts *rootOptions) *cobra.Command {
	co := &curveOptions{}

	cmd := &cobra.Command{
		Use:   "curve",
		Short: "Print the level threshold table",
		Long: `Prints the minimum lifetime points of every level for a curve.

Without flags the curve configured by PROGRESSION_DEFAULT_BASE_JUMP and
PROGRESSION_DEFAULT_DIFFICULTY_PCT is used.

Example:
  progression curve --base-jump 100 --difficulty 8 --levels 10 --points 240`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			s := progression.Settings{
				BaseJump:      cfg.Progression.DefaultBaseJump,
				DifficultyPct: cfg.Progression.DefaultDifficultyPct,
			}
			if cmd.Flags().Changed("base-jump") {
				s.BaseJump = co.baseJump
			}
			if cmd.Flags().Changed("difficulty") {
				s.DifficultyPct = co.difficulty
			}
			if err := s.Validate(); err != nil {
				return err
			}
			levels := co.levels
			if !cmd.Flags().Changed("levels") {
				levels = cfg.Progression.MaxLevel
			}

			var at *float64
			if cmd.Flags().Changed("points") {
				at = &co.points
			}
			return printCurve(cmd.OutOrStdout(), s, levels, at, co.asJSON)
		},
	}

	cmd.Flags().Float64Var(&co.baseJump, "base-jump", 0, "points needed for the first level up")
	cmd.Flags().Float64Var(&co.difficulty, "difficulty", 0, "percent growth of each further level")
	cmd.Flags().IntVar(&co.levels, "levels", 20, "number of levels to print")
	cmd.Flags().Float64Var(&co.points, "points", 0, "also resolve the level for these lifetime points")
	cmd.Flags().BoolVar(&co.asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

type curveOutput struct {
	Settings progression.Settings       `json:"settings"`
	Levels   progression.Table          `json:"levels"`
	Progress *progression.LevelProgress `json:"progress,omitempty"`
}

func printCurve(w io.Writer, s progression.Settings, levels int, points *float64, asJSON bool) error {
	table := progression.BuildThresholds(s, levels)
	out := curveOutput{Settings: s, Levels: table}
	if points != nil {
		lp := progression.ResolveProgress(*points, table)
		out.Progress = &lp
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "LEVEL\tMIN POINTS\tSTEP\t")
	for i, t := range table {
		step := int64(0)
		if i > 0 {
			step = t.MinLifetimePoints - table[i-1].MinLifetimePoints
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t\n", t.Level, t.MinLifetimePoints, step)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if lp := out.Progress; lp != nil {
		next := "max level"
		if lp.NextLevelMin != nil {
			next = fmt.Sprintf("%d", *lp.NextLevelMin)
		}
		fmt.Fprintf(w, "\n%g points: level %d (next at %s, %.0f%%)\n", lp.LifetimePoints, lp.Level, next, lp.Progress*100)
	}
	return nil
}
