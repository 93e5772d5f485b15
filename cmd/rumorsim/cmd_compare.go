package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/rumor-grid/internal/config"
	"github.com/talgya/rumor-grid/internal/engine"
	"github.com/talgya/rumor-grid/internal/entropy"
	"github.com/talgya/rumor-grid/internal/logging"
	"github.com/talgya/rumor-grid/internal/report"
)

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run default, fast and slow initialization side by side",
		Long: `Run the same parameters and seed once per initialization mode without
pacing, then plot the three informed-percentage curves on one chart.

Example:
  rumorsim compare --seed 3 --generations 150 --chart modes.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyFlags(cmd.Flags(), cfg)
			if err := cfg.Simulation.Validate(); err != nil {
				return err
			}
			slog.SetDefault(logging.NewLogger(cfg.Logging.Level, os.Stderr))

			if cfg.Simulation.Seed == 0 {
				cfg.Simulation.Seed = entropy.Seed(entropy.NewClient(cfg.Entropy.RandomOrgKey))
			}

			results, err := compareModes(cmd.Context(), cfg.Simulation)
			if err != nil {
				return err
			}

			chartPath, _ := cmd.Flags().GetString("chart")
			if chartPath != "" {
				series := make([]report.Series, len(results))
				for i, r := range results {
					series[i] = r.Series
				}
				err := writeFile(chartPath, func(f io.Writer) error {
					return report.RenderChart(f, cfg.Simulation.Name+" by mode", series...)
				})
				if err != nil {
					return err
				}
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			return printComparison(cmd.OutOrStdout(), cfg.Simulation.Seed, results, jsonOut)
		},
	}

	addSimulationFlags(cmd.Flags())
	cmd.Flags().String("chart", "", "PNG chart with one curve per mode")
	return cmd
}

// modeResult is one mode's run in a comparison.
type modeResult struct {
	Mode        config.Mode   `json:"mode"`
	Population  int           `json:"population"`
	Generations int           `json:"generations"`
	Informed    int           `json:"informed"`
	Series      report.Series `json:"-"`
	History     []int         `json:"history"`
}

// compareModes runs sc once per mode with the same seed.
func compareModes(ctx context.Context, sc config.SimulationConfig) ([]modeResult, error) {
	modes := []config.Mode{config.ModeDefault, config.ModeFast, config.ModeSlow}
	out := make([]modeResult, 0, len(modes))

	for _, m := range modes {
		mc := sc
		mc.Mode = m
		sim, err := engine.NewSimulation(mc, entropy.New(mc.Seed))
		if err != nil {
			return nil, fmt.Errorf("mode %s: %w", m, err)
		}

		var stop func(engine.GenerationResult) bool
		if mc.StopWhenSaturated {
			total := sim.TotalPopulation()
			stop = func(r engine.GenerationResult) bool { return r.Informed == total }
		}
		history := sim.Run(ctx, mc.MaxGenerations, stop)

		slog.Info("mode finished", "mode", m, "generations", len(history), "informed", sim.InformedCount())
		out = append(out, modeResult{
			Mode:        m,
			Population:  sim.TotalPopulation(),
			Generations: len(history),
			Informed:    sim.InformedCount(),
			History:     history,
			Series: report.Series{
				Name:   string(m),
				Values: report.Cumulative(history, sim.TotalPopulation()),
			},
		})
	}
	return out, nil
}

func printComparison(w io.Writer, seed int64, results []modeResult, jsonOut bool) error {
	if jsonOut {
		return json.NewEncoder(w).Encode(map[string]any{
			"seed":    seed,
			"results": results,
		})
	}

	fmt.Fprintf(w, "Seed %d\n", seed)
	for _, r := range results {
		pct := float64(r.Informed) / float64(r.Population) * 100
		fmt.Fprintf(w, "  %-8s %s of %s informed (%.1f%%) after %s generations\n",
			r.Mode, humanize.Comma(int64(r.Informed)), humanize.Comma(int64(r.Population)),
			pct, humanize.Comma(int64(r.Generations)))
	}
	for _, r := range results {
		fmt.Fprintln(w)
		if err := report.TerminalChart(w, r.Series, 60, 6); err != nil {
			return err
		}
	}
	return nil
}
