package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/rumor-grid/internal/engine"
	"github.com/talgya/rumor-grid/internal/persistence"
	"github.com/talgya/rumor-grid/internal/report"
)

// openStore opens the result database named by --db or the config.
func openStore(cmd *cobra.Command) (*persistence.DB, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		path = cfg.Storage.Path
	}
	if path == "" {
		return nil, fmt.Errorf("no database configured (use --db or storage.path)")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", path, err)
	}
	return persistence.Open(path)
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := db.ListRuns(limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			return printRuns(cmd.OutOrStdout(), runs, jsonOut)
		},
	}
	cmd.Flags().String("db", "", "SQLite file for run results")
	cmd.Flags().Int("limit", 20, "Maximum runs to list")
	return cmd
}

func printRuns(w io.Writer, runs []persistence.Run, jsonOut bool) error {
	if jsonOut {
		if runs == nil {
			runs = []persistence.Run{}
		}
		return json.NewEncoder(w).Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs stored.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tGRID\tPOPULATION\tGENERATIONS\tINFORMED\tCREATED")
	for _, r := range runs {
		created := r.CreatedAt
		if t, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
			created = humanize.Time(t)
		}
		fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%s\t%d\t%s\t%s\n",
			shortID(r.ID), r.Name, r.Rows, r.Cols,
			humanize.Comma(int64(r.Population)), r.Generations,
			humanize.Comma(int64(r.Informed)), created)
	}
	return tw.Flush()
}

// shortID trims a uuid to its first group for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a stored run and optionally re-export it",
		Long: `Show a stored run's summary and informed-percentage curve. The id may be
any unique prefix.

Example:
  rumorsim show 3f2a --db runs.db --chart run.png --csv run.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			run, err := db.LoadRun(args[0])
			if err != nil {
				return err
			}
			gens, err := db.LoadGenerations(run.ID)
			if err != nil {
				return fmt.Errorf("load generations: %w", err)
			}

			series := report.Series{Name: run.Name, Values: report.Cumulative(persistence.History(gens), run.Population)}

			if p, _ := cmd.Flags().GetString("chart"); p != "" {
				p = exportPath(p, run.Name, ".png")
				if err := writeFile(p, func(f io.Writer) error {
					return report.RenderChart(f, run.Name, series)
				}); err != nil {
					return err
				}
			}
			if p, _ := cmd.Flags().GetString("csv"); p != "" {
				p = exportPath(p, run.Name, ".csv")
				results := make([]engine.GenerationResult, len(gens))
				for i, g := range gens {
					results[i] = g.Result()
				}
				if err := writeFile(p, func(f io.Writer) error {
					return report.WriteCSV(f, results, run.Population)
				}); err != nil {
					return err
				}
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"run":         run,
					"generations": gens,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Run %s (%s), seed %d\n", run.ID, run.Name, run.Seed)
			fmt.Fprintf(w, "  Created: %s\n", run.CreatedAt)
			fmt.Fprintf(w, "  Population: %s on %dx%d\n", humanize.Comma(int64(run.Population)), run.Rows, run.Cols)
			fmt.Fprintf(w, "  Generations: %d\n", run.Generations)
			fmt.Fprintf(w, "  Informed: %s\n\n", humanize.Comma(int64(run.Informed)))
			return report.TerminalChart(w, series, 60, 10)
		},
	}
	cmd.Flags().String("db", "", "SQLite file for run results")
	cmd.Flags().String("chart", "", "Write a PNG chart ('auto' names it after the run)")
	cmd.Flags().String("csv", "", "Write per-generation CSV ('auto' names it after the run)")
	return cmd
}
