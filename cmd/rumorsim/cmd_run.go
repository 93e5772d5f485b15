package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/talgya/rumor-grid/internal/api"
	"github.com/talgya/rumor-grid/internal/config"
	"github.com/talgya/rumor-grid/internal/engine"
	"github.com/talgya/rumor-grid/internal/entropy"
	"github.com/talgya/rumor-grid/internal/logging"
	"github.com/talgya/rumor-grid/internal/persistence"
	"github.com/talgya/rumor-grid/internal/render"
	"github.com/talgya/rumor-grid/internal/report"
)

// autoPath asks for an export file named after the simulation.
const autoPath = "auto"

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation",
		Long: `Run a simulation until the generation cap, until it is stopped, or (with
--stop-when-saturated) until everyone has heard the rumor.

Flags override the config file, which overrides the defaults.

Examples:
  rumorsim run --rows 50 --cols 50 --mode fast --seed 7
  rumorsim run --terminal --interval 100ms --generations 60
  rumorsim run --db runs.db --chart auto --csv auto
  rumorsim run --port 8080 --speed 0   # start paused, resume via POST /api/v1/speed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyFlags(cmd.Flags(), cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			slog.SetDefault(logging.NewLogger(cfg.Logging.Level, os.Stderr))

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			notifySignals(sigCh)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case sig := <-sigCh:
					slog.Info("received signal, finishing current generation", "signal", sig.String())
					cancel()
				case <-ctx.Done():
				}
			}()

			out, err := runSimulation(ctx, cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			return printOutcome(cmd.OutOrStdout(), out, jsonOut)
		},
	}

	addSimulationFlags(cmd.Flags())
	addOutputFlags(cmd.Flags())
	return cmd
}

// addSimulationFlags registers flags for the model parameters.
func addSimulationFlags(fs *pflag.FlagSet) {
	fs.String("name", "", "Simulation name (used for export file names)")
	fs.Int("rows", 0, "Grid rows")
	fs.Int("cols", 0, "Grid columns")
	fs.Float64("density", 0, "Population density in (0, 1]")
	fs.Float64("s1", 0, "Weight of tier 1 (always spreads)")
	fs.Float64("s2", 0, "Weight of tier 2 (spreads with probability 1/3)")
	fs.Float64("s3", 0, "Weight of tier 3 (spreads with probability 2/3)")
	fs.Float64("s4", 0, "Weight of tier 4 (never spreads)")
	fs.Int("l-generation", 0, "Cooldown generations after spreading")
	fs.String("mode", "", "Initialization mode: default, fast or slow")
	fs.String("placement", "", "Cell placement: uniform or noise")
	fs.Int64("seed", 0, "Random seed (0 derives one)")
	fs.Int("generations", 0, "Generation cap (0 = until stopped)")
	fs.Bool("stop-when-saturated", false, "End the run once everyone is informed")
}

// addOutputFlags registers flags for pacing, storage and exports.
func addOutputFlags(fs *pflag.FlagSet) {
	fs.Duration("interval", 0, "Pause between generations at speed 1")
	fs.Float64("speed", 0, "Pace multiplier (0 = start paused)")
	fs.String("log-level", "", "Log level: info, debug or trace")
	fs.String("db", "", "SQLite file for run results")
	fs.Int("port", 0, "Serve the HTTP API on this port")
	fs.Bool("terminal", false, "Draw each generation in the terminal")
	fs.String("frames", "", "Directory for one PNG per generation")
	fs.String("video", "", "MJPEG AVI file of the whole run")
	fs.Int("scale", 0, "Pixels per cell in PNG frames and video")
	fs.String("chart", "", "PNG chart of informed percentage ('auto' names it after the run)")
	fs.String("csv", "", "CSV of per-generation metrics ('auto' names it after the run)")
}

// applyFlags copies explicitly set flags onto cfg. Flags that are not
// registered on fs are skipped.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) {
	sim := &cfg.Simulation
	if fs.Changed("name") {
		sim.Name, _ = fs.GetString("name")
	}
	if fs.Changed("rows") {
		sim.Rows, _ = fs.GetInt("rows")
	}
	if fs.Changed("cols") {
		sim.Cols, _ = fs.GetInt("cols")
	}
	if fs.Changed("density") {
		sim.PopulationDensity, _ = fs.GetFloat64("density")
	}
	for i, w := range []*float64{&sim.S1, &sim.S2, &sim.S3, &sim.S4} {
		name := fmt.Sprintf("s%d", i+1)
		if fs.Changed(name) {
			*w, _ = fs.GetFloat64(name)
		}
	}
	if fs.Changed("l-generation") {
		sim.LGeneration, _ = fs.GetInt("l-generation")
	}
	if fs.Changed("mode") {
		v, _ := fs.GetString("mode")
		sim.Mode = config.Mode(strings.ToLower(v))
	}
	if fs.Changed("placement") {
		v, _ := fs.GetString("placement")
		sim.Placement = config.Placement(strings.ToLower(v))
	}
	if fs.Changed("seed") {
		sim.Seed, _ = fs.GetInt64("seed")
	}
	if fs.Changed("generations") {
		sim.MaxGenerations, _ = fs.GetInt("generations")
	}
	if fs.Changed("stop-when-saturated") {
		sim.StopWhenSaturated, _ = fs.GetBool("stop-when-saturated")
	}

	if fs.Changed("interval") {
		cfg.Engine.Interval, _ = fs.GetDuration("interval")
	}
	if fs.Changed("speed") {
		cfg.Engine.Speed, _ = fs.GetFloat64("speed")
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level, _ = fs.GetString("log-level")
	}
	if fs.Changed("db") {
		cfg.Storage.Path, _ = fs.GetString("db")
	}
	if fs.Changed("port") {
		cfg.API.Port, _ = fs.GetInt("port")
	}
	if fs.Changed("terminal") {
		cfg.Render.Terminal, _ = fs.GetBool("terminal")
	}
	if fs.Changed("frames") {
		cfg.Render.FramesDir, _ = fs.GetString("frames")
	}
	if fs.Changed("video") {
		cfg.Render.VideoPath, _ = fs.GetString("video")
	}
	if fs.Changed("scale") {
		cfg.Render.Scale, _ = fs.GetInt("scale")
	}
	if fs.Changed("chart") {
		cfg.Report.ChartPath, _ = fs.GetString("chart")
	}
	if fs.Changed("csv") {
		cfg.Report.CSVPath, _ = fs.GetString("csv")
	}
}

// runOutcome summarizes a finished run.
type runOutcome struct {
	RunID       string  `json:"run_id"`
	Name        string  `json:"name"`
	Seed        int64   `json:"seed"`
	Rows        int     `json:"rows"`
	Cols        int     `json:"cols"`
	Population  int     `json:"population"`
	Generations int     `json:"generations"`
	Informed    int     `json:"informed"`
	Percent     float64 `json:"percent_informed"`
	History     []int   `json:"history"`
	Stored      bool    `json:"stored"`
	ChartPath   string  `json:"chart_path,omitempty"`
	CSVPath     string  `json:"csv_path,omitempty"`
	VideoPath   string  `json:"video_path,omitempty"`
}

// runSimulation builds, runs and exports one simulation. Terminal frames
// go to w.
func runSimulation(ctx context.Context, cfg *config.Config, w io.Writer) (*runOutcome, error) {
	seed := cfg.Simulation.Seed
	if seed == 0 {
		client := entropy.NewClient(cfg.Entropy.RandomOrgKey)
		seed = entropy.Seed(client)
		cfg.Simulation.Seed = seed
		slog.Info("derived seed", "seed", seed, "random_org", client.Enabled())
	}

	sim, err := engine.NewSimulation(cfg.Simulation, entropy.New(seed))
	if err != nil {
		return nil, err
	}
	runID := persistence.NewRunID()
	slog.Info("simulation created",
		"run", runID,
		"name", cfg.Simulation.Name,
		"grid", sim.Grid.Dims.String(),
		"population", humanize.Comma(int64(sim.TotalPopulation())),
		"mode", cfg.Simulation.Mode,
		"seed", seed,
	)

	var db *persistence.DB
	if path := cfg.Storage.Path; path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		db, err = persistence.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		defer db.Close()
		slog.Info("database opened", "path", path)
	}

	eng := engine.NewEngine(sim)
	eng.Interval = cfg.Engine.Interval
	eng.SetSpeed(cfg.Engine.Speed)
	eng.MaxGenerations = cfg.Simulation.MaxGenerations
	eng.StopWhenSaturated = cfg.Simulation.StopWhenSaturated

	obs, err := newObservers(cfg, sim, eng, db, runID, w)
	if err != nil {
		return nil, err
	}
	defer obs.close()
	eng.OnGeneration = obs.onGeneration

	history := eng.Run(ctx)

	out := &runOutcome{
		RunID:       runID,
		Name:        cfg.Simulation.Name,
		Seed:        seed,
		Rows:        cfg.Simulation.Rows,
		Cols:        cfg.Simulation.Cols,
		Population:  sim.TotalPopulation(),
		Generations: len(history),
		Informed:    sim.InformedCount(),
		History:     history,
		VideoPath:   cfg.Render.VideoPath,
	}
	out.Percent = float64(out.Informed) / float64(out.Population) * 100

	if db != nil {
		if _, err := db.SaveSimulation(runID, seed, sim); err != nil {
			return nil, err
		}
		out.Stored = true
	}

	series := report.Series{Name: cfg.Simulation.Name, Values: report.Cumulative(history, sim.TotalPopulation())}
	if p := exportPath(cfg.Report.ChartPath, cfg.Simulation.Name, ".png"); p != "" {
		err := writeFile(p, func(f io.Writer) error {
			return report.RenderChart(f, cfg.Simulation.Name, series)
		})
		switch {
		case errors.Is(err, report.ErrTooFewPoints):
			slog.Warn("chart skipped", "generations", len(history), "error", err)
		case err != nil:
			return nil, err
		default:
			out.ChartPath = p
		}
	}
	if p := exportPath(cfg.Report.CSVPath, cfg.Simulation.Name, ".csv"); p != "" {
		err := writeFile(p, func(f io.Writer) error {
			return report.WriteCSV(f, sim.Results(), sim.TotalPopulation())
		})
		if err != nil {
			return nil, err
		}
		out.CSVPath = p
	}

	return out, nil
}

// exportPath resolves a configured export path; "auto" derives one from name.
func exportPath(configured, name, ext string) string {
	if configured == autoPath {
		return report.ExportFileName(name, ext)
	}
	return configured
}

// writeFile creates path and hands it to write. A partial file is removed
// on error.
func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// observers fans each generation out to tracing, rendering and the API.
type observers struct {
	runID  string
	sim    *engine.Simulation
	trace  *logging.GenerationTrace
	term   *render.Terminal
	frames *render.FrameWriter
	video  *render.Video
	server *api.Server
}

func newObservers(cfg *config.Config, sim *engine.Simulation, eng *engine.Engine, db *persistence.DB, runID string, w io.Writer) (*observers, error) {
	o := &observers{
		runID: runID,
		sim:   sim,
		trace: logging.NewGenerationTrace(cfg.Logging.TraceDir, cfg.Logging.Level),
	}

	if cfg.Render.Terminal {
		if f, ok := w.(*os.File); ok {
			o.term = render.NewTerminal(f)
		} else {
			o.term = &render.Terminal{W: w, Palette: render.NewPalette()}
		}
	}

	var err error
	if cfg.Render.FramesDir != "" {
		if o.frames, err = render.NewFrameWriter(cfg.Render.FramesDir, cfg.Render.Scale); err != nil {
			o.close()
			return nil, err
		}
	}
	initial := sim.Snapshot()
	if cfg.Render.VideoPath != "" {
		if o.video, err = render.NewVideo(cfg.Render.VideoPath, initial, cfg.Render.Scale, cfg.Render.FPS); err != nil {
			o.close()
			return nil, err
		}
	}
	if cfg.API.Port > 0 {
		o.server = &api.Server{
			Eng:      eng,
			DB:       db,
			Port:     cfg.API.Port,
			AdminKey: cfg.API.AdminKey,
			RunID:    runID,
		}
		o.server.PublishInitial(initial)
		o.server.Start()
	}

	o.show(initial)
	return o, nil
}

func (o *observers) onGeneration(r engine.GenerationResult) {
	o.trace.Log(o.runID, r)
	slog.Debug("generation complete",
		"generation", r.Generation,
		"newly_informed", r.NewlyInformed,
		"informed", r.Informed,
		"rejection_rate", fmt.Sprintf("%.3f", r.RejectionRate),
	)

	if o.term == nil && o.frames == nil && o.video == nil && o.server == nil {
		return
	}
	snap := o.sim.Snapshot()
	o.show(snap)
	if o.server != nil {
		o.server.Publish(r, snap)
	}
}

func (o *observers) show(snap engine.Snapshot) {
	if o.term != nil {
		if err := o.term.Draw(snap); err != nil {
			slog.Warn("terminal draw failed", "error", err)
		}
	}
	if o.frames != nil {
		if _, err := o.frames.Write(snap); err != nil {
			slog.Warn("frame write failed", "generation", snap.Generation, "error", err)
		}
	}
	if o.video != nil {
		if err := o.video.Add(snap); err != nil {
			slog.Warn("video frame failed", "generation", snap.Generation, "error", err)
		}
	}
}

func (o *observers) close() {
	if o.video != nil {
		if err := o.video.Close(); err != nil {
			slog.Warn("video close failed", "error", err)
		} else {
			slog.Info("video written", "frames", o.video.Frames())
		}
	}
	if o.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := o.server.Shutdown(ctx); err != nil {
			slog.Warn("HTTP shutdown", "error", err)
		}
	}
	o.trace.Close()
}

func printOutcome(w io.Writer, out *runOutcome, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "Run %s (%s), seed %d\n", out.RunID, out.Name, out.Seed)
	fmt.Fprintf(w, "  Population: %s on %dx%d\n", humanize.Comma(int64(out.Population)), out.Rows, out.Cols)
	fmt.Fprintf(w, "  Generations: %s\n", humanize.Comma(int64(out.Generations)))
	fmt.Fprintf(w, "  Informed: %s (%.1f%%)\n", humanize.Comma(int64(out.Informed)), out.Percent)
	if out.Stored {
		fmt.Fprintln(w, "  Stored: yes")
	}
	exports := []struct{ label, path string }{
		{"Chart", out.ChartPath},
		{"CSV", out.CSVPath},
		{"Video", out.VideoPath},
	}
	for _, e := range exports {
		if e.path != "" {
			fmt.Fprintf(w, "  %s: %s\n", e.label, e.path)
		}
	}
	fmt.Fprintln(w)

	series := report.Series{Name: out.Name, Values: report.Cumulative(out.History, out.Population)}
	return report.TerminalChart(w, series, 60, 10)
}
