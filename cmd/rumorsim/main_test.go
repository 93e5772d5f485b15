package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talgya/rumor-grid/internal/config"
	"github.com/talgya/rumor-grid/internal/persistence"
)

// isolateHome sets HOME to a temp directory so ~/.rumorsim/config.yaml is
// never read.
func isolateHome(t *testing.T) {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0700); err != nil {
		t.Fatalf("Failed to create temp home: %v", err)
	}
	t.Setenv("HOME", home)
}

// saturatingConfig is a 10x10 full grid of tier-1 agents.
func saturatingConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Simulation.Name = "test: saturating"
	cfg.Simulation.Rows, cfg.Simulation.Cols = 10, 10
	cfg.Simulation.PopulationDensity = 1
	cfg.Simulation.S1, cfg.Simulation.S2, cfg.Simulation.S3, cfg.Simulation.S4 = 1, 0, 0, 0
	cfg.Simulation.Seed = 11
	cfg.Simulation.MaxGenerations = 50
	cfg.Simulation.StopWhenSaturated = true
	cfg.Engine.Interval = 0
	cfg.Logging.TraceDir = t.TempDir()
	return cfg
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"configuration", fmt.Errorf("load: %w", config.ErrConfiguration), exitConfig},
		{"capacity", fmt.Errorf("spawn: %w", config.ErrCapacity), exitConfig},
		{"other", errors.New("disk full"), exitFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestApplyFlags(t *testing.T) {
	cmd := newRunCmd()
	err := cmd.ParseFlags([]string{
		"--rows", "20", "--cols", "30",
		"--density", "0.5",
		"--s1", "0.7", "--s4", "0.3",
		"--l-generation", "4",
		"--mode", "FAST",
		"--placement", "noise",
		"--seed", "99",
		"--generations", "12",
		"--stop-when-saturated",
		"--interval", "50ms",
		"--db", "x.db",
		"--video", "run.avi",
		"--chart", "auto",
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	applyFlags(cmd.Flags(), cfg)
	sim := cfg.Simulation

	if sim.Rows != 20 || sim.Cols != 30 || sim.PopulationDensity != 0.5 {
		t.Errorf("grid = %dx%d @ %v", sim.Rows, sim.Cols, sim.PopulationDensity)
	}
	if sim.S1 != 0.7 || sim.S4 != 0.3 {
		t.Errorf("s1/s4 = %v/%v", sim.S1, sim.S4)
	}
	if sim.S2 != 0.3 || sim.S3 != 0.4 {
		t.Errorf("unset weights changed: s2=%v s3=%v", sim.S2, sim.S3)
	}
	if sim.LGeneration != 4 || sim.Mode != config.ModeFast || sim.Placement != config.PlacementNoise {
		t.Errorf("l=%d mode=%q placement=%q", sim.LGeneration, sim.Mode, sim.Placement)
	}
	if sim.Seed != 99 || sim.MaxGenerations != 12 || !sim.StopWhenSaturated {
		t.Errorf("seed=%d cap=%d stop=%v", sim.Seed, sim.MaxGenerations, sim.StopWhenSaturated)
	}
	if cfg.Engine.Interval != 50*time.Millisecond || cfg.Storage.Path != "x.db" {
		t.Errorf("interval=%v db=%q", cfg.Engine.Interval, cfg.Storage.Path)
	}
	if cfg.Render.VideoPath != "run.avi" || cfg.Report.ChartPath != autoPath {
		t.Errorf("video=%q chart=%q", cfg.Render.VideoPath, cfg.Report.ChartPath)
	}
	if sim.Name != "default simulation" || cfg.Engine.Speed != 1 {
		t.Errorf("unset fields changed: name=%q speed=%v", sim.Name, cfg.Engine.Speed)
	}
}

func TestExportPath(t *testing.T) {
	if got := exportPath("auto", "a:b", ".png"); got != "a-b.png" {
		t.Errorf("auto = %q", got)
	}
	if got := exportPath("out/x.csv", "a:b", ".csv"); got != "out/x.csv" {
		t.Errorf("explicit = %q", got)
	}
	if got := exportPath("", "a", ".png"); got != "" {
		t.Errorf("empty = %q", got)
	}
}

func TestRunSimulation(t *testing.T) {
	dir := t.TempDir()
	cfg := saturatingConfig(t)
	cfg.Storage.Path = filepath.Join(dir, "data", "runs.db")
	cfg.Report.ChartPath = filepath.Join(dir, "chart.png")
	cfg.Report.CSVPath = filepath.Join(dir, "run.csv")
	cfg.Render.Terminal = true
	cfg.Render.FramesDir = filepath.Join(dir, "frames")
	cfg.Render.VideoPath = filepath.Join(dir, "run.avi")
	cfg.Render.Scale = 2

	var term bytes.Buffer
	out, err := runSimulation(context.Background(), cfg, &term)
	if err != nil {
		t.Fatalf("runSimulation: %v", err)
	}

	want := []int{8, 16, 24, 32, 19}
	if fmt.Sprint(out.History) != fmt.Sprint(want) {
		t.Errorf("history = %v, want %v", out.History, want)
	}
	if out.Informed != 100 || out.Percent != 100 || !out.Stored {
		t.Errorf("outcome = %+v", out)
	}

	// initial frame plus one per generation
	if got := strings.Count(term.String(), "generation "); got != 6 {
		t.Errorf("terminal frames = %d, want 6", got)
	}
	frames, _ := filepath.Glob(filepath.Join(dir, "frames", "*.png"))
	if len(frames) != 6 {
		t.Errorf("png frames = %d, want 6", len(frames))
	}
	if info, err := os.Stat(cfg.Render.VideoPath); err != nil || info.Size() == 0 {
		t.Errorf("video missing: %v", err)
	}

	f, err := os.Open(cfg.Report.ChartPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("chart is not a PNG: %v", err)
	}

	data, err := os.ReadFile(cfg.Report.CSVPath)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 6 || rows[5][2] != "100" {
		t.Errorf("csv rows = %v", rows)
	}

	db, err := persistence.Open(cfg.Storage.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	run, err := db.LoadRun(out.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Generations != 5 || run.Seed != 11 {
		t.Errorf("stored run = %+v", run)
	}
}

func TestRunSimulation_ShortRunSkipsChart(t *testing.T) {
	dir := t.TempDir()
	cfg := saturatingConfig(t)
	cfg.Simulation.MaxGenerations = 1
	cfg.Report.ChartPath = filepath.Join(dir, "chart.png")

	out, err := runSimulation(context.Background(), cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("runSimulation: %v", err)
	}
	if out.ChartPath != "" {
		t.Errorf("chart path = %q, want none", out.ChartPath)
	}
	if _, err := os.Stat(cfg.Report.ChartPath); !os.IsNotExist(err) {
		t.Error("partial chart file left behind")
	}
}

func TestRunSimulation_Cancelled(t *testing.T) {
	cfg := saturatingConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := runSimulation(ctx, cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Generations != 0 {
		t.Errorf("generations = %d, want 0", out.Generations)
	}
}

func TestRunCommand_EndToEnd(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{
		"run", "--json",
		"--rows", "10", "--cols", "10", "--density", "1",
		"--s1", "1", "--s2", "0", "--s3", "0", "--s4", "0",
		"--seed", "3", "--interval", "0", "--generations", "40",
		"--stop-when-saturated", "--db", dbPath,
	})
	if err := root.Execute(); err != nil {
		t.Fatalf("run: %v", err)
	}

	var outcome runOutcome
	if err := json.Unmarshal(out.Bytes(), &outcome); err != nil {
		t.Fatalf("run output: %v\n%s", err, out.String())
	}
	if outcome.Generations != 5 || !outcome.Stored {
		t.Errorf("outcome = %+v", outcome)
	}

	root = newRootCmd()
	out.Reset()
	root.SetOut(&out)
	root.SetArgs([]string{"runs", "--db", dbPath, "--json"})
	if err := root.Execute(); err != nil {
		t.Fatalf("runs: %v", err)
	}
	var runs []persistence.Run
	if err := json.Unmarshal(out.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != outcome.RunID {
		t.Fatalf("runs = %+v", runs)
	}

	csvPath := filepath.Join(dir, "show.csv")
	root = newRootCmd()
	out.Reset()
	root.SetOut(&out)
	root.SetArgs([]string{"show", shortID(outcome.RunID), "--db", dbPath, "--csv", csvPath})
	if err := root.Execute(); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out.String(), outcome.RunID) {
		t.Errorf("show output missing run id:\n%s", out.String())
	}
	if _, err := os.Stat(csvPath); err != nil {
		t.Errorf("show csv: %v", err)
	}
}

func TestRunCommand_InvalidConfigExitCode(t *testing.T) {
	isolateHome(t)
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--density", "2", "--interval", "0"})

	err := root.Execute()
	if err == nil {
		t.Fatal("expected error")
	}
	if exitCode(err) != exitConfig {
		t.Errorf("exit code = %d, want %d (err: %v)", exitCode(err), exitConfig, err)
	}
}

func TestCompareModes(t *testing.T) {
	sc := config.Default().Simulation
	sc.Rows, sc.Cols = 30, 30
	sc.Seed = 21
	sc.MaxGenerations = 40

	first, err := compareModes(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 {
		t.Fatalf("results = %d, want 3", len(first))
	}
	for i, m := range []config.Mode{config.ModeDefault, config.ModeFast, config.ModeSlow} {
		r := first[i]
		if r.Mode != m || r.Generations != 40 || len(r.Series.Values) != 40 {
			t.Errorf("%s: %+v", m, r)
		}
	}

	again, _ := compareModes(context.Background(), sc)
	for i := range first {
		if fmt.Sprint(first[i].History) != fmt.Sprint(again[i].History) {
			t.Errorf("%s not deterministic", first[i].Mode)
		}
	}
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	if err := printRuns(&buf, nil, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No runs stored") {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	runs := []persistence.Run{{
		ID: "0123456789abcdef", Name: "x", Rows: 4, Cols: 5, Population: 12000,
		Generations: 3, Informed: 1500, CreatedAt: time.Now().Add(-2 * time.Hour).Format(time.RFC3339),
	}}
	if err := printRuns(&buf, runs, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"01234567", "4x5", "12,000", "1,500", "hours ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--json"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	var v map[string]string
	if err := json.Unmarshal(out.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v["version"] != version {
		t.Errorf("version = %q", v["version"])
	}
}
