// Package persistence provides SQLite-based storage of run results: one row
// per run and one row per completed generation. Simulation state itself is
// never reloaded.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/rumor-grid/internal/engine"
)

// ErrRunNotFound is returned when no run matches an id or id prefix.
var ErrRunNotFound = errors.New("run not found")

// DB wraps a SQLite connection for run result storage.
type DB struct {
	conn *sqlx.DB
}

// Run is one stored simulation run.
type Run struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Seed        int64  `db:"seed" json:"seed"`
	Rows        int    `db:"grid_rows" json:"rows"`
	Cols        int    `db:"grid_cols" json:"cols"`
	Population  int    `db:"population" json:"population"`
	Generations int    `db:"generations" json:"generations"`
	Informed    int    `db:"informed" json:"informed"`
	CreatedAt   string `db:"created_at" json:"created_at"` // RFC 3339
	ConfigJSON  string `db:"config_json" json:"-"`
}

// GenerationRow is the stored form of one generation's metrics.
type GenerationRow struct {
	RunID         string  `db:"run_id" json:"-"`
	Generation    int     `db:"generation" json:"generation"`
	NewlyInformed int     `db:"newly_informed" json:"newly_informed"`
	Informed      int     `db:"informed" json:"informed"`
	Spreaders     int     `db:"spreaders" json:"spreaders"`
	Attempts      int     `db:"attempts" json:"attempts"`
	Contacts      int     `db:"contacts" json:"contacts"`
	Rejected      int     `db:"rejected" json:"rejected"`
	RejectionRate float64 `db:"rejection_rate" json:"rejection_rate"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		seed INTEGER NOT NULL,
		grid_rows INTEGER NOT NULL,
		grid_cols INTEGER NOT NULL,
		population INTEGER NOT NULL,
		generations INTEGER NOT NULL,
		informed INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		config_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS generations (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		generation INTEGER NOT NULL,
		newly_informed INTEGER NOT NULL,
		informed INTEGER NOT NULL,
		spreaders INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		contacts INTEGER NOT NULL,
		rejected INTEGER NOT NULL,
		rejection_rate REAL NOT NULL,
		PRIMARY KEY (run_id, generation)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun writes a run and its generations (full replace for that id).
func (db *DB) SaveRun(run Run, gens []GenerationRow) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM generations WHERE run_id = ?", run.ID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM runs WHERE id = ?", run.ID); err != nil {
		return err
	}

	if _, err := tx.NamedExec(`INSERT INTO runs
		(id, name, seed, grid_rows, grid_cols, population, generations, informed, created_at, config_json)
		VALUES (:id, :name, :seed, :grid_rows, :grid_cols, :population, :generations, :informed, :created_at, :config_json)`,
		run,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.Preparex(`INSERT INTO generations
		(run_id, generation, newly_informed, informed, spreaders, attempts, contacts, rejected, rejection_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, g := range gens {
		_, err := stmt.Exec(run.ID, g.Generation, g.NewlyInformed, g.Informed,
			g.Spreaders, g.Attempts, g.Contacts, g.Rejected, g.RejectionRate)
		if err != nil {
			return fmt.Errorf("insert generation %d: %w", g.Generation, err)
		}
	}

	return tx.Commit()
}

// SaveSimulation stores the finished results of sim under id.
func (db *DB) SaveSimulation(id string, seed int64, sim *engine.Simulation) (Run, error) {
	cfgJSON, err := json.Marshal(sim.Config)
	if err != nil {
		return Run{}, fmt.Errorf("marshal config: %w", err)
	}

	results := sim.Results()
	run := Run{
		ID:          id,
		Name:        sim.Config.Name,
		Seed:        seed,
		Rows:        sim.Config.Rows,
		Cols:        sim.Config.Cols,
		Population:  sim.TotalPopulation(),
		Generations: len(results),
		Informed:    sim.InformedCount(),
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		ConfigJSON:  string(cfgJSON),
	}

	gens := make([]GenerationRow, len(results))
	for i, r := range results {
		gens[i] = GenerationRow{
			RunID:         id,
			Generation:    r.Generation,
			NewlyInformed: r.NewlyInformed,
			Informed:      r.Informed,
			Spreaders:     r.Spreaders,
			Attempts:      r.Attempts,
			Contacts:      r.Contacts,
			Rejected:      r.Rejected,
			RejectionRate: r.RejectionRate,
		}
	}

	slog.Info("saving run", "id", id, "name", run.Name, "generations", run.Generations)
	if err := db.SaveRun(run, gens); err != nil {
		return Run{}, fmt.Errorf("save run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs,
		"SELECT * FROM runs ORDER BY created_at DESC, id LIMIT ?",
		limit,
	)
	return runs, err
}

// LoadRun finds a run by full id or unique id prefix.
func (db *DB) LoadRun(idOrPrefix string) (Run, error) {
	var runs []Run
	err := db.conn.Select(&runs,
		"SELECT * FROM runs WHERE id = ? OR id LIKE ? ORDER BY id LIMIT 2",
		idOrPrefix, idOrPrefix+"%",
	)
	if err != nil {
		return Run{}, err
	}
	switch {
	case len(runs) == 0:
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, idOrPrefix)
	case len(runs) > 1 && runs[0].ID != idOrPrefix:
		return Run{}, fmt.Errorf("ambiguous run id prefix %q", idOrPrefix)
	}
	return runs[0], nil
}

// LoadGenerations returns the stored generations of a run in order.
func (db *DB) LoadGenerations(runID string) ([]GenerationRow, error) {
	var gens []GenerationRow
	err := db.conn.Select(&gens,
		"SELECT * FROM generations WHERE run_id = ? ORDER BY generation",
		runID,
	)
	return gens, err
}

// Result converts a stored row back to an engine result.
func (g GenerationRow) Result() engine.GenerationResult {
	return engine.GenerationResult{
		Generation:    g.Generation,
		NewlyInformed: g.NewlyInformed,
		Informed:      g.Informed,
		Spreaders:     g.Spreaders,
		Attempts:      g.Attempts,
		Contacts:      g.Contacts,
		Rejected:      g.Rejected,
		RejectionRate: g.RejectionRate,
	}
}

// History extracts the newly-informed series from stored generations.
func History(gens []GenerationRow) []int {
	out := make([]int, len(gens))
	for i, g := range gens {
		out[i] = g.NewlyInformed
	}
	return out
}
