package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/talgya/rumor-grid/internal/agents"
	"github.com/talgya/rumor-grid/internal/config"
	"github.com/talgya/rumor-grid/internal/entropy"
	"github.com/talgya/rumor-grid/internal/world"
)

type placement struct {
	at       world.Coord
	tier     agents.Tier
	informed bool
}

// newTestSim builds a simulation with a hand-placed population.
func newTestSim(t *testing.T, d world.Dims, cooldown int, seed int64, ps []placement) *Simulation {
	t.Helper()
	cfg := config.Default().Simulation
	cfg.Rows, cfg.Cols = d.Rows, d.Cols
	cfg.LGeneration = cooldown

	sim := &Simulation{
		Config: cfg,
		Grid:   world.NewGrid[agents.Agent](d),
		rng:    entropy.New(seed),
	}
	for i, p := range ps {
		a := agents.New(agents.AgentID(i+1), p.at, p.tier)
		if p.informed {
			a.Inform(0)
			sim.informed++
		}
		if err := sim.Grid.Place(p.at, a); err != nil {
			t.Fatalf("place %v: %v", p.at, err)
		}
		sim.Agents = append(sim.Agents, a)
	}
	return sim
}

func scenarioConfig(w [4]float64, density float64) config.SimulationConfig {
	cfg := config.Default().Simulation
	cfg.Rows, cfg.Cols = 10, 10
	cfg.PopulationDensity = density
	cfg.S1, cfg.S2, cfg.S3, cfg.S4 = w[0], w[1], w[2], w[3]
	cfg.LGeneration = 2
	return cfg
}

func TestStep_SocialProofLowersTierBeforeSpreading(t *testing.T) {
	d := world.Dims{Rows: 5, Cols: 5}
	sim := newTestSim(t, d, 2, 1, []placement{
		{world.Coord{Row: 1, Col: 1}, agents.TierOpen, true},     // A
		{world.Coord{Row: 0, Col: 0}, agents.TierSkeptic, true},  // B, neighbor of A
		{world.Coord{Row: 2, Col: 2}, agents.TierSkeptic, true},  // C, neighbor of A
		{world.Coord{Row: 1, Col: 2}, agents.TierSkeptic, false}, // D, neighbor of A and C
	})
	a, b, c, dd := sim.Agents[0], sim.Agents[1], sim.Agents[2], sim.Agents[3]

	res := sim.Step()

	if !dd.IsInformed() {
		t.Fatal("A was exposed twice, dropped to tier 1, and should always spread to D")
	}
	if res.NewlyInformed != 1 {
		t.Errorf("NewlyInformed = %d, want 1", res.NewlyInformed)
	}
	if a.Tier != agents.TierOpen || a.Exposure != 0 {
		t.Errorf("A after reset: tier=%d exposure=%d, want 2/0", a.Tier, a.Exposure)
	}
	if a.Cooldown != 2 {
		t.Errorf("A cooldown = %d, want 2", a.Cooldown)
	}
	if b.Cooldown != 0 || c.Cooldown != 0 {
		t.Error("tier 4 agents never spread, so their cooldown stays 0")
	}
	if dd.InformedAt != 0 {
		t.Errorf("D InformedAt = %d, want 0", dd.InformedAt)
	}
}

func TestStep_NewlyInformedWaitForNextGeneration(t *testing.T) {
	d := world.Dims{Rows: 3, Cols: 10}
	var ps []placement
	for col := 0; col < 5; col++ {
		ps = append(ps, placement{world.Coord{Row: 1, Col: col}, agents.TierCredulous, col == 0})
	}
	sim := newTestSim(t, d, 2, 1, ps)

	res := sim.Step()
	if res.NewlyInformed != 1 {
		t.Fatalf("gen 0 NewlyInformed = %d, want 1", res.NewlyInformed)
	}
	if sim.Agents[2].IsInformed() {
		t.Fatal("agent informed mid-generation spread in the same generation")
	}

	res = sim.Step()
	if res.NewlyInformed != 1 || !sim.Agents[2].IsInformed() {
		t.Fatalf("gen 1 should inform exactly col 2, got %d", res.NewlyInformed)
	}
	if sim.Agents[0].Cooldown != 1 {
		t.Errorf("seed cooldown = %d, want 1 after one idle generation", sim.Agents[0].Cooldown)
	}
}

func TestStep_CooldownLaw(t *testing.T) {
	d := world.Dims{Rows: 5, Cols: 5}
	sim := newTestSim(t, d, 3, 1, []placement{
		{world.Coord{Row: 2, Col: 2}, agents.TierCredulous, true},
		{world.Coord{Row: 2, Col: 3}, agents.TierSkeptic, false},
	})
	seed := sim.Agents[0]

	want := []int{3, 2, 1, 0, 3}
	for gen, w := range want {
		sim.Step()
		if seed.Cooldown != w {
			t.Fatalf("after gen %d cooldown = %d, want %d", gen, seed.Cooldown, w)
		}
	}
}

func TestStep_TierFourNeverSpreads(t *testing.T) {
	d := world.Dims{Rows: 5, Cols: 5}
	sim := newTestSim(t, d, 2, 1, []placement{
		{world.Coord{Row: 2, Col: 2}, agents.TierSkeptic, true},
		{world.Coord{Row: 2, Col: 3}, agents.TierCredulous, false},
		{world.Coord{Row: 3, Col: 3}, agents.TierCredulous, false},
	})

	for i := 0; i < 10; i++ {
		res := sim.Step()
		if res.NewlyInformed != 0 || res.Attempts != 0 {
			t.Fatalf("gen %d: tier 4 spread (%d new, %d attempts)", i, res.NewlyInformed, res.Attempts)
		}
		if res.Contacts != 2 || res.RejectionRate != 1 {
			t.Fatalf("gen %d: contacts=%d rate=%v, want 2/1", i, res.Contacts, res.RejectionRate)
		}
	}
}

func TestStep_ProbabilisticTiers(t *testing.T) {
	tests := []struct {
		name string
		tier agents.Tier
		want float64
	}{
		{"tier 2 spreads a third of the time", agents.TierOpen, 1.0 / 3},
		{"tier 3 spreads two thirds of the time", agents.TierWary, 2.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := entropy.New(9)
			sim := &Simulation{rng: rng}
			hits := 0
			const trials = 30000
			for i := 0; i < trials; i++ {
				if sim.attempts(tt.tier) {
					hits++
				}
			}
			got := float64(hits) / trials
			if got < tt.want-0.02 || got > tt.want+0.02 {
				t.Errorf("spread rate = %.3f, want about %.3f", got, tt.want)
			}
		})
	}
}

func TestStep_Invariants(t *testing.T) {
	cfg := config.Default().Simulation
	cfg.Rows, cfg.Cols = 30, 30
	cfg.MaxGenerations = 60

	sim, err := NewSimulation(cfg, entropy.New(21))
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}

	for gen := 0; gen < cfg.MaxGenerations; gen++ {
		before := make([]bool, len(sim.Agents))
		uninformed := 0
		for i, a := range sim.Agents {
			before[i] = a.IsInformed()
			if !before[i] {
				uninformed++
			}
		}

		res := sim.Step()

		if res.NewlyInformed > uninformed {
			t.Fatalf("gen %d: %d newly informed exceeds %d uninformed", gen, res.NewlyInformed, uninformed)
		}
		informed := 0
		for i, a := range sim.Agents {
			if before[i] && !a.IsInformed() {
				t.Fatalf("gen %d: agent %d reverted to uninformed", gen, a.ID)
			}
			if a.Tier != a.OriginalTier || a.Exposure != 0 {
				t.Fatalf("gen %d: agent %d not reset (tier %d/%d exposure %d)", gen, a.ID, a.Tier, a.OriginalTier, a.Exposure)
			}
			if a.Cooldown < 0 || a.Cooldown > cfg.LGeneration {
				t.Fatalf("gen %d: agent %d cooldown %d out of range", gen, a.ID, a.Cooldown)
			}
			if a.IsInformed() {
				informed++
			}
		}
		if informed != res.Informed || informed != sim.InformedCount() {
			t.Fatalf("gen %d: counted %d informed, result says %d", gen, informed, res.Informed)
		}
	}
	if err := sim.CheckPlacement(); err != nil {
		t.Fatal(err)
	}
}

func TestSimulation_Deterministic(t *testing.T) {
	cfg := config.Default().Simulation
	cfg.Rows, cfg.Cols = 40, 40

	a, err := NewSimulation(cfg, entropy.New(1234))
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSimulation(cfg, entropy.New(1234))
	if err != nil {
		t.Fatal(err)
	}

	for i := range a.Agents {
		if a.Agents[i].Position != b.Agents[i].Position || a.Agents[i].Tier != b.Agents[i].Tier {
			t.Fatalf("initial layouts differ at agent %d", i)
		}
	}

	ha := a.Run(context.Background(), 80, nil)
	hb := b.Run(context.Background(), 80, nil)
	if len(ha) != 80 || len(hb) != 80 {
		t.Fatalf("history lengths %d/%d, want 80", len(ha), len(hb))
	}
	for i := range ha {
		if ha[i] != hb[i] {
			t.Fatalf("histories differ at generation %d: %d vs %d", i, ha[i], hb[i])
		}
	}
}

func TestScenario_AllCredulousSaturates(t *testing.T) {
	sim, err := NewSimulation(scenarioConfig([4]float64{1, 0, 0, 0}, 1.0), entropy.New(5))
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	if sim.TotalPopulation() != 100 {
		t.Fatalf("population = %d, want 100", sim.TotalPopulation())
	}

	prev := sim.InformedCount()
	for !sim.Saturated() {
		if sim.CurrentGeneration() > 10 {
			t.Fatal("population did not saturate")
		}
		sim.Step()
		if sim.InformedCount() <= prev {
			t.Fatalf("gen %d: informed %d did not increase from %d", sim.CurrentGeneration()-1, sim.InformedCount(), prev)
		}
		prev = sim.InformedCount()
	}

	// Rings of a Chebyshev ball on a 10x10 torus.
	want := []int{8, 16, 24, 32, 19}
	got := sim.History()
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("history[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if sim.Rates()[0] != 0 {
		t.Errorf("first rejection rate = %v, want 0", sim.Rates()[0])
	}
}

func TestScenario_AllSkepticsNeverSpread(t *testing.T) {
	sim, err := NewSimulation(scenarioConfig([4]float64{0, 0, 0, 1}, 1.0), entropy.New(6))
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}

	history := sim.Run(context.Background(), 30, nil)
	for i, n := range history {
		if n != 0 {
			t.Fatalf("history[%d] = %d, want 0", i, n)
		}
	}
	if sim.InformedCount() != 1 {
		t.Errorf("informed = %d, want 1", sim.InformedCount())
	}
}

func TestScenario_SingleAgent(t *testing.T) {
	sim, err := NewSimulation(scenarioConfig([4]float64{1, 0, 0, 0}, 0.01), entropy.New(7))
	if err != nil {
		t.Fatalf("single agent population should be valid: %v", err)
	}
	if sim.TotalPopulation() != 1 || !sim.Saturated() {
		t.Fatalf("population=%d saturated=%v", sim.TotalPopulation(), sim.Saturated())
	}

	history := sim.Run(context.Background(), 10, nil)
	if len(history) != 10 {
		t.Fatalf("len = %d, want 10", len(history))
	}
	for i, n := range history {
		if n != 0 {
			t.Fatalf("history[%d] = %d, want 0", i, n)
		}
	}
}

func TestNewSimulation_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.SimulationConfig)
	}{
		{"bad density", func(c *config.SimulationConfig) { c.PopulationDensity = 0 }},
		{"bad mode", func(c *config.SimulationConfig) { c.Mode = "sideways" }},
		{"bad cooldown", func(c *config.SimulationConfig) { c.LGeneration = -1 }},
		{"zero weights", func(c *config.SimulationConfig) { c.S1, c.S2, c.S3, c.S4 = 0, 0, 0, 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := scenarioConfig([4]float64{1, 1, 1, 1}, 0.5)
			tt.mutate(&cfg)
			sim, err := NewSimulation(cfg, entropy.New(1))
			if !errors.Is(err, config.ErrConfiguration) {
				t.Errorf("err = %v, want ErrConfiguration", err)
			}
			if sim != nil {
				t.Error("no simulation should be returned on error")
			}
		})
	}
}

func TestSimulation_RunStopsEarly(t *testing.T) {
	sim, err := NewSimulation(scenarioConfig([4]float64{1, 0, 0, 0}, 1.0), entropy.New(5))
	if err != nil {
		t.Fatal(err)
	}

	history := sim.Run(context.Background(), 100, func(r GenerationResult) bool {
		return r.Informed == 100
	})
	if len(history) != 5 {
		t.Errorf("len = %d, want 5 (stop at saturation)", len(history))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if h := sim.Run(ctx, 100, nil); len(h) != 5 {
		t.Errorf("cancelled run advanced to %d generations", len(h))
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	sim, err := NewSimulation(scenarioConfig([4]float64{1, 0, 0, 0}, 0.5), entropy.New(3))
	if err != nil {
		t.Fatal(err)
	}
	snap := sim.Snapshot()
	if snap.Population != 50 || len(snap.Agents) != 50 || snap.Informed != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Dims != (world.Dims{Rows: 10, Cols: 10}) {
		t.Errorf("dims = %v", snap.Dims)
	}

	snap.Agents[0].State = agents.Informed
	snap.Agents[0].Position = world.Coord{Row: 99, Col: 99}
	if sim.Agents[0].Position == (world.Coord{Row: 99, Col: 99}) {
		t.Error("mutating the snapshot changed the simulation")
	}

	h := sim.History()
	sim.Step()
	if len(h) != 0 {
		t.Error("History() result should not grow with the simulation")
	}
}
