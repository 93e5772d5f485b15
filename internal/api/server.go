// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
//
// Handlers never touch the live simulation. The engine goroutine publishes
// each finished generation through Publish, and handlers read that copy.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/rumor-grid/internal/engine"
	"github.com/talgya/rumor-grid/internal/persistence"
	"github.com/talgya/rumor-grid/internal/render"
)

const (
	maxSSEConns    = 4
	maxPNGScale    = 16
	defaultPNGSize = 4
)

// Controller is the part of the engine the admin endpoints drive.
type Controller interface {
	Speed() float64
	SetSpeed(float64)
	Running() bool
	Stop()
}

// frame is one published generation.
type frame struct {
	Result   engine.GenerationResult
	Snapshot engine.Snapshot
}

// Server serves the latest published generation over HTTP.
type Server struct {
	Eng      Controller
	DB       *persistence.DB
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.
	RunID    string

	latest atomic.Pointer[frame]

	mu      sync.Mutex
	results []engine.GenerationResult
	subs    map[int]chan engine.GenerationResult
	nextSub int

	sseConns int32

	snapshotLimiter *RateLimiter
	httpServer      *http.Server
}

// Publish records a finished generation. Called from the engine goroutine.
func (s *Server) Publish(r engine.GenerationResult, snap engine.Snapshot) {
	s.latest.Store(&frame{Result: r, Snapshot: snap})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	for id, ch := range s.subs {
		select {
		case ch <- r:
		default:
			slog.Debug("dropping generation for slow stream client", "sub_id", id, "generation", r.Generation)
		}
	}
}

// PublishInitial records the pre-run state so /snapshot has something to
// serve before the first generation.
func (s *Server) PublishInitial(snap engine.Snapshot) {
	s.latest.Store(&frame{Result: engine.GenerationResult{Generation: -1, Informed: snap.Informed}, Snapshot: snap})
}

func (s *Server) subscribe() (int, <-chan engine.GenerationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]chan engine.GenerationResult)
	}
	s.nextSub++
	ch := make(chan engine.GenerationResult, 64)
	s.subs[s.nextSub] = ch
	return s.nextSub, ch
}

func (s *Server) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	if s.snapshotLimiter == nil {
		s.snapshotLimiter = NewRateLimiter(120, time.Minute)
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/snapshot", RateLimitMiddleware(s.snapshotLimiter, s.handleSnapshot))
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunDetail)
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/stop", s.adminOnly(s.handleStop))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the listener started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.snapshotLimiter != nil {
		s.snapshotLimiter.Close()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no RUMORSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"run_id":     s.RunID,
		"generation": -1,
		"running":    false,
	}
	if f := s.latest.Load(); f != nil {
		status["name"] = f.Snapshot.Name
		status["dims"] = f.Snapshot.Dims
		status["generation"] = f.Snapshot.Generation
		status["population"] = f.Snapshot.Population
		status["informed"] = f.Snapshot.Informed
		status["saturated"] = f.Snapshot.Population > 0 && f.Snapshot.Informed == f.Snapshot.Population
		status["last"] = f.Result
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed()
		status["running"] = s.Eng.Running()
	}
	writeJSON(w, status)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	from := 0
	limit := 1000
	if f := r.URL.Query().Get("from"); f != "" {
		if v, err := strconv.Atoi(f); err == nil && v >= 0 {
			from = v
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 10000 {
			limit = v
		}
	}

	s.mu.Lock()
	var out []engine.GenerationResult
	if from < len(s.results) {
		end := min(from+limit, len(s.results))
		out = append(out, s.results[from:end]...)
	}
	s.mu.Unlock()

	if out == nil {
		out = []engine.GenerationResult{}
	}
	writeJSON(w, out)
}

// handleSnapshot serves the latest grid as JSON, or as a PNG frame with
// ?format=png&scale=N.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	f := s.latest.Load()
	if f == nil {
		http.Error(w, "no generation published yet", http.StatusServiceUnavailable)
		return
	}

	if r.URL.Query().Get("format") != "png" {
		writeJSON(w, f.Snapshot)
		return
	}

	scale := defaultPNGSize
	if v, err := strconv.Atoi(r.URL.Query().Get("scale")); err == nil && v >= 1 && v <= maxPNGScale {
		scale = v
	}
	w.Header().Set("Content-Type", "image/png")
	if err := render.WritePNG(w, render.Frame(f.Snapshot, render.NewPalette(), scale)); err != nil {
		slog.Error("snapshot png failed", "error", err)
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	runs, err := s.DB.ListRuns(limit)
	if err != nil {
		slog.Error("list runs failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []persistence.Run{}
	}
	writeJSON(w, runs)
}

// handleRunDetail serves GET /api/v1/runs/:id with its generations.
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if id == "" {
		s.handleRuns(w, r)
		return
	}

	run, err := s.DB.LoadRun(id)
	if errors.Is(err, persistence.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	gens, err := s.DB.LoadGenerations(run.ID)
	if err != nil {
		slog.Error("load generations failed", "run", run.ID, "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if gens == nil {
		gens = []persistence.GenerationRow{}
	}

	writeJSON(w, map[string]any{
		"run":         run,
		"generations": gens,
	})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not attached", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Eng == nil {
		http.Error(w, "engine not attached", http.StatusServiceUnavailable)
		return
	}

	s.Eng.Stop()
	slog.Info("stop requested via API")

	generation := -1
	if f := s.latest.Load(); f != nil {
		generation = f.Snapshot.Generation
	}
	writeJSON(w, map[string]any{
		"generation": generation,
		"message":    "stop requested",
	})
}

// handleStream sends each published generation as a server-sent event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	current := atomic.AddInt32(&s.sseConns, 1)
	if current > maxSSEConns {
		atomic.AddInt32(&s.sseConns, -1)
		http.Error(w, "too many SSE connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.sseConns, -1)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subID, ch := s.subscribe()
	defer s.unsubscribe(subID)

	if f := s.latest.Load(); f != nil && f.Result.Generation >= 0 {
		writeSSEEvent(w, f.Result)
	}
	flusher.Flush()

	slog.Info("SSE client connected", "sub_id", subID)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case res := <-ch:
			writeSSEEvent(w, res)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "sub_id", subID)
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, r engine.GenerationResult) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: generation\ndata: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
