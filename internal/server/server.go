// Package server exposes the HTTP control plane: scheduler status and
// control, planner progress, and the planner-batch self-trigger target.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/planning"
	"github.com/aristath/helmsman/internal/scheduler"
)

// Server is the HTTP control plane.
type Server struct {
	runner  *scheduler.Runner
	planner *planning.Service
	bus     *events.Bus
	port    int
	log     zerolog.Logger
	http    *http.Server
}

// New creates the control-plane server.
func New(runner *scheduler.Runner, planner *planning.Service, bus *events.Bus,
	port int, log zerolog.Logger) *Server {
	return &Server{
		runner:  runner,
		planner: planner,
		bus:     bus,
		port:    port,
		log:     log.With().Str("component", "server").Logger(),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Post("/api/status/jobs/planner-batch", s.handlePlannerBatch)
	r.Post("/api/jobs/{jobType}/run", s.handleRunNow)
	r.Post("/api/jobs/{jobType}/reschedule", s.handleReschedule)
	return r
}

// Start runs the HTTP listener until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()
	s.log.Info().Int("port", s.port).Msg("HTTP control plane listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.bus.Emit(events.WebRequest, &events.GenericData{Type: events.WebRequest})

	status, err := s.runner.GetStatus(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	system := map[string]any{}
	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		system["cpu_percent"] = percentages[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		system["memory_percent"] = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scheduler": status,
		"system":    system,
	})
}

// handlePlannerBatch is the planner's self-trigger target: best-effort,
// responds immediately and processes the batch asynchronously.
func (s *Server) handlePlannerBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PortfolioHash string `json:"portfolio_hash"`
		Depth         int    `json:"depth"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if body.Depth <= 0 {
		body.Depth = 1
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), scheduler.JobTimeout)
		defer cancel()
		if err := s.planner.ProcessBatch(ctx, body.Depth); err != nil {
			s.log.Warn().Err(err).Msg("Planner batch via API failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	jobType := chi.URLParam(r, "jobType")
	result := s.runner.RunNow(r.Context(), jobType)
	code := http.StatusOK
	if result.Status == "failed" {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, result)
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	jobType := chi.URLParam(r, "jobType")
	if err := s.runner.Reschedule(r.Context(), jobType); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rescheduled"})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
