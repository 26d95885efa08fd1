// Package api exposes the optimizer over HTTP. Handlers are thin: each
// request builds its own orchestrator run, so concurrent requests never share
// an oracle cache or a state map.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/truckwise/fleetopt/pkg/config"
	"github.com/truckwise/fleetopt/pkg/engine"
	"github.com/truckwise/fleetopt/pkg/model"
	"github.com/truckwise/fleetopt/pkg/store"
)

// Inspector is the optional diagnostics surface a backend may provide.
type Inspector interface {
	Info(ctx context.Context) (map[string]int64, error)
	Health(ctx context.Context) error
}

// Server handles the HTTP surface.
type Server struct {
	src  store.Source
	base *config.Config
	log  *slog.Logger
}

// New builds a server over src. base is the configuration requests are merged
// onto; nil means defaults.
func New(src store.Source, base *config.Config, log *slog.Logger) *Server {
	if base == nil {
		base = config.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{src: src, base: base, log: log}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /algorithm/placement", s.handleRun(engine.ModePlacement))
	mux.HandleFunc("POST /algorithm/assignment", s.handleRun(engine.ModeAssignment))
	mux.HandleFunc("POST /algorithm/run", s.handleRun(engine.ModeFull))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /db/info", s.handleDBInfo)
	return mux
}

// runResponse is the wire shape for algorithm endpoints.
type runResponse struct {
	RunID          int64            `json:"run_id"`
	Status         string           `json:"status"`
	RuntimeSeconds float64          `json:"runtime_seconds"`
	Counters       map[string]int64 `json:"counters"`
}

func (s *Server) handleRun(mode engine.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := s.requestConfig(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
			return
		}

		orch := engine.NewOrchestrator(s.src, cfg, s.log)
		out, err := orch.Execute(r.Context(), mode)
		if err != nil {
			status, errType := classify(err)
			var runID int64
			if out != nil {
				runID = out.RunID
			}
			s.log.Error("run failed", "mode", string(mode), "run_id", runID, "error", err)
			writeError(w, status, errType, err.Error())
			return
		}

		resp := runResponse{
			RunID:          out.RunID,
			Status:         "completed",
			RuntimeSeconds: out.Elapsed.Seconds(),
			Counters:       counters(out),
		}
		if out.Assignment != nil && out.Assignment.Incomplete {
			resp.Status = "cancelled"
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// requestConfig merges the optional JSON body over the server's base config.
func (s *Server) requestConfig(r *http.Request) (*config.Config, error) {
	cfg := *s.base
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if ins, ok := s.src.(Inspector); ok {
		if err := ins.Health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleDBInfo(w http.ResponseWriter, r *http.Request) {
	ins, ok := s.src.(Inspector)
	if !ok {
		writeError(w, http.StatusNotFound, "unsupported", "backend exposes no database info")
		return
	}
	info, err := ins.Info(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func counters(out *engine.Outcome) map[string]int64 {
	c := map[string]int64{}
	if out.Assignment != nil {
		c["routes_assigned"] = int64(out.Assignment.RoutesAssigned)
		c["routes_unassigned"] = int64(out.Assignment.RoutesUnassigned)
		c["active_vehicles"] = int64(out.Stats.ActiveVehicles)
	}
	if out.Placement != nil {
		c["vehicles_placed"] = int64(out.Placement.Quality.TotalVehicles)
		c["locations_used"] = int64(out.Placement.Quality.LocationsUsed)
		c["routes_analyzed"] = int64(out.Placement.Quality.RoutesAnalyzed)
	}
	return c
}

// classify maps run errors onto HTTP statuses.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "input_validation"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "resource_exhaustion"
	case errors.Is(err, model.ErrInvariant):
		return http.StatusInternalServerError, "invariant_violation"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
