package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bpradana/edgeboard/internal/health"
	"github.com/bpradana/edgeboard/internal/middleware"
	"github.com/bpradana/edgeboard/internal/status"
	"go.uber.org/zap"
)

var errDirectoryDisabled = errors.New("seed directory is disabled")

type errorResponse struct {
	Error string `json:"error"`
}

type targetsResponse struct {
	Targets     []health.Target `json:"targets"`
	Environment string          `json:"environment"`
	Index       int             `json:"index"`
}

type rebootResponse struct {
	Target health.Target          `json:"target"`
	Reboot *health.RebootResponse `json:"reboot"`
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/status/next", func(w http.ResponseWriter, r *http.Request) {
		s.aggregator.Next()
		s.handleStatus(w, r)
	})
	mux.HandleFunc("POST /api/status/previous", func(w http.ResponseWriter, r *http.Request) {
		s.aggregator.Previous()
		s.handleStatus(w, r)
	})
	mux.HandleFunc("GET /api/targets", s.handleTargets)

	mux.HandleFunc("GET /api/endpoints", func(w http.ResponseWriter, r *http.Request) {
		s.handleEndpoints(w, r, "")
	})
	mux.HandleFunc("GET /api/seeds/{id}/endpoints", func(w http.ResponseWriter, r *http.Request) {
		s.handleEndpoints(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /api/seeds/{id}/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/overview", s.handleOverview)

	var reboot http.Handler = http.HandlerFunc(s.handleReboot)
	if auth := s.cfg.Middleware.Auth; auth.Enabled && auth.RebootRole != "" {
		reboot = middleware.RequireRole(s.logger, auth.RebootRole, reboot)
	}
	mux.Handle("POST /api/reboot", reboot)

	return mux
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.aggregator.Snapshot())
}

func (s *server) handleTargets(w http.ResponseWriter, r *http.Request) {
	snapshot := s.aggregator.Snapshot()
	targets := s.aggregator.Targets()
	if targets == nil {
		targets = []health.Target{}
	}

	writeJSON(w, http.StatusOK, targetsResponse{
		Targets:     targets,
		Environment: snapshot.Environment,
		Index:       snapshot.Index,
	})
}

func (s *server) handleEndpoints(w http.ResponseWriter, r *http.Request, seedID string) {
	_, snapshot, err := s.scopedDirectory(seedID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	if snapshot.Missing {
		writeJSON(w, http.StatusNotFound, snapshot)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	d, snapshot, err := s.scopedDirectory(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	switch {
	case d != nil:
		d.Refresh()
	case snapshot.Missing:
		writeJSON(w, http.StatusNotFound, snapshot)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}

func (s *server) handleOverview(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	overview := s.overview
	s.mu.RUnlock()

	if overview == nil {
		writeError(w, http.StatusNotFound, errDirectoryDisabled)
		return
	}

	snapshot := overview.Snapshot()
	if snapshot.Cards == nil {
		snapshot.Cards = []status.Card{}
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *server) handleReboot(w http.ResponseWriter, r *http.Request) {
	target := s.aggregator.ActiveTarget()
	if target == nil {
		writeError(w, http.StatusServiceUnavailable, health.ErrNoTarget)
		return
	}

	s.logger.Info("Reboot requested",
		zap.String("target", target.APIURL),
		zap.String("user_id", r.Header.Get(middleware.UserIDHeader)))

	resp, err := s.backend.SendReboot(r.Context(), target.APIURL)
	if err != nil {
		var configErr *health.ConfigError
		if errors.As(err, &configErr) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}

		s.logger.Error("Reboot failed", zap.String("target", target.APIURL), zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeJSON(w, http.StatusOK, rebootResponse{Target: *target, Reboot: resp})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}
