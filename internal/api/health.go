package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/seantiz/servicedg/internal/store"
)

const (
	healthStatusOK       = "ok"
	healthStatusDegraded = "degraded"

	healthProbeKey     = "health:probe"
	healthProbeTimeout = 2 * time.Second
)

type healthResponse struct {
	Status string         `json:"status"`
	Store  string         `json:"store"`
	Engine string         `json:"engine"`
	Blocks map[string]int `json:"blocks"`
}

// handleHealthz probes the store and the engine. A missing probe key is a
// healthy read; any other store error marks the service degraded.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	resp := healthResponse{
		Status: healthStatusOK,
		Store:  healthStatusOK,
		Engine: healthStatusOK,
		Blocks: make(map[string]int),
	}

	var probe struct{}
	if _, err := s.store.Load(ctx, healthProbeKey, &probe); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("health store probe failed", "error", err)
		resp.Store = err.Error()
		resp.Status = healthStatusDegraded
	}
	if s.orch.Closed() {
		resp.Engine = "stopped"
		resp.Status = healthStatusDegraded
	}
	for _, b := range s.orch.Snapshots() {
		resp.Blocks[b.RunState]++
	}

	status := http.StatusOK
	if resp.Status != healthStatusOK {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}
