package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"pastekv/svc/util"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Ready    bool   `json:"ready"`
	Degraded bool   `json:"degraded"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// Ready reports whether the store is reachable. Redis being down only
// degrades the response; the service keeps working without it.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := ReadyResponse{Ready: true, Database: "up", Redis: "up"}

	dbCtx, dbCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer dbCancel()
	if err := s.table.Ping(dbCtx); err != nil {
		util.Error().Err(err).Msg("database health check failed")
		resp.Database = "down"
		resp.Degraded = true
		resp.Ready = false
	}

	if s.rdb != nil {
		rdbCtx, rdbCancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer rdbCancel()
		if err := s.rdb.Ping(rdbCtx); err != nil {
			util.Error().Err(err).Msg("redis health check failed")
			resp.Redis = "down"
			resp.Degraded = true
		}
	} else {
		resp.Redis = "unavailable"
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(resp)
}
