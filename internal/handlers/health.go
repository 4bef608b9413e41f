package handlers

import (
	"context"
	"net/http"
	"time"

	"chatcore/internal/cache"
	"chatcore/internal/database"
)

// HealthHandler serves the liveness and readiness probes named in
// SPEC_FULL.md §6.
type HealthHandler struct {
	DB    *database.DB
	Cache *cache.Cache
}

// Live always responds 200 once the process is up and serving requests.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready checks that Postgres and Redis are both reachable before reporting
// healthy, so a load balancer can hold traffic back from a node that lost
// its backing stores.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.DB.Ready(); err != nil {
		RespondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "reason": "database"})
		return
	}
	if err := h.Cache.Ready(ctx); err != nil {
		RespondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "reason": "cache"})
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
