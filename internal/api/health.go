package api

import (
	"net/http"
	"time"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status       string    `json:"status"`
	Subscribers  int       `json:"subscribers"`
	Store        string    `json:"store"`
	EmailCircuit string    `json:"emailCircuit,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Health reports store reachability and the subscriber count.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "OK",
		Store:     s.deps.StoreDriver,
		Timestamp: time.Now().UTC(),
	}

	if err := s.deps.Service.Ping(r.Context()); err != nil {
		s.deps.Logger.Error("health check: store unreachable", "error", err)
		resp.Status = "unavailable"
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	stats, err := s.deps.Service.Stats(r.Context())
	if err != nil {
		s.deps.Logger.Error("health check: counting subscribers", "error", err)
		resp.Status = "degraded"
	}
	resp.Subscribers = stats.Total

	if s.deps.Breaker != nil && s.deps.BreakerKey != "" {
		resp.EmailCircuit = s.deps.Breaker.GetState(r.Context(), s.deps.BreakerKey).State
	}

	respondJSON(w, http.StatusOK, resp)
}
