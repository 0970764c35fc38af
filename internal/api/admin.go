package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/aurlink/waitlist/internal/auth"
	"github.com/aurlink/waitlist/internal/domain"
	"github.com/aurlink/waitlist/internal/engine"
	ws "github.com/aurlink/waitlist/internal/websocket"
	"github.com/go-chi/chi/v5"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, expiresAt, err := s.deps.Auth.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrAdminDisabled), errors.Is(err, auth.ErrInvalidCredentials):
		s.deps.Logger.Warn("admin login rejected", "username", req.Username)
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	case err != nil:
		s.respondServerError(w, "failed to sign token", err)
		return
	}

	respondJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt.UTC()})
}

type broadcastResponse struct {
	Success     bool   `json:"success"`
	BroadcastID string `json:"broadcastId"`
	Queued      int    `json:"queued"`
}

// Broadcast queues an email to every confirmed subscriber.
func (s *Server) Broadcast(w http.ResponseWriter, r *http.Request) {
	if s.deps.FanOut == nil {
		respondError(w, http.StatusServiceUnavailable, "broadcasts require REDIS_URL to be configured")
		return
	}

	var req domain.BroadcastRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := s.deps.FanOut.FanOut(r.Context(), req)
	if errors.Is(err, engine.ErrInvalidBroadcast) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.deps.Logger.Error("broadcast failed", "error", err)
		s.respondServerError(w, "failed to queue broadcast", err)
		return
	}

	if s.deps.Hub != nil {
		s.deps.Hub.Publish(ws.WaitlistEvent{
			Type:        ws.EventBroadcastQueued,
			BroadcastID: status.ID,
			Total:       status.Total,
		})
	}

	respondJSON(w, http.StatusAccepted, broadcastResponse{
		Success:     true,
		BroadcastID: status.ID,
		Queued:      status.Total,
	})
}

func (s *Server) BroadcastStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.FanOut == nil {
		respondError(w, http.StatusServiceUnavailable, "broadcasts require REDIS_URL to be configured")
		return
	}

	status, err := s.deps.FanOut.Status(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, engine.ErrBroadcastNotFound) {
		respondError(w, http.StatusNotFound, "broadcast not found")
		return
	}
	if err != nil {
		s.respondServerError(w, "failed to load broadcast", err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}
