package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aurlink/waitlist/internal/domain"
	"github.com/aurlink/waitlist/internal/export"
)

const (
	msgJoined         = "Successfully joined the waitlist! 🎉"
	msgPendingConfirm = "Almost there! Check your inbox to confirm your spot."
	msgDuplicate      = "This email is already on our waitlist!"
	msgJoinFailed     = "Failed to join waitlist. Please try again."
)

func (s *Server) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req domain.SubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.deps.Service.Subscribe(r.Context(), req)
	if err != nil {
		var dup *domain.DuplicateSubscriberError
		switch {
		case errors.Is(err, domain.ErrInvalidEmail):
			respondError(w, http.StatusBadRequest, "Please provide a valid email address")
		case errors.As(err, &dup):
			respondJSON(w, http.StatusConflict, errorResponse{Error: msgDuplicate, Position: dup.Position})
		default:
			s.deps.Logger.Error("subscription failed", "error", err)
			s.respondServerError(w, msgJoinFailed, err)
		}
		return
	}

	msg := msgJoined
	if !res.Subscriber.Confirmed {
		msg = msgPendingConfirm
	}
	respondJSON(w, http.StatusCreated, domain.SubscribeResponse{
		Success:          true,
		Message:          msg,
		Position:         res.Subscriber.Position,
		TotalSubscribers: res.TotalSubscribers,
		InviteCode:       res.Subscriber.InviteCode,
		Confirmed:        res.Subscriber.Confirmed,
	})
}

// SubscribeInfo describes how to use the subscribe endpoint.
func (s *Server) SubscribeInfo(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Service.Stats(r.Context())
	if err != nil {
		s.respondServerError(w, "failed to load stats", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":      "AURLINK Waitlist API is working! 🚀",
		"instructions": "Use POST to subscribe to the waitlist",
		"example": map[string]any{
			"method": http.MethodPost,
			"url":    "/api/subscribe",
			"body": map[string]string{
				"email":        "your-email@example.com",
				"referralCode": "optional-code",
			},
		},
		"currentStats": map[string]int{"totalSubscribers": stats.Total},
	})
}

func (s *Server) Confirm(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		respondError(w, http.StatusBadRequest, "confirmation token is required")
		return
	}

	sub, err := s.deps.Service.Confirm(r.Context(), token)
	if errors.Is(err, domain.ErrTokenNotFound) {
		respondError(w, http.StatusNotFound, "confirmation link is invalid or has expired")
		return
	}
	if err != nil {
		s.deps.Logger.Error("confirmation failed", "error", err)
		s.respondServerError(w, "failed to confirm subscription", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Your spot on the waitlist is confirmed!",
		"position": sub.Position,
	})
}

type statsResponse struct {
	domain.Stats
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Service.Stats(r.Context())
	if err != nil {
		s.deps.Logger.Error("stats failed", "error", err)
		s.respondServerError(w, "failed to load stats", err)
		return
	}
	respondJSON(w, http.StatusOK, statsResponse{Stats: stats, Timestamp: time.Now().UTC()})
}

// Export returns every subscriber in position order, as JSON by default or
// as a CSV attachment with ?format=csv.
func (s *Server) Export(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = export.FormatJSON
	}
	if format != export.FormatJSON && format != export.FormatCSV {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
		return
	}

	subs, err := s.deps.Service.Export(r.Context())
	if err != nil {
		s.deps.Logger.Error("export failed", "error", err)
		s.respondServerError(w, "failed to export waitlist", err)
		return
	}

	now := time.Now().UTC()
	w.Header().Set("Content-Type", export.ContentType(format))
	if format == export.FormatCSV {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="waitlist-%s.csv"`, now.Format("20060102")))
	}
	if err := export.Write(w, format, subs, now); err != nil {
		s.deps.Logger.Error("writing export", "error", err)
	}
}
