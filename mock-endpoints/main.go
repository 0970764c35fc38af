// Command mock-endpoints imitates the Resend and SendGrid HTTP APIs so the
// waitlist can be run locally with EMAIL_PROVIDER=resend or sendgrid.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aurlink/waitlist/internal/pkg/logger"
	"github.com/google/uuid"
)

type mockServer struct {
	logger   *slog.Logger
	accepted atomic.Int64
	rejected atomic.Int64
	delay    time.Duration
}

func main() {
	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}
	log := logger.New(os.Stdout, "development")

	m := &mockServer{logger: log, delay: 3 * time.Second}

	log.Info("mock email provider starting", "port", port)
	log.Info("routes",
		"resend", "POST /emails -> 200",
		"sendgrid", "POST /v3/mail/send -> 202",
		"slow", "POST /slow/emails -> 200 after 3s",
		"fail", "POST /fail/emails, /fail/v3/mail/send -> 500",
		"stats", "GET /stats",
	)

	if err := http.ListenAndServe(":"+port, m.routes()); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (m *mockServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /emails", m.resend)
	mux.HandleFunc("POST /v3/mail/send", m.sendgrid)
	mux.HandleFunc("POST /slow/emails", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(m.delay)
		m.resend(w, r)
	})
	mux.HandleFunc("POST /fail/emails", m.fail)
	mux.HandleFunc("POST /fail/v3/mail/send", m.fail)
	mux.HandleFunc("GET /stats", m.stats)
	return mux
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (m *mockServer) resend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.To) == 0 || req.Subject == "" {
		m.reject(w, r, http.StatusUnprocessableEntity, "missing to or subject")
		return
	}
	if !bearer(r) {
		m.reject(w, r, http.StatusUnauthorized, "missing API key")
		return
	}
	m.accept(r, req.To[0], req.Subject)
	writeJSON(w, http.StatusOK, map[string]string{"id": uuid.NewString()})
}

type sendGridRequest struct {
	Personalizations []struct {
		To []struct {
			Email string `json:"email"`
		} `json:"to"`
	} `json:"personalizations"`
	Subject string `json:"subject"`
}

func (m *mockServer) sendgrid(w http.ResponseWriter, r *http.Request) {
	var req sendGridRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		len(req.Personalizations) == 0 || len(req.Personalizations[0].To) == 0 {
		m.reject(w, r, http.StatusBadRequest, "missing personalizations")
		return
	}
	if !bearer(r) {
		m.reject(w, r, http.StatusUnauthorized, "missing API key")
		return
	}
	m.accept(r, req.Personalizations[0].To[0].Email, req.Subject)
	w.WriteHeader(http.StatusAccepted)
}

func (m *mockServer) fail(w http.ResponseWriter, r *http.Request) {
	m.reject(w, r, http.StatusInternalServerError, "internal server error")
}

func (m *mockServer) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{
		"accepted": m.accepted.Load(),
		"rejected": m.rejected.Load(),
	})
}

func (m *mockServer) accept(r *http.Request, to, subject string) {
	n := m.accepted.Add(1)
	m.logger.Info("email accepted",
		"n", n,
		"path", r.URL.Path,
		"to", logger.RedactEmail(to),
		"subject", subject,
	)
}

func (m *mockServer) reject(w http.ResponseWriter, r *http.Request, status int, msg string) {
	m.rejected.Add(1)
	m.logger.Warn("email rejected", "path", r.URL.Path, "status", status, "reason", msg)
	writeJSON(w, status, map[string]string{"message": msg})
}

func bearer(r *http.Request) bool {
	key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && key != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
