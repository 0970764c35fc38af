package api

import (
	"log/slog"
	"net/http"

	"github.com/aurlink/waitlist/internal/auth"
	"github.com/aurlink/waitlist/internal/engine"
	"github.com/aurlink/waitlist/internal/waitlist"
	ws "github.com/aurlink/waitlist/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps are the components the HTTP layer talks to. Limiter, FanOut,
// Breaker and Hub are nil when Redis is not configured.
type Deps struct {
	Service     *waitlist.Service
	Auth        *auth.Authenticator
	Limiter     *engine.RateLimiter
	FanOut      *engine.FanOutEngine
	Breaker     *engine.CircuitBreaker
	BreakerKey  string
	Hub         *ws.Hub
	StoreDriver string
	CORSOrigins []string
	Development bool
	Logger      *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	deps Deps
}

var availableEndpoints = []string{
	"GET  /health",
	"GET  /api/subscribe",
	"POST /api/subscribe",
	"GET  /api/confirm?token=",
	"GET  /api/waitlist/stats",
	"GET  /api/waitlist/export (admin)",
	"POST /api/admin/login",
	"POST /api/admin/broadcast (admin)",
	"GET  /api/admin/broadcast/{id} (admin)",
	"GET  /api/admin/ws (admin)",
}

// NewRouter creates and configures the HTTP router.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{deps: deps}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, map[string]any{
			"success":            false,
			"error":              "Endpoint not found",
			"availableEndpoints": availableEndpoints,
		})
	})

	r.Get("/health", s.Health)

	subscribe := http.HandlerFunc(s.Subscribe)
	var limited http.Handler = subscribe
	if deps.Limiter != nil {
		limited = s.rateLimit("subscribe")(subscribe)
	}
	r.Method(http.MethodPost, "/subscribe", limited)

	r.Route("/api", func(r chi.Router) {
		r.Get("/subscribe", s.SubscribeInfo)
		r.Method(http.MethodPost, "/subscribe", limited)
		r.Get("/confirm", s.Confirm)
		r.Get("/waitlist/stats", s.Stats)
		r.With(deps.Auth.Middleware).Get("/waitlist/export", s.Export)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", s.Login)

			r.Group(func(r chi.Router) {
				r.Use(deps.Auth.Middleware)
				r.Post("/broadcast", s.Broadcast)
				r.Get("/broadcast/{id}", s.BroadcastStatus)
				if deps.Hub != nil {
					r.Get("/ws", deps.Hub.HandleWebSocket)
				}
			})
		})
	})

	return r
}
