package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aurlink/waitlist/internal/api"
	"github.com/aurlink/waitlist/internal/auth"
	"github.com/aurlink/waitlist/internal/config"
	"github.com/aurlink/waitlist/internal/engine"
	"github.com/aurlink/waitlist/internal/notify"
	"github.com/aurlink/waitlist/internal/pkg/logger"
	"github.com/aurlink/waitlist/internal/store"
	"github.com/aurlink/waitlist/internal/telemetry"
	"github.com/aurlink/waitlist/internal/waitlist"
	"github.com/aurlink/waitlist/internal/websocket"
	"github.com/aurlink/waitlist/internal/worker"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(os.Stdout, cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(cfg.Tracing.Enabled, cfg.Tracing.ServiceName, version, os.Stderr)
	if err != nil {
		return err
	}

	subs, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer subs.Close()
	log.Info("subscriber store ready", "driver", cfg.StoreDriver)

	var notifier notify.Notifier
	notifier, err = notify.New(ctx, cfg.Email, log)
	if err != nil {
		return err
	}
	renderer, err := notify.NewRenderer()
	if err != nil {
		return err
	}

	hub := websocket.NewHub(log, cfg.CORSOrigins)

	deps := api.Deps{
		Auth:        auth.New(cfg.Admin),
		Hub:         hub,
		StoreDriver: cfg.StoreDriver,
		CORSOrigins: cfg.CORSOrigins,
		Development: cfg.Development(),
		Logger:      log,
	}

	// Redis-backed components are optional.
	var (
		pool       *worker.Pool
		dispatcher *worker.Dispatcher
	)
	if cfg.RedisURL != "" {
		rs, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rs.Close()
		log.Info("connected to Redis")

		breaker := engine.NewCircuitBreaker(rs.Client(), log)
		guarded := notify.NewGuarded(notifier, breaker)
		notifier = guarded

		fanout := engine.NewFanOutEngine(subs, rs, log)
		mailer := worker.NewMailer(notifier, renderer, fanout, log).WithPublisher(hub)
		pool = worker.NewPool(cfg.NumWorkers, mailer, log)
		dispatcher = worker.NewDispatcher(rs.Client(), pool, log)
		if cfg.Waitlist.BroadcastRateLimit > 0 {
			throttle := engine.NewRateLimiter(rs.Client(), log, cfg.Waitlist.BroadcastRateLimit, time.Second)
			mailer.WithThrottle(throttle, dispatcher)
		}

		deps.Limiter = engine.NewRateLimiter(rs.Client(), log, cfg.Waitlist.RateLimit, cfg.Waitlist.RateWindow)
		deps.FanOut = fanout
		deps.Breaker = breaker
		deps.BreakerKey = guarded.BreakerKey()
	} else {
		log.Warn("REDIS_URL not set: rate limiting, circuit breaking and broadcasts are disabled")
	}

	svc := waitlist.NewService(subs, notifier, renderer, waitlist.Options{
		RequireConfirmation: cfg.Waitlist.RequireConfirmation,
		PublicURL:           cfg.Waitlist.PublicURL,
		NotifyTimeout:       cfg.Waitlist.NotifyTimeout,
	}, log).WithPublisher(hub)
	deps.Service = svc

	if !deps.Auth.Enabled() {
		log.Warn("JWT_SECRET not set: admin routes will reject every request")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if pool != nil {
		pool.Start(gctx)
		g.Go(func() error {
			dispatcher.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		log.Info("server starting", "port", cfg.Port, "version", version, "email_provider", notifier.Name())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server forced to shutdown", "error", err)
		}
		return nil
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if pool != nil {
		pool.Stop()
	}
	if err := svc.Close(shutdownCtx); err != nil {
		log.Error("pending notifications dropped", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("flushing traces", "error", err)
	}

	log.Info("server stopped")
	return runErr
}
