// Natal chart bot server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/natal-chart/internal/api"
	"github.com/ashureev/natal-chart/internal/astrology"
	"github.com/ashureev/natal-chart/internal/bot"
	"github.com/ashureev/natal-chart/internal/chat"
	"github.com/ashureev/natal-chart/internal/config"
	"github.com/ashureev/natal-chart/internal/dialogue"
	"github.com/ashureev/natal-chart/internal/generation"
	"github.com/ashureev/natal-chart/internal/i18n"
	"github.com/ashureev/natal-chart/internal/identity"
	"github.com/ashureev/natal-chart/internal/metrics"
	"github.com/ashureev/natal-chart/internal/middleware"
	"github.com/ashureev/natal-chart/internal/orchestrator"
	"github.com/ashureev/natal-chart/internal/store"
	"github.com/ashureev/natal-chart/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Record store connected", "backend", cfg.Store.Backend)

	catalog, err := i18n.New(cfg.Languages.Default, cfg.Languages.Secondary)
	if err != nil {
		return fmt.Errorf("load locales: %w", err)
	}

	settings, err := cfg.Chart.AstrologySettings()
	if err != nil {
		return fmt.Errorf("chart settings: %w", err)
	}
	settings.GeonamesUsername = cfg.Engine.GeonamesUsername

	engineCfg := astrology.DefaultGrpcEngineConfig(cfg.Engine.Addr)
	engineCfg.RequestTimeout = cfg.Engine.Timeout
	engine, err := astrology.NewGrpcEngine(engineCfg, logger)
	if err != nil {
		return fmt.Errorf("connect astrology engine: %w", err)
	}
	defer engine.Close()
	slog.Info("Astrology engine connected", "address", cfg.Engine.Addr)

	gen, err := newGenerator(cfg, logger)
	if err != nil {
		return err
	}

	m := metrics.New()

	sessions := dialogue.NewSessions(cfg.Session.IdleTimeout, logger)
	dlg := dialogue.NewEngine(repo, catalog, sessions, dialogue.Options{
		Logger:    logger,
		OnOutcome: func(o dialogue.Outcome) { m.DialogueFinished(o.String()) },
	})

	orch := orchestrator.New(
		astrology.NewAdapter(engine, settings, logger),
		gen,
		repo,
		catalog,
		cfg.Chart.OrchestratorConfig(cfg.MessageLimit()),
		orchestrator.WithLogger(logger),
		orchestrator.WithObserver(m),
	)

	hub := chat.NewHub(m)
	b := bot.New(dlg, orch, repo, catalog, hub, bot.Config{
		MessageLimit: cfg.MessageLimit(),
		RunTimeout:   cfg.Generation.Timeout + cfg.Engine.Timeout,
	}, logger)

	limiter := chat.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	wsHandler := chat.NewHandler(b, hub, limiter, cfg.FrontendURL, cfg.IsDevelopment(), logger)
	apiHandler := api.NewHandler(repo, catalog, cfg.MessageLimit(), logger)

	m.RegisterGauge("dialogue_sessions_active", "Open birth data dialogues.", func() float64 { return float64(sessions.Len()) })
	m.RegisterGauge("pipeline_runs_active", "In-flight chart runs.", func() float64 { return float64(b.ActiveRuns()) })
	m.RegisterGauge("chat_connections_active", "Open chat WebSocket connections.", func() float64 { return float64(hub.Len()) })

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	r.Handle("/metrics", m.Handler())

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	sessions.StartJanitor(gctx, cfg.Session.JanitorInterval)
	limiter.StartEviction(gctx)
	slog.Info("Session janitor started", "idle_timeout", cfg.Session.IdleTimeout)

	if cfg.Languages.LocalesDir != "" {
		g.Go(func() error {
			return catalog.Watch(gctx, cfg.Languages.LocalesDir, logger)
		})
	}

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		if err := b.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Chart runs did not finish before shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	var repo store.Repository
	switch cfg.Store.Backend {
	case "redis":
		repo = store.NewRedis(cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB)
	case "memory":
		slog.Warn("Using in-memory record store, data is lost on restart")
		repo = store.NewMemory()
	default:
		sqlite, err := store.NewSQLite(cfg.Store.DBPath)
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		repo = sqlite
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := repo.Ping(pingCtx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("record store health check failed: %w", err)
	}
	return repo, nil
}

func newGenerator(cfg *config.Config, logger *slog.Logger) (generation.Generator, error) {
	gc := cfg.Generation
	switch gc.Provider {
	case "gemini":
		client, err := generation.NewGeminiClient(generation.GeminiConfig{
			APIKey:          gc.GeminiAPIKey,
			Model:           gc.GeminiModel,
			BaseURL:         gc.GeminiBaseURL,
			Timeout:         gc.Timeout,
			SafetyThreshold: gc.GeminiSafetyThreshold,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		slog.Info("Text generation enabled", "provider", "gemini")
		return client, nil
	case "openai":
		client, err := generation.NewOpenAIClient(generation.OpenAIConfig{
			APIKey:  gc.OpenAIAPIKey,
			BaseURL: gc.OpenAIBaseURL,
			Model:   gc.OpenAIModel,
			Timeout: gc.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("openai client: %w", err)
		}
		slog.Info("Text generation enabled", "provider", "openai", "model", gc.OpenAIModel)
		return client, nil
	default:
		slog.Warn("Text generation disabled, charts will carry a placeholder interpretation")
		return generation.Disabled{}, nil
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
