// Wayfinder - walking navigation server for visually impaired users
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/wayfinder/internal/api"
	"github.com/ashureev/wayfinder/internal/config"
	"github.com/ashureev/wayfinder/internal/dialogue"
	"github.com/ashureev/wayfinder/internal/identity"
	"github.com/ashureev/wayfinder/internal/middleware"
	"github.com/ashureev/wayfinder/internal/navigation"
	"github.com/ashureev/wayfinder/internal/perception"
	"github.com/ashureev/wayfinder/internal/planner"
	"github.com/ashureev/wayfinder/internal/realtime"
	"github.com/ashureev/wayfinder/internal/route"
	"github.com/ashureev/wayfinder/internal/session"
	"github.com/ashureev/wayfinder/internal/speech"
	"github.com/ashureev/wayfinder/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "mock_mode", cfg.MockMode)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	tracker := route.Tracker{WalkingSpeed: cfg.Nav.WalkingSpeed, ArrivalThreshold: cfg.Nav.ArrivalThreshold}
	sessions := session.NewStore()
	registry := realtime.NewRegistry(logger)

	tts := newSynthesizer(cfg, logger)
	converser, advisor := newDialogue(cfg, logger)

	var routePlanner navigation.Planner = planner.StraightLine{Tracker: tracker}
	if !cfg.UseMockPlanner() {
		routePlanner = planner.NewAMap(cfg.AMap.APIKey, cfg.AMap.BaseURL)
		slog.Info("Route planner initialized", "provider", "amap")
	} else {
		slog.Info("Route planner in straight-line mode")
	}

	var detector perception.Detector = perception.Mock{}
	//nolint:nestif // Startup wiring is intentionally sequential to keep dependency setup explicit.
	if cfg.PerceptionAddr != "" && !cfg.MockMode {
		slog.Info("Connecting to perception service via gRPC", "address", cfg.PerceptionAddr)
		grpcDetector, err := perception.NewGrpcDetector(perception.DefaultGrpcDetectorConfig(cfg.PerceptionAddr), logger)
		if err != nil {
			slog.Warn("Failed to connect to perception service, using mock detector", "error", err)
		} else {
			defer grpcDetector.Close()
			detector = grpcDetector
		}
	}

	// Initialize services.
	dispatcher := navigation.NewDispatcher(sessions, registry, tts, repo, navigation.DispatcherConfig{
		TickInterval:   cfg.Nav.TickInterval,
		NoticeInterval: cfg.Nav.NoticeInterval,
		Tracker:        tracker,
	}, logger)
	bridge := navigation.NewBridge(sessions, registry, detector, tts, advisor, logger)
	navService := navigation.NewService(sessions, routePlanner, planner.StraightLine{Tracker: tracker}, tts, repo,
		navigation.ServiceConfig{Tracker: tracker}, logger)
	dialogueService := dialogue.NewService(sessions, converser, tts, logger)

	// Initialize handlers.
	streamHandler := realtime.NewStreamHandler(registry, sessions, dispatcher, cfg.AllowedOrigins, cfg.Nav.HeartbeatInterval)
	navHandler := api.NewNavHandler(navService, bridge, streamHandler, logger)
	voiceHandler := api.NewVoiceHandler(dialogueService, logger)
	healthHandler := api.NewHealthHandler(repo, registry.Count)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle(speech.AudioPrefix+"*", http.StripPrefix(speech.AudioPrefix, http.FileServer(http.Dir(cfg.TTS.OutputDir))))

	navHandler.RegisterRoutes(r)
	voiceHandler.RegisterRoutes(r)

	// Create server.
	// Note: instruction streams are long-lived WebSocket connections (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start session sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweep := session.SweepConfig{
		Interval:  cfg.Sweep.Interval,
		IdleTTL:   cfg.Sweep.IdleTTL,
		Retention: cfg.Sweep.Retention,
	}
	session.StartSweeper(ctx, sessions, sweep, navService.OnEvict)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	sessions.ClearAll()

	slog.Info("Server stopped successfully")
}

func newSynthesizer(cfg *config.Config, logger *slog.Logger) speech.Synthesizer {
	if cfg.UseMockSpeech() {
		slog.Info("Speech synthesis in mock mode")
		return speech.Mock{}
	}
	tts, err := speech.NewOpenAI(speech.OpenAIConfig{
		APIKey:    cfg.TTS.APIKey,
		BaseURL:   cfg.TTS.Endpoint,
		Voice:     cfg.TTS.Voice,
		OutputDir: cfg.TTS.OutputDir,
	})
	if err != nil {
		slog.Warn("Failed to initialize speech provider, using mock audio", "error", err)
		return speech.Mock{}
	}
	slog.Info("Speech synthesis initialized", "provider", cfg.TTS.Provider, "output_dir", cfg.TTS.OutputDir)
	return speech.WithFallback(tts, logger)
}

func newDialogue(cfg *config.Config, logger *slog.Logger) (dialogue.Converser, navigation.Advisor) {
	if cfg.UseMockDialogue() {
		slog.Info("Dialogue in rule-based mode")
		return dialogue.Mock{}, dialogue.Mock{}
	}
	llm, err := dialogue.NewOpenAI(dialogue.OpenAIConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: float32(cfg.LLM.Temperature),
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger)
	if err != nil {
		slog.Warn("Failed to initialize dialogue model, using rule-based replies", "error", err)
		return dialogue.Mock{}, dialogue.Mock{}
	}
	return dialogue.WithFallback(llm, logger), llm
}
