package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/renewtech/livechat/backend/internal/archive"
	"github.com/renewtech/livechat/backend/internal/assign"
	"github.com/renewtech/livechat/backend/internal/auth"
	"github.com/renewtech/livechat/backend/internal/bus"
	"github.com/renewtech/livechat/backend/internal/config"
	"github.com/renewtech/livechat/backend/internal/hub"
	"github.com/renewtech/livechat/backend/internal/presence"
	"github.com/renewtech/livechat/backend/internal/session"
	"github.com/renewtech/livechat/backend/internal/stats"
	"github.com/renewtech/livechat/backend/pkg/middleware"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Msg("starting livechat backend server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Presence store: Redis, or in-memory when no address is configured
	var store presence.Store
	if cfg.RedisAddr != "" {
		redisStore, err := presence.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.PresenceTTL, cfg.StoreTimeout, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		}
		defer redisStore.Close()
		store = redisStore
	} else {
		log.Warn().Msg("REDIS_ADDR not set, using in-memory presence store")
		store = presence.NewMemoryStore()
	}

	// Event bus: Kafka, or a noop publisher when no brokers are configured
	var publisher bus.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, err := bus.NewKafkaPublisher(cfg.KafkaBrokers, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Strs("brokers", cfg.KafkaBrokers).Msg("failed to connect to kafka")
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	} else {
		log.Warn().Msg("KAFKA_BROKERS not set, events will be dropped")
		publisher = &bus.NoopPublisher{Logger: log.Logger}
	}

	// Session lifecycle on top of the presence store
	sessions := session.NewManager(store, log.Logger)

	// Archive path for ended sessions
	var archiveStore archive.Store = archive.NewNoopStore()
	if cfg.DatabaseURL != "" {
		pgStore, err := archive.NewPostgresStore(ctx, cfg.DatabaseURL, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pgStore.Close()
		archiveStore = pgStore
	} else {
		log.Warn().Msg("DATABASE_URL not set, ended sessions will not be archived")
	}
	sessions.SetArchiver(archiveStore)

	// Assignment engine and the websocket hub
	engine := assign.NewEngine(store, sessions, log.Logger)
	chatHub := hub.NewChatHub(store, engine, sessions, publisher, cfg, log.Logger)
	go chatHub.Run()

	wsHandler := hub.NewHandler(chatHub, cfg, log.Logger)

	// Stats consumer over the bus
	collector := stats.NewCollector(log.Logger)
	if len(cfg.KafkaBrokers) > 0 {
		topics := []string{bus.TopicChatMessage, bus.TopicAssignment, bus.TopicStaffStatus, bus.TopicSystemNotice}
		consumer, err := bus.NewConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, topics, collector.Handle, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create stats consumer")
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("stats consumer stopped")
			}
		}()
	}

	// Create router
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes
	r.Get("/health", healthHandler)
	r.Get("/ws/visitor", wsHandler.ServeVisitor)

	// Staff routes require an authenticated staff principal
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Use(auth.RequireRole(auth.RoleStaff))
		r.Get("/ws/staff", wsHandler.ServeStaff)
	})

	// Internal routes for operators and sibling services
	r.Route("/internal", func(r chi.Router) {
		r.Get("/stats", collector.Handler())
		r.Get("/sessions/{sessionID}/transcript", transcriptHandler(archiveStore, log.Logger))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"livechat-backend"}`)
}

// transcriptHandler serves an archived session transcript
func transcriptHandler(store archive.Store, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		msgs, err := store.GetTranscript(r.Context(), sessionID)
		if err != nil {
			logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to load transcript")
			http.Error(w, "transcript unavailable", http.StatusInternalServerError)
			return
		}
		if len(msgs) == 0 {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(msgs); err != nil {
			logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to encode transcript")
		}
	}
}
