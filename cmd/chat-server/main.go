package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"botchat/internal/budget"
	"botchat/internal/completion"
	"botchat/internal/config"
	"botchat/internal/domain"
	"botchat/internal/handler"
	"botchat/internal/messaging"
	"botchat/internal/middleware"
	"botchat/internal/observability"
	"botchat/internal/repository/sqlstore"
	"botchat/internal/service"
	"botchat/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("chat server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("server stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting chat server",
		slog.String("environment", cfg.Environment),
		slog.String("database_driver", cfg.DatabaseDriver),
		slog.String("fanout_backend", cfg.FanoutBackend))

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()

	db, err := config.NewDatabaseConnection(connCtx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	store, err := sqlstore.New(connCtx, db, cfg.DatabaseDriver)
	if err != nil {
		return fmt.Errorf("prepare store: %w", err)
	}
	slog.Info("connected to database")

	userRepo := sqlstore.NewUserRepository(store)
	roomRepo := sqlstore.NewChatRoomRepository(store)
	messageRepo := sqlstore.NewMessageRepository(store)

	directory := service.NewDirectory(userRepo, cfg.UserCacheSize, cfg.UserCacheTTL)
	tracker := budget.NewTracker(cfg.RoomTokenLimit)
	userService := service.NewUserService(userRepo, directory)
	chatService := service.NewChatService(roomRepo, messageRepo, userService, tracker, cfg.BotDisplayName)

	var provider completion.Provider = completion.Disabled{}
	if cfg.Completion.Enabled() {
		provider = completion.NewClient(completion.Config{
			BaseURL:     cfg.Completion.BaseURL,
			APIKey:      cfg.Completion.APIKey,
			Model:       cfg.Completion.Model,
			MaxTokens:   cfg.Completion.MaxTokens,
			Temperature: cfg.Completion.Temperature,
			Timeout:     cfg.Completion.Timeout,
		})
	} else {
		slog.Warn("COMPLETION_API_KEY is empty, bot replies are disabled")
	}

	hub := websocket.NewHub()
	hub.SetPresenceHook(func(userID string, online bool) {
		status := domain.StatusOffline
		if online {
			status = domain.StatusOnline
		}
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := userService.SetPresence(pctx, userID, status); err != nil {
			slog.Warn("failed to record presence",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("hub: %w", err)
		}
		return nil
	})
	slog.Info("websocket hub started")

	publisher, fanoutPinger, closeFanout, err := setupFanout(gctx, cfg, hub)
	if err != nil {
		return err
	}
	defer closeFanout()

	orchestrator := service.NewOrchestrator(messageRepo, chatService, directory, tracker, provider, publisher, cfg.Completion.SystemPrompt)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(middleware.ParseOrigins(cfg.AllowedOrigins)))
	r.Use(middleware.Metrics())
	if cfg.OpenAPIValidation {
		validator, err := middleware.OpenAPIValidator(middleware.DefaultOpenAPIValidatorConfig())
		if err != nil {
			return err
		}
		r.Use(validator)
		slog.Info("openapi validation enabled")
	}

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(handler.DatabaseCheck(db), handler.FanoutCheck(cfg.FanoutBackend, fanoutPinger)))
	r.Handle("/metrics", promhttp.Handler())

	api := &handler.API{
		Users:     handler.NewUserHandler(userService),
		Rooms:     handler.NewRoomHandler(chatService),
		Messages:  handler.NewMessageHandler(chatService, orchestrator),
		WebSocket: handler.NewWebSocketHandler(gctx, hub, chatService, orchestrator, cfg.AllowedOrigins),
	}
	apiLimiter := middleware.NewRateLimiter(20, 50)
	api.Mount(r, apiLimiter.Middleware())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Completion.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		slog.Info("chat server listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		watchDBStats(gctx, db, 15*time.Second)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// setupFanout picks the publisher for room events. With a broker, events
// published by any instance are relayed back into this instance's hub.
func setupFanout(ctx context.Context, cfg *config.Config, hub *websocket.Hub) (service.Publisher, handler.Pinger, func(), error) {
	switch cfg.FanoutBackend {
	case config.FanoutRabbitMQ:
		rmqCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()

		rmq, err := messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		if err := messaging.NewRoomEventConsumer(rmq, hub).Start(ctx); err != nil {
			rmq.Close()
			return nil, nil, nil, fmt.Errorf("start room event consumer: %w", err)
		}
		slog.Info("room events fan out through rabbitmq")
		return rmq, rmq, func() { rmq.Close() }, nil

	case config.FanoutRedis:
		pub, err := messaging.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		sub, err := messaging.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			pub.Close()
			return nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		if err := messaging.NewRedisRelay(sub, hub).Start(ctx); err != nil {
			pub.Close()
			sub.Close()
			return nil, nil, nil, fmt.Errorf("start redis relay: %w", err)
		}
		fanout := messaging.NewRedisFanout(pub)
		slog.Info("room events fan out through redis")
		return fanout, fanout, func() {
			fanout.Close()
			sub.Close()
		}, nil

	default:
		return hub, hub, func() {}, nil
	}
}

func watchDBStats(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		observability.RecordDBStats(db.Stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
