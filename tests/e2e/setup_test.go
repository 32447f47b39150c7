//go:build e2e

// Package e2e drives a fully wired server backed by PostgreSQL and Redis
// containers and a fake completion endpoint.
package e2e

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"botchat/internal/budget"
	"botchat/internal/completion"
	"botchat/internal/config"
	"botchat/internal/handler"
	"botchat/internal/messaging"
	"botchat/internal/middleware"
	"botchat/internal/repository/sqlstore"
	"botchat/internal/service"
	"botchat/internal/websocket"

	"github.com/docker/go-connections/nat"
	"github.com/go-chi/chi/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// each fake completion costs 30 units, so the second reply crosses the limit
	roomTokenLimit = 50
	replyUnits     = 30
)

var (
	baseURL       string
	wsURL         string
	providerCalls atomic.Int64
)

// TestMain sets up the E2E test environment
func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)

	cleanup, err := setupTestEnvironment(ctx)
	if err != nil {
		cancel()
		log.Fatalf("failed to setup test environment: %v", err)
	}

	code := m.Run()

	cleanup()
	cancel()
	os.Exit(code)
}

func setupTestEnvironment(ctx context.Context) (func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	pgURL, pgCleanup, err := startContainer(ctx, "PostgreSQL", testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(60 * time.Second),
	}, "5432", "postgres://test:test@%s:%s/testdb?sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("failed to start PostgreSQL: %w", err)
	}
	cleanups = append(cleanups, pgCleanup)

	redisURL, redisCleanup, err := startContainer(ctx, "Redis", testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}, "6379", "redis://%s:%s/0")
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to start Redis: %w", err)
	}
	cleanups = append(cleanups, redisCleanup)

	db, err := config.NewDatabaseConnection(ctx, sqlstore.DriverPostgres, pgURL)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanups = append(cleanups, func() { db.Close() })

	provider := httptest.NewServer(http.HandlerFunc(fakeCompletion))
	cleanups = append(cleanups, provider.Close)

	serverCleanup, err := setupChatServer(ctx, db, redisURL, provider.URL)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to setup chat server: %w", err)
	}
	cleanups = append(cleanups, serverCleanup)

	return cleanup, nil
}

// startContainer starts req and formats its mapped port into urlFormat
func startContainer(ctx context.Context, name string, req testcontainers.ContainerRequest, port, urlFormat string) (string, func(), error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = container.Terminate(context.Background()) }

	streamContainerLogs(ctx, container, name)

	host, err := container.Host(ctx)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return fmt.Sprintf(urlFormat, host, mapped.Port()), cleanup, nil
}

// streamContainerLogs starts a goroutine that streams container logs to stdout with a prefix
func streamContainerLogs(ctx context.Context, container testcontainers.Container, prefix string) {
	go func() {
		reader, err := container.Logs(ctx)
		if err != nil {
			log.Printf("[%s] failed to get logs: %v", prefix, err)
			return
		}
		defer reader.Close()

		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			log.Printf("[%s] %s", prefix, scanner.Text())
		}

		if err := scanner.Err(); err != nil && err != io.EOF {
			log.Printf("[%s] log reader error: %v", prefix, err)
		}
	}()
}

// fakeCompletion answers like the Messages API, echoing the user's text
func fakeCompletion(w http.ResponseWriter, r *http.Request) {
	providerCalls.Add(1)

	var req struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		http.Error(w, `{"type":"error","error":{"type":"invalid_request_error"}}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"content": []map[string]string{{"type": "text", "text": "echo: " + req.Messages[0].Content}},
		"usage":   map[string]int{"input_tokens": 20, "output_tokens": replyUnits - 20},
	})
}

// setupChatServer wires the server the way cmd/chat-server does, with Redis fan-out
func setupChatServer(ctx context.Context, db *sql.DB, redisURL, providerURL string) (func(), error) {
	store, err := sqlstore.New(ctx, db, sqlstore.DriverPostgres)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare store: %w", err)
	}

	userRepo := sqlstore.NewUserRepository(store)
	roomRepo := sqlstore.NewChatRoomRepository(store)
	messageRepo := sqlstore.NewMessageRepository(store)

	directory := service.NewDirectory(userRepo, 128, time.Minute)
	tracker := budget.NewTracker(roomTokenLimit)
	users := service.NewUserService(userRepo, directory)
	chat := service.NewChatService(roomRepo, messageRepo, users, tracker, "Assistant")
	provider := completion.NewClient(completion.Config{
		BaseURL:   providerURL,
		APIKey:    "test-key",
		Model:     "test-model",
		MaxTokens: 64,
		Timeout:   5 * time.Second,
	})

	serverCtx, cancel := context.WithCancel(context.Background())

	hub := websocket.NewHub()
	go func() { _ = hub.Run(serverCtx) }()

	pub, err := messaging.NewRedisClient(ctx, redisURL)
	if err != nil {
		cancel()
		return nil, err
	}
	sub, err := messaging.NewRedisClient(ctx, redisURL)
	if err != nil {
		cancel()
		pub.Close()
		return nil, err
	}
	if err := messaging.NewRedisRelay(sub, hub).Start(serverCtx); err != nil {
		cancel()
		pub.Close()
		sub.Close()
		return nil, err
	}
	fanout := messaging.NewRedisFanout(pub)

	orch := service.NewOrchestrator(messageRepo, chat, directory, tracker, provider, fanout, "Reply briefly.")

	r := chi.NewRouter()
	r.Use(middleware.CORS([]string{"*"}))
	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(handler.DatabaseCheck(db), handler.FanoutCheck("redis", fanout)))

	api := &handler.API{
		Users:     handler.NewUserHandler(users),
		Rooms:     handler.NewRoomHandler(chat),
		Messages:  handler.NewMessageHandler(chat, orch),
		WebSocket: handler.NewWebSocketHandler(serverCtx, hub, chat, orch, "*"),
	}
	api.Mount(r)

	srv := httptest.NewServer(r)
	baseURL = srv.URL
	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")

	return func() {
		srv.Close()
		cancel()
		fanout.Close()
		sub.Close()
	}, nil
}
