// Command unread-audit compares every room's stored unread counters with the
// unread messages they stand for, optionally overwriting drifted counters.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"botchat/internal/budget"
	"botchat/internal/config"
	"botchat/internal/domain"
	"botchat/internal/observability"
	"botchat/internal/repository/sqlstore"
	"botchat/internal/service"
)

const (
	exitOK    = 0
	exitDrift = 1
	exitError = 2
)

func main() {
	repair := flag.Bool("repair", false, "overwrite drifted counters with the computed value")
	asJSON := flag.Bool("json", false, "print drifts as JSON lines")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall audit deadline")
	flag.Parse()

	cfg := config.Load()
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, *timeout)

	code := audit(ctx, cfg, *repair, *asJSON)
	cancel()
	stop()
	os.Exit(code)
}

func audit(ctx context.Context, cfg *config.Config, repair, asJSON bool) int {
	db, err := config.NewDatabaseConnection(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		return exitError
	}
	defer db.Close()

	store, err := sqlstore.New(ctx, db, cfg.DatabaseDriver)
	if err != nil {
		slog.Error("failed to prepare store", slog.String("error", err.Error()))
		return exitError
	}

	userRepo := sqlstore.NewUserRepository(store)
	users := service.NewUserService(userRepo, service.NewDirectory(userRepo, cfg.UserCacheSize, cfg.UserCacheTTL))
	chat := service.NewChatService(
		sqlstore.NewChatRoomRepository(store),
		sqlstore.NewMessageRepository(store),
		users,
		budget.NewTracker(cfg.RoomTokenLimit),
		cfg.BotDisplayName,
	)

	drifts, err := chat.AuditUnread(ctx, repair)
	for _, d := range drifts {
		printDrift(d, asJSON)
	}

	switch {
	case err != nil && !errors.Is(err, domain.ErrUnreadDrift):
		slog.Error("audit failed", slog.String("error", err.Error()))
		return exitError
	case len(drifts) == 0:
		slog.Info("unread counters consistent")
		return exitOK
	case repair:
		slog.Info("unread counters repaired", slog.Int("drifts", len(drifts)))
		return exitOK
	default:
		slog.Warn("unread counters drifted", slog.Int("drifts", len(drifts)))
		return exitDrift
	}
}

func printDrift(d domain.UnreadDrift, asJSON bool) {
	if asJSON {
		_ = json.NewEncoder(os.Stdout).Encode(d)
		return
	}
	fmt.Println(d.Error())
}
