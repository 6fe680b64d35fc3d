package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/umar/roomrelay/internal/amqpbus"
	"github.com/umar/roomrelay/internal/auth"
	"github.com/umar/roomrelay/internal/chat"
	"github.com/umar/roomrelay/internal/config"
	"github.com/umar/roomrelay/internal/database"
	"github.com/umar/roomrelay/internal/gormstore"
	"github.com/umar/roomrelay/internal/handlers"
	"github.com/umar/roomrelay/internal/memory"
	"github.com/umar/roomrelay/internal/messaging"
	redisc "github.com/umar/roomrelay/internal/redis"
	"github.com/umar/roomrelay/internal/relay"
)

// durableStore is what either SQL backend provides.
type durableStore interface {
	messaging.RoomStore
	messaging.MessageLog
	auth.UserStore
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger := cfg.NewLogger(os.Stdout).With("instance_id", instanceID)
	slog.SetDefault(logger)

	if err := run(cfg, instanceID, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}

func run(cfg *config.Config, instanceID string, logger *slog.Logger) error {
	logger.Info("starting roomrelay", "database", cfg.DatabaseDriver, "bus", cfg.BusDriver, "state", cfg.StateDriver)

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}()

	store, db, err := openStore(cfg)
	if err != nil {
		return err
	}
	closers = append(closers, db)
	checks := map[string]handlers.Check{"database": store.Ping}
	logger.Info("connected to database", "driver", cfg.DatabaseDriver)

	var redisClient *redis.Client
	if cfg.BusDriver == "redis" || cfg.StateDriver == "redis" {
		redisClient, err = redisc.InitRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			return err
		}
		closers = append(closers, redisClient)
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		logger.Info("connected to Redis")
	}

	var bus relay.Bus
	switch cfg.BusDriver {
	case "redis":
		bus = redisc.NewBus(redisClient, logger)
	case "amqp":
		amqpBus, err := amqpbus.New(amqpbus.Config{
			URL:        cfg.RabbitURL,
			Exchange:   cfg.RabbitExchange,
			InstanceID: instanceID,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		bus = amqpBus
		checks["rabbitmq"] = amqpBus.Ping
		logger.Info("connected to RabbitMQ", "exchange", cfg.RabbitExchange)
	default:
		logger.Warn("in-process bus selected; events do not cross instances")
		bus = memory.NewBus()
	}
	closers = append(closers, bus)

	var (
		unread   messaging.UnreadCounter
		presence messaging.PresenceTracker
	)
	if cfg.StateDriver == "redis" {
		unread = redisc.NewUnreadStore(redisClient, "")
		presence = redisc.NewPresenceStore(redisClient, "")
	} else {
		unread = memory.NewUnreadStore()
		presence = memory.NewPresenceStore()
	}

	registry := relay.NewRegistry(bus, logger)
	closers = append(closers, registry)

	deps := messaging.Deps{
		Rooms:     store,
		Messages:  store,
		Users:     store,
		Unread:    unread,
		Publisher: relay.NewPublisher(bus),
		Topics:    registry,
		Logger:    logger,
	}
	messages := messaging.NewMessageService(deps)
	rooms := messaging.NewRoomService(deps, messages)
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	hub := chat.NewHub(registry, messages, presence, tokens, chat.Options{
		SendBuffer: cfg.WSSendBuffer,
		RateLimit:  cfg.WSRateLimit,
		RateBurst:  cfg.WSRateBurst,
		Logger:     logger,
	})
	go hub.Run()

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: handlers.NewRouter(handlers.API{
			Rooms:       rooms,
			Messages:    messages,
			Presence:    presence,
			Users:       store,
			Tokens:      tokens,
			Checks:      checks,
			WS:          chat.ServeWS(hub),
			CORSOrigins: cfg.Origins(),
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests first, then close live sessions so their users
	// go offline before the stores close.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
	if err := hub.Shutdown(ctx); err != nil {
		logger.Error("hub shutdown incomplete", "error", err)
	}
	return nil
}

// openStore returns the durable store for the configured driver together
// with the handle that must be closed on exit.
func openStore(cfg *config.Config) (durableStore, io.Closer, error) {
	if cfg.DatabaseDriver == "postgres" {
		db, err := database.InitDB(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := database.RunMigrations(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return database.NewStore(db), db, nil
	}

	store, err := gormstore.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store, store, nil
}
