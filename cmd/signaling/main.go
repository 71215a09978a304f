package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/logging"

	"github.com/mossy-p/rtc-coordinator/config"
	"github.com/mossy-p/rtc-coordinator/internal/engine"
	"github.com/mossy-p/rtc-coordinator/internal/handlers"
	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/redis"
	"github.com/mossy-p/rtc-coordinator/internal/room"
	"github.com/mossy-p/rtc-coordinator/internal/signaling"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	lf := logger.NewFactory(cfg.LogLevel)
	logr := lf.NewLogger("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to Redis
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	store, err := redis.Connect(connectCtx, cfg.Redis, lf)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer store.Close()
	logr.Info("Redis connection established")

	eng, err := newEngine(ctx, cfg, lf)
	if err != nil {
		log.Fatalf("Failed to start media engine: %v", err)
	}
	if eng != nil {
		defer eng.Close()
	}

	coord := signaling.NewCoordinator(room.NewRegistry(cfg.RoomCapacity, lf), signaling.Options{
		Engine:         eng,
		Presence:       store,
		RequestTimeout: cfg.RequestTimeout,
		LoggerFactory:  lf,
	})
	defer coord.Close()

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	handlers.Register(router, handlers.RouteConfig{
		Coordinator:          coord,
		Store:                store,
		JWTSecret:            cfg.JWTSecret,
		AllowedOrigins:       cfg.AllowedOrigins,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		LoggerFactory:        lf,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Infof("Starting signaling coordinator on port %s (media engine: %s)", cfg.Port, cfg.MediaEngine)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	logr.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warnf("Shutdown: %v", err)
	}
}

func newEngine(ctx context.Context, cfg *config.Config, lf logging.LoggerFactory) (engine.Engine, error) {
	switch cfg.MediaEngine {
	case config.MediaEngineLocal:
		return engine.NewLocal(engine.LocalConfig{ICEServers: cfg.ICEServers, LoggerFactory: lf})
	case config.MediaEngineRemote:
		dialCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
		return engine.DialRemote(dialCtx, cfg.MediaEngineURL, cfg.RequestTimeout, lf)
	default:
		return nil, nil
	}
}
