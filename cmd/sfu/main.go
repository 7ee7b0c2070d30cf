package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mossy-p/sfu-core/config"
	"github.com/mossy-p/sfu-core/internal/cleanup"
	"github.com/mossy-p/sfu-core/internal/engine/pionengine"
	"github.com/mossy-p/sfu-core/internal/events"
	"github.com/mossy-p/sfu-core/internal/fanout"
	"github.com/mossy-p/sfu-core/internal/httpapi"
	"github.com/mossy-p/sfu-core/internal/logging"
	"github.com/mossy-p/sfu-core/internal/metrics"
	"github.com/mossy-p/sfu-core/internal/peer"
	"github.com/mossy-p/sfu-core/internal/room"
	"github.com/mossy-p/sfu-core/internal/router"
	"github.com/mossy-p/sfu-core/internal/signaling"
	"github.com/mossy-p/sfu-core/internal/workerpool"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	eng := pionengine.New()

	pool, err := workerpool.New(ctx, cfg.WorkerCount, cfg.PortRangeBase, cfg.PortRangePerWorker, eng, logger, collector, workerpool.WithBackoff(cfg.WorkerRestartBackoff))
	if err != nil {
		return err
	}

	routers := router.New(pool, logger)
	membership := room.New()
	peers := peer.NewRegistry()
	broadcaster := fanout.New(membership, peers, logger)

	instanceID := uuid.New().String()
	relay, err := events.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, instanceID, logger)
	if err != nil {
		return err
	}
	defer relay.Close()

	cleanupCoord := cleanup.New(peers, membership, routers, pool, broadcaster, logger)

	dispatcher := signaling.New(signaling.Config{
		JWTSecret:         cfg.JWTSecret,
		AnnouncedIP:       cfg.AnnouncedIP,
		MaxPeersPerRoom:   cfg.MaxPeersPerRoom,
		ICEConsentTimeout: cfg.ICEConsentTimeout,
	}, pool, routers, membership, peers, broadcaster, cleanupCoord, relay, logger)

	if relay.Enabled() {
		go relay.Subscribe(ctx, func(roomID string, event json.RawMessage) {
			broadcaster.ToRoomIncludingSender(roomID, event)
		})
	}

	engine := httpapi.New(httpapi.Deps{
		AllowedOrigins: cfg.AllowedOrigins,
		JWTSecret:      cfg.JWTSecret,
		Environment:    cfg.Environment,
		Dispatcher:     dispatcher,
		Peers:          peers,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.Int("workers", cfg.WorkerCount))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}
