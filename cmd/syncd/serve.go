package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"offline-sync-service/internal/api"
	"offline-sync-service/internal/config"
	"offline-sync-service/internal/engine"
	"offline-sync-service/internal/engine/backoff"
	"offline-sync-service/internal/events"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/push"
	"offline-sync-service/internal/router"
	"offline-sync-service/internal/store"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()

	logger.Log.Info("Starting offline sync daemon")

	// Durable store. An unreadable database degrades to sync-disabled on
	// an in-memory store rather than crashing the whole client.
	var (
		st           store.Store
		syncDisabled bool
	)
	st, err = store.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		if errors.Is(err, store.ErrQueueCorrupt) {
			logger.Log.Error("Durable store unreadable, sync disabled; reinstall to recover",
				zap.Error(err))
			st = store.NewMemoryStore()
			syncDisabled = true
		} else {
			return fmt.Errorf("failed to open store: %w", err)
		}
	}
	defer st.Close()

	bus := events.NewBus()
	fetcher := router.NewHTTPFetcher(cfg.Network.GetTimeout())
	gateway := router.New(st, fetcher, bus, cfg.Cache.Version)

	// A version bump invalidates every partition from previous versions.
	if err := gateway.EvictStale(context.Background()); err != nil {
		logger.Log.Warn("Cache eviction failed", zap.Error(err))
	}

	eng := engine.New(st, fetcher, bus, engine.Options{
		BaseURL:      cfg.Network.BaseURL,
		BatchSize:    cfg.Sync.BatchSize,
		RetryCeiling: cfg.Sync.RetryCeiling,
		Backoff: backoff.Exponential{
			Base:   cfg.Sync.GetBackoffBase(),
			Max:    cfg.Sync.GetBackoffMax(),
			Jitter: 0.5,
		},
	})

	var scheduler *engine.Scheduler
	if !syncDisabled {
		if err := eng.Start(); err != nil {
			return fmt.Errorf("failed to start sync engine: %w", err)
		}
		defer eng.Stop()

		scheduler = engine.NewScheduler(cfg.Scheduler, eng)
		scheduler.Start()
		defer scheduler.Stop()
	}

	pushCtx, cancelPush := context.WithCancel(context.Background())
	defer cancelPush()
	if cfg.Push.Enabled {
		handler := push.NewHandler(push.LogNotifier{}, nil)
		listener := push.NewListener(cfg.Push.URL, handler, nil)
		go listener.Run(pushCtx)
	}

	handler := api.NewHandler(eng, st, gateway, fetcher, cfg.Network.BaseURL)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down...")
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Log.Warn("Server shutdown error", zap.Error(err))
	}
	return nil
}
