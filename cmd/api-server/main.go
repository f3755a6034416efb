package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hama-jp/koubou-go/internal/api"
	"github.com/hama-jp/koubou-go/internal/bus"
	"github.com/hama-jp/koubou-go/internal/config"
	"github.com/hama-jp/koubou-go/internal/logger"
	"github.com/hama-jp/koubou-go/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting MasterAPI server")

	st, err := store.Open(store.Options{Path: cfg.Store.Path, Timeout: cfg.Store.Timeout})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	b, err := newBus(cfg.Bus)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct message bus")
	}
	if err := b.Connect(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to connect message bus")
	}
	defer b.Disconnect()

	server := api.NewServer(cfg, st, b)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.Start(ctx)

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	server.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}

func newBus(cfg config.BusConfig) (bus.Bus, error) {
	switch cfg.Backend {
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		return bus.NewRedis(client, cfg.ReplaySize), nil
	case "filespool":
		return bus.NewFileSpool(cfg.SpoolDir), nil
	case "", "memory":
		return bus.NewMemory(cfg.ReplaySize), nil
	default:
		return nil, fmt.Errorf("unknown bus backend: %s", cfg.Backend)
	}
}
