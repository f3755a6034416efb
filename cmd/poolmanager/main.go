package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/hama-jp/koubou-go/internal/bus"
	"github.com/hama-jp/koubou-go/internal/config"
	"github.com/hama-jp/koubou-go/internal/logger"
	"github.com/hama-jp/koubou-go/internal/pool"
	"github.com/hama-jp/koubou-go/internal/router"
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

	rtr := router.New(router.Config{
		Strategy: router.Strategy(cfg.Router.Strategy),
		Rules:    toRouterRules(cfg.Router.PriorityRules),
	})

	m := pool.New(cfg.Pool, st, b, rtr, cfg.Auth.ControlToken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	monitorSock := cfg.Pool.MonitorSocketPath
	controlSock := cfg.Pool.ControlSocketPath
	if err := os.MkdirAll(filepath.Dir(controlSock), 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", filepath.Dir(controlSock)).Msg("failed to create run directory")
	}

	go func() {
		if err := m.ServeMonitor(ctx, monitorSock); err != nil {
			log.Error().Err(err).Msg("monitor socket exited with error")
		}
	}()
	go func() {
		if err := m.ServeControl(ctx, controlSock); err != nil {
			log.Error().Err(err).Msg("control socket exited with error")
		}
	}()

	log.Info().
		Int("min_workers", cfg.Pool.MinWorkers).
		Int("max_workers", cfg.Pool.MaxWorkers).
		Str("monitor_socket", monitorSock).
		Str("control_socket", controlSock).
		Msg("starting pool manager")

	if err := m.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("pool manager exited with error")
	}
	log.Info().Msg("pool manager stopped")
}

func newBus(cfg config.BusConfig) (bus.Bus, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return bus.NewRedis(client, cfg.ReplaySize), nil
	case "filespool":
		return bus.NewFileSpool(cfg.SpoolDir), nil
	case "", "memory":
		return bus.NewMemory(cfg.ReplaySize), nil
	default:
		return nil, fmt.Errorf("unknown bus backend: %s", cfg.Backend)
	}
}

func toRouterRules(rules []config.PriorityRule) []router.PriorityRule {
	out := make([]router.PriorityRule, 0, len(rules))
	for _, r := range rules {
		prefer := make([]router.Class, 0, len(r.Prefer))
		for _, p := range r.Prefer {
			prefer = append(prefer, router.Class(p))
		}
		out = append(out, router.PriorityRule{
			Min:           r.Min,
			Max:           r.Max,
			Prefer:        prefer,
			FallbackLocal: r.FallbackLocal,
		})
	}
	return out
}
