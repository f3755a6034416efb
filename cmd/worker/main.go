package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hama-jp/koubou-go/internal/bus"
	"github.com/hama-jp/koubou-go/internal/config"
	"github.com/hama-jp/koubou-go/internal/deliverable"
	"github.com/hama-jp/koubou-go/internal/executor"
	"github.com/hama-jp/koubou-go/internal/logger"
	"github.com/hama-jp/koubou-go/internal/store"
	"github.com/hama-jp/koubou-go/internal/task"
	"github.com/hama-jp/koubou-go/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		workerID = "worker_" + uuid.New().String()
	}

	if err := worker.CheckAuthToken(os.Getenv("WORKER_EXPECTED_AUTH_TOKEN")); err != nil {
		log.Fatal().Err(err).Str("worker_id", workerID).Msg("worker auth token check failed")
	}

	st, err := store.Open(store.Options{Path: cfg.Store.Path, Timeout: cfg.Store.Timeout})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	location := task.LocationLocal
	if os.Getenv("WORKER_LOCATION") == string(task.LocationRemote) {
		location = task.LocationRemote
	}

	performanceFactor := cfg.Pool.WorkerDefaults.PerformanceFactor
	if v := os.Getenv("WORKER_PERFORMANCE_FACTOR"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			performanceFactor = parsed
		}
	}

	capabilities := cfg.Pool.WorkerDefaults.Capabilities
	if v := os.Getenv("WORKER_CAPABILITIES"); v != "" {
		capabilities = strings.Split(v, ",")
	}

	meta := task.WorkerMeta{
		Location:          location,
		EndpointURL:       os.Getenv("WORKER_ENDPOINT_URL"),
		Capabilities:      capabilities,
		PerformanceFactor: performanceFactor,
	}

	var exec executor.Executor
	if location == task.LocationRemote {
		if meta.EndpointURL == "" {
			log.Fatal().Msg("WORKER_LOCATION=remote requires WORKER_ENDPOINT_URL")
		}
		exec = executor.NewRemote(meta.EndpointURL, workerID, st)
	} else {
		command := cfg.Pool.WorkerDefaults.Model
		if v := os.Getenv("WORKER_COMMAND"); v != "" {
			command = v
		}
		if command == "" {
			command = "koubou-model-runner"
		}
		exec = executor.NewLocal(command)
	}

	extractDir := os.Getenv("WORKER_OUTPUT_DIR")
	if extractDir == "" {
		extractDir = "./outputs"
	}

	security := worker.SecurityPolicy{
		AllowedDirs:       cfg.Security.AllowedDirs,
		AllowedExtensions: cfg.Security.AllowedExtensions,
		MaxFileSize:       cfg.Security.MaxFileSize,
	}

	w := worker.New(workerID, st, exec, deliverable.New(extractDir), security, meta)

	b, err := newBus(cfg.Bus)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct message bus")
	}
	if err := b.Connect(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to connect message bus")
	}
	defer b.Disconnect()
	w.Bus = b

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Str("worker_id", workerID).Msg("received shutdown signal")
		cancel()
	}()

	log.Info().Str("worker_id", workerID).Str("location", string(location)).Msg("starting worker")
	if err := w.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("worker exited with error")
	}
	log.Info().Str("worker_id", workerID).Msg("worker stopped")
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
