package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hama-jp/koubou-go/internal/api/handlers"
	apiMiddleware "github.com/hama-jp/koubou-go/internal/api/middleware"
	"github.com/hama-jp/koubou-go/internal/api/websocket"
	"github.com/hama-jp/koubou-go/internal/bus"
	"github.com/hama-jp/koubou-go/internal/config"
	"github.com/hama-jp/koubou-go/internal/pool"
	"github.com/hama-jp/koubou-go/internal/store"
)

// Server is MasterAPI: the HTTP surface over Store, fed by the same Bus
// PoolManager and every Worker publish to, with pool lifecycle actions
// proxied to PoolManager's control socket.
type Server struct {
	router       *chi.Mux
	store        *store.Store
	bus          bus.Bus
	config       *config.Config
	taskHandler  *handlers.TaskHandler
	adminHandler *handlers.AdminHandler
	wsHub        *websocket.Hub
	wsHandler    *websocket.Handler
}

// NewServer creates MasterAPI's HTTP server.
func NewServer(cfg *config.Config, st *store.Store, b bus.Bus) *Server {
	wsHub := websocket.NewHub(b)
	control := pool.NewControlClient(cfg.Pool.ControlSocketPath, cfg.Auth.ControlToken)

	s := &Server{
		router:       chi.NewRouter(),
		store:        st,
		bus:          b,
		config:       cfg,
		taskHandler:  handlers.NewTaskHandler(st),
		adminHandler: handlers.NewAdminHandler(st, control),
		wsHub:        wsHub,
		wsHandler:    websocket.NewHandler(wsHub),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apiMiddleware.RequestLogger())
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	authCfg := &apiMiddleware.AuthConfig{
		Enabled:   s.config.Auth.Enabled,
		JWTSecret: s.config.Auth.JWTSecret,
		APIKeys:   apiKeySet(s.config.Auth.APIKeys),
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(apiMiddleware.ClientRateLimit(100))

		r.Route("/task", func(r chi.Router) {
			r.Post("/delegate", s.taskHandler.Delegate)
			r.Get("/status/{taskID}", s.taskHandler.Status)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/pending", s.taskHandler.ListPending)
			r.Get("/active", s.taskHandler.ListActive)
			r.Get("/completed", s.taskHandler.ListCompleted)
		})

		r.Get("/workers/status", s.taskHandler.WorkerStatus)
		r.Get("/system/info", s.taskHandler.SystemInfo)
	})

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(apiMiddleware.Auth(authCfg))

		r.Get("/health", s.adminHandler.HealthCheck)

		r.Get("/workers", s.adminHandler.ListWorkers)
		r.Get("/workers/{workerID}", s.adminHandler.GetWorker)
		r.Post("/workers/spawn", s.adminHandler.SpawnWorker)
		r.Post("/workers/shutdown_all", s.adminHandler.ShutdownAllWorkers)
		r.Post("/workers/{workerID}/shutdown", s.adminHandler.ShutdownWorker)
		r.Post("/workers/{workerID}/restart", s.adminHandler.RestartWorker)

		r.Post("/scale", s.adminHandler.Scale)
		r.Get("/queues", s.adminHandler.GetQueues)

		r.Post("/tasks/{taskID}/retry", s.adminHandler.RetryTask)
	})

	s.router.Get("/health", s.taskHandler.Health)
	s.router.Get("/ws", s.wsHandler.ServeWS)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

func apiKeySet(keys []string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}

// Start starts the WebSocket hub.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop stops the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
