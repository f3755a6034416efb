package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Pool     PoolConfig
	Router   RouterConfig
	Security SecurityConfig
	Store    StoreConfig
	Server   ServerConfig
	Bus      BusConfig
	Auth     AuthConfig
	Metrics  MetricsConfig
	LogLevel string
}

type PoolConfig struct {
	MinWorkers        int
	MaxWorkers        int
	MaxActiveTasks    int
	TickInterval      time.Duration
	DeadInterval      time.Duration
	WorkerBinaryPath  string
	WorkerDefaults    WorkerDefaults
	RemoteWorkers     []RemoteWorker
	MonitorSocketPath string
	ControlSocketPath string
}

// RemoteWorker is a statically configured remote endpoint PoolManager
// registers directly at start, without spawning a subprocess.
type RemoteWorker struct {
	ID                string
	EndpointURL       string
	PerformanceFactor float64
	Capabilities      []string
}

// WorkerDefaults seeds environment variables for spawned local worker
// subprocesses; remote workers are registered directly with these same
// fields read from a static list instead (see RemoteWorkers).
type WorkerDefaults struct {
	Location          string
	PerformanceFactor float64
	Capabilities      []string
	MaxTokens         int
	Model             string
}

type PriorityRule struct {
	Min           int
	Max           int
	Prefer        []string
	FallbackLocal bool
}

type RouterConfig struct {
	Strategy      string
	PriorityRules []PriorityRule
}

type SecurityConfig struct {
	AllowedDirs       []string
	AllowedExtensions []string
	MaxFileSize       int64
}

type StoreConfig struct {
	Path    string
	Timeout time.Duration
}

type ServerConfig struct {
	Host         string
	Port         int
	AdminPort    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type BusConfig struct {
	Backend    string
	RedisAddr  string
	ReplaySize int
	SpoolDir   string
}

type AuthConfig struct {
	Enabled      bool
	JWTSecret    string
	APIKeys      []string
	ControlToken string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/koubou")

	setDefaults()

	viper.SetEnvPrefix("KOUBOU")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	// Pool defaults
	viper.SetDefault("pool.minworkers", 1)
	viper.SetDefault("pool.maxworkers", 5)
	viper.SetDefault("pool.maxactivetasks", 2)
	viper.SetDefault("pool.tickinterval", 5*time.Second)
	viper.SetDefault("pool.deadinterval", 60*time.Second)
	viper.SetDefault("pool.workerdefaults.location", "local")
	viper.SetDefault("pool.workerdefaults.performancefactor", 1.0)
	viper.SetDefault("pool.workerdefaults.capabilities", []string{"general"})
	viper.SetDefault("pool.workerdefaults.maxtokens", 4096)
	viper.SetDefault("pool.workerdefaults.model", "")
	viper.SetDefault("pool.workerbinarypath", "worker")
	viper.SetDefault("pool.remoteworkers", []map[string]interface{}{})
	viper.SetDefault("pool.monitorsocketpath", "./run/monitor.sock")
	viper.SetDefault("pool.controlsocketpath", "./run/control.sock")

	// Router defaults
	viper.SetDefault("router.strategy", "load_balanced")
	viper.SetDefault("router.priorityrules", []map[string]interface{}{})

	// Security defaults
	viper.SetDefault("security.alloweddirs", []string{})
	viper.SetDefault("security.allowedextensions", []string{".py", ".js", ".go", ".ts", ".md", ".txt", ".json", ".html", ".css"})
	viper.SetDefault("security.maxfilesize", 10*1024*1024)

	// Store defaults
	viper.SetDefault("store.path", "./koubou.db")
	viper.SetDefault("store.timeout", 60*time.Second)

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.adminport", 8081)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)

	// Bus defaults
	viper.SetDefault("bus.backend", "memory")
	viper.SetDefault("bus.redisaddr", "localhost:6379")
	viper.SetDefault("bus.replaysize", 1000)
	viper.SetDefault("bus.spooldir", "./notifications")

	// Auth defaults
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})
	viper.SetDefault("auth.controltoken", "default_token")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("loglevel", "info")
}
