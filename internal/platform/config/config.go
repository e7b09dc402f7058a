package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Server captures configuration for the collaborator pages server.
type Server struct {
	Addr       string
	LogLevel   string
	OutcomeTTL time.Duration
	// DepositFrameURL is the embedded app the deposit page hosts.
	DepositFrameURL string
	// StaticDir holds the wasm bundle; empty disables /static/.
	StaticDir string
	Redis     RedisConfig
	Flow      FlowConfig
}

// RedisConfig configures the optional Redis-backed outcome slot store.
// An empty URL keeps slots in memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FlowConfig holds coordinator timings shared by the server and the CLI.
type FlowConfig struct {
	LoadingTimeout       time.Duration
	LegitimateCloseAfter time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:            getEnv("POPUPFLOW_ADDR", ":8080"),
		LogLevel:        getEnv("POPUPFLOW_LOG_LEVEL", "info"),
		DepositFrameURL: getEnv("POPUPFLOW_DEPOSIT_FRAME_URL", "/deposit/frame"),
		StaticDir:       os.Getenv("POPUPFLOW_STATIC_DIR"),
		Redis: RedisConfig{
			URL:          os.Getenv("POPUPFLOW_REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}

	var err error
	if cfg.OutcomeTTL, err = getDuration("POPUPFLOW_OUTCOME_TTL", 10*time.Minute); err != nil {
		return Server{}, err
	}
	if cfg.Flow.LoadingTimeout, err = getDuration("POPUPFLOW_LOADING_TIMEOUT", 2*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Flow.LegitimateCloseAfter, err = getDuration("POPUPFLOW_LEGITIMATE_CLOSE_AFTER", 2*time.Second); err != nil {
		return Server{}, err
	}
	if v := os.Getenv("POPUPFLOW_REDIS_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Server{}, fmt.Errorf("POPUPFLOW_REDIS_POOL_SIZE: invalid value %q", v)
		}
		cfg.Redis.PoolSize = n
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, v)
	}
	return d, nil
}
