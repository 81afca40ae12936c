// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection and pool sizing settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
	GetDatabaseMaxConns() int32
	GetDatabaseMinConns() int32
}

// SchedulerConfig provides settings for the batch scheduler and task queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetTickInterval() time.Duration
	GetChunkSize() int
	GetChunkPause() time.Duration
	GetDedupeWindow() time.Duration
	GetLockKey() string
	GetLockTTL() time.Duration
}

// DispatchConfig provides settings for the action dispatcher.
type DispatchConfig interface {
	GetExecutorURL() string
	GetExecutorAPIKey() string
	GetDispatchMaxAttempts() int
	GetDispatchBaseDelay() time.Duration
	GetDispatchRatePerSecond() float64
}

// GuardConfig provides settings for the redis-backed dispatch guard.
type GuardConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetGuardTTL() time.Duration
}

// AdvisorConfig provides settings for the optional reasoning-service override.
type AdvisorConfig interface {
	GetAdvisorBaseURL() string
	GetAdvisorAPIKey() string
	GetAdvisorModel() string
	GetAdvisorTimeout() time.Duration
	IsAdvisorEnabled() bool
}

// MetricsConfig provides settings for the external metrics aggregator.
type MetricsConfig interface {
	GetMetricsURL() string
	GetMetricsAPIKey() string
	GetMetricsTimeout() time.Duration
}

// OptimizerConfig provides settings for the decision engine.
type OptimizerConfig interface {
	GetScoringConfigPath() string
	GetMinBudgetCents() int64
	GetMaxBudgetCents() int64
	GetMaxActionsPerRun() int
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                   string
	DatabaseURL           string
	DatabaseMaxConns      int32
	DatabaseMinConns      int32
	RedisURL              string
	RedisTLSInsecure      bool
	AsynqQueueName        string
	AsynqConcurrency      int
	TickInterval          time.Duration
	ChunkSize             int
	ChunkPause            time.Duration
	DedupeWindow          time.Duration
	LockKey               string
	LockTTL               time.Duration
	ExecutorURL           string
	ExecutorAPIKey        string
	DispatchMaxAttempts   int
	DispatchBaseDelay     time.Duration
	DispatchRatePerSecond float64
	GuardTTL              time.Duration
	AdvisorBaseURL        string
	AdvisorAPIKey         string
	AdvisorModel          string
	AdvisorTimeout        time.Duration
	MetricsURL            string
	MetricsAPIKey         string
	MetricsTimeout        time.Duration
	ScoringConfigPath     string
	MinBudgetCents        int64
	MaxBudgetCents        int64
	MaxActionsPerRun      int
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string     { return c.DatabaseURL }
func (c *Config) GetDatabaseMaxConns() int32 { return c.DatabaseMaxConns }
func (c *Config) GetDatabaseMinConns() int32 { return c.DatabaseMinConns }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string            { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool      { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string      { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int       { return c.AsynqConcurrency }
func (c *Config) GetTickInterval() time.Duration { return c.TickInterval }
func (c *Config) GetChunkSize() int              { return c.ChunkSize }
func (c *Config) GetChunkPause() time.Duration   { return c.ChunkPause }
func (c *Config) GetDedupeWindow() time.Duration { return c.DedupeWindow }
func (c *Config) GetLockKey() string             { return c.LockKey }
func (c *Config) GetLockTTL() time.Duration      { return c.LockTTL }

// DispatchConfig implementation
func (c *Config) GetExecutorURL() string              { return c.ExecutorURL }
func (c *Config) GetExecutorAPIKey() string           { return c.ExecutorAPIKey }
func (c *Config) GetDispatchMaxAttempts() int         { return c.DispatchMaxAttempts }
func (c *Config) GetDispatchBaseDelay() time.Duration { return c.DispatchBaseDelay }
func (c *Config) GetDispatchRatePerSecond() float64   { return c.DispatchRatePerSecond }

// GuardConfig implementation
func (c *Config) GetGuardTTL() time.Duration { return c.GuardTTL }

// AdvisorConfig implementation
func (c *Config) GetAdvisorBaseURL() string         { return c.AdvisorBaseURL }
func (c *Config) GetAdvisorAPIKey() string          { return c.AdvisorAPIKey }
func (c *Config) GetAdvisorModel() string           { return c.AdvisorModel }
func (c *Config) GetAdvisorTimeout() time.Duration  { return c.AdvisorTimeout }
func (c *Config) IsAdvisorEnabled() bool            { return c.AdvisorAPIKey != "" }

// MetricsConfig implementation
func (c *Config) GetMetricsURL() string            { return c.MetricsURL }
func (c *Config) GetMetricsAPIKey() string         { return c.MetricsAPIKey }
func (c *Config) GetMetricsTimeout() time.Duration { return c.MetricsTimeout }

// OptimizerConfig implementation
func (c *Config) GetScoringConfigPath() string { return c.ScoringConfigPath }
func (c *Config) GetMinBudgetCents() int64     { return c.MinBudgetCents }
func (c *Config) GetMaxBudgetCents() int64     { return c.MaxBudgetCents }
func (c *Config) GetMaxActionsPerRun() int     { return c.MaxActionsPerRun }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:      int32(mustInt(getEnv("DB_MAX_CONNS", "25"))),
		DatabaseMinConns:      int32(mustInt(getEnv("DB_MIN_CONNS", "5"))),
		RedisURL:              getEnv("REDIS_URL", ""),
		RedisTLSInsecure:      strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:        getEnv("ASYNQ_QUEUE", "optimizer"),
		AsynqConcurrency:      mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		TickInterval:          mustDuration(getEnv("SCHEDULER_TICK_INTERVAL", "1h")),
		ChunkSize:             mustInt(getEnv("SCHEDULER_CHUNK_SIZE", "5")),
		ChunkPause:            mustDuration(getEnv("SCHEDULER_CHUNK_PAUSE", "10s")),
		DedupeWindow:          mustDuration(getEnv("SCHEDULER_DEDUPE_WINDOW", "50m")),
		LockKey:               getEnv("SCHEDULER_LOCK_KEY", "optimizer.batch"),
		LockTTL:               mustDuration(getEnv("SCHEDULER_LOCK_TTL", "15m")),
		ExecutorURL:           getEnv("EXECUTOR_URL", ""),
		ExecutorAPIKey:        getEnv("EXECUTOR_API_KEY", ""),
		DispatchMaxAttempts:   mustInt(getEnv("DISPATCH_MAX_ATTEMPTS", "4")),
		DispatchBaseDelay:     mustDuration(getEnv("DISPATCH_BASE_DELAY", "2s")),
		DispatchRatePerSecond: mustFloat(getEnv("DISPATCH_RATE_PER_SECOND", "2")),
		GuardTTL:              mustDuration(getEnv("DISPATCH_GUARD_TTL", "6h")),
		AdvisorBaseURL:        getEnv("ADVISOR_BASE_URL", "https://api.moonshot.ai/v1"),
		AdvisorAPIKey:         getEnv("ADVISOR_API_KEY", ""),
		AdvisorModel:          getEnv("ADVISOR_MODEL", "kimi-k2-turbo-preview"),
		AdvisorTimeout:        mustDuration(getEnv("ADVISOR_TIMEOUT", "45s")),
		MetricsURL:            getEnv("METRICS_URL", ""),
		MetricsAPIKey:         getEnv("METRICS_API_KEY", ""),
		MetricsTimeout:        mustDuration(getEnv("METRICS_TIMEOUT", "30s")),
		ScoringConfigPath:     getEnv("SCORING_CONFIG_PATH", ""),
		MinBudgetCents:        mustInt64(getEnv("MIN_UNIT_BUDGET_CENTS", "300")),
		MaxBudgetCents:        mustInt64(getEnv("MAX_UNIT_BUDGET_CENTS", "100000")),
		MaxActionsPerRun:      mustInt(getEnv("MAX_ACTIONS_PER_RUN", "40")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.ExecutorURL == "" {
		return nil, fmt.Errorf("EXECUTOR_URL is required")
	}
	if cfg.MetricsURL == "" {
		return nil, fmt.Errorf("METRICS_URL is required")
	}
	if cfg.MinBudgetCents <= 0 || cfg.MaxBudgetCents <= cfg.MinBudgetCents {
		return nil, fmt.Errorf("unit budget bounds are invalid: [%d, %d]", cfg.MinBudgetCents, cfg.MaxBudgetCents)
	}
	if cfg.DatabaseMaxConns < 1 || cfg.DatabaseMinConns < 0 || cfg.DatabaseMinConns > cfg.DatabaseMaxConns {
		return nil, fmt.Errorf("database pool bounds are invalid: [%d, %d]", cfg.DatabaseMinConns, cfg.DatabaseMaxConns)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}

func mustInt64(value string) int64 {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func mustFloat(value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return f
}
