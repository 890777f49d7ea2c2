// Package config reads the service configuration from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTasksTable     = "tasks"
	defaultCacheTTL       = 5 * time.Minute
	defaultUpdatesChannel = "board-updates"
	defaultFailureHistory = 50
	defaultPort           = "8080"
)

// Config holds everything the service needs at startup.
type Config struct {
	StorageConnectionString string
	TasksTable              string
	// Redis is nil when no Redis connection is configured.
	Redis          *redis.Options
	CacheTTL       time.Duration
	UpdatesChannel string
	FailureHistory int
	ListenAddr     string
	Debug          bool
	JSONLogs       bool
}

// Load reads the configuration. Any envFiles are loaded first; variables
// already set in the environment take precedence over them.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	}

	cfg := &Config{
		StorageConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
		TasksTable:              getEnv("TASKS_TABLE", defaultTasksTable),
		CacheTTL:                defaultCacheTTL,
		UpdatesChannel:          getEnv("BOARD_UPDATES_CHANNEL", defaultUpdatesChannel),
		FailureHistory:          defaultFailureHistory,
		ListenAddr:              ":" + getEnv("FUNCTIONS_CUSTOMHANDLER_PORT", defaultPort),
		JSONLogs:                strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"),
	}
	if cfg.StorageConnectionString == "" {
		return nil, errors.New("missing STORAGE_CONNECTION_STRING")
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil {
		cfg.Debug = dbg
	}
	if v := os.Getenv("TASKS_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid TASKS_CACHE_TTL %q", v)
		}
		cfg.CacheTTL = d
	}
	if v := os.Getenv("FAILURE_HISTORY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid FAILURE_HISTORY %q: must be greater than zero", v)
		}
		cfg.FailureHistory = n
	}
	if v := os.Getenv("REDIS_CONNECTION_STRING"); v != "" {
		opts, err := ParseRedis(v)
		if err != nil {
			return nil, err
		}
		cfg.Redis = opts
	}
	return cfg, nil
}

// ParseRedis accepts a redis:// URL or an Azure style connection string of
// the form host:port,password=...,ssl=true.
func ParseRedis(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" || strings.Contains(addr, "=") {
		return nil, errors.New("invalid REDIS_CONNECTION_STRING: missing address")
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
