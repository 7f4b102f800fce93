// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds everything the round engine server needs to start.
type Config struct {
	Addr            string
	DatabaseURL     string
	RedisURL        string
	CacheTTL        time.Duration
	RoundDuration   time.Duration
	WatcherInterval time.Duration
	FeeBps          int64
	MinTrade        decimal.Decimal
	InitialSupply   decimal.Decimal
	BasePrice       decimal.Decimal
	HouseAccount    string
}

// LoadFromEnv reads configuration from environment variables, applying
// defaults for everything except the house account. An empty DATABASE_URL
// selects the in-memory store.
func LoadFromEnv() (Config, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("ARENA_ADDR", ":8080")
	}

	cfg := Config{
		Addr:            addr,
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		CacheTTL:        envDurationDefault("ARENA_CACHE_TTL", 5*time.Second),
		RoundDuration:   envDurationDefault("ARENA_ROUND_DURATION", 5*time.Minute),
		WatcherInterval: envDurationDefault("ARENA_WATCHER_INTERVAL", time.Second),
		FeeBps:          envIntDefault("ARENA_FEE_BPS", 200),
		MinTrade:        envDecimalDefault("ARENA_MIN_TRADE", "0.001"),
		InitialSupply:   envDecimalDefault("ARENA_INITIAL_SUPPLY", "1000000"),
		BasePrice:       envDecimalDefault("ARENA_BASE_PRICE", "0.000001"),
		HouseAccount:    strings.TrimSpace(os.Getenv("ARENA_HOUSE_ACCOUNT")),
	}

	if cfg.FeeBps < 0 || cfg.FeeBps >= 10000 {
		return cfg, fmt.Errorf("ARENA_FEE_BPS out of range: %d", cfg.FeeBps)
	}
	if cfg.RoundDuration <= 0 {
		return cfg, fmt.Errorf("ARENA_ROUND_DURATION must be positive")
	}
	if !cfg.BasePrice.IsPositive() {
		return cfg, fmt.Errorf("ARENA_BASE_PRICE must be positive")
	}
	if !cfg.InitialSupply.IsPositive() {
		return cfg, fmt.Errorf("ARENA_INITIAL_SUPPLY must be positive")
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envDecimalDefault(key, fallback string) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(fallback)
	}
	return d
}
