// Package config loads daemon settings from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds daemon settings. CLI flags override these values.
type Config struct {
	Addr      string
	LogLevel  string
	LogFormat string
	Workers   int
	CacheSize int
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first when present.
func Load() *Config {
	_ = godotenv.Load()

	addr := strings.TrimSpace(os.Getenv("LOUPE_ADDR"))
	if addr == "" {
		if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
			if strings.HasPrefix(port, ":") {
				addr = port
			} else {
				addr = ":" + port
			}
		} else {
			addr = ":7819"
		}
	}

	return &Config{
		Addr:      addr,
		LogLevel:  firstNonEmpty(strings.TrimSpace(os.Getenv("LOUPE_LOG_LEVEL")), "info"),
		LogFormat: firstNonEmpty(strings.TrimSpace(os.Getenv("LOUPE_LOG_FORMAT")), "text"),
		Workers:   envInt("LOUPE_WORKERS", 0),
		CacheSize: envInt("LOUPE_CACHE_SIZE", 0),
	}
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
