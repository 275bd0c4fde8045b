package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIBaseURL  string
	WSBaseURL   string
	Token       string
	StorePath   string
	MetricsAddr string

	RequestTimeout   time.Duration
	WaitTimeout      time.Duration
	ReconnectBase    time.Duration
	ReconnectRetries int
}

func Load() Config {
	_ = godotenv.Load()

	return Config{
		APIBaseURL:  getEnv("LIVEPOLL_API_URL", "http://localhost:8080/api"),
		WSBaseURL:   getEnv("LIVEPOLL_WS_URL", "ws://localhost:8080/ws"),
		Token:       getEnv("LIVEPOLL_TOKEN", ""),
		StorePath:   getEnv("LIVEPOLL_STORE_PATH", defaultStorePath()),
		MetricsAddr: getEnv("LIVEPOLL_METRICS_ADDR", ""),

		RequestTimeout:   getDuration("LIVEPOLL_REQUEST_TIMEOUT", 10*time.Second),
		WaitTimeout:      getDuration("LIVEPOLL_WAIT_TIMEOUT", 40*time.Second),
		ReconnectBase:    getDuration("LIVEPOLL_RECONNECT_BASE", time.Second),
		ReconnectRetries: 5,
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "livepoll.db"
	}
	return filepath.Join(dir, "livepoll", "livepoll.db")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
