package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "Asiabot"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultCarrierBaseURL  = "https://odpapp.asiacell.com/api"
	defaultCarrierAPIKey   = "1ccbc4c913bc4ce785a0a2de444aa0d6"
	defaultRefreshInterval = 12 * time.Hour
	defaultSettleDelay     = 3 * time.Second
	defaultRequestTimeout  = 30 * time.Second
	refreshSecondsEnvVar   = "TOKEN_REFRESH_INTERVAL_SECONDS"
	refreshDurationEnvVar  = "TOKEN_REFRESH_INTERVAL"
	balanceSecondsEnvVar   = "BALANCE_WATCH_INTERVAL_SECONDS"
	balanceDurationEnvVar  = "BALANCE_WATCH_INTERVAL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName         string
	AppEnv          string
	Port            string
	LogLevel        string
	BotToken        string
	AdminID         int64
	AdminToken      string
	DatabaseURL     string
	RedisURL        string
	CarrierBaseURL  string
	CarrierAPIKey   string
	ProxyFile       string
	OCRAPIKey       string
	RefreshInterval time.Duration
	BalanceInterval time.Duration
	SettleDelay     time.Duration
	RequestTimeout  time.Duration
	ShutdownPeriod  time.Duration
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is honoured when present.
func Load() (Config, error) {
	// Missing .env is the normal case in production.
	_ = godotenv.Load()

	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		BotToken:        os.Getenv("BOT_TOKEN"),
		AdminToken:      os.Getenv("ADMIN_TOKEN"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		CarrierBaseURL:  getEnv("CARRIER_BASE_URL", defaultCarrierBaseURL),
		CarrierAPIKey:   getEnv("CARRIER_API_KEY", defaultCarrierAPIKey),
		ProxyFile:       getEnv("PROXY_FILE", "data/proxies.txt"),
		OCRAPIKey:       os.Getenv("OCR_API_KEY"),
		RefreshInterval: defaultRefreshInterval,
		BalanceInterval: 0,
		SettleDelay:     defaultSettleDelay,
		RequestTimeout:  defaultRequestTimeout,
		ShutdownPeriod:  defaultShutdownDelay,
	}

	if v := os.Getenv("ADMIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ADMIN_ID: %w", err)
		}
		cfg.AdminID = id
	}

	var err error
	if cfg.RefreshInterval, err = parseIntervalEnv(refreshSecondsEnvVar, refreshDurationEnvVar, cfg.RefreshInterval); err != nil {
		return Config{}, err
	}
	if cfg.BalanceInterval, err = parseIntervalEnv(balanceSecondsEnvVar, balanceDurationEnvVar, cfg.BalanceInterval); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownPeriod, err = parseIntervalEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("SETTLE_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SETTLE_DELAY: %w", err)
		}
		cfg.SettleDelay = d
	}

	if cfg.BotToken == "" {
		return Config{}, fmt.Errorf("BOT_TOKEN must be set")
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// parseIntervalEnv accepts either an integer seconds variable or a Go
// duration variable, seconds taking precedence.
func parseIntervalEnv(secondsVar, durationVar string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsVar, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationVar, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
