package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	// Upstream weather-data API.
	UpstreamBaseURL string

	// UpstreamMaxRetries is the retry ceiling for transient upstream failures.
	UpstreamMaxRetries int
	UpstreamRetryDelay time.Duration
	UpstreamTimeout    time.Duration

	// MongoDB connection.
	MongoURI      string
	MongoDatabase string

	// PollInterval controls how often the ingestion cycle runs.
	PollInterval time.Duration

	// ShutdownGrace bounds how long in-flight work may drain on shutdown.
	ShutdownGrace time.Duration

	Port string

	// Env is "production" or "development"; development exposes error details.
	Env string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{}

	cfg.UpstreamBaseURL = getenvDefault(
		"UPSTREAM_BASE_URL",
		"https://us-east1-climacell-platform-production.cloudfunctions.net/weather-data",
	)

	cfg.UpstreamMaxRetries = getenvInt("UPSTREAM_MAX_RETRIES", 120)

	retryDelay, err := getenvDuration("UPSTREAM_RETRY_DELAY", "1s")
	if err != nil {
		return nil, err
	}
	cfg.UpstreamRetryDelay = retryDelay

	timeout, err := getenvDuration("UPSTREAM_HTTP_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	cfg.UpstreamTimeout = timeout

	cfg.MongoURI = getenvDefault("MONGODB_URI", "mongodb://localhost:27017")
	cfg.MongoDatabase = getenvDefault("MONGODB_DATABASE", "weather")

	// Ingestion cycle interval: default 5 minutes.
	interval, err := getenvDuration("POLL_INTERVAL", "5m")
	if err != nil {
		return nil, err
	}
	cfg.PollInterval = interval

	grace, err := getenvDuration("SHUTDOWN_GRACE", "30s")
	if err != nil {
		return nil, err
	}
	cfg.ShutdownGrace = grace

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.Env = getenvDefault("APP_ENV", "production")

	return cfg, nil
}

// Development reports whether detailed error bodies should be exposed.
func (c *AppConfig) Development() bool {
	return c.Env == "development"
}

var credentialsRe = regexp.MustCompile(`//[^:/@]+:[^@]+@`)

// RedactedMongoURI masks credentials for logging.
func (c *AppConfig) RedactedMongoURI() string {
	return credentialsRe.ReplaceAllString(c.MongoURI, "//***:***@")
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
