package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port       string // default: 8080
	AdminToken string // gates key issuance / revocation routes

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Classifier collaborator
	ClassifierURL     string
	ClassifierTimeout time.Duration // default: 5s

	// Quota
	BaseAllowance int // free prediction calls per key, default: 2000

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitRPM int64 // requests per minute per key, default: 300
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		AdminToken:           os.Getenv("ADMIN_TOKEN"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		ClassifierURL:        os.Getenv("CLASSIFIER_URL"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	timeoutStr := getEnv("CLASSIFIER_TIMEOUT_MS", "5000")
	timeoutMs, err := strconv.ParseInt(timeoutStr, 10, 64)
	if err != nil || timeoutMs <= 0 {
		return nil, fmt.Errorf("invalid CLASSIFIER_TIMEOUT_MS: %q", timeoutStr)
	}
	cfg.ClassifierTimeout = time.Duration(timeoutMs) * time.Millisecond

	baseStr := getEnv("BASE_ALLOWANCE", "2000")
	base, err := strconv.Atoi(baseStr)
	if err != nil || base < 0 {
		return nil, fmt.Errorf("invalid BASE_ALLOWANCE: %q", baseStr)
	}
	cfg.BaseAllowance = base

	rpmStr := getEnv("DEFAULT_RATE_LIMIT_RPM", "300")
	rpm, err := strconv.ParseInt(rpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_RPM: %w", err)
	}
	cfg.DefaultRateLimitRPM = rpm

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.ClassifierURL == "" {
		return nil, fmt.Errorf("CLASSIFIER_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
