package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the ModelRelay control plane.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Breaker   BreakerConfig
	Backoff   BackoffConfig
	Routing   RoutingConfig
}

type DatabaseConfig struct {
	// URL, when set, enables the PostgreSQL-backed store.
	// Empty = in-memory store (local dev, tests).
	URL            string
	MaxConnections int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type BreakerConfig struct {
	FailureThreshold  int
	OpenDuration      time.Duration
	HalfOpenMaxProbes int
}

type BackoffConfig struct {
	Initial    time.Duration
	Multiplier float64
	Cap        time.Duration
}

type RoutingConfig struct {
	// LastResortProvider is attempted when policy filtering empties the
	// candidate list, so the engine never receives zero candidates.
	LastResortProvider string

	// DegradedThreshold is the available-provider ratio below which the
	// advisory degraded-mode signal fires.
	DegradedThreshold float64

	// InvokeTimeout bounds a single provider call.
	InvokeTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("MODELRELAY_PORT", 8080),
		Version: envStr("MODELRELAY_VERSION", "0.4.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "modelrelay"),
		},
		Breaker: BreakerConfig{
			FailureThreshold:  envInt("MODELRELAY_BREAKER_FAILURE_THRESHOLD", 5),
			OpenDuration:      envDuration("MODELRELAY_BREAKER_OPEN_DURATION", 30*time.Second),
			HalfOpenMaxProbes: envInt("MODELRELAY_BREAKER_HALF_OPEN_PROBES", 1),
		},
		Backoff: BackoffConfig{
			Initial:    envDuration("MODELRELAY_BACKOFF_INITIAL", 200*time.Millisecond),
			Multiplier: envFloat("MODELRELAY_BACKOFF_MULTIPLIER", 2.0),
			Cap:        envDuration("MODELRELAY_BACKOFF_CAP", 5*time.Second),
		},
		Routing: RoutingConfig{
			LastResortProvider: envStr("MODELRELAY_LAST_RESORT_PROVIDER", ""),
			DegradedThreshold:  envFloat("MODELRELAY_DEGRADED_THRESHOLD", 0.5),
			InvokeTimeout:      envDuration("MODELRELAY_INVOKE_TIMEOUT", 120*time.Second),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
