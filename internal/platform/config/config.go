// Package config builds runtime configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strings"
	"time"
)

// Server captures everything the process needs to wire itself up. Optional
// backends (Redis, Kafka) stay nil when their settings are empty; the
// in-memory equivalents take over.
type Server struct {
	Addr          string
	JWTSigningKey string

	PostgresDSN string
	RedisURL    string

	KafkaBrokers []string
	KafkaTopic   string

	// AuditWriteTimeout bounds each durable audit write.
	AuditWriteTimeout time.Duration
	// PendingWindow is how long an audit entry may stay pending before the
	// stale scanner marks it abandoned.
	PendingWindow time.Duration
	// StaleScanInterval is the scanner's sweep cadence.
	StaleScanInterval time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	addr := os.Getenv("AEGIS_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("AEGIS_JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default, override in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("AEGIS_KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}
	topic := os.Getenv("AEGIS_KAFKA_TOPIC")
	if topic == "" {
		topic = "aegis.audit.entries"
	}

	return Server{
		Addr:              addr,
		JWTSigningKey:     jwtSigningKey,
		PostgresDSN:       os.Getenv("AEGIS_POSTGRES_DSN"),
		RedisURL:          os.Getenv("AEGIS_REDIS_URL"),
		KafkaBrokers:      brokers,
		KafkaTopic:        topic,
		AuditWriteTimeout: durationEnv("AEGIS_AUDIT_WRITE_TIMEOUT", 5*time.Second),
		PendingWindow:     durationEnv("AEGIS_PENDING_WINDOW", 15*time.Minute),
		StaleScanInterval: durationEnv("AEGIS_STALE_SCAN_INTERVAL", time.Minute),
	}
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
