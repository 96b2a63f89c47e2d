package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxOpenPerOffice caps open tickets per office unless overridden.
const DefaultMaxOpenPerOffice = 999

// Server captures process level configuration for the queue engine.
type Server struct {
	Addr          string
	JWTSigningKey string
	CatalogPath   string

	// PostgresDSN selects the postgres ticket store when non-empty;
	// otherwise the in-memory store is used.
	PostgresDSN string

	Redis     RedisConfig
	Kafka     KafkaConfig
	Estimator EstimatorConfig

	// MaxOpenPerOffice caps open (waiting or serving) tickets per office.
	// Zero disables the cap.
	MaxOpenPerOffice int
}

// RedisConfig configures the optional redis event bridge.
type RedisConfig struct {
	URL          string
	Channel      string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional kafka event stream.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// EstimatorConfig tunes the wait-time estimator.
type EstimatorConfig struct {
	// Window is the number of recent completions kept per (office, service)
	// for the rolling average.
	Window int
	// MinSamples is the completion count below which the estimator falls
	// back to the catalog duration.
	MinSamples int
	Floor      time.Duration
	Ceiling    time.Duration
	// Fallback is used when the catalog carries no duration for a service.
	Fallback time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("QUEUE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	catalogPath := os.Getenv("QUEUE_CATALOG_PATH")
	if catalogPath == "" {
		catalogPath = "catalog.yaml"
	}

	channel := os.Getenv("QUEUE_REDIS_CHANNEL")
	if channel == "" {
		channel = "queue.events"
	}

	topic := os.Getenv("QUEUE_KAFKA_TOPIC")
	if topic == "" {
		topic = "queue.ticket-events"
	}
	var brokers []string
	if raw := os.Getenv("QUEUE_KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}

	return Server{
		Addr:          addr,
		JWTSigningKey: jwtSigningKey,
		CatalogPath:   catalogPath,
		PostgresDSN:   os.Getenv("QUEUE_POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:          os.Getenv("QUEUE_REDIS_URL"),
			Channel:      channel,
			PoolSize:     envInt("QUEUE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("QUEUE_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: brokers,
			Topic:   topic,
		},
		Estimator: EstimatorConfig{
			Window:     envInt("QUEUE_ESTIMATOR_WINDOW", 20),
			MinSamples: envInt("QUEUE_ESTIMATOR_MIN_SAMPLES", 3),
			Floor:      1 * time.Minute,
			Ceiling:    time.Duration(envInt("QUEUE_ESTIMATOR_CEILING_MIN", 240)) * time.Minute,
			Fallback:   time.Duration(envInt("QUEUE_ESTIMATOR_FALLBACK_MIN", 30)) * time.Minute,
		},
		MaxOpenPerOffice: envInt("QUEUE_MAX_OPEN_PER_OFFICE", DefaultMaxOpenPerOffice),
	}
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
