package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr      string
	Postgres  Postgres
	Redis     Redis
	Kafka     Kafka
	Catalog   Catalog
	Directory Directory
	Batch     Batch
}

// Postgres holds the database connection settings.
type Postgres struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Redis holds connection settings for the catalog cache. An empty URL
// disables Redis entirely; the service then hits the catalog directly.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
}

// Kafka holds broker settings for the audit event stream. Empty brokers
// disable publishing; audit events then stay in the local store only.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Catalog points at the product catalog service used to resolve
// substitution candidates and conversion factors.
type Catalog struct {
	BaseURL string
	Timeout time.Duration
}

// Directory points at the school and product directory service used to
// resolve import rows. An empty base URL disables resolution; import rows
// must then carry their own display fields.
type Directory struct {
	BaseURL string
	Timeout time.Duration
}

// Batch tunes the sequential batch runner used by correction and release.
type Batch struct {
	ItemDelay   time.Duration
	MaxFailures int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr: envString("MERENDA_ADDR", ":8080"),
		Postgres: Postgres{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			CacheTTL:     envDuration("CATALOG_CACHE_TTL", 5*time.Minute),
		},
		Kafka: Kafka{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envString("KAFKA_AUDIT_TOPIC", "necessity-audit"),
		},
		Catalog: Catalog{
			BaseURL: os.Getenv("CATALOG_BASE_URL"),
			Timeout: envDuration("CATALOG_TIMEOUT", 10*time.Second),
		},
		Directory: Directory{
			BaseURL: os.Getenv("DIRECTORY_BASE_URL"),
			Timeout: envDuration("DIRECTORY_TIMEOUT", 10*time.Second),
		},
		Batch: Batch{
			ItemDelay:   envDuration("BATCH_ITEM_DELAY", 150*time.Millisecond),
			MaxFailures: envInt("BATCH_MAX_FAILURES", 0),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
