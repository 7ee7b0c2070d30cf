// Package config loads process configuration from the environment,
// generalized with the settings the orchestration core needs: worker
// sizing, media transport options, the join-token secret, and the
// optional cross-instance event relay.
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config is process-wide configuration loaded once at startup.
type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string

	JWTSecret string

	WorkerCount        int
	PortRangeBase      int
	PortRangePerWorker int

	AnnouncedIP string

	MaxPeersPerRoom int

	WorkerRestartBackoff time.Duration
	ICEConsentTimeout    time.Duration

	Redis RedisConfig
}

// RedisConfig configures the optional cross-instance event relay
// (internal/events). When Addr is empty the relay is disabled and
// fan-out stays purely in-process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads configuration from the environment, applying sensible
// defaults (worker count = max(2, cpuCount), port base 20000, 1000 ports
// per worker, maxPeers 150, 2s worker restart back-off, 20s ICE consent
// timeout).
func Load() *Config {
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		WorkerCount:        getEnvInt("WORKER_COUNT", defaultWorkerCount()),
		PortRangeBase:      getEnvInt("RTC_PORT_RANGE_BASE", 20000),
		PortRangePerWorker: getEnvInt("RTC_PORT_RANGE_PER_WORKER", 1000),

		AnnouncedIP: getEnv("ANNOUNCED_IP", ""),

		MaxPeersPerRoom: getEnvInt("MAX_PEERS_PER_ROOM", 150),

		WorkerRestartBackoff: getEnvDuration("WORKER_RESTART_BACKOFF", 2*time.Second),
		ICEConsentTimeout:    getEnvDuration("ICE_CONSENT_TIMEOUT", 20*time.Second),

		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
	}
}

// defaultWorkerCount picks max(2, cpuCount) media-engine workers.
func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n < 2 {
		return 2
	}
	return n
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return v
}
