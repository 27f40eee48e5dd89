// Package config assembles the immutable runtime Config once at the
// process boundary: environment variables first, an optional YAML
// profile overlay second, with documented defaults filling in the
// rest.
package config

import (
	"os"
	"strconv"
)

// Config holds every tunable the Strategy Runtime and CLI need. It is
// built once by Load and never mutated afterward.
type Config struct {
	LogLevel string

	OrderingMode       string
	ContainmentPolicy  string
	MaxErrors          uint64
	ErrorRingCapacity  int
	CheckpointsEnabled bool
	CheckpointInterval uint64
	CheckpointDir      string
	CheckpointBackend  string // "file" | "sqlite" | "postgres"
	CheckpointDSN      string

	QueueHigh uint64
	QueueLow  uint64
	QueueMax  uint64
	YieldEvery uint64

	ManifestCacheCapacity int
	ManifestCacheTTLSecs  int
	RedisAddr             string

	OutputDir string

	OTLPEndpoint    string
	OTLPEnabled     bool
	OTLPInsecure    bool
	OTLPSampleRate  float64
}

// Load reads configuration from environment variables, matching the
// teacher's Load() pattern: every variable has a documented default so
// the process never requires a config file to start.
func Load() *Config {
	return &Config{
		LogLevel: getEnv("REPLAYCORE_LOG_LEVEL", "INFO"),

		OrderingMode:       getEnv("REPLAYCORE_ORDERING_MODE", "STRICT"),
		ContainmentPolicy:  getEnv("REPLAYCORE_ERROR_POLICY", "FAIL_FAST"),
		MaxErrors:          getEnvUint("REPLAYCORE_MAX_ERRORS", 1000),
		ErrorRingCapacity:  getEnvInt("REPLAYCORE_ERROR_RING_CAPACITY", 64),
		CheckpointsEnabled: getEnvBool("REPLAYCORE_CHECKPOINTS_ENABLED", false),
		CheckpointInterval: getEnvUint("REPLAYCORE_CHECKPOINT_INTERVAL", 10000),
		CheckpointDir:      getEnv("REPLAYCORE_CHECKPOINT_DIR", "./checkpoints"),
		CheckpointBackend:  getEnv("REPLAYCORE_CHECKPOINT_BACKEND", "file"),
		CheckpointDSN:      getEnv("REPLAYCORE_CHECKPOINT_DSN", ""),

		QueueHigh:  getEnvUint("REPLAYCORE_QUEUE_HIGH", 1500),
		QueueLow:   getEnvUint("REPLAYCORE_QUEUE_LOW", 500),
		QueueMax:   getEnvUint("REPLAYCORE_QUEUE_MAX", 2000),
		YieldEvery: getEnvUint("REPLAYCORE_YIELD_EVERY", 500),

		ManifestCacheCapacity: getEnvInt("REPLAYCORE_MANIFEST_CACHE_CAPACITY", 256),
		ManifestCacheTTLSecs:  getEnvInt("REPLAYCORE_MANIFEST_CACHE_TTL_SECS", 300),
		RedisAddr:             getEnv("REPLAYCORE_REDIS_ADDR", ""),

		OutputDir: getEnv("REPLAYCORE_OUTPUT_DIR", "./output"),

		OTLPEndpoint:   getEnv("REPLAYCORE_OTLP_ENDPOINT", "localhost:4317"),
		OTLPEnabled:    getEnvBool("REPLAYCORE_OTLP_ENABLED", false),
		OTLPInsecure:   getEnvBool("REPLAYCORE_OTLP_INSECURE", true),
		OTLPSampleRate: getEnvFloat("REPLAYCORE_OTLP_SAMPLE_RATE", 1.0),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}

func getEnvInt(key string, fallback int) int {
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

func getEnvUint(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}
