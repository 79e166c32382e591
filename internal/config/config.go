package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	SessionSecret  string // HS256 secret used to verify session tokens
	BootstrapToken string // optional token resolved at startup (empty = start signed out)

	SeedFile  string // optional path to a YAML bookmark seed file (empty = no seeding)
	SeedOwner string // user the seed file is imported for (required when SeedFile is set)

	// Redis
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("MARQUE_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("MARQUE_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("MARQUE_LOG_LEVEL", "info"),
		PrettyLog: mustBool("MARQUE_PRETTY_LOG", true),

		// Identity
		SessionSecret:  requireEnv("MARQUE_SESSION_SECRET"),
		BootstrapToken: getenv("MARQUE_BOOTSTRAP_TOKEN", ""),

		// Seed import
		SeedFile:  getenv("MARQUE_SEED_FILE", ""),
		SeedOwner: getenv("MARQUE_SEED_OWNER", ""),

		// Redis settings
		RedisAddr:             requireEnv("MARQUE_REDIS_ADDR"),
		RedisUser:             getenv("MARQUE_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("MARQUE_REDIS_PASSWORD_REQUIRED", true),
		RedisPassword:         getenv("MARQUE_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("MARQUE_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),
	}

	if cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: MARQUE_REDIS_PASSWORD is required when MARQUE_REDIS_PASSWORD_REQUIRED=true")
	}

	if cfg.SeedFile != "" && cfg.SeedOwner == "" {
		panic("❌ FATAL: MARQUE_SEED_OWNER is required when MARQUE_SEED_FILE is set")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		cfgCopy.SessionSecret = "***REDACTED***"
		cfgCopy.BootstrapToken = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic("❌ FATAL: Required environment variable " + key + " is not set")
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
