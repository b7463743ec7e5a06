/*
Package config loads server configuration from the environment.

PURPOSE:
  Reads an optional .env file (godotenv), then environment variables, and
  falls back to defaults. Command-line flags in cmd/server override the
  few values operators change most (port, database, policy file).

VARIABLES:
  PORT                      HTTP port                       (8080)
  DB_PATH                   SQLite path, ":memory:" allowed (coaching.db)
  LOG_LEVEL / LOG_FORMAT    debug|info|warn|error, json|text (info, json)
  JWT_SECRET                HS256 secret for bearer tokens   (required outside dev)
  POLICY_FILE               initial policy JSON              (none: defaults)
  NOTIFY_DRIVER             log|kafka|amqp|none, comma list  (log)
  KAFKA_BROKERS / _TOPIC    broker list, topic               (-, coaching.events)
  AMQP_URL / AMQP_QUEUE     broker URL, queue                (-, coaching.events)
  REDIS_ADDR / _PASSWORD / _DB   capacity grid cache         (disabled when empty)
  CAPACITY_CACHE_TTL        grid cache lifetime              (30s)
  LOW_CREDIT_SCAN_INTERVAL  low-credit scan period, 0 = off  (6h)
  LEDGER_AUDIT_INTERVAL     ledger audit period, 0 = off     (1h)
  SHUTDOWN_TIMEOUT          graceful shutdown budget         (30s)
*/
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvPort       = "PORT"
	EnvDBPath     = "DB_PATH"
	EnvLogLevel   = "LOG_LEVEL"
	EnvLogFormat  = "LOG_FORMAT"
	EnvJWTSecret  = "JWT_SECRET"
	EnvPolicyFile = "POLICY_FILE"

	EnvNotifyDriver = "NOTIFY_DRIVER"
	EnvKafkaBrokers = "KAFKA_BROKERS"
	EnvKafkaTopic   = "KAFKA_TOPIC"
	EnvAMQPURL      = "AMQP_URL"
	EnvAMQPQueue    = "AMQP_QUEUE"

	EnvRedisAddr        = "REDIS_ADDR"
	EnvRedisPassword    = "REDIS_PASSWORD"
	EnvRedisDB          = "REDIS_DB"
	EnvCapacityCacheTTL = "CAPACITY_CACHE_TTL"

	EnvLowCreditScanInterval = "LOW_CREDIT_SCAN_INTERVAL"
	EnvLedgerAuditInterval   = "LEDGER_AUDIT_INTERVAL"
	EnvShutdownTimeout       = "SHUTDOWN_TIMEOUT"
)

const (
	DefaultPort                  = 8080
	DefaultDBPath                = "coaching.db"
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "json"
	DefaultNotifyDriver          = "log"
	DefaultTopic                 = "coaching.events"
	DefaultCapacityCacheTTL      = 30 * time.Second
	DefaultLowCreditScanInterval = 6 * time.Hour
	DefaultLedgerAuditInterval   = time.Hour
	DefaultShutdownTimeout       = 30 * time.Second
)

type Config struct {
	Port       int
	DBPath     string
	LogLevel   string
	LogFormat  string
	JWTSecret  string
	PolicyFile string

	NotifyDrivers []string
	KafkaBrokers  []string
	KafkaTopic    string
	AMQPURL       string
	AMQPQueue     string

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	CapacityCacheTTL time.Duration

	LowCreditScanInterval time.Duration
	LedgerAuditInterval   time.Duration
	ShutdownTimeout       time.Duration
}

// Load reads .env (if present) and the environment.
func Load() *Config {
	// A missing .env is normal in containers.
	_ = godotenv.Load()

	return &Config{
		Port:       getEnvNum(EnvPort, DefaultPort),
		DBPath:     getEnvStr(EnvDBPath, DefaultDBPath),
		LogLevel:   getEnvStr(EnvLogLevel, DefaultLogLevel),
		LogFormat:  getEnvStr(EnvLogFormat, DefaultLogFormat),
		JWTSecret:  getEnvStr(EnvJWTSecret, ""),
		PolicyFile: getEnvStr(EnvPolicyFile, ""),

		NotifyDrivers: getEnvList(EnvNotifyDriver, DefaultNotifyDriver),
		KafkaBrokers:  getEnvList(EnvKafkaBrokers, ""),
		KafkaTopic:    getEnvStr(EnvKafkaTopic, DefaultTopic),
		AMQPURL:       getEnvStr(EnvAMQPURL, ""),
		AMQPQueue:     getEnvStr(EnvAMQPQueue, DefaultTopic),

		RedisAddr:        getEnvStr(EnvRedisAddr, ""),
		RedisPassword:    getEnvStr(EnvRedisPassword, ""),
		RedisDB:          getEnvNum(EnvRedisDB, 0),
		CapacityCacheTTL: getEnvDuration(EnvCapacityCacheTTL, DefaultCapacityCacheTTL),

		LowCreditScanInterval: getEnvDuration(EnvLowCreditScanInterval, DefaultLowCreditScanInterval),
		LedgerAuditInterval:   getEnvDuration(EnvLedgerAuditInterval, DefaultLedgerAuditInterval),
		ShutdownTimeout:       getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),
	}
}

// HasDriver reports whether name is among the configured notify drivers.
func (c *Config) HasDriver(name string) bool {
	for _, d := range c.NotifyDrivers {
		if d == name {
			return true
		}
	}
	return false
}

func getEnvStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getEnvNum(key string, def int) int {
	if n, err := strconv.Atoi(getEnvStr(key, "")); err == nil {
		return n
	}
	return def
}

// getEnvDuration accepts Go durations ("90s", "6h"). "0" disables.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnvStr(key, "")
	if v == "" {
		return def
	}
	if v == "0" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func getEnvList(key, def string) []string {
	var out []string
	for _, part := range strings.Split(getEnvStr(key, def), ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
