package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Oracle   OracleConfig
	Fees     FeeConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
}

// ServerConfig deliberately has no write timeout: the notification stream
// endpoint holds its response open indefinitely.
type ServerConfig struct {
	Port        string
	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

type OracleConfig struct {
	URL         string
	MaxQuoteAge time.Duration
}

type FeeConfig struct {
	// ServiceFeeBps is the purchase surcharge in basis points (200 = 2%).
	ServiceFeeBps int64
	// RefundExcess returns overpayment to the buyer instead of retaining it.
	RefundExcess bool
}

type RedisConfig struct {
	Addr    string
	Enabled bool
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

type DatabaseConfig struct {
	DSN string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", ":8080"),
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
		Oracle: OracleConfig{
			URL:         getEnv("ORACLE_URL", "http://localhost:8090/rate"),
			MaxQuoteAge: time.Duration(getEnvInt("ORACLE_MAX_QUOTE_AGE_SECONDS", 300)) * time.Second,
		},
		Fees: FeeConfig{
			ServiceFeeBps: int64(getEnvInt("SERVICE_FEE_BPS", 200)),
			RefundExcess:  getEnvBool("REFUND_EXCESS_PAYMENT", false),
		},
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
			Enabled: getEnvBool("REDIS_ENABLED", false),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			Topic:   getEnv("KAFKA_TOPIC_NOTIFICATIONS", "escrow.notifications"),
			Enabled: getEnvBool("KAFKA_ENABLED", false),
		},
		Database: DatabaseConfig{
			DSN: getEnv("SQLITE_DSN", "file:escrow.db?cache=shared"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
