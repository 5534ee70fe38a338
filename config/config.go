package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	DBURL          string
	AppDBURL       string
	LogLevel       string
	AllowedOrigins []string

	// AMQP mirroring is optional; empty URL disables it.
	AMQPURL      string
	AMQPExchange string

	// Session lifecycle tuning.
	PairingTimeout time.Duration
	ConnectTimeout time.Duration
	ReconnectBase  time.Duration
	ReconnectCap   time.Duration
	ReconnectMax   int
	StopGrace      time.Duration
	ConsumerBuffer int

	// Outbound queue tuning.
	QueueMaxDepth  int
	SendRate       float64
	SendBurst      int
	SendTimeout    time.Duration
	SendRetryDelay time.Duration
	DedupWindow    time.Duration
	AllowBuffering bool

	// Webhook delivery tuning.
	WebhookWorkers     int
	WebhookQueueSize   int
	WebhookTimeout     time.Duration
	WebhookMaxAttempts int
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "2121"),
		DBURL:          getEnv("DATABASE_URL", ""),
		AppDBURL:       getEnv("APP_DATABASE_URL", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:8080"), ","),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "gowa.events"),

		PairingTimeout: getEnvDuration("PAIRING_TIMEOUT", 3*time.Minute),
		ConnectTimeout: getEnvDuration("CONNECT_TIMEOUT", 30*time.Second),
		ReconnectBase:  getEnvDuration("RECONNECT_BASE", 2*time.Second),
		ReconnectCap:   getEnvDuration("RECONNECT_CAP", time.Minute),
		ReconnectMax:   getEnvInt("RECONNECT_MAX", 10),
		StopGrace:      getEnvDuration("STOP_GRACE", 10*time.Second),
		ConsumerBuffer: getEnvInt("CONSUMER_BUFFER", 64),

		QueueMaxDepth:  getEnvInt("QUEUE_MAX_DEPTH", 256),
		SendRate:       getEnvFloat("SEND_RATE", 1),
		SendBurst:      getEnvInt("SEND_BURST", 3),
		SendTimeout:    getEnvDuration("SEND_TIMEOUT", 30*time.Second),
		SendRetryDelay: getEnvDuration("SEND_RETRY_DELAY", 5*time.Second),
		DedupWindow:    getEnvDuration("DEDUP_WINDOW", 10*time.Minute),
		AllowBuffering: getEnvBool("ALLOW_BUFFERING", false),

		WebhookWorkers:     getEnvInt("WEBHOOK_WORKERS", 4),
		WebhookQueueSize:   getEnvInt("WEBHOOK_QUEUE_SIZE", 512),
		WebhookTimeout:     getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookMaxAttempts: getEnvInt("WEBHOOK_MAX_ATTEMPTS", 5),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
