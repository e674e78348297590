package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	MetricsPort   string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Payment gateway
	GatewayBaseURL        string
	GatewayAPIKey         string
	GatewayWebhookSecret  string
	RefundRetryAttempts   int
	RefundRetryBaseDelay  time.Duration
	RefundPolicyWindow    time.Duration
	AdminJWTSecret        string

	// Webhook edge protection
	WebhookRateLimit float64
	WebhookBurst     int

	// Lifecycle sweeps
	SweepInterval          time.Duration
	DefensiveSweepInterval time.Duration
	PaymentGracePeriod     time.Duration
	ReadyForCallWindow     time.Duration
	NoShowGracePeriod      time.Duration
	SessionCeiling         time.Duration
	StuckStateThreshold    time.Duration
	ReminderOffsets        []time.Duration
	SweepBatchSize         int

	// Slot locking
	SlotLockTTL time.Duration

	// Event delivery
	EventQueueURL      string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	AWSRegion          string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		MetricsPort:   getEnv("METRICS_PORT", "9091"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		GatewayBaseURL:       getEnv("GATEWAY_BASE_URL", "https://api.stripe.com"),
		GatewayAPIKey:        getEnv("GATEWAY_API_KEY", ""),
		GatewayWebhookSecret: getEnv("GATEWAY_WEBHOOK_SECRET", ""),
		RefundRetryAttempts:  getEnvAsInt("REFUND_RETRY_ATTEMPTS", 3),
		RefundRetryBaseDelay: getEnvAsDuration("REFUND_RETRY_BASE_DELAY", 2*time.Second),
		RefundPolicyWindow:   getEnvAsDuration("REFUND_POLICY_WINDOW", 24*time.Hour),
		AdminJWTSecret:       getEnv("ADMIN_JWT_SECRET", ""),

		WebhookRateLimit: getEnvAsFloat("WEBHOOK_RATE_LIMIT", 20),
		WebhookBurst:     getEnvAsInt("WEBHOOK_BURST", 40),

		SweepInterval:          getEnvAsDuration("SWEEP_INTERVAL", 15*time.Minute),
		DefensiveSweepInterval: getEnvAsDuration("DEFENSIVE_SWEEP_INTERVAL", 5*time.Minute),
		PaymentGracePeriod:     getEnvAsDuration("PAYMENT_GRACE_PERIOD", 30*time.Minute),
		ReadyForCallWindow:     getEnvAsDuration("READY_FOR_CALL_WINDOW", 15*time.Minute),
		NoShowGracePeriod:      getEnvAsDuration("NO_SHOW_GRACE_PERIOD", 15*time.Minute),
		SessionCeiling:         getEnvAsDuration("SESSION_CEILING", 2*time.Hour),
		StuckStateThreshold:    getEnvAsDuration("STUCK_STATE_THRESHOLD", 24*time.Hour),
		ReminderOffsets:        getEnvAsDurations("REMINDER_OFFSETS", []time.Duration{24 * time.Hour, 1 * time.Hour}),
		SweepBatchSize:         getEnvAsInt("SWEEP_BATCH_SIZE", 100),

		SlotLockTTL: getEnvAsDuration("SLOT_LOCK_TTL", 10*time.Second),

		EventQueueURL:      getEnv("EVENT_QUEUE_URL", ""),
		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    getEnvAsInt("OUTBOX_BATCH_SIZE", 25),
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDurations parses a comma-separated list of durations.
func getEnvAsDurations(key string, defaultValue []time.Duration) []time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []time.Duration
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
