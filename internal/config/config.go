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
	Env           string
	PublicBaseURL string
	LogLevel      string
	BusinessID    string

	DatabaseURL    string
	UseMemoryStore bool

	RedisAddr           string
	RedisPassword       string
	RedisTLS            bool
	AppointmentCacheTTL time.Duration

	ServiceJWTSecret   string
	ServiceJWTAudience string
	CORSAllowedOrigins []string
	BookingRatePerSec  float64
	BookingRateBurst   int

	// Google Calendar
	GoogleCredentialsFile    string
	GoogleBusinessCalendarID string

	// Stripe Checkout
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string
	PaymentCurrency     string
	AllowFakePayments   bool

	// Appointment lifecycle
	HoldTimeoutSameDay    time.Duration
	HoldTimeoutAdvance    time.Duration
	ConfirmationLead      time.Duration
	ConfirmationTolerance time.Duration
	ReplyWindow           time.Duration
	WorkerInterval        time.Duration
	WorkerBatchSize       int

	// Calls to the calendar and payment gateway
	ExternalCallTimeout    time.Duration
	ExternalMaxAttempts    int
	ExternalBackoffInitial time.Duration

	// Notification delivery
	NotifyTransport     string
	NotifySQSQueueURL   string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	KafkaBrokers        string
	KafkaTopic          string
	OutboxPollInterval  time.Duration
	OutboxBatchSize     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		BusinessID:    getEnv("BUSINESS_ID", "default"),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		UseMemoryStore: getEnvAsBool("USE_MEMORY_STORE", false),

		RedisAddr:           getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisTLS:            getEnvAsBool("REDIS_TLS", false),
		AppointmentCacheTTL: getEnvAsDuration("APPOINTMENT_CACHE_TTL", 10*time.Minute),

		ServiceJWTSecret:   getEnv("SERVICE_JWT_SECRET", ""),
		ServiceJWTAudience: getEnv("SERVICE_JWT_AUDIENCE", "salon-booking"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		BookingRatePerSec:  getEnvAsFloat("BOOKING_RATE_PER_SEC", 2),
		BookingRateBurst:   getEnvAsInt("BOOKING_RATE_BURST", 10),

		GoogleCredentialsFile:    getEnv("GOOGLE_CALENDAR_CREDENTIALS_FILE", ""),
		GoogleBusinessCalendarID: getEnv("GOOGLE_BUSINESS_CALENDAR_ID", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeSuccessURL:    getEnv("STRIPE_SUCCESS_URL", ""),
		StripeCancelURL:     getEnv("STRIPE_CANCEL_URL", ""),
		PaymentCurrency:     strings.ToLower(getEnv("PAYMENT_CURRENCY", "usd")),
		AllowFakePayments:   getEnvAsBool("ALLOW_FAKE_PAYMENTS", false),

		HoldTimeoutSameDay:    getEnvAsDuration("HOLD_TIMEOUT_SAME_DAY", 30*time.Minute),
		HoldTimeoutAdvance:    getEnvAsDuration("HOLD_TIMEOUT_ADVANCE", 4*time.Hour),
		ConfirmationLead:      getEnvAsDuration("CONFIRMATION_LEAD", 48*time.Hour),
		ConfirmationTolerance: getEnvAsDuration("CONFIRMATION_TOLERANCE", time.Hour),
		ReplyWindow:           getEnvAsDuration("REPLY_WINDOW", 24*time.Hour),
		WorkerInterval:        getEnvAsDuration("WORKER_INTERVAL", time.Minute),
		WorkerBatchSize:       getEnvAsInt("WORKER_BATCH_SIZE", 50),

		ExternalCallTimeout:    getEnvAsDuration("EXTERNAL_CALL_TIMEOUT", 5*time.Second),
		ExternalMaxAttempts:    getEnvAsInt("EXTERNAL_MAX_ATTEMPTS", 3),
		ExternalBackoffInitial: getEnvAsDuration("EXTERNAL_BACKOFF_INITIAL", 200*time.Millisecond),

		NotifyTransport:     strings.ToLower(strings.TrimSpace(getEnv("NOTIFY_TRANSPORT", "log"))),
		NotifySQSQueueURL:   getEnv("NOTIFY_SQS_QUEUE_URL", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		KafkaBrokers:        getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "booking.notifications"),
		OutboxPollInterval:  getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:     getEnvAsInt("OUTBOX_BATCH_SIZE", 25),
	}
}

// IsProduction reports whether the service runs with production safeguards.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
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

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
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

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
