package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Master key for the credential vault (hex or base64, 32 bytes decoded).
	VaultMasterKey string

	// WhatsApp gateway credentials. The account SID + auth token pair is the
	// static fallback used when no per-account secret is stored.
	WhatsAppAPIBaseURL    string
	WhatsAppAccountSID    string
	WhatsAppAuthToken     string
	WhatsAppDefaultNumber string

	// Calendar provider OAuth client.
	CalendarClientID     string
	CalendarClientSecret string
	CalendarRedirectURI  string
	CalendarScopes       string
	CalendarSyncInterval time.Duration
	CalendarSyncWindow   time.Duration

	// Reminder scheduler.
	UseMemoryQueue        bool
	ReminderQueueURL      string
	ReminderPollInterval  time.Duration
	ReminderClaimBatch    int
	ReminderWorkerCount   int

	// Caller authentication.
	AuthJWTSecret string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	MediaBucket         string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		VaultMasterKey: getEnv("VAULT_MASTER_KEY", ""),

		WhatsAppAPIBaseURL:    getEnv("WHATSAPP_API_BASE_URL", "https://api.whatsapp-gateway.example.com"),
		WhatsAppAccountSID:    getEnv("WHATSAPP_ACCOUNT_SID", ""),
		WhatsAppAuthToken:     getEnv("WHATSAPP_AUTH_TOKEN", ""),
		WhatsAppDefaultNumber: getEnv("WHATSAPP_DEFAULT_NUMBER", ""),

		CalendarClientID:     getEnv("CALENDAR_CLIENT_ID", ""),
		CalendarClientSecret: getEnv("CALENDAR_CLIENT_SECRET", ""),
		CalendarRedirectURI:  getEnv("CALENDAR_REDIRECT_URI", ""),
		CalendarScopes:       getEnv("CALENDAR_SCOPES", "https://www.googleapis.com/auth/calendar.readonly"),
		CalendarSyncInterval: getEnvAsDuration("CALENDAR_SYNC_INTERVAL", 15*time.Minute),
		CalendarSyncWindow:   getEnvAsDuration("CALENDAR_SYNC_WINDOW", 30*24*time.Hour),

		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", false),
		ReminderQueueURL:     getEnv("REMINDER_QUEUE_URL", ""),
		ReminderPollInterval: getEnvAsDuration("REMINDER_POLL_INTERVAL", 30*time.Second),
		ReminderClaimBatch:   getEnvAsInt("REMINDER_CLAIM_BATCH", 50),
		ReminderWorkerCount:  getEnvAsInt("REMINDER_WORKER_COUNT", 2),

		AuthJWTSecret: getEnv("AUTH_JWT_SECRET", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		MediaBucket:         getEnv("MEDIA_BUCKET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
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
