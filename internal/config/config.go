package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Env      string
	LogLevel string

	// System identity; used to namespace video rooms and settings.
	TenantID string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Practice management system (FHIR endpoint).
	PMSBaseURL      string
	PMSClientID     string
	PMSClientSecret string
	PMSDemoMode     bool

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Video conferencing.
	VideoProvider     string
	OpenViduBaseURL   string
	OpenViduSecret    string
	StaticRoomBaseURL string

	// Notification windows. Defaults follow clinical workflow: screening 3h
	// ahead, video setup 10 minutes ahead.
	ScreeningWindow time.Duration
	VideoWindow     time.Duration

	// Poll cadences for the three cycles.
	TodayPollInterval    time.Duration
	UpcomingPollInterval time.Duration
	InboundPollInterval  time.Duration
	UpcomingLookaheadDays int

	OpsListenAddr string

	// Operator alerting.
	SendGridAPIKey    string
	SendGridFromEmail string
	AlertEmail        string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TenantID: getEnv("TENANT_ID", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		PMSBaseURL:      getEnv("PMS_BASE_URL", ""),
		PMSClientID:     getEnv("PMS_CLIENT_ID", ""),
		PMSClientSecret: getEnv("PMS_CLIENT_SECRET", ""),
		PMSDemoMode:     getEnvAsBool("PMS_DEMO_MODE", false),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		VideoProvider:     strings.ToLower(strings.TrimSpace(getEnv("VIDEO_PROVIDER", "static"))),
		OpenViduBaseURL:   getEnv("OPENVIDU_BASE_URL", ""),
		OpenViduSecret:    getEnv("OPENVIDU_SECRET", ""),
		StaticRoomBaseURL: getEnv("STATIC_ROOM_BASE_URL", "https://meet.jit.si"),

		ScreeningWindow: getEnvAsDuration("SCREENING_WINDOW", 180*time.Minute),
		VideoWindow:     getEnvAsDuration("VIDEO_WINDOW", 10*time.Minute),

		TodayPollInterval:     getEnvAsDuration("TODAY_POLL_INTERVAL", 30*time.Second),
		UpcomingPollInterval:  getEnvAsDuration("UPCOMING_POLL_INTERVAL", 5*time.Minute),
		InboundPollInterval:   getEnvAsDuration("INBOUND_POLL_INTERVAL", 30*time.Second),
		UpcomingLookaheadDays: getEnvAsInt("UPCOMING_LOOKAHEAD_DAYS", 3),

		OpsListenAddr: getEnv("OPS_LISTEN_ADDR", ":9090"),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		AlertEmail:        getEnv("ALERT_EMAIL", ""),
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
