package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory    = "memory"
	StoreFirebase  = "firebase"
	StorePostgREST = "postgrest"
)

var ErrMissingBrokerURL = errors.New("MQTT_URL is required")

type Config struct {
	// Broker
	MQTTURL            string
	MQTTUsername       string
	MQTTPassword       string
	MQTTClientID       string
	MQTTRetryInterval  time.Duration
	MQTTConnectTimeout time.Duration

	// Opaque user identifier from the external auth flow
	UserID string

	// Persistence
	StoreBackend               string
	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string
	PostgRESTURL               string
	PostgRESTAPIKey            string

	// Alert bridge timers
	AlertEvaluateInterval time.Duration
	AlertRefreshInterval  time.Duration

	// Analytics timers
	AnalyticsComputeInterval time.Duration
	AnalyticsSaveInterval    time.Duration
	AnalyticsHistoryLimit    int

	// Insight generator
	InsightAPIKey   string
	InsightAPIURL   string
	InsightModel    string
	InsightInterval time.Duration

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
	RabbitMQURL      string
	RabbitMQExchange string

	HTTPAddr string
	LogLevel string
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		MQTTURL:            strings.TrimSpace(getEnv("MQTT_URL", "")),
		MQTTUsername:       getEnv("MQTT_USERNAME", ""),
		MQTTPassword:       getEnv("MQTT_PASSWORD", ""),
		MQTTClientID:       getEnv("MQTT_CLIENT_ID", "greentech-"+uuid.NewString()[:8]),
		MQTTRetryInterval:  getEnvDuration("MQTT_RETRY_INTERVAL", 5*time.Second),
		MQTTConnectTimeout: getEnvDuration("MQTT_CONNECT_TIMEOUT", 10*time.Second),

		UserID: getEnv("USER_ID", ""),

		StoreBackend:               strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		FirebaseDbUrl:              getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		PostgRESTURL:               getEnv("POSTGREST_URL", ""),
		PostgRESTAPIKey:            getEnv("POSTGREST_API_KEY", ""),

		AlertEvaluateInterval: getEnvDuration("ALERT_EVALUATE_INTERVAL", 5*time.Second),
		AlertRefreshInterval:  getEnvDuration("ALERT_REFRESH_INTERVAL", 30*time.Second),

		AnalyticsComputeInterval: getEnvDuration("ANALYTICS_COMPUTE_INTERVAL", 5*time.Second),
		AnalyticsSaveInterval:    getEnvDuration("ANALYTICS_SAVE_INTERVAL", 60*time.Second),
		AnalyticsHistoryLimit:    getEnvInt("ANALYTICS_HISTORY_LIMIT", 100),

		InsightAPIKey:   getEnv("INSIGHT_API_KEY", ""),
		InsightAPIURL:   getEnv("INSIGHT_API_URL", "https://api.openai.com/v1"),
		InsightModel:    getEnv("INSIGHT_MODEL", "gpt-4o-mini"),
		InsightInterval: getEnvDuration("INSIGHT_INTERVAL", 120*time.Second),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "greentech.events"),

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return config, nil
}

// Validate reports configuration that no retry can fix.
func (c *Config) Validate() error {
	if c.MQTTURL == "" {
		return ErrMissingBrokerURL
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StoreFirebase:
		if c.FirebaseDbUrl == "" || c.FirebaseServiceAccountJSON == "" {
			return fmt.Errorf("store backend %q requires FIREBASE_DB_URL and FIREBASE_SERVICE_ACCOUNT_JSON", c.StoreBackend)
		}
	case StorePostgREST:
		if c.PostgRESTURL == "" {
			return fmt.Errorf("store backend %q requires POSTGREST_URL", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.TelegramEnabled() {
		if _, err := strconv.ParseInt(c.TelegramChatID, 10, 64); err != nil {
			return fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
	}

	for name, d := range map[string]time.Duration{
		"MQTT_RETRY_INTERVAL":        c.MQTTRetryInterval,
		"ALERT_EVALUATE_INTERVAL":    c.AlertEvaluateInterval,
		"ALERT_REFRESH_INTERVAL":     c.AlertRefreshInterval,
		"ANALYTICS_COMPUTE_INTERVAL": c.AnalyticsComputeInterval,
		"ANALYTICS_SAVE_INTERVAL":    c.AnalyticsSaveInterval,
		"INSIGHT_INTERVAL":           c.InsightInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	return nil
}

func (c *Config) InsightEnabled() bool {
	return c.InsightAPIKey != ""
}

func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

func (c *Config) RabbitMQEnabled() bool {
	return c.RabbitMQURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
