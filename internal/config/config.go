package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             int
	DatabaseURL      string
	LogLevel         string
	GatewayURL       string
	GatewayAPIKey    string
	GatewayModel     string
	RateLimitWindow  time.Duration
	RateLimitMax     int
	MaxMessageLength int
	QualifyThreshold int
	WebhookTimeout   time.Duration
	WebhookWorkers   int
	WebhookQueueSize int
	NatsURL          string
	NatsToken        string
	APIToken         string
	AllowedOrigins   []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:             envInt("PARRIT_PORT", 8780),
		DatabaseURL:      envStr("DATABASE_URL", ""),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		GatewayURL:       envStr("LLM_GATEWAY_URL", "https://ai.gateway.lovable.dev/v1/chat/completions"),
		GatewayAPIKey:    envStr("LLM_GATEWAY_API_KEY", ""),
		GatewayModel:     envStr("LLM_MODEL", "google/gemini-2.5-flash"),
		RateLimitWindow:  envDuration("RATE_LIMIT_WINDOW", 10*time.Minute),
		RateLimitMax:     envInt("RATE_LIMIT_MAX_REQUESTS", 20),
		MaxMessageLength: envInt("MAX_MESSAGE_LENGTH", 5000),
		QualifyThreshold: envInt("QUALIFY_MESSAGE_THRESHOLD", 8),
		WebhookTimeout:   envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookWorkers:   envInt("WEBHOOK_WORKERS", 4),
		WebhookQueueSize: envInt("WEBHOOK_QUEUE_SIZE", 64),
		NatsURL:          envStr("NATS_URL", ""),
		NatsToken:        envStr("NATS_TOKEN", ""),
		APIToken:         envStr("PARRIT_API_TOKEN", ""),
		AllowedOrigins:   envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
