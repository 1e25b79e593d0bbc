package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            int
	LogLevel        string
	StoreBackend    string // memory | postgres | redis
	DatabaseURL     string
	RedisAddress    string
	RedisPassword   string
	RedisDB         int
	NatsURL         string
	NatsToken       string
	APIToken        string
	CORSOrigins     []string
	FirecrawlURL    string
	OpenAIURL       string
	PollInterval    time.Duration
	MaxPollFailures int
	OptionsFile     string
}

// Load reads configuration from the environment, after merging a local
// .env file when one exists.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:            envInt("SITECHAT_PORT", 8760),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		StoreBackend:    envStr("SITECHAT_STORE", "memory"),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		RedisAddress:    envStr("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:   envStr("REDIS_PASSWORD", ""),
		RedisDB:         envInt("REDIS_DB", 0),
		NatsURL:         envStr("NATS_URL", ""),
		NatsToken:       envStr("NATS_TOKEN", ""),
		APIToken:        envStr("SITECHAT_API_TOKEN", ""),
		CORSOrigins:     envList("SITECHAT_CORS_ORIGINS", []string{"*"}),
		FirecrawlURL:    envStr("FIRECRAWL_URL", "https://api.firecrawl.dev"),
		OpenAIURL:       envStr("OPENAI_URL", "https://api.openai.com"),
		PollInterval:    envDuration("SITECHAT_POLL_INTERVAL", time.Second),
		MaxPollFailures: envInt("SITECHAT_MAX_POLL_FAILURES", 3),
		OptionsFile:     envStr("SITECHAT_OPTIONS_FILE", ""),
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

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
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
