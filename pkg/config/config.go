package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Rate limit store backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
	StoreNone   = "none"
)

type Config struct {
	// Server
	Environment  string
	Port         int
	BaseURL      string
	DashboardDir string

	// AWS
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	EC2InstanceID      string
	LogGroupName       string

	// Game server
	GameServerAddress string
	GameContainerName string

	// Authentication
	AuthSecret         string
	GitHubClientID     string
	GitHubClientSecret string
	AdminUsernames     []string
	AllowedOrigins     []string

	// Client addresses. Forwarding headers are honoured only from
	// TrustedProxies; BehindCloudflare reads CF-Connecting-IP instead.
	TrustedProxies   []string
	BehindCloudflare bool

	// Rate limiting
	RedisURL           string
	RateLimitStore     string
	RateLimitTTLBuffer time.Duration

	// Audit
	DatabaseURL        string
	AuditPurgeSchedule string

	// Remote command execution
	RconInitialDelay  time.Duration
	RconPollInterval  time.Duration
	RconMaxAttempts   int
	RconSubmitTimeout time.Duration

	// Observability
	LogLevel          string
	LogFormat         string
	LogStreamInterval time.Duration
	MetricsEnabled    bool
}

// Load builds the configuration from the environment. A .env file in the
// working directory is read first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:        getEnv("SERVER_ENV", "development"),
		Port:               getEnvInt("PORT", 8080),
		BaseURL:            strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		DashboardDir:       getEnv("DASHBOARD_DIR", ""),
		AWSRegion:          getEnv("AWS_REGION", "us-east-2"),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		EC2InstanceID:      getEnv("EC2_INSTANCE_ID", ""),
		LogGroupName:       getEnv("CLOUDWATCH_LOG_GROUP", "blockhaven-minecraft"),
		GameServerAddress:  getEnv("MC_SERVER_IP", ""),
		GameContainerName:  getEnv("MC_CONTAINER_NAME", "blockhaven-mc"),
		AuthSecret:         getEnv("AUTH_SECRET", ""),
		GitHubClientID:     getEnv("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),
		AdminUsernames:     lower(getEnvSlice("ADMIN_GITHUB_USERNAMES", []string{})),
		AllowedOrigins:     getEnvSlice("ALLOWED_ORIGINS", []string{}),
		TrustedProxies:     getEnvSlice("TRUSTED_PROXIES", nil),
		BehindCloudflare:   getEnvBool("BEHIND_CLOUDFLARE", false),
		RedisURL:           getEnv("REDIS_URL", ""),
		RateLimitTTLBuffer: time.Duration(getEnvInt("RATE_LIMIT_TTL_BUFFER_SECONDS", 60)) * time.Second,
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		AuditPurgeSchedule: getEnv("AUDIT_PURGE_SCHEDULE", "@daily"),
		RconInitialDelay:   time.Duration(getEnvInt("RCON_INITIAL_DELAY_MS", 1500)) * time.Millisecond,
		RconPollInterval:   time.Duration(getEnvInt("RCON_POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		RconMaxAttempts:    getEnvInt("RCON_MAX_ATTEMPTS", 10),
		RconSubmitTimeout:  time.Duration(getEnvInt("RCON_SUBMIT_TIMEOUT_SECONDS", 30)) * time.Second,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		LogStreamInterval:  time.Duration(getEnvInt("LOG_STREAM_INTERVAL_SECONDS", 5)) * time.Second,
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
	}

	cfg.RateLimitStore = getEnv("RATE_LIMIT_STORE", "")
	if cfg.RateLimitStore == "" {
		if cfg.RedisURL != "" {
			cfg.RateLimitStore = StoreRedis
		} else {
			cfg.RateLimitStore = StoreNone
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.EC2InstanceID == "" {
		return fmt.Errorf("EC2_INSTANCE_ID is required")
	}
	if c.AuthSecret != "" && len(c.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be at least 32 characters")
	}

	switch c.RateLimitStore {
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_STORE=redis")
		}
	case StoreMemory, StoreNone:
	default:
		return fmt.Errorf("RATE_LIMIT_STORE must be one of redis, memory, none (got %q)", c.RateLimitStore)
	}

	for _, proxy := range c.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", proxy)
		}
	}

	if c.RconMaxAttempts < 1 {
		return fmt.Errorf("RCON_MAX_ATTEMPTS must be at least 1")
	}
	if c.RconPollInterval < 0 || c.RconInitialDelay < 0 {
		return fmt.Errorf("RCON delays must not be negative")
	}

	// In production, require explicit allowed origins and a session secret
	if c.IsProduction() {
		if len(c.AllowedOrigins) == 0 {
			return fmt.Errorf("ALLOWED_ORIGINS is required in production")
		}
		if c.AuthSecret == "" {
			return fmt.Errorf("AUTH_SECRET is required in production")
		}
	}
	return nil
}

// IsProduction reports whether the server runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// AuthEnabled reports whether sessions can be issued and verified.
func (c *Config) AuthEnabled() bool {
	return c.AuthSecret != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

func lower(values []string) []string {
	for i, v := range values {
		values[i] = strings.ToLower(v)
	}
	return values
}
