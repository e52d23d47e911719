package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the Yummy engine.
type Config struct {
	// Required variables
	JWTSecret string
	Port      string

	// JWT
	JWTAlgorithm  string
	TokenLifetime time.Duration

	// Replicated state store
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string

	// DB collaborator (spec.md §6 external DB; implemented concretely here)
	DBDsn string

	// Session lifecycle timings
	HeartbeatInterval            time.Duration
	HeartbeatTimeout              time.Duration
	ConnectionRestoreWaitTimeout time.Duration

	// Meta limits
	MaxUserMeta int
	MaxRoomMeta int

	// Identity / integration
	ServerName      string
	APIKeyName      string
	IntegrationKey  string
	PluginScriptPath string

	// Ambient
	GoEnv          string
	LogLevel       string
	AllowedOrigins string

	// TLS (consumed by the process entrypoint only)
	TLSCertPath string
	TLSKeyPath  string

	// Rate limits (Defaults: M = Minute, H = Hour)
	RateLimitAPIGlobal   string
	RateLimitAPIPublic   string
	RateLimitAPIRooms    string
	RateLimitAPIMessages string
	RateLimitWsIP        string
	RateLimitWsUser      string
}

// ValidateEnv validates all required environment variables and returns a Config.
// Returns a single aggregated error listing every problem, not one-at-a-time.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: JWT_SECRET (minimum 32 characters)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Optional: JWT_ALGORITHM (defaults to HS256)
	cfg.JWTAlgorithm = getEnvOrDefault("JWT_ALGORITHM", "HS256")
	if cfg.JWTAlgorithm != "HS256" && cfg.JWTAlgorithm != "RS256" {
		errors = append(errors, fmt.Sprintf("JWT_ALGORITHM must be 'HS256' or 'RS256' (got '%s')", cfg.JWTAlgorithm))
	}

	var err error
	cfg.TokenLifetime, err = parseDurationOrDefault("TOKEN_LIFETIME", 24*time.Hour)
	if err != nil {
		errors = append(errors, err.Error())
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}
	cfg.RedisPrefix = getEnvOrDefault("REDIS_PREFIX", "yummy")

	cfg.DBDsn = getEnvOrDefault("DB_DSN", "file::memory:?cache=shared")

	cfg.HeartbeatInterval, err = parseDurationOrDefault("HEARTBEAT_INTERVAL", 15*time.Second)
	if err != nil {
		errors = append(errors, err.Error())
	}
	cfg.HeartbeatTimeout, err = parseDurationOrDefault("HEARTBEAT_TIMEOUT", 45*time.Second)
	if err != nil {
		errors = append(errors, err.Error())
	}
	cfg.ConnectionRestoreWaitTimeout, err = parseDurationOrDefault("CONNECTION_RESTORE_WAIT_TIMEOUT", 30*time.Second)
	if err != nil {
		errors = append(errors, err.Error())
	}

	cfg.MaxUserMeta, err = parseIntOrDefault("MAX_USER_META", 64)
	if err != nil {
		errors = append(errors, err.Error())
	}
	cfg.MaxRoomMeta, err = parseIntOrDefault("MAX_ROOM_META", 64)
	if err != nil {
		errors = append(errors, err.Error())
	}

	cfg.ServerName = getEnvOrDefault("SERVER_NAME", "yummy")
	cfg.APIKeyName = os.Getenv("API_KEY_NAME")
	cfg.IntegrationKey = os.Getenv("INTEGRATION_KEY")
	cfg.PluginScriptPath = os.Getenv("PLUGIN_SCRIPT_PATH")

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.TLSCertPath = os.Getenv("TLS_CERT_PATH")
	cfg.TLSKeyPath = os.Getenv("TLS_KEY_PATH")

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitAPIMessages = getEnvOrDefault("RATE_LIMIT_API_MESSAGES", "500-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	if parts[0] == "" {
		return false
	}

	return true
}

func parseDurationOrDefault(key string, def time.Duration) (time.Duration, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s must be a valid duration (got '%s')", key, raw)
	}
	return d, nil
}

func parseIntOrDefault(key string, def int) (int, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def, fmt.Errorf("%s must be a non-negative integer (got '%s')", key, raw)
	}
	return n, nil
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated")
	slog.Info("configuration",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"jwt_algorithm", cfg.JWTAlgorithm,
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"redis_prefix", cfg.RedisPrefix,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"token_lifetime", cfg.TokenLifetime,
		"max_user_meta", cfg.MaxUserMeta,
		"max_room_meta", cfg.MaxRoomMeta,
		"rate_limit_api_global", cfg.RateLimitAPIGlobal,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
