// Package config loads runtime settings from .env, the environment, and a
// port flag, in that order of increasing precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	Env            string
	JWTSecret      string
	DatabaseURL    string
	AllowedOrigins []string
	DailyLimit     int
	Gemini         GeminiConfig
	Archive        ArchiveConfig
}

type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int32
	Timeout     time.Duration
	RPS         float64
}

type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// IsLocal reports development mode (console logging, relaxed defaults).
func (c *Config) IsLocal() bool {
	return strings.EqualFold(c.Env, "local")
}

var portFlag = flag.String("port", ":8080", "server port")

func Load() (*Config, error) {
	_ = godotenv.Load()

	if !flag.Parsed() {
		flag.Parse()
	}
	port := *portFlag
	if envPort := strings.TrimSpace(os.Getenv("PORT")); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			port = envPort
		} else {
			port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		if !strings.EqualFold(env, "local") {
			return nil, fmt.Errorf("config: JWT_SECRET is required outside local mode")
		}
		secret = "local-dev-secret"
	}

	// An empty allowlist means CORS admits any origin, so outside local
	// mode it must be set explicitly.
	origins := splitCSV(os.Getenv("ALLOWED_ORIGINS"))
	if len(origins) == 0 && !strings.EqualFold(env, "local") {
		return nil, fmt.Errorf("config: ALLOWED_ORIGINS is required outside local mode")
	}

	cfg := &Config{
		Port:           port,
		Env:            env,
		JWTSecret:      secret,
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AllowedOrigins: origins,
		DailyLimit:     envInt("DAILY_AI_LIMIT", 5),
		Gemini:         loadGeminiConfig(),
		Archive:        loadArchiveConfig(env),
	}
	return cfg, nil
}

func loadGeminiConfig() GeminiConfig {
	return GeminiConfig{
		APIKey:      strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:       firstNonEmpty(os.Getenv("GEMINI_MODEL"), "gemini-2.0-flash"),
		Temperature: float32(envFloat("GEMINI_TEMPERATURE", 0.7)),
		MaxTokens:   int32(envInt("GEMINI_MAX_TOKENS", 1024)),
		Timeout:     envDuration("GEMINI_TIMEOUT", 8*time.Second),
		RPS:         envFloat("GEMINI_RPS", 2),
	}
}

func loadArchiveConfig(env string) ArchiveConfig {
	endpoint := strings.TrimSpace(os.Getenv("ARCHIVE_S3_ENDPOINT"))
	if endpoint == "" && strings.EqualFold(env, "local") {
		endpoint = strings.TrimSpace(os.Getenv("ARCHIVE_MINIO_ENDPOINT"))
	}
	return ArchiveConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(os.Getenv("ARCHIVE_S3_REGION"), "us-east-1"),
		AccessKey: firstNonEmpty(os.Getenv("ARCHIVE_S3_ACCESS_KEY"), os.Getenv("MINIO_ROOT_USER")),
		SecretKey: firstNonEmpty(os.Getenv("ARCHIVE_S3_SECRET_KEY"), os.Getenv("MINIO_ROOT_PASSWORD")),
		Bucket:    firstNonEmpty(os.Getenv("ARCHIVE_S3_BUCKET"), "reframe-reports"),
		UseSSL:    envBool("ARCHIVE_S3_USE_SSL", !strings.EqualFold(env, "local")),
	}
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64); err == nil {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key))); err == nil && v > 0 {
		return v
	}
	return fallback
}
