package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port            string
	BaseURL         string
	BasePath        string
	DatabaseURL     string
	SessionSecret   []byte
	SessionTTL      time.Duration
	SecureCookies   bool
	MaxFileSize     int64 // 0 means unlimited
	MaxRequestSize  int64
	CleanupInterval time.Duration // 0 disables periodic cleanup
	RateLimitRPS    float64
	RateLimitBurst  int

	// Users are created on startup when no account exists yet.
	Users map[string]string
}

// fileConfig is the optional YAML file named by CONFIG_FILE. Environment
// variables override its values.
type fileConfig struct {
	Port                 string            `yaml:"port"`
	BaseURL              string            `yaml:"base_url"`
	BasePath             string            `yaml:"base_path"`
	DatabaseURL          string            `yaml:"database_url"`
	SessionSecret        string            `yaml:"session_secret"`
	SessionTTLHours      float64           `yaml:"session_ttl_hours"`
	MaxFileSize          int64             `yaml:"max_file_size"`
	MaxRequestSize       int64             `yaml:"max_request_size"`
	CleanupIntervalHours *float64          `yaml:"cleanup_interval_hours"`
	RateLimitRPS         float64           `yaml:"rate_limit_rps"`
	RateLimitBurst       int               `yaml:"rate_limit_burst"`
	Users                map[string]string `yaml:"users"`
}

// Load reads the optional config file, applies environment overrides and
// validates the result.
func Load() (*Config, error) {
	var fc fileConfig
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cleanup := time.Hour
	if fc.CleanupIntervalHours != nil {
		cleanup = hours(*fc.CleanupIntervalHours)
	}

	baseURL := getEnv("BASE_URL", or(fc.BaseURL, "http://localhost:8080"))
	cfg := &Config{
		Port:            getEnv("PORT", or(fc.Port, "8080")),
		BaseURL:         baseURL,
		BasePath:        getEnv("BASE_PATH", or(fc.BasePath, "./uploads")),
		DatabaseURL:     getEnv("DATABASE_URL", or(fc.DatabaseURL, "sqlite://./filedrop.db")),
		SessionTTL:      getEnvDuration("SESSION_TTL_HOURS", orHours(fc.SessionTTLHours, 24*time.Hour)),
		SecureCookies:   strings.HasPrefix(baseURL, "https://"),
		MaxFileSize:     getEnvInt64("MAX_FILE_SIZE", fc.MaxFileSize),
		MaxRequestSize:  getEnvInt64("MAX_REQUEST_SIZE", orInt64(fc.MaxRequestSize, 10<<30)), // 10GB
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL_HOURS", cleanup),
		RateLimitRPS:    getEnvFloat64("RATE_LIMIT_RPS", orFloat(fc.RateLimitRPS, 10)),
		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", orInt(fc.RateLimitBurst, 20)),
		Users:           fc.Users,
	}

	secret := getEnv("SESSION_SECRET", fc.SessionSecret)
	if secret == "" {
		generated, err := randomSecret()
		if err != nil {
			return nil, err
		}
		slog.Warn("SESSION_SECRET not set, generated one; sessions end on restart")
		secret = generated
	}
	cfg.SessionSecret = []byte(secret)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the server cannot run without. BasePath is
// made absolute.
func (c *Config) Validate() error {
	if c.BasePath == "" {
		return errors.New("base path is not configured")
	}
	abs, err := filepath.Abs(c.BasePath)
	if err != nil {
		return fmt.Errorf("invalid base path %q: %w", c.BasePath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("base path %q is not accessible: %w", abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("base path %q is not a directory", abs)
	}
	c.BasePath = abs

	if len(c.SessionSecret) < 32 {
		return errors.New("SESSION_SECRET must be at least 32 characters")
	}
	if c.MaxFileSize < 0 {
		return errors.New("MAX_FILE_SIZE must not be negative")
	}
	if c.MaxRequestSize <= 0 {
		return errors.New("MAX_REQUEST_SIZE must be positive")
	}
	if c.CleanupInterval < 0 {
		return errors.New("CLEANUP_INTERVAL_HOURS must not be negative")
	}
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat64(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if h, err := strconv.ParseFloat(val, 64); err == nil {
			return hours(h)
		}
	}
	return fallback
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func or(val, fallback string) string {
	if val != "" {
		return val
	}
	return fallback
}

func orInt(val, fallback int) int {
	if val != 0 {
		return val
	}
	return fallback
}

func orInt64(val, fallback int64) int64 {
	if val != 0 {
		return val
	}
	return fallback
}

func orFloat(val, fallback float64) float64 {
	if val != 0 {
		return val
	}
	return fallback
}

func orHours(h float64, fallback time.Duration) time.Duration {
	if h != 0 {
		return hours(h)
	}
	return fallback
}
