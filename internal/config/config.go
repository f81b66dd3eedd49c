package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port    int
	Host    string
	SiteURL string

	// Database (superuser connection; migrations create the anon and
	// authenticated roles used for row-level security)
	DatabaseURL string

	// Auth
	JWTSecret          string
	JWTExpiry          int // seconds
	MagicLinkExpiry    int // seconds
	MagicLinkRateLimit float64
	MagicLinkRateBurst int

	// Email
	SendgridAPIKey string
	EmailFrom      string
	EmailFromName  string

	// Avatar storage (S3-compatible)
	S3Endpoint      string
	S3Region        string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	AvatarPublicURL string
	AvatarMaxSizeKB int

	// CORS
	AllowedOrigins string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnvInt("PORT", 8080),
		Host:               getEnv("HOST", "0.0.0.0"),
		SiteURL:            getEnv("SITE_URL", "http://localhost:8080"),
		DatabaseURL:        mustGetEnv("DATABASE_URL"),
		JWTSecret:          mustGetEnv("JWT_SECRET"),
		JWTExpiry:          getEnvInt("JWT_EXPIRY", 3600),
		MagicLinkExpiry:    getEnvInt("MAGIC_LINK_EXPIRY", 900),
		MagicLinkRateLimit: getEnvFloat("MAGIC_LINK_RATE_LIMIT", 1),
		MagicLinkRateBurst: getEnvInt("MAGIC_LINK_RATE_BURST", 5),
		SendgridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:          getEnv("EMAIL_FROM", "no-reply@localhost"),
		EmailFromName:      getEnv("EMAIL_FROM_NAME", "Auth Profiles"),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3Region:           getEnv("S3_REGION", "us-east-1"),
		S3Bucket:           getEnv("S3_BUCKET", ""),
		S3AccessKey:        getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:        getEnv("S3_SECRET_KEY", ""),
		AvatarPublicURL:    getEnv("AVATAR_PUBLIC_URL", ""),
		AvatarMaxSizeKB:    getEnvInt("AVATAR_MAX_SIZE_KB", 2048),
		AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "*"),
	}

	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.MagicLinkExpiry < 60 {
		return nil, fmt.Errorf("MAGIC_LINK_EXPIRY must be at least 60 seconds")
	}

	// Avatar storage config: all-or-nothing
	s3Set := cfg.S3Bucket != "" || cfg.S3AccessKey != "" || cfg.S3SecretKey != ""
	if s3Set && (cfg.S3Bucket == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		return nil, fmt.Errorf("S3_BUCKET, S3_ACCESS_KEY and S3_SECRET_KEY must all be set to enable avatar storage")
	}

	return cfg, nil
}

// AvatarStorageEnabled reports whether the S3 avatar store is configured.
func (c *Config) AvatarStorageEnabled() bool {
	return c.S3Bucket != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mustGetEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
