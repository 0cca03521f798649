package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every process-wide setting, read from the environment exactly
// once in main and passed down explicitly.
type Config struct {
	Port      string
	JWTSecret string

	GoogleClientID        string
	GoogleClientSecret    string
	AllowUnverifiedGoogle bool

	DBDSN     string
	StoreFile string

	UploadBase    string
	PublicBaseURL string
	S3Bucket      string

	GeminiAPIKey string
	GeminiModel  string

	CORSOrigins     []string
	RateLimitWindow time.Duration
	RateLimitMax    int
}

func loadConfig() Config {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-insecure-secret-change" // development fallback
	}
	port := envOr("PORT", "8081")
	return Config{
		Port:      port,
		JWTSecret: secret,

		GoogleClientID:        os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:    os.Getenv("GOOGLE_CLIENT_SECRET"),
		AllowUnverifiedGoogle: envBool("GOOGLE_ALLOW_UNVERIFIED"),

		DBDSN:     os.Getenv("DB_DSN"),
		StoreFile: envOr("STORE_FILE", "data/users.json"),

		UploadBase:    envOr("UPLOAD_BASE", "uploads"),
		PublicBaseURL: envOr("PUBLIC_BASE_URL", "http://localhost:"+port),
		S3Bucket:      os.Getenv("S3_BUCKET"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  os.Getenv("GEMINI_MODEL"),

		CORSOrigins:     splitCSV(envOr("CORS_ORIGINS", "http://localhost:3000")),
		RateLimitWindow: time.Duration(envInt("RATE_LIMIT_WINDOW_MS", 60_000)) * time.Millisecond,
		RateLimitMax:    envInt("RATE_LIMIT_MAX", 100),
	}
}

func envOr(key, fallback string) string {
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

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
