// Package config loads runtime settings from the environment, after merging an optional .env file.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server, the CLI and the pipeline need at startup.
type Config struct {
	HTTPAddr      string
	DBDSN         string
	DBAutoMigrate bool
	DBSlow        time.Duration

	JWTSecret   []byte
	JWTAudience string
	TokenTTL    time.Duration

	StorageDriver  string // local | s3
	UploadBase     string
	S3Bucket       string
	S3Prefix       string
	AWSRegion      string
	PresignTTL     time.Duration
	MaxUploadBytes int64

	GeminiAPIKey string
	GroqAPIKey   string
	GroqBaseURL  string

	OCRPrimary       string // gemini | groq | tesseract
	OCRPrimaryModel  string
	OCRFallback      string
	OCRFallbackModel string

	AICheckProvider string // gemini | groq
	AICheckModel    string

	EmbedBaseURL string
	EmbedAPIKey  string
	EmbedModel   string
	EmbedDim     int

	DecisionProvider string // gemini | groq
	DecisionModel    string

	ProviderTimeout time.Duration
	PipelineTimeout time.Duration

	StallSweepCron   string
	StallAfter       time.Duration
	StallSweepResume bool
}

// Load reads .env (when present, never overriding variables already set) and the environment.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Println("config: loaded .env")
	}
	secret := get("JWT_SECRET", "")
	if secret == "" {
		secret = "dev-insecure-secret-change" // development fallback
		log.Println("config: JWT_SECRET not set, using development secret")
	}
	return Config{
		HTTPAddr:      get("HTTP_ADDR", ":8081"),
		DBDSN:         get("DB_DSN", ""),
		DBAutoMigrate: getBool("DB_AUTO_MIGRATE", true),
		DBSlow:        time.Duration(getInt("DB_SLOW_MS", 200)) * time.Millisecond,

		JWTSecret:   []byte(secret),
		JWTAudience: get("JWT_AUDIENCE", "authenticated"),
		TokenTTL:    getDuration("TOKEN_TTL", 24*time.Hour),

		StorageDriver:  strings.ToLower(get("STORAGE_DRIVER", "local")),
		UploadBase:     get("UPLOAD_BASE", "uploads"),
		S3Bucket:       get("S3_BUCKET", ""),
		S3Prefix:       get("S3_PREFIX", "submission"),
		AWSRegion:      get("AWS_REGION", "us-east-1"),
		PresignTTL:     time.Duration(getInt("PRESIGN_TTL_SECONDS", 900)) * time.Second,
		MaxUploadBytes: int64(getInt("MAX_UPLOAD_BYTES", 5*1024*1024)),

		GeminiAPIKey: get("GEMINI_API_KEY", ""),
		GroqAPIKey:   get("GROQ_API_KEY", ""),
		GroqBaseURL:  get("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),

		OCRPrimary:       strings.ToLower(get("OCR_PRIMARY", "gemini")),
		OCRPrimaryModel:  get("OCR_PRIMARY_MODEL", "gemini-2.5-flash"),
		OCRFallback:      strings.ToLower(get("OCR_FALLBACK", "groq")),
		OCRFallbackModel: get("OCR_FALLBACK_MODEL", "meta-llama/llama-4-maverick-17b-128e-instruct"),

		AICheckProvider: strings.ToLower(get("AICHECK_PROVIDER", "gemini")),
		AICheckModel:    get("AICHECK_MODEL", "gemini-2.5-flash"),

		EmbedBaseURL: get("EMBED_BASE_URL", "http://localhost:1234/v1"),
		EmbedAPIKey:  get("EMBED_API_KEY", "lm-studio"),
		EmbedModel:   get("EMBED_MODEL", "text-embedding-nomic-embed-text-v1.5"),
		EmbedDim:     getInt("EMBED_DIM", 768),

		DecisionProvider: strings.ToLower(get("DECISION_PROVIDER", "gemini")),
		DecisionModel:    get("DECISION_MODEL", "gemini-2.5-flash"),

		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 60*time.Second),
		PipelineTimeout: getDuration("PIPELINE_TIMEOUT", 5*time.Minute),

		StallSweepCron:   get("STALL_SWEEP_CRON", ""),
		StallAfter:       getDuration("STALL_AFTER", 15*time.Minute),
		StallSweepResume: getBool("STALL_SWEEP_RESUME", false),
	}
}

// RequireDB fails when no database DSN is configured.
func (c Config) RequireDB() error {
	if strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN")
	}
	return nil
}

func get(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	log.Printf("config: %s=%q is not a boolean, using %v", k, v, def)
	return def
}

func getInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: %s=%q is not an integer, using %d", k, v, def)
		return def
	}
	return i
}

func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: %s=%q is not a duration, using %s", k, v, def)
		return def
	}
	return d
}
