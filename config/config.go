package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderElevenLabs = "elevenlabs"
	ProviderOpenAI     = "openai"
)

// Config holds the process configuration.
type Config struct {
	Host          string
	Port          int
	PublicBaseURL string

	Provider          string
	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsModelID string
	OpenAIAPIKey      string
	OpenAIModel       string

	WebhookSecret string

	SubmitWorkers   int
	SubmitQueueSize int
	SubmitTimeout   time.Duration
	MaxSegmentBytes int64
	MaxSegments     int

	DatabaseURL string
}

// Defaults returns the configuration used when no environment is set.
func Defaults() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              5000,
		Provider:          ProviderElevenLabs,
		ElevenLabsBaseURL: "https://api.elevenlabs.io",
		ElevenLabsModelID: "scribe_v1",
		OpenAIModel:       "whisper-1",
		SubmitWorkers:     4,
		SubmitQueueSize:   64,
		SubmitTimeout:     30 * time.Second,
		MaxSegmentBytes:   200 << 20,
		MaxSegments:       10000,
	}
}

// Load reads .env files (when present) and then the process environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		log.Println("No .env file found, falling back to environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Defaults()
	var errs []error

	cfg.Host = str("HOST", cfg.Host)
	cfg.Port = integer("PORT", cfg.Port, &errs)
	cfg.Provider = strings.ToLower(str("TRANSCRIPTION_PROVIDER", cfg.Provider))
	cfg.ElevenLabsAPIKey = str("ELEVENLABS_API_KEY", "")
	cfg.ElevenLabsBaseURL = strings.TrimRight(str("ELEVENLABS_BASE_URL", cfg.ElevenLabsBaseURL), "/")
	cfg.ElevenLabsModelID = str("ELEVENLABS_MODEL_ID", cfg.ElevenLabsModelID)
	cfg.OpenAIAPIKey = str("OPENAI_API_KEY", "")
	cfg.OpenAIModel = str("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.WebhookSecret = str("WEBHOOK_SECRET", "")
	cfg.SubmitWorkers = integer("SUBMIT_WORKERS", cfg.SubmitWorkers, &errs)
	cfg.SubmitQueueSize = integer("SUBMIT_QUEUE_SIZE", cfg.SubmitQueueSize, &errs)
	cfg.MaxSegmentBytes = int64(integer("MAX_SEGMENT_BYTES", int(cfg.MaxSegmentBytes), &errs))
	cfg.MaxSegments = integer("MAX_SEGMENTS", cfg.MaxSegments, &errs)
	cfg.DatabaseURL = str("DATABASE_URL", "")

	if raw := str("SUBMIT_TIMEOUT", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("SUBMIT_TIMEOUT: %w", err))
		} else {
			cfg.SubmitTimeout = d
		}
	}

	cfg.PublicBaseURL = strings.TrimRight(str("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks that the selected provider can be used.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderElevenLabs:
		if c.ElevenLabsAPIKey == "" {
			return fmt.Errorf("ELEVENLABS_API_KEY must be set for provider %s", c.Provider)
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY must be set for provider %s", c.Provider)
		}
	default:
		return fmt.Errorf("unknown TRANSCRIPTION_PROVIDER %q", c.Provider)
	}
	if c.SubmitWorkers <= 0 {
		return fmt.Errorf("SUBMIT_WORKERS must be positive, got %d", c.SubmitWorkers)
	}
	if c.MaxSegments <= 0 {
		return fmt.Errorf("MAX_SEGMENTS must be positive, got %d", c.MaxSegments)
	}
	if c.SubmitTimeout <= 0 {
		return fmt.Errorf("SUBMIT_TIMEOUT must be positive, got %s", c.SubmitTimeout)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ProviderConfigured reports whether the selected provider has credentials.
func (c Config) ProviderConfigured() bool {
	switch c.Provider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey != ""
	default:
		return c.ElevenLabsAPIKey != ""
	}
}

func str(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func integer(key string, fallback int, errs *[]error) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}
