package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"HOST", "PORT", "PUBLIC_BASE_URL", "TRANSCRIPTION_PROVIDER",
	"ELEVENLABS_API_KEY", "ELEVENLABS_BASE_URL", "ELEVENLABS_MODEL_ID",
	"OPENAI_API_KEY", "OPENAI_MODEL", "WEBHOOK_SECRET", "SUBMIT_WORKERS",
	"SUBMIT_QUEUE_SIZE", "SUBMIT_TIMEOUT", "MAX_SEGMENT_BYTES", "MAX_SEGMENTS", "DATABASE_URL",
}

// clearEnv blanks every key the package reads so host settings cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

// TestFromEnvDefaults verifies baseline defaults are present.
func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Port != 5000 || cfg.Host != "0.0.0.0" {
		t.Fatalf("addr = %s, want 0.0.0.0:5000", cfg.Addr())
	}
	if cfg.Provider != ProviderElevenLabs {
		t.Fatalf("provider = %q, want elevenlabs", cfg.Provider)
	}
	if cfg.PublicBaseURL != "http://localhost:5000" {
		t.Fatalf("public base url = %q", cfg.PublicBaseURL)
	}
	if cfg.SubmitTimeout != 30*time.Second {
		t.Fatalf("submit timeout = %s, want 30s", cfg.SubmitTimeout)
	}
	if cfg.MaxSegmentBytes != 200<<20 {
		t.Fatalf("max segment bytes = %d", cfg.MaxSegmentBytes)
	}
	if cfg.MaxSegments != 10000 {
		t.Fatalf("max segments = %d, want 10000", cfg.MaxSegments)
	}
	if cfg.ProviderConfigured() {
		t.Fatal("provider should not be configured without a key")
	}
}

// TestFromEnvOverrides checks every override is honored.
func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("TRANSCRIPTION_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("WEBHOOK_SECRET", "shh")
	t.Setenv("SUBMIT_WORKERS", "9")
	t.Setenv("SUBMIT_TIMEOUT", "45s")
	t.Setenv("MAX_SEGMENTS", "12")
	t.Setenv("ELEVENLABS_BASE_URL", "http://fake/")
	t.Setenv("PUBLIC_BASE_URL", "https://example.test/")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Port != 8080 || cfg.SubmitWorkers != 9 || cfg.SubmitTimeout != 45*time.Second || cfg.MaxSegments != 12 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Provider != ProviderOpenAI || !cfg.ProviderConfigured() {
		t.Fatalf("provider = %q configured = %v", cfg.Provider, cfg.ProviderConfigured())
	}
	if cfg.ElevenLabsBaseURL != "http://fake" || cfg.PublicBaseURL != "https://example.test" {
		t.Fatalf("trailing slashes not trimmed: %q %q", cfg.ElevenLabsBaseURL, cfg.PublicBaseURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

// TestFromEnvInvalidValues checks parse error handling.
func TestFromEnvInvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "eighty")
	t.Setenv("SUBMIT_TIMEOUT", "soon")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing key error")
	}

	cfg.ElevenLabsAPIKey = "key"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	cfg.MaxSegments = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected max segments error")
	}
	cfg.MaxSegments = 10

	cfg.Provider = "whisper.cpp"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown provider error")
	}
}

// TestLoadReadsDotEnv checks that values from a .env file reach the config.
func TestLoadReadsDotEnv(t *testing.T) {
	clearEnv(t)
	for _, key := range []string{"WEBHOOK_SECRET", "PORT"} {
		os.Unsetenv(key)
	}
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("WEBHOOK_SECRET=from-file\nPORT=7070\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("WEBHOOK_SECRET")
		os.Unsetenv("PORT")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WebhookSecret != "from-file" || cfg.Port != 7070 {
		t.Fatalf("config = %+v", cfg)
	}
}
