// Package config loads and validates service settings from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"audio-transcriber/internal/domain"
)

// Recognized ranges and defaults for job tuning knobs.
const (
	MinChunkLengthSeconds     = 10
	MaxChunkLengthSeconds     = 60
	DefaultChunkLengthSeconds = 20

	MinTimeoutSeconds     = 30
	MaxTimeoutSeconds     = 300
	DefaultTimeoutSeconds = 60

	DefaultFragmentLength    = 2000
	DefaultMaxConcurrentJobs = 2
)

// Load reads settings from environment variables, applying defaults for
// everything except the API key, and validates documented ranges.
func Load() (domain.Settings, error) {
	settings := domain.Settings{
		APIKey:             os.Getenv("TRANSCRIBE_API_KEY"),
		BaseURL:            getEnv("TRANSCRIBE_BASE_URL", ""),
		Model:              getEnv("TRANSCRIBE_MODEL", "whisper-1"),
		ChunkLengthSeconds: getInt("CHUNK_LENGTH_SECONDS", DefaultChunkLengthSeconds),
		TimeoutSeconds:     getInt("TRANSCRIBE_TIMEOUT_SECONDS", DefaultTimeoutSeconds),
		FragmentLength:     getInt("FRAGMENT_LENGTH", DefaultFragmentLength),
		MaxConcurrentJobs:  getInt("MAX_CONCURRENT_JOBS", DefaultMaxConcurrentJobs),
		WorkDir:            getEnv("WORK_DIR", filepath.Join(os.TempDir(), "audio-transcriber")),
		OutputDir:          getEnv("OUTPUT_DIR", "transcripts"),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
	}

	if err := Validate(settings); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

// Validate rejects settings outside the documented ranges.
func Validate(settings domain.Settings) error {
	if settings.APIKey == "" {
		return fmt.Errorf("TRANSCRIBE_API_KEY must be set")
	}
	if settings.ChunkLengthSeconds < MinChunkLengthSeconds || settings.ChunkLengthSeconds > MaxChunkLengthSeconds {
		return fmt.Errorf(
			"chunk length %d out of range [%d, %d]",
			settings.ChunkLengthSeconds, MinChunkLengthSeconds, MaxChunkLengthSeconds,
		)
	}
	if settings.TimeoutSeconds < MinTimeoutSeconds || settings.TimeoutSeconds > MaxTimeoutSeconds {
		return fmt.Errorf(
			"timeout %d out of range [%d, %d]",
			settings.TimeoutSeconds, MinTimeoutSeconds, MaxTimeoutSeconds,
		)
	}
	if settings.FragmentLength <= 0 {
		return fmt.Errorf("fragment length must be positive, got %d", settings.FragmentLength)
	}
	if settings.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max concurrent jobs must be positive, got %d", settings.MaxConcurrentJobs)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
