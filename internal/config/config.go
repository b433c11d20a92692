// Package config provides the configuration structure for the page-pipeline
// service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                 string `toml:"url"`
	JobSubmittedSubject string `toml:"job_submitted_subject"`
	JobCompletedSubject string `toml:"job_completed_subject"`
	JobStatusBucket     string `toml:"job_status_bucket"`
	PageObjectBucket    string `toml:"page_object_bucket"`
	AudioObjectBucket   string `toml:"audio_object_bucket"`
}

// RedisConfig holds the optional Redis job store configuration. When URL is
// empty the service tracks job status in NATS JetStream KV instead.
type RedisConfig struct {
	URL string `toml:"url"`
}

// RecognitionConfig holds the connection settings for the external OCR
// service.
type RecognitionConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// SpeechConfig holds the connection settings for the external TTS service.
type SpeechConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	ChunkChars     int    `toml:"chunk_chars"`
}

// SigningConfig holds the signed-URL settings.
type SigningConfig struct {
	Secret            string `toml:"secret"`
	PublicBaseURL     string `toml:"public_base_url"`
	ExpirationMinutes int    `toml:"expiration_minutes"`
}

// HTTPConfig holds the listen settings for the status API.
type HTTPConfig struct {
	ListenAddress string `toml:"listen_address"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS        NATSConfig        `toml:"nats"`
	Redis       RedisConfig       `toml:"redis"`
	Recognition RecognitionConfig `toml:"recognition"`
	Speech      SpeechConfig      `toml:"speech"`
	Signing     SigningConfig     `toml:"signing"`
	HTTP        HTTPConfig        `toml:"http"`
	Paths       PathsConfig       `toml:"paths"`
}

// Load loads the configuration for the page-pipeline service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
