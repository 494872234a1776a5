// Package config provides the configuration structure for the voiceover
// batch tool.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Defaults applied when the TOML omits optional keys. Credentials never
// live in the TOML; they come from flags or the process environment.
const (
	DefaultTimeoutSeconds    = 30
	DefaultRateLimitPerMin   = 50
	DefaultWorkers           = 10
	DefaultItemIDColumn      = "item_id"
	DefaultAudioDir          = "audio_files"
	defaultPlayHTBaseURL     = "https://api.play.ht/api/v1"
	defaultAudioEventSubject = "voiceover.audio.created"
)

// PlayHTConfig holds the vendor API settings.
type PlayHTConfig struct {
	BaseURL            string `toml:"base_url"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
	Workers            int    `toml:"workers"`
}

// CSVConfig holds the tabular snapshot settings.
type CSVConfig struct {
	ItemIDColumn string `toml:"item_id_column"`
}

// NATSConfig holds the settings for the audio object store and the
// audio-created event subject.
type NATSConfig struct {
	URL                    string `toml:"url"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	AudioCreatedSubject    string `toml:"audio_created_subject"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	AudioDir    string `toml:"audio_dir"`
}

// Config is the root configuration structure.
type Config struct {
	PlayHT PlayHTConfig `toml:"playht"`
	CSV    CSVConfig    `toml:"csv"`
	NATS   NATSConfig   `toml:"nats"`
	Paths  PathsConfig  `toml:"paths"`
}

// Load loads the configuration for the voiceover tool and applies the
// defaults for anything the TOML left out.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills every zero-valued optional field.
func (c *Config) ApplyDefaults() {
	if c.PlayHT.BaseURL == "" {
		c.PlayHT.BaseURL = defaultPlayHTBaseURL
	}

	if c.PlayHT.TimeoutSeconds <= 0 {
		c.PlayHT.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.PlayHT.RateLimitPerMinute <= 0 {
		c.PlayHT.RateLimitPerMinute = DefaultRateLimitPerMin
	}

	if c.PlayHT.Workers <= 0 {
		c.PlayHT.Workers = DefaultWorkers
	}

	if c.CSV.ItemIDColumn == "" {
		c.CSV.ItemIDColumn = DefaultItemIDColumn
	}

	if c.Paths.AudioDir == "" {
		c.Paths.AudioDir = DefaultAudioDir
	}

	if c.NATS.AudioCreatedSubject == "" {
		c.NATS.AudioCreatedSubject = defaultAudioEventSubject
	}
}
