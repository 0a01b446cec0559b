package speech

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// LoadConfigFromViper loads read-aloud configuration from Viper.
func LoadConfigFromViper() (Config, error) {
	cfg := DefaultConfig()

	if viper.IsSet("readaloud.engine") {
		cfg.Engine = viper.GetString("readaloud.engine")
	}
	if viper.IsSet("readaloud.voice") {
		cfg.Voice = viper.GetString("readaloud.voice")
	}
	if viper.IsSet("readaloud.language") {
		cfg.Language = viper.GetString("readaloud.language")
	}
	if viper.IsSet("readaloud.rate") {
		cfg.Rate = viper.GetFloat64("readaloud.rate")
	}
	if viper.IsSet("readaloud.volume") {
		cfg.Volume = viper.GetFloat64("readaloud.volume")
	}
	if viper.IsSet("readaloud.max_chunk_size") {
		cfg.MaxChunkSize = viper.GetInt("readaloud.max_chunk_size")
	}
	if viper.IsSet("readaloud.words_per_minute") {
		cfg.WordsPerMinute = viper.GetFloat64("readaloud.words_per_minute")
	}
	if viper.IsSet("readaloud.avg_word_length") {
		cfg.AvgWordLength = viper.GetFloat64("readaloud.avg_word_length")
	}
	if viper.IsSet("readaloud.max_init_attempts") {
		cfg.MaxInitAttempts = viper.GetInt("readaloud.max_init_attempts")
	}
	if viper.IsSet("readaloud.init_backoff") {
		if d, err := time.ParseDuration(viper.GetString("readaloud.init_backoff")); err == nil {
			cfg.InitBackoff = d
		}
	}
	if viper.IsSet("readaloud.voice_wait_timeout") {
		if d, err := time.ParseDuration(viper.GetString("readaloud.voice_wait_timeout")); err == nil {
			cfg.VoiceWaitTimeout = d
		}
	}
	if viper.IsSet("readaloud.voice_poll_interval") {
		if d, err := time.ParseDuration(viper.GetString("readaloud.voice_poll_interval")); err == nil {
			cfg.VoicePollInterval = d
		}
	}
	if viper.IsSet("readaloud.max_retries") {
		cfg.MaxRetries = viper.GetInt("readaloud.max_retries")
	}
	if viper.IsSet("readaloud.retry_delay") {
		if d, err := time.ParseDuration(viper.GetString("readaloud.retry_delay")); err == nil {
			cfg.RetryDelay = d
		}
	}
	if viper.IsSet("readaloud.chunk_timeout") {
		if d, err := time.ParseDuration(viper.GetString("readaloud.chunk_timeout")); err == nil {
			cfg.ChunkTimeout = d
		}
	}
	if viper.IsSet("readaloud.telemetry_url") {
		cfg.TelemetryURL = viper.GetString("readaloud.telemetry_url")
	}
	if viper.IsSet("readaloud.telemetry_timeout") {
		if d, err := time.ParseDuration(viper.GetString("readaloud.telemetry_timeout")); err == nil {
			cfg.TelemetryTimeout = d
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid read-aloud configuration: %w", err)
	}

	return cfg, nil
}

// LoadConfigFromEnv loads configuration from READALOUD_* environment
// variables on top of the defaults.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid read-aloud configuration: %w", err)
	}
	return cfg, nil
}

// SetDefaults sets default values in Viper for read-aloud configuration.
func SetDefaults() {
	defaults := DefaultConfig()

	viper.SetDefault("readaloud.engine", defaults.Engine)
	viper.SetDefault("readaloud.language", defaults.Language)
	viper.SetDefault("readaloud.rate", defaults.Rate)
	viper.SetDefault("readaloud.volume", defaults.Volume)
	viper.SetDefault("readaloud.max_chunk_size", defaults.MaxChunkSize)
	viper.SetDefault("readaloud.words_per_minute", defaults.WordsPerMinute)
	viper.SetDefault("readaloud.avg_word_length", defaults.AvgWordLength)
	viper.SetDefault("readaloud.max_init_attempts", defaults.MaxInitAttempts)
	viper.SetDefault("readaloud.init_backoff", defaults.InitBackoff.String())
	viper.SetDefault("readaloud.voice_wait_timeout", defaults.VoiceWaitTimeout.String())
	viper.SetDefault("readaloud.voice_poll_interval", defaults.VoicePollInterval.String())
	viper.SetDefault("readaloud.max_retries", defaults.MaxRetries)
	viper.SetDefault("readaloud.retry_delay", defaults.RetryDelay.String())
	viper.SetDefault("readaloud.chunk_timeout", defaults.ChunkTimeout.String())
	viper.SetDefault("readaloud.telemetry_timeout", defaults.TelemetryTimeout.String())
}
