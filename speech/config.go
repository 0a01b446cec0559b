package speech

import (
	"fmt"
	"strings"
	"time"

	"github.com/lessonloop/readaloud/speech/engines"
)

// Config contains all read-aloud configuration options.
type Config struct {
	// Engine selection
	Engine   string `yaml:"engine" env:"READALOUD_ENGINE" envDefault:"gtrans"`
	Voice    string `yaml:"voice" env:"READALOUD_VOICE"`
	Language string `yaml:"language" env:"READALOUD_LANGUAGE" envDefault:"en"`

	// Audio settings
	Rate   float64 `yaml:"rate" env:"READALOUD_RATE" envDefault:"1.0"`
	Volume float64 `yaml:"volume" env:"READALOUD_VOLUME" envDefault:"1.0"`

	// Chunking
	MaxChunkSize int `yaml:"max_chunk_size" env:"READALOUD_MAX_CHUNK_SIZE" envDefault:"1000"`

	// Position estimation. Spoken progress has no ground truth, so the
	// pause position is estimated from elapsed playing time at an
	// assumed speaking rate.
	WordsPerMinute float64 `yaml:"words_per_minute" env:"READALOUD_WORDS_PER_MINUTE" envDefault:"120"`
	AvgWordLength  float64 `yaml:"avg_word_length" env:"READALOUD_AVG_WORD_LENGTH" envDefault:"4.7"`

	// Initialization
	MaxInitAttempts   int           `yaml:"max_init_attempts" env:"READALOUD_MAX_INIT_ATTEMPTS" envDefault:"3"`
	InitBackoff       time.Duration `yaml:"init_backoff" env:"READALOUD_INIT_BACKOFF" envDefault:"250ms"`
	VoiceWaitTimeout  time.Duration `yaml:"voice_wait_timeout" env:"READALOUD_VOICE_WAIT_TIMEOUT" envDefault:"5s"`
	VoicePollInterval time.Duration `yaml:"voice_poll_interval" env:"READALOUD_VOICE_POLL_INTERVAL" envDefault:"250ms"`

	// Retry and timeout policy
	MaxRetries   int           `yaml:"max_retries" env:"READALOUD_MAX_RETRIES" envDefault:"3"`
	RetryDelay   time.Duration `yaml:"retry_delay" env:"READALOUD_RETRY_DELAY" envDefault:"500ms"`
	ChunkTimeout time.Duration `yaml:"chunk_timeout" env:"READALOUD_CHUNK_TIMEOUT" envDefault:"30s"`

	// Telemetry (optional)
	TelemetryURL     string        `yaml:"telemetry_url" env:"READALOUD_TELEMETRY_URL"`
	TelemetryTimeout time.Duration `yaml:"telemetry_timeout" env:"READALOUD_TELEMETRY_TIMEOUT" envDefault:"5s"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Engine:   "gtrans",
		Language: "en",
		Rate:     1.0,
		Volume:   1.0,

		MaxChunkSize: 1000,

		WordsPerMinute: 120,
		AvgWordLength:  4.7,

		MaxInitAttempts:   3,
		InitBackoff:       250 * time.Millisecond,
		VoiceWaitTimeout:  5 * time.Second,
		VoicePollInterval: 250 * time.Millisecond,

		MaxRetries:   3,
		RetryDelay:   500 * time.Millisecond,
		ChunkTimeout: 30 * time.Second,

		TelemetryTimeout: 5 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validEngines := []string{"gtrans", "mock"}
	engineValid := false
	for _, e := range validEngines {
		if strings.EqualFold(c.Engine, e) {
			c.Engine = strings.ToLower(c.Engine)
			engineValid = true
			break
		}
	}
	if !engineValid {
		return fmt.Errorf("invalid engine '%s': must be one of %v", c.Engine, validEngines)
	}

	if c.Volume < 0.0 || c.Volume > 2.0 {
		return fmt.Errorf("volume must be between 0.0 and 2.0, got %f", c.Volume)
	}
	if c.Rate <= 0 || c.Rate > 4.0 {
		return fmt.Errorf("rate must be between 0.0 and 4.0, got %f", c.Rate)
	}

	if c.MaxChunkSize < 1 {
		return fmt.Errorf("max_chunk_size must be positive, got %d", c.MaxChunkSize)
	}
	if c.WordsPerMinute < 50 || c.WordsPerMinute > 500 {
		return fmt.Errorf("words_per_minute must be between 50 and 500, got %f", c.WordsPerMinute)
	}
	if c.AvgWordLength <= 0 {
		return fmt.Errorf("avg_word_length must be positive, got %f", c.AvgWordLength)
	}

	if c.MaxInitAttempts < 1 {
		return fmt.Errorf("max_init_attempts must be at least 1, got %d", c.MaxInitAttempts)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.ChunkTimeout < time.Second {
		return fmt.Errorf("chunk_timeout must be at least 1 second, got %v", c.ChunkTimeout)
	}

	return nil
}

// ToEngineConfig converts the config to the engine voice configuration.
func (c *Config) ToEngineConfig() engines.Config {
	return engines.Config{
		Voice:    c.Voice,
		Language: c.Language,
		Rate:     c.Rate,
		Volume:   c.Volume,
	}
}

// ToAdapterConfig converts the config to adapter tuning.
func (c *Config) ToAdapterConfig() engines.AdapterConfig {
	return engines.AdapterConfig{
		MaxInitAttempts:   c.MaxInitAttempts,
		InitBackoff:       c.InitBackoff,
		VoiceWaitTimeout:  c.VoiceWaitTimeout,
		VoicePollInterval: c.VoicePollInterval,
	}
}
