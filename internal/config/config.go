package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Parley environment variables.
const EnvPrefix = "PARLEY_"

// Config holds all application configuration, shared by parleyd and the
// parley client. Secrets (API keys) are loaded exclusively from
// environment variables and never appear in the config file.
type Config struct {
	// Backend.
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	AudioDir   string `yaml:"audio_dir"`
	Model      string `yaml:"model"` // provider/model, e.g. gemini/gemini-2.0-flash

	// Client.
	ServerURL     string `yaml:"server_url"`
	MicSampleRate int    `yaml:"mic_sample_rate"`
	TTSVoice      string `yaml:"tts_voice"`
	TTSLanguage   string `yaml:"tts_language"`

	// Turn-taking tuning. Durations as strings so the YAML stays
	// readable; use the Parsed accessors.
	SilenceTimeout    string  `yaml:"silence_timeout"`
	MinConfidence     float64 `yaml:"min_confidence"`
	PlaybackSettle    string  `yaml:"playback_settle"`
	PlaybackGap       string  `yaml:"playback_gap"`
	FlushGrace        string  `yaml:"flush_grace"`
	MicRelease        string  `yaml:"mic_release"`
	PreStart          string  `yaml:"pre_start"`
	ConnectionWait    string  `yaml:"connection_wait"`
	ChunkInterval     string  `yaml:"chunk_interval"`
	EndpointingMillis int     `yaml:"endpointing_ms"`

	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets — env vars only, never serialized to YAML.
	DeepgramAPIKey  string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GoogleTTSAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:        "127.0.0.1:8090",
		DBPath:            "data/parley.db",
		AudioDir:          "data/audio",
		Model:             "gemini/gemini-2.0-flash",
		ServerURL:         "http://127.0.0.1:8090",
		MicSampleRate:     16000,
		TTSVoice:          "en-US-Neural2-D",
		TTSLanguage:       "en-US",
		SilenceTimeout:    "3s",
		MinConfidence:     0.5,
		PlaybackSettle:    "500ms",
		PlaybackGap:       "200ms",
		FlushGrace:        "300ms",
		MicRelease:        "200ms",
		PreStart:          "100ms",
		ConnectionWait:    "2s",
		ChunkInterval:     "300ms",
		EndpointingMillis: 300,
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the
// result. It returns the config, any validation warnings, and an error
// if the file exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedSilenceTimeout returns SilenceTimeout as a time.Duration,
// falling back to 3s if the value is invalid.
func (c *Config) ParsedSilenceTimeout() time.Duration {
	return parseDuration(c.SilenceTimeout, 3*time.Second)
}

func (c *Config) ParsedPlaybackSettle() time.Duration {
	return parseDuration(c.PlaybackSettle, 500*time.Millisecond)
}

func (c *Config) ParsedPlaybackGap() time.Duration {
	return parseDuration(c.PlaybackGap, 200*time.Millisecond)
}

func (c *Config) ParsedFlushGrace() time.Duration {
	return parseDuration(c.FlushGrace, 300*time.Millisecond)
}

func (c *Config) ParsedMicRelease() time.Duration {
	return parseDuration(c.MicRelease, 200*time.Millisecond)
}

func (c *Config) ParsedPreStart() time.Duration {
	return parseDuration(c.PreStart, 100*time.Millisecond)
}

func (c *Config) ParsedConnectionWait() time.Duration {
	return parseDuration(c.ConnectionWait, 2*time.Second)
}

func (c *Config) ParsedChunkInterval() time.Duration {
	return parseDuration(c.ChunkInterval, 300*time.Millisecond)
}

// ChunkFrames converts the chunk interval into mic frames at the
// configured sample rate.
func (c *Config) ChunkFrames() int {
	frames := int(float64(c.MicSampleRate) * c.ParsedChunkInterval().Seconds())
	if frames <= 0 {
		frames = c.MicSampleRate * 3 / 10
	}
	return frames
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "AUDIO_DIR"); v != "" {
		cfg.AudioDir = v
	}
	if v := os.Getenv(EnvPrefix + "MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv(EnvPrefix + "SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.MicSampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "TTS_VOICE"); v != "" {
		cfg.TTSVoice = v
	}
	if v := os.Getenv(EnvPrefix + "TTS_LANGUAGE"); v != "" {
		cfg.TTSLanguage = v
	}
	if v := os.Getenv(EnvPrefix + "SILENCE_TIMEOUT"); v != "" {
		cfg.SilenceTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f > 0 && f < 1 {
			cfg.MinConfidence = f
		}
	}
	if v := os.Getenv(EnvPrefix + "ENDPOINTING_MS"); v != "" {
		if ms, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && ms > 0 {
			cfg.EndpointingMillis = ms
		}
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GoogleTTSAPIKey = os.Getenv(EnvPrefix + "GOOGLE_TTS_API_KEY")
}

// LLMAPIKey returns the secret matching the configured model provider.
func (c *Config) LLMAPIKey() string {
	provider, _, _ := strings.Cut(c.Model, "/")
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	default:
		return c.GeminiAPIKey
	}
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured, live transcription is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if cfg.LLMAPIKey() == "" {
		warnings = append(warnings, fmt.Sprintf("No API key for model %q, question generation is disabled.", cfg.Model))
	}
	if cfg.GoogleTTSAPIKey == "" && cfg.GoogleCredentialsFile == "" {
		warnings = append(warnings, "Google TTS not configured, question audio is disabled. Set "+EnvPrefix+"GOOGLE_TTS_API_KEY or google_credentials_file.")
	}
	if _, err := time.ParseDuration(cfg.SilenceTimeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid silence_timeout %q, using default 3s.", cfg.SilenceTimeout))
	}
	if cfg.MinConfidence <= 0 || cfg.MinConfidence >= 1 {
		warnings = append(warnings, fmt.Sprintf("Invalid min_confidence %v, using default 0.5.", cfg.MinConfidence))
		cfg.MinConfidence = 0.5
	}

	return warnings
}
