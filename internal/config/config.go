package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModeStream   = "stream"
	ModeBuffered = "buffered"
)

// Config holds all application configuration.
type Config struct {
	Port int `yaml:"port"`

	GoogleAPIKey string `yaml:"google_api_key"`
	GeminiModel  string `yaml:"gemini_model"`

	ClaudeAPIKey string `yaml:"claude_api_key"`
	ClaudeModel  string `yaml:"claude_model"`

	OllamaURL   string `yaml:"ollama_url"`
	OllamaModel string `yaml:"ollama_model"`

	LlamaCppURL   string `yaml:"llamacpp_url"`
	LlamaCppModel string `yaml:"llamacpp_model"`

	// DefaultModel is used when a request omits model_id.
	DefaultModel string `yaml:"default_model"`
	// DefaultMode is used when a request omits ?mode=.
	DefaultMode string `yaml:"default_mode"`

	SystemPromptPath string `yaml:"system_prompt_path"`
	UserPromptPath   string `yaml:"user_prompt_path"`

	MaxFeedbackChars int           `yaml:"max_feedback_chars"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
	RateLimit        int           `yaml:"rate_limit"`
	UpstreamTimeout  time.Duration `yaml:"upstream_timeout"`

	CORSOrigin    string `yaml:"cors_origin"`
	CORSAllRoutes bool   `yaml:"cors_all_routes"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func defaults() Config {
	return Config{
		Port:             4000,
		GeminiModel:      "gemini-2.0-flash",
		ClaudeModel:      "claude-sonnet-4-5-20250929",
		OllamaModel:      "qwen2.5:1.5b",
		LlamaCppModel:    "qwen2.5-1.5b-gpu",
		DefaultMode:      ModeStream,
		MaxFeedbackChars: 10000,
		MaxBodyBytes:     64 * 1024,
		RateLimit:        30,
		UpstreamTimeout:  120 * time.Second,
		CORSOrigin:       "*",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from a YAML file (if path is non-empty),
// then applies environment variable overrides. An empty path returns defaults + env overrides.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"GOOGLE_API_KEY", &cfg.GoogleAPIKey},
		{"ICDCODER_GEMINI_MODEL", &cfg.GeminiModel},
		{"ANTHROPIC_API_KEY", &cfg.ClaudeAPIKey},
		{"ICDCODER_CLAUDE_MODEL", &cfg.ClaudeModel},
		{"ICDCODER_OLLAMA_URL", &cfg.OllamaURL},
		{"ICDCODER_OLLAMA_MODEL", &cfg.OllamaModel},
		{"ICDCODER_LLAMACPP_URL", &cfg.LlamaCppURL},
		{"ICDCODER_LLAMACPP_MODEL", &cfg.LlamaCppModel},
		{"ICDCODER_DEFAULT_MODEL", &cfg.DefaultModel},
		{"ICDCODER_DEFAULT_MODE", &cfg.DefaultMode},
		{"ICDCODER_SYSTEM_PROMPT_PATH", &cfg.SystemPromptPath},
		{"ICDCODER_USER_PROMPT_PATH", &cfg.UserPromptPath},
		{"ICDCODER_CORS_ORIGIN", &cfg.CORSOrigin},
		{"ICDCODER_LOG_LEVEL", &cfg.LogLevel},
		{"ICDCODER_LOG_FORMAT", &cfg.LogFormat},
	}
	for _, s := range strs {
		if v := os.Getenv(s.key); v != "" {
			*s.dst = v
		}
	}

	// ICDCODER_PORT takes precedence over the platform-provided PORT.
	for _, key := range []string{"PORT", "ICDCODER_PORT"} {
		if v := os.Getenv(key); v != "" {
			p, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: invalid %s %q: %w", key, v, err)
			}
			cfg.Port = p
		}
	}
	if v := os.Getenv("ICDCODER_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid ICDCODER_RATE_LIMIT %q: %w", v, err)
		}
		cfg.RateLimit = n
	}
	if v := os.Getenv("ICDCODER_UPSTREAM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid ICDCODER_UPSTREAM_TIMEOUT %q: %w", v, err)
		}
		cfg.UpstreamTimeout = d
	}
	return nil
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.DefaultMode != ModeStream && c.DefaultMode != ModeBuffered {
		return fmt.Errorf("config: default_mode must be %q or %q, got %q", ModeStream, ModeBuffered, c.DefaultMode)
	}
	if c.MaxFeedbackChars <= 0 {
		return fmt.Errorf("config: max_feedback_chars must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: max_body_bytes must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: rate_limit must not be negative")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	return nil
}

// Logger builds the slog logger described by log_level and log_format.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("config: invalid log_level %q", s)
	}
	return level, nil
}
