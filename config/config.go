// Package config handles parley configuration loading
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bosley/parley/diarize"
	"github.com/bosley/parley/transcribe"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment override
const envPrefix = "PARLEY_"

// Config holds all parley configuration
type Config struct {
	LogLevel string `yaml:"log_level"` // debug, info, warn, error

	// HTTP server
	HTTPAddr string `yaml:"http_addr"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	Transcribe transcribe.Config `yaml:"transcribe"`
	Diarize    diarize.Config    `yaml:"diarize"`

	// SQLite file of past run timings, empty to disable
	HistoryPath string `yaml:"history_path"`

	ProgressInterval time.Duration `yaml:"progress_interval"`
	KeepJobs         int           `yaml:"keep_jobs"`

	// Default for the timestamped section when a request does not say
	Timestamps bool `yaml:"timestamps"`

	// Environment variable holding the diarization access token.
	// The token itself is never stored in the file.
	TokenEnv string `yaml:"token_env"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTPAddr: ":8444",
		Transcribe: transcribe.Config{
			Backend: "whispercpp",
			WhisperCpp: transcribe.WhisperCppConfig{
				Path:      "whisper-cli",
				ModelsDir: "models",
				Language:  "auto",
			},
		},
		Diarize: diarize.Config{
			Backend: "none",
		},
		HistoryPath:      defaultHistoryPath(),
		ProgressInterval: 500 * time.Millisecond,
		KeepJobs:         16,
		TokenEnv:         "HF_TOKEN",
	}
}

func defaultHistoryPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".parley", "history.db")
	}
	return filepath.Join(dir, "parley", "history.db")
}

// Load reads configuration from path over the defaults, applies environment
// overrides and validates the result. An empty path uses defaults and
// environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from PARLEY_* variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LOG_LEVEL":         &c.LogLevel,
		"HTTP_ADDR":         &c.HTTPAddr,
		"CERT_FILE":         &c.CertFile,
		"KEY_FILE":          &c.KeyFile,
		"BACKEND":           &c.Transcribe.Backend,
		"WHISPER_PATH":      &c.Transcribe.WhisperCpp.Path,
		"MODELS_DIR":        &c.Transcribe.WhisperCpp.ModelsDir,
		"LANGUAGE":          &c.Transcribe.WhisperCpp.Language,
		"OPENAI_BASE_URL":   &c.Transcribe.OpenAI.BaseURL,
		"OPENAI_MODEL":      &c.Transcribe.OpenAI.Model,
		"DIARIZE_BACKEND":   &c.Diarize.Backend,
		"PYTHON":            &c.Diarize.Pyannote.Python,
		"PYANNOTE_PIPELINE": &c.Diarize.Pyannote.Pipeline,
		"HISTORY_PATH":      &c.HistoryPath,
		"TOKEN_ENV":         &c.TokenEnv,
	}
	for name, field := range strs {
		if v, ok := lookup(envPrefix + name); ok {
			*field = v
		}
	}

	// The conventional variable works too
	if c.Transcribe.OpenAI.APIKey == "" {
		if v, ok := lookup("OPENAI_API_KEY"); ok {
			c.Transcribe.OpenAI.APIKey = v
		}
	}
	if v, ok := lookup(envPrefix + "OPENAI_API_KEY"); ok {
		c.Transcribe.OpenAI.APIKey = v
	}

	if v, ok := lookup(envPrefix + "THREADS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sTHREADS %q: %w", envPrefix, v, err)
		}
		c.Transcribe.WhisperCpp.Threads = n
	}
	if v, ok := lookup(envPrefix + "PROGRESS_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sPROGRESS_INTERVAL %q: %w", envPrefix, v, err)
		}
		c.ProgressInterval = d
	}
	if v, ok := lookup(envPrefix + "TIMESTAMPS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sTIMESTAMPS %q: %w", envPrefix, v, err)
		}
		c.Timestamps = b
	}
	return nil
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch strings.ToLower(c.Transcribe.Backend) {
	case "", "whispercpp", "openai":
	default:
		return fmt.Errorf("unknown transcription backend %q", c.Transcribe.Backend)
	}

	switch strings.ToLower(c.Diarize.Backend) {
	case "", "none", "pyannote":
	default:
		return fmt.Errorf("unknown diarization backend %q", c.Diarize.Backend)
	}

	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file must be set together")
	}
	if c.ProgressInterval <= 0 {
		return fmt.Errorf("progress_interval must be positive")
	}
	if c.KeepJobs <= 0 {
		return fmt.Errorf("keep_jobs must be positive")
	}
	if c.TokenEnv == "" {
		return fmt.Errorf("token_env must name an environment variable")
	}
	return nil
}

// Token returns the diarization access token from the environment.
// The caller owns the returned slice.
func (c *Config) Token() []byte {
	v := os.Getenv(c.TokenEnv)
	if v == "" {
		return nil
	}
	return []byte(v)
}

// Level returns the configured slog level
func (c *Config) Level() slog.Level {
	level, _ := ParseLevel(c.LogLevel)
	return level
}

// ParseLevel converts a level name into an slog.Level
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}
