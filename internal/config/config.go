package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Capture modes.
const (
	ModeMic      = "mic"
	ModeLoopback = "loopback"
	ModeDual     = "dual"
)

type Config struct {
	Mode        string           `json:"mode"` // "mic", "loopback" or "dual"
	LogLevel    string           `json:"log_level"`
	MetricsAddr string           `json:"metrics_addr"` // empty disables the /metrics endpoint
	MinChars    int              `json:"min_chars"`    // drop displayed transcripts shorter than this
	Audio       AudioConfig      `json:"audio"`
	Whisper     WhisperConfig    `json:"whisper"`
	Correction  CorrectionConfig `json:"correction"`
}

type AudioConfig struct {
	MicDevice      string `json:"mic_device"`      // name substring, empty selects default
	LoopbackDevice string `json:"loopback_device"` // name substring, empty selects default
	ChunkSeconds   int    `json:"chunk_seconds"`
	SampleRate     int    `json:"sample_rate"`
}

type WhisperConfig struct {
	Model    string `json:"model"`    // "base.en", "small", etc.
	Language string `json:"language"` // "auto", "en", etc.
	Threads  int    `json:"threads"`
}

type CorrectionConfig struct {
	Enabled        bool    `json:"enabled"`
	Provider       string  `json:"provider"` // "openai", "groq", "deepseek"
	Model          string  `json:"model"`
	BaseURL        string  `json:"base_url"` // overrides the provider preset
	APIKey         string  `json:"-"`        // resolved from the environment, never persisted
	TimeoutSeconds int     `json:"timeout_seconds"`
	NoSpeech       float64 `json:"no_speech_threshold"`
	Confidence     float64 `json:"confidence_threshold"`
}

// Load reads the config from disk or returns defaults. The correction API
// key is always resolved from the environment.
func Load() (*Config, error) {
	path := configPath()

	cfg := &Config{
		Mode:        ModeMic,
		LogLevel:    "info",
		MetricsAddr: "",
		Audio: AudioConfig{
			ChunkSeconds: 5,
			SampleRate:   16000,
		},
		Whisper: WhisperConfig{
			Model:    "base.en",
			Language: "auto",
			Threads:  0, // Auto-detect
		},
		Correction: CorrectionConfig{
			Enabled:        true,
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 10,
			NoSpeech:       0.6,
			Confidence:     -0.8,
		},
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	switch cfg.Mode {
	case ModeMic, ModeLoopback, ModeDual:
	default:
		return nil, fmt.Errorf("config: unknown mode %q", cfg.Mode)
	}

	cfg.Correction.APIKey = resolveAPIKey(cfg.Correction.Provider)
	if cfg.Correction.BaseURL == "" {
		cfg.Correction.BaseURL = providerBaseURL(cfg.Correction.Provider)
	}

	return cfg, nil
}

// Save writes the config to disk.
func (c *Config) Save() error {
	path := configPath()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// resolveAPIKey checks the app-specific variable first, then the provider's
// conventional one.
func resolveAPIKey(provider string) string {
	if key := os.Getenv("MEETCAP_API_KEY"); key != "" {
		return key
	}
	switch provider {
	case "groq":
		return os.Getenv("GROQ_API_KEY")
	case "deepseek":
		return os.Getenv("DEEPSEEK_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

// providerBaseURL maps a provider name to its OpenAI-compatible endpoint.
// The default provider uses the client's built-in endpoint.
func providerBaseURL(provider string) string {
	switch provider {
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com"
	default:
		return ""
	}
}

// configPath returns the platform-specific config file path.
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "meetcap", "config.json")
}

// ModelsPath returns the platform-specific models directory path.
func ModelsPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, "meetcap", "models")
}
