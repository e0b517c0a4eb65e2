package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	API           struct {
		BaseURL                 string `json:"base_url"`
		Token                   string `json:"token"`
		FirstByteTimeoutSeconds int    `json:"first_byte_timeout_seconds"`
	} `json:"api"`
	Classifier struct {
		Model               string  `json:"model"`
		SystemInstructions  string  `json:"system_instructions"`
		ConfidenceThreshold float64 `json:"confidence_threshold"`
		MaxContextEntries   int     `json:"max_context_entries"`
		MaxContextTokens    int     `json:"max_context_tokens"`
		TokenizerModel      string  `json:"tokenizer_model"`
	} `json:"classifier"`
	Stream struct {
		TTLSeconds int `json:"ttl_seconds"`
	} `json:"stream"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
}

// DefaultPath returns ~/.adaptivechat/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".adaptivechat", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		LogLevel:      "info",
		MaxConcurrent: 2,
	}
	cfg.API.BaseURL = "http://localhost:8000"
	cfg.API.FirstByteTimeoutSeconds = 30
	cfg.Classifier.ConfidenceThreshold = 0.6
	cfg.Classifier.MaxContextEntries = 8
	cfg.Classifier.TokenizerModel = "gpt-4"
	cfg.Stream.TTLSeconds = 300
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if baseURL := os.Getenv("ADAPTIVECHAT_API_URL"); baseURL != "" {
		cfg.API.BaseURL = baseURL
	}
	if token := os.Getenv("ADAPTIVECHAT_API_TOKEN"); token != "" {
		cfg.API.Token = token
	}
	if level := os.Getenv("ADAPTIVECHAT_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}

	return cfg, nil
}

// Validate reports settings the client cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.API.BaseURL) == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if t := c.Classifier.ConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("classifier.confidence_threshold must be within [0,1], got %v", t))
	}
	if c.Stream.TTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("stream.ttl_seconds must be positive, got %d", c.Stream.TTLSeconds))
	}
	if c.API.FirstByteTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("api.first_byte_timeout_seconds must not be negative, got %d", c.API.FirstByteTimeoutSeconds))
	}
	return errors.Join(errs...)
}

// StreamTTL returns the stream lifetime as a duration.
func (c *Config) StreamTTL() time.Duration {
	return time.Duration(c.Stream.TTLSeconds) * time.Second
}

// FirstByteTimeout returns the first-byte timeout. Zero selects the
// transport default.
func (c *Config) FirstByteTimeout() time.Duration {
	return time.Duration(c.API.FirstByteTimeoutSeconds) * time.Second
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	return writeJSON(path, cfg)
}

// ToMap converts cfg into its nested JSON map form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns cfg as flat dot-separated keys, optionally masking
// secrets.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns the value of a dot-separated key from the file at path.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := readFlat(path, cfg)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue sets a dot-separated key in the file at path. The value is
// parsed as JSON when it parses, otherwise stored as a string. The file must
// already exist.
func SetValue(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	flat := Flatten(m)

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat[key] = parsed
	return writeJSON(path, Unflatten(flat))
}

// readFlat reads the raw file so keys outside Config survive; env overrides
// are not applied.
func readFlat(path string, cfg *Config) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ListValues(cfg, false)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return Flatten(m), nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
