// Package config handles application configuration.
//
// Configuration is loaded once at startup and treated as read-only for the
// lifetime of the process.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const (
	appName         = "miaoshu"
	configFileName  = "config.json"
	legacyFileName  = ".miaoshu_config.json"
	defaultModelDir = "Models/ASR/sherpa-onnx-sense-voice-zh-en-ja-ko-yue-2024-07-17"
)

// Engine names.
const (
	EngineSenseVoice = "sensevoice"
	EngineWhisper    = "whisper"
	EngineStub       = "stub"
)

// SupportedHotkeys lists the accepted values of the "hotkey" key.
var SupportedHotkeys = []string{"cmd_r", "alt", "ctrl_alt", "ctrl_shift", "f13", "f14", "f15"}

// SupportedLanguages lists the accepted values of the "language" key.
var SupportedLanguages = []string{"auto", "zh", "en", "ja", "ko", "yue"}

var supportedEngines = []string{EngineSenseVoice, EngineWhisper, EngineStub}

// ErrInvalid is matched by every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// KeyError reports a configuration problem with a specific key.
type KeyError struct {
	Key string
	Err error
}

func (e *KeyError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: key %q: %v", e.Key, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

// Is reports every KeyError as ErrInvalid.
func (e *KeyError) Is(target error) bool { return target == ErrInvalid }

// TextRule is a regular-expression replacement applied to recognised text.
type TextRule struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Replace string `json:"replace" yaml:"replace"`
}

// HistoryConfig controls the local dictation history.
type HistoryConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Dir     string   `json:"dir,omitempty" yaml:"dir,omitempty"`
	TTL     Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// Config represents the application configuration.
type Config struct {
	Hotkey          string `json:"hotkey"`
	Language        string `json:"language"`
	UseITN          bool   `json:"use_itn"`
	AutoPunctuation bool   `json:"auto_punctuation"`

	// Post-processing
	Hotwords       map[string]string `json:"hotwords,omitempty"`
	PunctuationMap map[string]string `json:"punctuation_map,omitempty"`
	TextRules      []TextRule        `json:"text_rules,omitempty"`

	// Engine
	Engine             string   `json:"engine"`
	ModelDir           string   `json:"model_dir,omitempty"`
	NumThreads         int      `json:"num_threads"`
	SampleRate         int      `json:"sample_rate"`
	RecognitionTimeout Duration `json:"recognition_timeout"`

	// Capture
	MinDuration      Duration `json:"min_duration"`
	MaxDuration      Duration `json:"max_duration"`
	SilenceThreshold float64  `json:"silence_threshold"`
	QueueDepth       int      `json:"queue_depth"`

	// Ambient
	Notification bool          `json:"notification"`
	LogLevel     string        `json:"log_level"`
	History      HistoryConfig `json:"history"`
	MetricsFile  string        `json:"metrics_file,omitempty"`
	DumpDir      string        `json:"dump_dir,omitempty"`
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	return &Config{
		Hotkey:             "ctrl_alt",
		Language:           "auto",
		UseITN:             true,
		AutoPunctuation:    true,
		Hotwords:           map[string]string{},
		PunctuationMap:     map[string]string{},
		Engine:             EngineSenseVoice,
		NumThreads:         4,
		SampleRate:         16000,
		RecognitionTimeout: Duration(15 * time.Second),
		MinDuration:        Duration(300 * time.Millisecond),
		MaxDuration:        Duration(60 * time.Second),
		QueueDepth:         2,
		Notification:       true,
		LogLevel:           "info",
		History:            HistoryConfig{TTL: Duration(30 * 24 * time.Hour)},
	}
}

// Load loads configuration from path. An empty path selects the default
// location under the user config directory, falling back to the legacy
// ~/.miaoshu_config.json. A missing file yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("get config path: %w", err)
		}
		path = p
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if legacy := legacyPath(); legacy != "" {
				path = legacy
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data, formatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates configuration data. format is "json" or "yaml".
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()

	var err error
	switch format {
	case "yaml":
		err = decodeYAML(data, cfg)
	default:
		err = decodeJSON(data, cfg)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated values and ranges and canonicalises the
// language code.
func (c *Config) Validate() error {
	if !slices.Contains(SupportedHotkeys, c.Hotkey) {
		return &KeyError{Key: "hotkey", Err: fmt.Errorf("unsupported value %q (allowed: %s)", c.Hotkey, strings.Join(SupportedHotkeys, ", "))}
	}

	lang, err := canonicalLanguage(c.Language)
	if err != nil {
		return &KeyError{Key: "language", Err: err}
	}
	c.Language = lang

	if !slices.Contains(supportedEngines, c.Engine) {
		return &KeyError{Key: "engine", Err: fmt.Errorf("unsupported value %q (allowed: %s)", c.Engine, strings.Join(supportedEngines, ", "))}
	}
	if c.SampleRate <= 0 {
		return &KeyError{Key: "sample_rate", Err: fmt.Errorf("must be > 0, got %d", c.SampleRate)}
	}
	if c.NumThreads < 1 {
		return &KeyError{Key: "num_threads", Err: fmt.Errorf("must be >= 1, got %d", c.NumThreads)}
	}
	if c.MinDuration < 0 {
		return &KeyError{Key: "min_duration", Err: fmt.Errorf("must be >= 0, got %s", c.MinDuration)}
	}
	if c.MaxDuration.D() <= c.MinDuration.D() {
		return &KeyError{Key: "max_duration", Err: fmt.Errorf("must be greater than min_duration (%s), got %s", c.MinDuration, c.MaxDuration)}
	}
	if c.RecognitionTimeout <= 0 {
		return &KeyError{Key: "recognition_timeout", Err: fmt.Errorf("must be > 0, got %s", c.RecognitionTimeout)}
	}
	if c.QueueDepth < 1 {
		return &KeyError{Key: "queue_depth", Err: fmt.Errorf("must be >= 1, got %d", c.QueueDepth)}
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold >= 1 {
		return &KeyError{Key: "silence_threshold", Err: fmt.Errorf("must be in [0, 1), got %g", c.SilenceThreshold)}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return &KeyError{Key: "log_level", Err: fmt.Errorf("unsupported value %q", c.LogLevel)}
	}
	for i, r := range c.TextRules {
		if r.Pattern == "" {
			return &KeyError{Key: "text_rules", Err: fmt.Errorf("rule %d: empty pattern", i)}
		}
	}
	return nil
}

// ResolvedModelDir returns model_dir, defaulting to the SenseVoice model under
// the user's home directory.
func (c *Config) ResolvedModelDir() string {
	if c.ModelDir != "" {
		return expandHome(c.ModelDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultModelDir
	}
	return filepath.Join(home, defaultModelDir)
}

// HistoryDir returns the history directory, defaulting to the config dir.
func (c *Config) HistoryDir() (string, error) {
	if c.History.Dir != "" {
		return expandHome(c.History.Dir), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, "history"), nil
}

// WriteDefault writes the default configuration to path, creating parent
// directories. It is used to seed a config file on first start.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Seed writes the default configuration to the default location when neither
// it nor the legacy file exists. It returns the path written, or "" when a
// file was already present.
func Seed() (string, error) {
	path, err := DefaultPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil || legacyPath() != "" {
		return "", nil
	}
	if err := WriteDefault(path); err != nil {
		return "", err
	}
	return path, nil
}

// DefaultPath returns the config file location under the user config dir.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}

func legacyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(home, legacyFileName)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

func canonicalLanguage(code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" || code == "auto" {
		return "auto", nil
	}

	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("invalid language code %q: %w", code, err)
	}
	base, _ := tag.Base()
	if !slices.Contains(SupportedLanguages, base.String()) {
		return "", fmt.Errorf("unsupported language %q (allowed: %s)", code, strings.Join(SupportedLanguages, ", "))
	}
	return base.String(), nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
