// Package config loads the engine configuration from YAML with
// environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvAPIKey overrides api_key from the config file. The key never has
	// to live on disk.
	EnvAPIKey = "SAFESPACE_API_KEY"

	DefaultBaseURL       = "https://openrouter.ai/api/v1"
	DefaultStreamModel   = "openai/gpt-oss-120b"
	DefaultEvalModel     = "z-ai/glm-4.5-air:free"
	DefaultStreamTemp    = 0.3
	DefaultEvalTemp      = 0.7
	DefaultAutoEndTurns  = 4
	DefaultAutoEndDelay  = 2 * time.Second
	DefaultListenAddr    = ":8089"
	DefaultHistoryPath   = "safespace.db"
	DefaultAppTitle      = "SafeSpace Narratives"
	DefaultLogMaxSizeMB  = 20
	DefaultLogMaxBackups = 5
)

type Config struct {
	// APIKey authenticates against the OpenAI-compatible endpoint.
	// Overridden by SAFESPACE_API_KEY when set.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// AppTitle is sent as the X-Title attribution header.
	AppTitle string `yaml:"app_title"`

	// The temperatures are pointers so an explicit 0 in the file survives:
	// zero is a valid setting for deterministic output, not "unset".
	StreamModel string   `yaml:"stream_model"`
	StreamTemp  *float64 `yaml:"stream_temperature"`
	EvalModel   string   `yaml:"eval_model"`
	EvalTemp    *float64 `yaml:"eval_temperature"`

	AutoEndUserTurns int           `yaml:"auto_end_user_turns"`
	AutoEndDelay     time.Duration `yaml:"auto_end_delay"`

	// ScenarioDir holds extra scenario pack YAML files. Optional.
	ScenarioDir string `yaml:"scenario_dir"`

	// HistoryPath is the SQLite file for archived conversations.
	HistoryPath string `yaml:"history_path"`

	ListenAddr string `yaml:"listen_addr"`

	// LogFile enables rotating JSON logs; empty logs to stderr.
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogLevel      string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		AppTitle:         DefaultAppTitle,
		StreamModel:      DefaultStreamModel,
		StreamTemp:       f64(DefaultStreamTemp),
		EvalModel:        DefaultEvalModel,
		EvalTemp:         f64(DefaultEvalTemp),
		AutoEndUserTurns: DefaultAutoEndTurns,
		AutoEndDelay:     DefaultAutoEndDelay,
		HistoryPath:      DefaultHistoryPath,
		ListenAddr:       DefaultListenAddr,
		LogMaxSizeMB:     DefaultLogMaxSizeMB,
		LogMaxBackups:    DefaultLogMaxBackups,
		LogLevel:         "info",
	}
}

// Load reads a config file, fills defaults, and applies environment
// overrides. An empty path returns the defaults (plus env overrides).
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(strings.NewReader(string(raw)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.fillDefaults()
	if key := strings.TrimSpace(os.Getenv(EnvAPIKey)); key != "" {
		cfg.APIKey = key
	}
	return cfg, nil
}

func (c *Config) fillDefaults() {
	d := Default()
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = d.BaseURL
	}
	if strings.TrimSpace(c.AppTitle) == "" {
		c.AppTitle = d.AppTitle
	}
	if strings.TrimSpace(c.StreamModel) == "" {
		c.StreamModel = d.StreamModel
	}
	if c.StreamTemp == nil {
		c.StreamTemp = d.StreamTemp
	}
	if strings.TrimSpace(c.EvalModel) == "" {
		c.EvalModel = d.EvalModel
	}
	if c.EvalTemp == nil {
		c.EvalTemp = d.EvalTemp
	}
	if c.AutoEndUserTurns <= 0 {
		c.AutoEndUserTurns = d.AutoEndUserTurns
	}
	if c.AutoEndDelay <= 0 {
		c.AutoEndDelay = d.AutoEndDelay
	}
	if strings.TrimSpace(c.HistoryPath) == "" {
		c.HistoryPath = d.HistoryPath
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.LogMaxSizeMB <= 0 {
		c.LogMaxSizeMB = d.LogMaxSizeMB
	}
	if c.LogMaxBackups <= 0 {
		c.LogMaxBackups = d.LogMaxBackups
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = d.LogLevel
	}
}

func f64(v float64) *float64 { return &v }

// Validate checks the fields required to talk to the upstream service.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("api key is not configured: set api_key in the config file or export %s", EnvAPIKey)
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base_url is empty")
	}
	return nil
}
