// Package config loads the atlas configuration from YAML with environment
// overrides for the secrets that should not live in a file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// API configures the backend archive connection.
type API struct {
	BaseURL string `yaml:"base_url"`
}

// AI configures the LLM provider.
type AI struct {
	APIURL    string `yaml:"api_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MiniModel string `yaml:"mini_model"`
	MaxTokens int    `yaml:"max_tokens"`
	Provider  string `yaml:"provider"` // openai or openrouter
}

// BiproConnection is one insurer endpoint.
type BiproConnection struct {
	VUName     string `yaml:"vu_name"`
	Endpoint   string `yaml:"endpoint"`
	STSURL     string `yaml:"sts_url"`
	ConsumerID string `yaml:"consumer_id"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	PFXPath     string `yaml:"pfx_path"`
	PFXPassword string `yaml:"pfx_password"`

	JKSPath        string `yaml:"jks_path"`
	JKSPassword    string `yaml:"jks_password"`
	JKSAlias       string `yaml:"jks_alias"`
	JKSKeyPassword string `yaml:"jks_key_password"`

	CertPEMPath string `yaml:"cert_pem_path"`
	KeyPEMPath  string `yaml:"key_pem_path"`
}

// Mailbox configures the IMAP ingestion adapter.
type Mailbox struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Folder   string `yaml:"folder"`
}

// Watch configures the drop-directory mode.
type Watch struct {
	Dir      string        `yaml:"dir"`
	Debounce time.Duration `yaml:"debounce"`
}

// Processing configures the batch pipeline.
type Processing struct {
	MaxWorkers      int           `yaml:"max_workers"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	RawXMLPatterns  []string      `yaml:"raw_xml_patterns"`
	CacheDBPath     string        `yaml:"cache_db_path"`
}

// Config is the full atlas configuration.
type Config struct {
	API        API               `yaml:"api"`
	AI         AI                `yaml:"ai"`
	Bipro      []BiproConnection `yaml:"bipro"`
	Mailbox    Mailbox           `yaml:"mailbox"`
	Watch      Watch             `yaml:"watch"`
	Processing Processing        `yaml:"processing"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		API: API{BaseURL: "http://localhost:8080/api"},
		AI: AI{
			APIURL:    "https://api.openai.com/v1/chat/completions",
			Model:     "gpt-4o",
			MiniModel: "gpt-4o-mini",
			MaxTokens: 800,
			Provider:  "openai",
		},
		Mailbox: Mailbox{Port: 993, Folder: "INBOX"},
		Watch:   Watch{Debounce: 2 * time.Second},
		Processing: Processing{
			MaxWorkers:      8,
			RefreshInterval: 20 * time.Second,
		},
	}
}

// Load reads the YAML config. Empty path falls back to
// ~/.atlas/config.yaml; a missing file returns defaults. Environment
// variables ATLAS_API_KEY and OPENAI_API_KEY override the AI key.
func Load(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return applyEnv(DefaultConfig()), nil
		}
		path = filepath.Join(home, ".atlas", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return applyEnv(DefaultConfig()), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return applyEnv(cfg), nil
}

func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("ATLAS_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.AI.APIKey == "" {
		cfg.AI.APIKey = v
	}
	return cfg
}
