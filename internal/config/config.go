package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models marketplace.yml.
type Config struct {
	Marketplace struct {
		Name string `yaml:"name" json:"name"`
	} `yaml:"marketplace" json:"marketplace"`
	Categories map[string]struct {
		Description string `yaml:"description" json:"description"`
	} `yaml:"categories" json:"categories"`
	Limits struct {
		MaxTags         int `yaml:"max_tags" json:"max_tags"`
		MaxMilestones   int `yaml:"max_milestones" json:"max_milestones"`
		MaxBidsPerJob   int `yaml:"max_bids_per_job" json:"max_bids_per_job"`
		MaxMessageBytes int `yaml:"max_message_bytes" json:"max_message_bytes"`
	} `yaml:"limits" json:"limits"`
	Disputes struct {
		Admins []string `yaml:"admins" json:"admins"`
	} `yaml:"disputes" json:"disputes"`
	Sweeper struct {
		Schedule string `yaml:"schedule" json:"schedule"`
	} `yaml:"sweeper" json:"sweeper"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks"`
}

// WebhookConfig is one event delivery target.
type WebhookConfig struct {
	URL     string   `yaml:"url" json:"url"`
	Events  []string `yaml:"events" json:"events"`
	Enabled *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// IsDisputeAdmin reports whether owner appears in the configured admin list.
func (c *Config) IsDisputeAdmin(owner string) bool {
	for _, a := range c.Disputes.Admins {
		if a == owner {
			return true
		}
	}
	return false
}

// KnownCategory reports whether the category is in the catalog. An empty
// catalog accepts everything.
func (c *Config) KnownCategory(category string) bool {
	if len(c.Categories) == 0 || category == "" {
		return true
	}
	_, ok := c.Categories[category]
	return ok
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Limits.MaxTags < 0 || c.Limits.MaxMilestones < 0 || c.Limits.MaxBidsPerJob < 0 {
		return fmt.Errorf("config.limits must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	for _, admin := range c.Disputes.Admins {
		if admin == "" {
			return fmt.Errorf("config.disputes.admins contains empty owner")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "marketplace.yml")
}

// Load reads config from workspace, falling back to defaults when the file
// does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// DefaultYAML returns the annotated starter config file.
func DefaultYAML() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Marketplace.Name == "" {
		cfg.Marketplace.Name = "agentmarket"
	}
	if cfg.Limits.MaxTags == 0 {
		cfg.Limits.MaxTags = 16
	}
	if cfg.Limits.MaxMilestones == 0 {
		cfg.Limits.MaxMilestones = 20
	}
	if cfg.Limits.MaxMessageBytes == 0 {
		cfg.Limits.MaxMessageBytes = 16 * 1024
	}
	if cfg.Sweeper.Schedule == "" {
		cfg.Sweeper.Schedule = "@every 5m"
	}
}

const defaultTemplate = `marketplace:
  name: agentmarket

categories:
  development:
    description: "Software development and integration work"
  data:
    description: "Data extraction, cleaning, and analysis"
  content:
    description: "Writing, summarization, and content generation"
  research:
    description: "Research, monitoring, and report compilation"
  operations:
    description: "Scheduled operational and maintenance tasks"

limits:
  max_tags: 16
  max_milestones: 20
  max_bids_per_job: 0
  max_message_bytes: 16384

disputes:
  admins: []

sweeper:
  schedule: "@every 5m"
`
