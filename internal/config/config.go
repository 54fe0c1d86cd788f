package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models bountyline.yml. It is imported into the DB and read back
// from there; the file itself is only touched by explicit import/export.
type Config struct {
	Settlement SettlementConfig `yaml:"settlement" json:"settlement"`
	Proof      ProofConfig      `yaml:"proof" json:"proof"`
	Webhooks   []WebhookConfig  `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// SettlementConfig holds the streak bonus policy applied when credits are
// minted for an approved contract.
type SettlementConfig struct {
	Streak StreakPolicy `yaml:"streak" json:"streak"`
}

// StreakPolicy controls the consecutive-day bonus. A streak shorter than
// MinDays earns no bonus; each qualifying day adds BonusPercentPerDay,
// capped at MaxBonusPercent.
type StreakPolicy struct {
	MinDays            int `yaml:"min_days" json:"min_days"`
	BonusPercentPerDay int `yaml:"bonus_percent_per_day" json:"bonus_percent_per_day"`
	MaxBonusPercent    int `yaml:"max_bonus_percent" json:"max_bonus_percent"`
}

// ProofConfig constrains proof attachments.
type ProofConfig struct {
	MaxAttachmentBytes  int64    `yaml:"max_attachment_bytes" json:"max_attachment_bytes"`
	AllowedContentTypes []string `yaml:"allowed_content_types" json:"allowed_content_types"`
}

// WebhookConfig describes one change-notification consumer.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	s := c.Settlement.Streak
	if s.MinDays < 0 {
		return fmt.Errorf("settlement.streak.min_days must be >= 0")
	}
	if s.BonusPercentPerDay < 0 {
		return fmt.Errorf("settlement.streak.bonus_percent_per_day must be >= 0")
	}
	if s.MaxBonusPercent < 0 {
		return fmt.Errorf("settlement.streak.max_bonus_percent must be >= 0")
	}
	if c.Proof.MaxAttachmentBytes <= 0 {
		return fmt.Errorf("proof.max_attachment_bytes must be > 0")
	}
	if len(c.Proof.AllowedContentTypes) == 0 {
		return fmt.Errorf("proof.allowed_content_types is required")
	}
	for _, ct := range c.Proof.AllowedContentTypes {
		if strings.TrimSpace(ct) == "" {
			return fmt.Errorf("proof.allowed_content_types contains empty entry")
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

// AllowsContentType reports whether an attachment content type is accepted.
// Entries ending in "/" match as prefixes (e.g. "image/").
func (c *Config) AllowsContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	for _, allowed := range c.Proof.AllowedContentTypes {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if strings.HasSuffix(allowed, "/") {
			if strings.HasPrefix(ct, allowed) {
				return true
			}
		} else if ct == allowed {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bountyline.yml")
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with bl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in default config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
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

const defaultTemplate = `settlement:
  streak:
    min_days: 3
    bonus_percent_per_day: 10
    max_bonus_percent: 50

proof:
  max_attachment_bytes: 10485760
  allowed_content_types:
    - image/
    - application/pdf
    - text/plain
`
