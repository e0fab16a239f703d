package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"trackline/internal/authority"
	"trackline/internal/domain"
)

// Config models trackline.yml.
type Config struct {
	Program struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"program"`
	Profiles struct {
		// Custom named profiles beyond the built-in standard/critical,
		// validated at load time, never at evaluation time.
		Custom map[string][]int `yaml:"custom"`
	} `yaml:"profiles"`
	Escalation struct {
		// Notify maps alert level (1..3) to the role tiers alerted at
		// that level. Higher levels widen the audience.
		Notify map[int][]string `yaml:"notify"`
		// TickInterval is the default daemon tick cadence, e.g. "5m".
		TickInterval string `yaml:"tick_interval"`
	} `yaml:"escalation"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Validate ensures the config meets required structure. Threshold and
// role mistakes are rejected here, at write time.
func (c *Config) Validate() error {
	if c.Program.ID == "" {
		return fmt.Errorf("config.program.id is required")
	}
	for name, thresholds := range c.Profiles.Custom {
		if name == domain.ProfileStandard || name == domain.ProfileCritical {
			return fmt.Errorf("profile %s shadows a built-in profile", name)
		}
		if err := domain.ValidateThresholds(thresholds); err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
	}
	for level, roles := range c.Escalation.Notify {
		if level < 1 || level > domain.MaxEscalationLevel {
			return fmt.Errorf("escalation.notify level %d out of range 1..%d", level, domain.MaxEscalationLevel)
		}
		if len(roles) == 0 {
			return fmt.Errorf("escalation.notify level %d has no roles", level)
		}
		for _, r := range roles {
			if !authority.Known(authority.Role(r)) {
				return fmt.Errorf("escalation.notify level %d references unknown role %s", level, r)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Recipients returns the role tiers notified at the given level. Levels
// accumulate: level 2 includes everyone from level 1, and so on.
func (c *Config) Recipients(level int) []authority.Role {
	seen := map[authority.Role]bool{}
	var out []authority.Role
	for l := 1; l <= level && l <= domain.MaxEscalationLevel; l++ {
		for _, r := range c.Escalation.Notify[l] {
			role := authority.Role(r)
			if !seen[role] {
				seen[role] = true
				out = append(out, role)
			}
		}
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "trackline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", Path(workspace))
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config struct for a program.
func Default(programID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, programID))).Decode(&cfg)
	cfg.Program.ID = programID
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(programID string) string {
	return fmt.Sprintf(defaultTemplate, programID)
}

const defaultTemplate = `program:
  id: %s
  name: Default Program

profiles:
  custom: {}

escalation:
  notify:
    1: [lead]
    2: [lead, owner]
    3: [lead, owner, admin]
  tick_interval: 5m

webhooks: []
`
