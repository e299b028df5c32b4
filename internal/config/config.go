package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/berntpopp/gene-curator-sub000/internal/domain"
)

// Config models curator.yml (or curator.toml).
type Config struct {
	Workflow struct {
		Transitions  map[string][]string `yaml:"transitions" toml:"transitions"`
		Roles        map[string][]string `yaml:"roles" toml:"roles"`
		Requirements map[string][]string `yaml:"requirements" toml:"requirements"`
	} `yaml:"workflow" toml:"workflow"`
	Oracle struct {
		CacheTTLSeconds int `yaml:"cache_ttl_seconds" toml:"cache_ttl_seconds"`
	} `yaml:"oracle" toml:"oracle"`
	Database struct {
		Driver string `yaml:"driver" toml:"driver"`
		DSN    string `yaml:"dsn" toml:"dsn"`
	} `yaml:"database" toml:"database"`
	Log struct {
		Level  string `yaml:"level" toml:"level"`
		Format string `yaml:"format" toml:"format"`
	} `yaml:"log" toml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks" toml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" toml:"url"`
	Stages         []string `yaml:"stages" toml:"stages"`
	Secret         string   `yaml:"secret" toml:"secret"`
	Enabled        *bool    `yaml:"enabled" toml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// EdgeKey is the key used in workflow.roles for a from/to pair.
func EdgeKey(from, to domain.Stage) string {
	return string(from) + "->" + string(to)
}

// ParseEdgeKey splits a workflow.roles key into its stages.
func ParseEdgeKey(key string) (domain.Stage, domain.Stage, error) {
	parts := strings.Split(key, "->")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid edge key %q; expected from->to", key)
	}
	from, err := domain.ParseStage(strings.TrimSpace(parts[0]))
	if err != nil {
		return "", "", err
	}
	to, err := domain.ParseStage(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", "", err
	}
	return from, to, nil
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with curator config show > %s", path, path)
		}
		return nil, err
	}
	return FromFile(path)
}

// LoadOptional returns the default config if no file exists in the workspace.
func LoadOptional(workspace string) (*Config, error) {
	for _, path := range []string{Path(workspace), filepath.Join(workspaceDir(workspace), "curator.toml")} {
		if _, err := os.Stat(path); err == nil {
			return FromFile(path)
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return Default(), nil
}

// Validate ensures the workflow tables are complete and consistent.
func (c *Config) Validate() error {
	if len(c.Workflow.Transitions) == 0 {
		return fmt.Errorf("config.workflow.transitions is required")
	}
	edges := map[string]struct{}{}
	for fromRaw, targets := range c.Workflow.Transitions {
		from, err := domain.ParseStage(fromRaw)
		if err != nil {
			return fmt.Errorf("config.workflow.transitions: %w", err)
		}
		for _, toRaw := range targets {
			to, err := domain.ParseStage(toRaw)
			if err != nil {
				return fmt.Errorf("config.workflow.transitions.%s: %w", fromRaw, err)
			}
			if from == to {
				return fmt.Errorf("config.workflow.transitions: self-loop on %s", from)
			}
			if from == domain.StageActive && to != domain.StageReview {
				return fmt.Errorf("config.workflow.transitions: active may only move back to review, got %s", to)
			}
			edges[EdgeKey(from, to)] = struct{}{}
		}
	}
	for key, roles := range c.Workflow.Roles {
		from, to, err := ParseEdgeKey(key)
		if err != nil {
			return fmt.Errorf("config.workflow.roles: %w", err)
		}
		if _, ok := edges[EdgeKey(from, to)]; !ok {
			return fmt.Errorf("config.workflow.roles: %s is not a transition", key)
		}
		for _, r := range roles {
			if _, err := domain.ParseRole(r); err != nil {
				return fmt.Errorf("config.workflow.roles.%s: %w", key, err)
			}
		}
	}
	missing := []string{}
	for edge := range edges {
		if !c.hasRolesFor(edge) {
			missing = append(missing, edge)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("config.workflow.roles: no roles for transitions %s", strings.Join(missing, ", "))
	}
	for stage, reqs := range c.Workflow.Requirements {
		if _, err := domain.ParseStage(stage); err != nil {
			return fmt.Errorf("config.workflow.requirements: %w", err)
		}
		for _, req := range reqs {
			if strings.TrimSpace(req) == "" {
				return fmt.Errorf("config.workflow.requirements.%s has empty entry", stage)
			}
		}
	}
	if c.Oracle.CacheTTLSeconds < 0 {
		return fmt.Errorf("config.oracle.cache_ttl_seconds must not be negative")
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres")
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("config.database.dsn is required for postgres")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, s := range hook.Stages {
			if _, err := domain.ParseStage(s); err != nil {
				return fmt.Errorf("config.webhooks[%d].stages: %w", i, err)
			}
		}
	}
	return nil
}

// hasRolesFor matches edge keys after trimming, so "curation -> review" is accepted.
func (c *Config) hasRolesFor(edge string) bool {
	for key, roles := range c.Workflow.Roles {
		from, to, err := ParseEdgeKey(key)
		if err != nil {
			continue
		}
		if EdgeKey(from, to) == edge && len(roles) > 0 {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspaceDir(workspace), "curator.yml")
}

func workspaceDir(workspace string) string {
	if workspace == "" {
		return "."
	}
	return workspace
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
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

// FromTOML parses and validates config from raw TOML bytes.
func FromTOML(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads config from path, choosing the format by extension.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FromTOML(data)
	case ".yml", ".yaml", "":
		return FromYAML(data)
	default:
		return nil, fmt.Errorf("unsupported config format %s", filepath.Ext(path))
	}
}

const defaultTemplate = `workflow:
  transitions:
    entry: [precuration]
    precuration: [curation, entry]
    curation: [review, precuration]
    review: [active, curation]
    active: [review]

  roles:
    entry->precuration: [curator, scope_admin, admin]
    precuration->curation: [curator, scope_admin, admin]
    precuration->entry: [curator, scope_admin, admin]
    curation->review: [curator, scope_admin, admin]
    curation->precuration: [curator, scope_admin, admin]
    review->active: [reviewer, scope_admin, admin]
    review->curation: [reviewer, curator, scope_admin, admin]
    active->review: [scope_admin, admin]

  requirements:
    precuration:
      - "Gene must be identified by an HGNC identifier"
    curation:
      - "Disease association must be recorded"
      - "Mode of inheritance must be specified"
    review:
      - "Evidence summary must be complete"
      - "Computed evidence score should be available"
    active:
      - "All assigned peer reviews must be completed"
      - "Final classification should be confirmed"

oracle:
  cache_ttl_seconds: 30

database:
  driver: sqlite

log:
  level: info
  format: text
`
