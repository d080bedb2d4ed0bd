package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models taskgenie.yml.
type Config struct {
	DevOps struct {
		Organization  string `yaml:"organization"`
		Project       string `yaml:"project"`
		TenantID      string `yaml:"tenant_id"`
		ClientID      string `yaml:"client_id"`
		ClientSecret  string `yaml:"client_secret"`
		Scope         string `yaml:"scope"`
		WebhookSecret string `yaml:"webhook_secret"`
		MentionUser   string `yaml:"mention_user"`
	} `yaml:"devops"`
	LLM struct {
		Model       string  `yaml:"model"`
		APIKey      string  `yaml:"api_key"`
		UseBedrock  bool    `yaml:"use_bedrock"`
		AWSRegion   string  `yaml:"aws_region"`
		AWSProfile  string  `yaml:"aws_profile"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"llm"`
	Metrics struct {
		Enabled      bool   `yaml:"enabled"`
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		Insecure     bool   `yaml:"insecure"`
	} `yaml:"metrics"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with taskgenie config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.DevOps.Organization == "" {
		return fmt.Errorf("config.devops.organization is required")
	}
	if c.DevOps.TenantID == "" {
		return fmt.Errorf("config.devops.tenant_id is required")
	}
	if c.DevOps.ClientID == "" {
		return fmt.Errorf("config.devops.client_id is required")
	}
	if c.DevOps.ClientSecret == "" {
		return fmt.Errorf("config.devops.client_secret is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("config.llm.model is required")
	}
	if c.LLM.UseBedrock {
		if c.LLM.AWSRegion == "" {
			return fmt.Errorf("config.llm.aws_region is required when use_bedrock is set")
		}
	} else if c.LLM.APIKey == "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
		return fmt.Errorf("config.llm.api_key or ANTHROPIC_API_KEY is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("config.llm.temperature must be in [0,1]")
	}
	if c.Metrics.Enabled && c.Metrics.OTLPEndpoint == "" {
		return fmt.Errorf("config.metrics.otlp_endpoint is required when metrics are enabled")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskgenie.yml")
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

// GenerateDefault returns default config YAML for a new workspace.
func GenerateDefault(organization string) string {
	return fmt.Sprintf(defaultTemplate, organization)
}

const defaultTemplate = `devops:
  organization: %s
  project: ""
  tenant_id: ""
  client_id: ""
  client_secret: ""
  scope: "499b84ac-1321-427f-aa17-267ca6975798/.default"
  webhook_secret: ""
  mention_user: ""

llm:
  model: claude-sonnet-4-20250514
  use_bedrock: false
  aws_region: ""
  aws_profile: ""
  temperature: 0.5

metrics:
  enabled: false
  otlp_endpoint: "localhost:4317"
  insecure: true
`
