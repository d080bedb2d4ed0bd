package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validYAML() string {
	return `devops:
  organization: contoso
  tenant_id: tenant-1
  client_id: client-1
  client_secret: secret-1
llm:
  model: claude-sonnet-4-20250514
  use_bedrock: true
  aws_region: us-west-2
`
}

func TestFromYAMLValid(t *testing.T) {
	cfg, err := FromYAML([]byte(validYAML()))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if cfg.DevOps.Organization != "contoso" {
		t.Fatalf("organization = %q", cfg.DevOps.Organization)
	}
	if !cfg.LLM.UseBedrock {
		t.Fatal("expected use_bedrock true")
	}
}

func TestValidateMissingFields(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing organization",
			yaml: strings.Replace(validYAML(), "organization: contoso", "organization: \"\"", 1),
			want: "devops.organization",
		},
		{
			name: "missing tenant",
			yaml: strings.Replace(validYAML(), "tenant_id: tenant-1", "tenant_id: \"\"", 1),
			want: "devops.tenant_id",
		},
		{
			name: "missing model",
			yaml: strings.Replace(validYAML(), "model: claude-sonnet-4-20250514", "model: \"\"", 1),
			want: "llm.model",
		},
		{
			name: "bedrock without region",
			yaml: strings.Replace(validYAML(), "aws_region: us-west-2", "aws_region: \"\"", 1),
			want: "aws_region",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.want)
			}
		})
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.yml")
	if err := os.WriteFile(path, []byte(validYAML()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if cfg.DevOps.Organization != "contoso" {
		t.Fatalf("organization = %q", cfg.DevOps.Organization)
	}
	if _, err := FromFile(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateMetricsEndpoint(t *testing.T) {
	y := validYAML() + `metrics:
  enabled: true
`
	_, err := FromYAML([]byte(y))
	if err == nil || !strings.Contains(err.Error(), "otlp_endpoint") {
		t.Fatalf("expected otlp_endpoint error, got %v", err)
	}
}

func TestGenerateDefaultParses(t *testing.T) {
	// The generated template is a skeleton; it fails validation until
	// credentials are filled in, but it must be well-formed YAML.
	y := GenerateDefault("contoso")
	if !strings.Contains(y, "organization: contoso") {
		t.Fatal("template missing organization")
	}
	_, err := FromYAML([]byte(y))
	if err == nil {
		t.Fatal("expected validation failure for empty credentials")
	}
}
