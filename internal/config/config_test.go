package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	os.Unsetenv("LLM_API_KEY")
	os.Unsetenv("PORT")
	os.Unsetenv("CONFIG_PATH")

	cfg := LoadConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.ConcurrencyLimit != 10 {
		t.Errorf("expected concurrency limit 10, got %d", cfg.Server.ConcurrencyLimit)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected read timeout 10s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("expected write timeout 30s, got %v", cfg.Server.WriteTimeout)
	}
	if cfg.Server.MaxBodySize != 2*1024*1024 {
		t.Errorf("expected max body size 2MB, got %d", cfg.Server.MaxBodySize)
	}
	if cfg.Review.MaxDiffChars != 30_000 {
		t.Errorf("expected default max diff chars 30000, got %d", cfg.Review.MaxDiffChars)
	}
	if cfg.Review.MaxComments != 25 {
		t.Errorf("expected default max comments 25, got %d", cfg.Review.MaxComments)
	}
	if cfg.Review.MaxCommentsPerFile != 5 {
		t.Errorf("expected default max comments per file 5, got %d", cfg.Review.MaxCommentsPerFile)
	}
	if !cfg.Review.SkipDrafts {
		t.Errorf("expected skip_drafts default true")
	}
	if cfg.Review.PrecisionThreshold != 0.7 {
		t.Errorf("expected default precision threshold 0.7, got %v", cfg.Review.PrecisionThreshold)
	}
}

func TestLoadConfig_MCPTokensFromEnv(t *testing.T) {
	os.Setenv("BITBUCKET_MCP_TOKEN", "bb-token")
	os.Setenv("GITHUB_MCP_TOKEN", "gh-token")
	defer func() {
		os.Unsetenv("BITBUCKET_MCP_TOKEN")
		os.Unsetenv("GITHUB_MCP_TOKEN")
	}()

	cfg := LoadConfig()

	if cfg.MCP.Bitbucket.Token != "bb-token" {
		t.Errorf("expected bitbucket token, got %s", cfg.MCP.Bitbucket.Token)
	}
	if cfg.MCP.GitHub.Token != "gh-token" {
		t.Errorf("expected github token, got %s", cfg.MCP.GitHub.Token)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	yamlContent := `
log:
  level: DEBUG
server:
  port: 1234
  concurrency_limit: 5
llm:
  model: custom-model
mcp:
  bitbucket:
    endpoint: http://custom-bb:8080
review:
  max_comments: 10
`
	tmpfile, err := os.CreateTemp("", "config*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())

	if _, err := tmpfile.Write([]byte(yamlContent)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	os.Setenv("CONFIG_PATH", tmpfile.Name())
	defer os.Unsetenv("CONFIG_PATH")

	cfg := LoadConfig()

	if cfg.Log.Level != "DEBUG" {
		t.Errorf("expected Log.Level DEBUG, got %s", cfg.Log.Level)
	}
	if cfg.Server.Port != 1234 {
		t.Errorf("expected Port 1234, got %d", cfg.Server.Port)
	}
	if cfg.LLM.Model != "custom-model" {
		t.Errorf("expected LLM Model custom-model, got %s", cfg.LLM.Model)
	}
	if cfg.MCP.Bitbucket.Endpoint != "http://custom-bb:8080" {
		t.Errorf("expected Bitbucket Endpoint, got %s", cfg.MCP.Bitbucket.Endpoint)
	}
	if cfg.Review.MaxComments != 10 {
		t.Errorf("expected overridden max_comments 10, got %d", cfg.Review.MaxComments)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.LLM.APIKey = "key"
	cfg.MCP.Bitbucket.Endpoint = "http://bb"
	cfg.Review.PrecisionThreshold = 0.7

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}

	cfg.LLM.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected error for missing API key")
	}
}
