package config

import (
	"encoding/base64"
	"testing"

	"github.com/brojonat/cataloger/internal/catalogerr"
)

func clearCatalogerEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "CATALOGER_LLM_PROVIDER", "S3_BUCKET", "TEMPORAL_HOST_PORT", "SANDBOX_POOL_SIZE",
		"S3_USE_PATH_STYLE", "SANDBOX_IDLE_TIMEOUT", "CATALOGING_AGENT_PROMPT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadRequiresAnthropicAPIKeyAndBucket(t *testing.T) {
	clearCatalogerEnv(t)

	if _, err := Load(); !catalogerr.Is(err, catalogerr.ConfigMissing) {
		t.Fatalf("expected ConfigMissing without ANTHROPIC_API_KEY, got %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	if _, err := Load(); !catalogerr.Is(err, catalogerr.ConfigMissing) {
		t.Fatalf("expected ConfigMissing without S3_BUCKET, got %v", err)
	}

	t.Setenv("S3_BUCKET", "cataloger-artifacts")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TemporalHostPort != "localhost:7233" {
		t.Fatalf("expected default TemporalHostPort, got %q", cfg.TemporalHostPort)
	}
	if cfg.SandboxPoolSize != 4 {
		t.Fatalf("expected default SandboxPoolSize 4, got %d", cfg.SandboxPoolSize)
	}
}

func TestLoadHonorsOverrides(t *testing.T) {
	clearCatalogerEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("S3_BUCKET", "cataloger-artifacts")
	t.Setenv("SANDBOX_POOL_SIZE", "9")
	t.Setenv("S3_USE_PATH_STYLE", "true")
	t.Setenv("SANDBOX_IDLE_TIMEOUT", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SandboxPoolSize != 9 {
		t.Fatalf("expected SandboxPoolSize 9, got %d", cfg.SandboxPoolSize)
	}
	if !cfg.Store.UsePathStyle {
		t.Fatalf("expected UsePathStyle true")
	}
	if cfg.SandboxIdleTimeout.Seconds() != 90 {
		t.Fatalf("expected 90s idle timeout, got %s", cfg.SandboxIdleTimeout)
	}
}

func TestLoadRequiresOpenAIAPIKeyWhenSelected(t *testing.T) {
	clearCatalogerEnv(t)
	t.Setenv("CATALOGER_LLM_PROVIDER", "openai")
	t.Setenv("S3_BUCKET", "cataloger-artifacts")

	if _, err := Load(); !catalogerr.Is(err, catalogerr.ConfigMissing) {
		t.Fatalf("expected ConfigMissing without OPENAI_API_KEY, got %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLMProvider != "openai" {
		t.Fatalf("expected LLMProvider openai, got %q", cfg.LLMProvider)
	}
}

func TestLoadEncodedPromptDecodesBase64YAML(t *testing.T) {
	clearCatalogerEnv(t)
	raw := "prompt: |\n  You are a careful cataloging agent.\n"
	t.Setenv("CATALOGING_AGENT_PROMPT", base64.StdEncoding.EncodeToString([]byte(raw)))

	got, err := loadEncodedPrompt("CATALOGING_AGENT_PROMPT")
	if err != nil {
		t.Fatalf("loadEncodedPrompt: %v", err)
	}
	if got != "You are a careful cataloging agent.\n" {
		t.Fatalf("unexpected decoded prompt: %q", got)
	}
}

func TestLoadEncodedPromptMissingEnvVar(t *testing.T) {
	clearCatalogerEnv(t)
	if _, err := loadEncodedPrompt("CATALOGING_AGENT_PROMPT"); !catalogerr.Is(err, catalogerr.ConfigMissing) {
		t.Fatalf("expected ConfigMissing for missing env var, got %v", err)
	}
}
