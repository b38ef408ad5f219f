// Package config loads the flat environment-variable configuration the
// cataloger binary runs with: Temporal connection, sandbox image/limits, the
// backing object store, and the Anthropic model used for both agent phases.
package config

import (
	"encoding/base64"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brojonat/cataloger/internal/catalogerr"
	"github.com/brojonat/cataloger/internal/observability"
	"github.com/brojonat/cataloger/internal/sandbox"
	"github.com/brojonat/cataloger/internal/store"
)

// Config is the full process configuration, loaded once at startup.
type Config struct {
	TemporalHostPort  string
	TemporalNamespace string
	TaskQueue         string

	AnthropicAPIKey string
	OpenAIAPIKey    string
	GeminiAPIKey    string
	LLMProvider     string // "anthropic" (default), "openai", "bedrock", or "gemini"
	Model           string

	SandboxBackend       string // "docker" (default) or "firecracker"
	SandboxImage         string
	SandboxCPUs          string
	SandboxMemory        string
	SandboxPoolSize      int
	SandboxIdleTimeout   time.Duration
	SandboxWorkspacePath string
	SandboxWorkspaceMode sandbox.WorkspaceAccessMode

	FirecrackerKernelPath string
	FirecrackerRootFSPath string
	FirecrackerVCPUs      int64
	FirecrackerMemSizeMB  int64

	Store store.Config

	HTTPAddr   string
	AuthToken  string
	LogLevel   string
	LogFormat  string

	CatalogPromptEnv string
	SummaryPromptEnv string

	BedrockRegion string

	OTelEndpoint    string
	OTelSampleRatio float64
	ServiceVersion  string
	Environment     string

	SlackBotToken   string
	SlackChannelID  string

	configFilePath string
}

// fileOverrides is the subset of Config that a deployment can override via
// an optional YAML file, for settings operators tune per environment
// without touching the process environment block.
type fileOverrides struct {
	LLMProvider     string `yaml:"llm_provider"`
	Model           string `yaml:"model"`
	SandboxPoolSize int    `yaml:"sandbox_pool_size"`
	LogLevel        string `yaml:"log_level"`
}

// Load reads Config from the process environment, applying the same
// defaults the original cataloger deployment shipped with.
func Load() (*Config, error) {
	cfg := &Config{
		TemporalHostPort:     getEnv("TEMPORAL_HOST_PORT", "localhost:7233"),
		TemporalNamespace:    getEnv("TEMPORAL_NAMESPACE", "default"),
		TaskQueue:            getEnv("TEMPORAL_TASK_QUEUE", "cataloger"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		LLMProvider:          getEnv("CATALOGER_LLM_PROVIDER", "anthropic"),
		Model:                getEnv("CATALOGER_MODEL", "claude-sonnet-4-5-20260101"),
		SandboxBackend:       getEnv("SANDBOX_BACKEND", "docker"),
		SandboxImage:         getEnv("SANDBOX_IMAGE", "cataloger-sandbox:latest"),
		SandboxCPUs:          getEnv("SANDBOX_CPUS", "1.0"),
		SandboxMemory:        getEnv("SANDBOX_MEMORY", "2g"),
		SandboxPoolSize:      getEnvInt("SANDBOX_POOL_SIZE", 4),
		SandboxIdleTimeout:   getEnvDuration("SANDBOX_IDLE_TIMEOUT", 10*time.Minute),
		SandboxWorkspacePath: getEnv("SANDBOX_WORKSPACE_PATH", ""),
		SandboxWorkspaceMode: sandbox.ParseWorkspaceAccess(getEnv("SANDBOX_WORKSPACE_ACCESS", "readonly")),

		FirecrackerKernelPath: os.Getenv("FIRECRACKER_KERNEL_PATH"),
		FirecrackerRootFSPath: os.Getenv("FIRECRACKER_ROOTFS_PATH"),
		FirecrackerVCPUs:      int64(getEnvInt("FIRECRACKER_VCPUS", 1)),
		FirecrackerMemSizeMB:  int64(getEnvInt("FIRECRACKER_MEM_MB", 2048)),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		AuthToken:            os.Getenv("CATALOGER_AUTH_TOKEN"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		CatalogPromptEnv:     getEnv("CATALOGING_AGENT_PROMPT_VAR", "CATALOGING_AGENT_PROMPT"),
		SummaryPromptEnv:     getEnv("SUMMARY_AGENT_PROMPT_VAR", "SUMMARY_AGENT_PROMPT"),
		Store: store.Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("AWS_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", false),
		},
		BedrockRegion: getEnv("BEDROCK_REGION", getEnv("AWS_REGION", "us-east-1")),

		OTelEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelSampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
		ServiceVersion:  getEnv("CATALOGER_VERSION", "dev"),
		Environment:     getEnv("CATALOGER_ENVIRONMENT", "development"),

		SlackBotToken:  os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannelID: os.Getenv("SLACK_NOTIFY_CHANNEL"),
	}

	if path := strings.TrimSpace(os.Getenv("CATALOGER_CONFIG_FILE")); path != "" {
		if err := applyFileOverrides(cfg, path); err != nil {
			return nil, catalogerr.Wrap(catalogerr.ConfigMissing, "config.load_file", err)
		}
		cfg.configFilePath = path
	}

	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, catalogerr.New(catalogerr.ConfigMissing, "config.load", "OPENAI_API_KEY is required")
		}
	case "bedrock":
		if cfg.BedrockRegion == "" {
			return nil, catalogerr.New(catalogerr.ConfigMissing, "config.load", "BEDROCK_REGION is required")
		}
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, catalogerr.New(catalogerr.ConfigMissing, "config.load", "GEMINI_API_KEY is required")
		}
	default:
		if cfg.AnthropicAPIKey == "" {
			return nil, catalogerr.New(catalogerr.ConfigMissing, "config.load", "ANTHROPIC_API_KEY is required")
		}
	}
	if cfg.Store.Bucket == "" {
		return nil, catalogerr.New(catalogerr.ConfigMissing, "config.load", "S3_BUCKET is required")
	}
	if cfg.SandboxBackend == "firecracker" {
		if cfg.FirecrackerKernelPath == "" || cfg.FirecrackerRootFSPath == "" {
			return nil, catalogerr.New(catalogerr.ConfigMissing, "config.load",
				"FIRECRACKER_KERNEL_PATH and FIRECRACKER_ROOTFS_PATH are required when SANDBOX_BACKEND=firecracker")
		}
	}
	return cfg, nil
}

// StoreCreds derives the credentials every acquired sandbox needs to reach
// the same object store the workflow persists artifacts to.
func (c *Config) StoreCreds() sandbox.StoreCreds {
	return sandbox.StoreCreds{
		Bucket:          c.Store.Bucket,
		Region:          c.Store.Region,
		Endpoint:        c.Store.Endpoint,
		AccessKeyID:     c.Store.AccessKeyID,
		SecretAccessKey: c.Store.SecretAccessKey,
	}
}

// DockerHandleConfig builds the resource limits every pooled sandbox container
// starts with.
func (c *Config) DockerHandleConfig() sandbox.DockerHandleConfig {
	return sandbox.DockerHandleConfig{
		Image:             c.SandboxImage,
		CPUs:              c.SandboxCPUs,
		Memory:            c.SandboxMemory,
		WorkspaceHostPath: c.SandboxWorkspacePath,
		WorkspaceAccess:   c.SandboxWorkspaceMode,
	}
}

// FirecrackerHandleConfig builds the microVM resource limits used when
// SandboxBackend is "firecracker".
func (c *Config) FirecrackerHandleConfig() sandbox.FirecrackerConfig {
	return sandbox.FirecrackerConfig{
		KernelPath: c.FirecrackerKernelPath,
		RootFSPath: c.FirecrackerRootFSPath,
		VCPUs:      c.FirecrackerVCPUs,
		MemSizeMB:  c.FirecrackerMemSizeMB,
	}
}

// TraceConfig builds the OpenTelemetry tracer configuration for this
// process. An empty OTelEndpoint yields a no-op tracer.
func (c *Config) TraceConfig() observability.TraceConfig {
	return observability.TraceConfig{
		ServiceName:    "cataloger",
		ServiceVersion: c.ServiceVersion,
		Environment:    c.Environment,
		Endpoint:       c.OTelEndpoint,
		SamplingRate:   c.OTelSampleRatio,
	}
}

// PromptSource implements workflow.PromptSource by decoding the two system
// prompts from base64-encoded plain text in the environment, so prompt
// edits don't require a code change or redeploy.
type PromptSource struct {
	CatalogEnvVar string
	SummaryEnvVar string
}

// NewPromptSource builds a PromptSource bound to cfg's configured env var
// names.
func NewPromptSource(cfg *Config) *PromptSource {
	return &PromptSource{CatalogEnvVar: cfg.CatalogPromptEnv, SummaryEnvVar: cfg.SummaryPromptEnv}
}

func (p *PromptSource) CatalogingPrompt() (string, error) {
	return loadEncodedPrompt(p.CatalogEnvVar)
}

func (p *PromptSource) SummaryPrompt() (string, error) {
	return loadEncodedPrompt(p.SummaryEnvVar)
}

func loadEncodedPrompt(envVar string) (string, error) {
	encoded := os.Getenv(envVar)
	if encoded == "" {
		return "", catalogerr.New(catalogerr.ConfigMissing, "config.load_prompt", "missing environment variable: %s", envVar)
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", catalogerr.Wrap(catalogerr.ConfigMissing, "config.load_prompt", err)
	}
	return string(decoded), nil
}

// applyFileOverrides merges a small set of operator-tunable settings from a
// YAML file on top of the environment-derived defaults. Fields left blank
// or zero in the file do not override their environment value.
func applyFileOverrides(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f fileOverrides
	if err := parseFileOverrides(data, &f); err != nil {
		return err
	}
	mergeFileOverrides(cfg, f)
	return nil
}

// parseFileOverrides decodes the YAML override document shared by the
// initial Load and the hot-reload Watcher.
func parseFileOverrides(data []byte, f *fileOverrides) error {
	return yaml.Unmarshal(data, f)
}

// mergeFileOverrides applies non-zero fields from f on top of cfg. Fields
// left blank or zero in the file leave cfg's existing value untouched.
func mergeFileOverrides(cfg *Config, f fileOverrides) {
	if f.LLMProvider != "" {
		cfg.LLMProvider = f.LLMProvider
	}
	if f.Model != "" {
		cfg.Model = f.Model
	}
	if f.SandboxPoolSize > 0 {
		cfg.SandboxPoolSize = f.SandboxPoolSize
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
