// Package main is the entry point for the cataloger service: a Temporal
// worker that runs catalog workflows against pooled code-execution sandboxes,
// plus a thin HTTP surface for starting runs and reading their results.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"

	"github.com/brojonat/cataloger/internal/agent"
	"github.com/brojonat/cataloger/internal/agent/providers"
	"github.com/brojonat/cataloger/internal/config"
	"github.com/brojonat/cataloger/internal/httpapi"
	"github.com/brojonat/cataloger/internal/notify"
	"github.com/brojonat/cataloger/internal/observability"
	"github.com/brojonat/cataloger/internal/sandbox"
	"github.com/brojonat/cataloger/internal/store"
	"github.com/brojonat/cataloger/internal/workflow"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "cataloger",
		Short:   "Cataloger runs durable LLM-driven database cataloging jobs",
		Version: fmt.Sprintf("%s (commit %s)", version, commit),
	}
	root.AddCommand(buildWorkerCmd())
	return root
}

func buildWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the Temporal worker and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

// sandboxFactory selects the Handle implementation a pool creates new
// sandboxes with: Docker containers by default, or Firecracker microVMs when
// the operator opts into hardware-enforced isolation.
func sandboxFactory(cfg *config.Config) sandbox.Factory {
	if cfg.SandboxBackend == "firecracker" {
		fcCfg := cfg.FirecrackerHandleConfig()
		return func(ctx context.Context) (sandbox.Handle, error) {
			return sandbox.NewFirecrackerHandle(ctx, fcCfg)
		}
	}
	dockerCfg := cfg.DockerHandleConfig()
	return func(ctx context.Context) (sandbox.Handle, error) {
		return sandbox.NewDockerHandle(ctx, dockerCfg)
	}
}

func runWorker(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	cfgWatcher, err := cfg.Watch(ctx, logger)
	if err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}
	defer cfgWatcher.Close()

	catalogStore, err := store.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	metrics := observability.NewMetrics()

	tracer, shutdownTracer := observability.NewTracer(cfg.TraceConfig())
	defer shutdownTracer(context.Background())

	pool := sandbox.NewPool(
		sandboxFactory(cfg),
		sandbox.PoolConfig{MaxSize: cfg.SandboxPoolSize, IdleTimeout: cfg.SandboxIdleTimeout},
		logger,
	)
	pool.SetMetrics(metrics)
	defer pool.Close(context.Background())

	cleanup := cron.New()
	if _, err := cleanup.AddFunc("@every 1m", func() { pool.Cleanup(context.Background()) }); err != nil {
		return fmt.Errorf("schedule sandbox cleanup: %w", err)
	}
	cleanup.Start()
	defer cleanup.Stop()

	var provider agent.Provider
	switch cfg.LLMProvider {
	case "openai":
		provider = providers.NewOpenAIProvider(cfg.OpenAIAPIKey)
	case "bedrock":
		bp, err := providers.NewBedrockProvider(ctx, cfg.BedrockRegion)
		if err != nil {
			return fmt.Errorf("construct bedrock provider: %w", err)
		}
		provider = bp
	case "gemini":
		gp, err := providers.NewGeminiProvider(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return fmt.Errorf("construct gemini provider: %w", err)
		}
		provider = gp
	default:
		provider = providers.NewAnthropicProvider(cfg.AnthropicAPIKey)
	}
	prompts := config.NewPromptSource(cfg)
	loopCfg := agent.DefaultConfig(cfg.Model)

	acts := workflow.NewActivities(pool, catalogStore, provider, prompts, loopCfg, logger)
	acts.Metrics = metrics
	acts.Tracer = tracer
	acts.Notifier = notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannelID)

	temporalClient, err := workflow.NewClient(cfg.TemporalHostPort, cfg.TemporalNamespace)
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	defer temporalClient.Close()

	w := worker.New(temporalClient, cfg.TaskQueue, worker.Options{})
	workflow.RegisterWith(w, acts)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := w.Start(); err != nil {
		return fmt.Errorf("start temporal worker: %w", err)
	}
	defer w.Stop()

	httpSrv := &httpapi.Server{
		Temporal:   temporalClient,
		TaskQueue:  cfg.TaskQueue,
		Store:      catalogStore,
		StoreCreds: cfg.StoreCreds(),
		AuthToken:  cfg.AuthToken,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
	}
	mux := http.NewServeMux()
	httpSrv.Mount(mux)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	httpErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	logger.Info(ctx, "cataloger worker started", "http_addr", cfg.HTTPAddr, "task_queue", cfg.TaskQueue)

	select {
	case <-ctx.Done():
	case err := <-httpErrCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info(ctx, "shutdown signal received, stopping worker")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	return nil
}
