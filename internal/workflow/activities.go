// Package workflow durably orchestrates one catalog run: acquire a sandbox,
// run the cataloging agent, persist its output, run the summary agent over
// the same session, persist that, then release the sandbox. Temporal gives
// each activity its own recorded history entry, so a worker crash mid-run
// resumes from the last completed step instead of restarting the agent from
// scratch.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brojonat/cataloger/internal/agent"
	"github.com/brojonat/cataloger/internal/catalogerr"
	"github.com/brojonat/cataloger/internal/contextdoc"
	"github.com/brojonat/cataloger/internal/dbcheck"
	"github.com/brojonat/cataloger/internal/notify"
	"github.com/brojonat/cataloger/internal/observability"
	"github.com/brojonat/cataloger/internal/sandbox"
	"github.com/brojonat/cataloger/internal/store"
)

// PromptSource resolves the two system prompts the run needs. Production
// wiring decodes them from base64-encoded YAML environment variables (see
// internal/config); tests can substitute a fixed pair.
type PromptSource interface {
	CatalogingPrompt() (string, error)
	SummaryPrompt() (string, error)
}

// Activities holds everything the workflow's steps need: the sandbox pool,
// the durable store, the model provider, and prompt configuration. Because
// Temporal activity inputs/outputs must be serializable, a live sandbox
// session is represented to the workflow only by an opaque session ID; the
// actual *sandbox.Leased lives in the local sessions map on this worker
// process.
type Activities struct {
	Pool     *sandbox.Pool
	Store    *store.CatalogStore
	Provider agent.Provider
	Prompts  PromptSource
	Logger   *observability.Logger
	LoopCfg  agent.Config
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
	Notifier *notify.SlackNotifier

	mu       sync.Mutex
	sessions map[string]*sandbox.Leased
}

// tracer returns a.Tracer, falling back to a no-op tracer so activity code
// never has to nil-check it.
func (a *Activities) tracer() *observability.Tracer {
	if a.Tracer != nil {
		return a.Tracer
	}
	return observability.NoopTracer()
}

// NewActivities constructs an Activities bound to its dependencies.
func NewActivities(pool *sandbox.Pool, st *store.CatalogStore, provider agent.Provider, prompts PromptSource, loopCfg agent.Config, logger *observability.Logger) *Activities {
	return &Activities{
		Pool:     pool,
		Store:    st,
		Provider: provider,
		Prompts:  prompts,
		LoopCfg:  loopCfg,
		Logger:   logger,
		sessions: make(map[string]*sandbox.Leased),
	}
}

// RunOutcomeInput reports a completed workflow run to the metrics sink. The
// workflow itself measures elapsed time with workflow.Now, since the
// replay-safe workflow goroutine cannot call time.Now or touch Metrics
// directly.
type RunOutcomeInput struct {
	Prefix          string
	Status          string
	DurationSeconds float64
	Detail          string
}

func (a *Activities) RecordRunOutcome(ctx context.Context, in RunOutcomeInput) error {
	a.Metrics.RecordWorkflowRun(in.Status, in.DurationSeconds)
	if nerr := a.Notifier.Notify(ctx, notify.RunOutcome{
		Prefix:   in.Prefix,
		Status:   in.Status,
		Duration: time.Duration(in.DurationSeconds * float64(time.Second)).Round(time.Second).String(),
		Detail:   in.Detail,
	}); nerr != nil {
		a.Logger.Warn(ctx, "slack notification failed", "error", nerr)
	}
	return nil
}

// LoadPromptsInput/Output carry the two system prompts the run needs,
// loaded once up front so both agent phases see a consistent configuration
// even if the environment changes mid-run.
type LoadPromptsOutput struct {
	CatalogPrompt string
	SummaryPrompt string
}

func (a *Activities) LoadPrompts(ctx context.Context) (*LoadPromptsOutput, error) {
	catalogPrompt, err := a.Prompts.CatalogingPrompt()
	if err != nil {
		return nil, catalogerr.Wrap(catalogerr.ConfigMissing, "workflow.load_prompts", err)
	}
	summaryPrompt, err := a.Prompts.SummaryPrompt()
	if err != nil {
		return nil, catalogerr.Wrap(catalogerr.ConfigMissing, "workflow.load_prompts", err)
	}
	return &LoadPromptsOutput{CatalogPrompt: catalogPrompt, SummaryPrompt: summaryPrompt}, nil
}

// CheckDatabaseConnectivity pings the run's target database before a
// sandbox is acquired, so a bad connection string fails the workflow with a
// clear db_unreachable error instead of surfacing as an opaque agent
// execution failure several steps later.
func (a *Activities) CheckDatabaseConnectivity(ctx context.Context, dbConn string) error {
	return dbcheck.Ping(ctx, dbConn, dbcheck.DefaultConfig())
}

// AcquireSandboxInput describes the per-run environment the sandbox needs.
type AcquireSandboxInput struct {
	DBConnectionString string
	StoreCreds         sandbox.StoreCreds
}

func (a *Activities) AcquireSandbox(ctx context.Context, in AcquireSandboxInput) (string, error) {
	ctx, span := a.tracer().TraceSandboxAcquire(ctx)
	defer span.End()

	leased, err := a.Pool.Acquire(ctx, in.DBConnectionString, in.StoreCreds)
	if err != nil {
		a.tracer().RecordError(span, err)
		return "", err
	}
	sessionID := fmt.Sprintf("sess-%d", time.Now().UnixNano())

	a.mu.Lock()
	a.sessions[sessionID] = leased
	a.mu.Unlock()
	return sessionID, nil
}

func (a *Activities) getSession(sessionID string) (*sandbox.Leased, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	leased, ok := a.sessions[sessionID]
	if !ok {
		return nil, catalogerr.New(catalogerr.SandboxLost, "workflow.session", "unknown sandbox session %s", sessionID)
	}
	return leased, nil
}

// AssembleContext renders the HTML context document for the given prefix,
// bundling the previous run's catalog, summary, script, and comments.
func (a *Activities) AssembleContext(ctx context.Context, prefix string) (string, error) {
	return contextdoc.Assemble(ctx, a.Store, prefix, "")
}

// RunAgentInput drives one phase of the agent loop (cataloging or summary).
type RunAgentInput struct {
	SessionID     string
	SystemPrompt  string
	SeedMessage   string
}

type RunAgentOutput struct {
	Content    string
	Script     string
	Iterations int
	Usage      agent.Usage
}

func (a *Activities) RunAgent(ctx context.Context, in RunAgentInput) (*RunAgentOutput, error) {
	leased, err := a.getSession(in.SessionID)
	if err != nil {
		return nil, err
	}

	ctx, span := a.tracer().Start(ctx, "agent.run")
	defer span.End()

	loop := agent.NewLoop(a.Provider, leased.Runtime, a.LoopCfg, a.Logger)
	loop.SetMetrics(a.Metrics)
	loop.SetTracer(a.tracer())
	result, err := loop.Run(ctx, in.SystemPrompt, in.SeedMessage)
	if err != nil {
		a.tracer().RecordError(span, err)
		return nil, err
	}
	return &RunAgentOutput{
		Content:    result.Content,
		Script:     leased.Runtime.GetSessionScript(),
		Iterations: result.Iterations,
		Usage:      result.Usage,
	}, nil
}

// ResetSandbox clears a session's interpreter state between the cataloging
// and summary phases, so the summary agent starts from a clean kernel.
func (a *Activities) ResetSandbox(ctx context.Context, sessionID string) error {
	leased, err := a.getSession(sessionID)
	if err != nil {
		return err
	}
	return leased.Runtime.Reset(ctx)
}

// ReleaseSandbox returns the session's sandbox to the pool and forgets the
// session ID. Always called, even on a failed run, so sandboxes are never
// leaked.
func (a *Activities) ReleaseSandbox(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	leased, ok := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	a.Pool.Release(ctx, leased)
	return nil
}

// WriteArtifactInput persists one HTML document and its replay script for a
// run.
type WriteArtifactInput struct {
	Prefix    string
	Timestamp string
	HTML      string
	Script    string
	Kind      string // "catalog" or "summary"
}

// WriteCatalogArtifact writes the replay script before catalog.html so a
// failure partway through this activity (it is not retried, see
// activityOpts.RetryPolicy in catalog.go) never leaves the HTML artifact
// present without the script that produced it.
func (a *Activities) WriteCatalogArtifact(ctx context.Context, in WriteArtifactInput) error {
	if err := a.Store.WriteScript(ctx, in.Prefix, in.Timestamp, store.CatalogScript, in.Script); err != nil {
		return err
	}
	return a.Store.WriteCatalog(ctx, in.Prefix, in.Timestamp, in.HTML)
}

// WriteSummaryArtifact writes summary_script.py before recent_summary.html.
// recent_summary.html is the publication barrier: consumers that observe its
// presence assume every artifact for the run already exists, so it must be
// the last write in this non-retried activity.
func (a *Activities) WriteSummaryArtifact(ctx context.Context, in WriteArtifactInput) error {
	if err := a.Store.WriteScript(ctx, in.Prefix, in.Timestamp, store.SummaryScript, in.Script); err != nil {
		return err
	}
	return a.Store.WriteSummary(ctx, in.Prefix, in.Timestamp, in.HTML)
}
