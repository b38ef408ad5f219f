package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/brojonat/cataloger/internal/sandbox"
	"github.com/brojonat/cataloger/internal/store"
)

// Name is the Temporal workflow type registered for catalog runs.
const Name = "CatalogWorkflow"

// TaskQueue is the default Temporal task queue catalog workers poll.
const TaskQueue = "cataloger"

// Input starts one catalog run.
type Input struct {
	DBConnectionString string
	Tables             []string
	Prefix             string
	StoreCreds         sandbox.StoreCreds
}

// Output is returned to the caller once a run completes.
type Output struct {
	Timestamp        string
	CatalogKey       string
	CatalogScriptKey string
	SummaryKey       string
	SummaryScriptKey string
	Prefix           string
}

var activityOpts = workflow.ActivityOptions{
	StartToCloseTimeout: 20 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		MaximumAttempts: 1, // a failed agent run is not safely retryable mid-session
	},
}

// Run orchestrates a single catalog run end to end:
//  1. generate the run timestamp
//  2. load the cataloging and summary system prompts
//  3. ping the target database before committing a sandbox to it
//  4. acquire a sandbox
//  5. assemble this prefix's prior-run context for the cataloging agent
//  6. run the cataloging agent
//  7. persist the catalog HTML and its replay script
//  8. reset the sandbox's interpreter session
//  9. assemble context for the summary agent
//  10. run the summary agent
//  11. persist the summary HTML and its replay script, then release the sandbox
//
// The sandbox is released in all cases, including failure, via a deferred
// activity executed through workflow.NewDisconnectedContext so cleanup still
// runs after a cancellation.
func Run(ctx workflow.Context, in Input) (out *Output, err error) {
	ctx = workflow.WithActivityOptions(ctx, activityOpts)
	logger := workflow.GetLogger(ctx)

	// a is never dereferenced here: ExecuteActivity resolves the activity to
	// invoke by its registered name, derived from the method value's
	// qualified function name, not by calling through this receiver.
	var a *Activities

	runStart := workflow.Now(ctx)
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		outcome := RunOutcomeInput{
			Prefix:          in.Prefix,
			Status:          status,
			DurationSeconds: workflow.Now(ctx).Sub(runStart).Seconds(),
			Detail:          detail,
		}
		dctx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		dctx = workflow.WithActivityOptions(dctx, activityOpts)
		if rerr := workflow.ExecuteActivity(dctx, a.RecordRunOutcome, outcome).Get(dctx, nil); rerr != nil {
			logger.Error("record run outcome failed", "error", rerr)
		}
	}()

	var timestamp string
	if err := workflow.SideEffect(ctx, func(workflow.Context) any {
		return store.GenerateTimestamp(time.Now())
	}).Get(&timestamp); err != nil {
		return nil, fmt.Errorf("generate timestamp: %w", err)
	}

	var prompts LoadPromptsOutput
	if err := workflow.ExecuteActivity(ctx, a.LoadPrompts).Get(ctx, &prompts); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	if err := workflow.ExecuteActivity(ctx, a.CheckDatabaseConnectivity, in.DBConnectionString).Get(ctx, nil); err != nil {
		return nil, fmt.Errorf("check database connectivity: %w", err)
	}

	var sessionID string
	acquireIn := AcquireSandboxInput{DBConnectionString: in.DBConnectionString, StoreCreds: in.StoreCreds}
	if err := workflow.ExecuteActivity(ctx, a.AcquireSandbox, acquireIn).Get(ctx, &sessionID); err != nil {
		return nil, fmt.Errorf("acquire sandbox: %w", err)
	}

	releaseSandbox := func() {
		dctx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		dctx = workflow.WithActivityOptions(dctx, activityOpts)
		if err := workflow.ExecuteActivity(dctx, a.ReleaseSandbox, sessionID).Get(dctx, nil); err != nil {
			logger.Error("release sandbox failed", "error", err, "session_id", sessionID)
		}
	}
	defer releaseSandbox()

	var catalogContext string
	if err := workflow.ExecuteActivity(ctx, a.AssembleContext, in.Prefix).Get(ctx, &catalogContext); err != nil {
		return nil, fmt.Errorf("assemble catalog context: %w", err)
	}

	catalogSeed, err := seedMessage(catalogSeedContext{Tables: in.Tables, PreviousContext: catalogContext})
	if err != nil {
		return nil, fmt.Errorf("encode catalog seed: %w", err)
	}
	var catalogOut RunAgentOutput
	catalogIn := RunAgentInput{SessionID: sessionID, SystemPrompt: prompts.CatalogPrompt, SeedMessage: catalogSeed}
	if err := workflow.ExecuteActivity(ctx, a.RunAgent, catalogIn).Get(ctx, &catalogOut); err != nil {
		return nil, fmt.Errorf("run cataloging agent: %w", err)
	}

	catalogWrite := WriteArtifactInput{Prefix: in.Prefix, Timestamp: timestamp, HTML: catalogOut.Content, Script: catalogOut.Script, Kind: "catalog"}
	if err := workflow.ExecuteActivity(ctx, a.WriteCatalogArtifact, catalogWrite).Get(ctx, nil); err != nil {
		return nil, fmt.Errorf("persist catalog artifact: %w", err)
	}

	if err := workflow.ExecuteActivity(ctx, a.ResetSandbox, sessionID).Get(ctx, nil); err != nil {
		return nil, fmt.Errorf("reset sandbox: %w", err)
	}

	var summaryContext string
	if err := workflow.ExecuteActivity(ctx, a.AssembleContext, in.Prefix).Get(ctx, &summaryContext); err != nil {
		return nil, fmt.Errorf("assemble summary context: %w", err)
	}

	summarySeed, err := seedMessage(summarySeedContext{S3Prefix: in.Prefix, CurrentTimestamp: timestamp, PreviousContext: summaryContext})
	if err != nil {
		return nil, fmt.Errorf("encode summary seed: %w", err)
	}
	var summaryOut RunAgentOutput
	summaryIn := RunAgentInput{SessionID: sessionID, SystemPrompt: prompts.SummaryPrompt, SeedMessage: summarySeed}
	if err := workflow.ExecuteActivity(ctx, a.RunAgent, summaryIn).Get(ctx, &summaryOut); err != nil {
		return nil, fmt.Errorf("run summary agent: %w", err)
	}

	summaryWrite := WriteArtifactInput{Prefix: in.Prefix, Timestamp: timestamp, HTML: summaryOut.Content, Script: summaryOut.Script, Kind: "summary"}
	if err := workflow.ExecuteActivity(ctx, a.WriteSummaryArtifact, summaryWrite).Get(ctx, nil); err != nil {
		return nil, fmt.Errorf("persist summary artifact: %w", err)
	}

	return &Output{
		Timestamp:        timestamp,
		CatalogKey:       fmt.Sprintf("%s/%s/catalog.html", in.Prefix, timestamp),
		CatalogScriptKey: fmt.Sprintf("%s/%s/catalog_script.py", in.Prefix, timestamp),
		SummaryKey:       fmt.Sprintf("%s/%s/recent_summary.html", in.Prefix, timestamp),
		SummaryScriptKey: fmt.Sprintf("%s/%s/summary_script.py", in.Prefix, timestamp),
		Prefix:           in.Prefix,
	}, nil
}

// catalogSeedContext is the JSON context product the cataloging agent
// receives as its opening message.
type catalogSeedContext struct {
	Tables          []string `json:"tables"`
	PreviousContext string   `json:"previous_context,omitempty"`
}

// summarySeedContext is the JSON context product the summary agent receives
// as its opening message.
type summarySeedContext struct {
	S3Prefix         string `json:"s3_prefix"`
	CurrentTimestamp string `json:"current_timestamp"`
	PreviousContext  string `json:"previous_context,omitempty"`
}

// seedMessage renders a context product as a fenced JSON block followed by
// the agent's begin cue, matching the single-message contract the loop's
// first turn expects.
func seedMessage(v any) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("```json\n%s\n```\n\nBegin your analysis.", raw), nil
}
