package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/brojonat/cataloger/internal/catalogerr"
	"github.com/brojonat/cataloger/internal/observability"
)

// CodeExecutor runs one block of code against a persistent session and
// returns its combined stdout/stderr. *sandbox.Runtime satisfies this
// directly.
type CodeExecutor interface {
	Execute(ctx context.Context, code string, timeout time.Duration) (string, error)
}

// Config bounds one agent run.
type Config struct {
	Model           string
	MaxIterations   int
	RequestMaxTokens int // per-call max_tokens sent to the provider
	MaxOutputTokens int // cumulative output-token budget across the whole run
	Temperature     float64
	ExecTimeout     time.Duration
}

// DefaultConfig mirrors the bounds the original cataloging agent used.
func DefaultConfig(model string) Config {
	return Config{
		Model:            model,
		MaxIterations:    50,
		RequestMaxTokens: 8192,
		MaxOutputTokens:  100_000,
		Temperature:      0,
		ExecTimeout:      60 * time.Second,
	}
}

// Result captures what a Loop run produced, for the workflow to persist.
type Result struct {
	Content    string
	Iterations int
	Usage      Usage
}

// Loop drives the bounded, synchronous execute_code/submit_artifact
// tool-calling conversation against one Provider and one CodeExecutor.
type Loop struct {
	provider  Provider
	executor  CodeExecutor
	cfg       Config
	logger    *observability.Logger
	validator *schemaValidator
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// namedProvider is satisfied by providers.BaseProvider embedders; it is
// queried via an optional type assertion so fakes used in tests need not
// implement it.
type namedProvider interface {
	Name() string
}

// SetMetrics attaches a metrics sink the loop reports LLM calls and tool
// dispatches to. Optional.
func (l *Loop) SetMetrics(m *observability.Metrics) {
	l.metrics = m
}

// SetTracer attaches a tracer the loop spans LLM calls and tool dispatches
// under. Optional; a nil tracer falls back to a no-op one.
func (l *Loop) SetTracer(t *observability.Tracer) {
	l.tracer = t
}

func (l *Loop) tracerOrNoop() *observability.Tracer {
	if l.tracer != nil {
		return l.tracer
	}
	return observability.NoopTracer()
}

func (l *Loop) providerName() string {
	if named, ok := l.provider.(namedProvider); ok {
		return named.Name()
	}
	return "unknown"
}

// NewLoop builds a Loop. logger must be non-nil.
func NewLoop(provider Provider, executor CodeExecutor, cfg Config, logger *observability.Logger) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	if cfg.RequestMaxTokens <= 0 {
		cfg.RequestMaxTokens = 8192
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 100_000
	}
	validator, err := newSchemaValidator(ToolSchemas())
	if err != nil {
		// The fixed two-tool schema set is always valid JSON Schema; a
		// compile failure here would mean a bug in ToolSchemas itself, not
		// something a caller can act on. Fall back to no schema-level
		// validation rather than failing loop construction.
		validator = nil
	}
	return &Loop{provider: provider, executor: executor, cfg: cfg, logger: logger, validator: validator}
}

// Run drives the loop from an initial user message (systemPrompt as the
// system instructions, initialUserMessage as the seed context document)
// until the model calls submit_artifact, or a bound is exceeded.
func (l *Loop) Run(ctx context.Context, systemPrompt, initialUserMessage string) (*Result, error) {
	messages := []Message{
		{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: initialUserMessage}}},
	}
	tools := ToolSchemas()

	var usage Usage
	iteration := 0

	for iteration < l.cfg.MaxIterations {
		iteration++

		callStart := time.Now()
		spanCtx, span := l.tracerOrNoop().TraceLLMRequest(ctx, l.providerName(), l.cfg.Model)
		resp, err := l.provider.Complete(spanCtx, CompletionRequest{
			Model:        l.cfg.Model,
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        tools,
			MaxTokens:    l.cfg.RequestMaxTokens,
			Temperature:  l.cfg.Temperature,
		})
		if err != nil {
			l.tracerOrNoop().RecordError(span, err)
			span.End()
			l.metrics.RecordLLMRequest(l.providerName(), l.cfg.Model, "error", time.Since(callStart).Seconds(), 0, 0)
			return nil, catalogerr.Wrap(catalogerr.TransportError, "agent.loop", err)
		}
		span.End()
		l.metrics.RecordLLMRequest(l.providerName(), l.cfg.Model, "success", time.Since(callStart).Seconds(),
			resp.Usage.InputTokens, resp.Usage.OutputTokens)

		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens

		l.logger.Info(ctx, "agent loop iteration",
			"iteration", iteration,
			"stop_reason", resp.StopReason,
			"total_output_tokens", usage.OutputTokens,
		)

		if usage.OutputTokens > l.cfg.MaxOutputTokens {
			return nil, catalogerr.New(catalogerr.TokenBudgetExceeded, "agent.loop",
				"agent exceeded token budget: %d > %d", usage.OutputTokens, l.cfg.MaxOutputTokens)
		}

		messages = append(messages, Message{Role: RoleAssistant, Content: resp.Content})

		switch resp.StopReason {
		case StopEndTurn:
			return nil, catalogerr.New(catalogerr.AgentEndedWithoutSubmit, "agent.loop",
				"agent ended conversation without submitting an artifact")

		case StopToolUse:
			results, submitted, content, err := l.handleToolCalls(ctx, resp.Content)
			if err != nil {
				return nil, err
			}
			if submitted {
				return &Result{Content: content, Iterations: iteration, Usage: usage}, nil
			}
			messages = append(messages, Message{Role: RoleUser, Content: results})

		case StopMaxTokens:
			l.logger.Warn(ctx, "agent hit per-request token limit", "iteration", iteration)
			results, submitted, content, hasToolCalls, err := l.handleTruncatedToolCalls(ctx, resp.Content)
			if err != nil {
				return nil, err
			}
			if submitted {
				return &Result{Content: content, Iterations: iteration, Usage: usage}, nil
			}
			if hasToolCalls {
				messages = append(messages, Message{Role: RoleUser, Content: results})
			}
			// Pure text truncation: continue the loop with no injected turn.

		default:
			return nil, catalogerr.New(catalogerr.ExecutionError, "agent.loop", "unexpected stop reason: %s", resp.StopReason)
		}
	}

	return nil, catalogerr.New(catalogerr.MaxIterationsExceeded, "agent.loop",
		"agent exceeded max iterations: %d", l.cfg.MaxIterations)
}

// handleToolCalls processes every tool_use block in a non-truncated response.
// submitted is true once submit_artifact carried a complete "content" field.
func (l *Loop) handleToolCalls(ctx context.Context, blocks []ContentBlock) (results []ContentBlock, submitted bool, content string, err error) {
	for _, block := range blocks {
		if block.Type != BlockToolUse {
			continue
		}
		resultText, isSubmit, submittedContent, terr := l.handleOneToolCall(ctx, block, false)
		if terr != nil {
			return nil, false, "", terr
		}
		if isSubmit {
			return nil, true, submittedContent, nil
		}
		results = append(results, ContentBlock{
			Type:            BlockToolResult,
			ToolResultForID: block.ToolUseID,
			ToolResultText:  resultText,
		})
	}
	return results, false, "", nil
}

// handleTruncatedToolCalls is the max_tokens variant: tool_use blocks can
// still be complete even though trailing text was cut off, so each is
// processed the same way, but truncated calls (missing required fields) get
// a retry prompt instead of being executed.
func (l *Loop) handleTruncatedToolCalls(ctx context.Context, blocks []ContentBlock) (results []ContentBlock, submitted bool, content string, hasToolCalls bool, err error) {
	for _, block := range blocks {
		if block.Type != BlockToolUse {
			continue
		}
		hasToolCalls = true
		resultText, isSubmit, submittedContent, terr := l.handleOneToolCall(ctx, block, true)
		if terr != nil {
			return nil, false, "", hasToolCalls, terr
		}
		if isSubmit {
			return nil, true, submittedContent, hasToolCalls, nil
		}
		results = append(results, ContentBlock{
			Type:            BlockToolResult,
			ToolResultForID: block.ToolUseID,
			ToolResultText:  resultText,
		})
	}
	return results, false, "", hasToolCalls, nil
}

func (l *Loop) handleOneToolCall(ctx context.Context, block ContentBlock, possiblyTruncated bool) (result string, submitted bool, content string, err error) {
	if l.validator != nil && l.validator.Validate(block.ToolName, block.ToolInput) != nil {
		l.metrics.RecordToolExecution(block.ToolName, "rejected")
		if possiblyTruncated {
			return fmt.Sprintf("Error: %s call was truncated. Please retry with complete arguments.", block.ToolName), false, "", nil
		}
		return fmt.Sprintf("Error: %s call has invalid or incomplete arguments.", block.ToolName), false, "", nil
	}

	switch block.ToolName {
	case ToolExecuteCode:
		code, ok := block.ToolInput["code"].(string)
		if !ok {
			l.metrics.RecordToolExecution(block.ToolName, "rejected")
			if possiblyTruncated {
				return "Error: execute_code call was truncated. Please retry with complete code.", false, "", nil
			}
			return "Error: execute_code call is missing the required code field.", false, "", nil
		}
		spanCtx, span := l.tracerOrNoop().TraceToolExecution(ctx, block.ToolName)
		output, execErr := l.executor.Execute(spanCtx, code, l.cfg.ExecTimeout)
		if execErr != nil {
			l.tracerOrNoop().RecordError(span, execErr)
			span.End()
			if catalogerr.Is(execErr, catalogerr.ExecutionError) {
				l.metrics.RecordToolExecution(block.ToolName, "error")
				return "Execution error:\n" + execErr.Error(), false, "", nil
			}
			l.metrics.RecordToolExecution(block.ToolName, "error")
			return "", false, "", execErr
		}
		span.End()
		l.metrics.RecordToolExecution(block.ToolName, "success")
		return output, false, "", nil

	case ToolSubmitArtifact:
		htmlContent, ok := block.ToolInput["content"].(string)
		if !ok {
			l.metrics.RecordToolExecution(block.ToolName, "rejected")
			if possiblyTruncated {
				return "Error: submit_artifact call was truncated. Please try again with complete HTML content.", false, "", nil
			}
			return "Error: submit_artifact call is missing the required content field.", false, "", nil
		}
		l.metrics.RecordToolExecution(block.ToolName, "success")
		return "", true, htmlContent, nil

	default:
		l.metrics.RecordToolExecution(block.ToolName, "error")
		return "Unknown tool: " + block.ToolName, false, "", nil
	}
}
