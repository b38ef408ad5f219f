package agent

import (
	"context"
	"testing"
	"time"

	"github.com/brojonat/cataloger/internal/catalogerr"
	"github.com/brojonat/cataloger/internal/observability"
)

type scriptedProvider struct {
	responses []*CompletionResponse
	calls     int
}

func (p *scriptedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if p.calls >= len(p.responses) {
		return nil, catalogerr.New(catalogerr.ExecutionError, "test", "no more scripted responses")
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

type fakeExecutor struct {
	executed []string
	output   string
	err      error
}

func (e *fakeExecutor) Execute(ctx context.Context, code string, timeout time.Duration) (string, error) {
	e.executed = append(e.executed, code)
	return e.output, e.err
}

func testLoopLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error"})
}

func TestLoopSubmitsArtifactAfterExecutingCode(t *testing.T) {
	provider := &scriptedProvider{responses: []*CompletionResponse{
		{
			StopReason: StopToolUse,
			Content: []ContentBlock{
				{Type: BlockToolUse, ToolUseID: "t1", ToolName: ToolExecuteCode, ToolInput: map[string]any{"code": "1 + 1"}},
			},
			Usage: Usage{InputTokens: 10, OutputTokens: 5},
		},
		{
			StopReason: StopToolUse,
			Content: []ContentBlock{
				{Type: BlockToolUse, ToolUseID: "t2", ToolName: ToolSubmitArtifact, ToolInput: map[string]any{"content": "<html>ok</html>"}},
			},
			Usage: Usage{InputTokens: 10, OutputTokens: 5},
		},
	}}
	executor := &fakeExecutor{output: "2"}
	loop := NewLoop(provider, executor, DefaultConfig("test-model"), testLoopLogger())

	result, err := loop.Run(context.Background(), "system prompt", "seed message")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Content != "<html>ok</html>" {
		t.Fatalf("unexpected submitted content: %q", result.Content)
	}
	if result.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", result.Iterations)
	}
	if len(executor.executed) != 1 || executor.executed[0] != "1 + 1" {
		t.Fatalf("expected execute_code to run once with the provided code, got %v", executor.executed)
	}
}

func TestLoopEndTurnWithoutSubmitIsAnError(t *testing.T) {
	provider := &scriptedProvider{responses: []*CompletionResponse{
		{StopReason: StopEndTurn, Content: []ContentBlock{{Type: BlockText, Text: "done, I guess"}}},
	}}
	loop := NewLoop(provider, &fakeExecutor{}, DefaultConfig("test-model"), testLoopLogger())

	_, err := loop.Run(context.Background(), "system", "seed")
	if !catalogerr.Is(err, catalogerr.AgentEndedWithoutSubmit) {
		t.Fatalf("expected AgentEndedWithoutSubmit, got %v", err)
	}
}

func TestLoopMaxTokensTruncationRetriesIncompleteExecuteCode(t *testing.T) {
	provider := &scriptedProvider{responses: []*CompletionResponse{
		{
			StopReason: StopMaxTokens,
			Content: []ContentBlock{
				{Type: BlockToolUse, ToolUseID: "t1", ToolName: ToolExecuteCode, ToolInput: map[string]any{}},
			},
		},
		{
			StopReason: StopToolUse,
			Content: []ContentBlock{
				{Type: BlockToolUse, ToolUseID: "t2", ToolName: ToolSubmitArtifact, ToolInput: map[string]any{"content": "<html></html>"}},
			},
		},
	}}
	executor := &fakeExecutor{output: "unused"}
	loop := NewLoop(provider, executor, DefaultConfig("test-model"), testLoopLogger())

	result, err := loop.Run(context.Background(), "system", "seed")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Content != "<html></html>" {
		t.Fatalf("unexpected content: %q", result.Content)
	}
	if len(executor.executed) != 0 {
		t.Fatalf("truncated execute_code call should not have run, got %v", executor.executed)
	}
}

func TestLoopTokenBudgetExceeded(t *testing.T) {
	bigResponse := func() *CompletionResponse {
		return &CompletionResponse{
			StopReason: StopToolUse,
			Content: []ContentBlock{
				{Type: BlockToolUse, ToolUseID: "loop", ToolName: ToolExecuteCode, ToolInput: map[string]any{"code": "noop"}},
			},
			Usage: Usage{OutputTokens: 1000},
		}
	}
	provider := &scriptedProvider{responses: []*CompletionResponse{bigResponse(), bigResponse()}}
	cfg := DefaultConfig("test-model")
	cfg.MaxOutputTokens = 1500
	loop := NewLoop(provider, &fakeExecutor{}, cfg, testLoopLogger())

	_, err := loop.Run(context.Background(), "system", "seed")
	if !catalogerr.Is(err, catalogerr.TokenBudgetExceeded) {
		t.Fatalf("expected TokenBudgetExceeded, got %v", err)
	}
}

func TestLoopMaxIterationsExceeded(t *testing.T) {
	responses := make([]*CompletionResponse, 3)
	for i := range responses {
		responses[i] = &CompletionResponse{
			StopReason: StopToolUse,
			Content: []ContentBlock{
				{Type: BlockToolUse, ToolUseID: "loop", ToolName: ToolExecuteCode, ToolInput: map[string]any{"code": "noop"}},
			},
		}
	}
	provider := &scriptedProvider{responses: responses}
	cfg := DefaultConfig("test-model")
	cfg.MaxIterations = 3
	loop := NewLoop(provider, &fakeExecutor{}, cfg, testLoopLogger())

	_, err := loop.Run(context.Background(), "system", "seed")
	if !catalogerr.Is(err, catalogerr.MaxIterationsExceeded) {
		t.Fatalf("expected MaxIterationsExceeded, got %v", err)
	}
}
