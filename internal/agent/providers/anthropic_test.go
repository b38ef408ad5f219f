package providers

import (
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/brojonat/cataloger/internal/agent"
)

func TestEncodeRequestRejectsEmptyMessages(t *testing.T) {
	_, err := encodeRequest(agent.CompletionRequest{Model: "test-model"})
	if err == nil {
		t.Fatal("expected an error for a request with no messages")
	}
}

func TestEncodeRequestCarriesModelTokensAndSystemPrompt(t *testing.T) {
	req := agent.CompletionRequest{
		Model:        "test-model",
		SystemPrompt: "you are careful",
		MaxTokens:    2048,
		Temperature:  0.5,
		Messages: []agent.Message{
			{Role: agent.RoleUser, Content: []agent.ContentBlock{{Type: agent.BlockText, Text: "hello"}}},
		},
	}
	params, err := encodeRequest(req)
	if err != nil {
		t.Fatalf("encodeRequest: %v", err)
	}
	if string(params.Model) != "test-model" {
		t.Fatalf("unexpected model: %q", params.Model)
	}
	if params.MaxTokens != 2048 {
		t.Fatalf("unexpected max tokens: %d", params.MaxTokens)
	}
	if len(params.System) != 1 || params.System[0].Text != "you are careful" {
		t.Fatalf("unexpected system prompt encoding: %+v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Fatalf("expected one encoded message, got %d", len(params.Messages))
	}
}

func TestEncodeRequestOmitsEmptyMessages(t *testing.T) {
	req := agent.CompletionRequest{
		Model: "test-model",
		Messages: []agent.Message{
			{Role: agent.RoleAssistant, Content: []agent.ContentBlock{{Type: agent.BlockText, Text: ""}}},
			{Role: agent.RoleUser, Content: []agent.ContentBlock{{Type: agent.BlockText, Text: "hi"}}},
		},
	}
	params, err := encodeRequest(req)
	if err != nil {
		t.Fatalf("encodeRequest: %v", err)
	}
	if len(params.Messages) != 1 {
		t.Fatalf("expected the empty assistant message to be dropped, got %d messages", len(params.Messages))
	}
}

func TestEncodeRequestRejectsUnknownRole(t *testing.T) {
	req := agent.CompletionRequest{
		Model: "test-model",
		Messages: []agent.Message{
			{Role: agent.Role("system"), Content: []agent.ContentBlock{{Type: agent.BlockText, Text: "hi"}}},
		},
	}
	if _, err := encodeRequest(req); err == nil {
		t.Fatal("expected an error for an unsupported role")
	}
}

func TestEncodeToolsCarriesNameAndSchema(t *testing.T) {
	defs := []agent.ToolDefinition{
		{
			Name:        "execute_code",
			Description: "run code",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"code": map[string]any{"type": "string"}},
			},
		},
	}
	tools, err := encodeTools(defs)
	if err != nil {
		t.Fatalf("encodeTools: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("expected one tool, got %d", len(tools))
	}
	if tools[0].OfTool == nil || tools[0].OfTool.Name != "execute_code" {
		t.Fatalf("unexpected encoded tool: %+v", tools[0])
	}
}

func TestDecodeResponseTranslatesTextAndToolUseBlocks(t *testing.T) {
	toolInput, _ := json.Marshal(map[string]any{"code": "1 + 1"})
	msg := &sdk.Message{
		StopReason: sdk.StopReasonToolUse,
		Usage:      sdk.Usage{InputTokens: 12, OutputTokens: 34},
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "thinking..."},
			{Type: "tool_use", ID: "tool-1", Name: "execute_code", Input: json.RawMessage(toolInput)},
		},
	}
	resp, err := decodeResponse(msg)
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if resp.StopReason != agent.StopToolUse {
		t.Fatalf("unexpected stop reason: %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 34 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if len(resp.Content) != 2 {
		t.Fatalf("expected 2 content blocks, got %d", len(resp.Content))
	}
	if resp.Content[0].Type != agent.BlockText || resp.Content[0].Text != "thinking..." {
		t.Fatalf("unexpected text block: %+v", resp.Content[0])
	}
	tb := resp.Content[1]
	if tb.Type != agent.BlockToolUse || tb.ToolUseID != "tool-1" || tb.ToolName != "execute_code" {
		t.Fatalf("unexpected tool_use block: %+v", tb)
	}
	if tb.ToolInput["code"] != "1 + 1" {
		t.Fatalf("unexpected decoded tool input: %+v", tb.ToolInput)
	}
}

func TestDecodeResponseNilMessageIsAnError(t *testing.T) {
	if _, err := decodeResponse(nil); err == nil {
		t.Fatal("expected an error for a nil message")
	}
}
