package providers

import (
	"testing"

	"google.golang.org/genai"

	"github.com/brojonat/cataloger/internal/agent"
)

func TestEncodeGeminiContentsRejectsEmptyMessages(t *testing.T) {
	if _, err := encodeGeminiContents(nil); err == nil {
		t.Fatal("expected an error for a request with no messages")
	}
}

func TestEncodeGeminiContentsMapsRolesAndToolResult(t *testing.T) {
	messages := []agent.Message{
		{Role: agent.RoleUser, Content: []agent.ContentBlock{{Type: agent.BlockText, Text: "hello"}}},
		{Role: agent.RoleAssistant, Content: []agent.ContentBlock{
			{Type: agent.BlockToolUse, ToolUseID: "execute_code", ToolName: "execute_code", ToolInput: map[string]any{"code": "1 + 1"}},
		}},
		{Role: agent.RoleUser, Content: []agent.ContentBlock{
			{Type: agent.BlockToolResult, ToolResultForID: "execute_code", ToolResultText: "2"},
		}},
	}
	contents, err := encodeGeminiContents(messages)
	if err != nil {
		t.Fatalf("encodeGeminiContents: %v", err)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[0].Role != genai.RoleUser {
		t.Fatalf("unexpected first role: %v", contents[0].Role)
	}
	if contents[1].Role != genai.RoleModel || contents[1].Parts[0].FunctionCall == nil {
		t.Fatalf("expected a model-role function call, got %+v", contents[1])
	}
	if contents[2].Parts[0].FunctionResponse == nil || contents[2].Parts[0].FunctionResponse.Name != "execute_code" {
		t.Fatalf("expected a function response named execute_code, got %+v", contents[2].Parts[0])
	}
}

func TestGeminiSchemaConvertsJSONSchemaShape(t *testing.T) {
	raw := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{"type": "string"},
		},
		"required": []any{"code"},
	}
	schema := geminiSchema(raw)
	if schema.Type != genai.TypeObject {
		t.Fatalf("unexpected type: %v", schema.Type)
	}
	if schema.Properties["code"] == nil || schema.Properties["code"].Type != genai.TypeString {
		t.Fatalf("unexpected properties: %+v", schema.Properties)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "code" {
		t.Fatalf("unexpected required: %+v", schema.Required)
	}
}

func TestDecodeGeminiResponseTranslatesToolCall(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []*genai.Part{
						{FunctionCall: &genai.FunctionCall{Name: "execute_code", Args: map[string]any{"code": "1 + 1"}}},
					},
				},
			},
		},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 5, CandidatesTokenCount: 7},
	}
	out, err := decodeGeminiResponse(resp)
	if err != nil {
		t.Fatalf("decodeGeminiResponse: %v", err)
	}
	if out.StopReason != agent.StopToolUse {
		t.Fatalf("unexpected stop reason: %q", out.StopReason)
	}
	if out.Usage.InputTokens != 5 || out.Usage.OutputTokens != 7 {
		t.Fatalf("unexpected usage: %+v", out.Usage)
	}
	if len(out.Content) != 1 || out.Content[0].ToolName != "execute_code" {
		t.Fatalf("unexpected decoded content: %+v", out.Content)
	}
}

func TestDecodeGeminiResponseEmptyCandidatesIsAnError(t *testing.T) {
	if _, err := decodeGeminiResponse(&genai.GenerateContentResponse{}); err == nil {
		t.Fatal("expected an error for a response with no candidates")
	}
}
