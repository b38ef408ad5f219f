package providers

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/brojonat/cataloger/internal/agent"
)

// OpenAIProvider implements agent.Provider on top of the non-streaming Chat
// Completions API. It exists alongside AnthropicProvider so a deployment can
// point the cataloging and summary agents at either vendor without touching
// the agent loop: both translate to and from the same agent.* types.
type OpenAIProvider struct {
	BaseProvider
	client *openai.Client
}

// NewOpenAIProvider constructs a provider from an API key.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		BaseProvider: NewBaseProvider("openai", 3, 0),
		client:       openai.NewClient(apiKey),
	}
}

// Complete issues one CreateChatCompletion call and translates the result
// into agent.CompletionResponse.
func (p *OpenAIProvider) Complete(ctx context.Context, req agent.CompletionRequest) (*agent.CompletionResponse, error) {
	chatReq, err := encodeOpenAIRequest(req)
	if err != nil {
		return nil, NewProviderError("openai", req.Model, err)
	}

	var resp openai.ChatCompletionResponse
	retryErr := p.Retry(ctx, IsRetryable, func() error {
		r, callErr := p.client.CreateChatCompletion(ctx, *chatReq)
		if callErr != nil {
			return NewProviderError("openai", req.Model, callErr)
		}
		resp = r
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	return decodeOpenAIResponse(resp)
}

func encodeOpenAIRequest(req agent.CompletionRequest) (*openai.ChatCompletionRequest, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("openai: at least one message is required")
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		encoded, err := encodeOpenAIMessage(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, encoded...)
	}

	tools, err := encodeOpenAITools(req.Tools)
	if err != nil {
		return nil, err
	}
	chatReq := &openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Tools:     tools,
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	return chatReq, nil
}

func encodeOpenAIMessage(m agent.Message) ([]openai.ChatCompletionMessage, error) {
	var role string
	switch m.Role {
	case agent.RoleUser:
		role = openai.ChatMessageRoleUser
	case agent.RoleAssistant:
		role = openai.ChatMessageRoleAssistant
	default:
		return nil, fmt.Errorf("openai: unsupported role %q", m.Role)
	}

	var text string
	var toolCalls []openai.ToolCall
	var toolResults []openai.ChatCompletionMessage
	for _, c := range m.Content {
		switch c.Type {
		case agent.BlockText:
			text += c.Text
		case agent.BlockToolUse:
			input, err := json.Marshal(c.ToolInput)
			if err != nil {
				return nil, fmt.Errorf("openai: tool call %s input: %w", c.ToolName, err)
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   c.ToolUseID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      c.ToolName,
					Arguments: string(input),
				},
			})
		case agent.BlockToolResult:
			content := c.ToolResultText
			if c.ToolResultError {
				content = "Error: " + content
			}
			toolResults = append(toolResults, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: c.ToolResultForID,
			})
		}
	}

	if len(toolResults) > 0 {
		return toolResults, nil
	}
	if text == "" && len(toolCalls) == 0 {
		return nil, nil
	}
	return []openai.ChatCompletionMessage{{Role: role, Content: text, ToolCalls: toolCalls}}, nil
}

func encodeOpenAITools(defs []agent.ToolDefinition) ([]openai.Tool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		params, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("openai: tool %q schema: %w", def.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return tools, nil
}

func decodeOpenAIResponse(resp openai.ChatCompletionResponse) (*agent.CompletionResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}
	choice := resp.Choices[0]
	out := &agent.CompletionResponse{
		Usage: agent.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, agent.ContentBlock{Type: agent.BlockText, Text: choice.Message.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		var input map[string]any
		if call.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(call.Function.Arguments), &input)
		}
		out.Content = append(out.Content, agent.ContentBlock{
			Type:      agent.BlockToolUse,
			ToolUseID: call.ID,
			ToolName:  call.Function.Name,
			ToolInput: input,
		})
	}
	switch choice.FinishReason {
	case openai.FinishReasonToolCalls:
		out.StopReason = agent.StopToolUse
	case openai.FinishReasonLength:
		out.StopReason = agent.StopMaxTokens
	default:
		out.StopReason = agent.StopEndTurn
	}
	if len(out.Content) > 0 && out.Content[len(out.Content)-1].Type == agent.BlockToolUse {
		out.StopReason = agent.StopToolUse
	}
	return out, nil
}
