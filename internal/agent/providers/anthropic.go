package providers

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/brojonat/cataloger/internal/agent"
)

// AnthropicProvider implements agent.Provider on top of a non-streaming
// Messages.New call. The agent loop is synchronous by design: it needs one
// complete response (or an explicit max_tokens truncation) per iteration,
// never a partial stream.
type AnthropicProvider struct {
	BaseProvider
	client sdk.Client
}

// NewAnthropicProvider constructs a provider from an API key.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic", 3, 0),
		client:       sdk.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Complete issues a single Messages.New call and translates the response
// into agent.CompletionResponse.
func (p *AnthropicProvider) Complete(ctx context.Context, req agent.CompletionRequest) (*agent.CompletionResponse, error) {
	params, err := encodeRequest(req)
	if err != nil {
		return nil, NewProviderError("anthropic", req.Model, err)
	}

	var msg *sdk.Message
	retryErr := p.Retry(ctx, IsRetryable, func() error {
		m, callErr := p.client.Messages.New(ctx, *params)
		if callErr != nil {
			return NewProviderError("anthropic", req.Model, callErr)
		}
		msg = m
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	return decodeResponse(msg)
}

func encodeRequest(req agent.CompletionRequest) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("anthropic: at least one message is required")
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  msgs,
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if tools, err := encodeTools(req.Tools); err != nil {
		return nil, err
	} else if len(tools) > 0 {
		params.Tools = tools
	}
	return params, nil
}

func encodeMessages(in []agent.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(in))
	for _, m := range in {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content))
		for _, c := range m.Content {
			switch c.Type {
			case agent.BlockText:
				if c.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(c.Text))
				}
			case agent.BlockToolUse:
				blocks = append(blocks, sdk.NewToolUseBlock(c.ToolUseID, c.ToolInput, c.ToolName))
			case agent.BlockToolResult:
				blocks = append(blocks, sdk.NewToolResultBlock(c.ToolResultForID, c.ToolResultText, c.ToolResultError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case agent.RoleUser:
			out = append(out, sdk.NewUserMessage(blocks...))
		case agent.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("anthropic: no non-empty messages to send")
	}
	return out, nil
}

func encodeTools(defs []agent.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		raw, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		var schemaFields map[string]any
		if err := json.Unmarshal(raw, &schemaFields); err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schemaFields}, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func decodeResponse(msg *sdk.Message) (*agent.CompletionResponse, error) {
	if msg == nil {
		return nil, fmt.Errorf("anthropic: nil response message")
	}
	resp := &agent.CompletionResponse{
		StopReason: agent.StopReason(msg.StopReason),
		Usage: agent.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				resp.Content = append(resp.Content, agent.ContentBlock{Type: agent.BlockText, Text: block.Text})
			}
		case "tool_use":
			var input map[string]any
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &input)
			}
			resp.Content = append(resp.Content, agent.ContentBlock{
				Type:      agent.BlockToolUse,
				ToolUseID: block.ID,
				ToolName:  block.Name,
				ToolInput: input,
			})
		}
	}
	return resp, nil
}
