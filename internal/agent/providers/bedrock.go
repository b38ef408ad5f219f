package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/brojonat/cataloger/internal/agent"
)

// BedrockProvider implements agent.Provider on top of the non-streaming
// Converse API. Bedrock also exposes ConverseStream, but the agent loop
// needs one complete response per iteration, so this provider never uses
// it, same as AnthropicProvider and OpenAIProvider never stream.
type BedrockProvider struct {
	BaseProvider
	client *bedrockruntime.Client
}

// NewBedrockProvider constructs a provider against the given AWS region,
// resolving credentials through the default AWS credential chain
// (environment, shared config, or an attached IAM role).
func NewBedrockProvider(ctx context.Context, region string) (*BedrockProvider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return &BedrockProvider{
		BaseProvider: NewBaseProvider("bedrock", 3, 0),
		client:       bedrockruntime.NewFromConfig(awsCfg),
	}, nil
}

// Complete issues a single Converse call and translates the response into
// agent.CompletionResponse.
func (p *BedrockProvider) Complete(ctx context.Context, req agent.CompletionRequest) (*agent.CompletionResponse, error) {
	messages, err := encodeBedrockMessages(req.Messages)
	if err != nil {
		return nil, NewProviderError("bedrock", req.Model, err)
	}

	converseReq := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.Model),
		Messages: messages,
	}
	if req.SystemPrompt != "" {
		converseReq.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.SystemPrompt},
		}
	}
	if req.MaxTokens > 0 {
		converseReq.InferenceConfig = &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(req.MaxTokens)),
		}
	}
	if req.Temperature > 0 {
		if converseReq.InferenceConfig == nil {
			converseReq.InferenceConfig = &types.InferenceConfiguration{}
		}
		converseReq.InferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
	}
	if tools, err := encodeBedrockTools(req.Tools); err != nil {
		return nil, NewProviderError("bedrock", req.Model, err)
	} else if tools != nil {
		converseReq.ToolConfig = tools
	}

	var out *bedrockruntime.ConverseOutput
	retryErr := p.Retry(ctx, p.isRetryableError, func() error {
		o, callErr := p.client.Converse(ctx, converseReq)
		if callErr != nil {
			return p.wrapError(callErr, req.Model)
		}
		out = o
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	return decodeBedrockResponse(out)
}

func encodeBedrockMessages(in []agent.Message) ([]types.Message, error) {
	out := make([]types.Message, 0, len(in))
	for _, m := range in {
		var content []types.ContentBlock
		for _, c := range m.Content {
			switch c.Type {
			case agent.BlockText:
				if c.Text != "" {
					content = append(content, &types.ContentBlockMemberText{Value: c.Text})
				}
			case agent.BlockToolUse:
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(c.ToolUseID),
						Name:      aws.String(c.ToolName),
						Input:     document.NewLazyDocument(toolInputOrEmpty(c.ToolInput)),
					},
				})
			case agent.BlockToolResult:
				status := types.ToolResultStatusSuccess
				if c.ToolResultError {
					status = types.ToolResultStatusError
				}
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(c.ToolResultForID),
						Status:    status,
						Content: []types.ToolResultContentBlock{
							&types.ToolResultContentBlockMemberText{Value: c.ToolResultText},
						},
					},
				})
			}
		}
		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == agent.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("bedrock: no non-empty messages to send")
	}
	return out, nil
}

func toolInputOrEmpty(input map[string]any) any {
	if input == nil {
		return map[string]any{}
	}
	return input
}

func encodeBedrockTools(defs []agent.ToolDefinition) (*types.ToolConfiguration, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]types.Tool, 0, len(defs))
	for _, def := range defs {
		raw, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("bedrock: tool %q schema: %w", def.Name, err)
		}
		var schema any
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("bedrock: tool %q schema: %w", def.Name, err)
		}
		tools = append(tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: tools}, nil
}

func decodeBedrockResponse(out *bedrockruntime.ConverseOutput) (*agent.CompletionResponse, error) {
	if out == nil {
		return nil, fmt.Errorf("bedrock: nil converse output")
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("bedrock: unexpected output variant %T", out.Output)
	}

	resp := &agent.CompletionResponse{StopReason: decodeBedrockStopReason(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = agent.Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}

	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			if v.Value != "" {
				resp.Content = append(resp.Content, agent.ContentBlock{Type: agent.BlockText, Text: v.Value})
			}
		case *types.ContentBlockMemberToolUse:
			var input map[string]any
			if v.Value.Input != nil {
				_ = v.Value.Input.UnmarshalSmithyDocument(&input)
			}
			resp.Content = append(resp.Content, agent.ContentBlock{
				Type:      agent.BlockToolUse,
				ToolUseID: aws.ToString(v.Value.ToolUseId),
				ToolName:  aws.ToString(v.Value.Name),
				ToolInput: input,
			})
		}
	}
	return resp, nil
}

func decodeBedrockStopReason(r types.StopReason) agent.StopReason {
	switch r {
	case types.StopReasonToolUse:
		return agent.StopToolUse
	case types.StopReasonMaxTokens:
		return agent.StopMaxTokens
	default:
		return agent.StopEndTurn
	}
}

func (p *BedrockProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"throttlingexception", "toomanyrequestsexception", "serviceunavailableexception", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("bedrock", model, err)
}
