package providers

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/brojonat/cataloger/internal/agent"
)

// GeminiProvider implements agent.Provider on top of Google's non-streaming
// GenerateContent call. It exists alongside Anthropic/OpenAI/Bedrock so a
// deployment can route either agent phase at Gemini without touching the
// loop: all four translate to and from the same agent.* types.
type GeminiProvider struct {
	BaseProvider
	client *genai.Client
}

// NewGeminiProvider constructs a provider from a Google AI Studio API key.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiProvider{
		BaseProvider: NewBaseProvider("gemini", 3, 0),
		client:       client,
	}, nil
}

// Complete issues a single GenerateContent call and translates the result
// into agent.CompletionResponse.
func (p *GeminiProvider) Complete(ctx context.Context, req agent.CompletionRequest) (*agent.CompletionResponse, error) {
	contents, err := encodeGeminiContents(req.Messages)
	if err != nil {
		return nil, NewProviderError("gemini", req.Model, err)
	}
	cfg := encodeGeminiConfig(req)

	var resp *genai.GenerateContentResponse
	retryErr := p.Retry(ctx, p.isRetryableError, func() error {
		r, callErr := p.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
		if callErr != nil {
			return p.wrapError(callErr, req.Model)
		}
		resp = r
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	return decodeGeminiResponse(resp)
}

func encodeGeminiConfig(req agent.CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if tools := encodeGeminiTools(req.Tools); len(tools) > 0 {
		cfg.Tools = tools
	}
	return cfg
}

// encodeGeminiContents translates the loop's message history into Gemini's
// Content/Part shape. Gemini has no dedicated tool-result role; a tool
// result is expressed as a FunctionResponse part on a user-role turn.
func encodeGeminiContents(messages []agent.Message) ([]*genai.Content, error) {
	var out []*genai.Content
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == agent.RoleAssistant {
			role = genai.RoleModel
		}
		content := &genai.Content{Role: role}
		for _, c := range m.Content {
			switch c.Type {
			case agent.BlockText:
				if c.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: c.Text})
				}
			case agent.BlockToolUse:
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: c.ToolName,
						Args: toolInputOrEmpty(c.ToolInput),
					},
				})
			case agent.BlockToolResult:
				response := map[string]any{"result": c.ToolResultText}
				if c.ToolResultError {
					response = map[string]any{"error": c.ToolResultText}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     c.ToolResultForID,
						Response: response,
					},
				})
			}
		}
		if len(content.Parts) == 0 {
			continue
		}
		out = append(out, content)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("gemini: no non-empty messages to send")
	}
	return out, nil
}

func encodeGeminiTools(defs []agent.ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  geminiSchema(def.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func decodeGeminiResponse(resp *genai.GenerateContentResponse) (*agent.CompletionResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: empty candidates in response")
	}
	candidate := resp.Candidates[0]
	out := &agent.CompletionResponse{StopReason: agent.StopEndTurn}
	if resp.UsageMetadata != nil {
		out.Usage = agent.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				out.Content = append(out.Content, agent.ContentBlock{Type: agent.BlockText, Text: part.Text})
			}
			if part.FunctionCall != nil {
				out.Content = append(out.Content, agent.ContentBlock{
					Type:      agent.BlockToolUse,
					ToolUseID: part.FunctionCall.Name,
					ToolName:  part.FunctionCall.Name,
					ToolInput: part.FunctionCall.Args,
				})
			}
		}
	}
	if hasToolUse(out.Content) {
		out.StopReason = agent.StopToolUse
	} else if strings.EqualFold(string(candidate.FinishReason), "max_tokens") {
		out.StopReason = agent.StopMaxTokens
	}
	return out, nil
}

func hasToolUse(blocks []agent.ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == agent.BlockToolUse {
			return true
		}
	}
	return false
}

func (p *GeminiProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"resource_exhausted", "429", "unavailable", "deadline exceeded", "internal error"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (p *GeminiProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("gemini", model, err)
}
