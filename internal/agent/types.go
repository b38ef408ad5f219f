// Package agent drives the bounded tool-calling loop that turns a system
// prompt and a context document into a submitted catalog artifact.
package agent

import "context"

// Role identifies the speaker of a Message in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates the variants of ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one unit of a Message's content. Exactly the fields
// relevant to BlockType are populated.
type ContentBlock struct {
	Type BlockType

	// BlockText
	Text string

	// BlockToolUse
	ToolUseID string
	ToolName  string
	ToolInput map[string]any

	// BlockToolResult
	ToolResultForID string
	ToolResultText  string
	ToolResultError bool
}

// Message is one turn of the conversation sent to or received from the model.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// ToolDefinition describes a callable tool in Anthropic's input-schema shape.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Usage reports token consumption for a single completion call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StopReason mirrors Anthropic's stop_reason values relevant to this loop.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// CompletionRequest is one non-streaming call to a Provider.
type CompletionRequest struct {
	Model       string
	SystemPrompt string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is the result of one non-streaming Provider call.
type CompletionResponse struct {
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
}

// Provider performs a single synchronous model call. Implementations must
// not stream: the loop needs one complete response (or a max_tokens
// truncation) per iteration.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
