// Package providers contains the language-model service contract and
// the OpenAI-style chat-completions client that fulfils it. The agent
// loop depends only on the LLMProvider interface.
package providers

import "context"

// Tool-choice directives accepted by the chat contract.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
	ToolChoiceNone     = "none"
)

// Message is the wire-level chat message.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []WireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

// WireToolCall is a tool invocation as serialized on assistant messages.
type WireToolCall struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function *FunctionCall `json:"function,omitempty"`
}

// FunctionCall carries the tool name and its raw JSON argument text.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a parsed tool invocation from a model reply. Arguments is
// the raw JSON object text exactly as the model produced it; callers
// decode it, surfacing decode failures as tool errors.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition is the schema entry exported to the model per tool.
type ToolDefinition struct {
	Type     string                 `json:"type"`
	Function ToolFunctionDefinition `json:"function"`
}

// ToolFunctionDefinition exposes name, description and a JSON-schema
// parameters object; nothing else.
type ToolFunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// UsageInfo is the token accounting block some providers return.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is one model reply: text content plus zero or more tool
// calls.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *UsageInfo
}

// LLMProvider is the chat-completion contract the agent is written
// against. Options carries provider knobs (max_tokens, temperature,
// tool_choice); unknown keys are ignored.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
}
