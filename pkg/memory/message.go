// Package memory holds the canonical conversation record: an ordered
// append-only log of messages plus a sliding window view that trims in
// tool-call pair units.
package memory

// Message roles. The four roles form a closed set.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a function invocation issued by an assistant message.
// Arguments is the raw JSON object text exactly as the model produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is the canonical record threaded through memory, LLM calls and
// event emission. A message with empty content carries at least one
// tool call (assistant) or a tool_call_id (tool).
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// HasToolCalls reports whether the message announces tool calls.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// CallIDs returns the set of tool-call ids announced by the message.
func (m Message) CallIDs() map[string]struct{} {
	if len(m.ToolCalls) == 0 {
		return nil
	}
	ids := make(map[string]struct{}, len(m.ToolCalls))
	for _, tc := range m.ToolCalls {
		ids[tc.ID] = struct{}{}
	}
	return ids
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds a plain assistant text message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// AssistantToolCalls builds an assistant message carrying tool calls.
func AssistantToolCalls(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolMessage builds the observation answering one tool call.
func ToolMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: name}
}
