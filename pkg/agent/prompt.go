package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cvpilot/cvpilot/pkg/document"
	"github.com/cvpilot/cvpilot/pkg/memory"
	"github.com/cvpilot/cvpilot/pkg/providers"
)

const systemPromptTemplate = `You are %s, a resume assistant. You read, analyze, and edit the user's resume through the available tools.

Guidelines:
- Load a resume before viewing, analyzing, or editing it.
- When an analyzer proposes an optimization, ask the user before applying it.
- Apply edits only through the editor tool; never invent document content.
- When the request is fully handled, call the terminate tool.

Current context:
%s`

// buildSystemPrompt templates the system prompt with a short summary of
// the working state so the model knows what is already loaded.
func buildSystemPrompt(name string, store *document.Store, conv *ConversationState) string {
	var ctx []string
	if store.IsEmpty() {
		ctx = append(ctx, "- No resume is loaded yet.")
	} else {
		sections := make([]string, 0)
		for section := range store.Snapshot() {
			sections = append(sections, section)
		}
		sort.Strings(sections)
		ctx = append(ctx, fmt.Sprintf("- A resume is loaded with sections: %s.", strings.Join(sections, ", ")))
	}
	if conv.LastToolUsed != "" {
		ctx = append(ctx, fmt.Sprintf("- Last tool used: %s.", conv.LastToolUsed))
	}
	if conv.State != ConvIdle {
		ctx = append(ctx, fmt.Sprintf("- Conversation phase: %s.", conv.State))
	}
	return fmt.Sprintf(systemPromptTemplate, name, strings.Join(ctx, "\n"))
}

// toProviderMessages converts memory records to the wire shape. The
// system prompt is rebuilt per call, so an anchored system message in
// memory is replaced rather than duplicated.
func toProviderMessages(systemPrompt string, msgs []memory.Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs)+1)
	out = append(out, providers.Message{Role: memory.RoleSystem, Content: systemPrompt})

	for _, m := range msgs {
		if m.Role == memory.RoleSystem {
			continue
		}
		pm := providers.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			pm.ToolCalls = append(pm.ToolCalls, providers.WireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: &providers.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, pm)
	}
	return out
}
