package memory

import (
	"github.com/cvpilot/cvpilot/pkg/logger"
)

// Log is the append-only conversation log. A session owns exactly one
// Log and mutates it from a single goroutine, so the Log itself carries
// no lock; ordering is the session's happens-before guarantee.
type Log struct {
	messages []Message
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append adds a message to the end of the log.
func (l *Log) Append(msg Message) {
	l.messages = append(l.messages, msg)
}

// Len returns the number of messages in the log.
func (l *Log) Len() int {
	return len(l.messages)
}

// Snapshot returns a copy of the ordered message list.
func (l *Log) Snapshot() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Recent returns a copy of the last n messages in chronological order.
func (l *Log) Recent(n int) []Message {
	if n <= 0 || len(l.messages) == 0 {
		return nil
	}
	if n > len(l.messages) {
		n = len(l.messages)
	}
	out := make([]Message, n)
	copy(out, l.messages[len(l.messages)-n:])
	return out
}

// Last returns the most recent message and true, or false on an empty log.
func (l *Log) Last() (Message, bool) {
	if len(l.messages) == 0 {
		return Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// LastAssistantContent returns the content of the most recent assistant
// message, or "" if none exists.
func (l *Log) LastAssistantContent() string {
	for i := len(l.messages) - 1; i >= 0; i-- {
		if l.messages[i].Role == RoleAssistant {
			return l.messages[i].Content
		}
	}
	return ""
}

// Reset replaces the log contents. Used when restoring a checkpoint;
// the caller is expected to run CleanupIncompleteSequences afterwards.
func (l *Log) Reset(messages []Message) {
	l.messages = append(l.messages[:0:0], messages...)
}

// CleanupIncompleteSequences repairs the pairing invariant: every tool
// message must answer a tool-call id announced by some earlier assistant
// message. Dangling tool messages are dropped; assistant messages are
// never dropped, an unanswered call is left for the next step to answer
// or retry. The repair is idempotent.
func (l *Log) CleanupIncompleteSequences() int {
	announced := make(map[string]struct{})
	kept := l.messages[:0]
	dropped := 0

	for _, msg := range l.messages {
		if msg.HasToolCalls() {
			for _, tc := range msg.ToolCalls {
				announced[tc.ID] = struct{}{}
			}
		}
		if msg.Role == RoleTool {
			if _, ok := announced[msg.ToolCallID]; !ok {
				dropped++
				continue
			}
		}
		kept = append(kept, msg)
	}
	l.messages = kept

	if dropped > 0 {
		logger.WarnCF("memory", "Dropped dangling tool messages",
			map[string]interface{}{"dropped": dropped, "remaining": len(l.messages)})
	}
	return dropped
}
