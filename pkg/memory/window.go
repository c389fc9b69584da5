package memory

import (
	"github.com/cvpilot/cvpilot/pkg/logger"
)

// DefaultWindowSize is the default sliding-window capacity.
const DefaultWindowSize = 30

// Window is a sliding-window view onto a Log with a capacity K. A system
// message at index 0 is anchored: it survives every trim and does not
// count toward K. Trimming operates in conversation-pair units so an
// assistant tool-call message is never split from its tool results.
type Window struct {
	log      *Log
	capacity int
}

// NewWindow wraps log with a pair-preserving window of the given capacity.
// A capacity <= 0 falls back to DefaultWindowSize.
func NewWindow(log *Log, capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{log: log, capacity: capacity}
}

// Capacity returns the window size K.
func (w *Window) Capacity() int {
	return w.capacity
}

// Log exposes the underlying append-only log.
func (w *Window) Log() *Log {
	return w.log
}

// Append appends to the underlying log and trims back to capacity.
func (w *Window) Append(msg Message) {
	w.log.Append(msg)
	w.Trim()
}

// Trim drops oldest non-system messages until at most K remain beyond
// the anchored system message. Dropping an assistant message that
// announced tool calls also drops the immediately-following tool
// messages answering those calls.
func (w *Window) Trim() {
	msgs := w.log.messages

	start := 0
	anchored := false
	if len(msgs) > 0 && msgs[0].Role == RoleSystem {
		anchored = true
		start = 1
	}

	dropped := 0
	for len(msgs)-start > w.capacity {
		victim := msgs[start]
		cut := start + 1
		if ids := victim.CallIDs(); ids != nil {
			for cut < len(msgs) && msgs[cut].Role == RoleTool {
				if _, ok := ids[msgs[cut].ToolCallID]; !ok {
					break
				}
				cut++
			}
		}
		dropped += cut - start
		if anchored {
			msgs = append(msgs[:1], msgs[cut:]...)
		} else {
			msgs = msgs[cut:]
		}
	}

	if dropped > 0 {
		w.log.messages = msgs
		logger.DebugCF("memory", "Trimmed history window",
			map[string]interface{}{"dropped": dropped, "size": len(msgs), "capacity": w.capacity})
	}
}

// Messages returns the full windowed view in chronological order.
func (w *Window) Messages() []Message {
	return w.log.Snapshot()
}

// Tail returns at most maxMessages trailing messages under the same
// pair-preserving rule, with the anchored system message prepended when
// present. Tool messages whose announcing assistant fell outside the
// slice are skipped rather than returned orphaned.
func (w *Window) Tail(maxMessages int) []Message {
	msgs := w.log.messages
	if maxMessages <= 0 || len(msgs) == 0 {
		return nil
	}

	var head []Message
	body := msgs
	if msgs[0].Role == RoleSystem {
		head = msgs[:1]
		body = msgs[1:]
	}

	start := len(body) - maxMessages
	if start < 0 {
		start = 0
	}
	// Never begin mid-pair: skip tool messages whose caller is outside
	// the slice.
	for start < len(body) && body[start].Role == RoleTool {
		start++
	}

	out := make([]Message, 0, len(head)+len(body)-start)
	out = append(out, head...)
	out = append(out, body[start:]...)
	return out
}
