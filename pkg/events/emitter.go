package events

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultToolResultCap bounds tool-result text on the stream; longer
// output is elided with an explicit marker.
const DefaultToolResultCap = 5000

const thoughtFingerprintLen = 200

// Emitter layers per-turn ordering and deduplication on top of a
// Stream. One emitter serves one conversation; a turn starts with
// StartTurn and ends with EndTurn or Error.
type Emitter struct {
	stream    *Stream
	resultCap int

	mu           sync.Mutex
	seenCalls    map[string]struct{} // kind + tool_call_id
	seenThoughts map[uint64]struct{}
	answerSent   bool
	turnOpen     bool
}

func NewEmitter(stream *Stream, resultCap int) *Emitter {
	if resultCap <= 0 {
		resultCap = DefaultToolResultCap
	}
	return &Emitter{
		stream:       stream,
		resultCap:    resultCap,
		seenCalls:    make(map[string]struct{}),
		seenThoughts: make(map[uint64]struct{}),
	}
}

// Stream exposes the underlying stream for the consumer side.
func (e *Emitter) Stream() *Stream { return e.stream }

// StartTurn resets the dedup state and opens the turn. agent_start is
// always the first event of a turn, followed by status{processing};
// all content events follow.
func (e *Emitter) StartTurn(agentName, task string) {
	e.mu.Lock()
	e.seenCalls = make(map[string]struct{})
	e.seenThoughts = make(map[uint64]struct{})
	e.answerSent = false
	e.turnOpen = true
	e.mu.Unlock()

	e.stream.Publish(newEvent(KindAgentStart, map[string]interface{}{
		"agent_name": agentName,
		"task":       task,
	}))
	e.stream.Publish(newEvent(KindStatus, map[string]interface{}{"phase": PhaseProcessing}))
}

// Thought emits assistant reasoning text. Repeats of the same leading
// content within a turn are suppressed.
func (e *Emitter) Thought(content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	fp := fingerprint(content)

	e.mu.Lock()
	if _, seen := e.seenThoughts[fp]; seen {
		e.mu.Unlock()
		return
	}
	e.seenThoughts[fp] = struct{}{}
	e.mu.Unlock()

	e.stream.Publish(newEvent(KindThought, map[string]interface{}{"content": content}))
}

// ToolCall emits a tool invocation. The dedup key is the call id plus
// the event kind, so a model re-issuing a call under a fresh id still
// gets through.
func (e *Emitter) ToolCall(name, args, toolCallID string) {
	if !e.firstForID(KindToolCall, toolCallID) {
		return
	}
	e.stream.Publish(newEvent(KindToolCall, map[string]interface{}{
		"name":         name,
		"args":         args,
		"tool_call_id": toolCallID,
	}))
}

// ToolResult emits a tool outcome, truncated to the result cap.
func (e *Emitter) ToolResult(name, result, toolCallID string, isError bool) {
	if !e.firstForID(KindToolResult, toolCallID) {
		return
	}
	e.stream.Publish(newEvent(KindToolResult, map[string]interface{}{
		"name":         name,
		"result":       e.truncateResult(result),
		"tool_call_id": toolCallID,
		"is_error":     isError,
	}))
}

// Answer emits the user-facing reply. At most one answer leaves the
// stream per turn; a post-loop fallback is dropped when the loop
// already answered.
func (e *Emitter) Answer(content string, isComplete bool) {
	e.mu.Lock()
	if e.answerSent {
		e.mu.Unlock()
		return
	}
	e.answerSent = true
	e.mu.Unlock()

	e.stream.Publish(newEvent(KindAnswer, map[string]interface{}{
		"content":     content,
		"is_complete": isComplete,
	}))
}

// AnswerSent reports whether the current turn already emitted an
// answer.
func (e *Emitter) AnswerSent() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.answerSent
}

// Assistant routes assistant text to answer or thought. It is an
// answer iff the most recent trailing tool result came from an
// analyzer AND the content carries one of that analyzer's markers;
// memory stores the raw message either way.
func (e *Emitter) Assistant(content string, afterAnalyzer bool, markers []string) {
	if afterAnalyzer && containsMarker(content, markers) {
		e.Answer(content, true)
		return
	}
	e.Thought(content)
}

// Error emits an error event. The matching agent_end{success=false}
// is the caller's responsibility via EndTurn.
func (e *Emitter) Error(message, errType string) {
	e.stream.Publish(newEvent(KindError, map[string]interface{}{
		"message": message,
		"type":    errType,
	}))
}

// EndTurn closes the turn: status{complete} then agent_end, so that
// agent_end is always the last event of a turn.
func (e *Emitter) EndTurn(success bool) {
	e.mu.Lock()
	e.turnOpen = false
	e.mu.Unlock()

	e.stream.Publish(newEvent(KindStatus, map[string]interface{}{"phase": PhaseComplete}))
	e.stream.Publish(newEvent(KindAgentEnd, map[string]interface{}{"success": success}))
}

// Cancelled closes the turn on a cooperative stop.
func (e *Emitter) Cancelled() {
	e.mu.Lock()
	e.turnOpen = false
	e.mu.Unlock()

	e.stream.Publish(newEvent(KindStatus, map[string]interface{}{"phase": PhaseCancelled}))
	e.stream.Publish(newEvent(KindAgentEnd, map[string]interface{}{"success": false}))
}

func (e *Emitter) firstForID(kind Kind, toolCallID string) bool {
	key := string(kind) + ":" + toolCallID
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, seen := e.seenCalls[key]; seen {
		return false
	}
	e.seenCalls[key] = struct{}{}
	return true
}

// truncateResult cuts long results at a rune boundary so the event
// payload stays valid UTF-8.
func (e *Emitter) truncateResult(result string) string {
	if len(result) <= e.resultCap {
		return result
	}
	cut := e.resultCap
	for cut > 0 && !utf8.RuneStart(result[cut]) {
		cut--
	}
	return fmt.Sprintf("%s... [truncated, %d chars total]", result[:cut], len(result))
}

func fingerprint(content string) uint64 {
	head := content
	if len(head) > thoughtFingerprintLen {
		head = head[:thoughtFingerprintLen]
	}
	h := fnv.New64a()
	h.Write([]byte(head))
	return h.Sum64()
}

func containsMarker(content string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(content, m) {
			return true
		}
	}
	return false
}
