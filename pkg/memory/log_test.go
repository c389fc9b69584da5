package memory

import (
	"fmt"
	"testing"
)

// assertPairing checks that every assistant tool-call id is answered by
// exactly one tool message before the next assistant or user message.
func assertPairing(t *testing.T, msgs []Message) {
	t.Helper()
	for i, msg := range msgs {
		if !msg.HasToolCalls() {
			continue
		}
		pending := msg.CallIDs()
		for j := i + 1; j < len(msgs); j++ {
			next := msgs[j]
			if next.Role == RoleAssistant || next.Role == RoleUser {
				break
			}
			if next.Role != RoleTool {
				continue
			}
			if _, ok := pending[next.ToolCallID]; !ok {
				t.Fatalf("tool message %d answers unknown or duplicate id %q", j, next.ToolCallID)
			}
			delete(pending, next.ToolCallID)
		}
		if len(pending) > 0 {
			t.Fatalf("assistant message %d has unanswered tool calls: %v", i, pending)
		}
	}
}

func TestCleanupIncompleteSequences_DropsDanglingToolMessages(t *testing.T) {
	log := NewLog()
	log.Append(UserMessage("analyze my education"))
	log.Append(AssistantToolCalls("", ToolCall{ID: "call-1", Name: "education_analyzer", Arguments: "{}"}))
	log.Append(ToolMessage("call-1", "education_analyzer", "ok"))
	log.Append(ToolMessage("call-99", "education_analyzer", "orphan"))

	dropped := log.CleanupIncompleteSequences()
	if dropped != 1 {
		t.Fatalf("expected 1 dropped message, got %d", dropped)
	}
	if log.Len() != 3 {
		t.Fatalf("expected 3 messages, got %d", log.Len())
	}
	assertPairing(t, log.Snapshot())
}

func TestCleanupIncompleteSequences_NeverDropsAssistantMessages(t *testing.T) {
	log := NewLog()
	log.Append(AssistantToolCalls("", ToolCall{ID: "call-1", Name: "cv_viewer", Arguments: "{}"}))

	if dropped := log.CleanupIncompleteSequences(); dropped != 0 {
		t.Fatalf("expected no drops, got %d", dropped)
	}
	if log.Len() != 1 {
		t.Fatalf("assistant message was dropped")
	}
}

func TestCleanupIncompleteSequences_Idempotent(t *testing.T) {
	log := NewLog()
	log.Append(UserMessage("hi"))
	log.Append(ToolMessage("call-x", "cv_viewer", "orphan"))

	first := log.CleanupIncompleteSequences()
	second := log.CleanupIncompleteSequences()
	if first != 1 || second != 0 {
		t.Fatalf("expected drops (1, 0), got (%d, %d)", first, second)
	}
}

func TestRecent_ReturnsChronologicalTail(t *testing.T) {
	log := NewLog()
	for i := 0; i < 5; i++ {
		log.Append(UserMessage(fmt.Sprintf("msg-%d", i)))
	}
	recent := log.Recent(2)
	if len(recent) != 2 || recent[0].Content != "msg-3" || recent[1].Content != "msg-4" {
		t.Fatalf("unexpected tail: %+v", recent)
	}
	if got := log.Recent(100); len(got) != 5 {
		t.Fatalf("expected full log, got %d messages", len(got))
	}
}

func TestWindow_AnchorsSystemMessage(t *testing.T) {
	log := NewLog()
	w := NewWindow(log, 4)
	w.Append(SystemMessage("you are a resume assistant"))
	for i := 0; i < 10; i++ {
		w.Append(UserMessage(fmt.Sprintf("u-%d", i)))
		w.Append(AssistantMessage(fmt.Sprintf("a-%d", i)))
	}

	msgs := w.Messages()
	if msgs[0].Role != RoleSystem {
		t.Fatalf("system message lost its anchor, first role is %s", msgs[0].Role)
	}
	// Capacity excludes the anchored system message.
	if len(msgs) > 4+1 {
		t.Fatalf("window exceeded capacity: %d messages", len(msgs))
	}
}

func TestWindow_TrimsInPairUnits(t *testing.T) {
	log := NewLog()
	w := NewWindow(log, 3)

	w.Append(UserMessage("load my resume"))
	w.Append(AssistantToolCalls("",
		ToolCall{ID: "call-1", Name: "cv_reader_agent", Arguments: `{"file_path":"/tmp/r.md"}`},
		ToolCall{ID: "call-2", Name: "cv_viewer", Arguments: "{}"},
	))
	w.Append(ToolMessage("call-1", "cv_reader_agent", "loaded"))
	w.Append(ToolMessage("call-2", "cv_viewer", "shown"))
	w.Append(AssistantMessage("done"))

	// Trimming must have removed the assistant together with both of its
	// tool results, never leaving an orphaned tool message at the head.
	msgs := w.Messages()
	assertPairing(t, msgs)
	for _, m := range msgs {
		if m.Role == RoleTool {
			t.Fatalf("orphaned tool message survived the trim: %+v", m)
		}
	}
}

func TestWindow_InvariantsHoldAcrossManyTurns(t *testing.T) {
	log := NewLog()
	w := NewWindow(log, 6)
	w.Append(SystemMessage("sys"))

	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("call-%d", i)
		w.Append(UserMessage(fmt.Sprintf("turn %d", i)))
		w.Append(AssistantToolCalls("", ToolCall{ID: id, Name: "education_analyzer", Arguments: "{}"}))
		w.Append(ToolMessage(id, "education_analyzer", "result"))
		w.Append(AssistantMessage("summary"))

		msgs := w.Messages()
		assertPairing(t, msgs)
		if msgs[0].Role != RoleSystem {
			t.Fatalf("turn %d: anchor lost", i)
		}
		if len(msgs) > w.Capacity()+1 {
			t.Fatalf("turn %d: window size %d exceeds K+1", i, len(msgs))
		}
	}
}

func TestWindow_RepairAfterManualCorruption(t *testing.T) {
	log := NewLog()
	w := NewWindow(log, 10)
	w.Append(AssistantToolCalls("", ToolCall{ID: "call-1", Name: "education_analyzer", Arguments: "{}"}))
	w.Append(ToolMessage("call-1", "education_analyzer", "result"))

	// Remove the assistant by hand, stranding the tool message.
	log.Reset([]Message{ToolMessage("call-1", "education_analyzer", "result")})

	if dropped := log.CleanupIncompleteSequences(); dropped != 1 {
		t.Fatalf("expected the stranded tool message to be dropped, got %d drops", dropped)
	}
	if log.Len() != 0 {
		t.Fatalf("expected empty log, got %d messages", log.Len())
	}
}

func TestWindow_TailNeverStartsMidPair(t *testing.T) {
	log := NewLog()
	w := NewWindow(log, 30)
	w.Append(SystemMessage("sys"))
	w.Append(UserMessage("analyze"))
	w.Append(AssistantToolCalls("", ToolCall{ID: "call-1", Name: "education_analyzer", Arguments: "{}"}))
	w.Append(ToolMessage("call-1", "education_analyzer", "result"))
	w.Append(AssistantMessage("summary"))

	tail := w.Tail(2)
	if tail[0].Role != RoleSystem {
		t.Fatalf("tail must keep the anchored system message, got %s", tail[0].Role)
	}
	for _, m := range tail[1:] {
		if m.Role == RoleTool {
			t.Fatalf("tail starts mid-pair: %+v", tail)
		}
		break
	}
	assertPairing(t, tail)
}
