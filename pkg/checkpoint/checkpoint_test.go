package checkpoint

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cvpilot/cvpilot/pkg/agent"
	"github.com/cvpilot/cvpilot/pkg/memory"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newStore(t)

	snap := Snapshot{
		Messages: []memory.Message{
			memory.UserMessage("load my resume"),
			memory.AssistantMessage("Which file?"),
		},
		Document:          map[string]interface{}{"basic": map[string]interface{}{"name": "Jane"}},
		ConversationState: agent.ConversationState{State: agent.ConvResumeLoaded, ResumeLoaded: true},
		CreatedAt:         time.Now().Add(-time.Hour),
		UpdatedAt:         time.Now(),
		Title:             DeriveTitle([]memory.Message{memory.UserMessage("load my resume")}),
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := store.Save("conv-1", blob); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load("conv-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var got Snapshot
	if err := json.Unmarshal(loaded, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Title != "load my resume" || !got.ConversationState.ResumeLoaded {
		t.Fatalf("snapshot = %+v", got)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %+v", got.Messages)
	}
}

func TestSaveOverwrites(t *testing.T) {
	store := newStore(t)
	if err := store.Save("conv-1", []byte("v1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save("conv-1", []byte("v2")); err != nil {
		t.Fatalf("save again: %v", err)
	}
	blob, err := store.Load("conv-1")
	if err != nil || string(blob) != "v2" {
		t.Fatalf("blob = %q, err = %v", blob, err)
	}

	ids, err := store.List()
	if err != nil || len(ids) != 1 {
		t.Fatalf("ids = %v, err = %v", ids, err)
	}
}

func TestLoadAndDeleteMissing(t *testing.T) {
	store := newStore(t)
	if _, err := store.Load("ghost"); err != ErrNotFound {
		t.Fatalf("load err = %v", err)
	}
	if err := store.Delete("ghost"); err != ErrNotFound {
		t.Fatalf("delete err = %v", err)
	}
}

func TestDeleteRemoves(t *testing.T) {
	store := newStore(t)
	if err := store.Save("conv-1", []byte("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete("conv-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load("conv-1"); err != ErrNotFound {
		t.Fatalf("load after delete = %v", err)
	}
}

func TestDeriveTitle(t *testing.T) {
	long := strings.Repeat("analyze my education and experience ", 3)
	msgs := []memory.Message{
		memory.SystemMessage("system prompt"),
		memory.UserMessage("  " + long),
	}
	title := DeriveTitle(msgs)
	if len([]rune(title)) > 40 {
		t.Fatalf("title too long: %q", title)
	}
	if !strings.HasPrefix(title, "analyze my education") {
		t.Fatalf("title = %q", title)
	}
	if DeriveTitle(nil) != "" {
		t.Fatal("empty log should give empty title")
	}
}

func TestRestoreRepairsInvariants(t *testing.T) {
	snap := &Snapshot{
		Messages: []memory.Message{
			memory.SystemMessage("anchor"),
			memory.UserMessage("analyze"),
			memory.AssistantToolCalls("", memory.ToolCall{ID: "call_1", Name: "education_analyzer", Arguments: "{}"}),
			memory.ToolMessage("call_1", "education_analyzer", "ok"),
			memory.ToolMessage("call_ghost", "education_analyzer", "dangling"),
		},
	}

	log := Restore(snap)
	msgs := log.Snapshot()
	if len(msgs) != 4 {
		t.Fatalf("messages after repair = %d", len(msgs))
	}
	if msgs[0].Role != memory.RoleSystem {
		t.Fatal("system anchor lost")
	}
	for _, m := range msgs {
		if m.ToolCallID == "call_ghost" {
			t.Fatal("dangling tool message survived repair")
		}
	}
}

func TestRestoreReanchorsSystemMessage(t *testing.T) {
	snap := &Snapshot{
		Messages: []memory.Message{
			memory.UserMessage("hello"),
			memory.AssistantMessage("Hi! Share a resume path to start."),
			memory.SystemMessage("anchor"),
			memory.SystemMessage("stray duplicate"),
			memory.UserMessage("analyze"),
		},
	}

	log := Restore(snap)
	msgs := log.Snapshot()
	if len(msgs) != 4 {
		t.Fatalf("messages after repair = %d", len(msgs))
	}
	if msgs[0].Role != memory.RoleSystem || msgs[0].Content != "anchor" {
		t.Fatalf("first message = %+v", msgs[0])
	}
	for _, m := range msgs[1:] {
		if m.Role == memory.RoleSystem {
			t.Fatalf("duplicate system message survived: %+v", m)
		}
	}
	if msgs[1].Content != "hello" || msgs[3].Content != "analyze" {
		t.Fatalf("conversation order disturbed: %+v", msgs)
	}
}
