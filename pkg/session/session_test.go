package session

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cvpilot/cvpilot/pkg/checkpoint"
	"github.com/cvpilot/cvpilot/pkg/config"
	"github.com/cvpilot/cvpilot/pkg/memory"
	"github.com/cvpilot/cvpilot/pkg/providers"
)

type stubProvider struct {
	reply string
	calls int
}

func (p *stubProvider) Chat(ctx context.Context, msgs []providers.Message, defs []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	p.calls++
	return &providers.LLMResponse{Content: p.reply}, nil
}

func (p *stubProvider) GetDefaultModel() string { return "stub" }

func newManager(t *testing.T, withCheckpoints bool) (*Manager, checkpoint.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	// no heartbeats in tests; they only add noise to the stream
	cfg.Events.HeartbeatSeconds = 0

	var ckpt checkpoint.Store
	if withCheckpoints {
		store, err := checkpoint.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
		if err != nil {
			t.Fatalf("open checkpoint store: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		ckpt = store
	}

	m := NewManager(cfg, &stubProvider{reply: "hello"}, ckpt, nil)
	t.Cleanup(m.Close)
	return m, ckpt
}

func TestGetOrCreateReturnsSameSession(t *testing.T) {
	m, _ := newManager(t, false)

	s1, err := m.GetOrCreate("conv-1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s2, err := m.GetOrCreate("conv-1", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s1 != s2 {
		t.Fatal("same id must return the same session")
	}
	if m.Len() != 1 {
		t.Fatalf("sessions = %d", m.Len())
	}
}

func TestSeedDocumentPopulatesStore(t *testing.T) {
	m, _ := newManager(t, false)

	seed := map[string]interface{}{"basic": map[string]interface{}{"name": "Jane"}}
	s, err := m.GetOrCreate("conv-1", seed)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	name, err := s.Store.GetPath("basic.name")
	if err != nil || name != "Jane" {
		t.Fatalf("seed not applied: %v, %v", name, err)
	}
}

func TestTurnRunsAndCheckpoints(t *testing.T) {
	m, ckpt := newManager(t, true)

	answer, err := m.Turn(context.Background(), "conv-1", "hi")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if answer == "" {
		t.Fatal("no answer")
	}

	ids, err := ckpt.List()
	if err != nil || len(ids) != 1 || ids[0] != "conv-1" {
		t.Fatalf("checkpoints = %v, err = %v", ids, err)
	}
}

func TestRestoreAcrossManagerRestart(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Events.HeartbeatSeconds = 0
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	ckpt1, err := checkpoint.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	m1 := NewManager(cfg, &stubProvider{reply: "hello"}, ckpt1, nil)
	if _, err := m1.Turn(context.Background(), "conv-1", "hi"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	m1.Close()
	ckpt1.Close()

	ckpt2, err := checkpoint.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer ckpt2.Close()
	m2 := NewManager(cfg, &stubProvider{reply: "hello"}, ckpt2, nil)
	defer m2.Close()

	s, err := m2.GetOrCreate("conv-1", nil)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	msgs := s.Log.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("restored messages = %+v", msgs)
	}
	if msgs[0].Role != memory.RoleUser || msgs[0].Content != "hi" {
		t.Fatalf("first restored message = %+v", msgs[0])
	}
	if s.Agent.Conversation().LastAIMessage == "" {
		t.Fatal("conversation state not restored")
	}
}

func TestStopAndRemove(t *testing.T) {
	m, _ := newManager(t, false)

	if m.Stop("ghost") {
		t.Fatal("stopping a missing session should report false")
	}
	if _, err := m.GetOrCreate("conv-1", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !m.Stop("conv-1") {
		t.Fatal("stop should find the session")
	}
	m.Remove("conv-1")
	if m.Len() != 0 {
		t.Fatalf("sessions = %d", m.Len())
	}
}

func TestReapIdleSessions(t *testing.T) {
	m, _ := newManager(t, false)

	s, err := m.GetOrCreate("conv-1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s.mu.Lock()
	s.lastActive = time.Now().Add(-time.Hour)
	s.mu.Unlock()

	fresh, err := m.GetOrCreate("conv-2", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fresh.Touch()

	m.reapIdle(30 * time.Minute)
	if m.Len() != 1 {
		t.Fatalf("sessions after reap = %d", m.Len())
	}
	if _, ok := m.sessions["conv-2"]; !ok {
		t.Fatal("fresh session was reaped")
	}
}

func TestStartReaperValidatesCron(t *testing.T) {
	m, _ := newManager(t, false)
	if err := m.StartReaper("not a cron", time.Minute); err == nil {
		t.Fatal("invalid cron accepted")
	}
	if err := m.StartReaper("*/5 * * * *", 0); err == nil {
		t.Fatal("zero idle timeout accepted")
	}
	if err := m.StartReaper("*/5 * * * *", time.Minute); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}
	if !strings.Contains(config.DefaultConfig().Session.ReapCron, "*") {
		t.Fatal("default reap cron missing")
	}
}
