// Package session owns the conversation-id to session mapping: one
// agent loop, memory, document store, and event stream per
// conversation, with idle reaping and checkpoint persistence.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cvpilot/cvpilot/pkg/agent"
	"github.com/cvpilot/cvpilot/pkg/checkpoint"
	"github.com/cvpilot/cvpilot/pkg/config"
	"github.com/cvpilot/cvpilot/pkg/document"
	"github.com/cvpilot/cvpilot/pkg/events"
	"github.com/cvpilot/cvpilot/pkg/intent"
	"github.com/cvpilot/cvpilot/pkg/logger"
	"github.com/cvpilot/cvpilot/pkg/memory"
	"github.com/cvpilot/cvpilot/pkg/providers"
	"github.com/cvpilot/cvpilot/pkg/tools"
)

// Session bundles everything one conversation owns.
type Session struct {
	ID      string
	Agent   *agent.Agent
	Log     *memory.Log
	Window  *memory.Window
	Store   *document.Store
	Stream  *events.Stream
	Emitter *events.Emitter

	createdAt  time.Time
	lastActive time.Time
	mu         sync.Mutex
}

// Touch records activity for idle reaping.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// IdleSince reports how long the session has been inactive.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

// Manager maps conversation ids to sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	provider providers.LLMProvider
	cfg      *config.Config
	ckpt     checkpoint.Store
	parser   tools.ResumeParser

	reapStop chan struct{}
	reapOnce sync.Once
}

// NewManager builds a manager. ckpt may be nil to disable persistence;
// parser may be nil to use the built-in Markdown parser.
func NewManager(cfg *config.Config, provider providers.LLMProvider, ckpt checkpoint.Store, parser tools.ResumeParser) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		provider: provider,
		cfg:      cfg,
		ckpt:     ckpt,
		parser:   parser,
		reapStop: make(chan struct{}),
	}
}

// GetOrCreate returns the session for id, building it on first use. A
// non-nil seed document pre-populates the store of a new session; an
// existing checkpoint for id is restored instead.
func (m *Manager) GetOrCreate(id string, seed map[string]interface{}) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, nil
	}

	s, err := m.build(id, seed)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s
	logger.InfoCF("session", "Session created", map[string]interface{}{"conversation_id": id})
	return s, nil
}

func (m *Manager) build(id string, seed map[string]interface{}) (*Session, error) {
	store := document.NewStore()
	if seed != nil {
		store.Replace(seed)
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterDefaults(registry, store, m.parser); err != nil {
		return nil, fmt.Errorf("build session %s: %w", id, err)
	}

	log := memory.NewLog()
	window := memory.NewWindow(log, m.cfg.Agent.HistoryWindow)

	stream := events.NewStream(m.cfg.Events.BufferSize,
		time.Duration(m.cfg.Events.HeartbeatSeconds)*time.Second)
	emitter := events.NewEmitter(stream, m.cfg.Events.ToolResultCap)

	opts := intent.Options{
		RuleConfidence:  m.cfg.Agent.RuleConfidence,
		GreetingPhrases: m.cfg.Agent.GreetingPhrases,
	}
	if m.cfg.Agent.UseModelClassifier {
		opts.Provider = m.provider
		opts.Model = m.cfg.Provider.Model
	}
	classifier := intent.NewClassifier(registry, opts)

	a := agent.New(m.provider, registry, classifier, window, store, emitter, agent.Settings{
		Model:              m.cfg.Provider.Model,
		StepBudget:         m.cfg.Agent.StepBudget,
		StepBudgetAnalysis: m.cfg.Agent.StepBudgetAnalysis,
		MaxTokens:          m.cfg.Agent.MaxTokens,
		Temperature:        m.cfg.Agent.Temperature,
		AnalysisKeywords:   m.cfg.Agent.AnalysisKeywords,
	})

	s := &Session{
		ID:         id,
		Agent:      a,
		Log:        log,
		Window:     window,
		Store:      store,
		Stream:     stream,
		Emitter:    emitter,
		createdAt:  time.Now(),
		lastActive: time.Now(),
	}

	if m.ckpt != nil {
		if err := m.restore(s); err != nil && err != checkpoint.ErrNotFound {
			logger.WarnCF("session", "Checkpoint restore failed, starting fresh",
				map[string]interface{}{"conversation_id": id, "error": err.Error()})
		}
	}
	return s, nil
}

func (m *Manager) restore(s *Session) error {
	blob, err := m.ckpt.Load(s.ID)
	if err != nil {
		return err
	}
	var snap checkpoint.Snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return fmt.Errorf("decode checkpoint %s: %w", s.ID, err)
	}

	repaired := checkpoint.Restore(&snap)
	s.Log.Reset(repaired.Snapshot())
	s.Window.Trim()
	if snap.Document != nil {
		s.Store.Replace(snap.Document)
	}
	*s.Agent.Conversation() = snap.ConversationState
	s.createdAt = snap.CreatedAt

	logger.InfoCF("session", "Session restored from checkpoint", map[string]interface{}{
		"conversation_id": s.ID,
		"messages":        s.Log.Len(),
	})
	return nil
}

// Turn runs one user utterance on the session and checkpoints the
// result.
func (m *Manager) Turn(ctx context.Context, id, utterance string) (string, error) {
	s, err := m.GetOrCreate(id, nil)
	if err != nil {
		return "", err
	}
	s.Touch()

	answer, turnErr := s.Agent.Turn(ctx, utterance)
	s.Touch()

	if m.ckpt != nil {
		if err := m.Checkpoint(s); err != nil {
			logger.WarnCF("session", "Checkpoint save failed",
				map[string]interface{}{"conversation_id": id, "error": err.Error()})
		}
	}
	return answer, turnErr
}

// Checkpoint persists the session's current state.
func (m *Manager) Checkpoint(s *Session) error {
	msgs := s.Log.Snapshot()
	snap := checkpoint.Snapshot{
		Messages:          msgs,
		Document:          s.Store.Snapshot(),
		ConversationState: *s.Agent.Conversation(),
		CreatedAt:         s.createdAt,
		UpdatedAt:         time.Now(),
		Title:             checkpoint.DeriveTitle(msgs),
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", s.ID, err)
	}
	return m.ckpt.Save(s.ID, blob)
}

// Stop sets the cooperative stop flag on the session's loop.
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Agent.Stop()
	return true
}

// Remove tears a session down. Its checkpoint, if any, is kept.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.Agent.Stop()
	s.Stream.Close()
	logger.InfoCF("session", "Session removed", map[string]interface{}{"conversation_id": id})
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close removes every session and stops the reaper.
func (m *Manager) Close() {
	m.reapOnce.Do(func() { close(m.reapStop) })

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Remove(id)
	}
}
