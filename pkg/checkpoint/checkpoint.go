// Package checkpoint persists session state so a conversation can be
// resumed after a restart. The storage adapter is abstract; the sqlite
// implementation is the default backend.
package checkpoint

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cvpilot/cvpilot/pkg/agent"
	"github.com/cvpilot/cvpilot/pkg/memory"
)

// ErrNotFound is returned when no checkpoint exists for an id.
var ErrNotFound = errors.New("checkpoint not found")

// Store is the abstract storage adapter. Ids are opaque strings; blobs
// are serialized snapshots.
type Store interface {
	Save(id string, blob []byte) error
	Load(id string) ([]byte, error)
	Delete(id string) error
	List() ([]string, error)
	Close() error
}

// Snapshot is the session-state blob shape.
type Snapshot struct {
	Messages          []memory.Message        `json:"messages"`
	Document          map[string]interface{}  `json:"document"`
	ConversationState agent.ConversationState `json:"conversation_state"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
	Title             string                  `json:"title"`
}

const titleMaxRunes = 40

// DeriveTitle builds the checkpoint title from the first user message:
// the first 40 characters, trimmed.
func DeriveTitle(messages []memory.Message) string {
	for _, m := range messages {
		if m.Role != memory.RoleUser {
			continue
		}
		title := strings.TrimSpace(m.Content)
		if utf8.RuneCountInString(title) > titleMaxRunes {
			runes := []rune(title)
			title = strings.TrimSpace(string(runes[:titleMaxRunes]))
		}
		return title
	}
	return ""
}

// Restore re-verifies the snapshot's message invariants: dangling tool
// messages are dropped, a misplaced system message is re-anchored to
// index 0 and duplicates discarded. The repaired message list is
// returned as a fresh log.
func Restore(snap *Snapshot) *memory.Log {
	var system *memory.Message
	rest := make([]memory.Message, 0, len(snap.Messages))
	for i := range snap.Messages {
		if snap.Messages[i].Role == memory.RoleSystem {
			if system == nil {
				m := snap.Messages[i]
				system = &m
			}
			continue
		}
		rest = append(rest, snap.Messages[i])
	}
	if system != nil {
		rest = append([]memory.Message{*system}, rest...)
	}

	log := memory.NewLog()
	log.Reset(rest)
	log.CleanupIncompleteSequences()
	return log
}
