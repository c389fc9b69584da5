// Package events is the single source of truth for the UI: an ordered,
// deduplicated stream of typed events per conversation, with
// heartbeats during idle stretches.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind tags an event.
type Kind string

const (
	KindStatus     Kind = "status"
	KindAgentStart Kind = "agent_start"
	KindThought    Kind = "thought"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindAnswer     Kind = "answer"
	KindAgentEnd   Kind = "agent_end"
	KindError      Kind = "error"
	KindHeartbeat  Kind = "heartbeat"
)

// Status phases carried by KindStatus events.
const (
	PhaseProcessing = "processing"
	PhaseComplete   = "complete"
	PhaseCancelled  = "cancelled"
)

// Event is the wire record. Heartbeats carry no data.
type Event struct {
	ID        string                 `json:"id"`
	Type      Kind                   `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// MarshalJSON fixes the timestamp to ISO-8601 with second precision in
// UTC so consumers can compare events textually.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias struct {
		ID        string                 `json:"id"`
		Type      Kind                   `json:"type"`
		Data      map[string]interface{} `json:"data,omitempty"`
		Timestamp string                 `json:"timestamp"`
	}
	return json.Marshal(alias{
		ID:        e.ID,
		Type:      e.Type,
		Data:      e.Data,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
	})
}

func newEvent(kind Kind, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      kind,
		Data:      data,
		Timestamp: time.Now(),
	}
}
