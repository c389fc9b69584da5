package agent

import (
	"fmt"
	"sync"
)

// RunState is the loop's lifecycle state. RUNNING is a super-state;
// THINKING, TOOL_EXECUTING and OUTPUTTING are its sub-states entered as
// side effects of the iteration.
type RunState string

const (
	StateIdle          RunState = "idle"
	StateStarting      RunState = "starting"
	StateRunning       RunState = "running"
	StateThinking      RunState = "thinking"
	StateToolExecuting RunState = "tool_executing"
	StateOutputting    RunState = "outputting"
	StateCompleted     RunState = "completed"
	StateError         RunState = "error"
	StateStopped       RunState = "stopped"
)

// allowedTransitions is the fixed transition table. Anything outside it
// is a programming error.
var allowedTransitions = map[RunState]map[RunState]struct{}{
	StateIdle:     {StateStarting: {}},
	StateStarting: {StateRunning: {}, StateError: {}},
	StateRunning: {
		StateThinking: {}, StateToolExecuting: {}, StateOutputting: {},
		StateCompleted: {}, StateError: {}, StateStopped: {},
	},
	StateThinking: {
		StateToolExecuting: {}, StateOutputting: {}, StateThinking: {},
		StateCompleted: {}, StateError: {}, StateStopped: {},
	},
	StateToolExecuting: {
		StateThinking: {}, StateOutputting: {}, StateToolExecuting: {},
		StateCompleted: {}, StateError: {}, StateStopped: {},
	},
	StateOutputting: {
		StateCompleted: {}, StateError: {}, StateStopped: {}, StateThinking: {},
	},
	StateCompleted: {StateIdle: {}},
	StateError:     {StateIdle: {}},
	StateStopped:   {StateIdle: {}},
}

// TransitionError reports an attempt to move between states the table
// does not allow.
type TransitionError struct {
	From RunState
	To   RunState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}

// Machine tracks the loop state and enforces the transition table.
type Machine struct {
	mu      sync.Mutex
	current RunState
}

func NewMachine() *Machine {
	return &Machine{current: StateIdle}
}

func (m *Machine) Current() RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves to the target state or fails with a TransitionError.
func (m *Machine) Transition(to RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := allowedTransitions[m.current][to]; !ok {
		return &TransitionError{From: m.current, To: to}
	}
	m.current = to
	return nil
}

// OptimizationContext tracks an in-flight optimization dialogue.
type OptimizationContext struct {
	Section         string            `json:"section,omitempty"`
	CurrentQuestion string            `json:"current_question,omitempty"`
	Answers         map[string]string `json:"answers,omitempty"`
}

// ConversationState is the dialogue-level state carried across turns
// and persisted in checkpoints.
type ConversationState struct {
	State               string              `json:"state"`
	ResumeLoaded        bool                `json:"resume_loaded"`
	LastToolUsed        string              `json:"last_tool_used,omitempty"`
	LastAIMessage       string              `json:"last_ai_message,omitempty"`
	OptimizationContext OptimizationContext `json:"optimization_context"`
}

// Dialogue phases stored in ConversationState.State.
const (
	ConvIdle          = "idle"
	ConvGreeting      = "greeting"
	ConvResumeLoaded  = "resume_loaded"
	ConvAnalyzing     = "analyzing"
	ConvOptimizing    = "optimizing"
	ConvWaitingAnswer = "waiting_answer"
	ConvEditing       = "editing"
)

func NewConversationState() *ConversationState {
	return &ConversationState{State: ConvIdle}
}
