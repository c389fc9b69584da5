// Package agent drives the per-turn control flow: intent
// classification, the deterministic short-circuit path, and the bounded
// reason-act-observe loop against the model service.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cvpilot/cvpilot/pkg/document"
	"github.com/cvpilot/cvpilot/pkg/events"
	"github.com/cvpilot/cvpilot/pkg/intent"
	"github.com/cvpilot/cvpilot/pkg/logger"
	"github.com/cvpilot/cvpilot/pkg/memory"
	"github.com/cvpilot/cvpilot/pkg/providers"
	"github.com/cvpilot/cvpilot/pkg/tools"
)

// Error event types surfaced on the stream.
const (
	ErrTypeLLM        = "llm_error"
	ErrTypeEmptyReply = "empty_reply"
	ErrTypeStuckLoop  = "stuck_loop"
	ErrTypeStepBudget = "step_budget_exhausted"
	ErrTypeTransition = "state_transition"
)

// maxModelAttempts bounds transport retries within one step; only the
// final failure is turn-fatal.
const maxModelAttempts = 2

const (
	defaultStepBudget         = 5
	defaultStepBudgetAnalysis = 10
	defaultGreetingReply      = "Hello! I can load, review, analyze, and improve your resume. Share a file path to get started."
	boundedStepReply          = "I reached my step limit for this request. Here is where I got; ask again to continue."
	appliedReply              = "Optimization applied. Anything else you would like to improve?"
	stoppedMarker             = "[stopped by user]"
)

// Settings tune one agent instance. Zero values fall back to defaults.
type Settings struct {
	Name               string
	Model              string
	StepBudget         int
	StepBudgetAnalysis int
	MaxTokens          int
	Temperature        float64
	AnalysisKeywords   []string
	GreetingReply      string
}

// Agent is the per-session control loop. It owns no goroutines; Turn is
// called from the session's single worker, so memory needs no lock.
type Agent struct {
	name       string
	model      string
	provider   providers.LLMProvider
	registry   *tools.Registry
	classifier *intent.Classifier
	log        *memory.Log
	window     *memory.Window
	store      *document.Store
	emitter    *events.Emitter
	conv       *ConversationState
	machine    *Machine
	settings   Settings
	stopFlag   atomic.Bool
}

func New(provider providers.LLMProvider, registry *tools.Registry, classifier *intent.Classifier,
	window *memory.Window, store *document.Store, emitter *events.Emitter, settings Settings) *Agent {
	if settings.Name == "" {
		settings.Name = "cvpilot"
	}
	if settings.Model == "" && provider != nil {
		settings.Model = provider.GetDefaultModel()
	}
	if settings.StepBudget <= 0 {
		settings.StepBudget = defaultStepBudget
	}
	if settings.StepBudgetAnalysis <= 0 {
		settings.StepBudgetAnalysis = defaultStepBudgetAnalysis
	}
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = 8192
	}
	if settings.Temperature <= 0 {
		settings.Temperature = 0.7
	}
	if settings.GreetingReply == "" {
		settings.GreetingReply = defaultGreetingReply
	}
	return &Agent{
		name:       settings.Name,
		model:      settings.Model,
		provider:   provider,
		registry:   registry,
		classifier: classifier,
		log:        window.Log(),
		window:     window,
		store:      store,
		emitter:    emitter,
		conv:       NewConversationState(),
		machine:    NewMachine(),
		settings:   settings,
	}
}

// State returns the loop's lifecycle state.
func (a *Agent) State() RunState { return a.machine.Current() }

// Conversation returns the dialogue-level state, for checkpointing.
func (a *Agent) Conversation() *ConversationState { return a.conv }

// Stop sets the cooperative stop flag. The loop polls it between steps
// and after each tool; in-flight work is awaited, not killed.
func (a *Agent) Stop() { a.stopFlag.Store(true) }

// Turn processes one user utterance end to end and returns the final
// user-facing answer.
func (a *Agent) Turn(ctx context.Context, utterance string) (string, error) {
	a.stopFlag.Store(false)

	if err := a.transition(StateStarting); err != nil {
		return "", err
	}
	a.emitter.StartTurn(a.name, utterance)
	if err := a.transition(StateRunning); err != nil {
		return "", a.abortOnTransition(err)
	}

	a.window.Append(memory.UserMessage(utterance))
	a.log.CleanupIncompleteSequences()

	verdict := a.classifier.Classify(ctx, utterance, a.log.Recent(5), a.conv.LastAIMessage)
	logger.InfoCF("agent", "Utterance classified", map[string]interface{}{
		"intent":     string(verdict.Intent),
		"tool":       verdict.Tool,
		"direct":     verdict.ShouldUseToolDirectly,
		"confidence": verdict.Confidence,
	})

	if verdict.Intent == intent.IntentGreeting {
		return a.finishWithAnswer(a.settings.GreetingReply, ConvGreeting)
	}

	if verdict.ShouldUseToolDirectly {
		answer, done, err := a.shortCircuit(ctx, verdict)
		if err != nil {
			return "", err
		}
		if done {
			return answer, nil
		}
		// the direct tool failed; let the model see the error and recover
	}

	return a.reasonActObserve(ctx, utterance)
}

// shortCircuit manufactures the tool invocation the classifier chose,
// skipping the first model call. Returns done=false when the loop
// should continue into the model path.
func (a *Agent) shortCircuit(ctx context.Context, verdict intent.Classification) (string, bool, error) {
	result, _, err := a.executeSynthesized(ctx, verdict.Tool, verdict.Args)
	if err != nil {
		return "", false, err
	}
	if result.IsError {
		logger.WarnCF("agent", "Direct tool failed, entering model loop", map[string]interface{}{
			"tool":  verdict.Tool,
			"error": result.ErrText,
		})
		return "", false, nil
	}

	a.conv.LastToolUsed = verdict.Tool
	convState := a.conv.State
	switch verdict.Intent {
	case intent.IntentLoadResume:
		a.conv.ResumeLoaded = true
		convState = ConvResumeLoaded
	case intent.IntentViewResume:
		convState = ConvResumeLoaded
	case intent.IntentAnalyze:
		convState = ConvAnalyzing
	case intent.IntentOptimize, intent.IntentOptimizeSection:
		convState = ConvOptimizing
	case intent.IntentConfirm:
		convState = ConvEditing
	}

	if verdict.Intent == intent.IntentConfirm {
		// a just-applied editor success ends the turn through the
		// terminal tool, no further model call
		if _, _, err := a.executeSynthesized(ctx, "terminate", map[string]interface{}{"status": "success"}); err != nil {
			return "", false, err
		}
		answer, err := a.finishWithAnswer(appliedReply, convState)
		return answer, true, err
	}

	if a.registry.IsTerminal(verdict.Tool) {
		answer, err := a.finishWithAnswer(result.Observation(), convState)
		return answer, true, err
	}

	// the observation is itself the user-facing answer for direct
	// loads, views, and analyses; it goes out once, as the answer
	answer := result.Observation()
	a.window.Append(memory.AssistantMessage(answer))
	a.emitter.Answer(answer, true)
	a.conv.LastAIMessage = answer
	a.conv.State = convState
	if err := a.completeTurn(true); err != nil {
		return "", true, err
	}
	return answer, true, nil
}

// executeSynthesized appends a synthesized assistant tool-call and its
// observation, emitting both on the stream.
func (a *Agent) executeSynthesized(ctx context.Context, tool string, args map[string]interface{}) (*tools.Result, memory.ToolCall, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, memory.ToolCall{}, fmt.Errorf("encode synthesized arguments: %w", err)
	}
	call := memory.ToolCall{
		ID:        "call_" + uuid.NewString(),
		Name:      tool,
		Arguments: string(argsJSON),
	}
	a.window.Append(memory.AssistantToolCalls("", call))
	a.emitter.ToolCall(call.Name, call.Arguments, call.ID)

	if err := a.transition(StateToolExecuting); err != nil {
		return nil, call, a.abortOnTransition(err)
	}
	result := a.registry.ExecuteArgs(ctx, tool, args)
	a.window.Append(memory.ToolMessage(call.ID, call.Name, result.Observation()))
	a.emitter.ToolResult(call.Name, result.Observation(), call.ID, result.IsError)
	return result, call, nil
}

// chat calls the model service with a bounded transport retry; a
// cancelled context stops the retries immediately.
func (a *Agent) chat(ctx context.Context, messages []providers.Message) (*providers.LLMResponse, error) {
	options := map[string]interface{}{
		"max_tokens":  a.settings.MaxTokens,
		"temperature": a.settings.Temperature,
		"tool_choice": providers.ToolChoiceAuto,
	}
	var lastErr error
	for attempt := 1; attempt <= maxModelAttempts; attempt++ {
		response, err := a.provider.Chat(ctx, messages, a.registry.Schema(), a.model, options)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < maxModelAttempts {
			logger.WarnCF("agent", "Model call failed, retrying", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
		}
	}
	return nil, lastErr
}

// reasonActObserve is the bounded model loop.
func (a *Agent) reasonActObserve(ctx context.Context, utterance string) (string, error) {
	budget := a.settings.StepBudget
	if needsAnalysisBudget(utterance, a.settings.AnalysisKeywords) {
		budget = a.settings.StepBudgetAnalysis
	}

	detector := &stuckDetector{}
	lastToolWasAnalyzer := false
	var lastAnalyzerMarkers []string

	for step := 1; step <= budget; step++ {
		if a.stopFlag.Load() {
			return "", a.cancel()
		}

		if err := a.transition(StateThinking); err != nil {
			return "", a.abortOnTransition(err)
		}

		systemPrompt := buildSystemPrompt(a.name, a.store, a.conv)
		messages := toProviderMessages(systemPrompt, a.window.Messages())

		logger.DebugCF("agent", "Model step", map[string]interface{}{
			"step":     step,
			"budget":   budget,
			"messages": len(messages),
		})

		response, err := a.chat(ctx, messages)
		if err != nil {
			logger.ErrorCF("agent", "Model call failed", map[string]interface{}{
				"step":  step,
				"error": err.Error(),
			})
			return "", a.failTurn(fmt.Errorf("model call failed: %w", err), ErrTypeLLM)
		}

		content := strings.TrimSpace(response.Content)

		if len(response.ToolCalls) == 0 {
			if content == "" {
				return "", a.failTurn(fmt.Errorf("model returned an empty reply"), ErrTypeEmptyReply)
			}
			// auto-terminate on a pure-text reply
			a.window.Append(memory.AssistantMessage(content))
			detector.observe(memory.AssistantMessage(content))
			if err := a.transition(StateOutputting); err != nil {
				return "", a.abortOnTransition(err)
			}
			// the final text is the answer; demote it to a thought
			// only when a marker answer already left the stream
			if a.emitter.AnswerSent() {
				a.emitter.Thought(content)
			} else {
				a.emitter.Answer(content, true)
			}
			a.conv.LastAIMessage = content
			if err := a.completeTurn(true); err != nil {
				return "", err
			}
			return content, nil
		}

		assistantMsg := memory.AssistantToolCalls(content, toMemoryCalls(response.ToolCalls)...)
		a.window.Append(assistantMsg)
		detector.observe(assistantMsg)

		terminal := false
		for _, tc := range response.ToolCalls {
			if a.registry.IsTerminal(tc.Name) {
				terminal = true
			}
		}
		// text riding on a terminal call becomes the answer below;
		// emitting it here too would put it on the stream twice
		if content != "" && !terminal {
			a.emitter.Assistant(content, lastToolWasAnalyzer, lastAnalyzerMarkers)
		}

		if err := a.transition(StateToolExecuting); err != nil {
			return "", a.abortOnTransition(err)
		}

		for _, tc := range response.ToolCalls {
			// every issued call gets its observation appended, even
			// under a pending stop, so pairing survives
			a.emitter.ToolCall(tc.Name, tc.Arguments, tc.ID)
			result := a.registry.Execute(ctx, tc.Name, tc.Arguments)
			a.window.Append(memory.ToolMessage(tc.ID, tc.Name, result.Observation()))
			a.emitter.ToolResult(tc.Name, result.Observation(), tc.ID, result.IsError)

			a.conv.LastToolUsed = tc.Name
			if a.registry.IsAnalyzer(tc.Name) && !result.IsError {
				lastToolWasAnalyzer = true
				lastAnalyzerMarkers = a.registry.Markers(tc.Name)
				a.conv.State = ConvAnalyzing
			} else {
				lastToolWasAnalyzer = false
			}
			if tc.Name == "cv_reader_agent" && !result.IsError {
				a.conv.ResumeLoaded = true
				a.conv.State = ConvResumeLoaded
			}
		}

		if detector.stuck() {
			return "", a.failTurn(fmt.Errorf("stuck loop detected"), ErrTypeStuckLoop)
		}

		if terminal {
			answer := content
			if answer == "" {
				answer = a.conv.LastAIMessage
			}
			if answer == "" {
				answer = "Done."
			}
			if !a.emitter.AnswerSent() {
				a.emitter.Answer(answer, true)
			}
			a.conv.LastAIMessage = answer
			if err := a.completeTurn(true); err != nil {
				return "", err
			}
			return answer, nil
		}

		if a.stopFlag.Load() {
			return "", a.cancel()
		}
	}

	// bounded-step stop: a degraded answer plus a fatal turn marker
	a.emitter.Error("step budget exhausted", ErrTypeStepBudget)
	if !a.emitter.AnswerSent() {
		a.emitter.Answer(boundedStepReply, false)
	}
	a.emitter.EndTurn(false)
	a.window.Append(memory.AssistantMessage(boundedStepReply))
	a.conv.LastAIMessage = boundedStepReply
	if terr := a.transition(StateError); terr == nil {
		_ = a.transition(StateIdle)
	}
	return boundedStepReply, nil
}

func (a *Agent) finishWithAnswer(answer, convState string) (string, error) {
	a.window.Append(memory.AssistantMessage(answer))
	a.emitter.Answer(answer, true)
	a.conv.LastAIMessage = answer
	a.conv.State = convState
	if err := a.completeTurn(true); err != nil {
		return "", err
	}
	return answer, nil
}

func (a *Agent) completeTurn(success bool) error {
	a.emitter.EndTurn(success)
	if err := a.transition(StateCompleted); err != nil {
		return a.abortOnTransition(err)
	}
	return a.transition(StateIdle)
}

// failTurn handles turn-level fatal errors: error event, failed
// agent_end, machine reset to idle.
func (a *Agent) failTurn(err error, errType string) error {
	a.emitter.Error(err.Error(), errType)
	a.emitter.EndTurn(false)
	if terr := a.transition(StateError); terr == nil {
		_ = a.transition(StateIdle)
	}
	return err
}

// cancel handles the cooperative stop: marker message, cancelled
// status, STOPPED state.
func (a *Agent) cancel() error {
	a.window.Append(memory.AssistantMessage(stoppedMarker))
	a.emitter.Cancelled()
	if err := a.transition(StateStopped); err != nil {
		return a.abortOnTransition(err)
	}
	return a.transition(StateIdle)
}

// abortOnTransition surfaces a transition error without tearing the
// session down; the machine is reset so the next turn can run.
func (a *Agent) abortOnTransition(err error) error {
	logger.ErrorCF("agent", "Invalid state transition", map[string]interface{}{"error": err.Error()})
	a.emitter.Error(err.Error(), ErrTypeTransition)
	a.emitter.EndTurn(false)
	a.machine = NewMachine()
	return err
}

func (a *Agent) transition(to RunState) error {
	return a.machine.Transition(to)
}

func toMemoryCalls(calls []providers.ToolCall) []memory.ToolCall {
	out := make([]memory.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, memory.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	return out
}
