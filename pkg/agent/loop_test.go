package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cvpilot/cvpilot/pkg/document"
	"github.com/cvpilot/cvpilot/pkg/events"
	"github.com/cvpilot/cvpilot/pkg/intent"
	"github.com/cvpilot/cvpilot/pkg/memory"
	"github.com/cvpilot/cvpilot/pkg/providers"
	"github.com/cvpilot/cvpilot/pkg/tools"
)

// scriptedProvider replays canned replies in order; the last reply
// repeats once the script runs out.
type scriptedProvider struct {
	script []*providers.LLMResponse
	err    error
	calls  int
}

func (p *scriptedProvider) Chat(ctx context.Context, msgs []providers.Message, defs []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if len(p.script) == 0 {
		return &providers.LLMResponse{Content: "Done."}, nil
	}
	idx := p.calls - 1
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	return p.script[idx], nil
}

func (p *scriptedProvider) GetDefaultModel() string { return "scripted" }

func textAssistant(content string) memory.Message {
	return memory.AssistantMessage(content)
}

func assistantCall(name, args string) memory.Message {
	return memory.AssistantToolCalls("", memory.ToolCall{ID: "x", Name: name, Arguments: args})
}

type harness struct {
	agent  *Agent
	stream *events.Stream
	store  *document.Store
	log    *memory.Log
}

func newHarness(t *testing.T, provider providers.LLMProvider) *harness {
	t.Helper()
	store := document.NewStore()
	reg := tools.NewRegistry()
	if err := tools.RegisterDefaults(reg, store, nil); err != nil {
		t.Fatalf("register defaults: %v", err)
	}

	log := memory.NewLog()
	window := memory.NewWindow(log, memory.DefaultWindowSize)
	stream := events.NewStream(256, 0)
	emitter := events.NewEmitter(stream, 0)
	classifier := intent.NewClassifier(reg, intent.Options{})

	a := New(provider, reg, classifier, window, store, emitter, Settings{})
	return &harness{agent: a, stream: stream, store: store, log: log}
}

// drainEvents closes the stream and returns everything emitted so far.
func (h *harness) drainEvents(t *testing.T) []events.Event {
	t.Helper()
	h.stream.Close()
	var out []events.Event
	for {
		ev, ok := h.stream.Consume(context.Background())
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func eventKinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func countKind(evs []events.Event, kind events.Kind) int {
	var n int
	for _, ev := range evs {
		if ev.Type == kind {
			n++
		}
	}
	return n
}

// contentOccurrences counts stream events whose content carries text,
// across thought and answer kinds.
func contentOccurrences(evs []events.Event, text string) int {
	var n int
	for _, ev := range evs {
		if c, ok := ev.Data["content"].(string); ok && strings.Contains(c, text) {
			n++
		}
	}
	return n
}

func findEvent(evs []events.Event, kind events.Kind) (events.Event, bool) {
	for _, ev := range evs {
		if ev.Type == kind {
			return ev, true
		}
	}
	return events.Event{}, false
}

func writeResume(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "r.md")
	content := `# Jane Doe

## Education
### State University
degree: BSc Computer Science
dates: 2018 - 2022
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write resume: %v", err)
	}
	return path
}

func assertPairing(t *testing.T, msgs []memory.Message) {
	t.Helper()
	for i, m := range msgs {
		if !m.HasToolCalls() {
			continue
		}
		want := m.CallIDs()
		for j := i + 1; j < len(msgs) && len(want) > 0; j++ {
			next := msgs[j]
			if next.Role != memory.RoleTool {
				break
			}
			if _, ok := want[next.ToolCallID]; !ok {
				t.Fatalf("unexpected tool result %q at %d", next.ToolCallID, j)
			}
			delete(want, next.ToolCallID)
		}
		if len(want) > 0 {
			t.Fatalf("assistant at %d left tool calls unanswered: %v", i, want)
		}
	}
}

func TestGreetingTurn(t *testing.T) {
	provider := &scriptedProvider{}
	h := newHarness(t, provider)

	answer, err := h.agent.Turn(context.Background(), "hi")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if answer == "" {
		t.Fatal("greeting answer is empty")
	}
	if provider.calls != 0 {
		t.Fatalf("greeting must not call the model (calls=%d)", provider.calls)
	}

	evs := h.drainEvents(t)
	if countKind(evs, events.KindToolCall) != 0 {
		t.Fatalf("greeting emitted tool calls: %v", eventKinds(evs))
	}
	if evs[0].Type != events.KindAgentStart {
		t.Fatalf("order = %v", eventKinds(evs))
	}
	if evs[len(evs)-1].Type != events.KindAgentEnd {
		t.Fatalf("turn must close with agent_end: %v", eventKinds(evs))
	}
	if ans, ok := findEvent(evs, events.KindAnswer); !ok || ans.Data["content"] == "" {
		t.Fatal("no answer event")
	}
	end, ok := findEvent(evs, events.KindAgentEnd)
	if !ok || end.Data["success"] != true {
		t.Fatalf("agent_end = %v", end.Data)
	}

	msgs := h.log.Snapshot()
	if len(msgs) != 2 || msgs[0].Role != memory.RoleUser || msgs[1].Role != memory.RoleAssistant {
		t.Fatalf("memory = %+v", msgs)
	}
	if h.agent.State() != StateIdle {
		t.Fatalf("state = %s", h.agent.State())
	}
}

func TestLoadResumeShortCircuit(t *testing.T) {
	provider := &scriptedProvider{}
	h := newHarness(t, provider)
	path := writeResume(t)

	answer, err := h.agent.Turn(context.Background(), "please load the resume at "+path)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if provider.calls != 0 {
		t.Fatalf("short-circuit must skip the model (calls=%d)", provider.calls)
	}
	if !strings.Contains(answer, "Resume loaded") {
		t.Fatalf("answer = %q", answer)
	}
	if h.store.IsEmpty() {
		t.Fatal("document not populated")
	}
	if !h.agent.Conversation().ResumeLoaded {
		t.Fatal("conversation state not updated")
	}

	evs := h.drainEvents(t)
	call, ok := findEvent(evs, events.KindToolCall)
	if !ok || call.Data["name"] != "cv_reader_agent" {
		t.Fatalf("tool_call = %v", call.Data)
	}
	if !strings.Contains(call.Data["args"].(string), path) {
		t.Fatalf("args = %v", call.Data["args"])
	}
	res, ok := findEvent(evs, events.KindToolResult)
	if !ok || res.Data["is_error"] != false {
		t.Fatalf("tool_result = %v", res.Data)
	}
	if _, ok := findEvent(evs, events.KindAnswer); !ok {
		t.Fatal("no answer event")
	}
	assertPairing(t, h.log.Snapshot())
}

func TestAnalyzeThenConfirm(t *testing.T) {
	provider := &scriptedProvider{}
	h := newHarness(t, provider)
	path := writeResume(t)

	if _, err := h.agent.Turn(context.Background(), "load the resume at "+path); err != nil {
		t.Fatalf("load turn: %v", err)
	}

	// turn A: analyzer short-circuits and proposes the gpa fix
	answer, err := h.agent.Turn(context.Background(), "analyze my education")
	if err != nil {
		t.Fatalf("analyze turn: %v", err)
	}
	if !strings.Contains(answer, "Would you like me to apply this optimization?") {
		t.Fatalf("analysis answer = %q", answer)
	}
	if provider.calls != 0 {
		t.Fatalf("analyze short-circuit must skip the model (calls=%d)", provider.calls)
	}

	// turn B: the affirmation routes to the editor, then terminates
	answer, err = h.agent.Turn(context.Background(), "yes")
	if err != nil {
		t.Fatalf("confirm turn: %v", err)
	}
	if !strings.Contains(answer, "Optimization applied") {
		t.Fatalf("confirm answer = %q", answer)
	}
	if provider.calls != 0 {
		t.Fatalf("confirm turn must skip the model (calls=%d)", provider.calls)
	}

	gpa, err := h.store.GetPath("education[0].gpa")
	if err != nil {
		t.Fatalf("gpa not applied: %v", err)
	}
	if gpa != "3.9" {
		t.Fatalf("gpa = %v", gpa)
	}

	evs := h.drainEvents(t)
	var editorCalled, terminateCalled bool
	for _, ev := range evs {
		if ev.Type == events.KindToolCall {
			switch ev.Data["name"] {
			case "cv_editor_agent":
				editorCalled = true
			case "terminate":
				terminateCalled = true
			}
		}
	}
	if !editorCalled || !terminateCalled {
		t.Fatalf("editor=%v terminate=%v", editorCalled, terminateCalled)
	}
	assertPairing(t, h.log.Snapshot())
}

func TestStuckLoopDetection(t *testing.T) {
	script := make([]*providers.LLMResponse, 0, 4)
	for i := 1; i <= 4; i++ {
		script = append(script, &providers.LLMResponse{
			ToolCalls: []providers.ToolCall{{
				ID:        fmt.Sprintf("call_%d", i),
				Name:      "cv_viewer",
				Arguments: `{"section":"education"}`,
			}},
		})
	}
	provider := &scriptedProvider{script: script}
	h := newHarness(t, provider)

	_, err := h.agent.Turn(context.Background(), "zzz do the thing over and over")
	if err == nil || !strings.Contains(err.Error(), "stuck") {
		t.Fatalf("err = %v", err)
	}
	if provider.calls != 3 {
		t.Fatalf("detector should trip on the third repeat (calls=%d)", provider.calls)
	}

	evs := h.drainEvents(t)
	errEv, ok := findEvent(evs, events.KindError)
	if !ok || errEv.Data["type"] != ErrTypeStuckLoop {
		t.Fatalf("error event = %v", errEv.Data)
	}
	end, ok := findEvent(evs, events.KindAgentEnd)
	if !ok || end.Data["success"] != false {
		t.Fatalf("agent_end = %v", end.Data)
	}
	assertPairing(t, h.log.Snapshot())
}

func TestStepBudgetExhausted(t *testing.T) {
	script := make([]*providers.LLMResponse, 0, 8)
	for i := 1; i <= 8; i++ {
		script = append(script, &providers.LLMResponse{
			ToolCalls: []providers.ToolCall{{
				ID:        fmt.Sprintf("call_%d", i),
				Name:      "cv_viewer",
				Arguments: fmt.Sprintf(`{"section":"s%d"}`, i),
			}},
		})
	}
	provider := &scriptedProvider{script: script}
	h := newHarness(t, provider)

	answer, err := h.agent.Turn(context.Background(), "zzz keep going forever")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if provider.calls != defaultStepBudget {
		t.Fatalf("model calls = %d, want %d", provider.calls, defaultStepBudget)
	}
	if !strings.Contains(answer, "step limit") {
		t.Fatalf("answer = %q", answer)
	}

	evs := h.drainEvents(t)
	errEv, ok := findEvent(evs, events.KindError)
	if !ok || errEv.Data["type"] != ErrTypeStepBudget {
		t.Fatalf("error event = %v", errEv.Data)
	}
	end, _ := findEvent(evs, events.KindAgentEnd)
	if end.Data["success"] != false {
		t.Fatalf("agent_end = %v", end.Data)
	}
	assertPairing(t, h.log.Snapshot())
}

func TestPureTextReplyAutoTerminates(t *testing.T) {
	provider := &scriptedProvider{script: []*providers.LLMResponse{
		{Content: "You could add more detail to the education section."},
	}}
	h := newHarness(t, provider)

	answer, err := h.agent.Turn(context.Background(), "zzz what do you think")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("calls = %d", provider.calls)
	}
	if !strings.Contains(answer, "education section") {
		t.Fatalf("answer = %q", answer)
	}

	evs := h.drainEvents(t)
	end, _ := findEvent(evs, events.KindAgentEnd)
	if end.Data["success"] != true {
		t.Fatalf("agent_end = %v", end.Data)
	}
	// the final text goes out once, as the answer, not also as a thought
	if n := contentOccurrences(evs, "education section"); n != 1 {
		t.Fatalf("final text emitted %d times, want 1", n)
	}
}

// flakyProvider fails its first N calls, then delegates to the script.
type flakyProvider struct {
	inner    *scriptedProvider
	failures int
	calls    int
}

func (p *flakyProvider) Chat(ctx context.Context, msgs []providers.Message, defs []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, fmt.Errorf("transient transport failure")
	}
	return p.inner.Chat(ctx, msgs, defs, model, options)
}

func (p *flakyProvider) GetDefaultModel() string { return "flaky" }

func TestTransientModelErrorIsRetried(t *testing.T) {
	provider := &flakyProvider{
		inner:    &scriptedProvider{script: []*providers.LLMResponse{{Content: "Recovered fine."}}},
		failures: 1,
	}
	h := newHarness(t, provider)

	answer, err := h.agent.Turn(context.Background(), "zzz what do you think")
	if err != nil {
		t.Fatalf("turn should survive one transport failure: %v", err)
	}
	if !strings.Contains(answer, "Recovered") {
		t.Fatalf("answer = %q", answer)
	}
	if provider.calls != 2 {
		t.Fatalf("calls = %d, want a single retry", provider.calls)
	}

	evs := h.drainEvents(t)
	if _, ok := findEvent(evs, events.KindError); ok {
		t.Fatal("recovered turn must not emit an error event")
	}
	end, _ := findEvent(evs, events.KindAgentEnd)
	if end.Data["success"] != true {
		t.Fatalf("agent_end = %v", end.Data)
	}
}

func TestModelErrorFatalAfterRetries(t *testing.T) {
	provider := &flakyProvider{
		inner:    &scriptedProvider{},
		failures: maxModelAttempts + 1,
	}
	h := newHarness(t, provider)

	_, err := h.agent.Turn(context.Background(), "zzz what do you think")
	if err == nil || !strings.Contains(err.Error(), "model call failed") {
		t.Fatalf("err = %v", err)
	}
	if provider.calls != maxModelAttempts {
		t.Fatalf("calls = %d, want %d", provider.calls, maxModelAttempts)
	}

	evs := h.drainEvents(t)
	errEv, ok := findEvent(evs, events.KindError)
	if !ok || errEv.Data["type"] != ErrTypeLLM {
		t.Fatalf("error event = %v", errEv.Data)
	}
}

func TestEmptyReplyIsFatal(t *testing.T) {
	provider := &scriptedProvider{script: []*providers.LLMResponse{{Content: "   "}}}
	h := newHarness(t, provider)

	_, err := h.agent.Turn(context.Background(), "zzz say nothing")
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("err = %v", err)
	}

	evs := h.drainEvents(t)
	errEv, ok := findEvent(evs, events.KindError)
	if !ok || errEv.Data["type"] != ErrTypeEmptyReply {
		t.Fatalf("error event = %v", errEv.Data)
	}
}

func TestModelToolCallsThenTerminate(t *testing.T) {
	provider := &scriptedProvider{script: []*providers.LLMResponse{
		{
			Content: "Let me check the document first.",
			ToolCalls: []providers.ToolCall{{
				ID: "call_1", Name: "cv_viewer", Arguments: `{}`,
			}},
		},
		{
			Content: "All set.",
			ToolCalls: []providers.ToolCall{{
				ID: "call_2", Name: "terminate", Arguments: `{"status":"success"}`,
			}},
		},
	}}
	h := newHarness(t, provider)
	h.store.Replace(map[string]interface{}{"basic": map[string]interface{}{"name": "Jane"}})

	answer, err := h.agent.Turn(context.Background(), "zzz wrap this up")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if answer != "All set." {
		t.Fatalf("answer = %q", answer)
	}
	if provider.calls != 2 {
		t.Fatalf("calls = %d", provider.calls)
	}

	evs := h.drainEvents(t)
	// each tool result must precede the next tool call
	var order []string
	for _, ev := range evs {
		switch ev.Type {
		case events.KindToolCall, events.KindToolResult:
			order = append(order, string(ev.Type)+":"+ev.Data["tool_call_id"].(string))
		}
	}
	want := []string{
		"tool_call:call_1", "tool_result:call_1",
		"tool_call:call_2", "tool_result:call_2",
	}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if n := contentOccurrences(evs, "All set."); n != 1 {
		t.Fatalf("terminal text emitted %d times, want 1", n)
	}
	assertPairing(t, h.log.Snapshot())
}

func TestDirectToolFailureFallsIntoModelLoop(t *testing.T) {
	provider := &scriptedProvider{script: []*providers.LLMResponse{
		{Content: "I could not find that file; please check the path."},
	}}
	h := newHarness(t, provider)

	// the path does not exist, so the direct reader call fails
	answer, err := h.agent.Turn(context.Background(), "load my resume at /nope/missing.md")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("model should have been consulted after the tool error (calls=%d)", provider.calls)
	}
	if !strings.Contains(answer, "check the path") {
		t.Fatalf("answer = %q", answer)
	}

	evs := h.drainEvents(t)
	res, ok := findEvent(evs, events.KindToolResult)
	if !ok || res.Data["is_error"] != true {
		t.Fatalf("tool_result = %v", res.Data)
	}
	assertPairing(t, h.log.Snapshot())
}

func TestStopFlagCancelsBetweenSteps(t *testing.T) {
	provider := &scriptedProvider{script: []*providers.LLMResponse{
		{ToolCalls: []providers.ToolCall{{ID: "call_1", Name: "stopper", Arguments: `{}`}}},
		{Content: "should never be reached"},
	}}
	h := newHarness(t, provider)
	h.agent.registry.MustRegister(&stopperTool{agent: h.agent})

	_, err := h.agent.Turn(context.Background(), "zzz run the stopper")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("loop should stop after the first step (calls=%d)", provider.calls)
	}

	evs := h.drainEvents(t)
	var cancelled bool
	for _, ev := range evs {
		if ev.Type == events.KindStatus && ev.Data["phase"] == events.PhaseCancelled {
			cancelled = true
		}
	}
	if !cancelled {
		t.Fatalf("no cancelled status: %v", eventKinds(evs))
	}
	last, ok := h.log.Last()
	if !ok || last.Content != stoppedMarker {
		t.Fatalf("last message = %+v", last)
	}
	assertPairing(t, h.log.Snapshot())
}

// stopperTool sets the agent's stop flag mid-turn.
type stopperTool struct {
	agent *Agent
}

func (s *stopperTool) Name() string        { return "stopper" }
func (s *stopperTool) Description() string { return "sets the stop flag" }
func (s *stopperTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (s *stopperTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	s.agent.Stop()
	return tools.TextResult("stopping")
}
