package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cvpilot/cvpilot/pkg/providers"
)

// modelVerdict is the strict JSON shape the model stage must return.
// Any deviation is a parse failure and falls back to the rule result.
type modelVerdict struct {
	Intent       string   `json:"intent"`
	MatchedTools []string `json:"matched_tools"`
	Confidence   float64  `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
}

const classifierSystemPrompt = `You are an intent classifier for a resume assistant.
Classify the user's message into exactly one intent from this list:
greeting, load_resume, view_resume, analyze, optimize, optimize_section, confirm, cancel, answer_question, unknown.

Respond with STRICT JSON only, no prose, no code fences, using exactly these keys:
{"intent": "<one of the list>", "matched_tools": ["<tool names>"], "confidence": <number 0..1>, "reasoning": "<one sentence>"}`

func (c *Classifier) classifyWithModel(ctx context.Context, utterance string, ruleMatches []match) (Classification, error) {
	var guesses []string
	for _, m := range ruleMatches {
		guesses = append(guesses, fmt.Sprintf("%s (%.2f)", m.name, m.score))
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Available tools: %s\n", strings.Join(c.registry.Names(), ", "))
	if len(guesses) > 0 {
		fmt.Fprintf(&user, "Rule-stage guesses: %s\n", strings.Join(guesses, ", "))
	}
	fmt.Fprintf(&user, "User message: %s", utterance)

	messages := []providers.Message{
		{Role: "system", Content: classifierSystemPrompt},
		{Role: "user", Content: user.String()},
	}
	model := c.model
	if model == "" {
		model = c.provider.GetDefaultModel()
	}
	resp, err := c.provider.Chat(ctx, messages, nil, model, map[string]interface{}{
		"tool_choice": providers.ToolChoiceNone,
		"temperature": 0.0,
	})
	if err != nil {
		return Classification{}, err
	}

	verdict, err := parseModelVerdict(resp.Content)
	if err != nil {
		return Classification{}, err
	}

	in := Intent(strings.ToLower(strings.TrimSpace(verdict.Intent)))
	if !knownIntent(in) {
		return Classification{}, fmt.Errorf("model returned unknown intent %q", verdict.Intent)
	}

	out := Classification{
		Intent:     in,
		Confidence: verdict.Confidence,
		Args:       map[string]interface{}{},
	}
	if len(verdict.MatchedTools) > 0 {
		if _, ok := c.registry.Get(verdict.MatchedTools[0]); ok {
			out.Tool = verdict.MatchedTools[0]
			out.Args = extractArgs(in, out.Tool, utterance)
		}
	}
	out.ShouldUseToolDirectly = DirectUse(in) && out.Tool != ""
	return out, nil
}

// parseModelVerdict rejects everything but a single strict JSON object
// with the agreed keys.
func parseModelVerdict(content string) (modelVerdict, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return modelVerdict{}, fmt.Errorf("classifier reply is not a JSON object")
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()
	var v modelVerdict
	if err := dec.Decode(&v); err != nil {
		return modelVerdict{}, fmt.Errorf("parse classifier reply: %w", err)
	}
	if v.Intent == "" || v.Confidence < 0 || v.Confidence > 1 {
		return modelVerdict{}, fmt.Errorf("classifier reply out of contract")
	}
	return v, nil
}

func knownIntent(in Intent) bool {
	switch in {
	case IntentGreeting, IntentLoadResume, IntentViewResume, IntentAnalyze,
		IntentOptimize, IntentOptimizeSection, IntentConfirm, IntentCancel,
		IntentAnswerQuestion, IntentUnknown:
		return true
	}
	return false
}
