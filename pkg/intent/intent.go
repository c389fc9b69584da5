// Package intent maps a user utterance plus recent context to an
// intent, an optional tool, and a direct-use decision. The rule stage
// is deterministic; an optional model stage refines low-confidence
// utterances.
package intent

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/cvpilot/cvpilot/pkg/logger"
	"github.com/cvpilot/cvpilot/pkg/memory"
	"github.com/cvpilot/cvpilot/pkg/providers"
	"github.com/cvpilot/cvpilot/pkg/tools"
)

// Intent enumerates what the user is asking for.
type Intent string

const (
	IntentGreeting        Intent = "greeting"
	IntentLoadResume      Intent = "load_resume"
	IntentViewResume      Intent = "view_resume"
	IntentAnalyze         Intent = "analyze"
	IntentOptimize        Intent = "optimize"
	IntentOptimizeSection Intent = "optimize_section"
	IntentConfirm         Intent = "confirm"
	IntentCancel          Intent = "cancel"
	IntentAnswerQuestion  Intent = "answer_question"
	IntentUnknown         Intent = "unknown"
)

// directUse lists the intents the agent loop may satisfy by
// manufacturing the tool invocation itself, skipping the first model
// call. This set is a design contract, not a heuristic.
var directUse = map[Intent]struct{}{
	IntentLoadResume:      {},
	IntentViewResume:      {},
	IntentAnalyze:         {},
	IntentOptimize:        {},
	IntentOptimizeSection: {},
	IntentConfirm:         {},
}

// DirectUse reports whether in belongs to the short-circuit set.
func DirectUse(in Intent) bool {
	_, ok := directUse[in]
	return ok
}

// Classification is the classifier's verdict for one utterance.
type Classification struct {
	Intent                Intent
	Tool                  string
	Args                  map[string]interface{}
	Confidence            float64
	ShouldUseToolDirectly bool
}

// Classifier runs the two-stage pipeline over the registry's trigger
// metadata.
type Classifier struct {
	registry       *tools.Registry
	provider       providers.LLMProvider
	model          string
	ruleConfidence float64
	greetings      map[string]struct{}
	affirmations   map[string]struct{}
}

// Options tune the classifier. Zero values fall back to defaults.
type Options struct {
	// Provider enables the model stage when non-nil.
	Provider providers.LLMProvider
	Model    string
	// RuleConfidence is the rule-stage acceptance threshold
	// (default 0.70).
	RuleConfidence float64
	// GreetingPhrases overrides the built-in greeting set. Kept
	// externalized because the phrase list is language-specific.
	GreetingPhrases []string
}

var defaultGreetings = []string{
	"hi", "hello", "hey", "yo", "hiya", "howdy", "good morning",
	"good afternoon", "good evening", "hi there", "hello there",
}

var defaultAffirmations = []string{"y", "ya", "yes", "yep", "yup", "ok", "sí", "si", "go"}

func NewClassifier(registry *tools.Registry, opts Options) *Classifier {
	threshold := opts.RuleConfidence
	if threshold <= 0 {
		threshold = 0.70
	}
	phrases := opts.GreetingPhrases
	if len(phrases) == 0 {
		phrases = defaultGreetings
	}
	c := &Classifier{
		registry:       registry,
		provider:       opts.Provider,
		model:          opts.Model,
		ruleConfidence: threshold,
		greetings:      make(map[string]struct{}, len(phrases)),
		affirmations:   make(map[string]struct{}, len(defaultAffirmations)),
	}
	for _, p := range phrases {
		c.greetings[normalize(p)] = struct{}{}
	}
	for _, a := range defaultAffirmations {
		c.affirmations[normalize(a)] = struct{}{}
	}
	return c
}

// Classify maps the utterance to a verdict. recent is up to the last
// five messages in chronological order; lastAssistant is the most
// recent assistant text.
func (c *Classifier) Classify(ctx context.Context, utterance string, recent []memory.Message, lastAssistant string) Classification {
	normalized := normalize(utterance)

	if c.isGreeting(normalized) {
		return Classification{Intent: IntentGreeting, Confidence: 1.0}
	}

	if verdict, ok := c.confirmShortcut(normalized, recent, lastAssistant); ok {
		return verdict
	}

	matches := c.scoreTools(normalized)
	ruleVerdict := c.verdictFromMatches(utterance, matches)

	if ruleVerdict.Confidence >= c.ruleConfidence || c.provider == nil {
		return ruleVerdict
	}

	modelVerdict, err := c.classifyWithModel(ctx, utterance, matches)
	if err != nil {
		logger.WarnCF("intent", "Model classification failed, using rule result",
			map[string]interface{}{"error": err.Error()})
		return ruleVerdict
	}
	return modelVerdict
}

func (c *Classifier) isGreeting(normalized string) bool {
	if utf8.RuneCountInString(normalized) > 20 {
		return false
	}
	stripped := strings.TrimRight(normalized, "!.?,")
	_, ok := c.greetings[stripped]
	return ok
}

// confirmShortcut handles the "yes" turn after an analyzer proposed an
// optimization: a one-to-three-character affirmation routes straight to
// the editor with the top suggestion as arguments.
func (c *Classifier) confirmShortcut(normalized string, recent []memory.Message, lastAssistant string) (Classification, bool) {
	stripped := strings.TrimRight(normalized, "!.?,")
	if utf8.RuneCountInString(stripped) > 3 || stripped == "" {
		return Classification{}, false
	}
	if _, ok := c.affirmations[stripped]; !ok {
		return Classification{}, false
	}

	path, value, found := tools.ParseTopSuggestion(lastAssistant)
	if !found {
		for i := len(recent) - 1; i >= 0 && !found; i-- {
			path, value, found = tools.ParseTopSuggestion(recent[i].Content)
		}
	}
	if !found {
		return Classification{}, false
	}

	return Classification{
		Intent:     IntentConfirm,
		Tool:       "cv_editor_agent",
		Confidence: 1.0,
		Args: map[string]interface{}{
			"path":   path,
			"action": "update",
			"value":  value,
		},
		ShouldUseToolDirectly: true,
	}, true
}

func (c *Classifier) verdictFromMatches(utterance string, matches []match) Classification {
	if len(matches) == 0 || matches[0].score <= 0 {
		return Classification{Intent: IntentUnknown}
	}

	top := matches[0]
	in := intentForTool(top.name, utterance)
	verdict := Classification{
		Intent:     in,
		Tool:       top.name,
		Confidence: top.score,
		Args:       extractArgs(in, top.name, utterance),
	}
	verdict.ShouldUseToolDirectly = DirectUse(in) && verdict.Tool != ""
	return verdict
}

// intentForTool maps the winning tool back to an intent.
func intentForTool(tool, utterance string) Intent {
	switch tool {
	case "cv_reader_agent":
		return IntentLoadResume
	case "cv_viewer":
		return IntentViewResume
	case "cv_editor_agent":
		if section := sectionInUtterance(utterance); section != "" {
			return IntentOptimizeSection
		}
		return IntentOptimize
	}
	if strings.HasSuffix(tool, "_analyzer") {
		return IntentAnalyze
	}
	return IntentUnknown
}

var knownSections = []string{"education", "experience", "projects", "skills", "awards", "summary"}

func sectionInUtterance(utterance string) string {
	lowered := strings.ToLower(utterance)
	for _, s := range knownSections {
		if strings.Contains(lowered, s) {
			return s
		}
	}
	if strings.Contains(lowered, "project") {
		return "projects"
	}
	if strings.Contains(lowered, "work") || strings.Contains(lowered, "job") {
		return "experience"
	}
	return ""
}

func extractArgs(in Intent, tool, utterance string) map[string]interface{} {
	switch in {
	case IntentLoadResume:
		if path := filePathInUtterance(utterance); path != "" {
			return map[string]interface{}{"file_path": path}
		}
	case IntentViewResume:
		if section := sectionInUtterance(utterance); section != "" {
			return map[string]interface{}{"section": section}
		}
	case IntentOptimizeSection:
		if section := sectionInUtterance(utterance); section != "" {
			return map[string]interface{}{"path": section}
		}
	}
	return map[string]interface{}{}
}

func filePathInUtterance(utterance string) string {
	for _, field := range strings.Fields(utterance) {
		trimmed := strings.Trim(field, `"'`+"`")
		if strings.ContainsRune(trimmed, '/') || hasResumeExtension(trimmed) {
			return trimmed
		}
	}
	return ""
}

func hasResumeExtension(s string) bool {
	lowered := strings.ToLower(s)
	for _, ext := range []string{".md", ".markdown", ".txt"} {
		if strings.HasSuffix(lowered, ext) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
