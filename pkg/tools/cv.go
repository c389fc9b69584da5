package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cvpilot/cvpilot/pkg/document"
)

// ResumeParser turns a résumé file into the structured document. The
// parser itself lives outside the core; a Markdown default ships in
// this package.
type ResumeParser func(ctx context.Context, path string) (map[string]interface{}, error)

// Suggestion is one concrete optimization an analyzer proposes: a
// document path and the value to write there.
type Suggestion struct {
	Path      string `json:"path"`
	Value     string `json:"value"`
	Rationale string `json:"rationale"`
}

// Analysis is the structured outcome of a section analyzer.
type Analysis struct {
	Summary     string       `json:"summary"`
	Suggestions []Suggestion `json:"suggestions"`
}

// SectionAnalyzer inspects the document and proposes optimizations.
type SectionAnalyzer func(ctx context.Context, doc map[string]interface{}) (Analysis, error)

// Analysis marker strings. These also double as the default marker set
// for answer-vs-thought classification on the event stream.
const (
	markerSummary  = "Summary of analysis"
	markerProposal = "Recommended optimization"
	markerApply    = "Would you like me to apply this optimization?"
)

// DefaultMarkers is the marker set analyzers declare unless overridden.
var DefaultMarkers = []string{markerSummary, markerProposal, markerApply}

// FormatAnalysis renders an analysis as observation text. The proposal
// lines use a fixed "path = value" shape so a later confirm turn can
// recover the top suggestion without another model call.
func FormatAnalysis(a Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", markerSummary, a.Summary)
	for _, s := range a.Suggestions {
		fmt.Fprintf(&b, "%s: %s = %q", markerProposal, s.Path, s.Value)
		if s.Rationale != "" {
			fmt.Fprintf(&b, " (%s)", s.Rationale)
		}
		b.WriteString("\n")
	}
	if len(a.Suggestions) > 0 {
		b.WriteString(markerApply)
	}
	return strings.TrimRight(b.String(), "\n")
}

var suggestionLine = regexp.MustCompile(markerProposal + `: ([^\s=]+) = "((?:[^"\\]|\\.)*)"`)

// ParseTopSuggestion recovers the first proposed path/value pair from
// analyzer observation text.
func ParseTopSuggestion(text string) (path, value string, ok bool) {
	m := suggestionLine.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	var unquoted string
	if err := json.Unmarshal([]byte(`"`+m[2]+`"`), &unquoted); err != nil {
		unquoted = m[2]
	}
	return m[1], unquoted, true
}

// ReaderTool loads a résumé file into the shared document store.
type ReaderTool struct {
	store *document.Store
	parse ResumeParser
}

// NewReaderTool builds cv_reader_agent. A nil parser falls back to the
// built-in Markdown section parser.
func NewReaderTool(store *document.Store, parse ResumeParser) *ReaderTool {
	if parse == nil {
		parse = ParseMarkdownResume
	}
	return &ReaderTool{store: store, parse: parse}
}

func (t *ReaderTool) Name() string { return "cv_reader_agent" }

func (t *ReaderTool) Description() string {
	return "Load and parse a resume file into the working document. Use when the user provides a resume path."
}

func (t *ReaderTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the resume file (Markdown)",
			},
		},
		"required": []string{"file_path"},
	}
}

func (t *ReaderTool) Meta() Meta {
	return Meta{
		Keywords: []string{"load", "read", "open", "import", "resume", "cv", "file"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(load|read|open|import)\b.*\b(resume|cv)\b`),
			regexp.MustCompile(`(?i)\b(resume|cv)\b.*\bat\s+\S+`),
		},
		Examples: []string{"load my resume", "please read the cv at /tmp/r.md"},
		Priority: 1.0,
	}
}

func (t *ReaderTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["file_path"].(string)
	if strings.TrimSpace(path) == "" {
		return ErrorResult("file_path is required")
	}

	doc, err := t.parse(ctx, path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("parse resume %s: %v", path, err))
	}
	t.store.Replace(doc)

	sections := make([]string, 0, len(doc))
	for name := range doc {
		sections = append(sections, name)
	}
	return TextResult(fmt.Sprintf("Resume loaded from %s with %d sections: %s",
		path, len(sections), strings.Join(sortedCopy(sections), ", ")))
}

// ViewerTool renders the current document for the user.
type ViewerTool struct {
	store *document.Store
}

func NewViewerTool(store *document.Store) *ViewerTool {
	return &ViewerTool{store: store}
}

func (t *ViewerTool) Name() string { return "cv_viewer" }

func (t *ViewerTool) Description() string {
	return "Show the current resume document. Use when the user asks to see or review the loaded resume."
}

func (t *ViewerTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"section": map[string]interface{}{
				"type":        "string",
				"description": "Optional: a single section to show (e.g. education)",
			},
		},
	}
}

func (t *ViewerTool) Meta() Meta {
	return Meta{
		Keywords: []string{"show", "view", "display", "see", "resume", "cv"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(show|view|display)\b.*\b(resume|cv|section)\b`),
		},
		Examples: []string{"show my resume", "view the education section"},
		Priority: 0.9,
	}
}

func (t *ViewerTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.store.IsEmpty() {
		return ErrorResult("no resume is loaded; load one first")
	}

	var value interface{} = t.store.Snapshot()
	if section, _ := args["section"].(string); strings.TrimSpace(section) != "" {
		v, err := t.store.GetPath(section)
		if err != nil {
			return ErrorResult(fmt.Sprintf("section %q not found", section))
		}
		value = v
	}

	rendered, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return ErrorResult(fmt.Sprintf("render document: %v", err))
	}
	return TextResult(string(rendered))
}

// AnalyzerTool wraps a SectionAnalyzer as a registry member.
type AnalyzerTool struct {
	name        string
	description string
	meta        Meta
	store       *document.Store
	analyze     SectionAnalyzer
}

// NewAnalyzerTool builds a named analyzer over the shared store. The
// marker set defaults to DefaultMarkers when none is given.
func NewAnalyzerTool(name, description string, meta Meta, store *document.Store, analyze SectionAnalyzer) *AnalyzerTool {
	if len(meta.Markers) == 0 {
		meta.Markers = DefaultMarkers
	}
	meta.Analyzer = true
	return &AnalyzerTool{
		name:        name,
		description: description,
		meta:        meta,
		store:       store,
		analyze:     analyze,
	}
}

func (t *AnalyzerTool) Name() string        { return t.name }
func (t *AnalyzerTool) Description() string { return t.description }
func (t *AnalyzerTool) Meta() Meta          { return t.meta }

func (t *AnalyzerTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"focus": map[string]interface{}{
				"type":        "string",
				"description": "Optional: a specific aspect to focus on",
			},
		},
	}
}

func (t *AnalyzerTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.store.IsEmpty() {
		return ErrorResult("no resume is loaded; load one first")
	}
	analysis, err := t.analyze(ctx, t.store.Snapshot())
	if err != nil {
		return ErrorResult(err.Error())
	}
	return TextResult(FormatAnalysis(analysis))
}

// EditorTool applies a single path mutation to the document.
type EditorTool struct {
	store *document.Store
}

func NewEditorTool(store *document.Store) *EditorTool {
	return &EditorTool{store: store}
}

func (t *EditorTool) Name() string { return "cv_editor_agent" }

func (t *EditorTool) Description() string {
	return "Apply an optimization to the resume: update or delete a value at a document path."
}

func (t *EditorTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Document path, e.g. education[0].gpa",
			},
			"action": map[string]interface{}{
				"type": "string",
				"enum": []string{"update", "delete"},
			},
			"value": map[string]interface{}{
				"type":        "string",
				"description": "New value; required for update",
			},
		},
		"required": []string{"path", "action"},
	}
}

func (t *EditorTool) Meta() Meta {
	return Meta{
		Keywords: []string{"apply", "update", "edit", "change", "fix", "set"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bapply\b.*\b(optimization|suggestion|change)\b`),
		},
		Examples: []string{"apply the first optimization", "update my gpa to 3.9"},
		Priority: 0.95,
	}
}

func (t *EditorTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	action, _ := args["action"].(string)
	if strings.TrimSpace(path) == "" {
		return ErrorResult("path is required")
	}

	switch action {
	case "update":
		value, ok := args["value"]
		if !ok {
			return ErrorResult("value is required for update")
		}
		if err := t.store.SetPath(path, value); err != nil {
			return ErrorResult(err.Error())
		}
		return TextResult(fmt.Sprintf("Optimization applied: %s set to %v", path, value))
	case "delete":
		old, err := t.store.DeletePath(path)
		if err != nil {
			return ErrorResult(err.Error())
		}
		return TextResult(fmt.Sprintf("Optimization applied: %s removed (was %v)", path, old))
	default:
		return ErrorResult(fmt.Sprintf("unknown action %q (use update or delete)", action))
	}
}

// TerminateTool ends the agent run. Executing it moves the loop to its
// finished state.
type TerminateTool struct{}

func NewTerminateTool() *TerminateTool { return &TerminateTool{} }

func (t *TerminateTool) Name() string { return "terminate" }

func (t *TerminateTool) Description() string {
	return "Finish the current interaction. Call when the request is fully handled."
}

func (t *TerminateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"status": map[string]interface{}{
				"type": "string",
				"enum": []string{"success", "failure"},
			},
		},
		"required": []string{"status"},
	}
}

func (t *TerminateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	status, _ := args["status"].(string)
	if status == "" {
		status = "success"
	}
	return TextResult("Interaction finished with status: " + status)
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
