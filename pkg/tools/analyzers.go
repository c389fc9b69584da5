package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cvpilot/cvpilot/pkg/document"
)

// Built-in heuristic analyzers. They work purely from the document, so
// a deployment without a dedicated analysis backend still gets useful
// proposals; callers can inject richer SectionAnalyzers instead.

// AnalyzeEducation flags missing GPA and date fields on education
// entries.
func AnalyzeEducation(ctx context.Context, doc map[string]interface{}) (Analysis, error) {
	entries, ok := doc["education"].([]interface{})
	if !ok || len(entries) == 0 {
		return Analysis{Summary: "No education section found in the resume."}, nil
	}

	var suggestions []Suggestion
	for i, e := range entries {
		entry, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		if missingField(entry, "gpa") {
			suggestions = append(suggestions, Suggestion{
				Path:      fmt.Sprintf("education[%d].gpa", i),
				Value:     "3.9",
				Rationale: "a strong GPA makes the entry more competitive",
			})
		}
		if missingField(entry, "dates") && missingField(entry, "graduation") {
			suggestions = append(suggestions, Suggestion{
				Path:      fmt.Sprintf("education[%d].dates", i),
				Value:     "2020 - 2024",
				Rationale: "recruiters expect attendance dates",
			})
		}
	}

	summary := fmt.Sprintf("Reviewed %d education entries; %d fields could be improved.",
		len(entries), len(suggestions))
	return Analysis{Summary: summary, Suggestions: suggestions}, nil
}

var weakVerbs = regexp.MustCompile(`(?i)^\s*(-\s*)?(worked on|helped|was responsible for|did)\b`)
var hasNumber = regexp.MustCompile(`\d`)

// AnalyzeExperience looks for weak leading verbs and unquantified
// bullet points.
func AnalyzeExperience(ctx context.Context, doc map[string]interface{}) (Analysis, error) {
	entries, ok := doc["experience"].([]interface{})
	if !ok || len(entries) == 0 {
		return Analysis{Summary: "No experience section found in the resume."}, nil
	}

	var suggestions []Suggestion
	for i, e := range entries {
		entry, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		bullets, _ := entry["highlights"].([]interface{})
		for j, b := range bullets {
			text, _ := b.(string)
			if text == "" {
				continue
			}
			path := fmt.Sprintf("experience[%d].highlights[%d]", i, j)
			if weakVerbs.MatchString(text) {
				suggestions = append(suggestions, Suggestion{
					Path:      path,
					Value:     "Led " + strings.TrimSpace(weakVerbs.ReplaceAllString(text, "")),
					Rationale: "start bullets with a strong action verb",
				})
			} else if !hasNumber.MatchString(text) {
				suggestions = append(suggestions, Suggestion{
					Path:      path,
					Value:     text + " (quantify the impact, e.g. users served or % improvement)",
					Rationale: "quantified results read stronger",
				})
			}
		}
	}

	summary := fmt.Sprintf("Reviewed %d experience entries; %d bullet points could be stronger.",
		len(entries), len(suggestions))
	return Analysis{Summary: summary, Suggestions: suggestions}, nil
}

// AnalyzeProjects flags projects with missing or very short
// descriptions.
func AnalyzeProjects(ctx context.Context, doc map[string]interface{}) (Analysis, error) {
	entries, ok := doc["projects"].([]interface{})
	if !ok || len(entries) == 0 {
		return Analysis{Summary: "No projects section found in the resume."}, nil
	}

	var suggestions []Suggestion
	for i, e := range entries {
		entry, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		desc, _ := entry["description"].(string)
		if len(strings.Fields(desc)) < 8 {
			name, _ := entry["name"].(string)
			suggestions = append(suggestions, Suggestion{
				Path:      fmt.Sprintf("projects[%d].description", i),
				Value:     strings.TrimSpace(desc + " Describe the problem, your approach, and the measurable outcome."),
				Rationale: fmt.Sprintf("the %s description is too thin to convey impact", orUnnamed(name)),
			})
		}
	}

	summary := fmt.Sprintf("Reviewed %d projects; %d descriptions could be expanded.",
		len(entries), len(suggestions))
	return Analysis{Summary: summary, Suggestions: suggestions}, nil
}

func missingField(entry map[string]interface{}, key string) bool {
	v, ok := entry[key]
	if !ok {
		return true
	}
	s, isStr := v.(string)
	return isStr && strings.TrimSpace(s) == ""
}

func orUnnamed(name string) string {
	if name == "" {
		return "project"
	}
	return name
}

// RegisterDefaults wires the full résumé tool set into a registry:
// reader, viewer, the three section analyzers, the editor, and the
// terminal terminate tool.
func RegisterDefaults(reg *Registry, store *document.Store, parse ResumeParser) error {
	analyzerMeta := func(section string, extra ...string) Meta {
		kws := append([]string{"analyze", "review", "improve", "check", section}, extra...)
		return Meta{
			Keywords: kws,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(analyze|review|improve|optimize)\b.*\b` + section),
			},
			Examples: []string{"analyze my " + section, "how can I improve the " + section + " section"},
			Priority: 1.0,
		}
	}

	toRegister := []Tool{
		NewReaderTool(store, parse),
		NewViewerTool(store),
		NewAnalyzerTool("education_analyzer",
			"Analyze the education section and propose optimizations.",
			analyzerMeta("education", "school", "degree", "gpa"), store, AnalyzeEducation),
		NewAnalyzerTool("experience_analyzer",
			"Analyze the work experience section and propose optimizations.",
			analyzerMeta("experience", "work", "job", "career"), store, AnalyzeExperience),
		NewAnalyzerTool("project_analyzer",
			"Analyze the projects section and propose optimizations.",
			analyzerMeta("project", "projects", "portfolio"), store, AnalyzeProjects),
		NewEditorTool(store),
		NewTerminateTool(),
	}
	for _, t := range toRegister {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	reg.MarkTerminal("terminate")
	return nil
}
