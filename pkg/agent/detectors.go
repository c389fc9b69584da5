package agent

import (
	"strings"

	"github.com/cvpilot/cvpilot/pkg/memory"
)

const stuckThreshold = 3

// stuckDetector watches assistant output across loop steps and trips
// when the model repeats itself: three near-identical text replies, or
// three invocations of the same tool with the same arguments.
type stuckDetector struct {
	contents []string
	calls    []string // "name(arguments)" per step, first call of the step
}

func (d *stuckDetector) observe(msg memory.Message) {
	if msg.Role != memory.RoleAssistant {
		return
	}
	d.contents = append(d.contents, normalizeForComparison(msg.Content))
	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0]
		d.calls = append(d.calls, call.Name+"("+normalizeForComparison(call.Arguments)+")")
	} else {
		d.calls = append(d.calls, "")
	}
}

func (d *stuckDetector) stuck() bool {
	return lastNIdentical(d.calls, stuckThreshold) || lastNIdentical(d.contents, stuckThreshold)
}

func lastNIdentical(items []string, n int) bool {
	if len(items) < n {
		return false
	}
	tail := items[len(items)-n:]
	first := tail[0]
	if first == "" {
		return false
	}
	for _, item := range tail[1:] {
		if item != first {
			return false
		}
	}
	return true
}

func normalizeForComparison(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

var defaultAnalysisKeywords = []string{
	"analyze", "analysis", "review", "improve", "optimize", "optimization",
	"evaluate", "assess", "feedback",
}

// needsAnalysisBudget reports whether the utterance asks for analysis
// work and therefore gets the larger step budget.
func needsAnalysisBudget(utterance string, keywords []string) bool {
	if len(keywords) == 0 {
		keywords = defaultAnalysisKeywords
	}
	lowered := strings.ToLower(utterance)
	for _, kw := range keywords {
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
