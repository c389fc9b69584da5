package intent

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cvpilot/cvpilot/pkg/tools"
)

// Rule-stage scoring weights. A tool's score is the weighted sum of
// keyword hits, pattern hits and descriptor overlap, multiplied by the
// tool's declared priority.
const (
	weightShortKeyword  = 0.15
	weightLongKeyword   = 0.20
	keywordScoreCap     = 0.45
	weightPattern       = 0.35
	descriptorScoreCap  = 0.20
	perDescriptorWeight = 0.05
	longKeywordRunes    = 6
	topMatches          = 3
)

type match struct {
	name  string
	score float64
}

// scoreTools evaluates every registered tool's trigger metadata against
// the normalized utterance and returns the top matches, best first.
// Iteration order is fixed so repeated calls give identical verdicts.
func (c *Classifier) scoreTools(normalized string) []match {
	words := wordSet(normalized)

	var matches []match
	for _, tool := range c.registry.List() {
		meta, ok := c.registry.Meta(tool.Name())
		if !ok {
			continue
		}
		score := scoreMeta(normalized, words, meta, tool.Description())
		if score > 0 {
			matches = append(matches, match{name: tool.Name(), score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].name < matches[j].name
	})
	if len(matches) > topMatches {
		matches = matches[:topMatches]
	}
	return matches
}

func scoreMeta(normalized string, words map[string]struct{}, meta tools.Meta, description string) float64 {
	var score float64

	var keywordScore float64
	for _, kw := range meta.Keywords {
		kw = strings.ToLower(kw)
		if _, hit := words[kw]; !hit && !strings.Contains(normalized, kw) {
			continue
		}
		if utf8.RuneCountInString(kw) >= longKeywordRunes {
			keywordScore += weightLongKeyword
		} else {
			keywordScore += weightShortKeyword
		}
	}
	if keywordScore > keywordScoreCap {
		keywordScore = keywordScoreCap
	}
	score += keywordScore

	for _, pattern := range meta.Patterns {
		if pattern.MatchString(normalized) {
			score += weightPattern
			break
		}
	}

	score += descriptorOverlap(words, meta.Examples, description)

	if meta.Priority > 0 {
		score *= meta.Priority
	}
	return score
}

// descriptorOverlap rewards utterance words that also appear in the
// tool's description or example queries. Overlap on stop words carries
// no signal and is skipped.
func descriptorOverlap(words map[string]struct{}, examples []string, description string) float64 {
	descriptor := wordSet(strings.ToLower(description + " " + strings.Join(examples, " ")))

	var overlap float64
	for w := range words {
		if isStopWord(w) {
			continue
		}
		if _, ok := descriptor[w]; ok {
			overlap += perDescriptorWeight
		}
	}
	if overlap > descriptorScoreCap {
		overlap = descriptorScoreCap
	}
	return overlap
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "at": {}, "can": {}, "do": {},
	"for": {}, "i": {}, "in": {}, "is": {}, "it": {}, "me": {},
	"my": {}, "of": {}, "on": {}, "or": {}, "please": {}, "the": {},
	"to": {}, "you": {}, "your": {},
}

func isStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

func wordSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		set[w] = struct{}{}
	}
	return set
}
