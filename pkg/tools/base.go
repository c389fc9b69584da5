// Package tools defines the tool contract and the registry the agent
// loop dispatches through. Tools operate over the shared résumé
// document; their schemas are exported to the language model.
package tools

import (
	"context"
	"regexp"
)

// Tool is the interface all registry members implement. Name is unique
// lower_snake; Parameters is a JSON-schema object describing the
// arguments.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Meta carries the classifier-facing trigger metadata a tool may
// declare: keyword and pattern dictionaries, example queries, a
// priority weight, and the analysis markers whose presence in a
// follow-up assistant reply signals a completed analysis.
type Meta struct {
	Keywords []string
	Patterns []*regexp.Regexp
	Examples []string
	Priority float64
	Markers  []string
	// Analyzer marks tools whose results feed the answer-vs-thought
	// classification on the event stream.
	Analyzer bool
}

// MetaTool is the optional interface for tools that carry trigger
// metadata.
type MetaTool interface {
	Tool
	Meta() Meta
}

// ClosableTool is the optional interface for tools that hold runtime
// resources and require explicit teardown.
type ClosableTool interface {
	Tool
	Close() error
}
