package tools

// Result is the outcome of one tool execution. Exactly one of Output or
// ErrText is meaningful; Image optionally carries binary payload for
// tools that render previews.
type Result struct {
	Output  string
	ErrText string
	Image   []byte
	IsError bool
}

// TextResult builds a successful result with output for the model.
func TextResult(output string) *Result {
	return &Result{Output: output}
}

// ErrorResult builds a failed result. The text is what the model sees.
func ErrorResult(msg string) *Result {
	return &Result{ErrText: msg, IsError: true}
}

// Observation is the text appended to memory as the tool message. Errors
// are encoded rather than raised so the next model call can recover.
func (r *Result) Observation() string {
	if r == nil {
		return "Error: tool returned no result"
	}
	if r.IsError {
		return "Error: " + r.ErrText
	}
	return r.Output
}
