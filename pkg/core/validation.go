package core

import "fmt"

// ValidationError is one structural problem in a config document.
type ValidationError struct {
	// Path locates the problem, e.g. "layers[0].style.fillColor.palette".
	Path       string `json:"path"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// String formats the error on a single line.
func (e ValidationError) String() string {
	s := e.Message
	if e.Path != "" {
		s = fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	if e.Suggestion != "" {
		s += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return s
}

// ValidationResult collects every error and warning found in a document.
// Validation never fails; problems are reported as data.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []string          `json:"warnings"`
}
