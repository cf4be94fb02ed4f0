package cascade

import (
	"fmt"
	"sort"
	"strings"
)

// Failure reasons recorded on zero-confidence engine results.
const (
	ReasonUnavailable      = "engine unavailable"
	ReasonInvocationFailed = "invocation failed"
	ReasonTimeout          = "request deadline exceeded"
)

// NoUsableResultError is the terminal failure for a single request:
// every configured engine failed or produced nothing usable. It carries
// the per-engine reasons so callers can report what was attempted.
type NoUsableResultError struct {
	// Reasons maps engine id to the recorded failure description.
	Reasons map[string]string
}

func (e *NoUsableResultError) Error() string {
	if len(e.Reasons) == 0 {
		return "no usable result: no engines were tried"
	}

	parts := make([]string, 0, len(e.Reasons))
	for id, reason := range e.Reasons {
		parts = append(parts, fmt.Sprintf("%s: %s", id, reason))
	}
	sort.Strings(parts)
	return "no usable result from any engine: " + strings.Join(parts, "; ")
}
