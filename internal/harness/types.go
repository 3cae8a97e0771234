package harness

import (
	"github.com/roach88/relq/internal/value"
)

// QueryOutcome is what one query step produced.
type QueryOutcome struct {
	Query   string      `json:"query"`
	Columns []string    `json:"columns"`
	Ordered bool        `json:"ordered"`
	Rows    []value.Row `json:"rows,omitempty"`

	// ErrorCode is the queryir error code, empty on success.
	ErrorCode string `json:"error_code,omitempty"`
	// Error is the full error message.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	Scenario string `json:"scenario"`
	Backend  string `json:"backend"`

	// Pass indicates overall test success.
	// True if every query matched its expectation.
	Pass bool `json:"pass"`

	Outcomes []QueryOutcome `json:"outcomes"`

	// Errors contains expectation failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(scenario, backend string) *Result {
	return &Result{
		Scenario: scenario,
		Backend:  backend,
		Pass:     true,
		Outcomes: []QueryOutcome{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
