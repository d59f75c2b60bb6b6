package harness

import "github.com/roach88/auditchain/internal/verify"

// StepResult records what one event step produced.
type StepResult struct {
	Step      int    `json:"step"`
	ChainID   string `json:"chain_id"`
	EventType string `json:"event_type"`

	// Committed steps carry their entry.
	Sequence  int64  `json:"sequence"`
	PrevHash  string `json:"prev_hash,omitempty"`
	EntryHash string `json:"entry_hash,omitempty"`

	// Error is the error code of a rejected step.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Steps has one record per event, in order.
	Steps []StepResult `json:"steps"`

	// Reports holds the deep verification report per chain, after tampering.
	Reports map[string]verify.Report `json:"reports"`

	// Errors contains failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Steps:   []StepResult{},
		Reports: make(map[string]verify.Report),
		Errors:  []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
