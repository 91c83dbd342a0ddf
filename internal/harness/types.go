package harness

// Trace event types.
const (
	EventOpen  = "open"
	EventRow   = "row"
	EventDone  = "done"
	EventError = "error"
)

// TraceEvent is one observation made while running a scenario: a step
// opened on a backend, a row it produced, its completion or its failure.
type TraceEvent struct {
	Seq     int64             `json:"seq"`
	Type    string            `json:"type"`
	Backend string            `json:"backend"`
	Step    int               `json:"step"`
	Params  map[string]string `json:"params,omitempty"`
	Row     string            `json:"row,omitempty"`
	Count   int               `json:"count,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds the events of every backend in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds the failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult returns a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Rows returns the rows backend produced for step, in order.
func (r *Result) Rows(backend string, step int) []string {
	var rows []string
	for _, e := range r.Trace {
		if e.Type == EventRow && e.Backend == backend && e.Step == step {
			rows = append(rows, e.Row)
		}
	}
	return rows
}

// StepError returns the error backend reported for step, if any.
func (r *Result) StepError(backend string, step int) (string, bool) {
	for _, e := range r.Trace {
		if e.Type == EventError && e.Backend == backend && e.Step == step {
			return e.Error, true
		}
	}
	return "", false
}

// sequence numbers trace events from 1.
type sequence struct{ n int64 }

func (s *sequence) next() int64 {
	s.n++
	return s.n
}
