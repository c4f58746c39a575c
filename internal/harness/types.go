package harness

// Trace event types.
const (
	EventInvocation = "invocation"
	EventCompletion = "completion"
)

// CaseSuccess is the completion case of a step that returned no error.
const CaseSuccess = "Success"

// TraceEvent is one invocation or completion in a scenario trace.
type TraceEvent struct {
	Type   string         `json:"type"`
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
	Case   string         `json:"case,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Seq    int64          `json:"seq"`
}

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addInvocation(action string, args map[string]any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{Type: EventInvocation, Action: action, Args: args, Seq: seq})
}

func (r *Result) addCompletion(action, outcome string, result map[string]any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{Type: EventCompletion, Action: action, Case: outcome, Result: result, Seq: seq})
}
