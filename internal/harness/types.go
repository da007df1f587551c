package harness

import (
	"github.com/roach88/enrolsync/internal/engine"
	"github.com/roach88/enrolsync/internal/notify"
)

// Trace event types beyond the applier's actions.
const (
	EventFetch       = "fetch"
	EventFetchFailed = "fetch-failed"
	EventOrphan      = "orphan"
	EventWithheld    = "withheld"
	EventBlocked     = "blocked"
	EventGroups      = "group-members"
	EventError       = "error"
	EventNotify      = "notify"
)

// TraceEvent is one observable step of a run. Type is one of the Event*
// constants or an apply.Action.
type TraceEvent struct {
	Seq    int      `json:"seq"`
	Type   string   `json:"type"`
	Source string   `json:"source,omitempty"`
	Course string   `json:"course,omitempty"`
	User   string   `json:"user,omitempty"`
	RoleID int64    `json:"role_id,omitempty"`
	Detail string   `json:"detail,omitempty"`
	To     []string `json:"to,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace holds the run's steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Run is the engine's record of the run.
	Run *engine.Run `json:"-"`

	// Messages are the notifications the run sent.
	Messages []notify.Message `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends ev to the trace with the next sequence number.
func (r *Result) AddEvent(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
